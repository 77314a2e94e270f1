package canvas

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"bedtime-sketch/core"
)

func drawDiagonal(t *testing.T, s *Surface) {
	t.Helper()
	s.BeginStroke(core.Point{X: 100, Y: 100})
	if err := s.ExtendStroke(core.Point{X: 150, Y: 150}); err != nil {
		t.Fatalf("ExtendStroke() failed: %v", err)
	}
	if err := s.ExtendStroke(core.Point{X: 200, Y: 200}); err != nil {
		t.Fatalf("ExtendStroke() failed: %v", err)
	}
	s.EndStroke()
}

func TestNewSurface_IsEmpty(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	if NewDetector(s).HasDrawing() {
		t.Error("HasDrawing() = true for an untouched surface")
	}
	if s.Drawing() {
		t.Error("Drawing() = true before any stroke")
	}
}

func TestStroke_MarksCanvasDirty(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	drawDiagonal(t, s)

	if !NewDetector(s).HasDrawing() {
		t.Error("HasDrawing() = false after drawing a stroke")
	}
}

func TestExtendStroke_WithoutBegin(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	if err := s.ExtendStroke(core.Point{X: 10, Y: 10}); err != nil {
		t.Fatalf("ExtendStroke() failed: %v", err)
	}
	if err := s.ExtendStroke(core.Point{X: 300, Y: 300}); err != nil {
		t.Fatalf("ExtendStroke() failed: %v", err)
	}

	if NewDetector(s).HasDrawing() {
		t.Error("ExtendStroke without an active stroke must not draw")
	}
}

func TestLeave_EndsStroke(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	s.BeginStroke(core.Point{X: 10, Y: 10})
	s.Leave()
	if s.Drawing() {
		t.Fatal("Drawing() = true after pointer left the surface")
	}

	// Re-entering without a pointer-down does not resume the stroke.
	if err := s.ExtendStroke(core.Point{X: 250, Y: 250}); err != nil {
		t.Fatalf("ExtendStroke() failed: %v", err)
	}
	if NewDetector(s).HasDrawing() {
		t.Error("stroke resumed after pointer leave")
	}
}

func TestClear_ResetsBuffer(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	drawDiagonal(t, s)
	s.Clear()

	if NewDetector(s).HasDrawing() {
		t.Error("HasDrawing() = true after Clear()")
	}
}

func TestNonFinitePointsIgnored(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	var zero float64
	nan := zero / zero
	s.BeginStroke(core.Point{X: nan, Y: 10})
	if s.Drawing() {
		t.Error("BeginStroke accepted a NaN coordinate")
	}
}

func TestExportForSubmission_UntouchedCanvasIsOpaque(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	payload, err := NewExporter(s).ExportForSubmission()
	if err != nil {
		t.Fatalf("ExportForSubmission() failed: %v", err)
	}
	if strings.HasPrefix(payload, "data:") {
		t.Fatalf("submission payload still carries the scheme prefix: %.30s", payload)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("payload is not a PNG: %v", err)
	}

	b := img.Bounds()
	if b.Dx() != core.CanvasWidth || b.Dy() != core.CanvasHeight {
		t.Fatalf("size mismatch: got %dx%d, want %dx%d", b.Dx(), b.Dy(), core.CanvasWidth, core.CanvasHeight)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a != 0xffff {
				t.Fatalf("pixel (%d,%d) is not opaque: alpha %d", x, y, a)
			}
			if r != 0xffff || g != 0xffff || bl != 0xffff {
				t.Fatalf("pixel (%d,%d) is not white on an empty canvas", x, y)
			}
		}
	}
}

func TestExport_StrokeIsDarkAndOpaque(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	drawDiagonal(t, s)

	data, err := NewExporter(s).ExportPNG()
	if err != nil {
		t.Fatalf("ExportPNG() failed: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}

	dark := false
	for y := 145; y <= 155; y++ {
		for x := 145; x <= 155; x++ {
			r, _, _, a := img.At(x, y).RGBA()
			if a != 0xffff {
				t.Fatalf("pixel (%d,%d) is not opaque", x, y)
			}
			if r < 0x8000 {
				dark = true
			}
		}
	}
	if !dark {
		t.Error("expected dark stroke pixels around (150,150)")
	}
}

func TestExport_DisplayAndSubmissionShareBytes(t *testing.T) {
	s := NewSurface()
	defer s.Close()
	drawDiagonal(t, s)

	e := NewExporter(s)
	uri, err := e.ExportForDisplay()
	if err != nil {
		t.Fatalf("ExportForDisplay() failed: %v", err)
	}
	payload, err := e.ExportForSubmission()
	if err != nil {
		t.Fatalf("ExportForSubmission() failed: %v", err)
	}

	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("display export lacks the data URI prefix: %.30s", uri)
	}
	if uri != "data:image/png;base64,"+payload {
		t.Error("display and submission exports differ beyond the prefix")
	}
}

func TestExport_ClosedSurface(t *testing.T) {
	s := NewSurface()
	s.Close()

	payload, err := NewExporter(s).ExportForSubmission()
	if err == nil {
		t.Fatal("expected an export error on a closed surface")
	}
	if payload != "" {
		t.Errorf("expected empty payload, got %d bytes", len(payload))
	}
	if !errors.Is(err, core.ErrExport) {
		t.Errorf("error kind mismatch: got %v, want EXPORT", core.KindOf(err))
	}
}

type flipChecker struct {
	dirty atomic.Bool
}

func (f *flipChecker) HasDrawing() bool { return f.dirty.Load() }

func TestPoller_ReportsChanges(t *testing.T) {
	checker := &flipChecker{}
	changes := make(chan bool, 4)
	p := NewPoller(checker, 5*time.Millisecond, func(dirty bool) { changes <- dirty })

	p.Start(context.Background())
	defer p.Stop()

	checker.dirty.Store(true)
	select {
	case got := <-changes:
		if !got {
			t.Fatalf("first change: got %v, want true", got)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not report the dirty canvas")
	}
	if !p.Dirty() {
		t.Error("Dirty() = false after reporting a change")
	}

	checker.dirty.Store(false)
	select {
	case got := <-changes:
		if got {
			t.Fatalf("second change: got %v, want false", got)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not report the cleared canvas")
	}
}

func TestPoller_StopHaltsPolling(t *testing.T) {
	checker := &flipChecker{}
	var calls atomic.Int32
	p := NewPoller(checker, 2*time.Millisecond, func(bool) { calls.Add(1) })

	p.Start(context.Background())
	p.Stop()

	checker.dirty.Store(true)
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("poller kept running after Stop: %d callbacks", calls.Load())
	}

	// Stop is idempotent.
	p.Stop()
}

func TestPoller_WithSurface(t *testing.T) {
	s := NewSurface()
	defer s.Close()

	p := NewPoller(NewDetector(s), time.Millisecond, nil)
	if p.Poll() {
		t.Fatal("Poll() = true on an empty surface")
	}

	drawDiagonal(t, s)
	if !p.Poll() || !p.Dirty() {
		t.Error("Poll() did not pick up the stroke")
	}

	s.Clear()
	if p.Poll() || p.Dirty() {
		t.Error("Poll() did not pick up the clear")
	}
}

func TestEncodeFlattened_PremultipliedOverWhite(t *testing.T) {
	// One half-transparent red pixel, premultiplied: (128, 0, 0, 128).
	pix := make([]uint8, 4*2*1)
	copy(pix, []uint8{128, 0, 0, 128})

	var buf bytes.Buffer
	if err := encodeFlattened(&buf, pix, 2, 1); err != nil {
		t.Fatalf("encodeFlattened() failed: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}

	r, g, b, a := img.At(0, 0).RGBA()
	if a != 0xffff {
		t.Fatalf("alpha mismatch: got %#x, want opaque", a)
	}
	if r>>8 < 254 || g>>8 < 126 || g>>8 > 128 || b>>8 < 126 || b>>8 > 128 {
		t.Errorf("composited pixel mismatch: got (%d,%d,%d), want about (255,127,127)", r>>8, g>>8, b>>8)
	}

	r, g, b, _ = img.At(1, 0).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Errorf("transparent pixel not flattened to white: got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}
