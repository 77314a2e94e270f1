// Package canvas holds the sketch surface and the two read-only views over its
// pixel buffer: the dirty-state detector and the image exporter.
package canvas

import (
	"errors"
	"image/color"
	"math"
	"sync"

	"bedtime-sketch/core"

	"github.com/gogpu/gg"
	"github.com/sirupsen/logrus"
)

const strokeWidth = 2

// ErrClosed is returned by reads on a surface that has been closed.
var ErrClosed = errors.New("canvas surface is closed")

// Surface records pointer strokes and rasterizes them into a fixed-size RGBA buffer.
// Only the surface mutates the buffer; readers go through view.
type Surface struct {
	mu     sync.Mutex
	dc     *gg.Context
	pixmap *gg.Pixmap

	drawing bool
	last    core.Point
	closed  bool
}

// NewSurface creates a transparent 500x500 surface with a 2px round-capped black pen.
func NewSurface() *Surface {
	pm := gg.NewPixmap(core.CanvasWidth, core.CanvasHeight)
	dc := gg.NewContext(core.CanvasWidth, core.CanvasHeight, gg.WithPixmap(pm))
	dc.SetLineWidth(strokeWidth)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.SetColor(color.Black)

	return &Surface{dc: dc, pixmap: pm}
}

// BeginStroke starts a stroke at p. A stroke already in progress is ended first.
func (s *Surface) BeginStroke(p core.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !finite(p) {
		return
	}
	s.drawing = true
	s.last = p
}

// ExtendStroke draws a segment from the previous point to p.
// It is a no-op when no stroke is active.
func (s *Surface) ExtendStroke(p core.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.drawing || !finite(p) {
		return nil
	}

	s.dc.MoveTo(s.last.X, s.last.Y)
	s.dc.LineTo(p.X, p.Y)
	err := s.dc.Stroke()
	s.last = p
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"x": p.X,
			"y": p.Y,
		}).Warn("Failed to rasterize stroke segment")
		return err
	}
	return nil
}

// EndStroke finishes the active stroke, if any.
func (s *Surface) EndStroke() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drawing = false
}

// Leave handles the pointer leaving the surface. It ends the stroke; re-entering
// does not resume it.
func (s *Surface) Leave() {
	s.EndStroke()
}

// Drawing reports whether a stroke is in progress.
func (s *Surface) Drawing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.drawing
}

// Clear resets the buffer to fully transparent.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.dc.Clear()
}

// Close releases the drawing context. Further mutations are ignored.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.drawing = false
	return s.dc.Close()
}

// view calls fn with the raw premultiplied RGBA buffer while holding the lock,
// so readers never observe a half-drawn segment. fn must not retain pix.
func (s *Surface) view(fn func(pix []uint8, width, height int)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	fn(s.pixmap.Data(), s.pixmap.Width(), s.pixmap.Height())
	return nil
}

func finite(p core.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}
