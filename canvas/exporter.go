package canvas

import (
	"bytes"
	"encoding/base64"
	"image"
	"io"
	"strings"

	"bedtime-sketch/core"

	"github.com/gogpu/gg"
	"golang.org/x/image/draw"
)

const (
	// DownloadFilename is the name a display export is saved under.
	DownloadFilename = "drawing.png"

	dataURIPrefix = "data:image/png;base64,"
)

// Exporter flattens a surface onto an opaque white background and encodes it as PNG.
// Nothing is cached; every call reads the current buffer.
type Exporter struct {
	surface *Surface
}

// NewExporter creates an exporter reading s.
func NewExporter(s *Surface) *Exporter {
	return &Exporter{surface: s}
}

// ExportForDisplay returns the flattened image as a data URI.
// On failure it returns "" and a KindExport error.
func (e *Exporter) ExportForDisplay() (string, error) {
	data, err := e.ExportPNG()
	if err != nil {
		return "", err
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// ExportForSubmission returns the same encoding as ExportForDisplay without the
// data URI scheme, ready to embed in a JSON body.
func (e *Exporter) ExportForSubmission() (string, error) {
	uri, err := e.ExportForDisplay()
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(uri, dataURIPrefix), nil
}

// ExportPNG returns the flattened PNG bytes. Faults inside flattening or encoding,
// panics included, come back as KindExport errors.
func (e *Exporter) ExportPNG() (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = core.NewError(core.KindExport, "export panicked: %v", r)
		}
	}()

	var buf bytes.Buffer
	var encodeErr error
	if err := e.surface.view(func(pix []uint8, width, height int) {
		encodeErr = encodeFlattened(&buf, pix, width, height)
	}); err != nil {
		return nil, core.WrapError(core.KindExport, err, "canvas context unavailable")
	}
	if encodeErr != nil {
		return nil, core.WrapError(core.KindExport, encodeErr, "failed to encode png")
	}
	return buf.Bytes(), nil
}

// encodeFlattened composites the premultiplied buffer over an opaque white
// context and writes that context as PNG.
func encodeFlattened(w io.Writer, pix []uint8, width, height int) error {
	bounds := image.Rect(0, 0, width, height)
	src := &image.RGBA{Pix: pix, Stride: 4 * width, Rect: bounds}

	pm := gg.NewPixmap(width, height)
	dc := gg.NewContext(width, height, gg.WithPixmap(pm))
	defer dc.Close()

	dc.ClearWithColor(gg.White)
	dst := &image.RGBA{Pix: pm.Data(), Stride: 4 * width, Rect: bounds}
	draw.Draw(dst, bounds, src, image.Point{}, draw.Over)

	return dc.EncodePNG(w)
}
