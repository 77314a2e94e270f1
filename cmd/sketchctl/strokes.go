package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"bedtime-sketch/canvas"
	"bedtime-sketch/core"
)

// readStrokes decodes a JSON array of strokes, each an array of {x, y} points.
// "-" reads from stdin.
func readStrokes(path string, stdin io.Reader) ([][]core.Point, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open strokes: %w", err)
		}
		defer f.Close()
		r = f
	}

	var strokes [][]core.Point
	if err := json.NewDecoder(r).Decode(&strokes); err != nil {
		return nil, core.WrapError(core.KindUserInput, err, "invalid strokes file")
	}
	return strokes, nil
}

// replay draws strokes onto a fresh surface the way pointer events would.
func replay(strokes [][]core.Point) *canvas.Surface {
	s := canvas.NewSurface()
	for _, stroke := range strokes {
		if len(stroke) == 0 {
			continue
		}
		s.BeginStroke(stroke[0])
		for _, p := range stroke[1:] {
			_ = s.ExtendStroke(p)
		}
		s.EndStroke()
	}
	return s
}
