package main

import (
	"fmt"
	"os"

	"bedtime-sketch/canvas"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type exportOpts struct {
	strokes string
	output  string
}

func newExportCmd() *cobra.Command {
	opts := exportOpts{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render strokes to a white-backed PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.strokes, "strokes", "s", "-", "strokes JSON file (- for stdin)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "drawing.png", "output PNG path")
	return cmd
}

func runExport(cmd *cobra.Command, opts exportOpts) error {
	strokes, err := readStrokes(opts.strokes, cmd.InOrStdin())
	if err != nil {
		return err
	}

	surface := replay(strokes)
	defer surface.Close()

	data, err := canvas.NewExporter(surface).ExportPNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.output, err)
	}

	logrus.WithFields(logrus.Fields{
		"strokes": len(strokes),
		"output":  opts.output,
		"bytes":   len(data),
	}).Info("Exported drawing")
	return nil
}
