package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"bedtime-sketch/canvas"
	"bedtime-sketch/config"
	"bedtime-sketch/core"
	"bedtime-sketch/inference"
	"bedtime-sketch/submission"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type submitOpts struct {
	strokes        string
	output         string
	url            string
	theme          string
	classification bool
}

func newSubmitCmd() *cobra.Command {
	opts := submitOpts{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send strokes to the inference endpoint and save the story audio",
		Long: `Replays the strokes, exports them exactly like the browser canvas does and posts
the image to the inference endpoint. The endpoint and API key default to
INFERENCE_URL and INFERENCE_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.strokes, "strokes", "s", "-", "strokes JSON file (- for stdin)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "story.wav", "where to write the story audio")
	cmd.Flags().StringVar(&opts.url, "url", "", "inference endpoint (overrides INFERENCE_URL)")
	cmd.Flags().StringVar(&opts.theme, "theme", string(core.ThemeMocha), "theme reported with the story: mocha or latte")
	cmd.Flags().BoolVar(&opts.classification, "accept-classification", false, "accept a label response from older servers")
	return cmd
}

// storyWriter collects what the orchestrator hands to its sinks.
type storyWriter struct {
	mu      sync.Mutex
	path    string
	written int
	err     error
	notes   []string
}

func (w *storyWriter) Play(in core.AudioInput) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if in.AudioPayload == nil {
		w.err = errors.New("story has no audio")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(*in.AudioPayload)
	if err != nil {
		w.err = core.WrapError(core.KindProtocol, err, "story audio is not valid base64")
		return
	}
	if err := os.WriteFile(w.path, audio, 0o644); err != nil {
		w.err = fmt.Errorf("write %s: %w", w.path, err)
		return
	}
	w.written = len(audio)
}

func (w *storyWriter) Notify(n core.Notification) {
	w.mu.Lock()
	w.notes = append(w.notes, n.Message)
	w.mu.Unlock()
	logrus.WithField("theme", n.Theme).Info(n.Message)
}

func (w *storyWriter) lastNote() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.notes) == 0 {
		return ""
	}
	return w.notes[len(w.notes)-1]
}

func runSubmit(cmd *cobra.Command, opts submitOpts) error {
	theme := core.Theme(opts.theme)
	if theme != core.ThemeMocha && theme != core.ThemeLatte {
		return core.NewError(core.KindUserInput, "unknown theme %q", opts.theme)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.url != "" {
		cfg.Inference.URL = opts.url
	}

	strokes, err := readStrokes(opts.strokes, cmd.InOrStdin())
	if err != nil {
		return err
	}
	surface := replay(strokes)
	defer surface.Close()

	out := &storyWriter{path: opts.output}
	var succeeded bool
	orch := submission.New(submission.Options{
		Detector:             canvas.NewDetector(surface),
		Exporter:             canvas.NewExporter(surface),
		Client:               inference.NewClient(cfg.Inference.URL, cfg.Inference.APIKey, cfg.Inference.Timeout),
		Notifier:             out,
		Audio:                out,
		Theme:                func() core.Theme { return theme },
		AcceptClassification: opts.classification || cfg.Inference.AcceptClassification,
		OnStateChange: func(state core.SubmissionState) {
			if state == core.StateSuccess {
				succeeded = true
			}
		},
		OnFeedback: func(fb core.LoadingFeedback, message string) {
			if message != "" {
				logrus.WithField("progress", fb.ProgressPercent).Info(message)
			}
		},
	})
	defer orch.Close()

	logrus.WithField("url", cfg.Inference.URL).Debug("Submitting sketch")
	if !orch.Submit() {
		return errors.New(out.lastNote())
	}

	select {
	case <-orch.Done():
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	if !succeeded {
		return errors.New(out.lastNote())
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.err != nil {
		return out.err
	}
	if out.written > 0 {
		logrus.WithFields(logrus.Fields{
			"output": out.path,
			"bytes":  out.written,
		}).Info("Story saved")
	}
	return nil
}
