// Package submission drives a single sketch submission from the dirty-state
// guard through export, the inference request and result delivery.
package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bedtime-sketch/core"
	"bedtime-sketch/inference"

	"github.com/sirupsen/logrus"
)

// Notification texts.
const (
	MsgEmptyCanvas    = "Canvas is empty."
	MsgExportFailed   = "Could not export the drawing."
	MsgNetworkError   = "Network error."
	MsgNoResult       = "No audio returned from server."
	msgStatusFailed   = "Submission failed with status %d."
	msgClassification = "Looks like %s (%.0f%% sure)."
)

type (
	// DirtyDetector reports whether the canvas holds anything worth submitting.
	DirtyDetector interface {
		HasDrawing() bool
	}

	// PayloadExporter produces the bare base64 image for the request body.
	PayloadExporter interface {
		ExportForSubmission() (string, error)
	}

	// Submitter sends a payload to the inference endpoint.
	Submitter interface {
		Submit(ctx context.Context, payload string) (inference.Result, error)
	}

	// Options wires an Orchestrator. Detector, Exporter and Client are required.
	Options struct {
		Detector DirtyDetector
		Exporter PayloadExporter
		Client   Submitter
		Notifier core.Notifier
		Audio    core.AudioSink
		Theme    func() core.Theme
		Schedule FeedbackSchedule

		// AcceptClassification treats a legacy {prediction, confidence} body as a
		// result instead of a protocol error.
		AcceptClassification bool

		// Observers are called in order, one event-loop turn at a time. They may
		// query the orchestrator but must not call Submit or Close.
		OnStateChange func(state core.SubmissionState)
		OnFeedback    func(feedback core.LoadingFeedback, message string)

		Log *logrus.Entry
	}

	// cycle is one Exporting -> AwaitingResponse -> result pass.
	cycle struct {
		gen    uint64
		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// Orchestrator owns the submission state. At most one request is in flight.
type Orchestrator struct {
	opts Options
	log  *logrus.Entry

	// turn serializes every state-changing step together with the observer
	// calls it produces, so observers see transitions in order.
	turn sync.Mutex

	mu       sync.Mutex
	state    core.SubmissionState
	feedback core.LoadingFeedback
	gen      uint64
	current  *cycle
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// New creates an idle orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = core.NotifierFunc(func(core.Notification) {})
	}
	if opts.Audio == nil {
		opts.Audio = core.AudioSinkFunc(func(core.AudioInput) {})
	}
	if opts.Theme == nil {
		opts.Theme = func() core.Theme { return core.ThemeMocha }
	}
	opts.Schedule = opts.Schedule.withDefaults()

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:   opts,
		log:    log,
		state:  core.StateIdle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current submission state.
func (o *Orchestrator) State() core.SubmissionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Feedback returns the loading feedback and whether a request is in flight.
func (o *Orchestrator) Feedback() (core.LoadingFeedback, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.feedback, o.state == core.StateAwaitingResponse
}

// StatusMessage returns the loading status line, or "" when nothing is in flight.
func (o *Orchestrator) StatusMessage() string {
	fb, loading := o.Feedback()
	if !loading {
		return ""
	}
	return o.opts.Schedule.Message(fb)
}

// Done returns a channel closed when the current cycle is back to Idle.
// When no cycle is running the channel is already closed.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return closedDone
	}
	return o.current.done
}

// Submit starts a submission cycle and reports whether a request was issued.
// It is ignored while a cycle is running. An empty canvas or a failed export
// produces a notification and leaves the orchestrator Idle.
func (o *Orchestrator) Submit() bool {
	o.turn.Lock()
	defer o.turn.Unlock()

	o.mu.Lock()
	if o.closed || o.state != core.StateIdle {
		state := o.state
		o.mu.Unlock()
		o.log.WithField("state", state).Debug("Submit ignored, submission already running")
		return false
	}
	o.mu.Unlock()

	if !o.opts.Detector.HasDrawing() {
		o.log.Info("Submit rejected, canvas is empty")
		o.notify(MsgEmptyCanvas)
		return false
	}

	o.transition(core.StateExporting)
	payload, err := o.opts.Exporter.ExportForSubmission()
	if err != nil || payload == "" {
		o.log.WithError(err).Warn("Failed to export canvas for submission")
		o.notify(MsgExportFailed)
		o.transition(core.StateIdle)
		return false
	}

	o.mu.Lock()
	o.gen++
	c := &cycle{gen: o.gen, done: make(chan struct{})}
	c.ctx, c.cancel = context.WithCancel(o.ctx)
	o.current = c
	o.feedback = core.LoadingFeedback{}
	o.mu.Unlock()

	o.transition(core.StateAwaitingResponse)
	o.emitFeedback(core.LoadingFeedback{})

	startTicker(c.ctx, o.opts.Schedule, func(first bool) { o.advance(c, first) })
	go o.await(c, payload)

	o.log.WithFields(logrus.Fields{
		"cycle":        c.gen,
		"payload_size": len(payload),
	}).Info("Sketch submitted")
	return true
}

// Close tears the orchestrator down. A request in flight is aborted, its
// feedback ticker stopped, and no notification is emitted for it.
func (o *Orchestrator) Close() {
	o.turn.Lock()
	defer o.turn.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	c := o.current
	o.current = nil
	wasIdle := o.state == core.StateIdle
	o.state = core.StateIdle
	o.feedback = core.LoadingFeedback{}
	o.mu.Unlock()

	o.cancel()
	if c != nil {
		o.log.WithField("cycle", c.gen).Info("Aborting in-flight submission")
		close(c.done)
	}
	if !wasIdle && o.opts.OnStateChange != nil {
		o.opts.OnStateChange(core.StateIdle)
	}
}

func (o *Orchestrator) await(c *cycle, payload string) {
	res, err := o.opts.Client.Submit(c.ctx, payload)

	o.turn.Lock()
	defer o.turn.Unlock()

	o.mu.Lock()
	if o.current != c {
		// Torn down while the request was running.
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	// Leaving AwaitingResponse: the ticker stops here on every path.
	c.cancel()

	log := o.log.WithField("cycle", c.gen)
	if err != nil {
		log.WithError(err).Warn("Submission failed")
		o.fail(failureMessage(err))
	} else {
		o.deliver(log, res)
	}

	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
	close(c.done)
}

func (o *Orchestrator) deliver(log *logrus.Entry, res inference.Result) {
	switch r := res.(type) {
	case inference.Story:
		log.WithField("audio_size", len(r.Audio)).Info("Story received")
		o.transition(core.StateSuccess)
		audio := r.Audio
		o.opts.Audio.Play(core.AudioInput{Theme: o.opts.Theme(), AudioPayload: &audio})
		o.transition(core.StateIdle)

	case inference.Classification:
		if !o.opts.AcceptClassification {
			log.WithField("prediction", r.Prediction).Warn("Classification received but no audio")
			o.fail(MsgNoResult)
			return
		}
		log.WithFields(logrus.Fields{
			"prediction": r.Prediction,
			"confidence": r.Confidence,
		}).Info("Classification received")
		o.transition(core.StateSuccess)
		o.notify(fmt.Sprintf(msgClassification, r.Prediction, r.Confidence*100))
		o.transition(core.StateIdle)

	default:
		log.Warn("Submission returned no result")
		o.fail(MsgNoResult)
	}
}

func (o *Orchestrator) fail(message string) {
	o.transition(core.StateFailure)
	o.notify(message)
	o.transition(core.StateIdle)
}

func (o *Orchestrator) advance(c *cycle, first bool) {
	o.turn.Lock()
	defer o.turn.Unlock()

	o.mu.Lock()
	if o.current != c || o.state != core.StateAwaitingResponse {
		o.mu.Unlock()
		return
	}
	if first {
		o.feedback = o.opts.Schedule.First()
	} else {
		o.feedback = o.opts.Schedule.Next(o.feedback)
	}
	fb := o.feedback
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{
		"cycle":    c.gen,
		"message":  fb.MessageIndex,
		"progress": fb.ProgressPercent,
	}).Debug("Loading feedback advanced")
	o.emitFeedback(fb)
}

// transition must be called with turn held.
func (o *Orchestrator) transition(state core.SubmissionState) {
	o.mu.Lock()
	o.state = state
	if state != core.StateAwaitingResponse {
		o.feedback = core.LoadingFeedback{}
	}
	o.mu.Unlock()

	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(state)
	}
}

func (o *Orchestrator) emitFeedback(fb core.LoadingFeedback) {
	if o.opts.OnFeedback != nil {
		o.opts.OnFeedback(fb, o.opts.Schedule.Message(fb))
	}
}

func (o *Orchestrator) notify(message string) {
	o.opts.Notifier.Notify(core.Notification{Message: message, Theme: o.opts.Theme()})
}

func failureMessage(err error) string {
	switch core.KindOf(err) {
	case core.KindTransport:
		if status := core.StatusOf(err); status != 0 {
			return fmt.Sprintf(msgStatusFailed, status)
		}
		return MsgNetworkError
	case core.KindProtocol:
		return MsgNoResult
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgNetworkError
	}
	return MsgNoResult
}
