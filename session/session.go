// Package session binds one sketch surface to its dirty-state poller, exporter
// and submission orchestrator, and keeps the live sessions in a registry.
package session

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"bedtime-sketch/canvas"
	"bedtime-sketch/core"
	"bedtime-sketch/submission"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	MsgCleared      = "Canvas cleared!"
	MsgDrawFirst    = "Please draw something first."
	storySaveBudget = 30 * time.Second
)

type (
	// Listener receives everything a session pushes to its client.
	// Calls for one session never overlap.
	Listener interface {
		Notification(n core.Notification)
		DirtyState(hasDrawing bool)
		SubmissionState(state core.SubmissionState)
		LoadingFeedback(feedback core.LoadingFeedback, message string)
		Story(story *core.Story, audio string)
	}

	// Options are shared by every session a registry creates.
	Options struct {
		Client               submission.Submitter
		Store                core.StoryStore
		PollInterval         time.Duration
		Schedule             submission.FeedbackSchedule
		AcceptClassification bool
	}

	// Status is a snapshot of a session for API responses.
	Status struct {
		ID         string               `json:"id"`
		HasDrawing bool                 `json:"hasDrawing"`
		State      core.SubmissionState `json:"state"`
		Feedback   core.LoadingFeedback `json:"feedback"`
		Message    string               `json:"message,omitempty"`
		Theme      core.Theme           `json:"theme"`
	}
)

// Session is one drawing tab.
type Session struct {
	ID string

	surface  *canvas.Surface
	exporter *canvas.Exporter
	poller   *canvas.Poller
	orch     *submission.Orchestrator
	store    core.StoryStore
	log      *logrus.Entry

	mu       sync.Mutex
	theme    core.Theme
	listener Listener

	// out serializes listener calls coming from the poller, the orchestrator
	// and direct operations.
	out sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a session and starts its dirty-state poller.
func New(id string, opts Options) *Session {
	s := &Session{
		ID:      id,
		surface: canvas.NewSurface(),
		store:   opts.Store,
		theme:   core.ThemeMocha,
		log:     logrus.WithField("session_id", id),
	}
	s.exporter = canvas.NewExporter(s.surface)

	interval := opts.PollInterval
	if interval <= 0 {
		interval = canvas.DefaultPollInterval
	}
	s.poller = canvas.NewPoller(canvas.NewDetector(s.surface), interval, s.dirtyChanged)

	s.orch = submission.New(submission.Options{
		Detector:             canvas.NewDetector(s.surface),
		Exporter:             s.exporter,
		Client:               opts.Client,
		Notifier:             core.NotifierFunc(s.emitNotification),
		Audio:                core.AudioSinkFunc(s.playStory),
		Theme:                s.Theme,
		Schedule:             opts.Schedule,
		AcceptClassification: opts.AcceptClassification,
		OnStateChange:        s.stateChanged,
		OnFeedback:           s.feedbackChanged,
		Log:                  s.log,
	})

	s.poller.Start(context.Background())
	return s
}

// SetListener replaces the client listener. nil detaches it.
func (s *Session) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Theme returns the current palette.
func (s *Session) Theme() core.Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// ToggleTheme switches the palette and returns the new one.
func (s *Session) ToggleTheme() core.Theme {
	s.mu.Lock()
	s.theme = s.theme.Toggle()
	theme := s.theme
	s.mu.Unlock()

	s.log.WithField("theme", theme).Debug("Theme toggled")
	return theme
}

// PointerDown begins a stroke at p.
func (s *Session) PointerDown(p core.Point) {
	s.surface.BeginStroke(p)
}

// PointerMove extends the active stroke to p.
func (s *Session) PointerMove(p core.Point) {
	// Rasterizer errors are logged by the surface; the stroke just loses a segment.
	_ = s.surface.ExtendStroke(p)
}

// PointerUp ends the active stroke.
func (s *Session) PointerUp() {
	s.surface.EndStroke()
	s.poller.Poll()
}

// PointerLeave ends the active stroke when the pointer leaves the canvas.
func (s *Session) PointerLeave() {
	s.surface.Leave()
	s.poller.Poll()
}

// Stroke draws a complete stroke through points. Like a click without
// movement, a single point paints nothing.
func (s *Session) Stroke(points []core.Point) {
	if len(points) == 0 {
		return
	}
	s.PointerDown(points[0])
	for _, p := range points[1:] {
		s.PointerMove(p)
	}
	s.PointerUp()
}

// Clear wipes the canvas. It does nothing once the session is closed.
func (s *Session) Clear() {
	if s.isClosed() {
		return
	}
	s.surface.Clear()
	s.poller.Poll()
	s.emitNotification(core.Notification{Message: MsgCleared, Theme: s.Theme()})
}

// Download returns the flattened PNG of the canvas. It uses the polled dirty
// state; an empty canvas notifies the user and yields a KindUserInput error.
func (s *Session) Download() ([]byte, error) {
	if !s.poller.Dirty() {
		s.emitNotification(core.Notification{Message: MsgDrawFirst, Theme: s.Theme()})
		return nil, core.NewError(core.KindUserInput, "canvas is empty")
	}
	data, err := s.exporter.ExportPNG()
	if err != nil {
		s.log.WithError(err).Warn("Failed to export drawing for download")
		return nil, err
	}
	return data, nil
}

// Submit starts a submission and reports whether a request was issued.
func (s *Session) Submit() bool {
	return s.orch.Submit()
}

// Done is closed once the running submission, if any, is back to Idle.
func (s *Session) Done() <-chan struct{} {
	return s.orch.Done()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	fb, _ := s.orch.Feedback()
	return Status{
		ID:         s.ID,
		HasDrawing: s.poller.Dirty(),
		State:      s.orch.State(),
		Feedback:   fb,
		Message:    s.orch.StatusMessage(),
		Theme:      s.Theme(),
	}
}

// Close aborts any in-flight submission, stops the poller and releases the surface.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.orch.Close()
		s.poller.Stop()
		if err := s.surface.Close(); err != nil {
			s.log.WithError(err).Warn("Failed to release canvas surface")
		}
		s.SetListener(nil)
		s.log.Info("Session closed")
	})
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// playStory archives a generated story and forwards it to the client.
func (s *Session) playStory(in core.AudioInput) {
	if in.AudioPayload == nil {
		return
	}
	payload := *in.AudioPayload

	story := &core.Story{
		ID:        ulid.Make().String(),
		SessionID: s.ID,
		Theme:     in.Theme,
		CreatedAt: time.Now(),
	}
	log := s.log.WithField("story_id", story.ID)

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		log.WithError(err).Warn("Story audio is not valid base64, not archived")
	} else if s.store != nil {
		story.Audio = audio
		story.Size = len(audio)

		ctx, cancel := context.WithTimeout(context.Background(), storySaveBudget)
		if err := s.store.Save(ctx, story); err != nil {
			log.WithError(err).Error("Failed to archive story")
		} else {
			log.WithField("size", story.Size).Info("Story archived")
		}
		cancel()
	}

	s.emit(func(l Listener) { l.Story(story, payload) })
}

func (s *Session) dirtyChanged(dirty bool) {
	s.log.WithField("dirty", dirty).Debug("Dirty state changed")
	s.emit(func(l Listener) { l.DirtyState(dirty) })
}

func (s *Session) stateChanged(state core.SubmissionState) {
	s.log.WithField("state", state).Debug("Submission state changed")
	s.emit(func(l Listener) { l.SubmissionState(state) })
}

func (s *Session) feedbackChanged(fb core.LoadingFeedback, message string) {
	s.emit(func(l Listener) { l.LoadingFeedback(fb, message) })
}

func (s *Session) emitNotification(n core.Notification) {
	s.log.WithField("message", n.Message).Info("Notification")
	s.emit(func(l Listener) { l.Notification(n) })
}

func (s *Session) emit(fn func(l Listener)) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return
	}

	s.out.Lock()
	defer s.out.Unlock()
	fn(l)
}
