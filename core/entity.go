package core

import (
	"context"
	"time"
)

const (
	// CanvasWidth and CanvasHeight are the fixed logical resolution of a sketch.
	CanvasWidth  = 500
	CanvasHeight = 500
)

type (
	// Point is a pointer position in canvas coordinates.
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Theme selects the palette the notification sink and audio player render with.
	Theme string

	// Notification is a fire-and-forget message for the user.
	Notification struct {
		Message string `json:"message"`
		Theme   Theme  `json:"theme"`
	}

	// Notifier receives notifications. Implementations must not block.
	Notifier interface {
		Notify(n Notification)
	}

	// AudioInput is what the audio playback collaborator is handed after a
	// successful submission. AudioPayload is bare base64 audio or nil.
	AudioInput struct {
		Theme        Theme   `json:"theme"`
		AudioPayload *string `json:"audio"`
	}

	// AudioSink plays back a generated story.
	AudioSink interface {
		Play(in AudioInput)
	}

	// LoadingFeedback is the cosmetic progress shown while a submission is in flight.
	LoadingFeedback struct {
		MessageIndex    int `json:"messageIndex"`
		ProgressPercent int `json:"progress"`
	}

	// Story is a generated audio story kept for later playback.
	Story struct {
		ID        string    `json:"id"`
		SessionID string    `json:"-"`
		Theme     Theme     `json:"theme"`
		Audio     []byte    `json:"audio,omitempty"` // Decoded audio, not included in list views.
		Size      int       `json:"size"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// StoryStore is the persistence layer for generated stories.
	// All operations are scoped to the session that produced the story.
	StoryStore interface {
		// List returns metadata for all stories of a session, without Audio.
		List(ctx context.Context, sessionID string) ([]*Story, error)

		// Get returns a single story, ensuring it belongs to the session.
		Get(ctx context.Context, sessionID, id string) (*Story, error)

		// Save creates or updates a story.
		Save(ctx context.Context, story *Story) error

		// Delete removes a story, ensuring it belongs to the session.
		Delete(ctx context.Context, sessionID, id string) error
	}
)

const (
	ThemeMocha Theme = "mocha"
	ThemeLatte Theme = "latte"
)

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeMocha {
		return ThemeLatte
	}
	return ThemeMocha
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// AudioSinkFunc adapts a function to the AudioSink interface.
type AudioSinkFunc func(in AudioInput)

func (f AudioSinkFunc) Play(in AudioInput) { f(in) }
