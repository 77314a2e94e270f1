package websocket

import (
	"bedtime-sketch/core"

	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// Outbound events, all sent to the session room.
const (
	eventNotification    = "notification"
	eventDirtyState      = "dirty-state"
	eventSubmissionState = "submission-state"
	eventLoadingFeedback = "loading-feedback"
	eventStory           = "story"
)

// roomListener forwards session events to every socket in the session room.
type roomListener struct {
	srv  *socketio.Server
	room socketio.Room
}

func (l *roomListener) Notification(n core.Notification) {
	l.emit(eventNotification, notificationPayload(n))
}

func (l *roomListener) DirtyState(hasDrawing bool) {
	l.emit(eventDirtyState, map[string]any{"hasDrawing": hasDrawing})
}

func (l *roomListener) SubmissionState(state core.SubmissionState) {
	l.emit(eventSubmissionState, map[string]any{"state": state.String()})
}

func (l *roomListener) LoadingFeedback(fb core.LoadingFeedback, message string) {
	l.emit(eventLoadingFeedback, feedbackPayload(fb, message))
}

func (l *roomListener) Story(story *core.Story, audio string) {
	l.emit(eventStory, storyPayload(story, audio))
}

func (l *roomListener) emit(event string, payload map[string]any) {
	if err := l.srv.To(l.room).Emit(event, payload); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room":  l.room,
			"event": event,
		}).Warn("Failed to emit session event")
	}
}

func notificationPayload(n core.Notification) map[string]any {
	return map[string]any{
		"message": n.Message,
		"theme":   string(n.Theme),
	}
}

func feedbackPayload(fb core.LoadingFeedback, message string) map[string]any {
	return map[string]any{
		"messageIndex": fb.MessageIndex,
		"progress":     fb.ProgressPercent,
		"message":      message,
	}
}

func storyPayload(story *core.Story, audio string) map[string]any {
	return map[string]any{
		"storyId": story.ID,
		"theme":   string(story.Theme),
		"audio":   audio,
	}
}
