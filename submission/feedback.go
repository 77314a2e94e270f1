package submission

import (
	"context"
	"time"

	"bedtime-sketch/core"
)

// DefaultMessages are the status lines cycled through while a story is being generated.
var DefaultMessages = []string{
	"What a drawing! It definitely deserves a story...",
	"Thinking up something fun to go with it...",
	"Adding a pinch of bedtime magic...",
	"Hold on, the adventure is taking shape...",
	"Almost there, your story is nearly ready!",
}

// FeedbackSchedule paces the loading feedback. It is cosmetic and has no relation
// to how long the request actually takes.
type FeedbackSchedule struct {
	FirstDelay    time.Duration
	Interval      time.Duration
	FirstProgress int
	Step          int
	Messages      []string
}

// DefaultSchedule waits 3s, jumps to 18%, then adds 18% every 5s.
func DefaultSchedule() FeedbackSchedule {
	return FeedbackSchedule{
		FirstDelay:    3 * time.Second,
		Interval:      5 * time.Second,
		FirstProgress: 18,
		Step:          18,
		Messages:      DefaultMessages,
	}
}

func (s FeedbackSchedule) withDefaults() FeedbackSchedule {
	d := DefaultSchedule()
	if s.FirstDelay <= 0 {
		s.FirstDelay = d.FirstDelay
	}
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.FirstProgress <= 0 {
		s.FirstProgress = d.FirstProgress
	}
	if s.Step <= 0 {
		s.Step = d.Step
	}
	if len(s.Messages) == 0 {
		s.Messages = d.Messages
	}
	return s
}

// First is the feedback shown once the initial delay has passed.
func (s FeedbackSchedule) First() core.LoadingFeedback {
	return core.LoadingFeedback{
		MessageIndex:    1 % len(s.Messages),
		ProgressPercent: min(s.FirstProgress, 100),
	}
}

// Next advances f by one interval: the message wraps, progress is clamped at 100.
func (s FeedbackSchedule) Next(f core.LoadingFeedback) core.LoadingFeedback {
	return core.LoadingFeedback{
		MessageIndex:    (f.MessageIndex + 1) % len(s.Messages),
		ProgressPercent: min(f.ProgressPercent+s.Step, 100),
	}
}

// Message returns the status line for f.
func (s FeedbackSchedule) Message(f core.LoadingFeedback) string {
	if f.MessageIndex < 0 || f.MessageIndex >= len(s.Messages) {
		return ""
	}
	return s.Messages[f.MessageIndex]
}

// startTicker calls advance(true) after FirstDelay and advance(false) every Interval
// after that, until ctx is done.
func startTicker(ctx context.Context, s FeedbackSchedule, advance func(first bool)) {
	go func() {
		timer := time.NewTimer(s.FirstDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		advance(true)

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				advance(false)
			}
		}
	}()
}
