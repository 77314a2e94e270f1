package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bedtime-sketch/core"

	"github.com/sirupsen/logrus"
)

// memStore keeps stories in process memory, keyed by session then story id.
type memStore struct {
	mu      sync.RWMutex
	stories map[string]map[string]*core.Story
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{stories: make(map[string]map[string]*core.Story)}
}

// List returns metadata for all stories of a session, oldest first.
func (s *memStore) List(ctx context.Context, sessionID string) ([]*core.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionStories := s.stories[sessionID]
	stories := make([]*core.Story, 0, len(sessionStories))
	for _, story := range sessionStories {
		// Copy without the audio for the list view.
		listStory := *story
		listStory.Audio = nil
		stories = append(stories, &listStory)
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].CreatedAt.Before(stories[j].CreatedAt)
	})

	logrus.WithField("session_id", sessionID).Debugf("Listed %d stories", len(stories))
	return stories, nil
}

// Get returns a single story, ensuring it belongs to the session.
func (s *memStore) Get(ctx context.Context, sessionID, id string) (*core.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	story, ok := s.stories[sessionID][id]
	if !ok {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "story_id": id}).Warn("Story not found for session")
		return nil, core.NewError(core.KindNotFound, "story %s not found", id)
	}
	out := *story
	return &out, nil
}

// Save creates or updates a story.
func (s *memStore) Save(ctx context.Context, story *core.Story) error {
	if story.SessionID == "" {
		return core.NewError(core.KindUserInput, "session id cannot be empty")
	}
	if story.ID == "" {
		return core.NewError(core.KindUserInput, "story id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessionStories, ok := s.stories[story.SessionID]
	if !ok {
		sessionStories = make(map[string]*core.Story)
		s.stories[story.SessionID] = sessionStories
	}
	if existing, ok := sessionStories[story.ID]; ok {
		story.CreatedAt = existing.CreatedAt
	} else if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now()
	}
	story.Size = len(story.Audio)
	stored := *story
	sessionStories[story.ID] = &stored

	logrus.WithFields(logrus.Fields{
		"session_id": story.SessionID,
		"story_id":   story.ID,
		"size":       len(story.Audio),
	}).Info("Story saved successfully")
	return nil
}

// Delete removes a story, ensuring it belongs to the session.
func (s *memStore) Delete(ctx context.Context, sessionID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{"session_id": sessionID, "story_id": id})
	sessionStories := s.stories[sessionID]
	if _, ok := sessionStories[id]; !ok {
		log.Warn("Story not found for deletion")
		return core.NewError(core.KindNotFound, "story %s not found", id)
	}

	delete(sessionStories, id)
	if len(sessionStories) == 0 {
		delete(s.stories, sessionID)
	}
	log.Info("Story deleted successfully")
	return nil
}
