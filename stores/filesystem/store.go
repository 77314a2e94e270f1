package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bedtime-sketch/core"

	"github.com/sirupsen/logrus"
)

// fsStore writes one JSON file per story under basePath/<session id>/.
type fsStore struct {
	basePath string
}

const storyExt = ".json"

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, core.WrapError(core.KindInternal, err, "failed to create base directory")
	}
	return &fsStore{basePath: basePath}, nil
}

func (s *fsStore) sessionPath(sessionID string) (string, error) {
	if err := core.ValidateKey(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, sessionID), nil
}

func (s *fsStore) storyPath(sessionID, id string) (string, error) {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return "", err
	}
	if err := core.ValidateKey(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+storyExt), nil
}

func (s *fsStore) List(ctx context.Context, sessionID string) ([]*core.Story, error) {
	dir, err := s.sessionPath(sessionID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("session_id", sessionID).WithField("path", dir)

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("Session directory does not exist, returning empty list.")
			return []*core.Story{}, nil
		}
		log.WithError(err).Error("Failed to read session directory")
		return nil, err
	}

	stories := make([]*core.Story, 0, len(files))
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), storyExt) {
			continue
		}
		story, err := readStory(filepath.Join(dir, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read story file %s, skipping", file.Name())
			continue
		}
		// For list view, we don't need the audio.
		story.Audio = nil
		story.SessionID = sessionID
		stories = append(stories, story)
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].CreatedAt.Before(stories[j].CreatedAt)
	})

	log.Debugf("Listed %d stories", len(stories))
	return stories, nil
}

func (s *fsStore) Get(ctx context.Context, sessionID, id string) (*core.Story, error) {
	filePath, err := s.storyPath(sessionID, id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"session_id": sessionID, "story_id": id, "path": filePath})

	story, err := readStory(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("Story file not found")
			return nil, core.NewError(core.KindNotFound, "story %s not found", id)
		}
		log.WithError(err).Error("Failed to read story file")
		return nil, err
	}
	story.SessionID = sessionID
	return story, nil
}

func (s *fsStore) Save(ctx context.Context, story *core.Story) error {
	filePath, err := s.storyPath(story.SessionID, story.ID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"session_id": story.SessionID, "story_id": story.ID, "path": filePath})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		log.WithError(err).Error("Failed to create session directory")
		return err
	}

	if existing, err := readStory(filePath); err == nil {
		story.CreatedAt = existing.CreatedAt
	} else if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now()
	}
	story.Size = len(story.Audio)

	data, err := json.Marshal(story)
	if err != nil {
		log.WithError(err).Error("Failed to marshal story for saving")
		return err
	}

	// Write then rename; readers never see a partial file.
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write story file")
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		log.WithError(err).Error("Failed to move story file into place")
		return err
	}

	log.Info("Story saved successfully")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, sessionID, id string) error {
	filePath, err := s.storyPath(sessionID, id)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"session_id": sessionID, "story_id": id, "path": filePath})

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			log.Warn("Story file not found for deletion")
			return core.NewError(core.KindNotFound, "story %s not found", id)
		}
		log.WithError(err).Error("Failed to delete story file")
		return err
	}

	log.Info("Story deleted successfully")
	return nil
}

func readStory(filePath string) (*core.Story, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var story core.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, err
	}
	return &story, nil
}
