package stories

import (
	"net/http"
	"strconv"

	"bedtime-sketch/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Stories outlive their session: these handlers only consult the store.

func HandleList(store core.StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		stories, err := store.List(r.Context(), sessionID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"session_id": sessionID,
			}).Error("Failed to list stories")
			renderError(w, r, err, "Failed to list stories")
			return
		}

		// If the session has no stories, return an empty slice instead of null.
		if stories == nil {
			stories = []*core.Story{}
		}
		render.JSON(w, r, stories)
	}
}

func HandleGet(store core.StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		story, ok := loadStory(store, w, r)
		if !ok {
			return
		}
		render.JSON(w, r, story)
	}
}

// HandleAudio streams the decoded story audio.
func HandleAudio(store core.StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		story, ok := loadStory(store, w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Length", strconv.Itoa(len(story.Audio)))
		w.Write(story.Audio)
	}
}

func HandleDelete(store core.StoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		storyID := chi.URLParam(r, "storyId")

		if err := store.Delete(r.Context(), sessionID, storyID); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"session_id": sessionID,
				"story_id":   storyID,
			}).Warn("Failed to delete story")
			renderError(w, r, err, "Failed to delete story")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func loadStory(store core.StoryStore, w http.ResponseWriter, r *http.Request) (*core.Story, bool) {
	sessionID := chi.URLParam(r, "id")
	storyID := chi.URLParam(r, "storyId")

	story, err := store.Get(r.Context(), sessionID, storyID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error":      err,
			"session_id": sessionID,
			"story_id":   storyID,
		}).Warn("Failed to get story")
		renderError(w, r, err, "Story not found")
		return nil, false
	}
	return story, true
}

func renderError(w http.ResponseWriter, r *http.Request, err error, message string) {
	render.Status(r, core.KindOf(err).HTTPStatus())
	render.JSON(w, r, map[string]string{"error": message})
}
