package sessions

import (
	"encoding/json"
	"errors"
	"net/http"

	"bedtime-sketch/canvas"
	"bedtime-sketch/core"
	"bedtime-sketch/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	minStrokePoints = 2
	maxStrokePoints = 10000
)

type (
	CreateSessionResponse struct {
		ID string `json:"id"`
	}

	StrokeRequest struct {
		Points []core.Point `json:"points"`
	}

	ThemeResponse struct {
		Theme core.Theme `json:"theme"`
	}

	SubmitResponse struct {
		Accepted bool                 `json:"accepted"`
		State    core.SubmissionState `json:"state"`
	}

	// Registry is the part of session.Registry the handlers use.
	Registry interface {
		Create() *session.Session
		Get(id string) (*session.Session, error)
		Close(id string) error
	}
)

// HandleCreate starts a new drawing session.
func HandleCreate(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := reg.Create()
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, CreateSessionResponse{ID: s.ID})
	}
}

// HandleGet reports the dirty state, submission state and loading feedback of a session.
func HandleGet(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		render.JSON(w, r, s.Status())
	})
}

// HandleDelete tears a session down, aborting any submission in flight.
func HandleDelete(reg Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := reg.Close(id); err != nil {
			renderError(w, r, err, "Session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleStroke draws one stroke through the posted points.
func HandleStroke(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var req StrokeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithError(err).WithField("session_id", s.ID).Warn("Failed to decode stroke")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if len(req.Points) < minStrokePoints || len(req.Points) > maxStrokePoints {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "A stroke needs between 2 and 10000 points"})
			return
		}

		s.Stroke(req.Points)
		render.JSON(w, r, s.Status())
	})
}

// HandleClear wipes the canvas.
func HandleClear(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		s.Clear()
		render.JSON(w, r, s.Status())
	})
}

// HandleToggleTheme switches the session palette.
func HandleToggleTheme(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		render.JSON(w, r, ThemeResponse{Theme: s.ToggleTheme()})
	})
}

// HandleDownload returns the flattened drawing as a PNG attachment.
func HandleDownload(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		data, err := s.Download()
		if err != nil {
			if errors.Is(err, core.ErrUserInput) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, map[string]string{"error": session.MsgDrawFirst})
				return
			}
			renderError(w, r, err, "Could not export the drawing")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", `attachment; filename="`+canvas.DownloadFilename+`"`)
		w.Write(data)
	})
}

// HandleSubmit starts a submission. The result arrives over the socket;
// the response only says whether a request was issued.
func HandleSubmit(reg Registry) http.HandlerFunc {
	return withSession(reg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		accepted := s.Submit()
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, SubmitResponse{Accepted: accepted, State: s.Status().State})
	})
}

func withSession(reg Registry, next func(w http.ResponseWriter, r *http.Request, s *session.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s, err := reg.Get(id)
		if err != nil {
			logrus.WithField("session_id", id).Debug("Unknown session")
			renderError(w, r, err, "Session not found")
			return
		}
		next(w, r, s)
	}
}

func renderError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := core.KindOf(err).HTTPStatus()
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).Error(message)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
