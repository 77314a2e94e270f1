package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bedtime-sketch/session"
	"bedtime-sketch/stores/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewStore()
	reg := session.NewRegistry(session.Options{Store: store, PollInterval: time.Hour})
	t.Cleanup(reg.CloseAll)
	return setupRouter(reg, store)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status mismatch: got %v", body["status"])
	}
}

func TestSessionStoriesRoute(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&created)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+created.ID+"/stories/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("stories mismatch: got %s, want []", body)
	}
}

func TestCORS(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		if got != tt.allowed {
			t.Errorf("%s: allowed mismatch: got %v, want %v", tt.origin, got, tt.allowed)
		}
	}
}
