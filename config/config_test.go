package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"INFERENCE_URL", "INFERENCE_API_KEY", "INFERENCE_TIMEOUT", "ACCEPT_CLASSIFICATION",
		"DIRTY_POLL_INTERVAL", "FEEDBACK_FIRST_DELAY", "FEEDBACK_INTERVAL",
		"STORAGE_TYPE", "LOCAL_STORAGE_PATH", "DATA_SOURCE_NAME", "S3_BUCKET_NAME",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Inference.URL != DefaultInferenceURL {
		t.Errorf("URL mismatch: got %q", cfg.Inference.URL)
	}
	if cfg.Inference.Timeout != 5*time.Minute {
		t.Errorf("Timeout mismatch: got %v", cfg.Inference.Timeout)
	}
	if cfg.Canvas.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval mismatch: got %v", cfg.Canvas.PollInterval)
	}
	if cfg.Canvas.FeedbackFirstDelay != 3*time.Second || cfg.Canvas.FeedbackInterval != 5*time.Second {
		t.Errorf("feedback timing mismatch: got %v/%v", cfg.Canvas.FeedbackFirstDelay, cfg.Canvas.FeedbackInterval)
	}
	if cfg.Inference.AcceptClassification {
		t.Error("AcceptClassification should default to false")
	}
	if cfg.Storage.BasePath != DefaultStoragePath || cfg.Storage.DataSourceName != DefaultDataSourceName {
		t.Errorf("storage defaults mismatch: got %+v", cfg.Storage)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INFERENCE_URL", "http://inference:9000/story")
	t.Setenv("INFERENCE_API_KEY", "secret")
	t.Setenv("INFERENCE_TIMEOUT", "30s")
	t.Setenv("ACCEPT_CLASSIFICATION", "true")
	t.Setenv("DIRTY_POLL_INTERVAL", "250ms")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("DATA_SOURCE_NAME", "/tmp/x.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Inference.URL != "http://inference:9000/story" || cfg.Inference.APIKey != "secret" {
		t.Errorf("inference mismatch: got %+v", cfg.Inference)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Errorf("Timeout mismatch: got %v", cfg.Inference.Timeout)
	}
	if !cfg.Inference.AcceptClassification {
		t.Error("AcceptClassification mismatch: got false")
	}
	if cfg.Canvas.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval mismatch: got %v", cfg.Canvas.PollInterval)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.DataSourceName != "/tmp/x.db" {
		t.Errorf("storage mismatch: got %+v", cfg.Storage)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"INFERENCE_TIMEOUT", "soon"},
		{"INFERENCE_TIMEOUT", "-1s"},
		{"ACCEPT_CLASSIFICATION", "maybe"},
		{"FEEDBACK_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected an error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "s3")
	t.Setenv("S3_BUCKET_NAME", "")

	if _, err := Load(); err == nil {
		t.Error("expected an error when S3_BUCKET_NAME is missing")
	}
}
