// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInferenceURL   = "http://localhost:8000/infer/sketchclassify"
	DefaultStoragePath    = "./data"
	DefaultDataSourceName = "stories.db"
)

type (
	Config struct {
		Inference InferenceConfig
		Canvas    CanvasConfig
		Storage   StorageConfig
	}

	InferenceConfig struct {
		URL                  string
		APIKey               string
		Timeout              time.Duration
		AcceptClassification bool
	}

	CanvasConfig struct {
		PollInterval       time.Duration
		FeedbackFirstDelay time.Duration
		FeedbackInterval   time.Duration
	}

	// StorageConfig selects the story archive. Type is one of memory, filesystem,
	// sqlite or s3; anything else falls back to memory.
	StorageConfig struct {
		Type           string
		BasePath       string
		DataSourceName string
		BucketName     string
	}
)

// Load reads the configuration from the environment. Call godotenv.Load first
// to pick up a .env file.
func Load() (Config, error) {
	var (
		cfg Config
		err error
	)

	cfg.Inference.URL = getString("INFERENCE_URL", DefaultInferenceURL)
	cfg.Inference.APIKey = os.Getenv("INFERENCE_API_KEY")
	if cfg.Inference.Timeout, err = getDuration("INFERENCE_TIMEOUT", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Inference.AcceptClassification, err = getBool("ACCEPT_CLASSIFICATION", false); err != nil {
		return cfg, err
	}

	if cfg.Canvas.PollInterval, err = getDuration("DIRTY_POLL_INTERVAL", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.Canvas.FeedbackFirstDelay, err = getDuration("FEEDBACK_FIRST_DELAY", 3*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Canvas.FeedbackInterval, err = getDuration("FEEDBACK_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}

	cfg.Storage.Type = os.Getenv("STORAGE_TYPE")
	cfg.Storage.BasePath = getString("LOCAL_STORAGE_PATH", DefaultStoragePath)
	cfg.Storage.DataSourceName = getString("DATA_SOURCE_NAME", DefaultDataSourceName)
	cfg.Storage.BucketName = os.Getenv("S3_BUCKET_NAME")
	if cfg.Storage.Type == "s3" && cfg.Storage.BucketName == "" {
		return cfg, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
	}

	logrus.WithFields(logrus.Fields{
		"inferenceURL": cfg.Inference.URL,
		"timeout":      cfg.Inference.Timeout,
		"storageType":  cfg.Storage.Type,
	}).Debug("Configuration loaded")
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
