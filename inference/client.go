// Package inference talks to the sketch inference endpoint.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bedtime-sketch/core"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 5 * time.Minute

	// maxResponseBytes bounds the body we are willing to decode; generated audio is a few MB.
	maxResponseBytes = 64 << 20
)

type (
	// Request is the JSON body posted to the endpoint.
	Request struct {
		ImageBase64 string `json:"image_base64"`
	}

	// Result is the interpreted response: either a Story or a Classification.
	Result interface {
		isResult()
	}

	// Story is a generated audio story, bare base64.
	Story struct {
		Audio string
	}

	// Classification is the legacy label response.
	Classification struct {
		Prediction string
		Confidence float64
	}

	// response mirrors every field either server variant may send.
	response struct {
		Audio      *string  `json:"audio"`
		Prediction *string  `json:"prediction"`
		Confidence *float64 `json:"confidence"`
	}
)

func (Story) isResult()          {}
func (Classification) isResult() {}

// Client posts sketches to a single inference endpoint.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for url. apiKey may be empty.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit posts payload and interprets the response. Network failures and
// non-2xx statuses are KindTransport errors; a 2xx body without audio or
// prediction is a KindProtocol error.
func (c *Client) Submit(ctx context.Context, payload string) (Result, error) {
	body, err := json.Marshal(Request{ImageBase64: payload})
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, core.WrapError(core.KindTransport, err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log := logrus.WithFields(logrus.Fields{
		"url":          c.url,
		"payload_size": len(payload),
	})
	log.Debug("Submitting sketch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("Failed to reach inference endpoint")
		return nil, core.WrapError(core.KindTransport, err, "failed to reach inference endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the log; the status is what matters.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(snippet),
		}).Warn("Inference endpoint returned an error status")
		return nil, &core.Error{
			Kind:    core.KindTransport,
			Message: fmt.Sprintf("submission failed with status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return decode(io.LimitReader(resp.Body, maxResponseBytes))
}

// decode maps a 2xx body onto the Result union. Audio wins over a classification
// when a server sends both.
func decode(r io.Reader) (Result, error) {
	var raw response
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, core.WrapError(core.KindProtocol, err, "invalid response body")
	}

	switch {
	case raw.Audio != nil && *raw.Audio != "":
		return Story{Audio: *raw.Audio}, nil
	case raw.Prediction != nil:
		c := Classification{Prediction: *raw.Prediction}
		if raw.Confidence != nil {
			c.Confidence = *raw.Confidence
		}
		return c, nil
	default:
		return nil, core.NewError(core.KindProtocol, "response has neither audio nor prediction")
	}
}
