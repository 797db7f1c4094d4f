package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoFaceDetected is returned when the ML service finds no face in the
// submitted image.
var ErrNoFaceDetected = errors.New("no face detected in image")

// ErrDecodeFailed is returned when the submitted image could not be decoded.
var ErrDecodeFailed = errors.New("image could not be decoded")

// LivenessResult contains the anti-spoofing judgment. The model lives in the
// ML service; only the shape is known here.
type LivenessResult struct {
	IsLive     bool                   `json:"is_live"`
	Confidence float64                `json:"confidence"`
	Checks     map[string]interface{} `json:"checks,omitempty"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with canned results
// for development without the ML service running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Detect extracts the face embedding from a base64-encoded image (raw base64
// or a full data URL). Returns ErrNoFaceDetected or ErrDecodeFailed for the
// two client-correctable failures; anything else is a service fault.
func (c *Client) Detect(ctx context.Context, imageBase64 string) ([]float32, error) {
	if c.Skip {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	if imageBase64 == "" {
		return nil, ErrDecodeFailed
	}

	body, _ := json.Marshal(map[string]string{"image": imageBase64})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Success   bool      `json:"success"`
		Embedding []float32 `json:"embedding"`
		Error     string    `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success || len(out.Embedding) == 0 {
		switch out.Error {
		case "decode_failed":
			return nil, ErrDecodeFailed
		default:
			return nil, ErrNoFaceDetected
		}
	}
	return out.Embedding, nil
}

// Liveness asks the ML service whether the photographed face is a live
// person rather than a replayed photo or screen.
func (c *Client) Liveness(ctx context.Context, imageURL string) (*LivenessResult, error) {
	if c.Skip {
		return &LivenessResult{IsLive: true, Confidence: 0.85}, nil
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/liveness", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out LivenessResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
