// Package recognition talks to the external face recognition service.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/config"
	"rollcall/internal/services"
)

const (
	recognizePath   = "/recognize"
	headerAPIKey    = "x-api-key"
	maxResponseBody = 1 << 20
)

// Request is one frame submitted for a session.
type Request struct {
	SessionID  int64
	FrameID    string
	Image      []byte
	CapturedAt time.Time
}

// Match is one recognized student.
type Match struct {
	StudentID  int64     `json:"student_id"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// response accepts the current "matches" shape and the older "attendance"
// list returned by the mark endpoint.
type response struct {
	Matches    []Match `json:"matches"`
	Attendance []Match `json:"attendance"`
}

// Client submits frames to the recognition service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option customizes a client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New constructs a client from the recognition settings.
func New(cfg config.Recognition, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL reports the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Recognize uploads one frame and returns the students found in it. Network
// failures and 5xx responses are marked services.ErrTransient.
func (c *Client) Recognize(ctx context.Context, req Request) ([]Match, error) {
	if len(req.Image) == 0 {
		return nil, services.Wrap(services.ErrValidation, "recognition", "recognize", "empty frame", nil)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("session_id", strconv.FormatInt(req.SessionID, 10)); err != nil {
		return nil, fmt.Errorf("recognition: write session field: %w", err)
	}
	if req.FrameID != "" {
		if err := writer.WriteField("frame_id", req.FrameID); err != nil {
			return nil, fmt.Errorf("recognition: write frame field: %w", err)
		}
	}
	if !req.CapturedAt.IsZero() {
		if err := writer.WriteField("captured_at", req.CapturedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("recognition: write capture time: %w", err)
		}
	}
	name := "frame.jpg"
	if req.FrameID != "" {
		name = req.FrameID + ".jpg"
	}
	field, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("recognition: create file field: %w", err)
	}
	if _, err := field.Write(req.Image); err != nil {
		return nil, fmt.Errorf("recognition: copy frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("recognition: close multipart writer: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+recognizePath, body)
	if err != nil {
		return nil, fmt.Errorf("recognition: build request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		request.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, "recognition", "recognize", "http request", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "recognition", "recognize", "read response", err)
	}
	if err := statusError(resp.StatusCode, payload); err != nil {
		return nil, err
	}

	var parsed response
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, services.Wrap(services.ErrTransient, "recognition", "recognize", "decode response", err)
	}
	if len(parsed.Matches) > 0 {
		return parsed.Matches, nil
	}
	return parsed.Attendance, nil
}

// Ping checks that the service answers. Any response below 500 counts as
// reachable except an auth rejection, which is reported as a configuration
// error.
func (c *Client) Ping(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("recognition: build request: %w", err)
	}
	if c.apiKey != "" {
		request.Header.Set(headerAPIKey, c.apiKey)
	}
	resp, err := c.http.Do(request)
	if err != nil {
		return services.Wrap(services.ErrTransient, "recognition", "ping", "http request", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "recognition", "ping", fmt.Sprintf("status %d (check recognition.api_key)", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransient, "recognition", "ping", fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

func statusError(code int, payload []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	detail := fmt.Sprintf("unexpected status %d: %s", code, strings.TrimSpace(string(payload)))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "recognition", "recognize", detail+" (check recognition.api_key)", nil)
	case code == http.StatusTooManyRequests || code >= 500:
		return services.Wrap(services.ErrTransient, "recognition", "recognize", detail, nil)
	default:
		return services.Wrap(services.ErrValidation, "recognition", "recognize", detail, nil)
	}
}
