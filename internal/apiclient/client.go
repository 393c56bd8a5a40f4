// Package apiclient is a typed HTTP client for the rollcall daemon API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/services"
)

const maxResponseBody = 4 << 20

// Error is a non-2xx response from the daemon. It unwraps to the services
// marker for its kind so callers can use errors.Is.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned %d", e.Status)
}

func (e *Error) Unwrap() error {
	if marker := services.FromKind(e.Kind); marker != nil {
		return marker
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return services.ErrUnauthenticated
	case e.Status == http.StatusForbidden:
		return services.ErrForbidden
	case e.Status == http.StatusNotFound:
		return services.ErrNotFound
	case e.Status == http.StatusConflict:
		return services.ErrConflict
	case e.Status == http.StatusUnprocessableEntity || e.Status == http.StatusBadRequest:
		return services.ErrValidation
	case e.Status >= 500:
		return services.ErrTransient
	}
	return nil
}

// Client issues authenticated requests against the daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// New constructs a client for baseURL. An empty token sends no
// Authorization header.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL reports the daemon root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health probes the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp api.HealthResponse
	return c.do(ctx, http.MethodGet, "/api/health", nil, &resp)
}

// Status returns the daemon runtime status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cameras lists discovered video devices.
func (c *Client) Cameras(ctx context.Context) ([]api.Camera, error) {
	var resp api.CameraListResponse
	if err := c.do(ctx, http.MethodGet, "/api/cameras", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cameras, nil
}

// StartSession opens a session for a course.
func (c *Client) StartSession(ctx context.Context, courseID int64) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", api.StartSessionRequest{CourseID: courseID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session fetches one session.
func (c *Client) Session(ctx context.Context, id int64) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionAction runs end, continue, retake, or submit on a session.
func (c *Client) SessionAction(ctx context.Context, id int64, action string) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, url.PathEscape(action)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSession removes a session that was never submitted.
func (c *Client) DeleteSession(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// CourseSessions lists a course's sessions.
func (c *Client) CourseSessions(ctx context.Context, courseID int64) ([]api.Session, error) {
	var resp api.SessionListResponse
	if err := c.do(ctx, http.MethodGet, coursePath(courseID, "sessions"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Ledger returns the raw records for a session.
func (c *Client) Ledger(ctx context.Context, sessionID int64) (*api.LedgerResponse, error) {
	var resp api.LedgerResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "attendance"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Roster returns the roster projection for a session.
func (c *Client) Roster(ctx context.Context, sessionID int64) (*api.RosterResponse, error) {
	var resp api.RosterResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "roster"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRecord writes a manual record for a student in a session.
func (c *Client) CreateRecord(ctx context.Context, sessionID, studentID int64, status string) (*api.Record, error) {
	var resp api.RecordResponse
	body := api.CreateRecordRequest{StudentID: studentID, Status: status}
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "attendance"), body, &resp); err != nil {
		return nil, err
	}
	return &resp.Record, nil
}

// UpdateRecord overwrites the status of an existing record.
func (c *Client) UpdateRecord(ctx context.Context, recordID int64, status string) (*api.Record, error) {
	var resp api.RecordResponse
	path := "/api/attendance/" + strconv.FormatInt(recordID, 10)
	if err := c.do(ctx, http.MethodPut, path, api.UpdateRecordRequest{Status: status}, &resp); err != nil {
		return nil, err
	}
	return &resp.Record, nil
}

// Toggle flips a student's roster status.
func (c *Client) Toggle(ctx context.Context, sessionID, studentID int64) (*api.Record, error) {
	var resp api.RecordResponse
	path := sessionPath(sessionID, "roster/"+strconv.FormatInt(studentID, 10)+"/toggle")
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Record, nil
}

// CaptureStatus reports the capture loop for a session.
func (c *Client) CaptureStatus(ctx context.Context, sessionID int64) (*api.CaptureStatus, error) {
	var resp api.CaptureStatus
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "capture"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetCapture starts or stops capture for a session. An empty device uses the
// daemon's configured camera.
func (c *Client) SetCapture(ctx context.Context, sessionID int64, active bool, device string) (*api.CaptureStatus, error) {
	var resp api.CaptureStatus
	body := api.CaptureRequest{Active: &active, Device: strings.TrimSpace(device)}
	if err := c.do(ctx, http.MethodPut, sessionPath(sessionID, "capture"), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadFrame submits an externally captured image for recognition.
func (c *Client) UploadFrame(ctx context.Context, sessionID int64, image []byte, capturedAt time.Time) (*api.DetectionResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if !capturedAt.IsZero() {
		if err := writer.WriteField("captured_at", capturedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("upload frame: write capture time: %w", err)
		}
	}
	field, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("upload frame: create file field: %w", err)
	}
	if _, err := field.Write(image); err != nil {
		return nil, fmt.Errorf("upload frame: write image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("upload frame: close form: %w", err)
	}

	path := "/api/recognition/" + strconv.FormatInt(sessionID, 10)
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var resp api.DetectionResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Courses lists the courses visible to the caller.
func (c *Client) Courses(ctx context.Context) ([]api.Course, error) {
	var resp api.CourseListResponse
	if err := c.do(ctx, http.MethodGet, "/api/courses", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

// CreateCourse adds a course owned by instructorID.
func (c *Client) CreateCourse(ctx context.Context, name string, instructorID int64) (*api.Course, error) {
	var resp api.CourseResponse
	body := api.CreateCourseRequest{Name: name, InstructorID: instructorID}
	if err := c.do(ctx, http.MethodPost, "/api/courses", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Course, nil
}

// CourseStudents lists the students enrolled in a course.
func (c *Client) CourseStudents(ctx context.Context, courseID int64) ([]api.User, error) {
	var resp api.StudentListResponse
	if err := c.do(ctx, http.MethodGet, coursePath(courseID, "students"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Students, nil
}

// Enroll adds a student to a course.
func (c *Client) Enroll(ctx context.Context, courseID, studentID int64) error {
	return c.do(ctx, http.MethodPost, coursePath(courseID, "students"), api.EnrollRequest{StudentID: studentID}, nil)
}

// Unenroll removes a student from a course.
func (c *Client) Unenroll(ctx context.Context, courseID, studentID int64) error {
	return c.do(ctx, http.MethodDelete, coursePath(courseID, "students/"+strconv.FormatInt(studentID, 10)), nil, nil)
}

// StudentAttendance returns a student's history and per-course percentages.
func (c *Client) StudentAttendance(ctx context.Context, studentID int64) (*api.StudentAttendanceResponse, error) {
	var resp api.StudentAttendanceResponse
	path := "/api/students/" + strconv.FormatInt(studentID, 10) + "/attendance"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Users lists directory entries, optionally filtered by role.
func (c *Client) Users(ctx context.Context, role string) ([]api.User, error) {
	path := "/api/users"
	if role = strings.TrimSpace(role); role != "" {
		path += "?role=" + url.QueryEscape(role)
	}
	var resp api.UserListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateUser adds a directory entry.
func (c *Client) CreateUser(ctx context.Context, req api.CreateUserRequest) (*api.User, error) {
	var resp api.UserResponse
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrTransient, "apiclient", req.Method+" "+req.URL.Path, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return services.Wrap(services.ErrTransient, "apiclient", req.Method+" "+req.URL.Path, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var payload api.ErrorResponse
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
		if payload.Error == "" {
			payload.Error = http.StatusText(status)
		}
	}
	return &Error{Status: status, Kind: payload.Kind, Message: payload.Error}
}

func sessionPath(id int64, suffix string) string {
	path := "/api/sessions/" + strconv.FormatInt(id, 10)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

func coursePath(id int64, suffix string) string {
	return "/api/courses/" + strconv.FormatInt(id, 10) + "/" + suffix
}
