package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/camera"
	"rollcall/internal/capture"
	"rollcall/internal/logging"
	"rollcall/internal/testsupport"
)

type apiFixture struct {
	t      *testing.T
	daemon *Daemon
	store  *attendance.Store
	course testsupport.Course
	owner  string
}

type fakeSource struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func (f *fakeSource) Path() string { return f.path }

func (f *fakeSource) Snapshot(context.Context) (camera.Frame, error) {
	return camera.Frame{ID: "frame", Device: f.path, Data: []byte("jpeg"), CapturedAt: time.Now()}, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newAPIFixture(t *testing.T, recognizer http.HandlerFunc, opts ...Option) *apiFixture {
	t.Helper()
	if recognizer == nil {
		recognizer = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"matches":[]}`)
		}
	}
	server := httptest.NewServer(recognizer)
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithRecognitionURL(server.URL))
	cfg.Paths.APIToken = "static-admin-token"
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, logging.NewNop(), append([]Option{WithHotplug(false)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(d.captures.Close)

	f := &apiFixture{t: t, daemon: d, store: store, course: testsupport.SeedCourse(t, store, "Physics", 3)}
	f.owner = f.token(f.course.InstructorPrincipal())
	return f
}

func (f *apiFixture) token(p auth.Principal) string {
	f.t.Helper()
	raw, err := f.daemon.tokens.Issue(p)
	if err != nil {
		f.t.Fatalf("Issue: %v", err)
	}
	return raw
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.daemon.api.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[api.ErrorResponse](t, rec)
	if body.Kind != kind {
		t.Fatalf("expected kind %q, got %q (%s)", kind, body.Kind, body.Error)
	}
}

func (f *apiFixture) startSession() api.Session {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/sessions", f.owner, api.StartSessionRequest{CourseID: f.course.Course.ID})
	if rec.Code != http.StatusCreated {
		f.t.Fatalf("start session: %d %s", rec.Code, rec.Body.String())
	}
	return decodeBody[api.SessionResponse](f.t, rec).Session
}

func TestHealthIsPublicAndEverythingElseRequiresToken(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health 200, got %d", rec.Code)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("expected request id header")
	}

	rec = f.do(http.MethodGet, "/api/status", "", nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")
	rec = f.do(http.MethodGet, "/api/status", "not-a-jwt", nil)
	expectError(t, rec, http.StatusUnauthorized, "unauthenticated")

	rec = f.do(http.MethodGet, "/api/status", "static-admin-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected static token to authenticate, got %d", rec.Code)
	}
	status := decodeBody[api.DaemonStatus](t, rec)
	if status.ReconcilePolicy != "receipt_order" || len(status.Dependencies) == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStartSessionReportsConflictForbiddenAndNotFound(t *testing.T) {
	f := newAPIFixture(t, nil)
	session := f.startSession()
	if session.Status != "open" || len(session.AllowedActions) == 0 {
		t.Fatalf("unexpected session %+v", session)
	}

	rec := f.do(http.MethodPost, "/api/sessions", f.owner, api.StartSessionRequest{CourseID: f.course.Course.ID})
	expectError(t, rec, http.StatusConflict, "conflict")

	stranger := testsupport.MustCreateUser(t, f.store, "Stranger", auth.RoleInstructor)
	rec = f.do(http.MethodPost, "/api/sessions/"+itoa(session.ID)+"/end", f.token(stranger.Principal()), nil)
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = f.do(http.MethodGet, "/api/sessions/999", f.owner, nil)
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestRequestValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/sessions", f.owner, "{}")
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")
	if body := decodeBody[api.ErrorResponse](t, rec); !strings.Contains(body.Error, "courseId is required") {
		t.Fatalf("expected json field name in message, got %q", body.Error)
	}

	rec = f.do(http.MethodPost, "/api/sessions", f.owner, `{"courseId":1,"extra":true}`)
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")

	session := f.startSession()
	rec = f.do(http.MethodPost, "/api/sessions/"+itoa(session.ID)+"/attendance", f.owner,
		api.CreateRecordRequest{StudentID: f.course.Students[0].ID, Status: "late"})
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")

	rec = f.do(http.MethodGet, "/api/sessions/abc", f.owner, nil)
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")

	rec = f.do(http.MethodPost, "/api/sessions/"+itoa(session.ID)+"/explode", f.owner, nil)
	expectError(t, rec, http.StatusNotFound, "not_found")
}

func TestRosterEditsAndSubmit(t *testing.T) {
	f := newAPIFixture(t, nil)
	session := f.startSession()
	base := "/api/sessions/" + itoa(session.ID)
	students := f.course.Students

	rec := f.do(http.MethodPost, base+"/attendance", f.owner, api.CreateRecordRequest{StudentID: students[0].ID, Status: "present"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create record: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[api.RecordResponse](t, rec).Record
	if created.Origin != "manual" {
		t.Fatalf("unexpected origin %q", created.Origin)
	}

	rec = f.do(http.MethodPut, "/api/attendance/"+itoa(created.ID), f.owner, api.UpdateRecordRequest{Status: "absent"})
	if rec.Code != http.StatusOK || decodeBody[api.RecordResponse](t, rec).Record.Status != "absent" {
		t.Fatalf("update record: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPost, base+"/roster/"+itoa(students[1].ID)+"/toggle", f.owner, nil)
	if rec.Code != http.StatusOK || decodeBody[api.RecordResponse](t, rec).Record.Status != "present" {
		t.Fatalf("toggle: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, base+"/roster", f.owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("roster: %d", rec.Code)
	}
	roster := decodeBody[api.RosterResponse](t, rec)
	if roster.Summary.Total != 3 || roster.Summary.Present != 1 || roster.Summary.Absent != 1 || roster.Summary.Unseen != 1 {
		t.Fatalf("unexpected summary %+v", roster.Summary)
	}

	rec = f.do(http.MethodPost, base+"/submit", f.owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	submitted := decodeBody[api.SessionResponse](t, rec)
	if submitted.Session.Status != "submitted" || submitted.Materialized != 1 {
		t.Fatalf("unexpected submit result %+v", submitted)
	}

	rec = f.do(http.MethodGet, base+"/attendance", f.owner, nil)
	if ledger := decodeBody[api.LedgerResponse](t, rec); len(ledger.Records) != 3 {
		t.Fatalf("expected a full ledger after submit, got %d", len(ledger.Records))
	}

	rec = f.do(http.MethodPost, base+"/roster/"+itoa(students[2].ID)+"/toggle", f.owner, nil)
	expectError(t, rec, http.StatusConflict, "conflict")
	rec = f.do(http.MethodDelete, base, f.owner, nil)
	expectError(t, rec, http.StatusConflict, "conflict")
}

func TestStudentHistoryVisibility(t *testing.T) {
	f := newAPIFixture(t, nil)
	session := f.startSession()
	student := f.course.Students[0]
	f.do(http.MethodPost, "/api/sessions/"+itoa(session.ID)+"/attendance", f.owner, api.CreateRecordRequest{StudentID: student.ID, Status: "present"})

	own := f.token(student.Principal())
	rec := f.do(http.MethodGet, "/api/students/"+itoa(student.ID)+"/attendance", own, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own history: %d %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[api.StudentAttendanceResponse](t, rec)
	if len(report.History) != 1 || len(report.Courses) != 1 || report.Courses[0].Percent != 100 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = f.do(http.MethodGet, "/api/students/"+itoa(f.course.Students[1].ID)+"/attendance", own, nil)
	expectError(t, rec, http.StatusForbidden, "forbidden")
}

func TestRecognitionUploadMarksPresent(t *testing.T) {
	var matched atomic.Int64
	f := newAPIFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		_, _ = io.WriteString(w, `{"matches":[{"student_id":`+itoa(matched.Load())+`,"confidence":0.9},{"student_id":99999,"confidence":0.8}]}`)
	})
	studentID := f.course.Students[2].ID
	matched.Store(studentID)
	session := f.startSession()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		img.Set(x, 10, color.RGBA{R: 200, A: 255})
	}
	if err := jpeg.Encode(part, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/recognition/"+itoa(session.ID), body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.owner)
	rec := httptest.NewRecorder()
	f.daemon.api.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[api.DetectionResponse](t, rec)
	if result.Matches != 2 || len(result.Applied) != 1 || result.Applied[0] != studentID {
		t.Fatalf("unexpected detection %+v", result)
	}
	if len(result.Dropped) != 1 || result.Dropped[0] != 99999 {
		t.Fatalf("expected unknown student dropped, got %+v", result.Dropped)
	}

	record, err := f.store.RecordForStudent(context.Background(), session.ID, studentID)
	if err != nil || record == nil || record.Status != attendance.StatusPresent || record.Origin != attendance.OriginRecognized {
		t.Fatalf("expected recognized present record, got %+v %v", record, err)
	}

	rec = f.do(http.MethodPost, "/api/recognition/"+itoa(session.ID), f.owner, "not multipart")
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")
}

func TestCaptureToggleOverHTTP(t *testing.T) {
	source := &fakeSource{}
	f := newAPIFixture(t, nil, WithOpener(func(_ context.Context, device string) (capture.Source, error) {
		source.path = device
		return source, nil
	}))
	session := f.startSession()
	path := "/api/sessions/" + itoa(session.ID) + "/capture"
	active := true

	rec := f.do(http.MethodPut, path, f.owner, api.CaptureRequest{Active: &active, Device: "/dev/video7"})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", rec.Code, rec.Body.String())
	}
	if status := decodeBody[api.CaptureStatus](t, rec); !status.Active || status.Device != "/dev/video7" {
		t.Fatalf("unexpected status %+v", status)
	}
	rec = f.do(http.MethodPut, path, f.owner, api.CaptureRequest{Active: &active, Device: "/dev/video7"})
	expectError(t, rec, http.StatusConflict, "conflict")

	inactive := false
	rec = f.do(http.MethodPut, path, f.owner, api.CaptureRequest{Active: &inactive})
	if rec.Code != http.StatusOK || decodeBody[api.CaptureStatus](t, rec).Active {
		t.Fatalf("deactivate: %d %s", rec.Code, rec.Body.String())
	}
	source.mu.Lock()
	closed := source.closed
	source.mu.Unlock()
	if !closed {
		t.Fatal("expected device to be released")
	}

	rec = f.do(http.MethodPut, path, f.owner, `{"device":"/dev/video7"}`)
	expectError(t, rec, http.StatusUnprocessableEntity, "validation")
}

func TestDirectoryRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/users", f.owner, api.CreateUserRequest{Name: "New", Role: "student"})
	expectError(t, rec, http.StatusForbidden, "forbidden")

	rec = f.do(http.MethodPost, "/api/users", "static-admin-token", api.CreateUserRequest{Name: "New", Email: "new@example.edu", Role: "student"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}
	user := decodeBody[api.UserResponse](t, rec).User

	courseID := itoa(f.course.Course.ID)
	rec = f.do(http.MethodPost, "/api/courses/"+courseID+"/students", f.owner, api.EnrollRequest{StudentID: user.ID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("enroll: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodGet, "/api/courses/"+courseID+"/students", f.owner, nil)
	if students := decodeBody[api.StudentListResponse](t, rec).Students; len(students) != 4 {
		t.Fatalf("expected 4 students, got %d", len(students))
	}

	rec = f.do(http.MethodGet, "/api/courses", f.token(f.course.Students[0].Principal()), nil)
	if courses := decodeBody[api.CourseListResponse](t, rec).Courses; len(courses) != 1 || courses[0].ID != f.course.Course.ID {
		t.Fatalf("unexpected student courses %+v", courses)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
