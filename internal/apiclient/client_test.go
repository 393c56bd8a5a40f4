package apiclient_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/apiclient"
	"rollcall/internal/services"
)

func newServer(t *testing.T, handler http.HandlerFunc) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return apiclient.New(srv.URL+"/", "secret-token")
}

func TestErrorsCarryKindAcrossTheWire(t *testing.T) {
	tests := []struct {
		status int
		kind   string
		want   error
	}{
		{http.StatusForbidden, services.KindForbidden, services.ErrForbidden},
		{http.StatusNotFound, services.KindNotFound, services.ErrNotFound},
		{http.StatusConflict, services.KindConflict, services.ErrConflict},
		{http.StatusUnprocessableEntity, services.KindValidation, services.ErrValidation},
		{http.StatusUnauthorized, "", services.ErrUnauthenticated},
		{http.StatusBadGateway, "", services.ErrTransient},
	}
	for _, tt := range tests {
		client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			if tt.kind != "" {
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "boom: " + tt.kind, Kind: tt.kind})
			}
		})
		_, err := client.Session(t.Context(), 1)
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		var apiErr *apiclient.Error
		if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
			t.Fatalf("status %d: expected *apiclient.Error, got %#v", tt.status, err)
		}
	}
	forbidden := &apiclient.Error{Status: http.StatusForbidden, Kind: services.KindForbidden}
	if errors.Is(forbidden, services.ErrNotFound) {
		t.Fatal("forbidden must not read as not found")
	}
}

func TestRequestsSendTokenAndBody(t *testing.T) {
	var (
		gotAuth   string
		gotMethod string
		gotPath   string
		gotBody   api.StartSessionRequest
	)
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.SessionResponse{Session: api.Session{ID: 7, CourseID: 3, Status: "open"}})
	})

	resp, err := client.StartSession(t.Context(), 3)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/sessions" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotBody.CourseID != 3 {
		t.Fatalf("unexpected body %+v", gotBody)
	}
	if resp.Session.ID != 7 || resp.Session.Status != "open" {
		t.Fatalf("unexpected response %+v", resp.Session)
	}
}

func TestNoContentResponses(t *testing.T) {
	var gotPath string
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.Unenroll(t.Context(), 4, 9); err != nil {
		t.Fatalf("Unenroll: %v", err)
	}
	if gotPath != "DELETE /api/courses/4/students/9" {
		t.Fatalf("unexpected request %q", gotPath)
	}
	if err := client.DeleteSession(t.Context(), 5); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if gotPath != "DELETE /api/sessions/5" {
		t.Fatalf("unexpected request %q", gotPath)
	}
}

func TestUploadFrameSendsMultipart(t *testing.T) {
	captured := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/recognition/12" {
			http.Error(w, "wrong path", http.StatusNotFound)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg-bytes" || r.FormValue("captured_at") != "2026-03-02T09:30:00Z" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.DetectionResponse{FrameID: "f1", Matches: 1, Applied: []int64{4}})
	})

	resp, err := client.UploadFrame(t.Context(), 12, []byte("jpeg-bytes"), captured)
	if err != nil {
		t.Fatalf("UploadFrame: %v", err)
	}
	if resp.Matches != 1 || len(resp.Applied) != 1 || resp.Applied[0] != 4 {
		t.Fatalf("unexpected detection %+v", resp)
	}
}

func TestUnreachableDaemonIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client := apiclient.New(addr, "")
	err := client.Health(t.Context())
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
