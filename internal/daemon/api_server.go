package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"rollcall/internal/api"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

const maxJSONBody = 1 << 20

type apiServer struct {
	bind     string
	apiToken string
	logger   *slog.Logger
	daemon   *Daemon
	validate *validator.Validate
	handler  http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		apiToken: strings.TrimSpace(cfg.Paths.APIToken),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		validate: newValidator(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)

	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, srv.authenticate(h))
	}
	authed("GET /api/status", srv.handleStatus)
	authed("GET /api/cameras", srv.handleCameras)

	authed("POST /api/sessions", srv.handleStartSession)
	authed("GET /api/sessions/{id}", srv.handleGetSession)
	authed("DELETE /api/sessions/{id}", srv.handleDeleteSession)
	authed("POST /api/sessions/{id}/{action}", srv.handleSessionAction)
	authed("GET /api/sessions/{id}/attendance", srv.handleLedger)
	authed("POST /api/sessions/{id}/attendance", srv.handleCreateRecord)
	authed("GET /api/sessions/{id}/roster", srv.handleRoster)
	authed("POST /api/sessions/{id}/roster/{student}/toggle", srv.handleToggle)
	authed("GET /api/sessions/{id}/capture", srv.handleCaptureStatus)
	authed("PUT /api/sessions/{id}/capture", srv.handleCapture)
	authed("PUT /api/attendance/{id}", srv.handleUpdateRecord)
	authed("POST /api/recognition/{session}", srv.handleRecognitionUpload)

	authed("GET /api/courses", srv.handleListCourses)
	authed("POST /api/courses", srv.handleCreateCourse)
	authed("GET /api/courses/{id}/sessions", srv.handleCourseSessions)
	authed("GET /api/courses/{id}/students", srv.handleCourseStudents)
	authed("POST /api/courses/{id}/students", srv.handleEnroll)
	authed("DELETE /api/courses/{id}/students/{student}", srv.handleUnenroll)
	authed("GET /api/students/{id}/attendance", srv.handleStudentAttendance)
	authed("GET /api/users", srv.handleListUsers)
	authed("POST /api/users", srv.handleCreateUser)

	srv.handler = srv.withRequestID(mux)
	return srv
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled", logging.String(logging.FieldEventType, "api_disabled"))
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.store.Ping(r.Context()); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrTransient, "api", "health", "database unavailable", err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	captures := make([]api.CaptureStatus, 0, len(status.Captures))
	for _, c := range status.Captures {
		captures = append(captures, api.FromCaptureStatus(c))
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:         status.Running,
		PID:             status.PID,
		DatabasePath:    status.DatabasePath,
		LockFilePath:    status.LockFilePath,
		APIBind:         status.APIBind,
		ReconcilePolicy: status.ReconcilePolicy,
		Hotplug:         status.Hotplug,
		Captures:        captures,
		Dependencies:    api.FromDependencies(status.Dependencies),
	})
}

// decode reads a JSON body into dst and validates its struct tags.
func (s *apiServer) decode(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode", "invalid JSON body", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			return services.Wrap(services.ErrValidation, "api", "decode", describeFieldErrors(fieldErrs), nil)
		}
		return services.Wrap(services.ErrValidation, "api", "decode", "invalid request", err)
	}
	return nil
}

func describeFieldErrors(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		default:
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		}
	}
	return strings.Join(parts, "; ")
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, services.Wrap(services.ErrValidation, "api", "path", fmt.Sprintf("invalid %s %q", name, raw), nil)
	}
	return id, nil
}

func principalFrom(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

// writeError reports err with the status and kind its marker maps to.
func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	kind := services.Kind(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
		kind = services.KindInternal
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="rollcall"`)
	}
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.String("kind", kind),
			logging.Error(err),
		)
	} else {
		logger.Debug("api request rejected",
			logging.String("path", r.URL.Path),
			logging.String("kind", kind),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: kind})
}
