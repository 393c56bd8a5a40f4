package daemon

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/auth"
	"rollcall/internal/logging"
	"rollcall/internal/services"
)

const headerRequestID = "X-Request-ID"

// tokenPrincipal is the caller authenticated by the static api token.
var tokenPrincipal = auth.Principal{Name: "api-token", Role: auth.RoleAdmin}

// authenticate requires "Authorization: Bearer <token>" where the token is a
// signed principal token or, when configured, the static api token.
func (s *apiServer) authenticate(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			s.writeError(w, r, services.Wrap(services.ErrUnauthenticated, "api", "authenticate", "bearer token required", nil))
			return
		}
		raw = strings.TrimSpace(raw)

		var principal auth.Principal
		if s.apiToken != "" && raw == s.apiToken {
			principal = tokenPrincipal
		} else {
			p, err := s.daemon.tokens.Verify(raw)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			principal = p
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// withRequestID tags each request with a correlation id, reusing the
// caller's X-Request-ID when present, and logs completion at debug level.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := services.WithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
