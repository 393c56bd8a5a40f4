package daemon

import (
	"net/http"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/lifecycle"
	"rollcall/internal/roster"
	"rollcall/internal/services"
)

func (s *apiServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	principal := principalFrom(r)
	session, err := s.daemon.sessions.Start(r.Context(), principal, req.CourseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SessionResponse{Session: api.FromSession(*session, principal)})
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, principal, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSession(*session, principal)})
}

func (s *apiServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.daemon.sessions.Delete(r.Context(), principalFrom(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithSessionID(r.Context(), id)
	principal := principalFrom(r)

	var result lifecycle.Result
	switch lifecycle.Action(r.PathValue("action")) {
	case lifecycle.ActionEnd:
		var session *attendance.Session
		session, err = s.daemon.sessions.End(ctx, principal, id)
		if session != nil {
			result.Session = *session
		}
	case lifecycle.ActionContinue:
		var session *attendance.Session
		session, err = s.daemon.sessions.Continue(ctx, principal, id)
		if session != nil {
			result.Session = *session
		}
	case lifecycle.ActionRetake:
		result, err = s.daemon.sessions.Retake(ctx, principal, id)
	case lifecycle.ActionSubmit:
		result, err = s.daemon.sessions.Submit(ctx, principal, id)
	default:
		err = services.Wrap(services.ErrNotFound, "api", "session action", "unknown action "+r.PathValue("action"), nil)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{
		Session:      api.FromSession(result.Session, principal),
		Cleared:      result.Cleared,
		Materialized: result.Materialized,
	})
}

func (s *apiServer) handleCourseSessions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	principal := principalFrom(r)
	sessions, err := s.daemon.sessions.ListForCourse(services.WithCourseID(r.Context(), id), principal, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: api.FromSessions(sessions, principal)})
}

func (s *apiServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	session, principal, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	records, err := s.daemon.store.ListRecordsForSession(r.Context(), session.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.LedgerResponse{
		Session: api.FromSession(*session, principal),
		Records: api.FromRecords(records),
	})
}

func (s *apiServer) handleRoster(w http.ResponseWriter, r *http.Request) {
	session, principal, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	resp, err := s.buildRoster(r, session, principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) buildRoster(r *http.Request, session *attendance.Session, principal auth.Principal) (api.RosterResponse, error) {
	students, err := s.daemon.store.ListEnrolledStudents(r.Context(), session.CourseID)
	if err != nil {
		return api.RosterResponse{}, err
	}
	records, err := s.daemon.store.ListRecordsForSession(r.Context(), session.ID)
	if err != nil {
		return api.RosterResponse{}, err
	}
	rows := roster.Project(students, records)
	return api.FromRoster(api.FromSession(*session, principal), rows, roster.Summarize(rows)), nil
}

// loadSession resolves {id} to a session the caller may view.
func (s *apiServer) loadSession(w http.ResponseWriter, r *http.Request) (*attendance.Session, auth.Principal, bool) {
	principal := principalFrom(r)
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return nil, principal, false
	}
	session, err := s.daemon.sessions.Get(services.WithSessionID(r.Context(), id), principal, id)
	if err != nil {
		s.writeError(w, r, err)
		return nil, principal, false
	}
	return session, principal, true
}
