package daemon

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/camera"
	"rollcall/internal/capture"
	"rollcall/internal/lifecycle"
	"rollcall/internal/logging"
	"rollcall/internal/recognition"
	"rollcall/internal/roster"
	"rollcall/internal/services"
)

const maxUploadBytes = 10 << 20

func (s *apiServer) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.CreateRecordRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.daemon.engine.Create(services.WithSessionID(r.Context(), sessionID), principalFrom(r),
		sessionID, req.StudentID, attendance.RecordStatus(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.RecordResponse{Record: api.FromRecord(*record)})
}

func (s *apiServer) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.UpdateRecordRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.daemon.engine.Mark(r.Context(), principalFrom(r), recordID, attendance.RecordStatus(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordResponse{Record: api.FromRecord(*record)})
}

func (s *apiServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	studentID, err := pathID(r, "student")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.daemon.engine.Toggle(services.WithSessionID(r.Context(), sessionID), principalFrom(r), sessionID, studentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.RecordResponse{Record: api.FromRecord(*record)})
}

func (s *apiServer) handleStudentAttendance(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	principal := principalFrom(r)
	if !principal.CanViewStudent(studentID) {
		s.writeError(w, r, services.Wrap(services.ErrForbidden, "api", "student attendance", "students may only view their own history", nil))
		return
	}
	ctx := r.Context()
	student, err := s.daemon.store.GetUser(ctx, studentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.daemon.store.ListHistoryForStudent(ctx, studentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	courses, err := s.daemon.store.EnrolledCourses(ctx, studentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids := make([]int64, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	counts, err := s.daemon.store.CountSessionsByCourse(ctx, ids)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStudentReport(*student, history, roster.StudentReport(history, courses, counts)))
}

// handleRecognitionUpload accepts a frame from an external capture client,
// forwards it to the recognizer, and reconciles the result.
func (s *apiServer) handleRecognitionUpload(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "session")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithSessionID(r.Context(), sessionID)
	if _, err := s.daemon.sessions.Authorize(ctx, principalFrom(r), sessionID, lifecycle.ActionCapture); err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "frame exceeds 10 MiB", nil))
			return
		}
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "multipart field \"file\" is required", err))
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "read frame", err))
		return
	}

	capturedAt := time.Now().UTC()
	if value := r.FormValue("captured_at"); value != "" {
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "captured_at must be RFC3339", err))
			return
		}
		capturedAt = parsed.UTC()
	}

	cfg := s.daemon.cfg.Camera
	data, width, height, err := camera.Recompress(raw, cfg.MaxFrameWidth, cfg.JPEGQuality)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "frame is not a decodable image", err))
		return
	}
	frame := camera.Frame{
		ID:         uuid.NewString(),
		Device:     "upload",
		Data:       data,
		Width:      width,
		Height:     height,
		CapturedAt: capturedAt,
	}

	matches, err := s.daemon.recognizer.Recognize(ctx, recognition.Request{
		SessionID:  sessionID,
		FrameID:    frame.ID,
		Image:      frame.Data,
		CapturedAt: frame.CapturedAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	outcome, err := s.daemon.engine.ApplyDetection(ctx, capture.Detection(sessionID, frame, time.Now().UTC(), matches))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(ctx, s.logger).Info("uploaded frame reconciled",
		logging.String(logging.FieldEventType, "upload_reconciled"),
		logging.String(logging.FieldFrameID, frame.ID),
		logging.Int("matches", len(matches)),
		logging.Int("applied", len(outcome.Applied)),
	)
	slices.Sort(outcome.Applied)
	s.writeJSON(w, http.StatusOK, api.FromOutcome(frame.ID, len(matches), outcome))
}
