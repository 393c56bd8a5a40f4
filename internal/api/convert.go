package api

import (
	"strings"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/camera"
	"rollcall/internal/capture"
	"rollcall/internal/deps"
	"rollcall/internal/lifecycle"
	"rollcall/internal/reconcile"
	"rollcall/internal/roster"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// ParseTime reads a timestamp produced by this package. Empty input yields
// the zero time.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// FromUser converts a directory entry.
func FromUser(u attendance.User) User {
	return User{ID: u.ID, Name: u.Name, Email: u.Email, Role: string(u.Role)}
}

// FromUsers converts a list of directory entries.
func FromUsers(users []attendance.User) []User {
	out := make([]User, 0, len(users))
	for _, u := range users {
		out = append(out, FromUser(u))
	}
	return out
}

// FromCourse converts a course.
func FromCourse(c attendance.Course) Course {
	return Course{ID: c.ID, Name: c.Name, InstructorID: c.InstructorID}
}

// FromSession converts a session and lists the actions principal may take.
func FromSession(s attendance.Session, principal auth.Principal) Session {
	actions := lifecycle.AllowedActions(s, principal)
	allowed := make([]string, 0, len(actions))
	for _, a := range actions {
		allowed = append(allowed, string(a))
	}
	return Session{
		ID:             s.ID,
		CourseID:       s.CourseID,
		InstructorID:   s.InstructorID,
		Status:         string(s.Status),
		StartedAt:      formatTime(s.StartedAt),
		EndedAt:        formatOptionalTime(s.EndedAt),
		LedgerResetAt:  formatOptionalTime(s.LedgerResetAt),
		UpdatedAt:      formatTime(s.UpdatedAt),
		AllowedActions: allowed,
	}
}

// FromSessions converts a list of sessions for principal.
func FromSessions(sessions []attendance.Session, principal auth.Principal) []Session {
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, FromSession(s, principal))
	}
	return out
}

// FromRecord converts a ledger row.
func FromRecord(r attendance.Record) Record {
	return Record{
		ID:         r.ID,
		SessionID:  r.SessionID,
		StudentID:  r.StudentID,
		Status:     string(r.Status),
		Origin:     string(r.Origin),
		UpdatedAt:  formatTime(r.UpdatedAt),
		CapturedAt: formatOptionalTime(r.CapturedAt),
	}
}

// FromRecords converts ledger rows.
func FromRecords(records []attendance.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}

// FromRoster converts a projected roster and its summary.
func FromRoster(session Session, rows []roster.Row, summary roster.Summary) RosterResponse {
	out := RosterResponse{
		Session: session,
		Rows:    make([]RosterRow, 0, len(rows)),
		Summary: RosterSummary{
			Total:   summary.Total,
			Present: summary.Present,
			Absent:  summary.Absent,
			Unseen:  summary.Unseen,
		},
	}
	for _, row := range rows {
		out.Rows = append(out.Rows, RosterRow{
			Student:   FromUser(row.Student),
			Status:    string(row.Status),
			Recorded:  row.Recorded,
			RecordID:  row.RecordID,
			Origin:    string(row.Origin),
			UpdatedAt: formatOptionalTime(row.UpdatedAt),
		})
	}
	return out
}

// FromStudentReport converts a student's history and course percentages.
func FromStudentReport(student attendance.User, history []attendance.HistoryEntry, courses []roster.CourseAttendance) StudentAttendanceResponse {
	out := StudentAttendanceResponse{
		Student: FromUser(student),
		History: make([]HistoryEntry, 0, len(history)),
		Courses: make([]CourseAttendance, 0, len(courses)),
	}
	for _, h := range history {
		out.History = append(out.History, HistoryEntry{
			Record:           FromRecord(h.Record),
			CourseID:         h.CourseID,
			CourseName:       h.CourseName,
			SessionStartedAt: formatTime(h.StartedAt),
			SessionStatus:    string(h.Session),
		})
	}
	for _, c := range courses {
		out.Courses = append(out.Courses, CourseAttendance{
			CourseID:   c.CourseID,
			CourseName: c.CourseName,
			Sessions:   c.Sessions,
			Present:    c.Present,
			Absent:     c.Absent,
			Percent:    c.Percent,
		})
	}
	return out
}

// FromCaptureStatus converts capture loop state.
func FromCaptureStatus(s capture.Status) CaptureStatus {
	return CaptureStatus{
		SessionID:   s.SessionID,
		Active:      s.Active,
		Device:      s.Device,
		StartedAt:   formatTime(s.StartedAt),
		Captured:    s.Captured,
		Submitted:   s.Submitted,
		Skipped:     s.Skipped,
		Failures:    s.Failures,
		InFlight:    s.InFlight,
		LastError:   s.LastError,
		LastFrameAt: formatOptionalTime(s.LastFrameAt),
		StopReason:  string(s.StopReason),
	}
}

// FromCameras joins discovered devices with active captures.
func FromCameras(devices []camera.Info, active []capture.Status) []Camera {
	inUse := make(map[string]int64, len(active))
	for _, s := range active {
		inUse[s.Device] = s.SessionID
	}
	out := make([]Camera, 0, len(devices))
	for _, d := range devices {
		out = append(out, Camera{Path: d.Path, Name: d.Name, InUseBy: inUse[d.Path]})
	}
	return out
}

// FromOutcome converts a reconciled detection.
func FromOutcome(frameID string, matches int, outcome reconcile.Outcome) DetectionResponse {
	applied := outcome.Applied
	if applied == nil {
		applied = []int64{}
	}
	return DetectionResponse{
		FrameID: frameID,
		Matches: matches,
		Applied: applied,
		Stale:   outcome.Stale,
		Dropped: outcome.Dropped,
	}
}

// FromDependencies converts dependency checks.
func FromDependencies(list []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(list))
	for i, dep := range list {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}
