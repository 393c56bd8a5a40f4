package attendance

import (
	"database/sql"
	"errors"
	"time"

	"rollcall/internal/auth"
)

// timestampLayout is fixed width so stored values compare correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sessionColumns = "id, course_id, instructor_id, status, started_at, ended_at, ledger_reset_at, updated_at"
	recordColumns  = "id, session_id, student_id, status, origin, updated_at, captured_at"
	userColumns    = "id, name, email, role, created_at"
	courseColumns  = "id, name, instructor_id, created_at"
)

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(scanner rowScanner) (*Session, error) {
	var (
		session    Session
		statusStr  string
		startedRaw string
		endedRaw   sql.NullString
		resetRaw   sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(
		&session.ID,
		&session.CourseID,
		&session.InstructorID,
		&statusStr,
		&startedRaw,
		&endedRaw,
		&resetRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	session.Status = SessionStatus(statusStr)
	if started, err := parseTimeString(startedRaw); err == nil {
		session.StartedAt = started
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = updated
	}
	session.EndedAt = parseNullableTime(endedRaw)
	session.LedgerResetAt = parseNullableTime(resetRaw)
	return &session, nil
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		record      Record
		statusStr   string
		originStr   string
		updatedRaw  string
		capturedRaw sql.NullString
	)
	if err := scanner.Scan(
		&record.ID,
		&record.SessionID,
		&record.StudentID,
		&statusStr,
		&originStr,
		&updatedRaw,
		&capturedRaw,
	); err != nil {
		return nil, err
	}
	record.Status = RecordStatus(statusStr)
	record.Origin = Origin(originStr)
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	record.CapturedAt = parseNullableTime(capturedRaw)
	return &record, nil
}

func scanUser(scanner rowScanner) (*User, error) {
	var (
		user       User
		roleStr    string
		createdRaw string
	)
	if err := scanner.Scan(&user.ID, &user.Name, &user.Email, &roleStr, &createdRaw); err != nil {
		return nil, err
	}
	user.Role = auth.Role(roleStr)
	if created, err := parseTimeString(createdRaw); err == nil {
		user.CreatedAt = created
	}
	return &user, nil
}

func scanCourse(scanner rowScanner) (*Course, error) {
	var (
		course     Course
		createdRaw string
	)
	if err := scanner.Scan(&course.ID, &course.Name, &course.InstructorID, &createdRaw); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		course.CreatedAt = created
	}
	return &course, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
