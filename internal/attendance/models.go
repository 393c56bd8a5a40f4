package attendance

import (
	"fmt"
	"strings"
	"time"

	"rollcall/internal/auth"
)

// SessionStatus represents the lifecycle of an attendance session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionSubmitted SessionStatus = "submitted"
)

// IsTerminal reports whether no further transitions are permitted.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionSubmitted
}

// RecordStatus is the attendance outcome for one student in one session.
type RecordStatus string

const (
	StatusPresent RecordStatus = "present"
	StatusAbsent  RecordStatus = "absent"
)

// Flip returns the opposite status.
func (s RecordStatus) Flip() RecordStatus {
	if s == StatusPresent {
		return StatusAbsent
	}
	return StatusPresent
}

// ParseRecordStatus validates a status supplied by a caller.
func ParseRecordStatus(value string) (RecordStatus, error) {
	switch RecordStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPresent:
		return StatusPresent, nil
	case StatusAbsent:
		return StatusAbsent, nil
	default:
		return "", fmt.Errorf("invalid attendance status %q", value)
	}
}

// Origin records which signal last wrote a record.
type Origin string

const (
	OriginRecognized Origin = "recognized"
	OriginManual     Origin = "manual"
)

// User is a directory entry. Students, instructors, and admins share the table.
type User struct {
	ID        int64
	Name      string
	Email     string
	Role      auth.Role
	CreatedAt time.Time
}

// Principal returns the auth principal for u.
func (u User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Name: u.Name, Role: u.Role}
}

// Course is owned by one instructor.
type Course struct {
	ID           int64
	Name         string
	InstructorID int64
	CreatedAt    time.Time
}

// Session is one attendance-taking window for a course. LedgerResetAt is set
// by retake; frames captured before it are stale.
type Session struct {
	ID            int64
	CourseID      int64
	InstructorID  int64
	Status        SessionStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	LedgerResetAt *time.Time
	UpdatedAt     time.Time
}

// Record is the ledger row for one (session, student) pair.
type Record struct {
	ID         int64
	SessionID  int64
	StudentID  int64
	Status     RecordStatus
	Origin     Origin
	UpdatedAt  time.Time
	CapturedAt *time.Time
}

// RecordWrite is one upsert against the ledger.
type RecordWrite struct {
	SessionID int64
	StudentID int64
	Status    RecordStatus
	Origin    Origin
	// At is stored as updated_at.
	At time.Time
	// CapturedAt is the frame capture time for recognized writes.
	CapturedAt *time.Time
	// RejectStale skips the write when the stored record is newer than At.
	RejectStale bool
}

// HistoryEntry is a record joined with its session and course for student views.
type HistoryEntry struct {
	Record
	CourseID   int64
	CourseName string
	StartedAt  time.Time
	Session    SessionStatus
}
