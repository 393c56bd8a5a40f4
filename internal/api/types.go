package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// User is a directory entry.
type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// Course is a course with its owner.
type Course struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	InstructorID int64  `json:"instructorId"`
}

// Session describes one attendance session.
type Session struct {
	ID             int64    `json:"id"`
	CourseID       int64    `json:"courseId"`
	InstructorID   int64    `json:"instructorId"`
	Status         string   `json:"status"`
	StartedAt      string   `json:"startedAt"`
	EndedAt        string   `json:"endedAt,omitempty"`
	LedgerResetAt  string   `json:"ledgerResetAt,omitempty"`
	UpdatedAt      string   `json:"updatedAt"`
	AllowedActions []string `json:"allowedActions"`
}

// Record is one ledger row.
type Record struct {
	ID         int64  `json:"id"`
	SessionID  int64  `json:"sessionId"`
	StudentID  int64  `json:"studentId"`
	Status     string `json:"status"`
	Origin     string `json:"origin"`
	UpdatedAt  string `json:"updatedAt"`
	CapturedAt string `json:"capturedAt,omitempty"`
}

// RosterRow is one student in a projected roster.
type RosterRow struct {
	Student   User   `json:"student"`
	Status    string `json:"status"`
	Recorded  bool   `json:"recorded"`
	RecordID  int64  `json:"recordId,omitempty"`
	Origin    string `json:"origin,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// RosterSummary counts a roster.
type RosterSummary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Unseen  int `json:"unseen"`
}

// RosterResponse is the roster projection for a session.
type RosterResponse struct {
	Session Session       `json:"session"`
	Rows    []RosterRow   `json:"rows"`
	Summary RosterSummary `json:"summary"`
}

// LedgerResponse lists the raw records for a session.
type LedgerResponse struct {
	Session Session  `json:"session"`
	Records []Record `json:"records"`
}

// SessionResponse wraps a session after a lifecycle operation.
type SessionResponse struct {
	Session Session `json:"session"`
	// Cleared counts records removed by retake.
	Cleared int64 `json:"cleared,omitempty"`
	// Materialized counts absent records written by submit.
	Materialized int64 `json:"materialized,omitempty"`
}

// SessionListResponse wraps sessions for a course.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// StudentListResponse wraps the enrolled students of a course.
type StudentListResponse struct {
	Students []User `json:"students"`
}

// RecordResponse wraps a single record.
type RecordResponse struct {
	Record Record `json:"record"`
}

// HistoryEntry is one record in a student's history.
type HistoryEntry struct {
	Record
	CourseID         int64  `json:"courseId"`
	CourseName       string `json:"courseName"`
	SessionStartedAt string `json:"sessionStartedAt"`
	SessionStatus    string `json:"sessionStatus"`
}

// CourseAttendance is one course line in a student report.
type CourseAttendance struct {
	CourseID   int64   `json:"courseId"`
	CourseName string  `json:"courseName"`
	Sessions   int     `json:"sessions"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Percent    float64 `json:"percent"`
}

// StudentAttendanceResponse is a student's history and course percentages.
type StudentAttendanceResponse struct {
	Student User               `json:"student"`
	History []HistoryEntry     `json:"history"`
	Courses []CourseAttendance `json:"courses"`
}

// CaptureStatus reports the capture loop for a session.
type CaptureStatus struct {
	SessionID   int64  `json:"sessionId"`
	Active      bool   `json:"active"`
	Device      string `json:"device,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	Captured    int    `json:"captured"`
	Submitted   int    `json:"submitted"`
	Skipped     int    `json:"skipped"`
	Failures    int    `json:"failures"`
	InFlight    int    `json:"inFlight"`
	LastError   string `json:"lastError,omitempty"`
	LastFrameAt string `json:"lastFrameAt,omitempty"`
	StopReason  string `json:"stopReason,omitempty"`
}

// Camera is a discovered video device.
type Camera struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
	// InUseBy is the session capturing from the device, zero when idle.
	InUseBy int64 `json:"inUseBy,omitempty"`
}

// CameraListResponse wraps discovered cameras.
type CameraListResponse struct {
	Cameras []Camera `json:"cameras"`
}

// DetectionResponse reports what an uploaded frame did to the ledger.
type DetectionResponse struct {
	FrameID string  `json:"frameId"`
	Matches int     `json:"matches"`
	Applied []int64 `json:"applied"`
	Stale   []int64 `json:"stale,omitempty"`
	Dropped []int64 `json:"dropped,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running         bool               `json:"running"`
	PID             int                `json:"pid"`
	DatabasePath    string             `json:"databasePath"`
	LockFilePath    string             `json:"lockFilePath"`
	APIBind         string             `json:"apiBind"`
	ReconcilePolicy string             `json:"reconcilePolicy"`
	Hotplug         bool               `json:"hotplug"`
	Captures        []CaptureStatus    `json:"captures"`
	Dependencies    []DependencyStatus `json:"dependencies"`
}

// HealthResponse is returned by the unauthenticated health probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// StartSessionRequest opens a session for a course.
type StartSessionRequest struct {
	CourseID int64 `json:"courseId" validate:"required,gt=0"`
}

// CreateRecordRequest writes a manual record for a pair.
type CreateRecordRequest struct {
	StudentID int64  `json:"studentId" validate:"required,gt=0"`
	Status    string `json:"status" validate:"required,oneof=present absent"`
}

// UpdateRecordRequest overwrites a record's status.
type UpdateRecordRequest struct {
	Status string `json:"status" validate:"required,oneof=present absent"`
}

// CaptureRequest toggles capture for a session.
type CaptureRequest struct {
	Active *bool  `json:"active" validate:"required"`
	Device string `json:"device,omitempty" validate:"omitempty,startswith=/dev/"`
}

// UserResponse wraps a single directory entry.
type UserResponse struct {
	User User `json:"user"`
}

// UserListResponse wraps directory entries.
type UserListResponse struct {
	Users []User `json:"users"`
}

// CourseResponse wraps a single course.
type CourseResponse struct {
	Course Course `json:"course"`
}

// CourseListResponse wraps courses.
type CourseListResponse struct {
	Courses []Course `json:"courses"`
}

// CreateUserRequest adds a directory entry.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Role  string `json:"role" validate:"required,oneof=admin instructor teacher student"`
}

// CreateCourseRequest adds a course owned by an instructor.
type CreateCourseRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	InstructorID int64  `json:"instructorId" validate:"required,gt=0"`
}

// EnrollRequest adds a student to a course.
type EnrollRequest struct {
	StudentID int64 `json:"studentId" validate:"required,gt=0"`
}
