// Package attendance persists attendance sessions and their ledgers in SQLite.
//
// The Store owns schema creation and exposes the directory tables (users,
// courses, enrollments) alongside sessions and attendance records. Two rules
// are enforced by the schema itself rather than by callers: at most one open
// session per course, and at most one record per (session, student) pair.
// Session transitions are conditional updates, so a caller that lost a race
// receives services.ErrConflict instead of silently clobbering state.
package attendance
