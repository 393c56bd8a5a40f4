package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateSession opens a new session for courseID. It fails with
// services.ErrConflict when the course already has an open session.
func (s *Store) CreateSession(ctx context.Context, courseID, instructorID int64) (*Session, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM sessions WHERE course_id = ? AND status = ?`, courseID, SessionOpen,
		).Scan(&existing)
		switch {
		case err == nil:
			return conflict("start session", fmt.Sprintf("course %d already has open session %d", courseID, existing), nil)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check open session: %w", err)
		}

		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (course_id, instructor_id, status, started_at, updated_at)
             VALUES (?, ?, ?, ?, ?)`,
			courseID, instructorID, SessionOpen, now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return conflict("start session", fmt.Sprintf("course %d already has an open session", courseID), err)
			}
			return fmt.Errorf("insert session: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// GetSession fetches a session by identifier.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get session", "session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// OpenSessionForCourse returns the open session for a course, or nil when none exists.
func (s *Store) OpenSessionForCourse(ctx context.Context, courseID int64) (*Session, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+sessionColumns+` FROM sessions WHERE course_id = ? AND status = ?`,
		courseID, SessionOpen,
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open session for course: %w", err)
	}
	return session, nil
}

// ListSessionsForCourse returns a course's sessions, newest first.
func (s *Store) ListSessionsForCourse(ctx context.Context, courseID int64) ([]Session, error) {
	return s.querySessions(ctx, "list sessions",
		`SELECT `+sessionColumns+` FROM sessions WHERE course_id = ? ORDER BY started_at DESC, id DESC`,
		courseID,
	)
}

// ListSessionsByStatus returns every session in one of the given statuses.
func (s *Store) ListSessionsByStatus(ctx context.Context, statuses ...SessionStatus) ([]Session, error) {
	if len(statuses) == 0 {
		return s.querySessions(ctx, "list sessions", `SELECT `+sessionColumns+` FROM sessions ORDER BY id`)
	}
	args := make([]any, 0, len(statuses))
	for _, status := range statuses {
		args = append(args, status)
	}
	return s.querySessions(ctx, "list sessions",
		`SELECT `+sessionColumns+` FROM sessions WHERE status IN (`+makePlaceholders(len(statuses))+`) ORDER BY id`,
		args...,
	)
}

func (s *Store) querySessions(ctx context.Context, operation, query string, args ...any) ([]Session, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// EndSession moves an open session to closed and stamps ended_at.
func (s *Store) EndSession(ctx context.Context, id int64) (*Session, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			SessionClosed, now, now, id, SessionOpen,
		)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		return requireTransition(ctx, tx, res, id, "end session")
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// ReopenSession moves a closed session back to open.
func (s *Store) ReopenSession(ctx context.Context, id int64) (*Session, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
			SessionOpen, s.timestamp(), id, SessionClosed,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return conflict("continue session", "course already has another open session", err)
			}
			return fmt.Errorf("continue session: %w", err)
		}
		return requireTransition(ctx, tx, res, id, "continue session")
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

// RetakeSession deletes every record of a non-submitted session and reopens it
// in one transaction. It returns the number of records removed.
func (s *Store) RetakeSession(ctx context.Context, id int64) (*Session, int64, error) {
	var cleared int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireNotSubmitted(ctx, tx, id, "retake session"); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("clear ledger: %w", err)
		}
		cleared, _ = res.RowsAffected()
		now := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = NULL, ledger_reset_at = ?, updated_at = ? WHERE id = ?`,
			SessionOpen, now, now, id,
		); err != nil {
			if isUniqueViolation(err) {
				return conflict("retake session", "course already has another open session", err)
			}
			return fmt.Errorf("reopen session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	session, err := s.GetSession(ctx, id)
	return session, cleared, err
}

// SubmitSession finalizes a closed session. Enrolled students without a record
// are materialized as absent so the ledger is total over the roster. It
// returns the number of records materialized.
func (s *Store) SubmitSession(ctx context.Context, id int64) (*Session, int64, error) {
	var materialized int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = COALESCE(ended_at, ?), updated_at = ?
             WHERE id = ? AND status = ?`,
			SessionSubmitted, now, now, id, SessionClosed,
		)
		if err != nil {
			return fmt.Errorf("submit session: %w", err)
		}
		if err := requireTransition(ctx, tx, res, id, "submit session"); err != nil {
			return err
		}
		// Absentees are written as manual records: finalizing is an instructor action.
		res, err = tx.ExecContext(ctx,
			`INSERT INTO attendance_records (session_id, student_id, status, origin, updated_at)
             SELECT s.id, e.student_id, ?, ?, ?
             FROM sessions s JOIN enrollments e ON e.course_id = s.course_id
             WHERE s.id = ?
               AND NOT EXISTS (
                   SELECT 1 FROM attendance_records r
                   WHERE r.session_id = s.id AND r.student_id = e.student_id
               )`,
			StatusAbsent, OriginManual, now, id,
		)
		if err != nil {
			return fmt.Errorf("materialize absentees: %w", err)
		}
		materialized, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	session, err := s.GetSession(ctx, id)
	return session, materialized, err
}

// DeleteSession removes a non-submitted session and its ledger.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireNotSubmitted(ctx, tx, id, "delete session"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("delete ledger: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func sessionStatusTx(ctx context.Context, tx *sql.Tx, id int64, operation string) (SessionStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(operation, "session", id)
	}
	if err != nil {
		return "", fmt.Errorf("%s: load status: %w", operation, err)
	}
	return SessionStatus(status), nil
}

func requireNotSubmitted(ctx context.Context, tx *sql.Tx, id int64, operation string) error {
	status, err := sessionStatusTx(ctx, tx, id, operation)
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		return conflict(operation, fmt.Sprintf("session %d is submitted", id), nil)
	}
	return nil
}

// requireTransition turns a conditional update that matched no rows into
// NotFound or Conflict depending on whether the session exists.
func requireTransition(ctx context.Context, tx *sql.Tx, res sql.Result, id int64, operation string) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	status, err := sessionStatusTx(ctx, tx, id, operation)
	if err != nil {
		return err
	}
	return conflict(operation, fmt.Sprintf("session %d is %s", id, status), nil)
}
