package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rollcall/internal/services"
)

// UpsertRecord writes one signal for a (session, student) pair. A second
// signal updates the existing row. The bool result is false when RejectStale
// suppressed the write because the stored record is newer.
func (s *Store) UpsertRecord(ctx context.Context, w RecordWrite) (*Record, bool, error) {
	if w.Status != StatusPresent && w.Status != StatusAbsent {
		return nil, false, services.Wrap(services.ErrValidation, "store", "upsert record", fmt.Sprintf("invalid status %q", w.Status), nil)
	}
	if w.At.IsZero() {
		w.At = s.now()
	}
	query := `INSERT INTO attendance_records (session_id, student_id, status, origin, updated_at, captured_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id, student_id) DO UPDATE SET
            status = excluded.status,
            origin = excluded.origin,
            updated_at = excluded.updated_at,
            captured_at = excluded.captured_at`
	if w.RejectStale {
		query += `
        WHERE excluded.updated_at >= attendance_records.updated_at`
	}
	query += `
        RETURNING id`

	applied := true
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireNotSubmitted(ctx, tx, w.SessionID, "upsert record"); err != nil {
			return err
		}
		var id int64
		err := tx.QueryRowContext(ctx, query,
			w.SessionID, w.StudentID, w.Status, w.Origin, formatTime(w.At), nullableTime(w.CapturedAt),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			applied = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	record, err := s.RecordForStudent(ctx, w.SessionID, w.StudentID)
	if err != nil {
		return nil, false, err
	}
	return record, applied, nil
}

// UpdateRecordStatus overwrites the status of an existing record.
func (s *Store) UpdateRecordStatus(ctx context.Context, id int64, status RecordStatus, origin Origin, at time.Time) (*Record, error) {
	if status != StatusPresent && status != StatusAbsent {
		return nil, services.Wrap(services.ErrValidation, "store", "update record", fmt.Sprintf("invalid status %q", status), nil)
	}
	if at.IsZero() {
		at = s.now()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var sessionID int64
		err := tx.QueryRowContext(ctx, `SELECT session_id FROM attendance_records WHERE id = ?`, id).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("update record", "attendance record", id)
		}
		if err != nil {
			return fmt.Errorf("update record: load: %w", err)
		}
		if err := requireNotSubmitted(ctx, tx, sessionID, "update record"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attendance_records SET status = ?, origin = ?, updated_at = ?, captured_at = NULL WHERE id = ?`,
			status, origin, formatTime(at), id,
		); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetRecord(ctx, id)
}

// GetRecord fetches a record by identifier.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM attendance_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get record", "attendance record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// RecordForStudent returns the record for a pair, or nil when none exists.
func (s *Store) RecordForStudent(ctx context.Context, sessionID, studentID int64) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = ? AND student_id = ?`,
		sessionID, studentID,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record for student: %w", err)
	}
	return record, nil
}

// ListRecordsForSession returns a session's ledger ordered by student.
func (s *Store) ListRecordsForSession(ctx context.Context, sessionID int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id = ? ORDER BY student_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListHistoryForStudent returns every record for a student joined with its
// session and course, newest session first.
func (s *Store) ListHistoryForStudent(ctx context.Context, studentID int64) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT r.id, r.session_id, r.student_id, r.status, r.origin, r.updated_at, r.captured_at,
                c.id, c.name, s.started_at, s.status
         FROM attendance_records r
         JOIN sessions s ON s.id = r.session_id
         JOIN courses c ON c.id = s.course_id
         WHERE r.student_id = ?
         ORDER BY s.started_at DESC, s.id DESC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var (
			entry       HistoryEntry
			statusStr   string
			originStr   string
			updatedRaw  string
			capturedRaw sql.NullString
			startedRaw  string
			sessionStr  string
		)
		if err := rows.Scan(
			&entry.ID, &entry.SessionID, &entry.StudentID, &statusStr, &originStr, &updatedRaw, &capturedRaw,
			&entry.CourseID, &entry.CourseName, &startedRaw, &sessionStr,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Status = RecordStatus(statusStr)
		entry.Origin = Origin(originStr)
		entry.Session = SessionStatus(sessionStr)
		if updated, err := parseTimeString(updatedRaw); err == nil {
			entry.UpdatedAt = updated
		}
		if started, err := parseTimeString(startedRaw); err == nil {
			entry.StartedAt = started
		}
		entry.CapturedAt = parseNullableTime(capturedRaw)
		history = append(history, entry)
	}
	return history, rows.Err()
}

// CountSessionsByCourse returns the number of sessions held per course.
func (s *Store) CountSessionsByCourse(ctx context.Context, courseIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(courseIDs))
	if len(courseIDs) == 0 {
		return counts, nil
	}
	args := make([]any, 0, len(courseIDs))
	for _, id := range courseIDs {
		args = append(args, id)
		counts[id] = 0
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT course_id, COUNT(1) FROM sessions WHERE course_id IN (`+makePlaceholders(len(courseIDs))+`) GROUP BY course_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			courseID int64
			count    int
		)
		if err := rows.Scan(&courseID, &count); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[courseID] = count
	}
	return counts, rows.Err()
}
