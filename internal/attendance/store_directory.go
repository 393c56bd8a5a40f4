package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"rollcall/internal/auth"
	"rollcall/internal/services"
)

// CreateUser inserts a directory user.
func (s *Store) CreateUser(ctx context.Context, name, email string, role auth.Role) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create user", "name and email are required", nil)
	}
	if _, err := auth.ParseRole(string(role)); err != nil {
		return nil, services.Wrap(services.ErrValidation, "store", "create user", "invalid role", err)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO users (name, email, role, created_at) VALUES (?, ?, ?, ?)`,
		name, email, role, s.timestamp(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflict("create user", fmt.Sprintf("email %s already registered", email), err)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser fetches a user by identifier.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get user", "user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListUsers returns users, optionally filtered by role.
func (s *Store) ListUsers(ctx context.Context, role auth.Role) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY name, id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateCourse inserts a course owned by instructorID.
func (s *Store) CreateCourse(ctx context.Context, name string, instructorID int64) (*Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create course", "name is required", nil)
	}
	instructor, err := s.GetUser(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	if instructor.Role != auth.RoleInstructor && instructor.Role != auth.RoleAdmin {
		return nil, services.Wrap(services.ErrValidation, "store", "create course",
			fmt.Sprintf("user %d is a %s, not an instructor", instructorID, instructor.Role), nil)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO courses (name, instructor_id, created_at) VALUES (?, ?, ?)`,
		name, instructorID, s.timestamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert course: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCourse(ctx, id)
}

// GetCourse fetches a course by identifier.
func (s *Store) GetCourse(ctx context.Context, id int64) (*Course, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+courseColumns+` FROM courses WHERE id = ?`, id)
	course, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get course", "course", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return course, nil
}

// ListCourses returns all courses, or only those owned by instructorID when > 0.
func (s *Store) ListCourses(ctx context.Context, instructorID int64) ([]Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses`
	var args []any
	if instructorID > 0 {
		query += ` WHERE instructor_id = ?`
		args = append(args, instructorID)
	}
	query += ` ORDER BY name, id`
	return s.queryCourses(ctx, "list courses", query, args...)
}

// EnrolledCourses returns the courses a student is enrolled in.
func (s *Store) EnrolledCourses(ctx context.Context, studentID int64) ([]Course, error) {
	return s.queryCourses(ctx, "enrolled courses",
		`SELECT c.id, c.name, c.instructor_id, c.created_at
         FROM courses c JOIN enrollments e ON e.course_id = c.id
         WHERE e.student_id = ?
         ORDER BY c.name, c.id`,
		studentID,
	)
}

func (s *Store) queryCourses(ctx context.Context, operation, query string, args ...any) ([]Course, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		course, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, *course)
	}
	return courses, rows.Err()
}

// Enroll adds a student to a course. Enrolling twice is a no-op.
func (s *Store) Enroll(ctx context.Context, courseID, studentID int64) error {
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return err
	}
	student, err := s.GetUser(ctx, studentID)
	if err != nil {
		return err
	}
	if student.Role != auth.RoleStudent {
		return services.Wrap(services.ErrValidation, "store", "enroll",
			fmt.Sprintf("user %d is a %s, not a student", studentID, student.Role), nil)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO enrollments (course_id, student_id, created_at) VALUES (?, ?, ?)
         ON CONFLICT(course_id, student_id) DO NOTHING`,
		courseID, studentID, s.timestamp(),
	); err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	return nil
}

// Unenroll removes a student from a course. Existing ledger rows are kept.
func (s *Store) Unenroll(ctx context.Context, courseID, studentID int64) error {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM enrollments WHERE course_id = ? AND student_id = ?`,
		courseID, studentID,
	)
	if err != nil {
		return fmt.Errorf("unenroll: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "unenroll",
			fmt.Sprintf("student %d is not enrolled in course %d", studentID, courseID), nil)
	}
	return nil
}

// ListEnrolledStudents returns the course roster ordered by name.
func (s *Store) ListEnrolledStudents(ctx context.Context, courseID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT u.id, u.name, u.email, u.role, u.created_at
         FROM users u JOIN enrollments e ON e.student_id = u.id
         WHERE e.course_id = ?
         ORDER BY u.name, u.id`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	defer rows.Close()

	var students []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *user)
	}
	return students, rows.Err()
}

// EnrolledStudentIDs returns the subset of ids enrolled in courseID.
func (s *Store) EnrolledStudentIDs(ctx context.Context, courseID int64, ids []int64) (map[int64]bool, error) {
	enrolled := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return enrolled, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, courseID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT student_id FROM enrollments WHERE course_id = ? AND student_id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrolled[id] = true
	}
	return enrolled, rows.Err()
}
