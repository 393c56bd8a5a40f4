package daemon

import (
	"net/http"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/services"
)

func requireAdmin(principal auth.Principal, operation string) error {
	if principal.IsAdmin() {
		return nil
	}
	return services.Wrap(services.ErrForbidden, "api", operation, "admin role required", nil)
}

func (s *apiServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	if principal.Role == auth.RoleStudent {
		s.writeError(w, r, services.Wrap(services.ErrForbidden, "api", "list users", "students may not browse the directory", nil))
		return
	}
	var role auth.Role
	if value := r.URL.Query().Get("role"); value != "" {
		parsed, err := auth.ParseRole(value)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "list users", err.Error(), nil))
			return
		}
		role = parsed
	}
	users, err := s.daemon.store.ListUsers(r.Context(), role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.UserListResponse{Users: api.FromUsers(users)})
}

func (s *apiServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(principalFrom(r), "create user"); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.CreateUserRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "create user", err.Error(), nil))
		return
	}
	user, err := s.daemon.store.CreateUser(r.Context(), req.Name, req.Email, role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.UserResponse{User: api.FromUser(*user)})
}

// handleListCourses returns every course for admins, owned courses for
// instructors, and enrolled courses for students.
func (s *apiServer) handleListCourses(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	var (
		courses []attendance.Course
		err     error
	)
	switch principal.Role {
	case auth.RoleAdmin:
		courses, err = s.daemon.store.ListCourses(r.Context(), 0)
	case auth.RoleInstructor:
		courses, err = s.daemon.store.ListCourses(r.Context(), principal.UserID)
	default:
		courses, err = s.daemon.store.EnrolledCourses(r.Context(), principal.UserID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]api.Course, 0, len(courses))
	for _, c := range courses {
		out = append(out, api.FromCourse(c))
	}
	s.writeJSON(w, http.StatusOK, api.CourseListResponse{Courses: out})
}

func (s *apiServer) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(principalFrom(r), "create course"); err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.CreateCourseRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	course, err := s.daemon.store.CreateCourse(r.Context(), req.Name, req.InstructorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.CourseResponse{Course: api.FromCourse(*course)})
}

func (s *apiServer) handleCourseStudents(w http.ResponseWriter, r *http.Request) {
	course, ok := s.loadManagedCourse(w, r)
	if !ok {
		return
	}
	students, err := s.daemon.store.ListEnrolledStudents(r.Context(), course.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.StudentListResponse{Students: api.FromUsers(students)})
}

func (s *apiServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	course, ok := s.loadManagedCourse(w, r)
	if !ok {
		return
	}
	var req api.EnrollRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.daemon.store.Enroll(r.Context(), course.ID, req.StudentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	course, ok := s.loadManagedCourse(w, r)
	if !ok {
		return
	}
	studentID, err := pathID(r, "student")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.daemon.store.Unenroll(r.Context(), course.ID, studentID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) loadManagedCourse(w http.ResponseWriter, r *http.Request) (*attendance.Course, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	ctx := services.WithCourseID(r.Context(), id)
	course, err := s.daemon.store.GetCourse(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if !principalFrom(r).CanManage(course.InstructorID) {
		s.writeError(w, r, services.Wrap(services.ErrForbidden, "api", "course", "not the course instructor", nil))
		return nil, false
	}
	return course, true
}
