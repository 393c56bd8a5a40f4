package lifecycle

import (
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/services"
)

// Action is an operation a principal may request against a session.
type Action string

const (
	ActionView     Action = "view"
	ActionEnd      Action = "end"
	ActionContinue Action = "continue"
	ActionRetake   Action = "retake"
	ActionSubmit   Action = "submit"
	ActionDelete   Action = "delete"
	ActionEdit     Action = "edit"
	ActionCapture  Action = "capture"
)

// orderedActions is the order AllowedActions reports.
var orderedActions = []Action{
	ActionView,
	ActionEnd,
	ActionContinue,
	ActionRetake,
	ActionSubmit,
	ActionDelete,
	ActionEdit,
	ActionCapture,
}

// ParseAction validates an action name.
func ParseAction(value string) (Action, error) {
	for _, action := range orderedActions {
		if string(action) == value {
			return action, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", value)
}

// allowedFrom lists the states each action may start from.
var allowedFrom = map[Action][]attendance.SessionStatus{
	ActionView:     {attendance.SessionOpen, attendance.SessionClosed, attendance.SessionSubmitted},
	ActionEnd:      {attendance.SessionOpen},
	ActionContinue: {attendance.SessionClosed},
	ActionRetake:   {attendance.SessionOpen, attendance.SessionClosed},
	ActionSubmit:   {attendance.SessionOpen, attendance.SessionClosed},
	ActionDelete:   {attendance.SessionOpen, attendance.SessionClosed},
	ActionEdit:     {attendance.SessionOpen, attendance.SessionClosed},
	ActionCapture:  {attendance.SessionOpen},
}

// CanTransition reports whether principal may perform action on session.
// Callers who do not own the session get services.ErrForbidden; actions not
// permitted from the current state get services.ErrConflict.
func CanTransition(session attendance.Session, action Action, principal auth.Principal) error {
	froms, ok := allowedFrom[action]
	if !ok {
		return services.Wrap(services.ErrValidation, "lifecycle", string(action), "unknown action", nil)
	}
	if !principal.CanManage(session.InstructorID) {
		return services.Wrap(services.ErrForbidden, "lifecycle", string(action),
			fmt.Sprintf("%s does not own session %d", principal, session.ID), nil)
	}
	for _, from := range froms {
		if session.Status == from {
			return nil
		}
	}
	return services.Wrap(services.ErrConflict, "lifecycle", string(action),
		fmt.Sprintf("session %d is %s", session.ID, session.Status), nil)
}

// AllowedActions lists every action CanTransition would permit.
func AllowedActions(session attendance.Session, principal auth.Principal) []Action {
	allowed := make([]Action, 0, len(orderedActions))
	for _, action := range orderedActions {
		if CanTransition(session, action, principal) == nil {
			allowed = append(allowed, action)
		}
	}
	return allowed
}

// CanStart reports whether principal may open a session for course.
func CanStart(course attendance.Course, principal auth.Principal) error {
	if !principal.CanManage(course.InstructorID) {
		return services.Wrap(services.ErrForbidden, "lifecycle", "start",
			fmt.Sprintf("%s does not teach course %d", principal, course.ID), nil)
	}
	return nil
}
