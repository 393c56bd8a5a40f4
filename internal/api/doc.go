// Package api defines wire-format types and converters shared by the HTTP
// server and the CLI client. It translates attendance, roster, and capture
// models into transport-friendly DTOs so neither side couples to storage
// types.
//
// # Key Types
//
// Session: lifecycle state plus AllowedActions, computed with the same
// capability check the server enforces, so clients gate buttons and commands
// without duplicating the rule.
//
// Record, RosterResponse, StudentAttendanceResponse: ledger rows, the roster
// projection with its summary, and a student's history with per-course
// percentages.
//
// CaptureStatus, Camera, DaemonStatus: capture loop state, discovered devices,
// and daemon runtime information.
//
// ErrorResponse: every non-2xx body. Kind carries the services error kind so
// clients rebuild the same marker with services.FromKind.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums are lowercase strings. Timestamps use
// RFC3339 with milliseconds in UTC; optional times are omitted when unset.
// Request types carry validator tags checked by the server before any store
// access.
package api
