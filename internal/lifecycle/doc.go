// Package lifecycle owns the attendance session state machine.
//
// A session starts open, is ended into closed, and is finalized into the
// terminal submitted state. Closed sessions may be continued; open or closed
// sessions may be retaken, which discards the ledger. CanTransition is the one
// capability check for these moves; the HTTP layer returns AllowedActions with
// every session so clients gate their controls on the same rule. The
// Controller is also the capture gate: a capture loop asks it before every
// frame whether the session is still open.
package lifecycle
