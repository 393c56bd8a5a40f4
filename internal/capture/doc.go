// Package capture runs the timed snapshot-and-submit loop for open sessions.
//
// A Manager owns at most one loop per session and per device. Each loop holds
// its camera exclusively, re-checks the session gate on every tick, and hands
// frames to the recognizer on separate goroutines so a slow response never
// delays the next tick. Stopping a loop cancels the ticker and closes the
// device before returning; submissions already in flight finish on their own
// and their results are still reconciled.
package capture
