// Package daemon coordinates the long-running rollcall process.
//
// It wires configuration, the attendance store, the session lifecycle
// controller, the reconciliation engine, and the capture manager into a
// single lifecycle with flock-based locking to prevent multiple instances.
// The daemon serves the HTTP API, translates camera hotplug removals into
// capture stops, and reports dependency health for status callers.
//
// Keep orchestration logic here: attendance rules live in lifecycle and
// reconcile while the daemon focuses on startup, shutdown, and transport.
package daemon
