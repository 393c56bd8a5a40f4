// Package services defines shared utilities consumed by the attendance
// components and the HTTP boundary.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, course IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the mapping from
//     markers to wire kinds and HTTP status codes so callers can tell a
//     missing session from one they are not allowed to touch.
package services
