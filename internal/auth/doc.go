// Package auth models the authenticated principal acting on attendance data
// and the HS256 tokens that carry it between the CLI and the daemon.
package auth
