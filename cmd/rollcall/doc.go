// Command rollcall runs the attendance daemon and drives it over its HTTP
// API: sessions, roster edits, capture control, the course directory, and
// local configuration.
package main
