// Package preflight provides readiness checks for the camera, the recognition
// service, and the filesystem paths rollcall depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs failures as warnings. A
//     failing check never blocks startup: manual attendance still works
//     without a camera or recognizer.
//   - The CLI "rollcall status" command renders the same results next to the
//     daemon's own report.
package preflight
