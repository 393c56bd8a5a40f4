// Package roster projects enrolled students and ledger rows into the views
// shown during review and after submission.
package roster

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"rollcall/internal/attendance"
)

// Row is one student's line in a session roster.
type Row struct {
	Student attendance.User
	Status  attendance.RecordStatus
	// Recorded is false when the student has no ledger row yet.
	Recorded  bool
	RecordID  int64
	Origin    attendance.Origin
	UpdatedAt *time.Time
}

// Project joins students with records. It is pure: the same inputs give the
// same rows for live and submitted sessions. Students without a record are
// reported absent with Recorded=false. Records for students outside the list
// are ignored.
func Project(students []attendance.User, records []attendance.Record) []Row {
	byStudent := make(map[int64]attendance.Record, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}
	rows := make([]Row, 0, len(students))
	for _, s := range students {
		row := Row{Student: s, Status: attendance.StatusAbsent}
		if r, ok := byStudent[s.ID]; ok {
			updated := r.UpdatedAt
			row.Status = r.Status
			row.Recorded = true
			row.RecordID = r.ID
			row.Origin = r.Origin
			row.UpdatedAt = &updated
		}
		rows = append(rows, row)
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		if c := strings.Compare(strings.ToLower(a.Student.Name), strings.ToLower(b.Student.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Student.ID, b.Student.ID)
	})
	return rows
}

// Summary counts a projected roster.
type Summary struct {
	Total   int
	Present int
	// Absent counts explicit absent records only.
	Absent int
	Unseen int
}

// Summarize tallies rows.
func Summarize(rows []Row) Summary {
	summary := Summary{Total: len(rows)}
	for _, row := range rows {
		switch {
		case !row.Recorded:
			summary.Unseen++
		case row.Status == attendance.StatusPresent:
			summary.Present++
		default:
			summary.Absent++
		}
	}
	return summary
}

// CourseAttendance is one course line in a student report.
type CourseAttendance struct {
	CourseID   int64
	CourseName string
	Sessions   int
	Present    int
	Absent     int
	Percent    float64
}

// StudentReport computes per-course attendance over every session held for
// the student's courses. Sessions with no record count against the student.
// Courses with no sessions report zero percent. courses supplies names for
// enrolled courses the history does not mention.
func StudentReport(history []attendance.HistoryEntry, courses []attendance.Course, sessionsByCourse map[int64]int) []CourseAttendance {
	report := make(map[int64]*CourseAttendance, len(courses))
	for _, c := range courses {
		report[c.ID] = &CourseAttendance{CourseID: c.ID, CourseName: c.Name}
	}
	for _, entry := range history {
		line, ok := report[entry.CourseID]
		if !ok {
			line = &CourseAttendance{CourseID: entry.CourseID, CourseName: entry.CourseName}
			report[entry.CourseID] = line
		}
		switch entry.Status {
		case attendance.StatusPresent:
			line.Present++
		case attendance.StatusAbsent:
			line.Absent++
		}
	}

	out := make([]CourseAttendance, 0, len(report))
	for id, line := range report {
		line.Sessions = sessionsByCourse[id]
		if line.Sessions < line.Present+line.Absent {
			line.Sessions = line.Present + line.Absent
		}
		if line.Sessions > 0 {
			line.Percent = float64(line.Present) * 100 / float64(line.Sessions)
		}
		out = append(out, *line)
	}
	slices.SortFunc(out, func(a, b CourseAttendance) int {
		if c := strings.Compare(a.CourseName, b.CourseName); c != 0 {
			return c
		}
		return cmp.Compare(a.CourseID, b.CourseID)
	})
	return out
}
