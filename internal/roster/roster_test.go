package roster_test

import (
	"testing"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/roster"
)

func TestProjectDefaultsAbsentAndSorts(t *testing.T) {
	students := []attendance.User{
		{ID: 3, Name: "carol"},
		{ID: 1, Name: "Alice"},
		{ID: 2, Name: "alice"},
	}
	now := time.Now().UTC()
	records := []attendance.Record{
		{ID: 10, StudentID: 3, Status: attendance.StatusPresent, Origin: attendance.OriginRecognized, UpdatedAt: now},
		{ID: 11, StudentID: 99, Status: attendance.StatusPresent},
	}

	rows := roster.Project(students, records)
	if len(rows) != 3 {
		t.Fatalf("expected one row per student, got %d", len(rows))
	}
	wantOrder := []int64{1, 2, 3}
	for i, id := range wantOrder {
		if rows[i].Student.ID != id {
			t.Fatalf("row %d: expected student %d, got %d", i, id, rows[i].Student.ID)
		}
	}
	if rows[0].Recorded || rows[0].Status != attendance.StatusAbsent {
		t.Fatalf("expected unrecorded student to default absent, got %+v", rows[0])
	}
	if !rows[2].Recorded || rows[2].RecordID != 10 || rows[2].UpdatedAt == nil || !rows[2].UpdatedAt.Equal(now) {
		t.Fatalf("unexpected recorded row %+v", rows[2])
	}
}

func TestSummarize(t *testing.T) {
	rows := roster.Project(
		[]attendance.User{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}},
		[]attendance.Record{
			{StudentID: 1, Status: attendance.StatusPresent},
			{StudentID: 2, Status: attendance.StatusAbsent},
		},
	)
	got := roster.Summarize(rows)
	want := roster.Summary{Total: 3, Present: 1, Absent: 1, Unseen: 1}
	if got != want {
		t.Fatalf("unexpected summary %+v want %+v", got, want)
	}
}

func TestStudentReportPercentages(t *testing.T) {
	history := []attendance.HistoryEntry{
		{Record: attendance.Record{Status: attendance.StatusPresent}, CourseID: 1, CourseName: "Math"},
		{Record: attendance.Record{Status: attendance.StatusPresent}, CourseID: 1, CourseName: "Math"},
		{Record: attendance.Record{Status: attendance.StatusAbsent}, CourseID: 1, CourseName: "Math"},
	}
	courses := []attendance.Course{{ID: 1, Name: "Math"}, {ID: 2, Name: "Art"}}
	report := roster.StudentReport(history, courses, map[int64]int{1: 4, 2: 0})

	if len(report) != 2 {
		t.Fatalf("expected two courses, got %d", len(report))
	}
	if report[0].CourseName != "Art" || report[0].Percent != 0 {
		t.Fatalf("expected Art first with 0%%, got %+v", report[0])
	}
	math := report[1]
	if math.Sessions != 4 || math.Present != 2 || math.Absent != 1 || math.Percent != 50 {
		t.Fatalf("unexpected math line %+v", math)
	}
}
