package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/apiclient"
	"rollcall/internal/config"
)

func newRosterCommand(ctx *commandContext) *cobra.Command {
	rosterCmd := &cobra.Command{
		Use:   "roster",
		Short: "View and edit a session roster",
	}

	rosterCmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show every enrolled student with their attendance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.Roster(c, id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderRoster(*resp, shouldColorize(cmd.OutOrStdout())))
					return nil
				})
			})
		},
	})

	rosterCmd.AddCommand(&cobra.Command{
		Use:   "toggle <session-id> <student-id>",
		Short: "Flip a student between present and absent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			studentID, err := parseID("student id", args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				record, err := client.Toggle(c, sessionID, studentID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.RecordResponse{Record: *record}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Student %d marked %s\n", record.StudentID, record.Status)
					return nil
				})
			})
		},
	})

	return rosterCmd
}

func newAttendanceCommand(ctx *commandContext) *cobra.Command {
	attendanceCmd := &cobra.Command{
		Use:   "attendance",
		Short: "Work with attendance records",
	}

	attendanceCmd.AddCommand(&cobra.Command{
		Use:   "ledger <session-id>",
		Short: "List the raw records of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.Ledger(c, id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					if len(resp.Records) == 0 {
						fmt.Fprintln(out, "No records")
						return nil
					}
					fmt.Fprint(out, renderRecordTable(resp.Records))
					return nil
				})
			})
		},
	})

	attendanceCmd.AddCommand(&cobra.Command{
		Use:   "add <session-id> <student-id> <present|absent>",
		Short: "Record a student manually",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			studentID, err := parseID("student id", args[1])
			if err != nil {
				return err
			}
			status := strings.ToLower(strings.TrimSpace(args[2]))
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				record, err := client.CreateRecord(c, sessionID, studentID, status)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.RecordResponse{Record: *record}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Record %d: student %d %s\n", record.ID, record.StudentID, record.Status)
					return nil
				})
			})
		},
	})

	attendanceCmd.AddCommand(&cobra.Command{
		Use:   "mark <record-id> <present|absent>",
		Short: "Overwrite the status of an existing record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := parseID("record id", args[0])
			if err != nil {
				return err
			}
			status := strings.ToLower(strings.TrimSpace(args[1]))
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				record, err := client.UpdateRecord(c, recordID, status)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.RecordResponse{Record: *record}, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Record %d: student %d %s\n", record.ID, record.StudentID, record.Status)
					return nil
				})
			})
		},
	})

	attendanceCmd.AddCommand(&cobra.Command{
		Use:   "student <student-id>",
		Short: "Show a student's history and per-course attendance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("student id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.StudentAttendance(c, id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					fmt.Fprint(cmd.OutOrStdout(), renderStudentReport(*resp))
					return nil
				})
			})
		},
	})

	attendanceCmd.AddCommand(newUploadCommand(ctx))
	return attendanceCmd
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var capturedAt string
	cmd := &cobra.Command{
		Use:   "upload <session-id> <image>",
		Short: "Submit a photo for recognition against a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[1])
			if err != nil {
				return err
			}
			image, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			var when time.Time
			if value := strings.TrimSpace(capturedAt); value != "" {
				when, err = time.Parse(time.RFC3339, value)
				if err != nil {
					return fmt.Errorf("--captured-at must be RFC3339: %w", err)
				}
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.UploadFrame(c, sessionID, image, when)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Frame %s: %d matches, %d applied\n", resp.FrameID, resp.Matches, len(resp.Applied))
					if len(resp.Stale) > 0 {
						fmt.Fprintf(out, "Stale (older than the stored record): %s\n", joinIDs(resp.Stale))
					}
					if len(resp.Dropped) > 0 {
						fmt.Fprintf(out, "Dropped (not enrolled): %s\n", joinIDs(resp.Dropped))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&capturedAt, "captured-at", "", "When the photo was taken (RFC3339, defaults to now)")
	return cmd
}

func renderRoster(resp api.RosterResponse, colorize bool) string {
	rows := make([][]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		rows = append(rows, []string{
			idString(row.Student.ID),
			row.Student.Name,
			attendanceCell(row.Status, colorize),
			displayLabel(row.Origin),
			formatTimestamp(row.UpdatedAt),
		})
	}
	summary := resp.Summary
	footer := []string{
		"",
		fmt.Sprintf("%d students", summary.Total),
		fmt.Sprintf("%d present / %d absent / %d unseen", summary.Present, summary.Absent, summary.Unseen),
		"",
		"",
	}
	header := fmt.Sprintf("Session %d (%s)\n", resp.Session.ID, displayLabel(resp.Session.Status))
	return header + renderTableSpec(tableSpec{
		Headers: []string{"ID", "Student", "Status", "Origin", "Updated"},
		Rows:    rows,
		Aligns:  []columnAlignment{alignRight},
		Footer:  footer,
	})
}

func renderRecordTable(records []api.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			idString(r.ID),
			idString(r.StudentID),
			displayLabel(r.Status),
			displayLabel(r.Origin),
			formatTimestamp(r.UpdatedAt),
			formatTimestamp(r.CapturedAt),
		})
	}
	return renderTable(
		[]string{"Record", "Student", "Status", "Origin", "Updated", "Captured"},
		rows,
		[]columnAlignment{alignRight, alignRight},
	)
}

func renderStudentReport(resp api.StudentAttendanceResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (id %d)\n", resp.Student.Name, resp.Student.ID)

	courseRows := make([][]string, 0, len(resp.Courses))
	for _, c := range resp.Courses {
		courseRows = append(courseRows, []string{
			c.CourseName,
			fmt.Sprint(c.Sessions),
			fmt.Sprint(c.Present),
			fmt.Sprint(c.Absent),
			formatPercent(c.Percent),
		})
	}
	if len(courseRows) == 0 {
		b.WriteString("Not enrolled in any course\n")
	} else {
		b.WriteString(renderTable(
			[]string{"Course", "Sessions", "Present", "Absent", "Attendance"},
			courseRows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		))
	}

	if len(resp.History) == 0 {
		return b.String()
	}
	historyRows := make([][]string, 0, len(resp.History))
	for _, h := range resp.History {
		historyRows = append(historyRows, []string{
			formatTimestamp(h.SessionStartedAt),
			h.CourseName,
			displayLabel(h.Status),
			displayLabel(h.SessionStatus),
		})
	}
	b.WriteString(renderTable([]string{"Session", "Course", "Status", "Session state"}, historyRows, nil))
	return b.String()
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = idString(id)
	}
	return strings.Join(parts, ", ")
}
