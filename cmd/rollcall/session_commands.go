package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/apiclient"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Open, inspect, and finish attendance sessions",
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "start <course-id>",
		Short: "Open a session for a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := parseID("course id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.StartSession(c, courseID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "Session %d opened for course %d\n", resp.Session.ID, resp.Session.CourseID)
					return nil
				})
			})
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and the actions available on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.Session(c, id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					renderSessionDetail(cmd.OutOrStdout(), resp.Session)
					return nil
				})
			})
		},
	})

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "list <course-id>",
		Short: "List a course's sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			courseID, err := parseID("course id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				sessions, err := client.CourseSessions(c, courseID)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.SessionListResponse{Sessions: sessions}, func() error {
					out := cmd.OutOrStdout()
					if len(sessions) == 0 {
						fmt.Fprintln(out, "No sessions")
						return nil
					}
					fmt.Fprint(out, renderSessionTable(sessions))
					return nil
				})
			})
		},
	})

	for _, action := range []struct {
		name  string
		short string
	}{
		{"end", "Close an open session"},
		{"continue", "Reopen a closed session"},
		{"retake", "Clear the ledger and start recognition over"},
		{"submit", "Finalize a session, recording unseen students as absent"},
	} {
		sessionCmd.AddCommand(newSessionActionCommand(ctx, action.name, action.short))
	}

	sessionCmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session that was never submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				if err := client.DeleteSession(c, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %d deleted\n", id)
				return nil
			})
		},
	})

	return sessionCmd
}

func newSessionActionCommand(ctx *commandContext, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				resp, err := client.SessionAction(c, id, action)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, resp, func() error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Session %d is now %s\n", resp.Session.ID, resp.Session.Status)
					switch action {
					case "retake":
						fmt.Fprintf(out, "Cleared %d records\n", resp.Cleared)
					case "submit":
						fmt.Fprintf(out, "Recorded %d unseen students as absent\n", resp.Materialized)
					}
					return nil
				})
			})
		},
	}
}

func renderSessionDetail(out io.Writer, s api.Session) {
	actions := strings.Join(s.AllowedActions, ", ")
	if actions == "" {
		actions = "-"
	}
	rows := [][]string{
		{"ID", idString(s.ID)},
		{"Course", idString(s.CourseID)},
		{"Instructor", idString(s.InstructorID)},
		{"Status", displayLabel(s.Status)},
		{"Started", formatTimestamp(s.StartedAt)},
		{"Ended", formatTimestamp(s.EndedAt)},
		{"Ledger reset", formatTimestamp(s.LedgerResetAt)},
		{"Actions", actions},
	}
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))
}

func renderSessionTable(sessions []api.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			idString(s.ID),
			displayLabel(s.Status),
			formatTimestamp(s.StartedAt),
			formatTimestamp(s.EndedAt),
			strings.Join(s.AllowedActions, ","),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Started", "Ended", "Actions"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
