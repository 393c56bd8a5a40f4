package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/apiclient"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Control camera capture for a session",
	}

	var device string
	onCmd := &cobra.Command{
		Use:   "on <session-id>",
		Short: "Start sampling frames for an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setCapture(cmd, ctx, args[0], true, device)
		},
	}
	onCmd.Flags().StringVar(&device, "device", "", "Video device (defaults to camera.device)")

	offCmd := &cobra.Command{
		Use:   "off <session-id>",
		Short: "Stop sampling frames for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setCapture(cmd, ctx, args[0], false, "")
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show capture counters for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("session id", args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				status, err := client.CaptureStatus(c, id)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, status, func() error {
					renderCaptureDetail(cmd.OutOrStdout(), *status)
					return nil
				})
			})
		},
	}

	captureCmd.AddCommand(onCmd, offCmd, statusCmd)
	return captureCmd
}

func setCapture(cmd *cobra.Command, ctx *commandContext, rawID string, active bool, device string) error {
	id, err := parseID("session id", rawID)
	if err != nil {
		return err
	}
	return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
		status, err := client.SetCapture(c, id, active, device)
		if err != nil {
			return err
		}
		return ctx.emit(cmd, status, func() error {
			out := cmd.OutOrStdout()
			if status.Active {
				fmt.Fprintf(out, "Capturing session %d from %s\n", status.SessionID, status.Device)
				return nil
			}
			fmt.Fprintf(out, "Capture stopped for session %d (%d frames submitted)\n", status.SessionID, status.Submitted)
			return nil
		})
	})
}

func newCameraCommand(ctx *commandContext) *cobra.Command {
	cameraCmd := &cobra.Command{
		Use:   "camera",
		Short: "Inspect video devices",
	}
	cameraCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cameras the daemon can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd, func(c context.Context, client *apiclient.Client) error {
				cameras, err := client.Cameras(c)
				if err != nil {
					return err
				}
				return ctx.emit(cmd, api.CameraListResponse{Cameras: cameras}, func() error {
					out := cmd.OutOrStdout()
					if len(cameras) == 0 {
						fmt.Fprintln(out, "No cameras found")
						return nil
					}
					rows := make([][]string, 0, len(cameras))
					for _, cam := range cameras {
						inUse := "-"
						if cam.InUseBy > 0 {
							inUse = "session " + idString(cam.InUseBy)
						}
						rows = append(rows, []string{cam.Path, cam.Name, inUse})
					}
					fmt.Fprint(out, renderTable([]string{"Device", "Name", "In use"}, rows, nil))
					return nil
				})
			})
		},
	})
	return cameraCmd
}

func renderCaptureDetail(out io.Writer, s api.CaptureStatus) {
	state := "inactive"
	if s.Active {
		state = "active"
	}
	rows := [][]string{
		{"Session", idString(s.SessionID)},
		{"State", state},
		{"Device", dash(s.Device)},
		{"Running for", formatSince(s.StartedAt, time.Now())},
		{"Captured", fmt.Sprint(s.Captured)},
		{"Submitted", fmt.Sprint(s.Submitted)},
		{"Skipped", fmt.Sprint(s.Skipped)},
		{"In flight", fmt.Sprint(s.InFlight)},
		{"Failures", fmt.Sprint(s.Failures)},
		{"Last frame", formatTimestamp(s.LastFrameAt)},
		{"Last error", dash(s.LastError)},
		{"Stop reason", dash(s.StopReason)},
	}
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))
}

func renderCaptureTable(captures []api.CaptureStatus) string {
	rows := make([][]string, 0, len(captures))
	for _, c := range captures {
		rows = append(rows, []string{
			idString(c.SessionID),
			c.Device,
			fmt.Sprint(c.Captured),
			fmt.Sprint(c.Submitted),
			fmt.Sprint(c.InFlight),
			fmt.Sprint(c.Failures),
		})
	}
	return renderTable(
		[]string{"Session", "Device", "Captured", "Submitted", "In flight", "Failures"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
