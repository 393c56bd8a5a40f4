package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/config"
	"rollcall/internal/daemonctl"
	"rollcall/internal/daemonrun"
	"rollcall/internal/preflight"
	"rollcall/internal/services"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var runOpts daemonrun.Options
	runCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the attendance daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, runOpts)
		},
	}
	runCmd.Flags().StringVar(&runOpts.LogLevel, "log-level", "", "Override logging.level for this run")
	runCmd.Flags().BoolVar(&runOpts.Development, "dev", false, "Include source locations in log output")
	runCmd.Flags().BoolVar(&runOpts.NoHotplug, "no-hotplug", false, "Disable the udev camera monitor")

	var startNoHotplug bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.client(), exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath,
				NoHotplug:  startNoHotplug,
			}, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				fmt.Fprintln(stdout, "Daemon started")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startNoHotplug, "no-hotplug", false, "Disable the udev camera monitor")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), ctx.client(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintf(stdout, "Daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, preflight, and capture status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, ctx)
		},
	}

	return []*cobra.Command{runCmd, startCmd, stopCmd, statusCmd}
}

func runStatus(cmd *cobra.Command, ctx *commandContext) error {
	cfg := ctx.configValue()
	client := ctx.client()

	var (
		status    *api.DaemonStatus
		statusErr error
	)
	healthErr := client.Health(cmd.Context())
	if healthErr == nil {
		status, statusErr = client.Status(cmd.Context())
	}
	checks := preflight.RunAll(cmd.Context(), cfg)

	if ctx.jsonOutput() {
		return writeJSON(cmd, struct {
			Daemon    *api.DaemonStatus  `json:"daemon"`
			Reachable bool               `json:"reachable"`
			Preflight []preflight.Result `json:"preflight"`
		}{Daemon: status, Reachable: healthErr == nil, Preflight: checks})
	}

	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	switch {
	case healthErr != nil:
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running ("+client.BaseURL()+")", colorize))
	case statusErr != nil:
		detail := "Running; details unavailable: " + statusErr.Error()
		if errors.Is(statusErr, services.ErrUnauthenticated) {
			detail = "Running; pass --token or set " + envToken + " for details"
		}
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, detail, colorize))
	default:
		fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
		fmt.Fprintln(stdout, renderStatusLine("API", statusInfo, status.APIBind, colorize))
		fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
		fmt.Fprintln(stdout, renderStatusLine("Reconcile policy", statusInfo, displayLabel(status.ReconcilePolicy), colorize))
		hotplugKind := statusOK
		if !status.Hotplug {
			hotplugKind = statusWarn
		}
		fmt.Fprintln(stdout, renderStatusLine("Camera hotplug", hotplugKind, yesNo(status.Hotplug), colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Preflight", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(stdout)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, line := range dependencyLines(dependencySnapshot(status, cfg), colorize) {
		fmt.Fprintln(stdout, line)
	}

	if status == nil {
		return nil
	}
	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Capture", colorize) {
		fmt.Fprintln(stdout, line)
	}
	if len(status.Captures) == 0 {
		fmt.Fprintln(stdout, "No active capture")
		return nil
	}
	fmt.Fprint(stdout, renderCaptureTable(status.Captures))
	return nil
}

func dependencySnapshot(status *api.DaemonStatus, cfg *config.Config) []api.DependencyStatus {
	if status != nil && len(status.Dependencies) > 0 {
		return status.Dependencies
	}
	if cfg == nil {
		return nil
	}
	return api.FromDependencies(preflight.CheckSystemDeps(cfg))
}

func dependencyLines(list []api.DependencyStatus, colorize bool) []string {
	if len(list) == 0 {
		return []string{renderStatusLine("Dependencies", statusInfo, "none required", colorize)}
	}
	lines := make([]string, 0, len(list))
	for _, dep := range list {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}
