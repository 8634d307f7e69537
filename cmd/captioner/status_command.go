package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"captioner/internal/api"
	"captioner/internal/preflight"
	"captioner/internal/task"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator connection and worker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var lines []string

			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			client, err := api.NewClient(base, apiTimeout)
			if err != nil {
				return err
			}

			lines = append(lines, renderSectionHeader("Node", colorize)...)
			status, statusErr := client.Status(cmd.Context())
			switch {
			case statusErr == nil:
				lines = append(lines, renderNodeStatus(status, colorize)...)
			case api.IsAPIUnavailable(statusErr):
				lines = append(lines, renderStatusLine("Daemon", statusError, "not running at "+base, colorize))
			default:
				return statusErr
			}

			if check {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
				for _, dep := range preflight.CheckSystemDeps(cfg) {
					kind, msg := statusOK, dep.Command
					if !dep.Available {
						kind, msg = statusError, dep.Detail
						if dep.Optional {
							kind = statusWarn
						}
					}
					lines = append(lines, renderStatusLine(dep.Name, kind, msg, colorize))
				}
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Checks", colorize)...)
				for _, result := range preflight.RunAll(cmd.Context(), cfg) {
					kind := statusOK
					if !result.Passed {
						kind = statusError
					}
					lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
				}
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if status.CurrentTask != nil {
				fmt.Fprintln(out, renderTaskTable(status))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Also run dependency and preflight checks")
	return cmd
}

func renderNodeStatus(status api.StatusResponse, colorize bool) []string {
	var lines []string
	lines = append(lines, renderStatusLine("Daemon", statusOK, "running", colorize))

	connKind := statusWarn
	connMsg := status.Connection
	if status.IsConnected {
		connKind = statusOK
		connMsg = "connected to " + status.MasterURL
	} else if status.MasterURL != "" {
		connMsg = fmt.Sprintf("%s (%s)", status.Connection, status.MasterURL)
	}
	lines = append(lines, renderStatusLine("Coordinator", connKind, connMsg, colorize))
	if status.Reconnects > 0 {
		lines = append(lines, renderStatusLine("Reconnects", statusInfo, strconv.Itoa(status.Reconnects), colorize))
	}

	workerKind := statusOK
	if status.Status == task.StatusBusy {
		workerKind = statusInfo
	}
	lines = append(lines, renderStatusLine("Worker", workerKind, status.Status, colorize))
	return lines
}

func renderTaskTable(status api.StatusResponse) string {
	t := status.CurrentTask
	started := "-"
	if t.StartedAt != nil {
		started = t.StartedAt.Local().Format("2006-01-02 15:04:05")
	}
	row := []string{
		strconv.FormatInt(t.TaskID, 10),
		t.State,
		formatProgress(t.Progress),
		started,
		t.VideoPath,
	}
	return renderTable(
		[]string{"Task", "State", "Progress", "Started", "Video"},
		[][]string{row},
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

// formatProgress renders the 0..10000 progress scale as a percentage.
func formatProgress(value int) string {
	return fmt.Sprintf("%d.%02d%%", value/100, value%100)
}
