package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"captioner/internal/api"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var rawPath string
	var translatedPath string
	var language string

	cmd := &cobra.Command{
		Use:   "start <video>",
		Short: "Submit a subtitle task to the running node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			video, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve video path: %w", err)
			}
			raw := strings.TrimSpace(rawPath)
			if raw == "" {
				raw = strings.TrimSuffix(video, filepath.Ext(video)) + ".srt"
			}
			req := api.StartRequest{
				VideoPath:              video,
				RawSubtitlePath:        raw,
				TranslatedSubtitlePath: strings.TrimSpace(translatedPath),
				Language:               strings.TrimSpace(language),
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.StartSubtitize(cmd.Context(), req)
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("start rejected (%d): %s", resp.TaskID, resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d started\n", resp.TaskID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawPath, "raw", "", "Raw subtitle output path (defaults to <video>.srt)")
	cmd.Flags().StringVar(&translatedPath, "translated", "", "Translated subtitle output path")
	cmd.Flags().StringVar(&language, "language", "", "Spoken language hint (name or ISO code)")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Cancel the running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.StopSubtitize(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("stop task %d: %s", id, resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d stopped\n", id)
				return nil
			})
		},
	}
}
