package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tomarr/internal/daemon"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Manage automatic acquisition checks per series",
	}
	monitorCmd.AddCommand(newMonitorEnableCommand(ctx))
	monitorCmd.AddCommand(newMonitorDisableCommand(ctx))
	monitorCmd.AddCommand(newMonitorListCommand(ctx))
	return monitorCmd
}

func newMonitorEnableCommand(ctx *commandContext) *cobra.Command {
	var sourceList string
	var autoSubmit bool
	cmd := &cobra.Command{
		Use:   "enable <series-id>",
		Short: "Monitor a series for missing and new volumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seriesID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid series id %q", args[0])
			}
			var names []string
			if sourceList != "" {
				for _, name := range strings.Split(sourceList, ",") {
					if trimmed := strings.TrimSpace(name); trimmed != "" {
						names = append(names, trimmed)
					}
				}
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				if err := service.SetMonitor(cmd.Context(), seriesID, true, names, autoSubmit); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Monitoring series %d\n", seriesID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceList, "sources", "", "Comma-separated source names (defaults to the configured ones)")
	cmd.Flags().BoolVar(&autoSubmit, "auto-submit", false, "Send the best result to a download client automatically")
	return cmd
}

func newMonitorDisableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <series-id>",
		Short: "Stop monitoring a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seriesID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid series id %q", args[0])
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				if err := service.RemoveMonitor(cmd.Context(), seriesID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Series %d is no longer monitored\n", seriesID)
				return nil
			})
		},
	}
}

func newMonitorListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List monitored series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				monitors, err := service.Monitors(cmd.Context())
				if err != nil {
					return err
				}
				if len(monitors) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No monitored series")
					return nil
				}
				rows := make([][]string, 0, len(monitors))
				for _, entry := range monitors {
					checked := "never"
					if entry.Monitor.LastCheckedAt != nil {
						checked = entry.Monitor.LastCheckedAt.Format("2006-01-02 15:04")
					}
					rows = append(rows, []string{
						strconv.FormatInt(entry.Series.ID, 10),
						entry.Series.Title,
						strings.Join(entry.Monitor.Sources, ","),
						yesNo(entry.Monitor.AutoSubmit),
						formatIntSet(entry.Series.MissingSet),
						checked,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Sources", "Auto-submit", "Missing", "Last checked"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}
}
