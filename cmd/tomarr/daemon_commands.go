package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tomarr/internal/ipc"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect and control the running tomarrd process",
	}
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonReloadCommand(ctx))
	return daemonCmd
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				jobs := strings.Join(status.ScheduledJobs, ", ")
				if jobs == "" {
					jobs = "none"
				}
				rows := [][]string{
					{"Running", yesNo(status.Running)},
					{"PID", strconv.Itoa(status.PID)},
					{"API address", status.APIAddress},
					{"Database", status.DatabasePath},
					{"Lock file", status.LockPath},
					{"Scheduled jobs", jobs},
					{"Libraries", strconv.Itoa(status.Libraries)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Setting", "Value"}, rows,
					[]columnAlignment{alignLeft, alignLeft}))
				return nil
			})
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
				return nil
			})
		},
	}
}

func newDaemonReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-apply the schedule section of the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ReloadSchedule()
				if err != nil {
					return err
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs scheduled")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled jobs: %s\n", strings.Join(resp.Jobs, ", "))
				return nil
			})
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run acquisition checks through the daemon",
	}
	checkCmd.AddCommand(&cobra.Command{
		Use:   "missing",
		Short: "Search sources for volumes missing from owned runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CheckMissing()
				if err != nil {
					return err
				}
				printCheckReport(cmd, resp)
				return nil
			})
		},
	})
	checkCmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Search sources for volumes published after the owned range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.CheckNewVolumes()
				if err != nil {
					return err
				}
				printCheckReport(cmd, resp)
				return nil
			})
		},
	})
	return checkCmd
}

func printCheckReport(cmd *cobra.Command, resp *ipc.CheckResponse) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"Checked %d monitored series, %d volumes searched: %d results, %d submitted, %d failures\n",
		resp.Monitors, resp.Tuples, resp.Results, resp.Submitted, resp.Failures)
}
