package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tomarr/internal/catalog"
	"tomarr/internal/daemon"
	"tomarr/internal/gaps"
)

func newSeriesCommand(ctx *commandContext) *cobra.Command {
	seriesCmd := &cobra.Command{
		Use:   "series",
		Short: "Inspect catalogued series",
	}
	seriesCmd.AddCommand(newSeriesListCommand(ctx))
	seriesCmd.AddCommand(newSeriesShowCommand(ctx))
	return seriesCmd
}

func formatIntSet(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func classify(series *catalog.Series) string {
	return gaps.Classify(series.MissingSet, series.MaxVolume, series.Canonical)
}

func newSeriesListCommand(ctx *commandContext) *cobra.Command {
	var libraryID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List series with volume counts and gaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				list, err := service.Series(cmd.Context(), libraryID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(list))
				for _, series := range list {
					total := ""
					if series.Canonical.Total != nil {
						total = strconv.Itoa(*series.Canonical.Total)
					}
					rows = append(rows, []string{
						strconv.FormatInt(series.ID, 10),
						series.Title,
						strconv.Itoa(series.TotalVolumes),
						total,
						formatIntSet(series.MissingSet),
						classify(series),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Owned", "Canonical", "Missing", "State"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&libraryID, "library", 0, "Limit to the given library id")
	return cmd
}

func newSeriesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one series with its volumes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid series id %q", args[0])
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				series, volumes, err := service.SeriesDetail(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s)\n", series.Title, classify(series))
				fmt.Fprintf(out, "Path: %s\n", series.Path)
				fmt.Fprintf(out, "Owned: %d", series.TotalVolumes)
				if series.Canonical.Total != nil {
					fmt.Fprintf(out, " of %d", *series.Canonical.Total)
				}
				fmt.Fprintln(out)
				if series.Canonical.Status != "" {
					fmt.Fprintf(out, "Status: %s", series.Canonical.Status)
					if series.Canonical.Editor != "" {
						fmt.Fprintf(out, " (%s)", series.Canonical.Editor)
					}
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "Missing: %s\n\n", formatIntSet(series.MissingSet))

				rows := make([][]string, 0, len(volumes))
				for _, volume := range volumes {
					number := ""
					if volume.VolumeNumber != nil {
						number = strconv.Itoa(*volume.VolumeNumber)
					}
					rows = append(rows, []string{
						number,
						volume.Filename,
						strconv.Itoa(volume.PageCount),
						fmt.Sprintf("%.1f MB", float64(volume.FileSize)/(1024*1024)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Vol", "Filename", "Pages", "Size"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight}))
				return nil
			})
		},
	}
}

func newMissingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "missing",
		Short: "List series with missing volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				gapped, err := service.SeriesWithGaps(cmd.Context())
				if err != nil {
					return err
				}
				if len(gapped) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No gaps detected")
					return nil
				}
				rows := make([][]string, 0, len(gapped))
				for _, series := range gapped {
					rows = append(rows, []string{
						strconv.FormatInt(series.ID, 10),
						series.Title,
						formatIntSet(series.MissingSet),
						classify(series),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Missing", "State"}, rows,
					[]columnAlignment{alignRight}))
				return nil
			})
		},
	}
}
