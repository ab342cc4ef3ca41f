package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tomarr/internal/daemon"
	"tomarr/internal/sources"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var volume int
	var category string
	cmd := &cobra.Command{
		Use:   "search <title>",
		Short: "Search the configured sources for download links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := sourceNames(category)
			if err != nil {
				return err
			}
			title := strings.Join(args, " ")
			return ctx.withService(func(service *daemon.Daemon) error {
				results, err := service.SearchLinks(cmd.Context(), title, volume, names)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, result := range results {
					rows = append(rows, []string{
						result.Title,
						result.Source,
						fmt.Sprintf("%.1f MB", float64(result.Size)/(1024*1024)),
						strconv.Itoa(result.Seeders),
						strconv.Itoa(result.Score),
						truncate(result.Link, 70),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Title", "Source", "Size", "Seeders", "Score", "Link"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&volume, "volume", 0, "Restrict results to one volume number")
	cmd.Flags().StringVar(&category, "category", "all", "Source category: all, ed2k or torrent")
	return cmd
}

func sourceNames(category string) ([]string, error) {
	switch strings.ToLower(category) {
	case "", "all":
		return nil, nil
	case "ed2k", "local":
		return []string{sources.NameEbdz}, nil
	case "torrent":
		return []string{sources.NameProwlarr}, nil
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
