package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tomarr/internal/daemon"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Manage library roots",
	}
	libraryCmd.AddCommand(newLibraryAddCommand(ctx))
	libraryCmd.AddCommand(newLibraryListCommand(ctx))
	libraryCmd.AddCommand(newLibraryRemoveCommand(ctx))
	return libraryCmd
}

func newLibraryAddCommand(ctx *commandContext) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a library root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				library, err := service.CreateLibrary(cmd.Context(), args[0], args[1], description)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Library %q registered with id %d\n", library.Name, library.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Optional library description")
	return cmd
}

func newLibraryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				libraries, err := service.Libraries(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(libraries))
				for _, library := range libraries {
					scanned := "never"
					if library.LastScannedAt != nil {
						scanned = library.LastScannedAt.Format("2006-01-02 15:04")
					}
					rows = append(rows, []string{
						strconv.FormatInt(library.ID, 10),
						library.Name,
						library.RootPath,
						scanned,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Path", "Last scanned"}, rows,
					[]columnAlignment{alignRight}))
				return nil
			})
		},
	}
}

func newLibraryRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a library and its catalog entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid library id %q", args[0])
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				if err := service.DeleteLibrary(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Library %d removed\n", id)
				return nil
			})
		},
	}
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var libraryID int64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan libraries and refresh the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				out := cmd.OutOrStdout()
				libraries, err := service.Libraries(cmd.Context())
				if err != nil {
					return err
				}
				for _, library := range libraries {
					if libraryID != 0 && library.ID != libraryID {
						continue
					}
					result, err := service.Scan(cmd.Context(), library.ID)
					if err != nil {
						fmt.Fprintf(out, "%s: scan failed: %v\n", library.Name, err)
						continue
					}
					fmt.Fprintf(out, "%s: %d series, %d volumes", library.Name, result.Series, result.Volumes)
					if len(result.Skipped) > 0 {
						fmt.Fprintf(out, " (%d skipped)", len(result.Skipped))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&libraryID, "library", 0, "Scan only the given library id")
	return cmd
}
