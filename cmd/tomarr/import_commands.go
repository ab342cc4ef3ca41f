package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tomarr/internal/daemon"
	"tomarr/internal/importer"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Move staged archives into a library",
	}
	importCmd.AddCommand(newImportScanCommand(ctx))
	importCmd.AddCommand(newImportRunCommand(ctx))
	importCmd.AddCommand(newImportUndoCommand(ctx))
	importCmd.AddCommand(newImportHistoryCommand(ctx))
	return importCmd
}

func stagingRoot(ctx *commandContext, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return "", err
	}
	return cfg.Paths.StagingDir, nil
}

func newImportScanCommand(ctx *commandContext) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List importable archives in the staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := stagingRoot(ctx, path)
			if err != nil {
				return err
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				staged, err := service.ScanStaging(root)
				if err != nil {
					return err
				}
				if len(staged) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import")
					return nil
				}
				rows := make([][]string, 0, len(staged))
				for _, file := range staged {
					volume := ""
					if file.Meta.Volume != nil {
						volume = strconv.Itoa(*file.Meta.Volume)
					}
					rows = append(rows, []string{
						file.Filename,
						file.Meta.Title,
						volume,
						fmt.Sprintf("%.1f MB", float64(file.Size)/(1024*1024)),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Filename", "Parsed title", "Vol", "Size"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Staging directory (defaults to the configured one)")
	return cmd
}

func newImportRunCommand(ctx *commandContext) *cobra.Command {
	var path string
	var libraryID int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import every staged archive into a library, grouping by parsed title",
		RunE: func(cmd *cobra.Command, args []string) error {
			if libraryID == 0 {
				return fmt.Errorf("--library is required")
			}
			root, err := stagingRoot(ctx, path)
			if err != nil {
				return err
			}
			return ctx.withService(func(service *daemon.Daemon) error {
				staged, err := service.ScanStaging(root)
				if err != nil {
					return err
				}
				if len(staged) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import")
					return nil
				}
				libraries, err := service.Libraries(cmd.Context())
				if err != nil {
					return err
				}
				var libraryPath string
				for _, library := range libraries {
					if library.ID == libraryID {
						libraryPath = library.RootPath
					}
				}
				if libraryPath == "" {
					return fmt.Errorf("unknown library id %d", libraryID)
				}

				requests := make([]importer.Request, 0, len(staged))
				for _, file := range staged {
					requests = append(requests, importer.Request{
						SourcePath: file.Path,
						Destination: importer.Destination{
							LibraryID:   libraryID,
							LibraryPath: libraryPath,
							SeriesTitle: file.Meta.Title,
						},
					})
				}
				result, err := service.Import(cmd.Context(), root, requests)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Operation %s: %d imported, %d replaced, %d skipped, %d failed\n",
					result.OpID, result.Imported, result.Replaced, result.Skipped, result.Failed)
				if len(result.CleanedDirs) > 0 {
					fmt.Fprintf(out, "Removed %d empty staging directories\n", len(result.CleanedDirs))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Staging directory (defaults to the configured one)")
	cmd.Flags().Int64Var(&libraryID, "library", 0, "Destination library id")
	return cmd
}

func newImportUndoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <operation-id>",
		Short: "Reverse a completed import operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				if err := service.UndoImport(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Operation %s undone\n", args[0])
				return nil
			})
		},
	}
}

func newImportHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent import operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(service *daemon.Daemon) error {
				operations, err := service.Operations(cmd.Context(), limit)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(operations))
				for _, op := range operations {
					rows = append(rows, []string{
						op.OpID,
						op.Status,
						strconv.Itoa(op.Imported),
						strconv.Itoa(op.Replaced),
						strconv.Itoa(op.Skipped),
						strconv.Itoa(op.Failed),
						op.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Operation", "Status", "Imported", "Replaced", "Skipped", "Failed", "When"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of operations to show")
	return cmd
}
