package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tomarr/internal/config"
	"tomarr/internal/secrets"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Register a library with `tomarr library add` once the paths are set.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n\n", ctx.configPath)

			rows := [][]string{
				{"data_dir", cfg.Paths.DataDir},
				{"staging_dir", cfg.Paths.StagingDir},
				{"log_dir", cfg.Paths.LogDir},
				{"api_bind", cfg.Paths.APIBind},
				{"ebdz", fmt.Sprintf("enabled=%s path=%s", yesNo(cfg.Ebdz.Enabled), cfg.EbdzPath())},
				{"prowlarr", fmt.Sprintf("enabled=%s url=%s api_key=%s",
					yesNo(cfg.Prowlarr.Enabled), cfg.Prowlarr.URL, secrets.MaskValue(cfg.Prowlarr.APIKey))},
				{"metasite", fmt.Sprintf("enabled=%s url=%s", yesNo(cfg.Metasite.Enabled), cfg.Metasite.BaseURL)},
				{"emule", fmt.Sprintf("enabled=%s host=%s:%d password=%s",
					yesNo(cfg.Emule.Enabled), cfg.Emule.Host, cfg.Emule.Port, secrets.MaskValue(cfg.Emule.Password))},
				{"qbittorrent", fmt.Sprintf("enabled=%s url=%s password=%s",
					yesNo(cfg.QBittorrent.Enabled), cfg.QBittorrent.URL, secrets.MaskValue(cfg.QBittorrent.Password))},
				{"monitor sources", strings.Join(cfg.Monitor.Sources, ", ")},
				{"auto submit", yesNo(cfg.Monitor.AutoSubmit)},
			}
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}
