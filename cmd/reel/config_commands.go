package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reel/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))

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

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set feed.base_url (or export REEL_FEED_URL) before running `reel serve`.")
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
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			shown := *cfg
			if shown.Feed.APIToken != "" {
				shown.Feed.APIToken = "********"
			}
			data, err := shown.Encode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# resolved from %s\n", ctx.configPath)
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and summarize the effective engine settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			source := ctx.configPath
			if !ctx.configExists {
				source += " (not found; defaults)"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusOK, source, colorize))

			if cfg.Feed.BaseURL == "" {
				fmt.Fprintln(out, renderStatusLine("Feed", statusWarn, "feed.base_url not set; only --fixture runs work", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Feed", statusOK, fmt.Sprintf("%s (page %d, lookahead %d, %s)",
					cfg.Feed.BaseURL, cfg.Feed.PageSize, cfg.Feed.Lookahead, cfg.Feed.Language), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Viewport", statusInfo, fmt.Sprintf("activate at %.0f%%, switch margin %.0f%%",
				cfg.Viewport.ActivationThreshold*100, cfg.Viewport.SwitchMargin*100), colorize))
			fmt.Fprintln(out, renderStatusLine("Playback", statusInfo, fmt.Sprintf("readiness timeout %s, progress every %s",
				cfg.ReadinessTimeout(), cfg.ProgressInterval()), colorize))
			if cfg.Cache.Enabled {
				fmt.Fprintln(out, renderStatusLine("Media cache", statusOK, fmt.Sprintf("%s (budget %s, floor %.0f%%)",
					cfg.Cache.Dir, humanBytes(cfg.CacheMaxBytes()), cfg.Cache.FreeSpaceFloor*100), colorize))
				fmt.Fprintln(out, renderStatusLine("Prefetch", statusInfo, fmt.Sprintf("%d ahead, %d behind, %d workers",
					cfg.Prefetch.Ahead, cfg.Prefetch.Behind, cfg.Prefetch.Workers), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Media cache", statusWarn, "disabled; prefetch is off", colorize))
			}
			return nil
		},
	}
}
