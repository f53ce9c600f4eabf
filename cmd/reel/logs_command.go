package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reel/internal/logging"
	"reel/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		component string
		itemID    string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show engine logs from a running bridge or the log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := logs.NewStreamClient(cfg.Paths.APIBind, os.Getenv(bridgeTokenEnv))
			if err != nil {
				return err
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			printed, err := logs.Stream(runCtx, client, filepath.Join(cfg.Paths.LogDir, "reel.log"), logs.Options{
				Lines:   lines,
				Follow:  follow,
				Filters: logs.Filters{Component: component, ItemID: itemID},
			}, func(evt logging.LogEvent) {
				writeLogEvent(out, evt)
			})
			if err != nil {
				if errors.Is(err, logs.ErrUnavailable) {
					return errors.New("no running bridge and no log file; start `reel serve` first")
				}
				return err
			}
			if !printed && !follow {
				fmt.Fprintln(out, "No log entries")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new entries")
	cmd.Flags().StringVar(&component, "component", "", "Only show entries from this component")
	cmd.Flags().StringVar(&itemID, "item", "", "Only show entries for this item id")
	return cmd
}

func writeLogEvent(out io.Writer, evt logging.LogEvent) {
	var b strings.Builder
	if !evt.Timestamp.IsZero() {
		b.WriteString(evt.Timestamp.Local().Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	if evt.Level != "" {
		fmt.Fprintf(&b, "%-5s ", evt.Level)
	}
	if evt.Component != "" {
		fmt.Fprintf(&b, "[%s] ", evt.Component)
	}
	b.WriteString(evt.Message)
	if evt.ItemID != "" {
		fmt.Fprintf(&b, " item=%s", evt.ItemID)
	}
	keys := make([]string, 0, len(evt.Fields))
	for key := range evt.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, evt.Fields[key])
	}
	fmt.Fprintln(out, b.String())
}
