package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"reel/internal/contentcache"
	"reel/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the media cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show media cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ctx.openCache(logging.NewNop())
			if err != nil {
				return err
			}
			defer cache.Close()

			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, stats)
			}
			printCacheStats(cmd.OutOrStdout(), cache.Dir(), stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printCacheStats(out io.Writer, dir string, stats contentcache.Stats) {
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderStatusLine("Directory", statusInfo, dir, colorize))
	fmt.Fprintln(out, renderStatusLine("Entries", statusInfo, strconv.Itoa(stats.Entries), colorize))
	usage := fmt.Sprintf("%s / %s", humanBytes(stats.TotalBytes), humanBytes(stats.MaxBytes))
	usageKind := statusOK
	if stats.MaxBytes > 0 && stats.TotalBytes > stats.MaxBytes {
		usageKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Size", usageKind, usage, colorize))
	if stats.TotalFSBytes > 0 {
		disk := fmt.Sprintf("%s free (%.1f%%)", humanBytes(int64(stats.FreeBytes)), stats.FreeRatio*100)
		fmt.Fprintln(out, renderStatusLine("Disk", statusInfo, disk, colorize))
	}
	if len(stats.Items) == 0 {
		return
	}

	const stampLayout = "2006-01-02 15:04"
	rows := make([][]string, 0, len(stats.Items))
	for _, entry := range stats.Items {
		rows = append(rows, []string{
			entry.ItemID,
			humanBytes(entry.SizeBytes),
			entry.LastAccess.Local().Format(stampLayout),
			yesNo(entry.Pins > 0),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Item", "Size", "Last access", "Pinned"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used entries until the budget holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ctx.openCache(logging.NewNop())
			if err != nil {
				return err
			}
			defer cache.Close()

			before, err := cache.Stats()
			if err != nil {
				return err
			}
			if err := cache.Prune(cmd.Context()); err != nil {
				return err
			}
			after, err := cache.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries (%s freed)\n",
				before.Entries-after.Entries, humanBytes(before.TotalBytes-after.TotalBytes))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached media payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := ctx.openCache(logging.NewNop())
			if err != nil {
				return err
			}
			defer cache.Close()

			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries (%s)\n", stats.Entries, humanBytes(stats.TotalBytes))
			return nil
		},
	}
}
