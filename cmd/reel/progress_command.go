package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"reel/internal/progress"
)

func newProgressCommand(ctx *commandContext) *cobra.Command {
	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect recorded watch progress",
	}
	progressCmd.AddCommand(newProgressListCommand(ctx))
	progressCmd.AddCommand(newProgressClearCommand(ctx))
	return progressCmd
}

func openProgressStore(ctx *commandContext) (*progress.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return progress.Open(cfg)
}

func newProgressListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items by most recent progress report",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProgressStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, struct {
					Summary progress.Summary  `json:"summary"`
					Records []progress.Record `json:"records"`
				}{summary, records})
			}
			printProgress(cmd.OutOrStdout(), records, summary)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printProgress(out io.Writer, records []progress.Record, summary progress.Summary) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No watch progress recorded")
		return
	}
	const stampLayout = "2006-01-02 15:04:05"
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ItemID,
			fmt.Sprintf("%.1f / %.1f", rec.PositionSeconds, rec.DurationSeconds),
			fmt.Sprintf("%.0f%%", rec.PercentComplete),
			yesNo(rec.Completed),
			strconv.FormatInt(rec.Reports, 10),
			rec.UpdatedAt.Local().Format(stampLayout),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Item", "Position (s)", "Watched", "Completed", "Reports", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(out, "%d items, %d completed, %.0fs watched\n", summary.Items, summary.Completed, summary.Watched)
}

func newProgressClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [item-id]",
		Short: "Delete progress for one item, or for all items",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openProgressStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				removed, err := store.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no progress recorded for %s", args[0])
				}
				fmt.Fprintf(out, "Cleared progress for %s\n", args[0])
				return nil
			}
			n, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared %d progress records\n", n)
			return nil
		},
	}
}
