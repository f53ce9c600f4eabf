package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reel/internal/engine"
	"reel/internal/playback"
	"reel/internal/progress"
	"reel/internal/sim"
)

type simulateOptions struct {
	fixture        string
	steps          int
	seed           uint64
	stalled        []string
	recordProgress bool
	jsonOutput     bool
	verbose        bool
}

func newSimulateCommand(ctx *commandContext) *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Scroll through the feed headlessly and print the playback timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "JSON fixture pages to scroll (default: feed.base_url)")
	cmd.Flags().IntVar(&opts.steps, "steps", 30, "Number of simulated user actions")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Seed for the action sequence")
	cmd.Flags().StringSliceVar(&opts.stalled, "stall", nil, "Item IDs whose media never becomes ready")
	cmd.Flags().BoolVar(&opts.recordProgress, "record-progress", false, "Write completions to the progress store")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the timeline as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")
	return cmd
}

func runSimulate(cmd *cobra.Command, ctx *commandContext, opts simulateOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := quietLogger(cfg, opts.verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	source, err := feedSource(cfg, opts.fixture)
	if err != nil {
		return err
	}

	var reporter engine.ProgressReporter
	if opts.recordProgress {
		store, err := progress.Open(cfg)
		if err != nil {
			return fmt.Errorf("open progress store: %w", err)
		}
		defer store.Close()
		reporter = store
	}

	clock := playback.NewVirtualClock()
	eng := engine.New(engine.Options{
		Source:           source,
		Progress:         reporter,
		Scheduler:        clock,
		Lookahead:        cfg.Feed.Lookahead,
		RetainBehind:     cfg.Feed.RetainBehind,
		Threshold:        cfg.Viewport.ActivationThreshold,
		Margin:           cfg.Viewport.SwitchMargin,
		ReadinessTimeout: cfg.ReadinessTimeout(),
		ProgressInterval: cfg.ProgressInterval(),
		Logger:           logger,
	})
	if _, err := eng.RequestMore(cmd.Context()); err != nil {
		return fmt.Errorf("load first page: %w", err)
	}
	if err := eng.Start(cmd.Context()); err != nil {
		return err
	}
	defer eng.Stop()

	report, err := sim.Run(cmd.Context(), sim.Options{
		Engine:  eng,
		Clock:   clock,
		Steps:   opts.steps,
		Seed:    opts.seed,
		Stalled: opts.stalled,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return writeJSON(cmd, report)
	}
	printTimeline(cmd, report)
	return nil
}

func printTimeline(cmd *cobra.Command, report sim.Report) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Steps))
	for _, step := range report.Steps {
		audio := "muted"
		if !step.Muted {
			audio = "on"
		}
		rows = append(rows, []string{
			strconv.Itoa(step.Index),
			step.Action,
			step.ActiveID,
			stateLabel(step.State),
			audio,
			fmt.Sprintf("%.1fs", step.Position),
			strings.Join(step.Events, "; "),
		})
	}
	headers := []string{"Step", "Action", "Active", "State", "Audio", "Pos", "Events"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))

	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderStatusLine("Items", statusInfo, strconv.Itoa(report.Items), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, completedSummary(report.Completed), colorize))
	errKind := statusOK
	if report.Errors > 0 {
		errKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Media errors", errKind, strconv.Itoa(report.Errors), colorize))
	fetchKind := statusOK
	if report.FetchFailures > 0 {
		fetchKind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Fetch failures", fetchKind, strconv.Itoa(report.FetchFailures), colorize))
	fmt.Fprintln(out, renderStatusLine("Simulated time", statusInfo, report.Elapsed, colorize))
}

func completedSummary(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return fmt.Sprintf("%d (%s)", len(ids), strings.Join(ids, ", "))
}
