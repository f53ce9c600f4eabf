package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"reel/internal/bridge"
	"reel/internal/contentcache"
	"reel/internal/engine"
	"reel/internal/logging"
	"reel/internal/prefetch"
	"reel/internal/preflight"
	"reel/internal/progress"
)

const bridgeTokenEnv = "REEL_BRIDGE_TOKEN"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var fixture string
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a playback session to a host UI over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, fixture, bind)
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "Serve pages from a JSON fixture instead of feed.base_url")
	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.api_bind")
	return cmd
}

func runServe(cmd *cobra.Command, ctx *commandContext, fixture, bind string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bind = strings.TrimSpace(bind); bind != "" {
		cfg.Paths.APIBind = bind
	}

	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := logging.NewStreamHub(4096)
	logger, err := logging.NewFromConfig(cfg, hub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	for _, result := range preflight.RunAll(signalCtx, cfg) {
		if result.Passed || result.Skipped {
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String(logging.FieldErrorHint, result.Detail),
			logging.String(logging.FieldImpact, "related features may degrade"),
		)
	}

	source, err := feedSource(cfg, fixture)
	if err != nil {
		return err
	}

	cache, err := contentcache.OpenFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("open media cache: %w", err)
	}
	defer cache.Close()

	store, err := progress.Open(cfg)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	defer store.Close()

	var pf *prefetch.Prefetcher
	if cache != nil {
		var fetchOpts []prefetch.FetcherOption
		if fixture != "" {
			// Fixture clips are read from next to the fixture file only.
			fetchOpts = append(fetchOpts, prefetch.WithFileRoot(filepath.Dir(fixture)))
		}
		pf = prefetch.NewFromConfig(cfg, cache, logger, fetchOpts...)
	}

	eng := engine.NewFromConfig(cfg, source, cache, pf, store, logger)
	if err := eng.Start(signalCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Stop()

	srv := bridge.NewFromConfig(cfg, eng, strings.TrimSpace(os.Getenv(bridgeTokenEnv)), hub, logger)
	if err := srv.Start(signalCtx); err != nil {
		return err
	}
	defer srv.Stop()

	printServeBanner(cmd, eng.SessionID(), srv.Addr(), cache != nil, store.Path(), fixture)

	<-signalCtx.Done()
	logger.Info("reel shutting down")
	return nil
}

func printServeBanner(cmd *cobra.Command, sessionID, addr string, cacheEnabled bool, progressPath, fixture string) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderStatusLine("Session", statusInfo, sessionID, colorize))
	fmt.Fprintln(out, renderStatusLine("Bridge", statusOK, "http://"+addr, colorize))
	if fixture != "" {
		fmt.Fprintln(out, renderStatusLine("Feed", statusWarn, "fixture "+fixture, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Feed", statusOK, "live", colorize))
	}
	if cacheEnabled {
		fmt.Fprintln(out, renderStatusLine("Media cache", statusOK, "enabled", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Media cache", statusWarn, "disabled", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Progress", statusOK, progressPath, colorize))
	if os.Getenv(bridgeTokenEnv) == "" {
		fmt.Fprintln(out, renderStatusLine("Auth", statusWarn, bridgeTokenEnv+" not set; bridge is open to local clients", colorize))
	}
}
