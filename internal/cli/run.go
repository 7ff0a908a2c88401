package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corbin/rewatch/internal/bus"
	"github.com/corbin/rewatch/internal/claims"
	"github.com/corbin/rewatch/internal/config"
	"github.com/corbin/rewatch/internal/logging"
	"github.com/corbin/rewatch/internal/reload"
	"github.com/corbin/rewatch/internal/store"
	"github.com/corbin/rewatch/internal/watch"
)

type runOptions struct {
	dryRun bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [root...]",
		Short: "Run the watch-and-reload daemon",
		Long: `Run watches the configured roots for file changes, coalesces change
bursts per path, and reloads the namespaces mapped to the changed
files via the configured reload command.

Paths named by lock files in the claims directory are held back until
the claim disappears. Send SIGHUP to flush everything held back
immediately; SIGINT or SIGTERM shuts the daemon down.

Roots given as arguments override the configured roots.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.Duration("cooldown", 100*time.Millisecond, "quiet period before a change batch is dispatched")
	f.StringSlice("ignore", nil, "glob patterns for file names to ignore")
	f.String("claims-dir", filepath.Join(".rewatch", "claims"), "directory holding claim lock files")
	f.String("journal-path", filepath.Join(".rewatch", "journal.db"), "reload journal database")
	f.StringSlice("reload-command", nil, "command executed once per affected namespace")
	f.StringSlice("exclude-namespaces", nil, "namespaces that are never reloaded")
	f.String("ws-listen", "", "serve the live event stream over WebSocket on this address")
	f.BoolVar(&opts.dryRun, "dry-run", false, "record and log reloads without executing the reload command")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	roots := cfg.Roots
	if len(args) > 0 {
		roots = args
	}

	rules, err := config.LoadRules(cfg.ConfigFile)
	if err != nil {
		return err
	}

	eventBus := bus.New(bus.WithLogger(logger))
	defer eventBus.Close()

	var wsServer *http.Server

	if cfg.WSListen != "" {
		wsServer = &http.Server{
			Addr:              cfg.WSListen,
			Handler:           bus.NewWSBridge(eventBus, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			if serveErr := wsServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("event stream server failed", slog.String("error", serveErr.Error()))
			}
		}()

		logger.Info("event stream listening", slog.String("addr", cfg.WSListen))
	}

	journal, err := store.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	reloader := buildReloader(cfg, rules, opts, logger)

	orch := reload.New(reloader, eventBus,
		reload.WithLogger(logger),
		reload.WithDefaultDirs(roots),
	)

	for _, rule := range reload.RulesFromMap(rules.Rules) {
		if regErr := orch.Register(rule.Namespace, reload.ComponentConfig{Namespace: rule.Namespace}); regErr != nil {
			return regErr
		}
	}

	orch.AddListener("log", func(n reload.Notification) {
		switch n.Type {
		case reload.NotifyReloadSuccess:
			logger.Info("reload succeeded",
				slog.Any("loaded", n.Loaded),
				slog.Duration("elapsed", n.Elapsed),
			)
		case reload.NotifyReloadError:
			logger.Error("reload failed",
				slog.String("namespace", n.Failed),
				slog.Any("error", n.Err),
			)
		}
	})

	// The claims directory must exist before its watcher registers it;
	// directories that appear after Start are never picked up.
	if err := os.MkdirAll(cfg.ClaimsDir, 0o750); err != nil {
		return fmt.Errorf("creating claims directory: %w", err)
	}

	fileClaims := claims.NewFileClaims(cfg.ClaimsDir, logger)
	tracker := claims.NewTracker(fileClaims.Claimed)

	deb := watch.NewDebouncer(cfg.Cooldown, fileClaims.Claimed,
		func(paths []string) { dispatchReload(ctx, orch, journal, cfg, paths, logger) },
		watch.WithDebouncerLogger(logger),
	)
	defer deb.Stop()

	// A second watcher on the claims directory turns lock file removal
	// into release notifications for the debouncer.
	claimsWatcher := watch.NewWatcher(watch.WithWatcherLogger(logger))
	if _, err := claimsWatcher.Start([]string{cfg.ClaimsDir}, func(watch.Event) {
		if released := tracker.Released(); len(released) > 0 {
			deb.OnClaimsReleased(released)
		}
	}); err != nil {
		return err
	}
	defer claimsWatcher.Stop()

	watcher := watch.NewWatcher(
		watch.WithWatcherLogger(logger),
		watch.WithIgnores(cfg.Ignore),
	)
	if _, err := watcher.Start(roots, func(ev watch.Event) {
		eventBus.Emit(bus.TopicFileChanged, map[string]any{
			"file": ev.Path,
			"type": ev.Kind.String(),
		})
		deb.HandleEvent(ev)
	}); err != nil {
		return err
	}
	defer watcher.Stop()

	// SIGHUP dispatches every buffered path, claimed or not.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for range hup {
			logger.Info("flush requested, dispatching all buffered paths")
			deb.FlushPending()
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "rewatch: watching %s (cooldown %s)\n",
		strings.Join(roots, ", "), cfg.Cooldown)

	<-ctx.Done()

	logger.Info("shutting down")

	if wsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_ = wsServer.Shutdown(shutdownCtx)
	}

	return nil
}

// buildReloader picks the reloader implementation for this run.
func buildReloader(cfg *config.Config, rules *config.RulesConfig, opts *runOptions, logger *slog.Logger) reload.Reloader {
	if opts.dryRun {
		return reload.NopReloader{}
	}

	if len(cfg.ReloadCommand) == 0 {
		logger.Warn("no reload command configured, running in observe-only mode")

		return reload.NopReloader{}
	}

	return reload.NewExecReloader(cfg.ReloadCommand, reload.RulesFromMap(rules.Rules),
		reload.WithExecLogger(logger))
}

// dispatchReload runs one coalesced batch through the orchestrator and
// records the outcome in the journal.
func dispatchReload(ctx context.Context, orch *reload.Orchestrator, journal *store.Journal, cfg *config.Config, paths []string, logger *slog.Logger) {
	outcome, err := orch.Reload(ctx, reload.Options{
		Scope:   reload.ScopeChanged,
		Paths:   paths,
		Exclude: cfg.ExcludeNamespaces,
	})
	if err != nil {
		logger.Error("reload dispatch failed", slog.Any("error", err))

		return
	}

	entry := &store.Entry{
		At:        time.Now(),
		Success:   outcome.Success,
		Trigger:   paths,
		Loaded:    outcome.Loaded,
		Unloaded:  outcome.Unloaded,
		Failed:    outcome.Failed,
		ElapsedMs: outcome.Elapsed.Milliseconds(),
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}

	if err := journal.Append(entry); err != nil {
		logger.Warn("recording reload outcome failed", slog.Any("error", err))
	}
}
