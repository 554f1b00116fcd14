package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/markwatch/internal/config"
	"github.com/roach88/markwatch/internal/corpus"
	"github.com/roach88/markwatch/internal/journal"
	"github.com/roach88/markwatch/internal/marker"
	"github.com/roach88/markwatch/internal/mediawiki"
	"github.com/roach88/markwatch/internal/metrics"
	"github.com/roach88/markwatch/internal/notify"
	"github.com/roach88/markwatch/internal/reconcile"
)

// loadConfig reads the config file named by --config (optional) plus the
// MARKWATCH_* environment.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. --verbose forces debug.
func setupLogging(w io.Writer, cfg *config.Config, verbose bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// connect opens the wiki, logging in when credentials are configured.
func connect(ctx context.Context, opts *RootOptions, cfg *config.Config) (corpus.Corpus, error) {
	if opts.NewCorpus != nil {
		return opts.NewCorpus(ctx, cfg)
	}

	client, err := mediawiki.New(mediawiki.Config{
		APIURL:     cfg.Wiki.APIURL,
		Username:   cfg.Wiki.Username,
		Password:   cfg.Wiki.Password.Value(),
		UserAgent:  cfg.Wiki.UserAgent,
		RateLimit:  cfg.Wiki.RateLimit,
		Burst:      cfg.Wiki.Burst,
		Timeout:    cfg.Wiki.Timeout,
		MaxRetries: cfg.Wiki.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Login(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// reconcilerOptions maps configuration onto reconciler options. dryRun
// turns off every write.
func reconcilerOptions(cfg *config.Config, dryRun bool) (reconcile.Options, error) {
	m, err := marker.New(cfg.Marker.Name, cfg.Marker.SpacePrefix)
	if err != nil {
		return reconcile.Options{}, fmt.Errorf("marker: %w", err)
	}

	return reconcile.Options{
		Marker:           m,
		Namespaces:       cfg.Marker.Namespaces,
		LedgerPage:       cfg.Ledger.Page,
		LedgerSummary:    cfg.Ledger.Summary,
		Threshold:        cfg.Reminder.Threshold,
		RecentEditGrace:  cfg.Reminder.RecentEditGrace,
		Agent:            cfg.Agent.Name,
		Composer:         notify.NewComposer(cfg.Reminder.TalkPrefix, cfg.Reminder.Template, cfg.Reminder.Summary),
		DeliverReminders: cfg.Reminder.Deliver && !dryRun,
		PersistLedger:    cfg.Ledger.Persist && !dryRun,
		StripOverdue:     cfg.Reminder.StripOverdue,
		StripSummary:     cfg.Reminder.StripSummary,
		OperatorPage:     cfg.Operator.Page,
	}, nil
}

// app bundles what one reconciliation cycle touches.
type app struct {
	rec     *reconcile.Reconciler
	journal *journal.Journal
	metrics *metrics.Metrics
}

func newApp(ctx context.Context, opts *RootOptions, cfg *config.Config, dryRun bool) (*app, error) {
	ropts, err := reconcilerOptions(cfg, dryRun)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	c, err := connect(ctx, opts, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to wiki", err)
	}

	rec, err := reconcile.New(c, ropts, opts.ReconcilerOptions...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create reconciler", err)
	}

	a := &app{rec: rec}
	if cfg.Journal.Path != "" {
		slog.Info("opening journal", "path", cfg.Journal.Path)
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		a.journal = j
	}
	return a, nil
}

func (a *app) Close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		slog.Error("error closing journal", "error", err)
	}
}

// cycle runs the reconciler once and records the outcome in the journal,
// the metrics and (on failure) the operator page. Only the reconciler's
// own run-level error is returned.
func (a *app) cycle(ctx context.Context) (*reconcile.Report, error) {
	rep, runErr := a.rec.Run(ctx)

	if a.journal != nil && rep != nil {
		// Recording must survive a cancelled run context.
		if err := a.journal.RecordRun(context.WithoutCancel(ctx), rep); err != nil {
			slog.Error("failed to journal run", "run", rep.RunID, "error", err)
		}
	}
	if a.metrics != nil {
		a.metrics.Observe(rep)
	}
	if rep != nil && ctx.Err() == nil {
		if err := a.rec.ReportToOperator(ctx, rep); err != nil {
			slog.Error("failed to report to operator", "run", rep.RunID, "error", err)
		}
	}
	return rep, runErr
}
