package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/reporter"
	"github.com/setevik/logsentinel/internal/server"
	"github.com/setevik/logsentinel/internal/service"
	"github.com/setevik/logsentinel/internal/store"
	"github.com/setevik/logsentinel/internal/watcher"
)

const purgeInterval = time.Hour

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion API, the file watcher and incident refresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(false)
			if err != nil {
				return err
			}
			slog.Info("logsentinel starting", "version", version, "instance", cfg.Instance.ID)
			if err := serve(cmd.Context(), cfg, a); err != nil {
				slog.Error("fatal error", "error", err)
				return err
			}
			return nil
		},
	}
}

func serve(parent context.Context, cfg *config.Config, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := a.openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath())

	svc, err := a.service(cfg, db)
	if err != nil {
		return err
	}
	slog.Info("model loaded", "path", cfg.ModelPath(), "threshold", cfg.Classifier.Threshold)

	var notifier service.Notifier
	if rep := reporter.NewNtfy(cfg); rep.Enabled() {
		notifier = rep
	} else {
		slog.Info("ntfy URL not configured, notifications disabled")
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	srv := server.New(svc, db, cfg.Server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		svc.Loop(gctx, cfg.Incident.RefreshInterval.Duration, notifier)
		return nil
	})
	g.Go(func() error {
		purgeLoop(gctx, db, cfg.DB.Retention.Duration)
		return nil
	})

	if cfg.Watch.Enabled {
		events, err := startWatcher(gctx, cfg.Watch)
		if err != nil {
			stop()
			g.Wait()
			return err
		}
		g.Go(func() error {
			svc.Consume(gctx, events)
			return nil
		})
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Debug("sd_notify failed", "error", err)
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		slog.Info("systemd watchdog enabled", "interval", interval)
		g.Go(func() error {
			watchdog(gctx, interval/2)
			return nil
		})
	}
	slog.Info("logsentinel ready", "listen", ln.Addr().String(), "watch", cfg.Watch.Enabled)

	<-gctx.Done()
	slog.Info("shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return g.Wait()
}

func startWatcher(ctx context.Context, wc config.WatchConfig) (<-chan event.LogEvent, error) {
	if err := os.MkdirAll(wc.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating watch directory: %w", err)
	}
	// One FileSource serves every restart so file offsets survive.
	src := watcher.NewFileSource(wc.Dir, wc.Pattern, wc.FromStart)
	sup := watcher.NewSupervisedSource(func() watcher.Source { return src }, wc.RestartWait.Duration, 0)
	return sup.Events(ctx)
}

func purgeLoop(ctx context.Context, db *store.DB, retention time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		if n, err := db.Purge(ctx, retention); err != nil {
			slog.Warn("failed to purge old events", "error", err)
		} else if n > 0 {
			slog.Info("purged old events", "count", n, "retention", retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func watchdog(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
