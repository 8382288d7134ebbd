// Command marksync runs the synchronization engine as a long-lived
// process: a periodic scheduler, a filesystem watcher over the local
// dataset, and one immediate cycle on startup.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/localstore"
	"github.com/marksync/marksync/internal/logging"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/state"
	"github.com/marksync/marksync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "marksync:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, warnings, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	for _, w := range warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meta, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer meta.Close()

	local, err := localstore.New(cfg.DataDir, meta)
	if err != nil {
		return err
	}

	remoteStore, err := remote.NewClient(remote.Config{
		URL:      cfg.WebDAVURL,
		BasePath: cfg.BasePath,
		Username: cfg.WebDAVUsername,
		Password: cfg.WebDAVPassword,
		Timeout:  cfg.RequestTimeout,
	}, nil, logger)
	if err != nil {
		return err
	}

	device, err := syncer.LoadOrCreateDevice(meta, cfg.DeviceName, logger)
	if err != nil {
		return err
	}

	var cipher *syncer.Cipher
	if cfg.SyncPassword != "" {
		if cipher, err = syncer.NewCipher(cfg.SyncPassword, cfg.BasePath); err != nil {
			return err
		}

		logger.Info("payload encryption enabled")
	}

	exec := syncer.NewExecutor(remoteStore, local, meta, cipher, device, cfg.RaceTolerance, logger)
	orch := syncer.NewOrchestrator(remoteStore, local, meta, exec, device, logger)
	sched := syncer.NewScheduler(orch, cfg.SyncInterval(), logger)
	watcher := syncer.NewWatcher(local.Dir(), sched, logger)

	orch.Subscribe(func(p syncer.SyncProgress) {
		if p.Status == syncer.StateTransferring {
			logger.Debug("sync progress",
				slog.String("item", p.CurrentItem),
				slog.Int("completed", p.CompletedItems),
				slog.Int("total", p.TotalItems),
			)
		}
	})

	logger.Info("marksync starting",
		slog.String("device", device.Name),
		slog.String("dataDir", cfg.DataDir),
		slog.Duration("interval", cfg.SyncInterval()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	g.Go(func() error {
		// Startup cycle so a device that was offline catches up without
		// waiting for the first tick.
		if _, err := sched.TriggerNow(gctx); err != nil {
			logger.Warn("startup sync skipped", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("marksync stopped")

	return nil
}
