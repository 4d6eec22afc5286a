package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/quark-mirror/internal/classify"
	"github.com/tonimelisma/quark-mirror/internal/credential"
	"github.com/tonimelisma/quark-mirror/internal/dircache"
	"github.com/tonimelisma/quark-mirror/internal/metrics"
	"github.com/tonimelisma/quark-mirror/internal/notify"
	"github.com/tonimelisma/quark-mirror/internal/transfer"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the transfer worker until interrupted",
		Long: `Consume the transfer queue and copy each job's file from its share into
the drive. The worker also re-validates the session cookie on schedule,
reloads it when cookie_file changes, and serves Prometheus metrics when
worker.metrics_addr is set.

The first SIGINT or SIGTERM lets the current job finish; a second exits at once.`,
		Args: cobra.NoArgs,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	a, err := openApp(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer a.Close()

	notifier, err := notify.New(a.cfg.Worker.NotifyURL, a.httpClient, logger)
	if err != nil {
		return fmt.Errorf("configuring notifier: %w", err)
	}

	m := metrics.New()

	w := transfer.NewWorker(transfer.Config{
		QueueList:  a.cfg.Worker.Queue,
		DeadList:   a.cfg.Worker.DeadQueue,
		MaxRetries: a.cfg.Worker.MaxRetries,
		Yield:      a.cfg.Worker.YieldDuration(),
	}, transfer.Deps{
		Gateway:    a.client,
		Records:    a.records,
		Queue:      a.queue,
		Credential: a.guard,
		Notifier:   notifier,
		Classifier: classify.New(a.cfg.Share.DestPattern),
		DirCache:   dircache.New(),
		Metrics:    m,
		Logger:     logger,
	})

	ctx, stop := stopOnSignal(cmd.Context(), w, logger)
	defer stop()

	logger.Info("worker starting",
		slog.String("queue", a.cfg.Worker.Queue),
		slog.Int("max_retries", a.cfg.Worker.MaxRetries),
		slog.Bool("notify", notifier.Enabled()),
	)

	m.SetCredentialValid(a.guard.Validate(ctx))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return m.Serve(gctx, a.cfg.Worker.MetricsAddr, logger) })

	if path := a.cfg.Remote.CookieFile; path != "" {
		g.Go(func() error { return credential.WatchFile(gctx, path, a.guard, logger) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("worker stopped")

	return nil
}

// exitProcess is replaced in tests.
var exitProcess = os.Exit

// inFlighter reports the media id of the job a worker is running.
type inFlighter interface {
	InFlight() (int64, bool)
}

// stopOnSignal returns a context canceled by the first SIGINT or SIGTERM,
// which lets the running job finish. A second signal exits at once and
// leaves that job's record in processing until "reset" is run on it, so
// both log lines name the in-flight media id.
func stopOnSignal(parent context.Context, w inFlighter, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("signal received, stopping after current job",
				append(inFlightAttrs(w), slog.String("signal", sig.String()))...)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, exiting now",
				append(inFlightAttrs(w), slog.String("signal", sig.String()))...)
			exitProcess(1)
		case <-done:
		}
	}()

	return ctx, sync.OnceFunc(func() {
		cancel()
		close(done)
	})
}

func inFlightAttrs(w inFlighter) []any {
	if id, ok := w.InFlight(); ok {
		return []any{slog.Int64("in_flight_media_id", id)}
	}

	return []any{slog.Bool("idle", true)}
}
