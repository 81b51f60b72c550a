// Command housingd keeps the housing repository consistent in the
// background: it runs scheduled reconciliation and exports metrics until
// interrupted.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"housingcore/internal/config"
	"housingcore/internal/core"
	"housingcore/internal/infra/events/amqp"
	prommetrics "housingcore/internal/infra/metrics/prometheus"
	"housingcore/internal/jobs"
	"housingcore/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "housingd: %v\n", err)
		exitFunc(1)
		return
	}
	logger := logging.NewWithLevel("housingd", cfg.LogLevel, os.Stdout)
	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("housingd stopped", "error", err)
		exitFunc(1)
		return
	}
	logger.Info("housingd stopped")
}

// run serves until ctx is cancelled. When ready is non-nil it receives the
// bound metrics address once the listener is up.
func run(ctx context.Context, cfg config.Config, logger core.Logger, ready chan<- string) error {
	repo, closeRepo, err := core.OpenRepository(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			logger.Warn("close repository", "error", err)
		}
	}()

	recorder, handler, err := newMetrics(cfg.Metrics)
	if err != nil {
		return err
	}
	opts := []core.Option{core.WithLogger(logger), core.WithMetricsRecorder(recorder)}

	if cfg.Events.AMQPURL != "" {
		pub, err := amqp.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, core.WithEventPublisher(pub))
	}
	svc := core.NewService(repo, opts...)

	scheduler, err := jobs.NewReconcileScheduler(cfg.Reconcile.Schedule, svc, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath(cfg.Metrics), handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.Queries().OccupancyReport(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Metrics.Addr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	scheduler.Start()
	logger.Info("housingd started",
		"storage", cfg.Storage.Driver,
		"metrics", cfg.Metrics.Exporter,
		"addr", ln.Addr().String(),
		"reconcile", cfg.Reconcile.Schedule)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("reconcile scheduler did not stop cleanly", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func newMetrics(cfg config.Metrics) (core.MetricsRecorder, http.Handler, error) {
	switch cfg.Exporter {
	case config.MetricsPrometheus:
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := prommetrics.NewRecorder(reg)
		if err != nil {
			return nil, nil, err
		}
		return rec, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
	case config.MetricsExpvar, "":
		return core.NewExpvarMetricsRecorder(""), expvar.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter %s", cfg.Exporter)
	}
}

func metricsPath(cfg config.Metrics) string {
	if cfg.Exporter == config.MetricsPrometheus {
		return "/metrics"
	}
	return "/debug/vars"
}
