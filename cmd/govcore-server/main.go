// Command govcore-server runs the governance engine behind its HTTP facade.
// Configuration comes from the environment: persistence driver, matrix
// directory, attachment backend, and listen address.
package main

import (
	"context"
	"errors"
	"expvar"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"govcore/internal/adapters/rest"
	"govcore/internal/core"
	"govcore/internal/infra/blob"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", envOr("GOVCORE_ADDR", ":8080"), "listen address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	metrics, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("register metrics", "error", err)
		return 1
	}

	dispatcher := core.NewDispatcher(logger)
	dispatcher.Subscribe("intervention.signed", logEvent(logger))
	dispatcher.Subscribe("intervention.terminated", logEvent(logger))
	dispatcher.Subscribe("agreement.signed", logEvent(logger))
	dispatcher.Subscribe("agreement.terminated", logEvent(logger))
	dispatcher.Subscribe("engagement.report_submitted", logEvent(logger))
	dispatcher.Subscribe("engagement.finalized", logEvent(logger))
	dispatcher.Subscribe("action_point.completed", logEvent(logger))
	dispatcher.Start()

	svc, closeStore, err := core.Bootstrap(
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(core.NewSlogAuditRecorder(logger)),
		core.WithNotifier(dispatcher),
	)
	if err != nil {
		logger.Error("bootstrap", "error", err)
		return 1
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attachments, err := blob.Open(ctx)
	if err != nil {
		logger.Error("open attachment store", "error", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/attachments/", rest.NewAttachmentsHandler(attachments))
	mux.Handle("/api/v1/", rest.NewHandler(svc))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", *addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			return 1
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Error("stop dispatcher", "error", err)
	}
	return 0
}

func logEvent(logger *slog.Logger) core.Handler {
	return func(ctx context.Context, event core.Event) {
		logger.InfoContext(ctx, "notification",
			"hook", event.Hook,
			"object", string(event.Object),
			"object_id", event.ObjectID,
			"transition", event.Transition,
			"actor", event.ActorID)
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
