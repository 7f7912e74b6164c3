package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/document-pipeline/internal/adapters/http"
	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logging.Setup("api", "", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("api_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	bus, err := app.OpenPublisher("api")
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	submitter := usecase.NewSubmitDocumentUseCase(app.Storage, bus, cfg.SubjectIngest)
	router := httpadapter.NewRouter(submitter, app.Documents, app.RuleAdmin, metrics.NewHTTPServerMetrics("api"), httpadapter.Options{
		MaxUploadBytes: cfg.APIMaxUploadBytes,
		AdminAPIKey:    cfg.AdminAPIKey,
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		QueueWait:      cfg.APIQueueWait,
	})

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
	return nil
}
