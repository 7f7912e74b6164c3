package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/inbox"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
	"github.com/kirillkom/document-pipeline/internal/observability/metrics"
	"github.com/kirillkom/document-pipeline/internal/pipeline"
)

const (
	stageIngest   = "ingest"
	stageExtract  = "extract"
	stageClassify = "classify"
	stageRoute    = "route"
)

var allStages = []string{stageIngest, stageExtract, stageClassify, stageRoute}

func main() {
	cfg := config.Load()
	logging.Setup("worker", cfg.WorkerStage, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	stages, err := selectStages(cfg.WorkerStage)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	stageMetrics := metrics.NewStageMetrics("worker")
	runner := pipeline.NewRunner(app.Connector("worker"), pipeline.RunnerOptions{
		Executor:      app.RunnerExecutor(),
		Observer:      stageMetrics,
		HandleTimeout: cfg.StageHandleTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveMetrics(ctx, ":"+cfg.WorkerMetricsPort, stageMetrics.Handler())
	})

	for _, stage := range stages {
		switch stage {
		case stageIngest:
			g.Go(func() error {
				return pipeline.Run(ctx, runner, pipeline.Stage[domain.IngestRequested]{
					Name:          stageIngest,
					InputSubject:  cfg.SubjectIngest,
					InputKind:     domain.KindIngestRequested,
					OutputSubject: cfg.SubjectExtract,
					Handle:        app.Ingest.Process,
				})
			})
			if strings.TrimSpace(cfg.InboxPath) != "" {
				g.Go(func() error {
					return runInbox(ctx, app, cfg, stageMetrics)
				})
			}
		case stageExtract:
			g.Go(func() error {
				return pipeline.Run(ctx, runner, pipeline.Stage[domain.DocumentIngested]{
					Name:          stageExtract,
					InputSubject:  cfg.SubjectExtract,
					InputKind:     domain.KindDocumentIngested,
					OutputSubject: cfg.SubjectClassify,
					Handle:        app.Extract.Process,
				})
			})
		case stageClassify:
			g.Go(func() error {
				return pipeline.Run(ctx, runner, pipeline.Stage[domain.DocumentExtracted]{
					Name:          stageClassify,
					InputSubject:  cfg.SubjectClassify,
					InputKind:     domain.KindDocumentExtracted,
					OutputSubject: cfg.SubjectRoute,
					Handle:        app.Classify.Process,
				})
			})
		case stageRoute:
			g.Go(func() error {
				return pipeline.Run(ctx, runner, pipeline.Stage[domain.DocumentClassified]{
					Name:         stageRoute,
					InputSubject: cfg.SubjectRoute,
					InputKind:    domain.KindDocumentClassified,
					Handle:       app.Route.Process,
				})
			})
		}
	}

	slog.Info("worker_started", "stages", strings.Join(stages, ","), "metrics_port", cfg.WorkerMetricsPort)
	return g.Wait()
}

// selectStages expands WORKER_STAGE; "all" runs every stage in one process.
func selectStages(raw string) ([]string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" || name == "all" {
		return allStages, nil
	}
	for _, stage := range allStages {
		if stage == name {
			return []string{stage}, nil
		}
	}
	return nil, domain.WrapError(domain.ErrConfiguration, "worker stage", fmt.Errorf("unknown stage %q", raw))
}

func runInbox(ctx context.Context, app *bootstrap.App, cfg config.Config, stageMetrics *metrics.StageMetrics) error {
	bus, err := app.OpenPublisher("worker-inbox")
	if err != nil {
		return fmt.Errorf("inbox publisher: %w", err)
	}
	defer bus.Close()

	poller := inbox.NewPoller(cfg.InboxPath, bus, cfg.SubjectIngest, app.InboxMarkers, inbox.Options{
		Interval:  cfg.InboxPollInterval,
		MarkerTTL: cfg.InboxMarkerTTL,
		OnSubmit:  stageMetrics.InboxSubmitted,
	})
	return poller.Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
