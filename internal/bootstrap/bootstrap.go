package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/core/usecase"
	rediscache "github.com/kirillkom/document-pipeline/internal/infrastructure/cache/redis"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/dispatch"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/inference"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/storage/localfs"
	miniostorage "github.com/kirillkom/document-pipeline/internal/infrastructure/storage/minio"
	s3storage "github.com/kirillkom/document-pipeline/internal/infrastructure/storage/s3"
	"github.com/kirillkom/document-pipeline/internal/pipeline"
)

const inboxMarkerPrefix = "local:"

// Stores is what every process needs: the database, the cache and the rule
// administration built on them.
type Stores struct {
	Config   config.Config
	Executor *resilience.Executor

	DB        *sql.DB
	Redis     *goredis.Client
	Documents *postgres.DocumentRepository
	Rules     *postgres.RuleRepository
	Routing   *postgres.RoutingRepository
	Cache     *rediscache.ClassificationCache
	RuleAdmin *usecase.RuleAdminUseCase
}

// OpenStores connects Postgres and Redis and bootstraps the schema.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	executor := resilience.NewExecutor(ResilienceConfig(cfg))

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	client, err := rediscache.OpenClient(ctx, rediscache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open redis: %w", err)
	}

	rules := postgres.NewRuleRepository(db)
	routing := postgres.NewRoutingRepository(db)
	cache := rediscache.NewClassificationCache(client, executor)

	return &Stores{
		Config:    cfg,
		Executor:  executor,
		DB:        db,
		Redis:     client,
		Documents: postgres.NewDocumentRepository(db),
		Rules:     rules,
		Routing:   routing,
		Cache:     cache,
		RuleAdmin: usecase.NewRuleAdminUseCase(rules, routing, cache),
	}, nil
}

func (s *Stores) Close() {
	if err := s.Redis.Close(); err != nil {
		slog.Warn("redis_close_failed", "error", err)
	}
	if err := s.DB.Close(); err != nil {
		slog.Warn("postgres_close_failed", "error", err)
	}
}

// App wires the pipeline stages on top of the shared stores.
type App struct {
	*Stores

	Storage      ports.ObjectStorage
	InboxMarkers ports.DedupCache

	Ingest   *usecase.IngestStage
	Extract  *usecase.ExtractStage
	Classify *usecase.ClassifyStage
	Route    *usecase.RouteStage
	Router   *usecase.RoutingEngine
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	storage, err := newStorage(ctx, cfg, stores.Executor)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	uploader, err := newUploader(ctx, cfg, storage, stores.Executor)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("init object-store destination: %w", err)
	}

	dedup := rediscache.NewDedupCache(stores.Redis, "", stores.Executor)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	extractors := extractor.NewDefaultRegistry(chunker)

	classifier := usecase.NewClassificationEngine(
		usecase.ClassificationConfig{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			HintBoost:           cfg.HintBoost,
			CacheTTL:            cfg.ClassificationCacheTTL,
			Labels:              cfg.ModelLabels,
		},
		stores.Rules,
		stores.Cache,
		newModel(cfg, stores.Executor),
		newRemoteClassifier(cfg, stores.Executor),
	)

	dispatchers := map[domain.DestinationKind]ports.Dispatcher{
		domain.DestinationFolder:      dispatch.NewFolder(storage),
		domain.DestinationExternalAPI: dispatch.NewWebhook(storage, cfg.WebhookTimeout),
	}
	if uploader != nil {
		dispatchers[domain.DestinationObjectStore] = dispatch.NewBucket(storage, uploader)
	}
	routing := usecase.NewRoutingEngine(stores.Documents, stores.Documents, stores.Routing, dispatchers)

	return &App{
		Stores:       stores,
		Storage:      storage,
		InboxMarkers: rediscache.NewDedupCache(stores.Redis, inboxMarkerPrefix, stores.Executor),
		Ingest: usecase.NewIngestStage(stores.Documents, storage, dedup, nil, usecase.IngestConfig{
			DedupTTL: cfg.DedupTTL,
		}),
		Extract: usecase.NewExtractStage(stores.Documents, storage, extractors, dedup, usecase.ExtractConfig{
			DedupTTL: cfg.DedupTTL,
		}),
		Classify: usecase.NewClassifyStage(stores.Documents, classifier),
		Route:    usecase.NewRouteStage(routing),
		Router:   routing,
	}, nil
}

// Connector opens a broker connection per stage. Publishing retries live in
// the stage runner, so the bus itself carries no executor.
func (a *App) Connector(name string) pipeline.Connector {
	return func(context.Context) (ports.MessageBus, error) {
		return nats.NewWithOptions(a.Config.NATSURL, nats.Options{Name: name})
	}
}

// RunnerExecutor bounds stage connect and publish attempts.
func (a *App) RunnerExecutor() *resilience.Executor {
	return resilience.NewExecutor(ResilienceConfig(a.Config).WithMaxAttempts(a.Config.NATSConnectRetries))
}

// OpenPublisher connects a bus for request-path publishing with retries.
func (a *App) OpenPublisher(name string) (*nats.Bus, error) {
	return nats.NewWithOptions(a.Config.NATSURL, nats.Options{
		Name:                 name,
		RetryOnFailedConnect: true,
		ResilienceExecutor:   a.Executor,
	})
}

// ResilienceConfig maps retry and breaker settings onto the executor config.
func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     cfg.RetryInitialBackoff,
		RetryMaxBackoff:         cfg.RetryMaxBackoff,
		RetryMultiplier:         cfg.RetryMultiplier,
		RetryJitter:             cfg.RetryJitter,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      nonNegativeUint32(cfg.BreakerMinRequests),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      cfg.BreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: nonNegativeUint32(cfg.BreakerHalfOpenMaxCalls),
	}
}

func nonNegativeUint32(v int) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(v)
}

func newStorage(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "", "localfs":
		return localfs.New(cfg.StoragePath)
	case "minio":
		return newMinIO(ctx, cfg, executor)
	case "s3":
		return newS3(ctx, cfg, executor)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "storage backend", fmt.Errorf("unknown backend %q", cfg.StorageBackend))
	}
}

// newUploader picks the object-store routing target. Without an explicit
// kind the document storage is used when it can upload to other buckets;
// nil means object-store rules cannot be served.
func newUploader(ctx context.Context, cfg config.Config, storage ports.ObjectStorage, executor *resilience.Executor) (ports.BucketUploader, error) {
	kind := strings.TrimSpace(cfg.ObjectStoreKind)
	if kind == "" || kind == cfg.StorageBackend {
		if uploader, ok := storage.(ports.BucketUploader); ok {
			return uploader, nil
		}
		if kind == "" {
			slog.Warn("object_store_destination_disabled", "storage_backend", cfg.StorageBackend)
			return nil, nil
		}
	}
	switch kind {
	case "minio":
		return newMinIO(ctx, cfg, executor)
	case "s3":
		return newS3(ctx, cfg, executor)
	default:
		return nil, domain.WrapError(domain.ErrConfiguration, "object-store destination", errors.New("unsupported kind "+kind))
	}
}

func newMinIO(ctx context.Context, cfg config.Config, executor *resilience.Executor) (*miniostorage.Storage, error) {
	return miniostorage.New(ctx, miniostorage.Options{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.MinIOUseSSL,
	}, executor)
}

func newS3(ctx context.Context, cfg config.Config, executor *resilience.Executor) (*s3storage.Storage, error) {
	return s3storage.New(ctx, s3storage.Options{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
	}, executor)
}

// newModel returns nil without a model server, which selects the untrained path.
func newModel(cfg config.Config, executor *resilience.Executor) ports.ProbabilityModel {
	if strings.TrimSpace(cfg.ModelServerURL) == "" {
		slog.Warn("model_not_configured", "fallback", "untrained")
		return nil
	}
	client := inference.New(cfg.ModelServerURL, inference.ClientOptions{
		Timeout:            cfg.InferenceTimeout,
		ResilienceExecutor: executor,
	})
	return inference.NewModel(client, cfg.ModelLabels)
}

// newRemoteClassifier returns nil without both URL and key; the fallback then fails closed.
func newRemoteClassifier(cfg config.Config, executor *resilience.Executor) ports.RemoteClassifier {
	if strings.TrimSpace(cfg.RemoteClassifyURL) == "" || strings.TrimSpace(cfg.RemoteClassifyAPIKey) == "" {
		return nil
	}
	client := inference.New(cfg.RemoteClassifyURL, inference.ClientOptions{
		Timeout:            cfg.InferenceTimeout,
		APIKey:             cfg.RemoteClassifyAPIKey,
		ResilienceExecutor: executor,
	})
	return inference.NewRemoteClassifier(client, "")
}
