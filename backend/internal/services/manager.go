// Package services builds the runtime object graph (store, embedder,
// caches, memory service, job scheduler) from configuration and owns its
// lifecycle. Both the HTTP server and memoryctl start from here.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"graph-memory/backend/internal/adapter"
	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/jobs"
	"graph-memory/backend/internal/memory"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/internal/validation"
	"graph-memory/backend/pkg/config"
	apperrors "graph-memory/backend/pkg/errors"
	"graph-memory/backend/pkg/logger"
)

// MetricsNamespace prefixes every exported metric
const MetricsNamespace = "graph_memory"

// stopTimeout bounds StopAll when the caller's context has no deadline
const stopTimeout = 5 * time.Second

// Options overrides parts of the wiring. Zero values build everything from
// configuration.
type Options struct {
	Logger   *zap.Logger
	Embedder adapter.Embedder
	Store    graph.Store
	Locker   jobs.Locker
}

// Manager owns the long-lived components
type Manager struct {
	Config    *config.Config
	Store     graph.Store
	Embedder  adapter.Embedder
	Cache     *cache.SearchCache
	Metrics   *metrics.Collector
	Service   *memory.Service
	Scheduler *jobs.Scheduler

	logger *zap.Logger
	repo   *graph.Repository
	redis  *redis.Client

	mu      sync.Mutex
	started bool
	stopped bool

	// background work such as schema retries, stopped by StopAll
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewManager connects to the configured backends and assembles the service.
// Unreachable Neo4j or Redis is logged and leaves the manager degraded; the
// health report shows it. On error, anything already opened is closed again.
func NewManager(ctx context.Context, cfg *config.Config, o Options) (m *Manager, err error) {
	log := o.Logger
	if log == nil {
		log = logger.Named("services")
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	m = &Manager{
		Config:   cfg,
		Metrics:  metrics.NewCollector(MetricsNamespace),
		logger:   log,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
	defer func() {
		if err != nil {
			bgCancel()
			m.closeBackends(context.Background())
			m = nil
		}
	}()

	if m.Store = o.Store; m.Store == nil {
		if m.Store, err = m.openStore(ctx); err != nil {
			return m, err
		}
	}

	if m.Cache, err = cache.New(cfg.Cache, m.Metrics); err != nil {
		return m, fmt.Errorf("failed to create caches: %w", err)
	}

	embedder := o.Embedder
	if embedder == nil {
		embedder = adapter.NewOpenAIEmbedder(adapter.EmbedderConfig{
			BaseURL:    cfg.EmbeddingURL,
			APIKey:     cfg.EmbeddingAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
			Timeout:    cfg.EmbedTimeout,
		}, m.Metrics)
	}
	m.Embedder = adapter.NewCachedEmbedder(embedder, m.Cache)

	m.Service = memory.NewService(memory.Deps{
		Store:        m.Store,
		Embedder:     m.Embedder,
		Cache:        m.Cache,
		Validator:    validation.New(cfg.Validation),
		Metrics:      m.Metrics,
		Logger:       logger.Named("memory"),
		Config:       cfg.Memory,
		StoreTimeout: cfg.StoreTimeout,
	})

	locker := o.Locker
	if locker == nil {
		if locker, err = m.openLocker(ctx); err != nil {
			return m, err
		}
	}
	m.Scheduler = jobs.NewScheduler(cfg.Jobs, jobs.Options{
		Store:   m.Store,
		Locker:  locker,
		Cache:   m.Cache,
		Metrics: m.Metrics,
		Logger:  logger.Named("jobs"),
	})

	log.Info("Services initialized",
		zap.String("store", cfg.StoreBackend),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.Bool("redis_locks", m.redis != nil),
		zap.Bool("jobs_enabled", cfg.Jobs.Enabled),
	)
	return m, nil
}

func (m *Manager) openStore(ctx context.Context) (graph.Store, error) {
	cfg := m.Config
	if cfg.StoreBackend == config.StoreMemory {
		m.logger.Warn("Using in-memory graph store; data is lost on exit")
		return graph.NewMemoryStore(), nil
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}
	m.repo = graph.NewRepository(driver, cfg.Neo4jDatabase)

	vctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		m.logger.Warn("Neo4j unreachable, starting degraded",
			zap.String("uri", cfg.Neo4jURI),
			zap.Error(apperrors.NewConnection("neo4j", err)),
		)
		return m.repo, nil
	}
	m.logger.Info("Connected to Neo4j", zap.String("uri", cfg.Neo4jURI))
	return m.repo, nil
}

func (m *Manager) openLocker(ctx context.Context) (jobs.Locker, error) {
	cfg := m.Config
	if cfg.RedisAddr == "" {
		if cfg.Jobs.Enabled {
			m.logger.Warn("REDIS_ADDR not set; job locks are process-local")
		}
		return jobs.NewMemoryLocker(nil), nil
	}

	m.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	locker := jobs.NewRedisLocker(m.redis)

	pctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()
	if err := locker.Ping(pctx); err != nil {
		m.logger.Warn("Redis unreachable, job runs fail until it returns",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(apperrors.NewConnection("redis", err)),
		)
		return locker, nil
	}
	m.logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return locker, nil
}

// EnsureSchema applies Neo4j constraints and indexes. It is a no-op for the
// in-memory store.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.EnsureSchema(ctx, m.Config.EmbeddingDimensions)
}

// EnsureSchemaOrRetry applies the schema once. When that fails the store is
// treated as degraded and the schema is retried in the background with
// exponential backoff until it succeeds or StopAll is called.
func (m *Manager) EnsureSchemaOrRetry(ctx context.Context) {
	err := m.applySchema(ctx)
	if err == nil {
		return
	}
	m.logger.Warn("Failed to apply schema, retrying in background", zap.Error(err))

	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = time.Minute
		_, err := backoff.Retry(m.bgCtx, func() (struct{}, error) {
			return struct{}{}, m.applySchema(m.bgCtx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, wait time.Duration) {
				m.logger.Debug("Schema retry failed", zap.Duration("wait", wait), zap.Error(err))
			}),
		)
		if err != nil {
			m.logger.Warn("Gave up applying schema", zap.Error(err))
			return
		}
		m.logger.Info("Schema applied after retry")
	}()
}

// applySchema checks connectivity under the store timeout before running the
// migrations, so an unreachable server fails fast.
func (m *Manager) applySchema(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, m.Config.StoreTimeout)
	err := m.repo.Ping(pctx)
	cancel()
	if err != nil {
		return apperrors.NewConnection("neo4j", err)
	}
	return m.EnsureSchema(ctx)
}

// SchemaApplied reports whether the schema marker exists. The in-memory
// store has no schema and always reports true.
func (m *Manager) SchemaApplied(ctx context.Context) (bool, error) {
	if m.repo == nil {
		return true, nil
	}
	return m.repo.SchemaApplied(ctx)
}

// StartAll starts the job scheduler
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("services already started")
	}
	if err := m.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	m.started = true
	return nil
}

// StopAll stops the scheduler, waiting for running jobs, then closes the
// backend connections. Calling it twice is a no-op.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopTimeout)
		defer cancel()
	}

	m.bgCancel()
	m.bgWG.Wait()

	var errs []error
	if m.started {
		if err := m.Scheduler.Stop(ctx); err != nil {
			m.logger.Warn("Jobs did not stop gracefully", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := m.closeBackends(ctx); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info("All services stopped")
	return errors.Join(errs...)
}

func (m *Manager) closeBackends(ctx context.Context) error {
	var errs []error
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		m.redis = nil
	}
	if m.repo != nil {
		if err := m.repo.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close neo4j: %w", err))
		}
		m.repo = nil
	}
	return errors.Join(errs...)
}
