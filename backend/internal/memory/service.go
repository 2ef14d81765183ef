// Package memory implements the mutation and retrieval operations of the
// knowledge graph: node lifecycle, entity auto-linking, versioning,
// relations and triplets, cached semantic search, bounded context
// extraction and path tracing.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graph-memory/backend/internal/adapter"
	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/internal/validation"
	"graph-memory/backend/pkg/config"
	apperrors "graph-memory/backend/pkg/errors"
	"graph-memory/backend/pkg/logger"
)

// Deps are the collaborators of the Service. Store, Embedder and Validator
// are required; everything else has a usable zero value.
type Deps struct {
	Store     graph.Store
	Embedder  adapter.Embedder
	Cache     *cache.SearchCache
	Validator *validation.Validator
	Metrics   *metrics.Collector
	Logger    *zap.Logger

	Config       config.MemoryConfig
	StoreTimeout time.Duration

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// Service is the operation surface consumed by the transport layer
type Service struct {
	store     graph.Store
	embedder  adapter.Embedder
	cache     *cache.SearchCache
	validator *validation.Validator
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       config.MemoryConfig
	timeout   time.Duration
	now       func() time.Time
	newID     func() string

	linker    *Linker
	versions  *Versioning
	extractor *ContextExtractor
	tracer    *TraceFinder
}

// NewService wires the Service and its components
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = logger.Named("memory")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}

	s := &Service{
		store:     d.Store,
		embedder:  d.Embedder,
		cache:     d.Cache,
		validator: d.Validator,
		metrics:   d.Metrics,
		logger:    d.Logger,
		cfg:       d.Config,
		timeout:   d.StoreTimeout,
		now:       d.Now,
		newID:     d.NewID,
	}
	s.linker = NewLinker(d.Store, LinkerOptions{
		MaxLinks: d.Config.AutoLinkMax,
		Metrics:  d.Metrics,
		Logger:   d.Logger.Named("linker"),
		Now:      d.Now,
		NewID:    d.NewID,
	})
	s.versions = NewVersioning(d.Store, d.Now, d.NewID)
	s.extractor = NewContextExtractor(d.Store)
	s.tracer = NewTraceFinder(d.Store)
	return s
}

// Linker exposes the auto-linking engine
func (s *Service) Linker() *Linker { return s.linker }

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

// storeCtx bounds a store call by STORE_TIMEOUT
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr wraps a failed store or embedder call as a service error.
// Deadline overruns carry the configured timeout.
func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewService(op, apperrors.NewContextTimeout(op, s.timeout))
	}
	return apperrors.NewService(op, err)
}

// loadNode maps a missing node onto the not-found kind
func (s *Service) loadNode(ctx context.Context, ownerID, id string) (*graph.Node, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.GetNode(sctx, ownerID, id)
	if errors.Is(err, graph.ErrNodeNotFound) {
		return nil, apperrors.NewNotFound(id, ownerID)
	}
	if err != nil {
		return nil, s.storeErr("get_node", err)
	}
	return n, nil
}

// requireNodes checks that every id exists in the owner partition and
// returns them keyed by id.
func (s *Service) requireNodes(ctx context.Context, ownerID string, ids ...string) (map[string]*graph.Node, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	nodes, err := s.store.GetNodes(sctx, ownerID, ids)
	if err != nil {
		return nil, s.storeErr("get_nodes", err)
	}
	byID := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, apperrors.NewNotFound(id, ownerID)
		}
	}
	return byID, nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

// invalidate clears every cached search result after a mutation
func (s *Service) invalidate() {
	s.cache.InvalidateSearch()
}

func (s *Service) owner(raw string) (string, error) {
	return validation.OwnerID(raw)
}
