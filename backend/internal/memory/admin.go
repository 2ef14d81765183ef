package memory

import (
	"context"

	"go.uber.org/zap"

	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	apperrors "graph-memory/backend/pkg/errors"
)

// Health states
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// ComponentHealth describes one collaborator
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// Breaker is the embedder circuit breaker state when known
	Breaker string `json:"breaker,omitempty"`
}

// CacheHealth reports both caches
type CacheHealth struct {
	Embeddings cache.Stats `json:"embeddings"`
	Search     cache.Stats `json:"search"`
}

// HealthReport is the degraded-or-healthy view of the engine
type HealthReport struct {
	Status   string          `json:"status"`
	Store    ComponentHealth `json:"store"`
	Embedder ComponentHealth `json:"embedder"`
	Cache    CacheHealth     `json:"cache"`
}

// Stats returns node, status and relation counts for an owner
func (s *Service) Stats(ctx context.Context, ownerID string) (*graph.Stats, error) {
	owner, err := s.owner(ownerID)
	if err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	st, err := s.store.CountNodes(sctx, owner)
	if err != nil {
		return nil, s.storeErr("get_stats", err)
	}
	return st, nil
}

// Health pings the store and inspects the embedder breaker. An unreachable
// store degrades the report instead of failing the call.
func (s *Service) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:   HealthHealthy,
		Store:    ComponentHealth{Status: HealthHealthy},
		Embedder: ComponentHealth{Status: HealthHealthy},
		Cache: CacheHealth{
			Embeddings: s.cache.EmbeddingStats(),
			Search:     s.cache.SearchStats(),
		},
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.Ping(sctx); err != nil {
		cerr := apperrors.NewConnection("graph store", err)
		s.logger.Warn("Store health check failed", zap.Error(cerr))
		report.Store = ComponentHealth{Status: HealthDegraded, Error: cerr.Error()}
		report.Status = HealthDegraded
	}

	if b, ok := s.embedder.(interface{ State() string }); ok {
		report.Embedder.Breaker = b.State()
		if report.Embedder.Breaker == "open" {
			report.Embedder.Status = HealthDegraded
			report.Embedder.Error = "circuit breaker open"
			report.Status = HealthDegraded
		}
	}
	return report
}

// CreateSummaryFact stores a Fact summarising existing Facts and links it to
// each source with a SUMMARIZES edge. The summary is not auto-linked.
func (s *Service) CreateSummaryFact(ctx context.Context, in SummaryInput) (*CreateResult, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}
	if err := s.validator.Text("text", in.Text, true); err != nil {
		return nil, err
	}

	sources, err := s.requireNodes(ctx, owner, in.FactIDs...)
	if err != nil {
		return nil, err
	}
	for _, id := range in.FactIDs {
		if sources[id].Label != constants.LabelFact {
			return nil, apperrors.NewValidation("fact_ids", "must reference Facts only")
		}
	}

	noLink := false
	res, err := s.CreateNode(ctx, CreateNodeInput{
		NodeType: constants.LabelFact,
		Text:     in.Text,
		OwnerID:  owner,
		Metadata: in.Metadata.Merge(graph.Metadata{
			constants.MetaIsSummary:   true,
			constants.MetaSourceCount: len(sources),
		}),
		AutoLink: &noLink,
	})
	if err != nil {
		return nil, err
	}

	for _, id := range in.FactIDs {
		if id == res.Node.ID {
			continue
		}
		edge, created, err := s.ensureEdge(ctx, "summary", owner, res.Node.ID, id, constants.EdgeSummarizes, nil)
		if err != nil {
			return res, s.storeErr("create_summary_fact", err)
		}
		if created {
			res.Relations = append(res.Relations, edge)
		}
	}
	s.invalidate()

	s.logger.Info("Summary fact created",
		zap.String("node_id", res.Node.ID),
		zap.Int("sources", len(sources)),
	)
	return res, nil
}
