package memory

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/metrics"
)

// Link methods recorded in edge metadata
const (
	linkMethodEmbedding = "embedding"
	linkMethodName      = "name"
)

// LinkerOptions configures a Linker
type LinkerOptions struct {
	// MaxLinks caps the edges created per fact; 0 means no cap
	MaxLinks int
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

// Linker connects a Fact to the Entities it mentions with MENTIONS_ENTITY edges
type Linker struct {
	store    graph.Store
	maxLinks int
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewLinker creates a linker over store
func NewLinker(store graph.Store, opts LinkerOptions) *Linker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Linker{
		store:    store,
		maxLinks: opts.MaxLinks,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// candidates returns the entities fact should link to, ordered by descending
// similarity and then entity id, and which of them were matched by name.
// Entities named verbatim in the fact text score 1.0; the rest come from the
// Entity vector index.
func (l *Linker) candidates(ctx context.Context, fact *graph.Node, threshold float64) ([]graph.Match, map[string]bool, error) {
	byID := make(map[string]graph.Match)
	byName := make(map[string]bool)

	named, err := l.nameMatches(ctx, fact)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range named {
		byID[m.Node.ID] = m
		byName[m.Node.ID] = true
	}

	hits, err := l.store.QueryBySimilarity(ctx, graph.SimilarityQuery{
		Label:         constants.LabelEntity,
		OwnerID:       fact.OwnerID,
		Vector:        fact.Embedding,
		Threshold:     threshold,
		ExcludeStatus: graph.StatusArchived,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query similar entities: %w", err)
	}
	for _, h := range hits {
		if _, ok := byID[h.Node.ID]; !ok {
			byID[h.Node.ID] = h
		}
	}

	out := make([]graph.Match, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	graph.SortMatches(out)
	return out, byName, nil
}

// nameMatches finds entities whose name or alias appears as a whole word in
// the fact text.
func (l *Linker) nameMatches(ctx context.Context, fact *graph.Node) ([]graph.Match, error) {
	if fact.Text == "" {
		return nil, nil
	}
	entities, err := l.store.FindNodes(ctx, graph.NodeFilter{
		OwnerID:       fact.OwnerID,
		Labels:        []string{constants.LabelEntity},
		ExcludeStatus: graph.StatusArchived,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	var out []graph.Match
	for _, e := range entities {
		names := append([]string{e.Text}, e.Aliases...)
		for _, name := range names {
			if mentions(fact.Text, name) {
				out = append(out, graph.Match{Node: e, Similarity: 1.0})
				break
			}
		}
	}
	return out, nil
}

func mentions(text, name string) bool {
	key := graph.NormalizeName(name)
	if key == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)(^|\W)` + regexp.QuoteMeta(key) + `($|\W)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Link creates MENTIONS_ENTITY edges from fact to its candidates. Entities
// already linked from fact are skipped, so re-running Link is safe. A fact
// without an embedding is left unlinked.
func (l *Linker) Link(ctx context.Context, fact *graph.Node, threshold float64) ([]*graph.Edge, error) {
	if fact.Label != constants.LabelFact {
		return nil, nil
	}
	if len(fact.Embedding) == 0 {
		l.logger.Warn("Fact has no embedding, skipping auto-link", zap.String("node_id", fact.ID))
		return nil, nil
	}

	candidates, byName, err := l.candidates(ctx, fact, threshold)
	if err != nil {
		return nil, err
	}

	existing, err := l.store.ListEdges(ctx, graph.EdgeFilter{
		OwnerID: fact.OwnerID,
		From:    fact.ID,
		Type:    constants.EdgeMentionsEntity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list existing links: %w", err)
	}
	linked := make(map[string]bool, len(existing))
	for _, e := range existing {
		linked[e.To] = true
	}

	var created []*graph.Edge
	for _, c := range candidates {
		if l.maxLinks > 0 && len(created) >= l.maxLinks {
			break
		}
		if linked[c.Node.ID] {
			continue
		}
		method := linkMethodEmbedding
		if byName[c.Node.ID] {
			method = linkMethodName
		}
		edge := &graph.Edge{
			ID:      l.newID(),
			OwnerID: fact.OwnerID,
			From:    fact.ID,
			To:      c.Node.ID,
			Type:    constants.EdgeMentionsEntity,
			Metadata: graph.Metadata{
				constants.MetaSimilarity: c.Similarity,
				constants.MetaLinkMethod: method,
				constants.MetaAutoLinked: true,
			},
			CreatedAt: l.now().UnixMilli(),
		}
		if err := l.store.CreateEdge(ctx, edge); err != nil {
			return created, fmt.Errorf("failed to link entity %s: %w", c.Node.ID, err)
		}
		l.metrics.EdgeCreated("auto_link")
		linked[c.Node.ID] = true
		created = append(created, edge)
	}

	l.logger.Debug("Auto-linked fact",
		zap.String("node_id", fact.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("links", len(created)),
	)
	return created, nil
}
