package memory

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"graph-memory/backend/internal/cache"
	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/validation"
)

// searchKey is the normalized form of a search used as cache key
type searchKey struct {
	OwnerID   string         `json:"owner_id"`
	Query     string         `json:"query"`
	Limit     int            `json:"limit"`
	Labels    []string       `json:"labels"`
	Statuses  []graph.Status `json:"statuses"`
	Threshold float64        `json:"threshold"`
}

// Search embeds the query and returns the most similar Facts and Entities of
// the owner. Expired Facts are never returned. Without an explicit status
// only active nodes match, plus outdated ones when IncludeOutdated is set.
// Results are served from the search cache until the next mutation.
func (s *Service) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}
	if err := s.validator.Text("query", in.Query, true); err != nil {
		return nil, err
	}
	if err := validation.Threshold("threshold", in.Threshold); err != nil {
		return nil, err
	}

	key := searchKey{
		OwnerID:   owner,
		Query:     strings.TrimSpace(in.Query),
		Limit:     in.Limit,
		Labels:    in.NodeTypes,
		Threshold: s.cfg.SemanticSimilarityThreshold,
	}
	if key.Limit == 0 {
		key.Limit = s.cfg.DefaultSearchLimit
	}
	if in.Threshold != nil {
		key.Threshold = *in.Threshold
	}
	if len(key.Labels) == 0 {
		key.Labels = []string{constants.LabelFact, constants.LabelEntity}
	}
	key.Labels = slices.Compact(slices.Sorted(slices.Values(key.Labels)))
	switch {
	case in.Status != "":
		key.Statuses = []graph.Status{graph.Status(in.Status)}
	case in.IncludeOutdated:
		key.Statuses = []graph.Status{graph.StatusActive, graph.StatusOutdated}
	default:
		key.Statuses = []graph.Status{graph.StatusActive}
	}

	cacheKey := cache.Key("search", key)
	if cached, ok := s.cache.GetSearch(cacheKey); ok {
		if res, ok := cached.(*SearchResult); ok {
			return res, nil
		}
	}

	gen := s.cache.Generation()
	vec, err := s.embed(ctx, key.Query)
	if err != nil {
		return nil, s.storeErr("embed", err)
	}

	res := &SearchResult{Results: []graph.Match{}, Facts: []graph.Match{}, Entities: []graph.Match{}}
	now := s.nowMillis()
	for _, label := range key.Labels {
		q := graph.SimilarityQuery{
			Label:     label,
			OwnerID:   owner,
			Vector:    vec,
			Threshold: key.Threshold,
			Limit:     key.Limit,
			Statuses:  key.Statuses,
		}
		if label == constants.LabelFact {
			q.NotExpiredAt = now
		}

		sctx, cancel := s.storeCtx(ctx)
		matches, err := s.store.QueryBySimilarity(sctx, q)
		cancel()
		if err != nil {
			return nil, s.storeErr("search", err)
		}
		for i := range matches {
			matches[i].Node.Embedding = nil
		}

		if label == constants.LabelFact {
			res.Facts = append(res.Facts, matches...)
		} else {
			res.Entities = append(res.Entities, matches...)
		}
		res.Results = append(res.Results, matches...)
	}
	graph.SortMatches(res.Results)
	if len(res.Results) > key.Limit {
		res.Results = res.Results[:key.Limit]
	}

	s.cache.PutSearch(cacheKey, res, gen)
	s.logger.Debug("Search executed",
		zap.String("owner_id", owner),
		zap.Int("results", len(res.Results)),
	)
	return res, nil
}

// FindSimilar returns the nodes of the same label closest to a stored node's
// embedding, excluding the node itself and archived nodes.
func (s *Service) FindSimilar(ctx context.Context, in FindSimilarInput) ([]graph.Match, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}
	if err := validation.Threshold("threshold", in.Threshold); err != nil {
		return nil, err
	}

	n, err := s.loadNode(ctx, owner, in.NodeID)
	if err != nil {
		return nil, err
	}
	if len(n.Embedding) == 0 {
		return []graph.Match{}, nil
	}

	q := graph.SimilarityQuery{
		Label:         n.Label,
		OwnerID:       owner,
		Vector:        n.Embedding,
		Threshold:     s.cfg.SemanticSimilarityThreshold,
		Limit:         in.Limit,
		ExcludeStatus: graph.StatusArchived,
		ExcludeIDs:    []string{n.ID},
	}
	if q.Limit == 0 {
		q.Limit = s.cfg.DefaultSearchLimit
	}
	if in.Threshold != nil {
		q.Threshold = *in.Threshold
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	matches, err := s.store.QueryBySimilarity(sctx, q)
	if err != nil {
		return nil, s.storeErr("find_similar", err)
	}
	for i := range matches {
		matches[i].Node.Embedding = nil
	}
	if matches == nil {
		matches = []graph.Match{}
	}
	return matches, nil
}
