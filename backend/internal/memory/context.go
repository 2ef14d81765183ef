package memory

import (
	"context"
	"errors"
	"fmt"

	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/validation"
	apperrors "graph-memory/backend/pkg/errors"
)

// ContextExtractor collects the bounded neighbourhood of a node
type ContextExtractor struct {
	store graph.Store
}

// NewContextExtractor creates an extractor over store
func NewContextExtractor(store graph.Store) *ContextExtractor {
	return &ContextExtractor{store: store}
}

// GetContext walks incident edges in both directions breadth-first from the
// seed. Collection stops after depth hops or once maxNodes nodes are
// collected. Only edges whose endpoints were both collected are returned.
// An unknown seed yields graph.ErrNodeNotFound.
func (c *ContextExtractor) GetContext(ctx context.Context, ownerID, seedID string, depth, maxNodes int) (*Subgraph, error) {
	seed, err := c.store.GetNode(ctx, ownerID, seedID)
	if err != nil {
		return nil, err
	}

	nodes := []*graph.Node{seed}
	seen := map[string]bool{seed.ID: true}
	frontier := []string{seed.ID}

	for level := 0; level < depth && len(frontier) > 0 && len(nodes) < maxNodes; level++ {
		edges, err := c.store.IncidentEdges(ctx, ownerID, frontier)
		if err != nil {
			return nil, fmt.Errorf("failed to expand level %d: %w", level+1, err)
		}

		// Edges arrive sorted; walking the frontier in order keeps the result stable
		var next []string
		room := maxNodes - len(nodes)
	expand:
		for _, from := range frontier {
			for _, e := range edges {
				if e.From != from && e.To != from {
					continue
				}
				other := e.Other(from)
				if seen[other] {
					continue
				}
				if len(next) >= room {
					break expand
				}
				seen[other] = true
				next = append(next, other)
			}
		}

		if len(next) == 0 {
			break
		}
		found, err := c.store.GetNodes(ctx, ownerID, next)
		if err != nil {
			return nil, fmt.Errorf("failed to load level %d: %w", level+1, err)
		}
		byID := make(map[string]*graph.Node, len(found))
		for _, n := range found {
			byID[n.ID] = n
		}
		frontier = frontier[:0]
		for _, id := range next {
			if n, ok := byID[id]; ok {
				nodes = append(nodes, n)
				frontier = append(frontier, id)
			}
		}
	}

	sub := &Subgraph{Nodes: nodes, Edges: []*graph.Edge{}}
	if len(nodes) == 1 {
		return sub, nil
	}

	ids := make([]string, len(nodes))
	collected := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		collected[n.ID] = true
	}
	edges, err := c.store.IncidentEdges(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load subgraph edges: %w", err)
	}
	for _, e := range edges {
		if collected[e.From] && collected[e.To] {
			sub.Edges = append(sub.Edges, e)
		}
	}
	graph.SortEdges(sub.Edges)
	return sub, nil
}

// GetContext returns the neighbourhood of a node for agent consumption.
// Depth and max_nodes default to and are clamped by configuration.
func (s *Service) GetContext(ctx context.Context, in ContextInput) (*Subgraph, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}

	depth := s.cfg.SubgraphDefaultDepth
	if in.Depth != nil {
		if err := validation.NonNegative("depth", *in.Depth); err != nil {
			return nil, err
		}
		depth = min(*in.Depth, s.cfg.SubgraphMaxDepth)
	}
	maxNodes := s.cfg.SubgraphDefaultMaxNodes
	if in.MaxNodes != nil {
		if err := validation.Positive("max_nodes", *in.MaxNodes); err != nil {
			return nil, err
		}
		maxNodes = min(*in.MaxNodes, s.cfg.SubgraphMaxNodesLimit)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	sub, err := s.extractor.GetContext(sctx, owner, in.NodeID, depth, maxNodes)
	if errors.Is(err, graph.ErrNodeNotFound) {
		return nil, apperrors.NewNotFound(in.NodeID, owner)
	}
	if err != nil {
		return nil, s.storeErr("get_context", err)
	}
	for _, n := range sub.Nodes {
		n.Embedding = nil
	}
	return sub, nil
}
