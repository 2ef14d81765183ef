package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"graph-memory/backend/internal/graph"
	apperrors "graph-memory/backend/pkg/errors"
)

// maxTraceExpansions bounds the partial paths explored by one trace
const maxTraceExpansions = 10000

// TraceFinder enumerates directed paths between two nodes
type TraceFinder struct {
	store graph.Store
}

// NewTraceFinder creates a finder over store
func NewTraceFinder(store graph.Store) *TraceFinder {
	return &TraceFinder{store: store}
}

type partialPath struct {
	nodes []string
	edges []*graph.Edge
}

// GetTrace returns up to maxPaths simple paths from fromID to toID following
// outgoing edges, shortest first. Paths of equal length keep breadth-first
// discovery order with neighbours visited by (edge type, target id, edge id).
// Either endpoint missing yields graph.ErrNodeNotFound.
func (t *TraceFinder) GetTrace(ctx context.Context, ownerID, fromID, toID string, maxPaths, maxDepth int) ([]Path, error) {
	nodes, err := t.store.GetNodes(ctx, ownerID, []string{fromID, toID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*graph.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, id := range []string{fromID, toID} {
		if byID[id] == nil {
			return nil, fmt.Errorf("%s: %w", id, graph.ErrNodeNotFound)
		}
	}

	if fromID == toID {
		return []Path{{Nodes: []*graph.Node{byID[fromID]}, Edges: []*graph.Edge{}, Length: 0}}, nil
	}

	outgoing := make(map[string][]*graph.Edge)
	var found []partialPath
	queue := []partialPath{{nodes: []string{fromID}}}
	expansions := 0

	for len(queue) > 0 && len(found) < maxPaths && expansions < maxTraceExpansions {
		p := queue[0]
		queue = queue[1:]
		if len(p.edges) >= maxDepth {
			continue
		}

		last := p.nodes[len(p.nodes)-1]
		edges, ok := outgoing[last]
		if !ok {
			edges, err = t.store.ListEdges(ctx, graph.EdgeFilter{OwnerID: ownerID, From: last})
			if err != nil {
				return nil, fmt.Errorf("failed to list edges of %s: %w", last, err)
			}
			outgoing[last] = edges
		}
		expansions++

		for _, e := range edges {
			if slices.Contains(p.nodes, e.To) {
				continue
			}
			next := partialPath{
				nodes: append(slices.Clone(p.nodes), e.To),
				edges: append(slices.Clone(p.edges), e),
			}
			if e.To == toID {
				found = append(found, next)
				if len(found) == maxPaths {
					break
				}
				continue
			}
			queue = append(queue, next)
		}
	}

	return t.materialize(ctx, ownerID, found, byID)
}

// materialize replaces node ids with nodes
func (t *TraceFinder) materialize(ctx context.Context, ownerID string, found []partialPath, known map[string]*graph.Node) ([]Path, error) {
	var missing []string
	for _, p := range found {
		for _, id := range p.nodes {
			if known[id] == nil && !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		nodes, err := t.store.GetNodes(ctx, ownerID, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load path nodes: %w", err)
		}
		for _, n := range nodes {
			known[n.ID] = n
		}
	}

	paths := make([]Path, 0, len(found))
	for _, p := range found {
		path := Path{Edges: p.edges, Length: len(p.edges)}
		for _, id := range p.nodes {
			n := known[id]
			if n == nil {
				// Deleted while tracing
				path.Nodes = nil
				break
			}
			path.Nodes = append(path.Nodes, n)
		}
		if path.Nodes != nil {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// GetTrace finds directed paths between two nodes. max_paths and max_depth
// fall back to configuration when zero.
func (s *Service) GetTrace(ctx context.Context, in TraceInput) ([]Path, error) {
	owner, err := s.owner(in.OwnerID)
	if err != nil {
		return nil, err
	}
	in.OwnerID = owner
	if err := s.validator.Struct(&in); err != nil {
		return nil, err
	}

	maxPaths := s.cfg.TraceMaxPaths
	if in.MaxPaths > 0 {
		maxPaths = in.MaxPaths
	}
	maxDepth := s.cfg.TraceMaxDepth
	if in.MaxDepth > 0 {
		maxDepth = in.MaxDepth
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	paths, err := s.tracer.GetTrace(sctx, owner, in.FromID, in.ToID, maxPaths, maxDepth)
	if errors.Is(err, graph.ErrNodeNotFound) {
		missing := in.FromID
		if _, gerr := s.store.GetNode(sctx, owner, in.FromID); gerr == nil {
			missing = in.ToID
		}
		return nil, apperrors.NewNotFound(missing, owner)
	}
	if err != nil {
		return nil, s.storeErr("get_trace", err)
	}
	for _, p := range paths {
		for _, n := range p.Nodes {
			n.Embedding = nil
		}
	}
	return paths, nil
}
