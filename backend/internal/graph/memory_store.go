package graph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"graph-memory/backend/internal/constants"
)

// MemoryStore is an in-process Store used by tests and by the CLI when no
// Neo4j URI is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]map[string]*Node // owner -> id -> node
	edges    map[string]*Edge            // edge id -> edge
	versions map[string][]*Version       // owner/id -> snapshots
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]map[string]*Node),
		edges:    make(map[string]*Edge),
		versions: make(map[string][]*Version),
	}
}

var _ Store = (*MemoryStore)(nil)

func versionKey(ownerID, nodeID string) string {
	return ownerID + "/" + nodeID
}

func checkLabel(label string) error {
	if label != constants.LabelFact && label != constants.LabelEntity {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

func (s *MemoryStore) UpsertNode(ctx context.Context, n *Node) error {
	if err := checkLabel(n.Label); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, ok := s.nodes[n.OwnerID]
	if !ok {
		owned = make(map[string]*Node)
		s.nodes[n.OwnerID] = owned
	}
	owned[n.ID] = n.Clone()
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, ownerID, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[ownerID][id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) GetNodes(ctx context.Context, ownerID string, ids []string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[ownerID][id]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteNode(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[ownerID][id]; !ok {
		return ErrNodeNotFound
	}
	delete(s.nodes[ownerID], id)
	if len(s.nodes[ownerID]) == 0 {
		delete(s.nodes, ownerID)
	}
	for eid, e := range s.edges {
		if e.OwnerID == ownerID && (e.From == id || e.To == id) {
			delete(s.edges, eid)
		}
	}
	return nil
}

func (s *MemoryStore) FindNodes(ctx context.Context, f NodeFilter) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Node
	for _, n := range s.nodes[f.OwnerID] {
		if f.Matches(n) {
			out = append(out, n.Clone())
		}
	}
	SortNodes(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateEdge(ctx context.Context, e *Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.nodes[e.OwnerID]
	if _, ok := owned[e.From]; !ok {
		return fmt.Errorf("edge source %s: %w", e.From, ErrNodeNotFound)
	}
	if _, ok := owned[e.To]; !ok {
		return fmt.Errorf("edge target %s: %w", e.To, ErrNodeNotFound)
	}
	s.edges[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) DeleteEdges(ctx context.Context, f EdgeFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, e := range s.edges {
		if f.Matches(e) {
			delete(s.edges, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Edge
	for _, e := range s.edges {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	SortEdges(out)
	return out, nil
}

func (s *MemoryStore) IncidentEdges(ctx context.Context, ownerID string, ids []string) ([]*Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Edge
	for _, e := range s.edges {
		if e.OwnerID != ownerID {
			continue
		}
		if slices.Contains(ids, e.From) || slices.Contains(ids, e.To) {
			out = append(out, e.Clone())
		}
	}
	SortEdges(out)
	return out, nil
}

func (s *MemoryStore) QueryBySimilarity(ctx context.Context, q SimilarityQuery) ([]Match, error) {
	if err := checkLabel(q.Label); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Match
	for _, n := range s.nodes[q.OwnerID] {
		if len(n.Embedding) == 0 || !q.Accepts(n) {
			continue
		}
		sim := CosineSimilarity(q.Vector, n.Embedding)
		if sim < q.Threshold {
			continue
		}
		out = append(out, Match{Node: n.Clone(), Similarity: sim})
	}
	SortMatches(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *v
	c.Metadata = v.Metadata.Clone()
	key := versionKey(v.OwnerID, v.NodeID)
	s.versions[key] = append(s.versions[key], &c)
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, ownerID, nodeID string) ([]*Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.versions[versionKey(ownerID, nodeID)]
	out := make([]*Version, 0, len(src))
	for _, v := range src {
		c := *v
		c.Metadata = v.Metadata.Clone()
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.nodes))
	for owner := range s.nodes {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *MemoryStore) CountNodes(ctx context.Context, ownerID string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{}
	for _, n := range s.nodes[ownerID] {
		st.TotalNodes++
		switch n.Label {
		case constants.LabelFact:
			st.TotalFacts++
			switch n.Status {
			case StatusActive:
				st.ActiveFacts++
			case StatusOutdated:
				st.OutdatedFacts++
			case StatusArchived:
				st.ArchivedFacts++
			}
		case constants.LabelEntity:
			st.TotalEntities++
		}
	}
	for _, e := range s.edges {
		if e.OwnerID == ownerID {
			st.TotalRelations++
		}
	}
	return st, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
