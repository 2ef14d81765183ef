package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-memory/backend/internal/constants"
)

func fact(owner, id, text string, created int64, vec ...float32) *Node {
	return &Node{
		ID:        id,
		OwnerID:   owner,
		Label:     constants.LabelFact,
		Text:      text,
		Status:    StatusActive,
		Metadata:  Metadata{},
		CreatedAt: created,
		Embedding: vec,
	}
}

func entity(owner, id, name string, created int64, vec ...float32) *Node {
	n := fact(owner, id, name, created, vec...)
	n.Label = constants.LabelEntity
	return n
}

func TestMemoryStore_NodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n := fact("u1", "f1", "hello", 1)
	require.NoError(t, s.UpsertNode(ctx, n))

	// Callers cannot alias stored state
	n.Text = "mutated"
	got, err := s.GetNode(ctx, "u1", "f1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)

	_, err = s.GetNode(ctx, "u2", "f1")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, s.DeleteNode(ctx, "u1", "f1"))
	assert.ErrorIs(t, s.DeleteNode(ctx, "u1", "f1"), ErrNodeNotFound)
}

func TestMemoryStore_RejectsUnknownLabel(t *testing.T) {
	s := NewMemoryStore()
	n := fact("u1", "x", "t", 1)
	n.Label = "Topic"
	assert.ErrorIs(t, s.UpsertNode(context.Background(), n), ErrInvalidLabel)
}

func TestMemoryStore_DeleteNodeRemovesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, fact("u1", "a", "a", 1)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "b", "b", 2)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "c", "c", 3)))
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "e1", OwnerID: "u1", From: "a", To: "b", Type: "MENTIONS_ENTITY"}))
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "e2", OwnerID: "u1", From: "b", To: "c", Type: "KNOWS"}))

	require.NoError(t, s.DeleteNode(ctx, "u1", "b"))

	edges, err := s.ListEdges(ctx, EdgeFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMemoryStore_CreateEdgeRequiresSameOwnerEndpoints(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertNode(ctx, fact("u1", "a", "a", 1)))
	require.NoError(t, s.UpsertNode(ctx, entity("u2", "b", "b", 1)))

	err := s.CreateEdge(ctx, &Edge{ID: "e", OwnerID: "u1", From: "a", To: "b", Type: "X"})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestMemoryStore_FindNodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	expired := int64(50)
	dedup := int64(500)
	f1 := fact("u1", "f1", "one", 10)
	f1.ExpiresAt = &expired
	f2 := fact("u1", "f2", "two", 5)
	f2.LastDedupAt = &dedup
	e1 := entity("u1", "e1", "Elon Musk", 7)
	e1.Aliases = []string{"Musk"}
	outdated := fact("u1", "f3", "three", 1)
	outdated.Status = StatusOutdated

	for _, n := range []*Node{f1, f2, e1, outdated, fact("u2", "other", "one", 1)} {
		require.NoError(t, s.UpsertNode(ctx, n))
	}

	ids := func(ns []*Node) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = n.ID
		}
		return out
	}

	all, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "f2", "e1", "f1"}, ids(all))

	facts, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1", Labels: []string{constants.LabelFact}, ExcludeStatus: StatusOutdated})
	require.NoError(t, err)
	assert.Equal(t, []string{"f2", "f1"}, ids(facts))

	byAlias, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1", Name: "  musk "})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids(byAlias))

	exp, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1", ExpiredAt: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ids(exp))

	stale, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1", DedupBefore: 400})
	require.NoError(t, err)
	assert.NotContains(t, ids(stale), "f2")

	limited, err := s.FindNodes(ctx, NodeFilter{OwnerID: "u1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_QueryBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertNode(ctx, entity("u1", "b", "B", 1, 1, 0)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "a", "A", 1, 1, 0)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "c", "C", 1, 0.6, 0.8)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "d", "D", 1, 0, 1)))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "noembed", "N", 1)))
	require.NoError(t, s.UpsertNode(ctx, entity("u2", "z", "Z", 1, 1, 0)))

	matches, err := s.QueryBySimilarity(ctx, SimilarityQuery{
		Label:     constants.LabelEntity,
		OwnerID:   "u1",
		Vector:    []float32{1, 0},
		Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	// Ties broken by id
	assert.Equal(t, "a", matches[0].Node.ID)
	assert.Equal(t, "b", matches[1].Node.ID)
	assert.Equal(t, "c", matches[2].Node.ID)
	assert.InDelta(t, 0.6, matches[2].Similarity, 1e-6)

	limited, err := s.QueryBySimilarity(ctx, SimilarityQuery{
		Label:      constants.LabelEntity,
		OwnerID:    "u1",
		Vector:     []float32{1, 0},
		Threshold:  0.5,
		Limit:      1,
		ExcludeIDs: []string{"a"},
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].Node.ID)
}

func TestMemoryStore_Versions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AppendVersion(ctx, &Version{VersionID: "v1", NodeID: "f", OwnerID: "u1", Text: "first"}))
	require.NoError(t, s.AppendVersion(ctx, &Version{VersionID: "v2", NodeID: "f", OwnerID: "u1", Text: "second"}))

	versions, err := s.ListVersions(ctx, "u1", "f")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "first", versions[0].Text)
	assert.Equal(t, "second", versions[1].Text)

	other, err := s.ListVersions(ctx, "u2", "f")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMemoryStore_CountNodesAndOwners(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	archived := fact("u1", "f2", "b", 2)
	archived.Status = StatusArchived
	require.NoError(t, s.UpsertNode(ctx, fact("u1", "f1", "a", 1)))
	require.NoError(t, s.UpsertNode(ctx, archived))
	require.NoError(t, s.UpsertNode(ctx, entity("u1", "e1", "E", 3)))
	require.NoError(t, s.UpsertNode(ctx, entity("u0", "e1", "E", 3)))
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "r", OwnerID: "u1", From: "f1", To: "e1", Type: "MENTIONS_ENTITY"}))

	st, err := s.CountNodes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalNodes:     3,
		TotalFacts:     2,
		TotalEntities:  1,
		ActiveFacts:    1,
		ArchivedFacts:  1,
		TotalRelations: 1,
	}, st)

	owners, err := s.ListOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u0", "u1"}, owners)
}

func TestMemoryStore_IncidentEdges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.UpsertNode(ctx, entity("u1", id, id, 1)))
	}
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "1", OwnerID: "u1", From: "a", To: "b", Type: "X"}))
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "2", OwnerID: "u1", From: "c", To: "a", Type: "Y"}))
	require.NoError(t, s.CreateEdge(ctx, &Edge{ID: "3", OwnerID: "u1", From: "b", To: "c", Type: "Z"}))

	edges, err := s.IncidentEdges(ctx, "u1", []string{"a"})
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "X", edges[0].Type)
	assert.Equal(t, "Y", edges[1].Type)
}
