package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	apperrors "graph-memory/backend/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func TestCreateNode_Expiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	t.Run("ttl only", func(t *testing.T) {
		res, err := h.svc.CreateNode(ctx, CreateNodeInput{
			NodeType: constants.LabelFact, Text: "expires in two days", TTLDays: ptr(2.0),
		})
		require.NoError(t, err)
		require.NotNil(t, res.Node.ExpiresAt)
		assert.Equal(t, res.Node.CreatedAt+2*constants.MillisPerDay, *res.Node.ExpiresAt)
	})

	t.Run("fractional ttl", func(t *testing.T) {
		res, err := h.svc.CreateNode(ctx, CreateNodeInput{
			NodeType: constants.LabelFact, Text: "expires in half a day", TTLDays: ptr(0.5),
		})
		require.NoError(t, err)
		assert.Equal(t, res.Node.CreatedAt+constants.MillisPerDay/2, *res.Node.ExpiresAt)
	})

	t.Run("explicit expires_at wins", func(t *testing.T) {
		res, err := h.svc.CreateNode(ctx, CreateNodeInput{
			NodeType:  constants.LabelFact,
			Text:      "explicit expiry",
			TTLDays:   ptr(2.0),
			ExpiresAt: ptr(testEpoch + 42),
		})
		require.NoError(t, err)
		assert.Equal(t, testEpoch+42, *res.Node.ExpiresAt)
	})

	t.Run("neither", func(t *testing.T) {
		res, err := h.svc.CreateNode(ctx, CreateNodeInput{NodeType: constants.LabelFact, Text: "forever"})
		require.NoError(t, err)
		assert.Nil(t, res.Node.ExpiresAt)
	})
}

func TestCreateNode_Defaults(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelEntity,
		Text:     "  Ada Lovelace ",
		Aliases:  []string{"Ada", "ada"},
	})
	require.NoError(t, err)

	n := res.Node
	assert.Equal(t, "default", n.OwnerID)
	assert.Equal(t, graph.StatusActive, n.Status)
	assert.Equal(t, testEpoch, n.CreatedAt)
	assert.Equal(t, []string{"Ada"}, n.Aliases)

	stored, err := h.svc.GetNode(context.Background(), "", n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, stored.ID)
}

func TestCreateNode_ValidationRejectsBeforeMutation(t *testing.T) {
	tests := []struct {
		name  string
		in    CreateNodeInput
		field string
	}{
		{"empty fact text", CreateNodeInput{NodeType: constants.LabelFact, Text: "  "}, "text"},
		{"bad owner", CreateNodeInput{NodeType: constants.LabelFact, Text: "x", OwnerID: "bad owner"}, "owner_id"},
		{"bad node type", CreateNodeInput{NodeType: "Thing", Text: "x"}, "node_type"},
		{"zero ttl", CreateNodeInput{NodeType: constants.LabelFact, Text: "x", TTLDays: ptr(0.0)}, "ttl_days"},
		{"ttl too large", CreateNodeInput{NodeType: constants.LabelFact, Text: "x", TTLDays: ptr(3651.0)}, "ttl_days"},
		{"text too long", CreateNodeInput{NodeType: constants.LabelFact, Text: strings.Repeat("é", 10001)}, "text"},
		{"bad status", CreateNodeInput{NodeType: constants.LabelFact, Text: "x", Status: "gone"}, "status"},
		{"bad threshold", CreateNodeInput{NodeType: constants.LabelFact, Text: "x", LinkThreshold: ptr(1.5)}, "link_threshold"},
		{"oversized metadata", CreateNodeInput{
			NodeType: constants.LabelFact, Text: "x",
			Metadata: graph.Metadata{"blob": strings.Repeat("a", 100001)},
		}, "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.svc.CreateNode(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)

			var verr *apperrors.ErrValidation
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)

			owners, err := h.mem.ListOwners(context.Background())
			require.NoError(t, err)
			assert.Empty(t, owners)
			assert.Equal(t, int32(0), h.emb.calls.Load())
		})
	}
}

func TestCreateNode_AutoLinksInSimilarityOrder(t *testing.T) {
	h := newHarness(t, map[string][]float32{
		"notes on the launch program": {1, 0, 0, 0},
		"Alpha":                       {1, 0, 0, 0},
		"Beta":                        {0.9, 0.436, 0, 0},
		"Gamma":                       {0, 1, 0, 0},
	})
	beta := h.createEntity(t, "t1", "Beta")
	alpha := h.createEntity(t, "t1", "Alpha")
	h.createEntity(t, "t1", "Gamma")

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact,
		Text:     "notes on the launch program",
		OwnerID:  "t1",
	})
	require.NoError(t, err)
	require.Len(t, res.AutoLinks, 2)

	assert.Equal(t, alpha.ID, res.AutoLinks[0].To)
	assert.Equal(t, beta.ID, res.AutoLinks[1].To)
	for _, e := range res.AutoLinks {
		assert.Equal(t, constants.EdgeMentionsEntity, e.Type)
		assert.Equal(t, res.Node.ID, e.From)
		assert.Equal(t, "embedding", e.Metadata[constants.MetaLinkMethod])
		assert.Equal(t, true, e.Metadata[constants.MetaAutoLinked])
	}
	first := res.AutoLinks[0].Metadata[constants.MetaSimilarity].(float64)
	second := res.AutoLinks[1].Metadata[constants.MetaSimilarity].(float64)
	assert.Greater(t, first, second)

	stored, err := h.mem.ListEdges(context.Background(), graph.EdgeFilter{OwnerID: "t1", From: res.Node.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCreateNode_AutoLinkThresholdOverrideAndOptOut(t *testing.T) {
	h := newHarness(t, map[string][]float32{
		"weekly sync notes": {1, 0, 0, 0},
		"Beta":              {0.9, 0.436, 0, 0},
	})
	h.createEntity(t, "t1", "Beta")

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "weekly sync notes", OwnerID: "t1", LinkThreshold: ptr(0.95),
	})
	require.NoError(t, err)
	assert.Empty(t, res.AutoLinks)

	res, err = h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "weekly sync notes", OwnerID: "t1", AutoLink: ptr(false),
	})
	require.NoError(t, err)
	assert.Empty(t, res.AutoLinks)
}

func TestCreateNode_AutoLinkByName(t *testing.T) {
	h := newHarness(t, map[string][]float32{
		"Launch day at SpaceX today": {1, 0, 0, 0},
		"SpaceX":                     {0, 0, 1, 0},
	})
	spacex := h.createEntity(t, "t1", "SpaceX")
	h.createEntity(t, "t1", "Space")

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "Launch day at SpaceX today", OwnerID: "t1",
	})
	require.NoError(t, err)
	require.Len(t, res.AutoLinks, 1)
	assert.Equal(t, spacex.ID, res.AutoLinks[0].To)
	assert.Equal(t, "name", res.AutoLinks[0].Metadata[constants.MetaLinkMethod])
	assert.Equal(t, 1.0, res.AutoLinks[0].Metadata[constants.MetaSimilarity])
}

func TestCreateNode_AutoLinkStaysInOwner(t *testing.T) {
	h := newHarness(t, map[string][]float32{
		"shared text": {1, 0, 0, 0},
		"Alpha":       {1, 0, 0, 0},
	})
	h.createEntity(t, "other", "Alpha")

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "shared text", OwnerID: "t1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.AutoLinks)
}

func TestCreateNode_EmbedderFailureStillPersists(t *testing.T) {
	h := newHarness(t, map[string][]float32{"Alpha": {1, 0, 0, 0}})
	h.createEntity(t, "t1", "Alpha")
	h.emb.fail(errBoom)

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "Alpha is mentioned here", OwnerID: "t1",
	})
	require.NoError(t, err)
	assert.Empty(t, res.AutoLinks)
	assert.Empty(t, res.Node.Embedding)

	_, err = h.mem.GetNode(context.Background(), "t1", res.Node.ID)
	assert.NoError(t, err)
}

func TestCreateNode_LinkingFailureKeepsNode(t *testing.T) {
	mem := graph.NewMemoryStore()
	store := &failingStore{MemoryStore: mem, similarityErr: errBoom}
	h := newHarnessWithStore(t, store, mem, map[string][]float32{"linked fact": {1, 0, 0, 0}})

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact, Text: "linked fact", OwnerID: "t1",
	})
	require.Error(t, err)
	require.NotNil(t, res)

	var lerr *apperrors.ErrLinking
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, res.Node.ID, lerr.NodeID)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, apperrors.CodeService, apperrors.Code(err))

	_, err = mem.GetNode(context.Background(), "t1", res.Node.ID)
	assert.NoError(t, err, "node is not rolled back")
}

func TestCreateNode_ExplicitLinks(t *testing.T) {
	h := newHarness(t, nil)
	target := h.createEntity(t, "t1", "Target")

	res, err := h.svc.CreateNode(context.Background(), CreateNodeInput{
		NodeType: constants.LabelFact,
		Text:     "fact with links",
		OwnerID:  "t1",
		AutoLink: ptr(false),
		Links: []LinkInput{
			{TargetID: target.ID, RelationType: "about"},
			{TargetID: target.ID, RelationType: "cites", Direction: "incoming"},
			{TargetID: "missing", RelationType: "about"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Relations, 2)
	assert.Equal(t, "ABOUT", res.Relations[0].Type)
	assert.Equal(t, res.Node.ID, res.Relations[0].From)
	assert.Equal(t, target.ID, res.Relations[1].From)
	assert.Equal(t, res.Node.ID, res.Relations[1].To)
}

func TestGetNode_NotFoundAcrossOwners(t *testing.T) {
	h := newHarness(t, nil)
	n := h.createFact(t, "t1", "private")

	_, err := h.svc.GetNode(context.Background(), "t2", n.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = h.svc.GetNode(context.Background(), "t1", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateNode_MergesMetadataAndRederivesExpiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	res, err := h.svc.CreateNode(ctx, CreateNodeInput{
		NodeType: constants.LabelFact,
		Text:     "original",
		OwnerID:  "t1",
		Metadata: graph.Metadata{"a": 1},
		TTLDays:  ptr(1.0),
	})
	require.NoError(t, err)
	originalExpiry := *res.Node.ExpiresAt

	h.clock.Advance(time.Hour)
	updated, err := h.svc.UpdateNode(ctx, UpdateNodeInput{
		NodeID: res.Node.ID, OwnerID: "t1", Metadata: graph.Metadata{"b": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, graph.Metadata{"a": 1, "b": 2}, updated.Metadata)
	assert.Equal(t, originalExpiry, *updated.ExpiresAt, "expiry untouched without ttl in payload")
	assert.Equal(t, testEpoch+time.Hour.Milliseconds(), updated.UpdatedAt)

	updated, err = h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: res.Node.ID, OwnerID: "t1", TTLDays: ptr(2.0)})
	require.NoError(t, err)
	assert.Equal(t, testEpoch+time.Hour.Milliseconds()+2*constants.MillisPerDay, *updated.ExpiresAt)
	assert.Equal(t, testEpoch, updated.CreatedAt)
}

func TestUpdateNode_TextChangeReembedsAndRetouches(t *testing.T) {
	h := newHarness(t, map[string][]float32{
		"before": {1, 0, 0, 0},
		"after":  {0, 1, 0, 0},
	})
	ctx := context.Background()
	n := h.createFact(t, "t1", "before")

	stored, err := h.mem.GetNode(ctx, "t1", n.ID)
	require.NoError(t, err)
	stored.LastDedupAt = ptr(testEpoch)
	require.NoError(t, h.mem.UpsertNode(ctx, stored))

	_, err = h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: n.ID, OwnerID: "t1", Text: ptr("after")})
	require.NoError(t, err)

	stored, err = h.mem.GetNode(ctx, "t1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", stored.Text)
	assert.Nil(t, stored.LastDedupAt)
	assert.Equal(t, []float32{0, 1, 0, 0}, stored.Embedding)
}

func TestUpdateNode_FailedWriteLeavesNoVersion(t *testing.T) {
	mem := graph.NewMemoryStore()
	store := &failingStore{MemoryStore: mem}
	h := newHarnessWithStore(t, store, mem, nil)
	ctx := context.Background()
	n := h.createFact(t, "t1", "v1")

	store.upsertErr = errBoom
	_, err := h.svc.UpdateNode(ctx, UpdateNodeInput{
		NodeID: n.ID, OwnerID: "t1", Text: ptr("v2"), Versioning: true,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeService))

	history, err := h.svc.History(ctx, "t1", n.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	got, err := h.svc.GetNode(ctx, "t1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Text)
}

func TestUpdateNode_VersioningCapturesHistory(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	n := h.createFact(t, "t1", "v1")

	for _, text := range []string{"v2", "v3"} {
		h.clock.Advance(time.Minute)
		_, err := h.svc.UpdateNode(ctx, UpdateNodeInput{
			NodeID: n.ID, OwnerID: "t1", Text: ptr(text), Versioning: true,
		})
		require.NoError(t, err)
	}
	_, err := h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: n.ID, OwnerID: "t1", Text: ptr("v4")})
	require.NoError(t, err)

	history, err := h.svc.History(ctx, "t1", n.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "v1", history[0].Text)
	assert.Equal(t, "v2", history[1].Text)
	assert.Equal(t, testEpoch, history[0].OriginalCreatedAt)
	assert.Less(t, history[0].VersionedAt, history[1].VersionedAt)

	empty, err := h.svc.History(ctx, "t1", "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUpdateNode_Rejects(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	n := h.createFact(t, "t1", "text")

	_, err := h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: "missing", OwnerID: "t1", Type: ptr("x")})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: n.ID, OwnerID: "t1", Text: ptr(" ")})
	assert.True(t, apperrors.IsValidation(err))

	_, err = h.svc.UpdateNode(ctx, UpdateNodeInput{NodeID: n.ID, OwnerID: "t1", Status: ptr("deleted")})
	assert.True(t, apperrors.IsValidation(err))
}

func TestMarkOutdated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	n := h.createFact(t, "t1", "stale")

	out, err := h.svc.MarkOutdated(ctx, "t1", n.ID, "superseded")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusOutdated, out.Status)
	assert.Equal(t, "superseded", out.Metadata[constants.MetaStatusReason])

	stored, err := h.mem.GetNode(ctx, "t1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusOutdated, stored.Status)
}

func TestMarkOutdated_UnknownLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.createFact(t, "t1", "keep me")

	before, err := h.mem.FindNodes(ctx, graph.NodeFilter{OwnerID: "t1"})
	require.NoError(t, err)
	statsBefore, err := h.mem.CountNodes(ctx, "t1")
	require.NoError(t, err)

	_, err = h.svc.MarkOutdated(ctx, "t1", "nope", "reason")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	var nf *apperrors.ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.NodeID)
	assert.Equal(t, "t1", nf.OwnerID)

	after, err := h.mem.FindNodes(ctx, graph.NodeFilter{OwnerID: "t1"})
	require.NoError(t, err)
	statsAfter, err := h.mem.CountNodes(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, statsBefore, statsAfter)
}

func TestDeleteNode_RemovesIncidentEdges(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.createFact(t, "t1", "a")
	b := h.createEntity(t, "t1", "b")
	_, err := h.svc.CreateRelation(ctx, CreateRelationInput{FromID: a.ID, ToID: b.ID, RelationType: "about", OwnerID: "t1"})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteNode(ctx, "t1", b.ID))

	edges, err := h.mem.ListEdges(ctx, graph.EdgeFilter{OwnerID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, edges)

	err = h.svc.DeleteNode(ctx, "t1", b.ID)
	assert.True(t, apperrors.IsNotFound(err))
}
