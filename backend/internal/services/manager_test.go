package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/memory"
	"graph-memory/backend/pkg/config"
)

type fixedEmbedder struct{ calls int }

func (f *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return []float32{1, 0, 0}, nil
}

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.StoreBackend = config.StoreMemory
	return cfg
}

func TestNewManager_MemoryBackend(t *testing.T) {
	emb := &fixedEmbedder{}
	m, err := NewManager(context.Background(), memoryConfig(), Options{Logger: zap.NewNop(), Embedder: emb})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.StopAll(context.Background()) })

	assert.IsType(t, &graph.MemoryStore{}, m.Store)
	require.NoError(t, m.EnsureSchema(context.Background()))

	ctx := context.Background()
	res, err := m.Service.CreateNode(ctx, memory.CreateNodeInput{
		NodeType: constants.LabelFact,
		Text:     "the manager wires a working service",
	})
	require.NoError(t, err)

	// Same text twice goes through the embedding cache
	_, err = m.Service.Search(ctx, memory.SearchInput{Query: "the manager wires a working service"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)

	got, err := m.Service.GetNode(ctx, "", res.Node.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Node.ID, got.ID)

	assert.Equal(t, memory.HealthHealthy, m.Service.Health(ctx).Status)
}

func TestManager_StartStop(t *testing.T) {
	cfg := memoryConfig()
	cfg.Jobs.Enabled = true
	cfg.Jobs.DedupEnabled = true

	m, err := NewManager(context.Background(), cfg, Options{Logger: zap.NewNop(), Embedder: &fixedEmbedder{}})
	require.NoError(t, err)

	require.NoError(t, m.StartAll(context.Background()))
	assert.Error(t, m.StartAll(context.Background()), "second start must fail")

	// The cron loop computes next runs once it is scheduled
	assert.Eventually(t, func() bool {
		for _, st := range m.Scheduler.Status() {
			if st.Name == constants.JobDeduplicate {
				return st.Enabled && st.NextRun != nil
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.StopAll(context.Background()))
	require.NoError(t, m.StopAll(context.Background()))
}

func TestNewManager_UnreachableRedisIsDegraded(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.StoreTimeout = 500 * time.Millisecond

	m, err := NewManager(context.Background(), cfg, Options{Logger: zap.NewNop(), Embedder: &fixedEmbedder{}})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotNil(t, m.redis, "redis locker kept for when the server returns")
	require.NoError(t, m.StopAll(context.Background()))
}

func TestNewManager_UnreachableNeo4jIsDegraded(t *testing.T) {
	cfg := config.Default()
	cfg.Neo4jURI = "bolt://127.0.0.1:1"
	cfg.StoreTimeout = 500 * time.Millisecond

	m, err := NewManager(context.Background(), cfg, Options{Logger: zap.NewNop(), Embedder: &fixedEmbedder{}})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.IsType(t, &graph.Repository{}, m.Store)

	ctx := context.Background()
	report := m.Service.Health(ctx)
	assert.Equal(t, memory.HealthDegraded, report.Status)
	assert.Equal(t, memory.HealthDegraded, report.Store.Status)
	assert.Contains(t, report.Store.Error, "failed to connect")

	// Schema retry runs in the background and stops with the manager
	m.EnsureSchemaOrRetry(ctx)
	done := make(chan error, 1)
	go func() { done <- m.StopAll(context.Background()) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAll blocked on schema retry")
	}
}
