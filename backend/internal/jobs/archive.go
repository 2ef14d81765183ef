package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/pkg/config"
)

// ArchivalJob archives expired nodes that nothing references any more.
// Nodes with at least one incident edge stay as they are.
type ArchivalJob struct {
	ownerRunner
	cache   Invalidator
	metrics *metrics.Collector
}

// NewArchivalJob configures the job from the shared jobs settings
func NewArchivalJob(cfg config.JobsConfig, o Options) *ArchivalJob {
	return &ArchivalJob{
		ownerRunner: o.runner(constants.JobArchive, cfg.LockTTL),
		cache:       o.Cache,
		metrics:     o.Metrics,
	}
}

func (j *ArchivalJob) Name() string { return constants.JobArchive }

// Run archives every owner in turn
func (j *ArchivalJob) Run(ctx context.Context, ownerIDs []string) *Report {
	return j.runOwners(ctx, ownerIDs, j.archiveOwner)
}

func (j *ArchivalJob) archiveOwner(ctx context.Context, owner string) (int, error) {
	now := j.now().UnixMilli()

	expired, err := j.store.FindNodes(ctx, graph.NodeFilter{
		OwnerID:       owner,
		ExpiredAt:     now,
		ExcludeStatus: graph.StatusArchived,
	})
	if err != nil {
		return 0, fmt.Errorf("find expired nodes: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, n := range expired {
		ids = append(ids, n.ID)
	}
	edges, err := j.store.IncidentEdges(ctx, owner, ids)
	if err != nil {
		return 0, fmt.Errorf("list incident edges: %w", err)
	}
	connected := make(map[string]bool, len(edges)*2)
	for _, e := range edges {
		connected[e.From] = true
		connected[e.To] = true
	}

	archived := 0
	defer func() {
		j.metrics.NodesArchived(archived)
		if archived > 0 && j.cache != nil {
			j.cache.InvalidateSearch()
		}
	}()

	for _, n := range expired {
		if connected[n.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return archived, err
		}

		n.Status = graph.StatusArchived
		n.UpdatedAt = now
		if n.Metadata == nil {
			n.Metadata = graph.Metadata{}
		}
		if reason, _ := n.Metadata[constants.MetaStatusReason].(string); reason == "" {
			n.Metadata[constants.MetaStatusReason] = constants.ArchivedByJobReason
		}
		if err := j.store.UpsertNode(ctx, n); err != nil {
			return archived, fmt.Errorf("archive %s: %w", n.ID, err)
		}
		archived++
		j.logger.Debug("Archived expired node", zap.String("owner_id", owner), zap.String("node_id", n.ID))
	}
	return archived, nil
}
