package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/internal/graph"
	"graph-memory/backend/internal/metrics"
	"graph-memory/backend/pkg/config"
	"graph-memory/backend/pkg/logger"
)

// Options are the collaborators shared by both jobs. Store and Locker are
// required.
type Options struct {
	Store   graph.Store
	Locker  Locker
	Cache   Invalidator
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

func (o Options) runner(name string, lockTTL time.Duration) ownerRunner {
	log := o.Logger
	if log == nil {
		log = logger.Named("jobs")
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return ownerRunner{
		name:    name,
		store:   o.Store,
		locker:  o.Locker,
		lockTTL: lockTTL,
		logger:  log.Named(name),
		now:     now,
	}
}

// DeduplicationJob merges nodes whose embeddings are nearly identical.
// The earliest node survives; duplicates are folded into it and deleted.
type DeduplicationJob struct {
	ownerRunner
	cache     Invalidator
	metrics   *metrics.Collector
	newID     func() string
	hours     int
	threshold float64
}

// NewDeduplicationJob configures the job from JOB_DEDUP_* settings
func NewDeduplicationJob(cfg config.JobsConfig, o Options) *DeduplicationJob {
	newID := o.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &DeduplicationJob{
		ownerRunner: o.runner(constants.JobDeduplicate, cfg.LockTTL),
		cache:       o.Cache,
		metrics:     o.Metrics,
		newID:       newID,
		hours:       cfg.DedupHoursThreshold,
		threshold:   cfg.DedupSimilarityThreshold,
	}
}

func (j *DeduplicationJob) Name() string { return constants.JobDeduplicate }

// Run deduplicates every owner in turn
func (j *DeduplicationJob) Run(ctx context.Context, ownerIDs []string) *Report {
	return j.runOwners(ctx, ownerIDs, j.dedupOwner)
}

func (j *DeduplicationJob) dedupOwner(ctx context.Context, owner string) (merged int, err error) {
	now := j.now().UnixMilli()
	cutoff := now - int64(j.hours)*int64(time.Hour/time.Millisecond)

	candidates, err := j.store.FindNodes(ctx, graph.NodeFilter{
		OwnerID:     owner,
		Labels:      []string{constants.LabelFact, constants.LabelEntity},
		Statuses:    []graph.Status{graph.StatusActive},
		DedupBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("find candidates: %w", err)
	}

	wrote := false
	defer func() {
		j.metrics.NodesMerged(merged)
		if wrote && j.cache != nil {
			j.cache.InvalidateSearch()
		}
	}()

	removed := make(map[string]bool)
	for _, c := range candidates {
		if removed[c.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return merged, err
		}

		// Earlier merges may have rewritten or deleted this node
		node, err := j.store.GetNode(ctx, owner, c.ID)
		if errors.Is(err, graph.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return merged, err
		}

		n, err := j.dedupNode(ctx, node, now, removed)
		merged += n
		wrote = true
		if err != nil {
			return merged, err
		}
	}

	j.logger.Debug("Deduplication scanned owner",
		zap.String("owner_id", owner),
		zap.Int("candidates", len(candidates)),
		zap.Int("merged", merged))
	return merged, nil
}

// dedupNode folds every near-duplicate of node into the group survivor
// and stamps the survivor as deduplicated.
func (j *DeduplicationJob) dedupNode(ctx context.Context, node *graph.Node, now int64, removed map[string]bool) (int, error) {
	group := []*graph.Node{node}

	if len(node.Embedding) > 0 {
		matches, err := j.store.QueryBySimilarity(ctx, graph.SimilarityQuery{
			Label:      node.Label,
			OwnerID:    node.OwnerID,
			Vector:     node.Embedding,
			Threshold:  j.threshold,
			Statuses:   []graph.Status{graph.StatusActive},
			ExcludeIDs: []string{node.ID},
		})
		if err != nil {
			return 0, fmt.Errorf("query similar to %s: %w", node.ID, err)
		}
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			if !removed[m.Node.ID] {
				ids = append(ids, m.Node.ID)
			}
		}
		if len(ids) > 0 {
			// Match nodes may be partial; merge from full records
			dups, err := j.store.GetNodes(ctx, node.OwnerID, ids)
			if err != nil {
				return 0, err
			}
			group = append(group, dups...)
		}
	}

	graph.SortNodes(group)
	survivor := group[0]

	merged := 0
	for _, dup := range group[1:] {
		if err := j.merge(ctx, survivor, dup, now); err != nil {
			return merged, err
		}
		removed[dup.ID] = true
		merged++
	}

	survivor.LastDedupAt = &now
	if merged > 0 {
		survivor.UpdatedAt = now
	}
	if err := j.store.UpsertNode(ctx, survivor); err != nil {
		return merged, fmt.Errorf("update survivor %s: %w", survivor.ID, err)
	}
	if merged > 0 {
		j.logger.Info("Merged duplicate nodes",
			zap.String("owner_id", survivor.OwnerID),
			zap.String("survivor_id", survivor.ID),
			zap.Int("merged", merged))
	}
	return merged, nil
}

// merge folds dup into survivor in memory, moves dup's edges over and
// deletes dup. The caller persists survivor.
func (j *DeduplicationJob) merge(ctx context.Context, survivor, dup *graph.Node, now int64) error {
	survivor.Metadata = dup.Metadata.Merge(survivor.Metadata)
	survivor.Metadata[constants.MetaMergedFrom] = appendMergedFrom(survivor.Metadata[constants.MetaMergedFrom], dup.ID)
	if survivor.Label == constants.LabelEntity {
		survivor.AddAlias(dup.Text)
		for _, a := range dup.Aliases {
			survivor.AddAlias(a)
		}
	}

	if err := j.redirectEdges(ctx, survivor.OwnerID, dup.ID, survivor.ID, now); err != nil {
		return err
	}
	if err := j.store.DeleteNode(ctx, dup.OwnerID, dup.ID); err != nil && !errors.Is(err, graph.ErrNodeNotFound) {
		return fmt.Errorf("delete duplicate %s: %w", dup.ID, err)
	}
	return nil
}

// redirectEdges recreates every edge incident to from on to. Edges that
// would become self-loops or already exist are dropped with the duplicate.
func (j *DeduplicationJob) redirectEdges(ctx context.Context, owner, from, to string, now int64) error {
	edges, err := j.store.IncidentEdges(ctx, owner, []string{from})
	if err != nil {
		return fmt.Errorf("list edges of %s: %w", from, err)
	}
	for _, e := range edges {
		src, dst := e.From, e.To
		if src == from {
			src = to
		}
		if dst == from {
			dst = to
		}
		if src == dst {
			continue
		}

		existing, err := j.store.ListEdges(ctx, graph.EdgeFilter{OwnerID: owner, From: src, To: dst, Type: e.Type})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}

		moved := &graph.Edge{
			ID:        j.newID(),
			OwnerID:   owner,
			From:      src,
			To:        dst,
			Type:      e.Type,
			Metadata:  e.Metadata.Clone(),
			CreatedAt: e.CreatedAt,
		}
		if moved.CreatedAt == 0 {
			moved.CreatedAt = now
		}
		if err := j.store.CreateEdge(ctx, moved); err != nil {
			return fmt.Errorf("redirect edge %s: %w", e.ID, err)
		}
		j.metrics.EdgeCreated("merge")
	}
	return nil
}

// appendMergedFrom accepts the shapes merged_from takes after a round-trip
// through JSON.
func appendMergedFrom(existing any, id string) []string {
	var out []string
	switch v := existing.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	for _, s := range out {
		if s == id {
			return out
		}
	}
	return append(out, id)
}
