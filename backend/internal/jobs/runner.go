package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"graph-memory/backend/internal/graph"
	apperrors "graph-memory/backend/pkg/errors"
)

// Job outcomes, also used as the metrics label
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Invalidator drops cached search results after a job changed the graph
type Invalidator interface {
	InvalidateSearch()
}

// Job is one maintenance task that runs per owner
type Job interface {
	Name() string
	Run(ctx context.Context, ownerIDs []string) *Report
}

// OwnerResult is the outcome of a job for one owner
type OwnerResult struct {
	OwnerID string `json:"owner_id"`
	// Affected counts merged or archived nodes
	Affected int    `json:"affected"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// Report summarises a job invocation across owners
type Report struct {
	Job      string        `json:"job"`
	Owners   []OwnerResult `json:"owners"`
	Affected int           `json:"affected"`
}

// Err joins every per-owner failure; nil when all owners succeeded or
// were skipped.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, o := range r.Owners {
		if o.err != nil {
			errs = append(errs, o.err)
		}
	}
	return errors.Join(errs...)
}

// Outcome classifies the report for status and metrics
func (r *Report) Outcome() string {
	if r.Err() != nil {
		return OutcomeFailure
	}
	if len(r.Owners) == 0 {
		return OutcomeSuccess
	}
	for _, o := range r.Owners {
		if !o.Skipped {
			return OutcomeSuccess
		}
	}
	return OutcomeSkipped
}

// ownerRunner holds what every job shares: the store, the lock and the
// per-owner loop.
type ownerRunner struct {
	name    string
	store   graph.Store
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// runOwners calls fn for each owner under that owner's lock. A busy lock
// skips the owner; a failure is recorded and the loop moves on.
func (r *ownerRunner) runOwners(ctx context.Context, ownerIDs []string, fn func(context.Context, string) (int, error)) *Report {
	report := &Report{Job: r.name, Owners: make([]OwnerResult, 0, len(ownerIDs))}

	for _, owner := range ownerIDs {
		if err := ctx.Err(); err != nil {
			report.Owners = append(report.Owners, OwnerResult{OwnerID: owner, Error: err.Error(), err: err})
			continue
		}

		res := r.runOwner(ctx, owner, fn)
		report.Affected += res.Affected
		report.Owners = append(report.Owners, res)
	}
	return report
}

func (r *ownerRunner) runOwner(ctx context.Context, owner string, fn func(context.Context, string) (int, error)) OwnerResult {
	log := r.logger.With(zap.String("owner_id", owner))
	key := LockKey(r.name, owner)

	token, ok, err := r.locker.Acquire(ctx, key, r.lockTTL)
	if err != nil {
		err = apperrors.NewConnection("lock store", err)
		log.Error("Failed to acquire job lock", zap.String("lock", key), zap.Error(err))
		return OwnerResult{OwnerID: owner, Error: err.Error(), err: err}
	}
	if !ok {
		log.Info("Job lock busy, skipping owner", zap.String("lock", key))
		return OwnerResult{OwnerID: owner, Skipped: true}
	}
	defer func() {
		// The run context may already be cancelled; release regardless
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.locker.Release(rctx, key, token); err != nil {
			log.Warn("Failed to release job lock", zap.String("lock", key), zap.Error(err))
		}
	}()

	affected, err := fn(ctx, owner)
	if err != nil {
		err = fmt.Errorf("%s for owner %s: %w", r.name, owner, err)
		log.Error("Job failed for owner", zap.Int("affected", affected), zap.Error(err))
		return OwnerResult{OwnerID: owner, Affected: affected, Error: err.Error(), err: err}
	}
	log.Info("Job finished for owner", zap.Int("affected", affected))
	return OwnerResult{OwnerID: owner, Affected: affected}
}
