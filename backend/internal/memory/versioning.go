package memory

import (
	"context"
	"time"

	"graph-memory/backend/internal/graph"
)

// Versioning keeps immutable snapshots of nodes taken before updates
type Versioning struct {
	store graph.Store
	now   func() time.Time
	newID func() string
}

// NewVersioning creates a versioning store on top of store
func NewVersioning(store graph.Store, now func() time.Time, newID func() string) *Versioning {
	return &Versioning{store: store, now: now, newID: newID}
}

// Capture appends a snapshot of n
func (v *Versioning) Capture(ctx context.Context, n *graph.Node) error {
	return v.store.AppendVersion(ctx, &graph.Version{
		VersionID:         v.newID(),
		NodeID:            n.ID,
		OwnerID:           n.OwnerID,
		Label:             n.Label,
		Text:              n.Text,
		Type:              n.Type,
		Metadata:          n.Metadata.Clone(),
		Status:            n.Status,
		Source:            n.Source,
		TTLDays:           n.TTLDays,
		ExpiresAt:         n.ExpiresAt,
		OriginalCreatedAt: n.CreatedAt,
		VersionedAt:       v.now().UnixMilli(),
	})
}

// History returns snapshots of a node, oldest first
func (v *Versioning) History(ctx context.Context, ownerID, nodeID string) ([]*graph.Version, error) {
	versions, err := v.store.ListVersions(ctx, ownerID, nodeID)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []*graph.Version{}
	}
	return versions, nil
}
