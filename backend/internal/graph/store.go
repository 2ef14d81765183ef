package graph

import "context"

// Store is the persistence contract of the memory engine. Every operation is
// scoped to a single owner; implementations never return nodes or edges that
// belong to another owner.
//
// GetNode and DeleteNode return ErrNodeNotFound when (id, owner_id) is absent.
// Returned values are copies; mutating them does not affect the store.
type Store interface {
	// UpsertNode creates the node or replaces every stored property of it.
	UpsertNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, ownerID, id string) (*Node, error)
	// GetNodes returns the nodes that exist among ids, in no particular order.
	GetNodes(ctx context.Context, ownerID string, ids []string) ([]*Node, error)
	// DeleteNode removes the node together with its incident edges.
	DeleteNode(ctx context.Context, ownerID, id string) error
	// FindNodes returns matching nodes ordered by created_at, then id.
	FindNodes(ctx context.Context, f NodeFilter) ([]*Node, error)

	CreateEdge(ctx context.Context, e *Edge) error
	// DeleteEdges removes every matching edge and reports how many went.
	DeleteEdges(ctx context.Context, f EdgeFilter) (int, error)
	// ListEdges returns matching edges ordered by SortEdges.
	ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error)
	// IncidentEdges returns edges with at least one endpoint in ids.
	IncidentEdges(ctx context.Context, ownerID string, ids []string) ([]*Edge, error)

	// QueryBySimilarity returns hits at or above the threshold ordered by
	// SortMatches. Nodes without an embedding never match. A zero Limit
	// returns every hit.
	QueryBySimilarity(ctx context.Context, q SimilarityQuery) ([]Match, error)

	AppendVersion(ctx context.Context, v *Version) error
	// ListVersions returns snapshots oldest first.
	ListVersions(ctx context.Context, ownerID, nodeID string) ([]*Version, error)

	// ListOwners returns every owner that has at least one node, sorted.
	ListOwners(ctx context.Context) ([]string, error)
	CountNodes(ctx context.Context, ownerID string) (*Stats, error)
	Ping(ctx context.Context) error
}
