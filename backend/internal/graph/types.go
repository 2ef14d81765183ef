package graph

import (
	"errors"
	"slices"
	"strings"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNodeNotFound is returned when (id, owner_id) does not address a node.
	ErrNodeNotFound = errors.New("graph: node not found")
	// ErrInvalidLabel is returned for labels other than Fact and Entity.
	ErrInvalidLabel = errors.New("graph: invalid label")
)

// Status is the soft-deletion state of a node. Transitions are advisory:
// active -> outdated -> archived is expected but any value may be set.
type Status string

const (
	StatusActive   Status = "active"
	StatusOutdated Status = "outdated"
	StatusArchived Status = "archived"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOutdated, StatusArchived:
		return true
	}
	return false
}

// Metadata is an opaque, size-bounded document attached to nodes and edges.
type Metadata map[string]any

// Clone returns a shallow copy
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m overlaid with patch
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Node is a Fact or an Entity. (ID, OwnerID) is the addressing key.
type Node struct {
	ID          string   `json:"node_id"`
	OwnerID     string   `json:"owner_id"`
	Label       string   `json:"node_type"`
	Text        string   `json:"text"`
	Type        string   `json:"type,omitempty"`
	Metadata    Metadata `json:"metadata"`
	Status      Status   `json:"status"`
	Source      string   `json:"source,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at,omitempty"`
	TTLDays     *float64 `json:"ttl_days,omitempty"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	LastDedupAt *int64   `json:"last_dedup_at,omitempty"`

	// Never returned to callers.
	Embedding []float32 `json:"-"`
	Aliases   []string  `json:"-"`
}

// Clone returns a deep copy so callers cannot alias store state
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Metadata = n.Metadata.Clone()
	c.Embedding = slices.Clone(n.Embedding)
	c.Aliases = slices.Clone(n.Aliases)
	if n.TTLDays != nil {
		v := *n.TTLDays
		c.TTLDays = &v
	}
	if n.ExpiresAt != nil {
		v := *n.ExpiresAt
		c.ExpiresAt = &v
	}
	if n.LastDedupAt != nil {
		v := *n.LastDedupAt
		c.LastDedupAt = &v
	}
	return &c
}

// IsExpired reports whether expires_at is set and has passed at nowMs
func (n *Node) IsExpired(nowMs int64) bool {
	return n.ExpiresAt != nil && *n.ExpiresAt <= nowMs
}

// MatchesName reports whether name equals the node text or one of its
// aliases, ignoring case and surrounding whitespace.
func (n *Node) MatchesName(name string) bool {
	key := NormalizeName(name)
	if key == "" {
		return false
	}
	if NormalizeName(n.Text) == key {
		return true
	}
	for _, a := range n.Aliases {
		if NormalizeName(a) == key {
			return true
		}
	}
	return false
}

// AddAlias records an alternate name unless it is already known
func (n *Node) AddAlias(alias string) {
	if NormalizeName(alias) == "" || n.MatchesName(alias) {
		return
	}
	n.Aliases = append(n.Aliases, strings.TrimSpace(alias))
}

// NormalizeName lowercases and trims an entity name
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Edge is a directed, typed relation between two nodes of the same owner.
type Edge struct {
	ID        string   `json:"relation_id"`
	OwnerID   string   `json:"owner_id"`
	From      string   `json:"from_id"`
	To        string   `json:"to_id"`
	Type      string   `json:"relation_type"`
	Metadata  Metadata `json:"metadata,omitempty"`
	CreatedAt int64    `json:"created_at"`
}

// Clone returns a copy with its own metadata map
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata = e.Metadata.Clone()
	return &c
}

// Other returns the endpoint of e that is not id
func (e *Edge) Other(id string) string {
	if e.From == id {
		return e.To
	}
	return e.From
}

// Version is an immutable snapshot of a node taken before an update.
type Version struct {
	VersionID         string   `json:"version_id"`
	NodeID            string   `json:"node_id"`
	OwnerID           string   `json:"owner_id"`
	Label             string   `json:"node_type"`
	Text              string   `json:"text"`
	Type              string   `json:"type,omitempty"`
	Metadata          Metadata `json:"metadata"`
	Status            Status   `json:"status"`
	Source            string   `json:"source,omitempty"`
	TTLDays           *float64 `json:"ttl_days,omitempty"`
	ExpiresAt         *int64   `json:"expires_at,omitempty"`
	OriginalCreatedAt int64    `json:"original_created_at"`
	VersionedAt       int64    `json:"version_timestamp"`
}

// NodeFilter selects nodes within one owner. Zero-valued fields match anything.
type NodeFilter struct {
	OwnerID  string
	Labels   []string
	Statuses []Status
	// ExcludeStatus drops nodes in this status.
	ExcludeStatus Status
	// Name matches text or alias, case-insensitively.
	Name string
	// ExpiredAt selects nodes whose expires_at is set and <= the value.
	ExpiredAt int64
	// DedupBefore selects nodes never deduplicated or deduplicated before the value.
	DedupBefore int64
	Limit       int
}

// Matches applies the filter to a single node
func (f NodeFilter) Matches(n *Node) bool {
	if f.OwnerID != "" && n.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Labels) > 0 && !slices.Contains(f.Labels, n.Label) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, n.Status) {
		return false
	}
	if f.ExcludeStatus != "" && n.Status == f.ExcludeStatus {
		return false
	}
	if f.Name != "" && !n.MatchesName(f.Name) {
		return false
	}
	if f.ExpiredAt > 0 && !n.IsExpired(f.ExpiredAt) {
		return false
	}
	if f.DedupBefore > 0 && n.LastDedupAt != nil && *n.LastDedupAt >= f.DedupBefore {
		return false
	}
	return true
}

// EdgeFilter selects edges within one owner. Empty fields match anything.
type EdgeFilter struct {
	OwnerID string
	From    string
	To      string
	Type    string
}

// Matches applies the filter to a single edge
func (f EdgeFilter) Matches(e *Edge) bool {
	return (f.OwnerID == "" || e.OwnerID == f.OwnerID) &&
		(f.From == "" || e.From == f.From) &&
		(f.To == "" || e.To == f.To) &&
		(f.Type == "" || e.Type == f.Type)
}

// SimilarityQuery searches the vector index of one label within one owner.
type SimilarityQuery struct {
	Label     string
	OwnerID   string
	Vector    []float32
	Threshold float64
	Limit     int
	Statuses  []Status
	// ExcludeStatus drops nodes in this status.
	ExcludeStatus Status
	ExcludeIDs    []string
	// NotExpiredAt drops nodes whose expires_at <= the value; 0 disables.
	NotExpiredAt int64
}

// Accepts applies the non-vector predicates of the query to a node
func (q SimilarityQuery) Accepts(n *Node) bool {
	if n.OwnerID != q.OwnerID || n.Label != q.Label {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, n.Status) {
		return false
	}
	if q.ExcludeStatus != "" && n.Status == q.ExcludeStatus {
		return false
	}
	if slices.Contains(q.ExcludeIDs, n.ID) {
		return false
	}
	if q.NotExpiredAt > 0 && n.IsExpired(q.NotExpiredAt) {
		return false
	}
	return true
}

// Match is a similarity hit. Similarity is cosine similarity in [-1, 1].
type Match struct {
	Node       *Node   `json:"node"`
	Similarity float64 `json:"similarity"`
}

// SortMatches orders by descending similarity, ties by node id ascending.
func SortMatches(ms []Match) {
	slices.SortStableFunc(ms, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return strings.Compare(a.Node.ID, b.Node.ID)
	})
}

// SortNodes orders by created_at, then id.
func SortNodes(ns []*Node) {
	slices.SortStableFunc(ns, func(a, b *Node) int {
		switch {
		case a.CreatedAt < b.CreatedAt:
			return -1
		case a.CreatedAt > b.CreatedAt:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// SortEdges orders by type, from, to, then id.
func SortEdges(es []*Edge) {
	slices.SortStableFunc(es, func(a, b *Edge) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		if c := strings.Compare(a.From, b.From); c != 0 {
			return c
		}
		if c := strings.Compare(a.To, b.To); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Stats summarises one owner's partition
type Stats struct {
	TotalNodes     int64 `json:"total_nodes"`
	TotalFacts     int64 `json:"total_facts"`
	TotalEntities  int64 `json:"total_entities"`
	ActiveFacts    int64 `json:"active_facts"`
	OutdatedFacts  int64 `json:"outdated_facts"`
	ArchivedFacts  int64 `json:"archived_facts"`
	TotalRelations int64 `json:"total_relations"`
}
