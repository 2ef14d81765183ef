package memory

import (
	"graph-memory/backend/internal/graph"
)

// CreateNodeInput is the payload of create_node
type CreateNodeInput struct {
	NodeType  string         `json:"node_type" validate:"required,nodetype"`
	Text      string         `json:"text"`
	OwnerID   string         `json:"owner_id" validate:"ownerid"`
	Type      string         `json:"type,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  graph.Metadata `json:"metadata,omitempty"`
	Status    string         `json:"status,omitempty" validate:"status"`
	TTLDays   *float64       `json:"ttl_days,omitempty"`
	ExpiresAt *int64         `json:"expires_at,omitempty" validate:"omitempty,gte=0"`
	Aliases   []string       `json:"aliases,omitempty"`
	// AutoLink defaults to true for Facts
	AutoLink      *bool       `json:"auto_link,omitempty"`
	LinkThreshold *float64    `json:"link_threshold,omitempty"`
	Links         []LinkInput `json:"links,omitempty" validate:"dive"`
}

// LinkInput is an explicit relation created together with a node
type LinkInput struct {
	TargetID     string         `json:"target_id" validate:"required"`
	RelationType string         `json:"relation_type" validate:"required,reltype"`
	Direction    string         `json:"direction,omitempty" validate:"omitempty,oneof=outgoing incoming"`
	Metadata     graph.Metadata `json:"metadata,omitempty"`
}

// CreateResult is returned by node-creating operations
type CreateResult struct {
	Node *graph.Node `json:"node"`
	// AutoLinks are MENTIONS_ENTITY edges in descending similarity order
	AutoLinks []*graph.Edge `json:"auto_links,omitempty"`
	Relations []*graph.Edge `json:"relations,omitempty"`
}

// UpdateNodeInput is the payload of update_node. Nil fields are left as is.
type UpdateNodeInput struct {
	NodeID    string         `json:"node_id" validate:"required"`
	OwnerID   string         `json:"owner_id" validate:"ownerid"`
	Text      *string        `json:"text,omitempty"`
	Type      *string        `json:"type,omitempty"`
	Source    *string        `json:"source,omitempty"`
	Metadata  graph.Metadata `json:"metadata,omitempty"`
	Status    *string        `json:"status,omitempty"`
	TTLDays   *float64       `json:"ttl_days,omitempty"`
	ExpiresAt *int64         `json:"expires_at,omitempty" validate:"omitempty,gte=0"`
	// Versioning snapshots the node before applying the update
	Versioning bool `json:"versioning,omitempty"`
}

// CreateRelationInput is the payload of create_relation
type CreateRelationInput struct {
	FromID       string         `json:"from_id" validate:"required"`
	ToID         string         `json:"to_id" validate:"required"`
	RelationType string         `json:"relation_type" validate:"required,reltype"`
	Metadata     graph.Metadata `json:"metadata,omitempty"`
	OwnerID      string         `json:"owner_id" validate:"ownerid"`
}

// UnlinkInput is the payload of unlink. An empty RelationType removes every
// edge from FromID to ToID.
type UnlinkInput struct {
	FromID       string `json:"from_id" validate:"required"`
	ToID         string `json:"to_id" validate:"required"`
	RelationType string `json:"relation_type,omitempty" validate:"omitempty,reltype"`
	OwnerID      string `json:"owner_id" validate:"ownerid"`
}

// TripletInput is the payload of create_triplet
type TripletInput struct {
	Subject     string         `json:"subject" validate:"required"`
	Predicate   string         `json:"predicate" validate:"required"`
	Object      string         `json:"object_value" validate:"required"`
	SubjectType string         `json:"subject_type,omitempty"`
	ObjectType  string         `json:"object_type,omitempty"`
	Metadata    graph.Metadata `json:"metadata,omitempty"`
	FactID      string         `json:"fact_id,omitempty"`
	OwnerID     string         `json:"owner_id" validate:"ownerid"`
}

// TripletQuery is the payload of search_triplets. Empty parts match anything.
type TripletQuery struct {
	Subject   string `json:"subject,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Object    string `json:"object_value,omitempty"`
	OwnerID   string `json:"owner_id" validate:"ownerid"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0"`
}

// Triplet is an Entity-Entity edge read as subject, predicate, object
type Triplet struct {
	Subject   *graph.Node `json:"subject"`
	Predicate string      `json:"predicate"`
	Object    *graph.Node `json:"object"`
	Relation  *graph.Edge `json:"relation"`
}

// TripletResult is returned by create_triplet
type TripletResult struct {
	Triplet
	// Created is false when the predicate edge already existed
	Created       bool        `json:"created"`
	ExtractedFrom *graph.Edge `json:"extracted_from,omitempty"`
}

// SearchInput is the payload of search
type SearchInput struct {
	Query           string   `json:"query" validate:"required"`
	OwnerID         string   `json:"owner_id" validate:"ownerid"`
	Limit           int      `json:"limit,omitempty" validate:"gte=0"`
	NodeTypes       []string `json:"node_types,omitempty" validate:"dive,nodetype"`
	Status          string   `json:"status,omitempty" validate:"status"`
	Threshold       *float64 `json:"threshold,omitempty"`
	IncludeOutdated bool     `json:"include_outdated,omitempty"`
}

// SearchResult merges per-label hits by descending similarity
type SearchResult struct {
	Results  []graph.Match `json:"results"`
	Facts    []graph.Match `json:"facts"`
	Entities []graph.Match `json:"entities"`
}

// FindSimilarInput is the payload of find_similar
type FindSimilarInput struct {
	NodeID    string   `json:"node_id" validate:"required"`
	OwnerID   string   `json:"owner_id" validate:"ownerid"`
	Limit     int      `json:"limit,omitempty" validate:"gte=0"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// ContextInput is the payload of get_context. Nil bounds take the configured defaults.
type ContextInput struct {
	NodeID   string `json:"node_id" validate:"required"`
	OwnerID  string `json:"owner_id" validate:"ownerid"`
	Depth    *int   `json:"depth,omitempty"`
	MaxNodes *int   `json:"max_nodes,omitempty"`
}

// Subgraph is a bounded neighbourhood
type Subgraph struct {
	Nodes []*graph.Node `json:"nodes"`
	Edges []*graph.Edge `json:"edges"`
}

// TraceInput is the payload of get_trace
type TraceInput struct {
	FromID   string `json:"from_id" validate:"required"`
	ToID     string `json:"to_id" validate:"required"`
	OwnerID  string `json:"owner_id" validate:"ownerid"`
	MaxPaths int    `json:"max_paths,omitempty" validate:"gte=0"`
	MaxDepth int    `json:"max_depth,omitempty" validate:"gte=0"`
}

// Path is a simple path; Nodes has one more element than Edges
type Path struct {
	Nodes  []*graph.Node `json:"nodes"`
	Edges  []*graph.Edge `json:"edges"`
	Length int           `json:"length"`
}

// SummaryInput is the payload of create_summary_fact
type SummaryInput struct {
	FactIDs  []string       `json:"fact_ids" validate:"required,min=1,dive,required"`
	Text     string         `json:"text"`
	OwnerID  string         `json:"owner_id" validate:"ownerid"`
	Metadata graph.Metadata `json:"metadata,omitempty"`
}
