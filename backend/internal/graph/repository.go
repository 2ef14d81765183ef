package graph

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"graph-memory/backend/internal/constants"
	"graph-memory/backend/pkg/logger"
)

// NodeVersion snapshots live outside the Fact/Entity labels so they never
// show up in traversal or similarity queries.
const versionLabel = "NodeVersion"

const nodeProjection = `n {.*, labels: labels(n)}`

var relTypePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Repository is the Neo4j-backed Store
type Repository struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new graph repository. An empty database selects
// the server default.
func NewRepository(driver neo4j.DriverWithContext, database string) *Repository {
	return &Repository{
		driver:   driver,
		database: database,
		logger:   logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Repository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: r.database})
}

// collect runs query and returns every record.
func (r *Repository) collect(ctx context.Context, mode neo4j.AccessMode, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	session := r.session(ctx, mode)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	var records []*neo4j.Record
	for result.Next(ctx) {
		records = append(records, result.Record())
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return records, nil
}

func (r *Repository) collectNodes(ctx context.Context, query string, params map[string]interface{}) ([]*Node, error) {
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, params)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(records))
	for _, rec := range records {
		if n := nodeFromMap(getMapFromRecord(rec, "node")); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// UpsertNode creates the node or overwrites its properties
func (r *Repository) UpsertNode(ctx context.Context, n *Node) error {
	if err := checkLabel(n.Label); err != nil {
		return err
	}
	metadata, err := encodeMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id, owner_id: $owner_id})
		SET n.text = $text,
		    n.type = $type,
		    n.status = $status,
		    n.source = $source,
		    n.metadata_json = $metadata_json,
		    n.created_at = $created_at,
		    n.updated_at = $updated_at,
		    n.ttl_days = $ttl_days,
		    n.expires_at = $expires_at,
		    n.last_dedup_at = $last_dedup_at,
		    n.embedding = $embedding,
		    n.aliases = $aliases
	`, n.Label)

	var embedding interface{}
	if len(n.Embedding) > 0 {
		embedding = toFloat64s(n.Embedding)
	}
	var aliases interface{}
	if len(n.Aliases) > 0 {
		aliases = n.Aliases
	}

	_, err = r.collect(ctx, neo4j.AccessModeWrite, query, map[string]interface{}{
		"id":            n.ID,
		"owner_id":      n.OwnerID,
		"text":          n.Text,
		"type":          n.Type,
		"status":        string(n.Status),
		"source":        n.Source,
		"metadata_json": metadata,
		"created_at":    n.CreatedAt,
		"updated_at":    n.UpdatedAt,
		"ttl_days":      optional(n.TTLDays),
		"expires_at":    optional(n.ExpiresAt),
		"last_dedup_at": optional(n.LastDedupAt),
		"embedding":     embedding,
		"aliases":       aliases,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}

	r.logger.Debug("Node upserted",
		zap.String("node_id", n.ID),
		zap.String("owner_id", n.OwnerID),
		zap.String("label", n.Label),
	)
	return nil
}

// GetNode retrieves a Fact or Entity by id within an owner
func (r *Repository) GetNode(ctx context.Context, ownerID, id string) (*Node, error) {
	query := `
		MATCH (n {id: $id, owner_id: $owner_id})
		WHERE n:Fact OR n:Entity
		RETURN ` + nodeProjection + ` AS node
		LIMIT 1
	`
	nodes, err := r.collectNodes(ctx, query, map[string]interface{}{
		"id":       id,
		"owner_id": ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrNodeNotFound
	}
	return nodes[0], nil
}

// GetNodes retrieves the subset of ids that exist within an owner
func (r *Repository) GetNodes(ctx context.Context, ownerID string, ids []string) ([]*Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		MATCH (n {owner_id: $owner_id})
		WHERE (n:Fact OR n:Entity) AND n.id IN $ids
		RETURN ` + nodeProjection + ` AS node
	`
	nodes, err := r.collectNodes(ctx, query, map[string]interface{}{
		"owner_id": ownerID,
		"ids":      ids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	return nodes, nil
}

// DeleteNode hard-deletes a node and its incident edges
func (r *Repository) DeleteNode(ctx context.Context, ownerID, id string) error {
	query := `
		MATCH (n {id: $id, owner_id: $owner_id})
		WHERE n:Fact OR n:Entity
		WITH n, n.id AS deleted_id
		DETACH DELETE n
		RETURN count(deleted_id) AS deleted
	`
	records, err := r.collect(ctx, neo4j.AccessModeWrite, query, map[string]interface{}{
		"id":       id,
		"owner_id": ownerID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if len(records) == 0 || getInt64FromRecord(records[0], "deleted") == 0 {
		return ErrNodeNotFound
	}

	r.logger.Info("Node deleted", zap.String("node_id", id), zap.String("owner_id", ownerID))
	return nil
}

// FindNodes lists nodes matching the filter, oldest first
func (r *Repository) FindNodes(ctx context.Context, f NodeFilter) ([]*Node, error) {
	query := `
		MATCH (n {owner_id: $owner_id})
		WHERE (n:Fact OR n:Entity)
		  AND ($labels IS NULL OR any(l IN labels(n) WHERE l IN $labels))
		  AND ($statuses IS NULL OR n.status IN $statuses)
		  AND ($exclude_status IS NULL OR n.status <> $exclude_status)
		  AND ($name IS NULL
		       OR toLower(trim(n.text)) = $name
		       OR any(a IN coalesce(n.aliases, []) WHERE toLower(trim(a)) = $name))
		  AND ($expired_at IS NULL OR (n.expires_at IS NOT NULL AND n.expires_at <= $expired_at))
		  AND ($dedup_before IS NULL OR n.last_dedup_at IS NULL OR n.last_dedup_at < $dedup_before)
		RETURN ` + nodeProjection + ` AS node
		ORDER BY n.created_at, n.id
	`
	params := map[string]interface{}{
		"owner_id":       f.OwnerID,
		"labels":         nil,
		"statuses":       nil,
		"exclude_status": nil,
		"name":           nil,
		"expired_at":     nil,
		"dedup_before":   nil,
	}
	if len(f.Labels) > 0 {
		params["labels"] = f.Labels
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		params["statuses"] = statuses
	}
	if f.ExcludeStatus != "" {
		params["exclude_status"] = string(f.ExcludeStatus)
	}
	if name := NormalizeName(f.Name); name != "" {
		params["name"] = name
	}
	if f.ExpiredAt > 0 {
		params["expired_at"] = f.ExpiredAt
	}
	if f.DedupBefore > 0 {
		params["dedup_before"] = f.DedupBefore
	}
	if f.Limit > 0 {
		query += "\n\t\tLIMIT $limit"
		params["limit"] = f.Limit
	}

	nodes, err := r.collectNodes(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes: %w", err)
	}
	return nodes, nil
}

const edgeReturn = `
		RETURN r.id AS id,
		       r.owner_id AS owner_id,
		       startNode(r).id AS from_id,
		       endNode(r).id AS to_id,
		       type(r) AS type,
		       r.metadata_json AS metadata_json,
		       r.created_at AS created_at
`

func (r *Repository) collectEdges(ctx context.Context, query string, params map[string]interface{}) ([]*Edge, error) {
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, params)
	if err != nil {
		return nil, err
	}
	edges := make([]*Edge, 0, len(records))
	for _, rec := range records {
		edges = append(edges, edgeFromRecord(rec))
	}
	SortEdges(edges)
	return edges, nil
}

// createEdgeQuery builds the CREATE statement for relType. Relationship
// types cannot be parameterized, so callers check relTypePattern first.
func createEdgeQuery(relType string) string {
	return `
		MATCH (a {id: $from_id, owner_id: $owner_id}) WHERE a:Fact OR a:Entity
		MATCH (b {id: $to_id, owner_id: $owner_id}) WHERE b:Fact OR b:Entity
		CREATE (a)-[r:` + "`" + relType + "`" + ` {id: $id, owner_id: $owner_id, metadata_json: $metadata_json, created_at: $created_at}]->(b)
		RETURN r.id AS id
	`
}

// CreateEdge creates a typed relationship between two nodes of one owner
func (r *Repository) CreateEdge(ctx context.Context, e *Edge) error {
	if !relTypePattern.MatchString(e.Type) {
		return fmt.Errorf("invalid relation type %q", e.Type)
	}
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := createEdgeQuery(e.Type)

	records, err := r.collect(ctx, neo4j.AccessModeWrite, query, map[string]interface{}{
		"id":            e.ID,
		"owner_id":      e.OwnerID,
		"from_id":       e.From,
		"to_id":         e.To,
		"metadata_json": metadata,
		"created_at":    e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create edge: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, ErrNodeNotFound)
	}

	r.logger.Debug("Edge created",
		zap.String("relation_id", e.ID),
		zap.String("from_id", e.From),
		zap.String("to_id", e.To),
		zap.String("type", e.Type),
	)
	return nil
}

func edgeFilterParams(f EdgeFilter) map[string]interface{} {
	return map[string]interface{}{
		"owner_id": f.OwnerID,
		"from_id":  f.From,
		"to_id":    f.To,
		"type":     f.Type,
	}
}

const edgeFilterMatch = `
		MATCH (a)-[r]->(b)
		WHERE r.owner_id = $owner_id
		  AND ($from_id = '' OR a.id = $from_id)
		  AND ($to_id = '' OR b.id = $to_id)
		  AND ($type = '' OR type(r) = $type)
`

// DeleteEdges removes every relationship matching the filter
func (r *Repository) DeleteEdges(ctx context.Context, f EdgeFilter) (int, error) {
	query := edgeFilterMatch + `
		WITH r, r.id AS rid
		DELETE r
		RETURN count(rid) AS deleted
	`
	records, err := r.collect(ctx, neo4j.AccessModeWrite, query, edgeFilterParams(f))
	if err != nil {
		return 0, fmt.Errorf("failed to delete edges: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return int(getInt64FromRecord(records[0], "deleted")), nil
}

// ListEdges lists relationships matching the filter
func (r *Repository) ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error) {
	edges, err := r.collectEdges(ctx, edgeFilterMatch+edgeReturn, edgeFilterParams(f))
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return edges, nil
}

// IncidentEdges lists relationships touching any of ids, in either direction
func (r *Repository) IncidentEdges(ctx context.Context, ownerID string, ids []string) ([]*Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		MATCH (n {owner_id: $owner_id})
		WHERE (n:Fact OR n:Entity) AND n.id IN $ids
		MATCH (n)-[r]-()
		WHERE r.owner_id = $owner_id
		WITH DISTINCT r
	` + edgeReturn
	edges, err := r.collectEdges(ctx, query, map[string]interface{}{
		"owner_id": ownerID,
		"ids":      ids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list incident edges: %w", err)
	}
	return edges, nil
}

func vectorIndexFor(label string) string {
	if label == constants.LabelEntity {
		return "entity_embedding"
	}
	return "fact_embedding"
}

// similarityFanOut is the minimum number of index hits asked for. The index
// is shared across owners, so limited queries over-fetch.
const similarityFanOut = 100

// needsScan reports whether an index answer may have missed qualifying
// nodes of the owner. Unlimited queries always scan. A limited query is
// only trusted when the index returned fewer than k rows above the score
// floor, or when enough matches survived the filters.
func needsScan(limit, k, rows, matched int) bool {
	if limit <= 0 {
		return true
	}
	return rows >= k && matched < limit
}

// QueryBySimilarity asks the vector index for candidates and applies the
// owner and status filters on the way out. Queries without a limit, and
// queries where other owners crowded the index answer, fall back to an exact
// scan of the owner's embedded nodes, as does an unavailable index.
func (r *Repository) QueryBySimilarity(ctx context.Context, q SimilarityQuery) ([]Match, error) {
	if err := checkLabel(q.Label); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		return r.scanSimilarity(ctx, q, limit)
	}
	k := max(limit*10, similarityFanOut)

	query := `
		CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node AS n, score
		WHERE score >= $min_score
		RETURN CASE WHEN n.owner_id = $owner_id THEN ` + nodeProjection + ` END AS node, score
	`
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, map[string]interface{}{
		"index":     vectorIndexFor(q.Label),
		"k":         k,
		"vector":    toFloat64s(q.Vector),
		"owner_id":  q.OwnerID,
		"min_score": (q.Threshold + 1) / 2,
	})
	if err != nil {
		r.logger.Warn("Vector index query failed, scanning instead",
			zap.String("label", q.Label),
			zap.Error(err),
		)
		return r.scanSimilarity(ctx, q, limit)
	}

	var matches []Match
	for _, rec := range records {
		n := nodeFromMap(getMapFromRecord(rec, "node"))
		if n == nil || !q.Accepts(n) {
			continue
		}
		sim := scoreToCosine(getFloat64FromRecord(rec, "score"))
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, Match{Node: n, Similarity: sim})
	}
	if needsScan(limit, k, len(records), len(matches)) {
		r.logger.Debug("Vector index answer saturated, scanning instead",
			zap.String("label", q.Label),
			zap.Int("k", k),
			zap.Int("matched", len(matches)),
		)
		return r.scanSimilarity(ctx, q, limit)
	}
	SortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *Repository) scanSimilarity(ctx context.Context, q SimilarityQuery, limit int) ([]Match, error) {
	query := fmt.Sprintf(`
		MATCH (n:%s {owner_id: $owner_id})
		WHERE n.embedding IS NOT NULL
		RETURN `+nodeProjection+` AS node
	`, q.Label)
	nodes, err := r.collectNodes(ctx, query, map[string]interface{}{"owner_id": q.OwnerID})
	if err != nil {
		return nil, fmt.Errorf("failed to scan embeddings: %w", err)
	}
	var matches []Match
	for _, n := range nodes {
		if !q.Accepts(n) {
			continue
		}
		if sim := CosineSimilarity(q.Vector, n.Embedding); sim >= q.Threshold {
			matches = append(matches, Match{Node: n, Similarity: sim})
		}
	}
	SortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// AppendVersion stores a snapshot with a per-node sequence number
func (r *Repository) AppendVersion(ctx context.Context, v *Version) error {
	metadata, err := encodeMetadata(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		OPTIONAL MATCH (p:` + versionLabel + ` {node_id: $node_id, owner_id: $owner_id})
		WITH count(p) AS seq
		CREATE (v:` + versionLabel + ` {
			version_id: $version_id,
			node_id: $node_id,
			owner_id: $owner_id,
			label: $label,
			text: $text,
			type: $type,
			metadata_json: $metadata_json,
			status: $status,
			source: $source,
			ttl_days: $ttl_days,
			expires_at: $expires_at,
			original_created_at: $original_created_at,
			version_timestamp: $version_timestamp,
			seq: seq
		})
	`
	_, err = r.collect(ctx, neo4j.AccessModeWrite, query, map[string]interface{}{
		"version_id":          v.VersionID,
		"node_id":             v.NodeID,
		"owner_id":            v.OwnerID,
		"label":               v.Label,
		"text":                v.Text,
		"type":                v.Type,
		"metadata_json":       metadata,
		"status":              string(v.Status),
		"source":              v.Source,
		"ttl_days":            optional(v.TTLDays),
		"expires_at":          optional(v.ExpiresAt),
		"original_created_at": v.OriginalCreatedAt,
		"version_timestamp":   v.VersionedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	return nil
}

// ListVersions returns a node's snapshots oldest first
func (r *Repository) ListVersions(ctx context.Context, ownerID, nodeID string) ([]*Version, error) {
	query := `
		MATCH (v:` + versionLabel + ` {node_id: $node_id, owner_id: $owner_id})
		RETURN v {.*} AS version
		ORDER BY v.seq, v.version_timestamp
	`
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, map[string]interface{}{
		"node_id":  nodeID,
		"owner_id": ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	versions := make([]*Version, 0, len(records))
	for _, rec := range records {
		versions = append(versions, versionFromMap(getMapFromRecord(rec, "version")))
	}
	return versions, nil
}

// ListOwners returns every owner with at least one Fact or Entity
func (r *Repository) ListOwners(ctx context.Context) ([]string, error) {
	query := `
		MATCH (n)
		WHERE (n:Fact OR n:Entity) AND n.owner_id IS NOT NULL
		RETURN DISTINCT n.owner_id AS owner_id
		ORDER BY owner_id
	`
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	owners := make([]string, 0, len(records))
	for _, rec := range records {
		owners = append(owners, getStringFromRecord(rec, "owner_id"))
	}
	return owners, nil
}

// CountNodes aggregates per-label and per-status counts for an owner
func (r *Repository) CountNodes(ctx context.Context, ownerID string) (*Stats, error) {
	query := `
		MATCH (n {owner_id: $owner_id})
		WHERE n:Fact OR n:Entity
		RETURN count(n) AS total_nodes,
		       count(CASE WHEN n:Fact THEN 1 END) AS total_facts,
		       count(CASE WHEN n:Entity THEN 1 END) AS total_entities,
		       count(CASE WHEN n:Fact AND n.status = 'active' THEN 1 END) AS active_facts,
		       count(CASE WHEN n:Fact AND n.status = 'outdated' THEN 1 END) AS outdated_facts,
		       count(CASE WHEN n:Fact AND n.status = 'archived' THEN 1 END) AS archived_facts
	`
	params := map[string]interface{}{"owner_id": ownerID}
	records, err := r.collect(ctx, neo4j.AccessModeRead, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}
	st := &Stats{}
	if len(records) > 0 {
		rec := records[0]
		st.TotalNodes = getInt64FromRecord(rec, "total_nodes")
		st.TotalFacts = getInt64FromRecord(rec, "total_facts")
		st.TotalEntities = getInt64FromRecord(rec, "total_entities")
		st.ActiveFacts = getInt64FromRecord(rec, "active_facts")
		st.OutdatedFacts = getInt64FromRecord(rec, "outdated_facts")
		st.ArchivedFacts = getInt64FromRecord(rec, "archived_facts")
	}

	records, err = r.collect(ctx, neo4j.AccessModeRead, `
		MATCH ()-[r]->()
		WHERE r.owner_id = $owner_id
		RETURN count(r) AS total_relations
	`, params)
	if err != nil {
		return nil, fmt.Errorf("failed to count relations: %w", err)
	}
	if len(records) > 0 {
		st.TotalRelations = getInt64FromRecord(records[0], "total_relations")
	}
	return st, nil
}

// Ping verifies the driver can reach the server
func (r *Repository) Ping(ctx context.Context) error {
	return r.driver.VerifyConnectivity(ctx)
}
