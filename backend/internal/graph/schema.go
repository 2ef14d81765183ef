package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SchemaVersion tags the migration marker node
const SchemaVersion = "graph_memory_schema_v1"

type migration struct {
	name        string
	description string
	query       string
}

func schemaMigrations(dimensions int) []migration {
	return []migration{
		{
			name:        "Create Constraints",
			description: "Node identity is unique per owner",
			query: `
				CREATE CONSTRAINT fact_id_owner_unique IF NOT EXISTS FOR (f:Fact) REQUIRE (f.id, f.owner_id) IS UNIQUE;
				CREATE CONSTRAINT entity_id_owner_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.id, e.owner_id) IS UNIQUE;
			`,
		},
		{
			name:        "Create Indexes",
			description: "Owner, status and expiry lookups used by search and jobs",
			query: `
				CREATE INDEX fact_owner_status IF NOT EXISTS FOR (f:Fact) ON (f.owner_id, f.status);
				CREATE INDEX entity_owner_status IF NOT EXISTS FOR (e:Entity) ON (e.owner_id, e.status);
				CREATE INDEX fact_expires_at IF NOT EXISTS FOR (f:Fact) ON (f.expires_at);
				CREATE INDEX fact_created_at IF NOT EXISTS FOR (f:Fact) ON (f.created_at);
				CREATE INDEX node_version_lookup IF NOT EXISTS FOR (v:NodeVersion) ON (v.owner_id, v.node_id);
			`,
		},
		{
			name:        "Create Vector Indexes",
			description: "Cosine vector indexes over embeddings",
			query: fmt.Sprintf(`
				CREATE VECTOR INDEX fact_embedding IF NOT EXISTS FOR (f:Fact) ON (f.embedding)
				OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %[1]d, `+"`vector.similarity_function`"+`: 'cosine'}};
				CREATE VECTOR INDEX entity_embedding IF NOT EXISTS FOR (e:Entity) ON (e.embedding)
				OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %[1]d, `+"`vector.similarity_function`"+`: 'cosine'}};
			`, dimensions),
		},
	}
}

// EnsureSchema creates constraints and indexes. Statements are idempotent;
// individual failures are logged and skipped so an older server without
// vector support still gets the plain indexes.
func (r *Repository) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}
	migrations := schemaMigrations(dimensions)
	failed := 0
	for i, m := range migrations {
		r.logger.Info("Running migration",
			zap.Int("step", i+1),
			zap.Int("total", len(migrations)),
			zap.String("name", m.name),
			zap.String("description", m.description),
		)
		for j, stmt := range splitStatements(m.query) {
			if _, err := r.collect(ctx, neo4j.AccessModeWrite, stmt, nil); err != nil {
				failed++
				r.logger.Warn("Migration statement failed",
					zap.String("migration", m.name),
					zap.Int("statement", j+1),
					zap.Error(err),
				)
			}
		}
	}
	if failed > 0 {
		r.logger.Warn("Schema applied with failures", zap.Int("failed_statements", failed))
	}
	return r.markSchemaApplied(ctx)
}

// SchemaApplied reports whether the migration marker exists
func (r *Repository) SchemaApplied(ctx context.Context) (bool, error) {
	records, err := r.collect(ctx, neo4j.AccessModeRead, `
		MATCH (m:Migration {version: $version})
		RETURN m.applied_at AS applied_at
	`, map[string]interface{}{"version": SchemaVersion})
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (r *Repository) markSchemaApplied(ctx context.Context) error {
	_, err := r.collect(ctx, neo4j.AccessModeWrite, `
		MERGE (m:Migration {version: $version})
		SET m.applied_at = datetime(),
		    m.description = 'Fact/Entity constraints, lookup and vector indexes'
	`, map[string]interface{}{"version": SchemaVersion})
	if err != nil {
		return fmt.Errorf("failed to mark schema applied: %w", err)
	}
	return nil
}

// splitStatements splits a Cypher script on semicolons, dropping // comments
func splitStatements(script string) []string {
	lines := strings.Split(script, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		cleaned = append(cleaned, line)
	}

	var statements []string
	for _, part := range strings.Split(strings.Join(cleaned, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
