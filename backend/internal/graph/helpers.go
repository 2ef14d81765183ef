package graph

import (
	"encoding/json"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"graph-memory/backend/internal/constants"
)

// ============================================================================
// Record helpers
// ============================================================================

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if i, ok := val.(int64); ok {
		return i
	}
	if i, ok := val.(int); ok {
		return int64(i)
	}
	return 0
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0.0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return 0.0
}

func getMapFromRecord(record *neo4j.Record, key string) map[string]interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	m, _ := val.(map[string]interface{})
	return m
}

// ============================================================================
// Map helpers
// ============================================================================

func getStringFromMap(m map[string]interface{}, key, defaultValue string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getInt64FromMap(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getOptInt64FromMap(m map[string]interface{}, key string) *int64 {
	if m[key] == nil {
		return nil
	}
	v := getInt64FromMap(m, key)
	return &v
}

func getOptFloat64FromMap(m map[string]interface{}, key string) *float64 {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	default:
		return nil
	}
	return &f
}

func getStringSliceFromMap(m map[string]interface{}, key string) []string {
	slice, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if str, ok := v.(string); ok {
			result = append(result, str)
		}
	}
	return result
}

func getVectorFromMap(m map[string]interface{}, key string) []float32 {
	slice, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(slice))
	for _, v := range slice {
		switch f := v.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}

// ============================================================================
// Encoding
// ============================================================================

func encodeMetadata(m Metadata) (string, error) {
	if m == nil {
		m = Metadata{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(raw string) Metadata {
	m := Metadata{}
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

func optional[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nodeLabel(labels []string) string {
	if slices.Contains(labels, constants.LabelFact) {
		return constants.LabelFact
	}
	if slices.Contains(labels, constants.LabelEntity) {
		return constants.LabelEntity
	}
	return ""
}

// nodeFromMap decodes a `n {.*, labels: labels(n)}` projection.
func nodeFromMap(m map[string]interface{}) *Node {
	if m == nil {
		return nil
	}
	return &Node{
		ID:          getStringFromMap(m, "id", ""),
		OwnerID:     getStringFromMap(m, "owner_id", ""),
		Label:       nodeLabel(getStringSliceFromMap(m, "labels")),
		Text:        getStringFromMap(m, "text", ""),
		Type:        getStringFromMap(m, "type", ""),
		Metadata:    decodeMetadata(getStringFromMap(m, "metadata_json", "")),
		Status:      Status(getStringFromMap(m, "status", string(StatusActive))),
		Source:      getStringFromMap(m, "source", ""),
		CreatedAt:   getInt64FromMap(m, "created_at"),
		UpdatedAt:   getInt64FromMap(m, "updated_at"),
		TTLDays:     getOptFloat64FromMap(m, "ttl_days"),
		ExpiresAt:   getOptInt64FromMap(m, "expires_at"),
		LastDedupAt: getOptInt64FromMap(m, "last_dedup_at"),
		Embedding:   getVectorFromMap(m, "embedding"),
		Aliases:     getStringSliceFromMap(m, "aliases"),
	}
}

func versionFromMap(m map[string]interface{}) *Version {
	return &Version{
		VersionID:         getStringFromMap(m, "version_id", ""),
		NodeID:            getStringFromMap(m, "node_id", ""),
		OwnerID:           getStringFromMap(m, "owner_id", ""),
		Label:             getStringFromMap(m, "label", ""),
		Text:              getStringFromMap(m, "text", ""),
		Type:              getStringFromMap(m, "type", ""),
		Metadata:          decodeMetadata(getStringFromMap(m, "metadata_json", "")),
		Status:            Status(getStringFromMap(m, "status", "")),
		Source:            getStringFromMap(m, "source", ""),
		TTLDays:           getOptFloat64FromMap(m, "ttl_days"),
		ExpiresAt:         getOptInt64FromMap(m, "expires_at"),
		OriginalCreatedAt: getInt64FromMap(m, "original_created_at"),
		VersionedAt:       getInt64FromMap(m, "version_timestamp"),
	}
}

func edgeFromRecord(record *neo4j.Record) *Edge {
	return &Edge{
		ID:        getStringFromRecord(record, "id"),
		OwnerID:   getStringFromRecord(record, "owner_id"),
		From:      getStringFromRecord(record, "from_id"),
		To:        getStringFromRecord(record, "to_id"),
		Type:      getStringFromRecord(record, "type"),
		Metadata:  decodeMetadata(getStringFromRecord(record, "metadata_json")),
		CreatedAt: getInt64FromRecord(record, "created_at"),
	}
}
