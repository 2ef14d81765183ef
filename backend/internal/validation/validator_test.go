package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-memory/backend/internal/graph"
	"graph-memory/backend/pkg/config"
	apperrors "graph-memory/backend/pkg/errors"
)

func newTestValidator() *Validator {
	return New(config.Default().Validation)
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var ve *apperrors.ErrValidation
	require.ErrorAs(t, err, &ve)
	return ve.Field
}

func TestText(t *testing.T) {
	v := New(config.ValidationConfig{MaxTextLength: 5, MaxMetadataSize: 10, MaxTTLDays: 10})

	assert.NoError(t, v.Text("text", "héllo", true))
	assert.NoError(t, v.Text("text", "", false))

	err := v.Text("text", "   ", true)
	assert.Equal(t, "text", fieldOf(t, err))

	err = v.Text("text", "toolong", false)
	assert.Equal(t, "text", fieldOf(t, err))
	assert.True(t, apperrors.IsValidation(err))
}

func TestMetadata(t *testing.T) {
	v := New(config.ValidationConfig{MaxTextLength: 5, MaxMetadataSize: 20, MaxTTLDays: 10})

	assert.NoError(t, v.Metadata(nil))
	assert.NoError(t, v.Metadata(graph.Metadata{"a": 1}))

	err := v.Metadata(graph.Metadata{"key": strings.Repeat("x", 30)})
	assert.Equal(t, "metadata", fieldOf(t, err))

	err = v.Metadata(graph.Metadata{"bad": func() {}})
	assert.Equal(t, "metadata", fieldOf(t, err))
}

func TestTTLDays(t *testing.T) {
	v := newTestValidator()
	ptr := func(f float64) *float64 { return &f }

	assert.NoError(t, v.TTLDays(nil))
	assert.NoError(t, v.TTLDays(ptr(0.5)))
	assert.NoError(t, v.TTLDays(ptr(3650)))
	assert.Error(t, v.TTLDays(ptr(0)))
	assert.Error(t, v.TTLDays(ptr(-1)))
	assert.Error(t, v.TTLDays(ptr(3650.1)))
}

func TestOwnerID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", config.DefaultOwnerID, false},
		{"  t1 ", "t1", false},
		{"user@example_1-2", "user@example_1-2", false},
		{"bad owner", "", true},
		{"drop;table", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := OwnerID(tt.in)
			if tt.wantErr {
				assert.Equal(t, "owner_id", fieldOf(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRelationType(t *testing.T) {
	tests := map[string]string{
		"founded":       "FOUNDED",
		"  works at ":   "WORKS_AT",
		"is-part-of":    "IS_PART_OF",
		"__already__":   "ALREADY",
		"!!!":           "RELATED_TO",
		"":              "RELATED_TO",
		"Lives In (NY)": "LIVES_IN_NY",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeRelationType(in), in)
	}
}

func TestStatus(t *testing.T) {
	assert.NoError(t, Status("archived"))
	assert.Equal(t, "status", fieldOf(t, Status("deleted")))
}

func TestCounts(t *testing.T) {
	assert.NoError(t, Positive("limit", 1))
	assert.Equal(t, "limit", fieldOf(t, Positive("limit", 0)))
	assert.NoError(t, NonNegative("depth", 0))
	assert.Equal(t, "depth", fieldOf(t, NonNegative("depth", -1)))

	bad := 1.5
	assert.Equal(t, "threshold", fieldOf(t, Threshold("threshold", &bad)))
	assert.NoError(t, Threshold("threshold", nil))
}

type sampleRequest struct {
	OwnerID      string `json:"owner_id" validate:"ownerid"`
	NodeType     string `json:"node_type" validate:"required,nodetype"`
	RelationType string `json:"relation_type" validate:"omitempty,reltype"`
	Status       string `json:"status" validate:"status"`
}

func TestStruct_UsesJSONFieldNames(t *testing.T) {
	v := newTestValidator()

	assert.NoError(t, v.Struct(sampleRequest{NodeType: "Fact"}))

	err := v.Struct(sampleRequest{NodeType: "Fact", OwnerID: "a b"})
	assert.Equal(t, "owner_id", fieldOf(t, err))

	err = v.Struct(sampleRequest{})
	assert.Equal(t, "node_type", fieldOf(t, err))

	err = v.Struct(sampleRequest{NodeType: "Entity", RelationType: "x-y"})
	assert.Equal(t, "relation_type", fieldOf(t, err))

	err = v.Struct(sampleRequest{NodeType: "Entity", Status: "gone"})
	assert.Equal(t, "status", fieldOf(t, err))
}
