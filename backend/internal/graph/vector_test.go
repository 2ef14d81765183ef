package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestScoreToCosine(t *testing.T) {
	assert.InDelta(t, 1.0, scoreToCosine(1), 1e-9)
	assert.InDelta(t, 0.0, scoreToCosine(0.5), 1e-9)
	assert.InDelta(t, -1.0, scoreToCosine(0), 1e-9)
}

func TestSplitStatements(t *testing.T) {
	script := `
		// comment only
		CREATE INDEX a IF NOT EXISTS FOR (n:Fact) ON (n.id); // trailing
		CREATE INDEX b IF NOT EXISTS FOR (n:Entity) ON (n.id);
	`
	stmts := splitStatements(script)
	assert.Equal(t, []string{
		"CREATE INDEX a IF NOT EXISTS FOR (n:Fact) ON (n.id)",
		"CREATE INDEX b IF NOT EXISTS FOR (n:Entity) ON (n.id)",
	}, stmts)
}

func TestNodeMatchesName(t *testing.T) {
	n := &Node{Text: "Elon Musk", Aliases: []string{"Musk"}}
	assert.True(t, n.MatchesName("elon musk"))
	assert.True(t, n.MatchesName(" MUSK "))
	assert.False(t, n.MatchesName("Elon"))
	assert.False(t, n.MatchesName(""))

	n.AddAlias("musk")
	assert.Len(t, n.Aliases, 1)
	n.AddAlias("E. Musk")
	assert.Equal(t, []string{"Musk", "E. Musk"}, n.Aliases)
}
