package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholder(t *testing.T) {
	id := Placeholder(3)

	assert.Equal(t, Identifier("_:3"), id)
	assert.True(t, id.IsPlaceholder())
	assert.False(t, Identifier("42").IsPlaceholder())
	assert.True(t, NoIdentifier.IsZero())
	assert.False(t, id.IsZero())
}

func TestNode_PrimaryLabel(t *testing.T) {
	assert.Equal(t, "Person", Node{Labels: []string{"Person", "Customer"}}.PrimaryLabel())
	assert.Equal(t, "", Node{}.PrimaryLabel())
}

func TestEdge_String(t *testing.T) {
	assert.Equal(t, "(_:0)-[:address]->(_:1)", Edge{From: "_:0", To: "_:1", Type: "address"}.String())
	assert.Equal(t, "(_:0)-[:contacts #2]->(_:1)", OrdinalEdge("_:0", "_:1", "contacts", 2).String())
}

func TestBatch_Len(t *testing.T) {
	b := Batch{
		Nodes: []Node{{ID: "_:0"}, {ID: "_:1"}},
		Edges: []Edge{{From: "_:0", To: "_:1", Type: "x"}},
	}
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.IsEmpty())
	assert.True(t, Batch{}.IsEmpty())
}

func TestIsScalar(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{"x", true},
		{true, true},
		{int64(1), true},
		{1.5, true},
		{time.Now(), true},
		{[]byte("b"), true},
		{[]string{"a"}, true},
		{[]int64{1}, true},
		{1, false},
		{int32(1), false},
		{map[string]string{}, false},
		{nil, false},
		{struct{}{}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsScalar(tt.value), "%T", tt.value)
	}
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("Person"))
	assert.True(t, ValidName("_hidden2"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("2nd"))
	assert.False(t, ValidName("has space"))
	assert.False(t, ValidName("back`tick"))
}
