// Package graph defines the node/edge model that object graphs are mapped to.
package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier is a store-assigned node id. The zero value means "absent".
type Identifier string

// NoIdentifier is the absent identifier.
const NoIdentifier Identifier = ""

const placeholderPrefix = "_:"

// Placeholder returns the call-local identifier for the n-th object encountered.
func Placeholder(n int) Identifier {
	return Identifier(placeholderPrefix + strconv.Itoa(n))
}

// IsPlaceholder reports whether id was allocated by Placeholder.
func (id Identifier) IsPlaceholder() bool {
	return strings.HasPrefix(string(id), placeholderPrefix)
}

// IsZero reports whether id is absent.
func (id Identifier) IsZero() bool {
	return id == NoIdentifier
}

func (id Identifier) String() string {
	return string(id)
}

// BusinessKey identifies a node by domain value, scoped to its primary label.
type BusinessKey struct {
	Label string
	Value string
}

func (k BusinessKey) String() string {
	return k.Label + "#" + k.Value
}

// Node is one mapped object.
type Node struct {
	ID         Identifier
	Labels     []string
	Properties map[string]any
	Key        *BusinessKey
}

// PrimaryLabel returns the first label, or "" for an unlabeled node.
func (n Node) PrimaryLabel() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// Edge is a directed, typed reference from one node to another.
// Ordinal is set for edges that came from an ordered collection.
type Edge struct {
	From    Identifier
	To      Identifier
	Type    string
	Ordinal *int
}

// OrdinalEdge builds an edge carrying a collection position.
func OrdinalEdge(from, to Identifier, typ string, ordinal int) Edge {
	return Edge{From: from, To: to, Type: typ, Ordinal: &ordinal}
}

func (e Edge) String() string {
	if e.Ordinal != nil {
		return fmt.Sprintf("(%s)-[:%s #%d]->(%s)", e.From, e.Type, *e.Ordinal, e.To)
	}
	return fmt.Sprintf("(%s)-[:%s]->(%s)", e.From, e.Type, e.To)
}

// Batch is the set of writes produced by one walk. Node ids are placeholders.
type Batch struct {
	Nodes []Node
	Edges []Edge
}

// Len returns the number of items in the batch.
func (b Batch) Len() int {
	return len(b.Nodes) + len(b.Edges)
}

// IsEmpty reports whether the batch carries no writes.
func (b Batch) IsEmpty() bool {
	return b.Len() == 0
}
