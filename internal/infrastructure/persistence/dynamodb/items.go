package dynamodb

import (
	"fmt"
	"strings"
)

// Single-table layout:
//
//	NODE#{id}            META                  node item
//	NODE#{id}            EDGE#{type}[#{n}]     outgoing edge
//	KEY#{label}#{value}  KEY                   business key -> node id
const (
	nodePrefix  = "NODE#"
	edgePrefix  = "EDGE#"
	keyPrefix   = "KEY#"
	metaSK      = "META"
	keySK       = "KEY"
	entityNode  = "Node"
	entityEdge  = "Edge"
	entityKey   = "Key"
	attrPK      = "PK"
	attrSK      = "SK"
	ordinalSize = 6
)

// BuildNodePK constructs a node partition key: NODE#{nodeId}
func BuildNodePK(nodeID string) string {
	return nodePrefix + nodeID
}

// BuildEdgeSK constructs an edge sort key. Ordered edges carry a zero-padded
// position so a Query returns them in collection order.
func BuildEdgeSK(edgeType string, ordinal *int) string {
	if ordinal == nil {
		return edgePrefix + edgeType
	}
	return fmt.Sprintf("%s%s#%0*d", edgePrefix, edgeType, ordinalSize, *ordinal)
}

// BuildKeyPK constructs a business key partition key: KEY#{label}#{value}
func BuildKeyPK(label, value string) string {
	return keyPrefix + label + "#" + value
}

// ExtractIDFromPK strips prefix from pk.
func ExtractIDFromPK(pk, prefix string) string {
	return strings.TrimPrefix(pk, prefix)
}

type itemKey struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
}

type nodeItem struct {
	PK         string         `dynamodbav:"PK"`
	SK         string         `dynamodbav:"SK"`
	EntityType string         `dynamodbav:"EntityType"`
	NodeID     string         `dynamodbav:"NodeID"`
	Labels     []string       `dynamodbav:"Labels"`
	Properties map[string]any `dynamodbav:"Properties"`
	KeyLabel   string         `dynamodbav:"KeyLabel,omitempty"`
	KeyValue   string         `dynamodbav:"KeyValue,omitempty"`
}

type edgeItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	From       string `dynamodbav:"From"`
	To         string `dynamodbav:"To"`
	Type       string `dynamodbav:"Type"`
	Ordinal    *int   `dynamodbav:"Ordinal,omitempty"`
}

type keyItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	NodeID     string `dynamodbav:"NodeID"`
}
