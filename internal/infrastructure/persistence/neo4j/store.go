// Package neo4j stores batches in a Neo4j (or Bolt-compatible) database.
// Each batch is one explicit transaction; node identifiers are element ids.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Name is the backend name reported in logs and metrics.
const Name = "neo4j"

// KeyProperty holds the business key on keyed nodes.
const KeyProperty = "_key"

// Store implements gateway.Backend on a Client.
type Store struct {
	client Client
	logger *zap.Logger
}

// NewStore wraps client.
func NewStore(client Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, logger: logger.Named("neo4j")}
}

// Name implements gateway.Backend.
func (s *Store) Name() string {
	return Name
}

type nodeGroup struct {
	labels []string
	keyed  bool
	rows   []map[string]any
}

type edgeGroup struct {
	typ   string
	edges []graph.Edge
}

func (g *edgeGroup) rowsFor(ids map[graph.Identifier]graph.Identifier) []map[string]any {
	rows := make([]map[string]any, len(g.edges))
	for i, e := range g.edges {
		row := map[string]any{"from": string(ids[e.From]), "to": string(ids[e.To]), "ordinal": nil}
		if e.Ordinal != nil {
			row["ordinal"] = int64(*e.Ordinal)
		}
		rows[i] = row
	}
	return rows
}

// Apply implements gateway.Backend. Nodes are created per label set and
// edges per relationship type with UNWIND, all inside one transaction.
func (s *Store) Apply(ctx context.Context, batch graph.Batch) (map[graph.Identifier]graph.Identifier, error) {
	nodeGroups := groupNodes(batch.Nodes)
	edgeGroups := groupEdges(batch.Edges)
	ids := make(map[graph.Identifier]graph.Identifier, len(batch.Nodes))

	err := s.client.ExecuteWrite(ctx, func(ctx context.Context, tx Tx) error {
		for _, g := range nodeGroups {
			res, err := tx.Run(ctx, nodeStatement(g), map[string]any{"rows": g.rows})
			if err != nil {
				return err
			}
			for _, rec := range res.Records {
				ref, _ := rec["ref"].(string)
				id, _ := rec["id"].(string)
				ids[graph.Identifier(ref)] = graph.Identifier(id)
			}
			if g.keyed {
				if err := s.dropOutgoing(ctx, tx, g, ids); err != nil {
					return err
				}
			}
		}

		for _, g := range edgeGroups {
			if _, err := tx.Run(ctx, edgeStatement(g.typ), map[string]any{"rows": g.rowsFor(ids)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("apply", err)
	}

	s.logger.Debug("batch written",
		zap.Int("nodeGroups", len(nodeGroups)),
		zap.Int("edgeGroups", len(edgeGroups)))
	return ids, nil
}

// dropOutgoing removes relationships left over from an earlier write of an
// upserted node; the batch re-creates the current ones.
func (s *Store) dropOutgoing(ctx context.Context, tx Tx, g nodeGroup, ids map[graph.Identifier]graph.Identifier) error {
	elementIDs := make([]string, 0, len(g.rows))
	for _, row := range g.rows {
		elementIDs = append(elementIDs, string(ids[graph.Identifier(row["ref"].(string))]))
	}
	_, err := tx.Run(ctx,
		"UNWIND $ids AS id MATCH (n)-[r]->() WHERE elementId(n) = id DELETE r",
		map[string]any{"ids": elementIDs})
	return err
}

// DeleteAll implements gateway.Backend.
func (s *Store) DeleteAll(ctx context.Context) error {
	err := s.client.ExecuteWrite(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		return err
	})
	if err != nil {
		return classify("delete all", err)
	}
	return nil
}

// FindByKey implements gateway.Backend.
func (s *Store) FindByKey(ctx context.Context, key graph.BusinessKey) (graph.Identifier, bool, error) {
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $key}) RETURN elementId(n) AS id LIMIT 1", quote(key.Label), KeyProperty)
	res, err := s.client.ExecuteRead(ctx, cypher, map[string]any{"key": key.Value})
	if err != nil {
		return graph.NoIdentifier, false, classify("find by key", err)
	}
	if len(res.Records) == 0 {
		return graph.NoIdentifier, false, nil
	}
	id, _ := res.Records[0]["id"].(string)
	return graph.Identifier(id), id != "", nil
}

// Ping implements gateway.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.VerifyConnectivity(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close implements gateway.Backend.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func groupNodes(nodes []graph.Node) []*nodeGroup {
	var groups []*nodeGroup
	index := make(map[string]*nodeGroup)
	for _, n := range nodes {
		keyed := n.Key != nil
		sig := strings.Join(n.Labels, ":")
		if keyed {
			sig = "key|" + sig
		}
		g, ok := index[sig]
		if !ok {
			g = &nodeGroup{labels: n.Labels, keyed: keyed}
			index[sig] = g
			groups = append(groups, g)
		}
		row := map[string]any{"ref": string(n.ID), "props": n.Properties}
		if keyed {
			row["key"] = n.Key.Value
		}
		g.rows = append(g.rows, row)
	}
	return groups
}

func groupEdges(edges []graph.Edge) []*edgeGroup {
	var groups []*edgeGroup
	index := make(map[string]*edgeGroup)
	for _, e := range edges {
		g, ok := index[e.Type]
		if !ok {
			g = &edgeGroup{typ: e.Type}
			index[e.Type] = g
			groups = append(groups, g)
		}
		g.edges = append(g.edges, e)
	}
	return groups
}

func nodeStatement(g *nodeGroup) string {
	if !g.keyed {
		return fmt.Sprintf(
			"UNWIND $rows AS row CREATE (n%s) SET n = row.props RETURN row.ref AS ref, elementId(n) AS id",
			labelList(g.labels))
	}
	var extra string
	if len(g.labels) > 1 {
		extra = " SET n" + labelList(g.labels[1:])
	}
	return fmt.Sprintf(
		"UNWIND $rows AS row MERGE (n:%s {%s: row.key}) SET n = row.props SET n.%s = row.key%s RETURN row.ref AS ref, elementId(n) AS id",
		quote(g.labels[0]), KeyProperty, KeyProperty, extra)
}

func edgeStatement(typ string) string {
	return fmt.Sprintf(
		"UNWIND $rows AS row MATCH (a) WHERE elementId(a) = row.from MATCH (b) WHERE elementId(b) = row.to CREATE (a)-[r:%s]->(b) SET r.ordinal = row.ordinal",
		quote(typ))
}

func labelList(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteByte(':')
		b.WriteString(quote(l))
	}
	return b.String()
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if appErrors.IsAppError(err) {
		return err
	}
	if neo4j.IsRetryable(err) {
		return appErrors.NewTransientStoreError(operation, err)
	}
	return appErrors.NewStoreError(operation, err)
}
