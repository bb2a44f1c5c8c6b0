package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

type executedQuery struct {
	Query  string
	Params map[string]any
}

// recordingClient answers node statements with one element id per row and
// records everything it is asked to run.
type recordingClient struct {
	mu           sync.Mutex
	queries      []executedQuery
	nextID       int
	failOn       string
	err          error
	readResult   Result
	connectivity error
	committed    bool
}

func (c *recordingClient) ExecuteWrite(ctx context.Context, work func(ctx context.Context, tx Tx) error) error {
	c.committed = false
	if err := work(ctx, c); err != nil {
		return err
	}
	c.committed = true
	return nil
}

func (c *recordingClient) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries = append(c.queries, executedQuery{Query: cypher, Params: params})
	if c.failOn != "" && strings.Contains(cypher, c.failOn) {
		return Result{}, c.err
	}
	if !strings.Contains(cypher, "RETURN row.ref") {
		return Result{}, nil
	}
	var res Result
	for _, row := range params["rows"].([]map[string]any) {
		c.nextID++
		res.Records = append(res.Records, Record{"ref": row["ref"], "id": fmt.Sprintf("4:db:%d", c.nextID)})
	}
	return res, nil
}

func (c *recordingClient) ExecuteRead(_ context.Context, cypher string, params map[string]any) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, executedQuery{Query: cypher, Params: params})
	return c.readResult, c.err
}

func (c *recordingClient) VerifyConnectivity(context.Context) error { return c.connectivity }

func (c *recordingClient) Close(context.Context) error { return nil }

func ordinal(i int) *int { return &i }

func sampleBatch() graph.Batch {
	return graph.Batch{
		Nodes: []graph.Node{
			{ID: "_:0", Labels: []string{"Person"}, Properties: map[string]any{"firstName": "Hans"}},
			{ID: "_:1", Labels: []string{"Person"}, Properties: map[string]any{"firstName": "Gerda"}},
			{ID: "_:2", Labels: []string{"Area"}, Properties: map[string]any{"name": "Germany"},
				Key: &graph.BusinessKey{Label: "Area", Value: "GERMANY"}},
			{ID: "_:3", Labels: []string{"EAddress", "Contact"}, Properties: map[string]any{"email": "h@b.de"}},
		},
		Edges: []graph.Edge{
			{From: "_:0", To: "_:3", Type: "pointsOfContact", Ordinal: ordinal(0)},
			{From: "_:0", To: "_:1", Type: "mother"},
			{From: "_:1", To: "_:2", Type: "home"},
			{From: "_:1", To: "_:3", Type: "pointsOfContact", Ordinal: ordinal(1)},
		},
	}
}

func TestStore_ApplyGroupsStatements(t *testing.T) {
	client := &recordingClient{}
	store := NewStore(client, nil)

	ids, err := store.Apply(context.Background(), sampleBatch())

	require.NoError(t, err)
	assert.True(t, client.committed)
	assert.Len(t, ids, 4)
	assert.Equal(t, graph.Identifier("4:db:1"), ids["_:0"])
	assert.Equal(t, graph.Identifier("4:db:2"), ids["_:1"])

	// Person, Area (keyed) + outgoing cleanup, EAddress:Contact, then 3 edge types.
	require.Len(t, client.queries, 7)
	assert.Contains(t, client.queries[0].Query, "CREATE (n:`Person`)")
	assert.Len(t, client.queries[0].Params["rows"], 2)
	assert.Contains(t, client.queries[1].Query, "MERGE (n:`Area` {_key: row.key})")
	assert.Contains(t, client.queries[2].Query, "DELETE r")
	assert.Equal(t, []string{string(ids["_:2"])}, client.queries[2].Params["ids"])
	assert.Contains(t, client.queries[3].Query, "CREATE (n:`EAddress`:`Contact`)")
	assert.Contains(t, client.queries[4].Query, "[r:`pointsOfContact`]")

	rows := client.queries[4].Params["rows"].([]map[string]any)
	require.Len(t, rows, 2)
	assert.Equal(t, string(ids["_:0"]), rows[0]["from"])
	assert.Equal(t, string(ids["_:3"]), rows[0]["to"])
	assert.Equal(t, int64(1), rows[1]["ordinal"])

	mother := client.queries[5].Params["rows"].([]map[string]any)
	assert.Nil(t, mother[0]["ordinal"])
}

func TestStore_ApplyRollsBackOnError(t *testing.T) {
	client := &recordingClient{failOn: "`home`", err: errors.New("constraint violated")}
	store := NewStore(client, nil)

	ids, err := store.Apply(context.Background(), sampleBatch())

	require.Error(t, err)
	assert.Nil(t, ids)
	assert.False(t, client.committed)
	assert.True(t, appErrors.IsStore(err))
	assert.False(t, appErrors.IsRetryable(err))
}

func TestStore_TransientErrorsAreRetryable(t *testing.T) {
	transient := &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected", Msg: "deadlock"}
	client := &recordingClient{failOn: "CREATE", err: transient}
	store := NewStore(client, nil)

	_, err := store.Apply(context.Background(), sampleBatch())

	require.Error(t, err)
	assert.True(t, appErrors.IsRetryable(err))
}

func TestStore_FindByKey(t *testing.T) {
	client := &recordingClient{readResult: Result{Records: []Record{{"id": "4:db:9"}}}}
	store := NewStore(client, nil)

	id, found, err := store.FindByKey(context.Background(), graph.BusinessKey{Label: "Area", Value: "GERMANY"})

	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, graph.Identifier("4:db:9"), id)
	assert.Contains(t, client.queries[0].Query, "MATCH (n:`Area` {_key: $key})")
	assert.Equal(t, "GERMANY", client.queries[0].Params["key"])

	client.readResult = Result{}
	_, found, err = store.FindByKey(context.Background(), graph.BusinessKey{Label: "Area", Value: "AUSTRIA"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_DeleteAllAndPing(t *testing.T) {
	client := &recordingClient{}
	store := NewStore(client, nil)

	require.NoError(t, store.DeleteAll(context.Background()))
	assert.Equal(t, "MATCH (n) DETACH DELETE n", client.queries[0].Query)

	assert.NoError(t, store.Ping(context.Background()))
	client.connectivity = errors.New("no route")
	assert.True(t, appErrors.IsStore(store.Ping(context.Background())))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`Person`", quote("Person"))
	assert.Equal(t, "`a``b`", quote("a`b"))
	assert.Equal(t, ":`A`:`B`", labelList([]string{"A", "B"}))
}

func TestNewClient_RequiresURI(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrMissingURI)
}
