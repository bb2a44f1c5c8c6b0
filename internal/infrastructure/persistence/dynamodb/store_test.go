package dynamodb

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func (m *mockAPI) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.ScanOutput)
	return out, args.Error(1)
}

func (m *mockAPI) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.TransactWriteItemsOutput)
	return out, args.Error(1)
}

func (m *mockAPI) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	// The SDK fails requests on a finished context before sending them.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.BatchWriteItemOutput)
	return out, args.Error(1)
}

func (m *mockAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.DescribeTableOutput)
	return out, args.Error(1)
}

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	})
}

func ordinal(i int) *int { return &i }

func keyedBatch() graph.Batch {
	return graph.Batch{
		Nodes: []graph.Node{
			{ID: "_:0", Labels: []string{"Area"}, Properties: map[string]any{"name": "Munic"}},
			{ID: "_:1", Labels: []string{"Area"}, Properties: map[string]any{"name": "Germany"},
				Key: &graph.BusinessKey{Label: "Area", Value: "GERMANY"}},
		},
		Edges: []graph.Edge{{From: "_:0", To: "_:1", Type: "partOf"}},
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func getItemFor(pk string) interface{} {
	return mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return stringAttr(in.Key, "PK") == pk
	})
}

// expectExistingNode makes the Area node keyed by value exist as id.
func expectExistingNode(api *mockAPI, id, value string) {
	api.On("GetItem", mock.Anything, getItemFor("KEY#Area#"+value)).Return(&dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: "KEY#Area#" + value},
			"SK":     &types.AttributeValueMemberS{Value: "KEY"},
			"NodeID": &types.AttributeValueMemberS{Value: id},
		},
	}, nil).Once()
	api.On("GetItem", mock.Anything, getItemFor("NODE#"+id)).Return(&dynamodb.GetItemOutput{
		Item: map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: "NODE#" + id},
			"SK":     &types.AttributeValueMemberS{Value: "META"},
			"NodeID": &types.AttributeValueMemberS{Value: id},
			"Name":   &types.AttributeValueMemberS{Value: "before"},
		},
	}, nil).Once()
}

// batchRequests tallies the delete and put requests sent through
// BatchWriteItem.
type batchRequests struct {
	deletes []map[string]types.AttributeValue
	puts    []map[string]types.AttributeValue
}

func (b *batchRequests) expect(api *mockAPI) {
	api.On("BatchWriteItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.BatchWriteItemInput)
			for _, r := range in.RequestItems["graph"] {
				if r.DeleteRequest != nil {
					b.deletes = append(b.deletes, r.DeleteRequest.Key)
				}
				if r.PutRequest != nil {
					b.puts = append(b.puts, r.PutRequest.Item)
				}
			}
		}).
		Return(&dynamodb.BatchWriteItemOutput{}, nil)
}

func (b *batchRequests) putKeys() []string {
	keys := make([]string, len(b.puts))
	for i, item := range b.puts {
		keys[i] = stringAttr(item, "PK") + "/" + stringAttr(item, "SK")
	}
	return keys
}

func TestStore_ApplyNewNodes(t *testing.T) {
	api := new(mockAPI)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	store := NewStore(api, "graph", zap.NewNop(), sequentialIDs())
	ids, err := store.Apply(context.Background(), keyedBatch())

	require.NoError(t, err)
	assert.Equal(t, map[graph.Identifier]graph.Identifier{"_:0": "n1", "_:1": "n2"}, ids)

	// two nodes, one key item, one edge
	require.Len(t, captured.TransactItems, 4)
	keyPut := captured.TransactItems[2].Put
	require.NotNil(t, keyPut)
	assert.Equal(t, "KEY#Area#GERMANY", stringAttr(keyPut.Item, "PK"))
	assert.Equal(t, "n2", stringAttr(keyPut.Item, "NodeID"))
	assert.NotNil(t, keyPut.ConditionExpression)

	edgePut := captured.TransactItems[3].Put
	assert.Equal(t, "NODE#n1", stringAttr(edgePut.Item, "PK"))
	assert.Equal(t, "EDGE#partOf", stringAttr(edgePut.Item, "SK"))
	assert.Equal(t, "n2", stringAttr(edgePut.Item, "To"))
	api.AssertExpectations(t)
}

func TestStore_ApplyUpsertsKeyedNode(t *testing.T) {
	api := new(mockAPI)
	expectExistingNode(api, "existing", "GERMANY")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{{
			"PK": &types.AttributeValueMemberS{Value: "NODE#existing"},
			"SK": &types.AttributeValueMemberS{Value: "EDGE#partOf"},
		}},
	}, nil).Once()

	var captured *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
		Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

	store := NewStore(api, "graph", zap.NewNop(), sequentialIDs())
	ids, err := store.Apply(context.Background(), keyedBatch())

	require.NoError(t, err)
	assert.Equal(t, graph.Identifier("existing"), ids["_:1"])

	// no new key item; stale edge deleted
	require.Len(t, captured.TransactItems, 4)
	del := captured.TransactItems[2].Delete
	require.NotNil(t, del)
	assert.Equal(t, "NODE#existing", stringAttr(del.Key, "PK"))
	assert.Equal(t, "EDGE#partOf", stringAttr(del.Key, "SK"))
	api.AssertExpectations(t)
}

func TestStore_ApplyChunksAndCompensates(t *testing.T) {
	batch := graph.Batch{}
	for i := 0; i < 150; i++ {
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:         graph.Placeholder(i),
			Labels:     []string{"Thing"},
			Properties: map[string]any{"n": int64(i)},
		})
	}

	api := new(mockAPI)
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == MaxTransactItems
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == 50
	})).Return(nil, &types.TransactionCanceledException{
		Message:             aws.String("cancelled"),
		CancellationReasons: []types.CancellationReason{{Code: aws.String("TransactionConflict")}},
	}).Once()

	deleted := 0
	api.On("BatchWriteItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.BatchWriteItemInput)
			deleted += len(in.RequestItems["graph"])
		}).
		Return(&dynamodb.BatchWriteItemOutput{}, nil)

	store := NewStore(api, "graph", zap.NewNop(), sequentialIDs())
	ids, err := store.Apply(context.Background(), batch)

	require.Error(t, err)
	assert.Nil(t, ids)
	assert.True(t, appErrors.IsRetryable(err))
	assert.Equal(t, MaxTransactItems, deleted)
	api.AssertNumberOfCalls(t, "BatchWriteItem", 4)
}

func thingBatch(n int) graph.Batch {
	batch := graph.Batch{}
	for i := 0; i < n; i++ {
		batch.Nodes = append(batch.Nodes, graph.Node{
			ID:         graph.Placeholder(i),
			Labels:     []string{"Thing"},
			Properties: map[string]any{"n": int64(i)},
		})
	}
	return batch
}

func TestStore_ApplyCompensatesAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := new(mockAPI)
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == MaxTransactItems
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == 50
	})).Run(func(mock.Arguments) { cancel() }).Return(nil, context.Canceled).Once()

	var requests batchRequests
	requests.expect(api)

	store := NewStore(api, "graph", zap.NewNop(), sequentialIDs())
	ids, err := store.Apply(ctx, thingBatch(150))

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ids)
	assert.Len(t, requests.deletes, MaxTransactItems)
	assert.Empty(t, requests.puts)
}

func TestStore_ApplyCompensationRestoresUpsertedNode(t *testing.T) {
	// Writes: 51 node puts, 1 stale edge delete, 60 edge puts. The first
	// chunk holds the upserted node, the delete and the rewritten "mother"
	// edge; the second chunk fails.
	batch := thingBatch(51)
	batch.Nodes[0].Labels = []string{"Area"}
	batch.Nodes[0].Key = &graph.BusinessKey{Label: "Area", Value: "GERMANY"}
	batch.Edges = append(batch.Edges, graph.Edge{From: "_:0", To: "_:1", Type: "mother"})
	for i := 0; i < 59; i++ {
		batch.Edges = append(batch.Edges, graph.Edge{From: "_:1", To: "_:2", Type: "knows", Ordinal: ordinal(i)})
	}

	api := new(mockAPI)
	expectExistingNode(api, "old", "GERMANY")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			{
				"PK": &types.AttributeValueMemberS{Value: "NODE#old"},
				"SK": &types.AttributeValueMemberS{Value: "EDGE#mother"},
				"To": &types.AttributeValueMemberS{Value: "someone"},
			},
			{
				"PK": &types.AttributeValueMemberS{Value: "NODE#old"},
				"SK": &types.AttributeValueMemberS{Value: "EDGE#partOf"},
				"To": &types.AttributeValueMemberS{Value: "europe"},
			},
		},
	}, nil).Once()

	var first *dynamodb.TransactWriteItemsInput
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == MaxTransactItems
	})).Run(func(args mock.Arguments) {
		first = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
	api.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == 12
	})).Return(nil, &types.TransactionCanceledException{
		Message:             aws.String("cancelled"),
		CancellationReasons: []types.CancellationReason{{Code: aws.String("TransactionConflict")}},
	}).Once()

	var requests batchRequests
	requests.expect(api)

	store := NewStore(api, "graph", zap.NewNop(), sequentialIDs())
	_, err := store.Apply(context.Background(), batch)
	require.Error(t, err)

	require.NotNil(t, first)
	require.NotNil(t, first.TransactItems[51].Delete)
	assert.Equal(t, "EDGE#partOf", stringAttr(first.TransactItems[51].Delete.Key, "SK"))

	// 50 new nodes and 47 new "knows" edges from the first chunk
	assert.Len(t, requests.deletes, 97)
	for _, key := range requests.deletes {
		assert.NotEqual(t, "NODE#old", stringAttr(key, "PK"))
	}

	assert.ElementsMatch(t,
		[]string{"NODE#old/META", "NODE#old/EDGE#partOf", "NODE#old/EDGE#mother"},
		requests.putKeys())
	for _, item := range requests.puts {
		switch stringAttr(item, "SK") {
		case "META":
			assert.Equal(t, "before", stringAttr(item, "Name"))
		case "EDGE#mother":
			assert.Equal(t, "someone", stringAttr(item, "To"))
		}
	}
	api.AssertExpectations(t)
}

func TestStore_DeleteAll(t *testing.T) {
	api := new(mockAPI)
	api.On("Scan", mock.Anything, mock.Anything).Return(&dynamodb.ScanOutput{
		Items: []map[string]types.AttributeValue{
			{"PK": &types.AttributeValueMemberS{Value: "NODE#a"}, "SK": &types.AttributeValueMemberS{Value: "META"}},
			{"PK": &types.AttributeValueMemberS{Value: "KEY#Area#X"}, "SK": &types.AttributeValueMemberS{Value: "KEY"}},
		},
	}, nil).Once()

	unprocessed := map[string][]types.WriteRequest{"graph": {{DeleteRequest: &types.DeleteRequest{}}}}
	api.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["graph"]) == 2
	})).Return(&dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil).Once()
	api.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["graph"]) == 1
	})).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

	store := NewStore(api, "graph", zap.NewNop())
	require.NoError(t, store.DeleteAll(context.Background()))
	api.AssertExpectations(t)
}

func TestStore_FindByKey(t *testing.T) {
	api := new(mockAPI)
	api.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		return stringAttr(in.Key, "PK") == "KEY#Area#GERMANY" && aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"NodeID": &types.AttributeValueMemberS{Value: "abc"},
	}}, nil).Once()
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	store := NewStore(api, "graph", zap.NewNop())

	id, found, err := store.FindByKey(context.Background(), graph.BusinessKey{Label: "Area", Value: "GERMANY"})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, graph.Identifier("abc"), id)

	_, found, err = store.FindByKey(context.Background(), graph.BusinessKey{Label: "Area", Value: "AUSTRIA"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClassify(t *testing.T) {
	throttled := &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	assert.True(t, appErrors.IsRetryable(classify("apply", throttled)))

	missing := &types.ResourceNotFoundException{Message: aws.String("no table")}
	err := classify("apply", missing)
	assert.True(t, appErrors.IsStore(err))
	assert.False(t, appErrors.IsRetryable(err))

	validation := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ValidationError")}},
	}
	assert.False(t, appErrors.IsRetryable(classify("apply", validation)))

	assert.ErrorIs(t, classify("apply", context.Canceled), context.Canceled)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "NODE#x", BuildNodePK("x"))
	assert.Equal(t, "EDGE#partOf", BuildEdgeSK("partOf", nil))
	assert.Equal(t, "EDGE#things#000012", BuildEdgeSK("things", ordinal(12)))
	assert.Equal(t, "KEY#Area#AT", BuildKeyPK("Area", "AT"))
	assert.Equal(t, "x", ExtractIDFromPK("NODE#x", nodePrefix))
}
