// Package dynamodb stores batches in a single DynamoDB table. Batches of up
// to MaxTransactItems writes commit in one TransactWriteItems call. Larger
// batches are split; if a later chunk fails, items created by earlier chunks
// are deleted and items they overwrote or deleted are put back.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Name is the backend name reported in logs and metrics.
const Name = "dynamodb"

const (
	// MaxTransactItems is the TransactWriteItems item limit.
	MaxTransactItems = 100
	maxBatchWrite    = 25
	maxUnprocessed   = 5

	// DefaultCompensationTimeout bounds the rollback of committed chunks.
	DefaultCompensationTimeout = 30 * time.Second
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store implements gateway.Backend on DynamoDB.
type Store struct {
	client    API
	tableName string
	logger    *zap.Logger
	newID     func() string

	compensationTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces uuid.NewString for node ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithCompensationTimeout bounds how long undoing committed chunks may take.
// Compensation runs detached from the caller's context, which is usually
// what failed the batch.
func WithCompensationTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.compensationTimeout = d
	}
}

// NewStore creates a store over tableName.
func NewStore(client API, tableName string, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		client:    client,
		tableName: tableName,
		logger:    logger.Named("dynamodb").With(zap.String("table", tableName)),
		newID:     uuid.NewString,

		compensationTimeout: DefaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements gateway.Backend.
func (s *Store) Name() string {
	return Name
}

// write is one transactional item. undo is the item to delete when the write
// has to be rolled back by hand; restore is the pre-image to put back. A write
// that creates an item has only undo; one that replaces or deletes an
// existing item has only restore.
type write struct {
	item    types.TransactWriteItem
	undo    *itemKey
	restore map[string]types.AttributeValue
}

// Apply implements gateway.Backend.
func (s *Store) Apply(ctx context.Context, batch graph.Batch) (map[graph.Identifier]graph.Identifier, error) {
	writes, ids, err := s.plan(ctx, batch)
	if err != nil {
		return nil, err
	}

	var done []write
	for start := 0; start < len(writes); start += MaxTransactItems {
		end := min(start+MaxTransactItems, len(writes))
		chunk := writes[start:end]

		items := make([]types.TransactWriteItem, len(chunk))
		for i, w := range chunk {
			items[i] = w.item
		}
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			s.logger.Error("Failed to commit transaction",
				zap.Int("chunk", start/MaxTransactItems),
				zap.Int("items", len(items)),
				zap.Error(err))
			if len(done) > 0 {
				s.compensate(ctx, done)
			}
			return nil, classify("transact write", err)
		}
		done = append(done, chunk...)
	}

	s.logger.Debug("batch written",
		zap.Int("writes", len(writes)),
		zap.Int("transactions", (len(writes)+MaxTransactItems-1)/MaxTransactItems))
	return ids, nil
}

// plan resolves business keys, allocates ids and lists every write of batch,
// reading the pre-image of every existing item a write replaces or deletes.
func (s *Store) plan(ctx context.Context, batch graph.Batch) ([]write, map[graph.Identifier]graph.Identifier, error) {
	ids := make(map[graph.Identifier]graph.Identifier, len(batch.Nodes))
	var (
		writes   []write
		upserted []string
	)

	for _, n := range batch.Nodes {
		var (
			id  string
			pre map[string]types.AttributeValue
		)
		if n.Key != nil {
			existing, found, err := s.FindByKey(ctx, *n.Key)
			if err != nil {
				return nil, nil, err
			}
			if found {
				id = string(existing)
				upserted = append(upserted, id)
				if pre, err = s.getItem(ctx, itemKey{PK: BuildNodePK(id), SK: metaSK}); err != nil {
					return nil, nil, err
				}
			}
		}
		fresh := id == ""
		if fresh {
			id = s.newID()
		}
		ids[n.ID] = graph.Identifier(id)

		node := nodeItem{
			PK:         BuildNodePK(id),
			SK:         metaSK,
			EntityType: entityNode,
			NodeID:     id,
			Labels:     n.Labels,
			Properties: n.Properties,
		}
		if n.Key != nil {
			node.KeyLabel, node.KeyValue = n.Key.Label, n.Key.Value
		}
		w, err := s.put(node, nil, node.PK, node.SK, pre)
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, w)

		if n.Key != nil && fresh {
			key := keyItem{PK: BuildKeyPK(n.Key.Label, n.Key.Value), SK: keySK, EntityType: entityKey, NodeID: id}
			cond := expression.Name(attrPK).AttributeNotExists()
			w, err := s.put(key, &cond, key.PK, key.SK, nil)
			if err != nil {
				return nil, nil, err
			}
			writes = append(writes, w)
		}
	}

	edges := make([]edgeItem, 0, len(batch.Edges))
	rewritten := make(map[itemKey]map[string]types.AttributeValue, len(batch.Edges))
	for _, e := range batch.Edges {
		edge := edgeItem{
			PK:         BuildNodePK(string(ids[e.From])),
			SK:         BuildEdgeSK(e.Type, e.Ordinal),
			EntityType: entityEdge,
			From:       string(ids[e.From]),
			To:         string(ids[e.To]),
			Type:       e.Type,
			Ordinal:    e.Ordinal,
		}
		rewritten[itemKey{PK: edge.PK, SK: edge.SK}] = nil
		edges = append(edges, edge)
	}

	// Outgoing edges of upserted nodes are replaced by the batch. Items the
	// batch rewrites are left to the Put, since a transaction may touch an
	// item only once.
	for _, id := range upserted {
		stale, err := s.edgeItems(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, item := range stale {
			k, err := keyOf(item)
			if err != nil {
				return nil, nil, err
			}
			if _, ok := rewritten[k]; ok {
				rewritten[k] = item
				continue
			}
			writes = append(writes, s.delete(k, item))
		}
	}

	for _, edge := range edges {
		w, err := s.put(edge, nil, edge.PK, edge.SK, rewritten[itemKey{PK: edge.PK, SK: edge.SK}])
		if err != nil {
			return nil, nil, err
		}
		writes = append(writes, w)
	}

	return writes, ids, nil
}

// put builds a Put of item. pre is the existing item it replaces, nil when
// the Put creates the item.
func (s *Store) put(item any, cond *expression.ConditionBuilder, pk, sk string, pre map[string]types.AttributeValue) (write, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return write{}, appErrors.NewStoreError("marshal item", err)
	}
	put := &types.Put{TableName: aws.String(s.tableName), Item: av}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return write{}, appErrors.NewStoreError("build condition", err)
		}
		put.ConditionExpression = expr.Condition()
		put.ExpressionAttributeNames = expr.Names()
		put.ExpressionAttributeValues = expr.Values()
	}
	w := write{item: types.TransactWriteItem{Put: put}, restore: pre}
	if pre == nil {
		w.undo = &itemKey{PK: pk, SK: sk}
	}
	return w, nil
}

func (s *Store) delete(k itemKey, pre map[string]types.AttributeValue) write {
	return write{
		item: types.TransactWriteItem{Delete: &types.Delete{
			TableName: aws.String(s.tableName),
			Key:       keyAttributes(k),
		}},
		restore: pre,
	}
}

func (s *Store) getItem(ctx context.Context, k itemKey) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyAttributes(k),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// edgeItems lists the outgoing edge items of a node.
func (s *Store) edgeItems(ctx context.Context, nodeID string) ([]map[string]types.AttributeValue, error) {
	keyCond := expression.Key(attrPK).Equal(expression.Value(BuildNodePK(nodeID))).
		And(expression.Key(attrSK).BeginsWith(edgePrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, appErrors.NewStoreError("build query", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var items []map[string]types.AttributeValue
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("query edges", err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func keyOf(item map[string]types.AttributeValue) (itemKey, error) {
	var k itemKey
	if err := attributevalue.UnmarshalMap(item, &k); err != nil {
		return itemKey{}, appErrors.NewStoreError("unmarshal key", err)
	}
	return k, nil
}

// compensate undoes the chunks that already committed: created items are
// deleted, then overwritten and deleted items are put back. It runs detached
// from ctx so a cancelled or expired call still rolls back.
func (s *Store) compensate(ctx context.Context, done []write) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	var (
		deletes  []types.WriteRequest
		restores []types.WriteRequest
	)
	for _, w := range done {
		if w.undo != nil {
			deletes = append(deletes, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(*w.undo)}})
		}
		if w.restore != nil {
			restores = append(restores, types.WriteRequest{PutRequest: &types.PutRequest{Item: w.restore}})
		}
	}

	if err := s.batchWrite(ctx, "compensate delete", deletes); err != nil {
		s.logger.Error("compensation incomplete", zap.Int("items", len(deletes)), zap.Error(err))
		return
	}
	if err := s.batchWrite(ctx, "compensate restore", restores); err != nil {
		s.logger.Error("compensation incomplete", zap.Int("items", len(restores)), zap.Error(err))
		return
	}
	s.logger.Warn("rolled back committed chunks",
		zap.Int("deleted", len(deletes)),
		zap.Int("restored", len(restores)))
}

// DeleteAll implements gateway.Backend.
func (s *Store) DeleteAll(ctx context.Context) error {
	expr, err := expression.NewBuilder().
		WithProjection(expression.NamesList(expression.Name(attrPK), expression.Name(attrSK))).
		Build()
	if err != nil {
		return appErrors.NewStoreError("build scan", err)
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		ProjectionExpression:     expr.Projection(),
		ExpressionAttributeNames: expr.Names(),
		ConsistentRead:           aws.Bool(true),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("scan", err)
		}
		var keys []itemKey
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &keys); err != nil {
			return appErrors.NewStoreError("unmarshal keys", err)
		}
		if err := s.batchDelete(ctx, keys); err != nil {
			return err
		}
		deleted += len(keys)
	}

	s.logger.Debug("table cleared", zap.Int("items", deleted))
	return nil
}


func (s *Store) batchDelete(ctx context.Context, keys []itemKey) error {
	requests := make([]types.WriteRequest, len(keys))
	for i, k := range keys {
		requests[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: keyAttributes(k)}}
	}
	return s.batchWrite(ctx, "batch delete", requests)
}

// batchWrite sends requests in BatchWriteItem-sized groups, resubmitting
// unprocessed items.
func (s *Store) batchWrite(ctx context.Context, operation string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(requests))

		pending := map[string][]types.WriteRequest{s.tableName: requests[start:end]}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == maxUnprocessed {
				return appErrors.NewTransientStoreError(operation,
					fmt.Errorf("%d items left unprocessed", len(pending[s.tableName])))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return classify(operation, err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// FindByKey implements gateway.Backend.
func (s *Store) FindByKey(ctx context.Context, key graph.BusinessKey) (graph.Identifier, bool, error) {
	item, err := s.getItem(ctx, itemKey{PK: BuildKeyPK(key.Label, key.Value), SK: keySK})
	if err != nil {
		return graph.NoIdentifier, false, err
	}
	if item == nil {
		return graph.NoIdentifier, false, nil
	}
	var k keyItem
	if err := attributevalue.UnmarshalMap(item, &k); err != nil {
		return graph.NoIdentifier, false, appErrors.NewStoreError("unmarshal key", err)
	}
	return graph.Identifier(k.NodeID), k.NodeID != "", nil
}

// Ping implements gateway.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)}); err != nil {
		return classify("describe table", err)
	}
	return nil
}

// Close implements gateway.Backend.
func (s *Store) Close(context.Context) error {
	return nil
}

func keyAttributes(k itemKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: k.PK},
		attrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

// classify marks throttling, conflicts and server faults as retryable.
func classify(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded", "ConditionalCheckFailed":
				return appErrors.NewTransientStoreError(operation, err)
			}
		}
		return appErrors.NewStoreError(operation, err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"RequestLimitExceeded",
			"ThrottlingException",
			"InternalServerError",
			"ServiceUnavailable",
			"TransactionConflictException",
			"TransactionInProgressException":
			return appErrors.NewTransientStoreError(operation, err)
		}
	}
	return appErrors.NewStoreError(operation, err)
}
