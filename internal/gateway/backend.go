// Package gateway is the only path from mapped batches to a graph store.
package gateway

import (
	"context"

	"github.com/2lar/graphsync/internal/domain/graph"
)

// Backend is a transactional graph store.
//
// Apply must be atomic: either every node and edge of the batch is
// committed, or none is. A node carrying a business key that already exists
// under the same key updates that node in place, keeps its identifier, and
// has its outgoing edges replaced by the batch's. The returned map holds
// one final identifier per placeholder in batch.Nodes.
//
// Errors that may succeed on retry should be *errors.AppError values with
// Retryable set.
type Backend interface {
	Name() string
	Apply(ctx context.Context, batch graph.Batch) (map[graph.Identifier]graph.Identifier, error)
	DeleteAll(ctx context.Context) error
	FindByKey(ctx context.Context, key graph.BusinessKey) (graph.Identifier, bool, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
