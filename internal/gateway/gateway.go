package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	"github.com/2lar/graphsync/internal/infrastructure/observability"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Config bounds and hardens backend access.
type Config struct {
	// Timeout bounds queueing for the writer slot plus the write itself.
	// Zero means the caller's context is the only bound.
	Timeout time.Duration
	Retry   RetryConfig
	Breaker BreakerConfig
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryConfig(),
		Breaker: DefaultBreakerConfig(),
	}
}

// Commit is the outcome of a successful ApplyBatch.
type Commit struct {
	// IDs maps every placeholder of the batch to its final identifier.
	IDs map[graph.Identifier]graph.Identifier
	// Generation is the store generation the identifiers belong to.
	Generation uint64
}

// Gateway serialises writes to a Backend. At most one ApplyBatch or Clear
// runs at a time; reads go straight through.
type Gateway struct {
	backend    Backend
	name       string
	cfg        Config
	logger     *zap.Logger
	metrics    *observability.Collector
	breaker    *gobreaker.CircuitBreaker
	writer     chan struct{}
	generation atomic.Uint64
}

// New creates a gateway over backend. metrics may be nil.
func New(backend Backend, cfg Config, logger *zap.Logger, metrics *observability.Collector) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		backend: backend,
		name:    backend.Name(),
		cfg:     cfg,
		logger:  logger.Named("gateway").With(zap.String("backend", backend.Name())),
		metrics: metrics,
		writer:  make(chan struct{}, 1),
	}
	g.breaker = g.newBreaker(cfg.Breaker)
	return g
}

// BackendName returns the name of the wrapped backend.
func (g *Gateway) BackendName() string {
	return g.name
}

// Generation returns the current store generation. It changes only when a
// Clear succeeds.
func (g *Gateway) Generation() uint64 {
	return g.generation.Load()
}

// CodeIncompleteMapping marks an ApplyBatch error raised after the backend
// committed but did not return a final identifier for every node.
const CodeIncompleteMapping = "INCOMPLETE_MAPPING"

// ApplyBatch validates batch and commits it atomically. On any error the
// store is unchanged, except for CodeIncompleteMapping: the backend broke
// its contract after committing, so the batch stays written and the error
// says so in its details.
func (g *Gateway) ApplyBatch(ctx context.Context, batch graph.Batch) (commit *Commit, err error) {
	ctx, span := observability.Tracer().Start(ctx, "gateway.ApplyBatch", trace.WithAttributes(
		attribute.String("graphsync.backend", g.name),
		attribute.Int("graphsync.nodes", len(batch.Nodes)),
		attribute.Int("graphsync.edges", len(batch.Edges)),
	))
	defer func() { observability.EndSpan(span, err) }()

	if err := ValidateBatch(batch); err != nil {
		g.logger.Debug("batch rejected", zap.Error(err))
		return nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	release, err := g.acquire(ctx, "apply")
	if err != nil {
		return nil, err
	}
	defer release()

	if batch.IsEmpty() {
		return &Commit{IDs: map[graph.Identifier]graph.Identifier{}, Generation: g.generation.Load()}, nil
	}

	var ids map[graph.Identifier]graph.Identifier
	err = g.executeWithRetry(ctx, "apply", func(ctx context.Context) error {
		var applyErr error
		ids, applyErr = g.backend.Apply(ctx, batch)
		return applyErr
	})
	if err != nil {
		g.logger.Warn("batch apply failed",
			zap.Int("nodes", len(batch.Nodes)),
			zap.Int("edges", len(batch.Edges)),
			zap.Error(err))
		return nil, err
	}
	if err := verifyMapping(batch, ids); err != nil {
		g.logger.Error("store committed the batch but returned an incomplete mapping",
			zap.Int("nodes", len(batch.Nodes)),
			zap.Error(err))
		return nil, appErrors.NewInternalError("store returned an incomplete identifier mapping").
			WithCode(CodeIncompleteMapping).
			WithDetails(map[string]interface{}{"backend": g.name, "committed": true}).
			WithCause(err)
	}

	g.metrics.RecordWritten(len(batch.Nodes), len(batch.Edges))
	g.logger.Debug("batch committed",
		zap.Int("nodes", len(batch.Nodes)),
		zap.Int("edges", len(batch.Edges)))

	return &Commit{IDs: ids, Generation: g.generation.Load()}, nil
}

// Clear removes every node and edge. Clearing an empty store succeeds.
// Identifiers handed out before a successful Clear are invalid afterwards.
func (g *Gateway) Clear(ctx context.Context) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "gateway.Clear",
		trace.WithAttributes(attribute.String("graphsync.backend", g.name)))
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	release, err := g.acquire(ctx, "clear")
	if err != nil {
		return err
	}
	defer release()

	if err := g.executeWithRetry(ctx, "clear", g.backend.DeleteAll); err != nil {
		g.logger.Warn("clear failed", zap.Error(err))
		return err
	}

	gen := g.generation.Add(1)
	g.logger.Info("store cleared", zap.Uint64("generation", gen))
	return nil
}

// FindByKey looks up the node holding key.
func (g *Gateway) FindByKey(ctx context.Context, key graph.BusinessKey) (graph.Identifier, bool, error) {
	if key.Label == "" || key.Value == "" {
		return graph.NoIdentifier, false, appErrors.NewValidationError("business key needs a label and a value")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var (
		id    graph.Identifier
		found bool
	)
	err := g.executeWithRetry(ctx, "find_by_key", func(ctx context.Context) error {
		var findErr error
		id, found, findErr = g.backend.FindByKey(ctx, key)
		return findErr
	})
	if err != nil {
		return graph.NoIdentifier, false, err
	}
	return id, found, nil
}

// Ping checks backend connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	return g.executeWithRetry(ctx, "ping", g.backend.Ping)
}

// Close releases the backend.
func (g *Gateway) Close(ctx context.Context) error {
	return g.backend.Close(ctx)
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

// acquire waits for the single writer slot.
func (g *Gateway) acquire(ctx context.Context, operation string) (func(), error) {
	select {
	case g.writer <- struct{}{}:
		return func() { <-g.writer }, nil
	case <-ctx.Done():
		g.logger.Warn("gave up waiting for writer slot", zap.String("operation", operation))
		return nil, appErrors.NewTimeoutError(operation).WithCause(ctx.Err())
	}
}
