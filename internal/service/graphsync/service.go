// Package graphsync is the client-facing API: store object graphs, clear the
// store, and ask which identifier each object received.
package graphsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/2lar/graphsync/internal/domain/graph"
	"github.com/2lar/graphsync/internal/gateway"
	"github.com/2lar/graphsync/internal/infrastructure/messaging"
	"github.com/2lar/graphsync/internal/infrastructure/observability"
	"github.com/2lar/graphsync/internal/mapping"
	"github.com/2lar/graphsync/internal/registry"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Handle is the result of one committed store call.
type Handle struct {
	callID      string
	registry    *registry.Registry
	roots       []graph.Identifier
	nodes       int
	edges       int
	committedAt time.Time
}

// CallID identifies the store call in logs and events.
func (h *Handle) CallID() string { return h.callID }

// Roots returns the final identifiers of the roots, in the order given.
func (h *Handle) Roots() []graph.Identifier {
	out := make([]graph.Identifier, len(h.roots))
	copy(out, h.roots)
	return out
}

// NodeCount is the number of nodes written.
func (h *Handle) NodeCount() int { return h.nodes }

// EdgeCount is the number of edges written.
func (h *Handle) EdgeCount() int { return h.edges }

// Generation is the store generation the identifiers belong to.
func (h *Handle) Generation() uint64 { return h.registry.Generation() }

// CommittedAt is when the batch was committed.
func (h *Handle) CommittedAt() time.Time { return h.committedAt }

// Service coordinates walker, gateway and registry.
type Service struct {
	walker    *mapping.Walker
	gateway   *gateway.Gateway
	publisher messaging.Publisher
	logger    *zap.Logger
	metrics   *observability.Collector
	observer  PhaseObserver
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPhaseObserver registers a hook for store-call phase changes.
func WithPhaseObserver(observer PhaseObserver) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the service. publisher and metrics may be nil.
func NewService(
	walker *mapping.Walker,
	gw *gateway.Gateway,
	publisher messaging.Publisher,
	logger *zap.Logger,
	metrics *observability.Collector,
	opts ...Option,
) *Service {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		walker:    walker,
		gateway:   gw,
		publisher: publisher,
		logger:    logger.Named("graphsync"),
		metrics:   metrics,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store maps every object reachable from roots and commits the result as
// one atomic batch. On failure the store is unchanged and the returned error
// is an *errors.MultiError listing every problem found, unless the walker was
// built with mapping.WithMaxErrors, in which case errors past the limit are
// only counted in MultiError.Dropped.
func (s *Service) Store(ctx context.Context, roots ...any) (h *Handle, err error) {
	call := &storeCall{id: uuid.NewString(), observer: s.observer}
	logger := s.logger.With(zap.String("callID", call.id))

	ctx, span := observability.Tracer().Start(ctx, "graphsync.Store", trace.WithAttributes(
		attribute.String("graphsync.call_id", call.id),
		attribute.Int("graphsync.roots", len(roots)),
	))
	defer func() { observability.EndSpan(span, err) }()

	fail := func(cause error) (*Handle, error) {
		if tErr := call.transition(PhaseFailed); tErr != nil {
			logger.Error("phase transition rejected", zap.Error(tErr))
		}
		s.metrics.RecordStoreCall(PhaseFailed.String())
		list := appErrors.AsList(cause)
		logger.Warn("store failed", zap.Error(list))
		return nil, list
	}

	if err := call.transition(PhaseWalking); err != nil {
		return nil, appErrors.AsList(appErrors.NewInternalError(err.Error()))
	}
	result, err := s.walker.Walk(ctx, roots)
	if err != nil {
		return fail(err)
	}

	if err := call.transition(PhaseBatched); err != nil {
		return fail(appErrors.NewInternalError(err.Error()))
	}
	span.SetAttributes(
		attribute.Int("graphsync.nodes", len(result.Batch.Nodes)),
		attribute.Int("graphsync.edges", len(result.Batch.Edges)),
	)

	commit, err := s.gateway.ApplyBatch(ctx, result.Batch)
	if err != nil {
		return fail(err)
	}

	if err := call.transition(PhaseCommitted); err != nil {
		return fail(appErrors.NewInternalError(err.Error()))
	}
	s.metrics.RecordStoreCall(PhaseCommitted.String())

	rootIDs := make([]graph.Identifier, len(result.Roots))
	for i, placeholder := range result.Roots {
		rootIDs[i] = commit.IDs[placeholder]
	}
	h = &Handle{
		callID:      call.id,
		registry:    registry.New(result.Resolver, commit.IDs, commit.Generation),
		roots:       rootIDs,
		nodes:       len(result.Batch.Nodes),
		edges:       len(result.Batch.Edges),
		committedAt: s.now(),
	}

	logger.Info("graph stored",
		zap.Int("nodes", h.nodes),
		zap.Int("edges", h.edges),
		zap.Uint64("generation", commit.Generation))

	rootNames := make([]string, len(rootIDs))
	for i, id := range rootIDs {
		rootNames[i] = id.String()
	}
	s.publish(ctx, logger, messaging.Event{
		Type:       messaging.EventGraphStored,
		CallID:     call.id,
		Backend:    s.gateway.BackendName(),
		Generation: commit.Generation,
		Nodes:      h.nodes,
		Edges:      h.edges,
		Roots:      rootNames,
		OccurredAt: h.committedAt,
	})

	return h, nil
}

// ClearAll removes every node and edge. Handles obtained earlier resolve
// every object as absent afterwards.
func (s *Service) ClearAll(ctx context.Context) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "graphsync.ClearAll")
	defer func() { observability.EndSpan(span, err) }()

	if err := s.gateway.Clear(ctx); err != nil {
		return err
	}

	s.publish(ctx, s.logger, messaging.Event{
		Type:       messaging.EventGraphCleared,
		Backend:    s.gateway.BackendName(),
		Generation: s.gateway.Generation(),
		OccurredAt: s.now(),
	})
	return nil
}

// ResolveIDs returns one identifier per object, in input order. Objects the
// handle's store call did not reach, and every object of a handle made stale
// by ClearAll, yield graph.NoIdentifier.
func (s *Service) ResolveIDs(h *Handle, objects ...any) []graph.Identifier {
	if !s.current(h) {
		return make([]graph.Identifier, len(objects))
	}
	return h.registry.IDs(objects)
}

// SyncInfos is ResolveIDs with the object and a found flag alongside.
func (s *Service) SyncInfos(h *Handle, objects ...any) []registry.SyncInfo {
	if !s.current(h) {
		return registry.Empty(0).SyncInfos(objects)
	}
	return h.registry.SyncInfos(objects)
}

// FindByKey looks up a node by its label-scoped business key.
func (s *Service) FindByKey(ctx context.Context, label, key string) (graph.Identifier, bool, error) {
	return s.gateway.FindByKey(ctx, graph.BusinessKey{Label: label, Value: key})
}

// Repopulate clears the store, stores roots, and returns the identifiers of
// the roots.
func (s *Service) Repopulate(ctx context.Context, roots ...any) (*Handle, []graph.Identifier, error) {
	if err := s.ClearAll(ctx); err != nil {
		return nil, nil, appErrors.AsList(appErrors.Wrap(err, "repopulate"))
	}
	h, err := s.Store(ctx, roots...)
	if err != nil {
		return nil, nil, err
	}
	return h, s.ResolveIDs(h, roots...), nil
}

func (s *Service) current(h *Handle) bool {
	return h != nil && h.registry != nil && h.registry.Generation() == s.gateway.Generation()
}

func (s *Service) publish(ctx context.Context, logger *zap.Logger, event messaging.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Warn("event publish failed",
			zap.String("eventType", event.Type),
			zap.Error(err))
	}
}
