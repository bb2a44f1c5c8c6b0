// Package memory is an in-process graph store. Each Apply stages its writes
// on a copy of the current state and swaps it in only when every item
// succeeded, so a failed batch leaves no trace.
package memory

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/2lar/graphsync/internal/domain/graph"
	appErrors "github.com/2lar/graphsync/pkg/errors"
)

// Name is the backend name reported in logs and metrics.
const Name = "memory"

type state struct {
	nodes map[graph.Identifier]graph.Node
	edges []graph.Edge
	keys  map[graph.BusinessKey]graph.Identifier
}

func newState() *state {
	return &state{
		nodes: make(map[graph.Identifier]graph.Node),
		keys:  make(map[graph.BusinessKey]graph.Identifier),
	}
}

func (s *state) clone() *state {
	return &state{
		nodes: maps.Clone(s.nodes),
		edges: slices.Clone(s.edges),
		keys:  maps.Clone(s.keys),
	}
}

// Store is a transactional in-memory graph.
type Store struct {
	mu      sync.Mutex
	current *state
	nextID  int64

	latency    time.Duration
	failAfter  int
	failErr    error
	failTimes  int
	applyCalls int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{current: newState(), failAfter: -1}
}

// Name implements gateway.Backend.
func (s *Store) Name() string {
	return Name
}

// FailAfter makes the next Apply return err after k items were staged.
func (s *Store) FailAfter(k int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter, s.failErr = k, err
}

// FailTimes makes the next n Apply or DeleteAll calls return err before
// touching any state.
func (s *Store) FailTimes(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTimes, s.failErr = n, err
}

// SetLatency delays every write by d, or until the context is done.
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// ApplyCalls returns how many times Apply was invoked.
func (s *Store) ApplyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCalls
}

// Apply implements gateway.Backend.
func (s *Store) Apply(ctx context.Context, batch graph.Batch) (map[graph.Identifier]graph.Identifier, error) {
	s.mu.Lock()
	s.applyCalls++
	latency := s.latency
	s.mu.Unlock()

	if err := sleep(ctx, latency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFault(); err != nil {
		return nil, err
	}

	staged := s.current.clone()
	nextID := s.nextID
	ids := make(map[graph.Identifier]graph.Identifier, len(batch.Nodes))
	written := 0

	failAfter, failErr := s.failAfter, s.failErr
	s.failAfter = -1
	checkFault := func() error {
		if failAfter >= 0 && written >= failAfter {
			return failErr
		}
		return nil
	}

	for _, n := range batch.Nodes {
		if err := checkFault(); err != nil {
			return nil, err
		}
		var id graph.Identifier
		if n.Key != nil {
			id = staged.keys[*n.Key]
		}
		if id.IsZero() {
			nextID++
			id = graph.Identifier(strconv.FormatInt(nextID, 10))
		} else {
			staged.edges = slices.DeleteFunc(staged.edges, func(e graph.Edge) bool { return e.From == id })
		}
		stored := graph.Node{
			ID:         id,
			Labels:     slices.Clone(n.Labels),
			Properties: maps.Clone(n.Properties),
		}
		if n.Key != nil {
			key := *n.Key
			stored.Key = &key
			staged.keys[key] = id
		}
		staged.nodes[id] = stored
		ids[n.ID] = id
		written++
	}

	for _, e := range batch.Edges {
		if err := checkFault(); err != nil {
			return nil, err
		}
		from, to := ids[e.From], ids[e.To]
		if from.IsZero() || to.IsZero() {
			return nil, appErrors.NewValidationError("edge " + e.String() + " references a node outside the batch")
		}
		stored := graph.Edge{From: from, To: to, Type: e.Type}
		if e.Ordinal != nil {
			ordinal := *e.Ordinal
			stored.Ordinal = &ordinal
		}
		staged.edges = append(staged.edges, stored)
		written++
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.current = staged
	s.nextID = nextID
	return ids, nil
}

// DeleteAll implements gateway.Backend. Identifiers are not reused afterwards.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if err := sleep(ctx, latency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFault(); err != nil {
		return err
	}
	s.current = newState()
	return nil
}

// FindByKey implements gateway.Backend.
func (s *Store) FindByKey(_ context.Context, key graph.BusinessKey) (graph.Identifier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current.keys[key]
	return id, ok, nil
}

// Ping implements gateway.Backend.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements gateway.Backend.
func (s *Store) Close(context.Context) error {
	return nil
}

// Node returns a stored node.
func (s *Store) Node(id graph.Identifier) (graph.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.current.nodes[id]
	return n, ok
}

// Nodes returns all stored nodes ordered by identifier.
func (s *Store) Nodes() []graph.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]graph.Node, 0, len(s.current.nodes))
	for _, n := range s.current.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b graph.Node) int {
		x, _ := strconv.ParseInt(string(a.ID), 10, 64)
		y, _ := strconv.ParseInt(string(b.ID), 10, 64)
		return int(x - y)
	})
	return out
}

// Edges returns all stored edges in insertion order.
func (s *Store) Edges() []graph.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.current.edges)
}

// NodeCount returns the number of stored nodes.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current.nodes)
}

// EdgeCount returns the number of stored edges.
func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current.edges)
}

func (s *Store) takeFault() error {
	if s.failTimes <= 0 {
		return nil
	}
	s.failTimes--
	return s.failErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
