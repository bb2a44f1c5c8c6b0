package mapping

import (
	"reflect"
	"sync"

	"github.com/2lar/graphsync/internal/domain/graph"
)

// Ref is the identity of a domain object: its dynamic pointer type and address.
// Two structurally equal objects at different addresses have different Refs.
type Ref struct {
	typ  reflect.Type
	addr uintptr
}

// RefOf returns the identity of obj. ok is false for values without
// reference identity (nil, non-pointers).
func RefOf(obj any) (Ref, bool) {
	if obj == nil {
		return Ref{}, false
	}
	return refOfValue(reflect.ValueOf(obj))
}

func refOfValue(v reflect.Value) (Ref, bool) {
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() {
		return Ref{}, false
	}
	return Ref{typ: v.Type(), addr: v.Pointer()}, true
}

// Resolver assigns each distinct object one placeholder Identifier for the
// duration of a single store call. It keeps every resolved object reachable
// so an address cannot be recycled while its Ref is still in the table.
type Resolver struct {
	mu       sync.Mutex
	ids      map[Ref]graph.Identifier
	retained []any
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{ids: make(map[Ref]graph.Identifier)}
}

// Resolve returns the placeholder for obj, allocating one on first encounter.
// isNew is true exactly once per object. ok is false when obj has no
// reference identity.
func (r *Resolver) Resolve(obj any) (id graph.Identifier, isNew bool, ok bool) {
	if obj == nil {
		return graph.NoIdentifier, false, false
	}
	return r.resolveValue(reflect.ValueOf(obj))
}

func (r *Resolver) resolveValue(v reflect.Value) (graph.Identifier, bool, bool) {
	ref, ok := refOfValue(v)
	if !ok {
		return graph.NoIdentifier, false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, found := r.ids[ref]; found {
		return id, false, true
	}
	id := graph.Placeholder(len(r.ids))
	r.ids[ref] = id
	if v.CanInterface() {
		r.retained = append(r.retained, v.Interface())
	}
	return id, true, true
}

// Lookup returns the placeholder already assigned to obj.
func (r *Resolver) Lookup(obj any) (graph.Identifier, bool) {
	ref, ok := RefOf(obj)
	if !ok {
		return graph.NoIdentifier, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id, found := r.ids[ref]
	return id, found
}

// Len returns the number of resolved objects.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Snapshot returns a copy of the Ref to placeholder table.
func (r *Resolver) Snapshot() map[Ref]graph.Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Ref]graph.Identifier, len(r.ids))
	for ref, id := range r.ids {
		out[ref] = id
	}
	return out
}

// Retained returns the resolved objects in resolution order.
func (r *Resolver) Retained() []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]any, len(r.retained))
	copy(out, r.retained)
	return out
}
