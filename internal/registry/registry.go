// Package registry answers "which identifier did this object get" after a
// successful store call.
package registry

import (
	"github.com/2lar/graphsync/internal/domain/graph"
	"github.com/2lar/graphsync/internal/mapping"
)

// SyncInfo pairs an object with its identifier. Found is false when the
// object was not part of the store call.
type SyncInfo struct {
	Object any
	ID     graph.Identifier
	Found  bool
}

// Registry is an immutable object to identifier table. It retains the mapped
// objects so their addresses stay unique for the registry's lifetime.
type Registry struct {
	ids        map[mapping.Ref]graph.Identifier
	retained   []any
	generation uint64
}

// New projects the resolver's placeholders through the store's placeholder
// to final id mapping. Placeholders missing from final are left out.
func New(resolver *mapping.Resolver, final map[graph.Identifier]graph.Identifier, generation uint64) *Registry {
	snapshot := resolver.Snapshot()
	ids := make(map[mapping.Ref]graph.Identifier, len(snapshot))
	for ref, placeholder := range snapshot {
		if id, ok := final[placeholder]; ok && !id.IsZero() {
			ids[ref] = id
		}
	}
	return &Registry{
		ids:        ids,
		retained:   resolver.Retained(),
		generation: generation,
	}
}

// Empty returns a registry that knows no objects.
func Empty(generation uint64) *Registry {
	return &Registry{ids: map[mapping.Ref]graph.Identifier{}, generation: generation}
}

// Lookup returns the identifier of obj.
func (r *Registry) Lookup(obj any) (graph.Identifier, bool) {
	ref, ok := mapping.RefOf(obj)
	if !ok {
		return graph.NoIdentifier, false
	}
	id, found := r.ids[ref]
	return id, found
}

// IDs returns one identifier per object, in input order. Unknown objects
// yield graph.NoIdentifier.
func (r *Registry) IDs(objects []any) []graph.Identifier {
	out := make([]graph.Identifier, len(objects))
	for i, obj := range objects {
		out[i], _ = r.Lookup(obj)
	}
	return out
}

// SyncInfos returns one SyncInfo per object, in input order.
func (r *Registry) SyncInfos(objects []any) []SyncInfo {
	out := make([]SyncInfo, len(objects))
	for i, obj := range objects {
		id, found := r.Lookup(obj)
		out[i] = SyncInfo{Object: obj, ID: id, Found: found}
	}
	return out
}

// Len returns the number of mapped objects.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Generation is the store generation the identifiers belong to.
func (r *Registry) Generation() uint64 {
	return r.generation
}
