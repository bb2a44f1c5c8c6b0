package mapping

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2lar/graphsync/internal/domain/graph"
)

type box struct {
	Label string
}

func TestResolver_SameObjectSameIdentifier(t *testing.T) {
	r := NewResolver()
	b := &box{Label: "a"}

	id1, isNew1, ok1 := r.Resolve(b)
	id2, isNew2, ok2 := r.Resolve(b)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.True(t, isNew1)
	assert.False(t, isNew2)
	assert.Equal(t, id1, id2)
	assert.True(t, id1.IsPlaceholder())
	assert.Equal(t, 1, r.Len())
}

func TestResolver_EqualValuesAreDistinct(t *testing.T) {
	r := NewResolver()

	id1, _, _ := r.Resolve(&box{Label: "same"})
	id2, _, _ := r.Resolve(&box{Label: "same"})

	assert.NotEqual(t, id1, id2)
}

func TestResolver_NoReferenceIdentity(t *testing.T) {
	r := NewResolver()
	var nilBox *box

	for _, v := range []any{nil, box{}, 42, nilBox} {
		id, isNew, ok := r.Resolve(v)
		assert.False(t, ok, "%#v", v)
		assert.False(t, isNew)
		assert.Equal(t, graph.NoIdentifier, id)
	}
	assert.Zero(t, r.Len())
}

func TestResolver_LookupAndSnapshot(t *testing.T) {
	r := NewResolver()
	a, b := &box{}, &box{}
	idA, _, _ := r.Resolve(a)

	got, found := r.Lookup(a)
	assert.True(t, found)
	assert.Equal(t, idA, got)

	_, found = r.Lookup(b)
	assert.False(t, found)

	snap := r.Snapshot()
	ref, ok := RefOf(a)
	require.True(t, ok)
	assert.Equal(t, idA, snap[ref])
	assert.Equal(t, []any{a}, r.Retained())
}

func TestResolver_ConcurrentResolve(t *testing.T) {
	r := NewResolver()
	objs := make([]*box, 100)
	for i := range objs {
		objs[i] = &box{}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, o := range objs {
				if _, isNew, _ := r.Resolve(o); isNew {
					mu.Lock()
					newCount++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(objs), newCount)
	assert.Equal(t, len(objs), r.Len())
}
