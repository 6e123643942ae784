package pool

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fastfair/internal/base"
	"fastfair/internal/pmem"
)

func TestVolatileAllocAndResolve(t *testing.T) {
	t.Parallel()

	v := NewVolatile(pmem.New(pmem.Config{}))

	ref, n := v.Alloc(2)
	require.NotEqual(t, base.NilRef, ref)
	assert.Equal(t, uint32(2), n.Level())
	assert.Same(t, n, v.Node(ref))
	assert.NotNil(t, v.Mutex(ref))

	ref2, n2 := v.Alloc(0)
	assert.NotEqual(t, ref, ref2)
	assert.NotSame(t, n, n2)
}

func TestVolatileNodesCacheLineAligned(t *testing.T) {
	t.Parallel()

	v := NewVolatile(pmem.New(pmem.Config{}))
	for i := 0; i < 100; i++ {
		_, n := v.Alloc(0)
		assert.Zero(t, uintptr(unsafe.Pointer(n))%base.CacheLineSize)
	}
}

func TestVolatileGrowsAcrossSlabs(t *testing.T) {
	t.Parallel()

	v := NewVolatile(pmem.New(pmem.Config{}))
	refs := make([]base.Ref, 0, 3*slabSize)
	for i := 0; i < 3*slabSize; i++ {
		ref, n := v.Alloc(0)
		n.Init(0)
		refs = append(refs, ref)
	}
	// earlier nodes stay resolvable after growth
	for _, ref := range refs {
		assert.Equal(t, -1, v.Node(ref).LastIndex())
	}
}

func TestVolatileConcurrentAlloc(t *testing.T) {
	t.Parallel()

	v := NewVolatile(pmem.New(pmem.Config{}))

	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	refs := make([][]base.Ref, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ref, _ := v.Alloc(0)
				refs[w] = append(refs[w], ref)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[base.Ref]bool)
	for _, rs := range refs {
		for _, r := range rs {
			require.False(t, seen[r], "duplicate ref %d", r)
			seen[r] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestVolatileRootAnchor(t *testing.T) {
	t.Parallel()

	v := NewVolatile(pmem.New(pmem.Config{}))
	assert.Equal(t, base.NilRef, v.RootRef())

	ref, _ := v.Alloc(0)
	v.PersistRoot(ref)
	assert.Equal(t, ref, v.RootRef())
}
