package base

import (
	"math/rand"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testArena is a minimal heap arena for exercising the node protocols.
type testArena struct {
	mu    sync.Mutex
	nodes []*Node
	mus   []*sync.Mutex
}

func newTestArena() *testArena {
	return &testArena{
		nodes: []*Node{nil}, // ref 0 stays nil
		mus:   []*sync.Mutex{nil},
	}
}

func (a *testArena) Node(r Ref) *Node         { return a.nodes[r] }
func (a *testArena) Mutex(r Ref) *sync.Mutex  { return a.mus[r] }
func (a *testArena) Flush(unsafe.Pointer, uintptr) {}
func (a *testArena) Fence()                   {}

func (a *testArena) Alloc(level uint32) (Ref, *Node) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := new(Node)
	n.Init(level)
	a.nodes = append(a.nodes, n)
	a.mus = append(a.mus, new(sync.Mutex))
	return Ref(len(a.nodes) - 1), n
}

func newLeaf(t *testing.T, a *testArena) Ref {
	t.Helper()
	ref, _ := a.Alloc(0)
	return ref
}

func TestNodeLayout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uintptr(PageSize), unsafe.Sizeof(Node{}))
	assert.Equal(t, uintptr(HeaderSize), unsafe.Sizeof(header{}))
	assert.Equal(t, uintptr(RecordSize), unsafe.Sizeof(record{}))
	assert.Equal(t, (PageSize-HeaderSize)/RecordSize, Cardinality)
}

func TestNodeInit(t *testing.T) {
	t.Parallel()

	var n Node
	n.Init(3)
	assert.Equal(t, uint32(3), n.Level())
	assert.Equal(t, -1, n.LastIndex())
	assert.Equal(t, KeyMax, n.Highest())
	assert.Equal(t, NilRef, n.Sibling())
	for i := 0; i < Cardinality; i++ {
		assert.Equal(t, KeyMax, n.Key(i))
		assert.Equal(t, uint64(0), n.Value(i))
	}
}

func TestStoreAndSearch(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	for k := int64(1); k <= 10; k++ {
		_, split, ok := Store(a, ref, k, uint64(k*100), NilRef)
		require.True(t, ok)
		require.Nil(t, split)
	}

	n := a.Node(ref)
	for k := int64(1); k <= 10; k++ {
		val, next, found := n.LinearSearch(a, k)
		assert.True(t, found, "key %d", k)
		assert.Equal(t, uint64(k*100), val)
		assert.Equal(t, NilRef, next)
	}

	_, next, found := n.LinearSearch(a, 11)
	assert.False(t, found)
	assert.Equal(t, NilRef, next)
}

func TestStoreKeepsSortedOrder(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	keys := rand.Perm(Cardinality - 2)
	for _, k := range keys {
		_, split, ok := Store(a, ref, int64(k+1), uint64(k+1), NilRef)
		require.True(t, ok)
		require.Nil(t, split)
	}

	n := a.Node(ref)
	got, vals := n.CollectLive()
	require.Len(t, got, len(keys))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
	for i, k := range got {
		assert.Equal(t, uint64(k), vals[i])
	}
	// sentinel right after the last live entry
	assert.Equal(t, uint64(0), n.Value(n.LastIndex()+1))
}

func TestStoreDuplicateKeyOverwrites(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	for k := int64(1); k <= 5; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}
	before := a.Node(ref).Count()

	Store(a, ref, 3, 999, NilRef)

	n := a.Node(ref)
	assert.Equal(t, before, n.Count())
	val, _, found := n.LinearSearch(a, 3)
	require.True(t, found)
	assert.Equal(t, uint64(999), val)
}

func TestRemoveShift(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	for k := int64(1); k <= 10; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}

	removed, ok := Remove(a, ref, 5)
	require.True(t, ok)
	require.True(t, removed)

	n := a.Node(ref)
	assert.Equal(t, 8, n.LastIndex())

	keys, _ := n.CollectLive()
	assert.Equal(t, []int64{1, 2, 3, 4, 6, 7, 8, 9, 10}, keys)

	_, _, found := n.LinearSearch(a, 5)
	assert.False(t, found)
	for _, k := range keys {
		val, _, found := n.LinearSearch(a, k)
		assert.True(t, found, "key %d", k)
		assert.Equal(t, uint64(k), val)
	}
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 3; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}

	n := a.Node(ref)
	last := n.LastIndex()

	removed, ok := Remove(a, ref, 42)
	assert.True(t, ok)
	assert.False(t, removed)
	assert.Equal(t, last, n.LastIndex())
}

func TestOverflowSplits(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	// fill to capacity: Cardinality-1 entries fit before a split
	for k := int64(1); k < Cardinality; k++ {
		_, split, ok := Store(a, ref, k, uint64(k), NilRef)
		require.True(t, ok)
		require.Nil(t, split, "key %d must not split", k)
	}

	_, split, ok := Store(a, ref, int64(Cardinality), uint64(Cardinality), NilRef)
	require.True(t, ok)
	require.NotNil(t, split)

	num := Cardinality - 1
	m := (num + 1) / 2
	wantSplitKey := int64(m + 1) // keys are 1-based
	assert.Equal(t, wantSplitKey, split.SplitKey)
	assert.Equal(t, ref, split.Left)
	assert.Equal(t, uint32(0), split.Level)

	left := a.Node(ref)
	sib := a.Node(split.Sibling)
	require.Equal(t, split.Sibling, left.Sibling())

	// routing bounds: left covers [.., splitKey), sibling inherits the
	// old upper bound
	assert.Equal(t, wantSplitKey, left.Highest())
	assert.Equal(t, KeyMax, sib.Highest())

	// every key still reachable entering at the left node
	for k := int64(1); k <= int64(Cardinality); k++ {
		n := left
		for {
			val, next, found := n.LinearSearch(a, k)
			if found {
				assert.Equal(t, uint64(k), val, "key %d", k)
				break
			}
			require.NotEqual(t, NilRef, next, "key %d lost", k)
			n = a.Node(next)
		}
	}
}

func TestStoreChasesSibling(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)

	for k := int64(1); k <= Cardinality; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}
	left := a.Node(ref)
	sibRef := left.Sibling()
	require.NotEqual(t, NilRef, sibRef)

	// a store entering at the stale left node must land in the sibling
	target, split, ok := Store(a, ref, int64(Cardinality)+10, 12345, NilRef)
	require.True(t, ok)
	require.Nil(t, split)
	assert.Equal(t, sibRef, target)

	val, _, found := a.Node(sibRef).LinearSearch(a, int64(Cardinality)+10)
	require.True(t, found)
	assert.Equal(t, uint64(12345), val)
}

func TestStoreOnRetiredNode(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	a.Node(ref).MarkRetired(a)

	_, _, ok := Store(a, ref, 1, 1, NilRef)
	assert.False(t, ok)

	_, ok = Remove(a, ref, 1)
	assert.False(t, ok)
}

// TestReaderResolvesInsertTransient reproduces the mid-shift state an
// insert leaves between the value copy and the key write: slot i+1 holds
// slot i's value under a stale key. The reader must pick slot i.
func TestReaderResolvesInsertTransient(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 6; k++ {
		Store(a, ref, k*10, uint64(k*10), NilRef)
	}
	n := a.Node(ref)

	// simulate a shift of slot 3 into slot 4 that has copied the value
	// but not yet the key
	n.setValue(4, n.value(3))

	for _, k := range []int64{10, 20, 30, 40} {
		val, _, found := n.LinearSearch(a, k)
		require.True(t, found, "key %d", k)
		assert.Equal(t, uint64(k), val)
	}

	// finish the shift so the node is consistent again
	n.setKey(4, n.key(3))
	val, _, found := n.LinearSearch(a, 40)
	require.True(t, found)
	assert.Equal(t, uint64(40), val)
}

// TestReaderResolvesDeleteTransient reproduces the delete linearization
// state: the target slot's value duplicates its predecessor.
func TestReaderResolvesDeleteTransient(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 5; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}
	n := a.Node(ref)

	// delete of key 3 has published the duplicate but not shifted yet
	n.bumpSwitchCounter(1)
	n.setValue(2, n.value(1))

	_, _, found := n.LinearSearch(a, 3)
	assert.False(t, found, "mid-delete key must read as absent")
	for _, k := range []int64{1, 2, 4, 5} {
		val, _, found := n.LinearSearch(a, k)
		require.True(t, found, "key %d", k)
		assert.Equal(t, uint64(k), val)
	}
}

func TestCountWithBackwardParity(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 7; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}
	n := a.Node(ref)
	require.Equal(t, 7, n.Count())

	n.bumpSwitchCounter(1) // odd: scan right-to-left
	assert.Equal(t, 7, n.Count())
}

func TestRangeScanSingleNode(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 10; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}

	out := make([]uint64, 16)
	got := RangeScan(a, ref, 2, 7, out)
	assert.Equal(t, []uint64{3, 4, 5, 6}, out[:got])

	// bounds are strict
	got = RangeScan(a, ref, 0, 2, out)
	assert.Equal(t, []uint64{1}, out[:got])

	// backward parity yields the same ascending result
	a.Node(ref).bumpSwitchCounter(1)
	got = RangeScan(a, ref, 2, 7, out)
	assert.Equal(t, []uint64{3, 4, 5, 6}, out[:got])
}

func TestRangeScanAcrossChain(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	ref := newLeaf(t, a)
	for k := int64(1); k <= 2*Cardinality; k++ {
		Store(a, ref, k, uint64(k), NilRef)
	}
	require.NotEqual(t, NilRef, a.Node(ref).Sibling())

	out := make([]uint64, 4*Cardinality)
	got := RangeScan(a, ref, 0, int64(2*Cardinality)+1, out)
	require.Equal(t, 2*Cardinality, got)
	for i := 0; i < got; i++ {
		assert.Equal(t, uint64(i+1), out[i])
	}
}

func TestNewRoot(t *testing.T) {
	t.Parallel()

	a := newTestArena()
	leftRef := newLeaf(t, a)
	rightRef, _ := a.Alloc(0)
	Store(a, leftRef, 1, 1, NilRef)
	Store(a, rightRef, 100, 100, NilRef)

	rootRef := NewRoot(a, leftRef, 100, rightRef, 1)
	root := a.Node(rootRef)

	assert.Equal(t, uint32(1), root.Level())
	assert.Equal(t, leftRef, root.Leftmost())
	assert.Equal(t, int64(100), root.Key(0))
	assert.Equal(t, uint64(rightRef), root.Value(0))
	assert.Equal(t, 0, root.LastIndex())

	_, next, _ := root.LinearSearch(a, 1)
	assert.Equal(t, leftRef, next)
	_, next, _ = root.LinearSearch(a, 100)
	assert.Equal(t, rightRef, next)
	_, next, _ = root.LinearSearch(a, 500)
	assert.Equal(t, rightRef, next)
}
