package fastfair

import (
	"sync/atomic"
	"unsafe"

	"fastfair/internal/base"
)

// BTree is the FAST+FAIR tree: an ordered int64 -> uint64 index whose
// in-place shift and split protocols survive power loss without
// copy-on-write or logging, and whose readers never lock.
//
// Values are opaque handles; zero is reserved as the empty-slot sentinel.
type BTree struct {
	arena  base.RootArena
	root   atomic.Uint64
	height atomic.Int64
	log    Logger
}

// newBTree adopts the pool's anchored root, or allocates and anchors an
// empty leaf root. The root is never nil.
func newBTree(a base.RootArena, log Logger) *BTree {
	t := &BTree{arena: a, log: log}

	if ref := a.RootRef(); ref != base.NilRef {
		t.root.Store(uint64(ref))
		t.height.Store(int64(a.Node(ref).Level()) + 1)
		return t
	}

	ref, _ := a.Alloc(0)
	t.root.Store(uint64(ref))
	t.height.Store(1)
	a.PersistRoot(ref)
	return t
}

// Height returns the number of levels, 1 for a lone leaf root.
func (t *BTree) Height() int {
	return int(t.height.Load())
}

// Insert stores (key, value), splitting on overflow. Inserting an
// existing key overwrites its value in place. The final 8-byte value
// store is the linearization point.
func (t *BTree) Insert(key int64, value uint64) {
	for {
		ref := t.descendToLeaf(key)
		_, split, ok := base.Store(t.arena, ref, key, value, base.NilRef)
		if !ok {
			// target retired by a concurrent merge
			continue
		}
		if split != nil {
			t.routeSplit(split)
		}
		return
	}
}

// Search returns the value stored at key. Lock-free; concurrent shifts
// are detected through each node's switch counter and retried locally.
func (t *BTree) Search(key int64) (uint64, bool) {
	n := t.arena.Node(base.Ref(t.root.Load()))
	for !n.IsLeaf() {
		_, next, _ := n.LinearSearch(t.arena, key)
		n = t.arena.Node(next)
	}
	for {
		val, next, found := n.LinearSearch(t.arena, key)
		if found {
			return val, true
		}
		if next == base.NilRef {
			t.log.Info("search miss", "key", key)
			return 0, false
		}
		n = t.arena.Node(next)
	}
}

// Delete removes key; absent keys are a silent no-op.
func (t *BTree) Delete(key int64) {
	for {
		ref := t.descendToLeaf(key)
		if _, ok := base.Remove(t.arena, ref, key); ok {
			return
		}
	}
}

// Scan writes values whose key lies strictly between min and max into
// out, ascending, walking the leaf sibling chain. Returns the count
// written; stops early when out fills.
func (t *BTree) Scan(min, max int64, out []uint64) int {
	ref := t.descendToLeaf(min)
	return base.RangeScan(t.arena, ref, min, max, out)
}

// walkLeaves visits every live pair in ascending key order, starting at
// the leftmost leaf and following the sibling chain. fn returning false
// stops the walk.
func (t *BTree) walkLeaves(fn func(key int64, value uint64) bool) {
	ref := t.descendToLeaf(base.KeyMin)
	for ref != base.NilRef {
		n := t.arena.Node(ref)
		keys, vals := n.CollectLive()
		for i := range keys {
			if !fn(keys[i], vals[i]) {
				return
			}
		}
		ref = n.Sibling()
	}
}

func (t *BTree) descendToLeaf(key int64) base.Ref {
	ref := base.Ref(t.root.Load())
	n := t.arena.Node(ref)
	for !n.IsLeaf() {
		_, next, _ := n.LinearSearch(t.arena, key)
		ref = next
		n = t.arena.Node(ref)
	}
	return ref
}

// routeSplit installs a split's separator in the parent level, or grows
// the tree when the split node was the root. The sibling chain is already
// published, so this step is idempotent and crash-recoverable.
func (t *BTree) routeSplit(s *base.SplitResult) {
	if t.root.Load() == uint64(s.Left) {
		rootRef := base.NewRoot(t.arena, s.Left, s.SplitKey, s.Sibling, s.Level+1)
		if t.root.CompareAndSwap(uint64(s.Left), uint64(rootRef)) {
			t.height.Add(1)
			t.arena.PersistRoot(rootRef)
			return
		}
		// another split grew the tree first; route into the new root
	}
	t.insertInternal(s.SplitKey, s.Sibling, s.Level+1)
}

// insertInternal stores a separator at the given level, retrying from the
// root when the target was retired. A level above the current root means
// a racing root-grow already routed it.
func (t *BTree) insertInternal(key int64, child base.Ref, level uint32) {
	for {
		ref := base.Ref(t.root.Load())
		n := t.arena.Node(ref)
		if level > n.Level() {
			return
		}
		for n.Level() > level {
			_, next, _ := n.LinearSearch(t.arena, key)
			ref = next
			n = t.arena.Node(ref)
		}
		_, split, ok := base.Store(t.arena, ref, key, uint64(child), base.NilRef)
		if !ok {
			continue
		}
		if split != nil {
			t.routeSplit(split)
		}
		return
	}
}

// DeleteRebalancing removes key and restores occupancy by merging with or
// redistributing from the left sibling once a node falls below half
// capacity, including collapsing a single-child root. Delete uses the
// shift-only path; this one is the full in-place rebalancing protocol.
func (t *BTree) DeleteRebalancing(key int64) {
	for {
		ref := t.descendToLeaf(key)
		if t.removeRebalancing(ref, key, false, true) {
			return
		}
	}
}

func (t *BTree) removeRebalancing(ref base.Ref, key int64, onlyRebalance, withLock bool) bool {
	a := t.arena
	mu := a.Mutex(ref)
	if withLock {
		mu.Lock()
	}
	n := a.Node(ref)
	if n.IsRetired() {
		if withLock {
			mu.Unlock()
		}
		return false
	}

	var deletedKeyFromParent int64
	if !onlyRebalance {
		numBefore := n.Count()

		if uint64(ref) == t.root.Load() {
			if n.Level() > 0 && numBefore == 1 && n.Sibling() == base.NilRef {
				// single-child internal root: collapse a level
				newRoot := n.Leftmost()
				if t.root.CompareAndSwap(uint64(ref), uint64(newRoot)) {
					t.height.Add(-1)
					a.PersistRoot(newRoot)
				}
				n.MarkRetired(a)
			}
			n.RemoveKeyLocked(a, key)
			if withLock {
				mu.Unlock()
			}
			return true
		}

		shouldRebalance := numBefore-1 < (base.Cardinality-1)/2
		n.RemoveKeyLocked(a, key)
		if !shouldRebalance {
			if withLock {
				mu.Unlock()
			}
			return true
		}
	}

	// detach this node's separator from the parent
	delKey, isLeftmost, leftSibRef := t.deleteInternal(key, ref, n.Level()+1)
	deletedKeyFromParent = delKey

	if isLeftmost {
		if withLock {
			mu.Unlock()
		}
		// the leftmost node cannot drain left; pull the right sibling in
		sib := n.Sibling()
		if sib != base.NilRef {
			t.removeRebalancing(sib, a.Node(sib).Key(0), true, withLock)
		}
		return true
	}
	if leftSibRef == base.NilRef {
		// separator not routed yet (split in flight); occupancy stands
		if withLock {
			mu.Unlock()
		}
		return true
	}

	if withLock {
		a.Mutex(leftSibRef).Lock()
	}
	for a.Node(leftSibRef).Sibling() != ref {
		next := a.Node(leftSibRef).Sibling()
		if withLock {
			a.Mutex(leftSibRef).Unlock()
			leftSibRef = next
			a.Mutex(leftSibRef).Lock()
		} else {
			leftSibRef = next
		}
	}
	left := a.Node(leftSibRef)

	num := n.Count()
	leftNum := left.Count()
	total := num + leftNum
	if !n.IsLeaf() {
		total++
	}

	if total > base.Cardinality-1 {
		t.redistribute(ref, n, leftSibRef, left, num, leftNum, total, deletedKeyFromParent)
	} else {
		// merge everything into the left sibling; widen its routing
		// bound before unhooking the retired node so readers never hit
		// a gap in the chain
		n.MarkRetired(a)
		if !n.IsLeaf() {
			left.InsertKeyLocked(a, deletedKeyFromParent, uint64(n.Leftmost()), &leftNum, true)
		}
		for i := 0; i < base.Cardinality && n.Value(i) != 0; i++ {
			left.InsertKeyLocked(a, n.Key(i), n.Value(i), &leftNum, true)
		}
		left.SetHighestPersist(a, n.Highest())
		left.SetSiblingPersist(a, n.Sibling())
	}

	if withLock {
		a.Mutex(leftSibRef).Unlock()
		mu.Unlock()
	}
	return true
}

// redistribute moves entries between a node and its left sibling so both
// end up near half occupancy, then reinstalls the separator above.
func (t *BTree) redistribute(ref base.Ref, n *base.Node, leftRef base.Ref, left *base.Node,
	num, leftNum, total int, deletedKeyFromParent int64) {
	a := t.arena
	m := total / 2
	var parentKey int64

	if num < leftNum {
		// left -> right
		// narrow the donor's routing bound before truncating so a
		// reader chasing a moved key follows the chain to its copy
		if n.IsLeaf() {
			for i := leftNum - 1; i >= m; i-- {
				n.InsertKeyLocked(a, left.Key(i), left.Value(i), &num, true)
			}
			parentKey = n.Key(0)
			left.SetHighestPersist(a, parentKey)
			left.TruncatePersist(a, m)
		} else {
			n.InsertKeyLocked(a, deletedKeyFromParent, uint64(n.Leftmost()), &num, true)
			for i := leftNum - 1; i > m; i-- {
				n.InsertKeyLocked(a, left.Key(i), left.Value(i), &num, true)
			}
			parentKey = left.Key(m)
			n.SetLeftmostPersist(a, base.Ref(left.Value(m)))
			left.SetHighestPersist(a, parentKey)
			left.TruncatePersist(a, m)
		}

		if t.root.Load() == uint64(leftRef) {
			rootRef := base.NewRoot(a, leftRef, parentKey, ref, n.Level()+1)
			if t.root.CompareAndSwap(uint64(leftRef), uint64(rootRef)) {
				t.height.Add(1)
				a.PersistRoot(rootRef)
				return
			}
		}
		t.insertInternal(parentKey, ref, n.Level()+1)
		return
	}

	// this node retires; its entries go partly left, the rest into a
	// fresh sibling spliced in after the left node
	n.MarkRetired(a)

	newRef, newSib := a.Alloc(n.Level())
	newMu := a.Mutex(newRef)
	newMu.Lock()
	defer newMu.Unlock()
	newSib.SetSiblingPersist(a, n.Sibling())

	dist := num - m
	newCnt := 0

	if n.IsLeaf() {
		for i := 0; i < dist; i++ {
			left.InsertKeyLocked(a, n.Key(i), n.Value(i), &leftNum, true)
		}
		for i := dist; i < base.Cardinality && n.Value(i) != 0; i++ {
			newSib.InsertKeyLocked(a, n.Key(i), n.Value(i), &newCnt, false)
		}
		parentKey = newSib.Key(0)
	} else {
		left.InsertKeyLocked(a, deletedKeyFromParent, uint64(n.Leftmost()), &leftNum, true)
		for i := 0; i < dist-1; i++ {
			left.InsertKeyLocked(a, n.Key(i), n.Value(i), &leftNum, true)
		}
		parentKey = n.Key(dist - 1)
		newSib.SetLeftmostPersist(a, base.Ref(n.Value(dist-1)))
		for i := dist; i < base.Cardinality && n.Value(i) != 0; i++ {
			newSib.InsertKeyLocked(a, n.Key(i), n.Value(i), &newCnt, false)
		}
	}
	newSib.SetHighestPersist(a, n.Highest())
	a.Flush(unsafe.Pointer(newSib), base.PageSize)

	// widen the left node's bound over its adopted entries first; the
	// retired node still bridges the chain until the splice
	left.SetHighestPersist(a, parentKey)
	left.SetSiblingPersist(a, newRef)

	if t.root.Load() == uint64(leftRef) {
		rootRef := base.NewRoot(a, leftRef, parentKey, newRef, n.Level()+1)
		if t.root.CompareAndSwap(uint64(leftRef), uint64(rootRef)) {
			t.height.Add(1)
			a.PersistRoot(rootRef)
			return
		}
	}
	t.insertInternal(parentKey, newRef, n.Level()+1)
}

// deleteInternal removes the separator routing child at the given level
// and reports the removed key plus the child's left neighbor, or that the
// child is its parent's leftmost.
func (t *BTree) deleteInternal(key int64, child base.Ref, level uint32) (int64, bool, base.Ref) {
	a := t.arena
	ref := base.Ref(t.root.Load())
	n := a.Node(ref)
	if level > n.Level() {
		return 0, false, base.NilRef
	}
	for n.Level() > level {
		_, next, _ := n.LinearSearch(a, key)
		ref = next
		n = a.Node(ref)
	}

	mu := a.Mutex(ref)
	mu.Lock()
	defer mu.Unlock()

	if n.Leftmost() == child {
		return 0, true, base.NilRef
	}

	for i := 0; i < base.Cardinality && n.Value(i) != 0; i++ {
		if base.Ref(n.Value(i)) != child {
			continue
		}
		if i == 0 {
			if n.Leftmost() != base.Ref(n.Value(0)) {
				deletedKey := n.Key(0)
				left := n.Leftmost()
				n.RemoveKeyLocked(a, deletedKey)
				return deletedKey, false, left
			}
		} else if n.Value(i-1) != n.Value(i) {
			deletedKey := n.Key(i)
			left := base.Ref(n.Value(i - 1))
			n.RemoveKeyLocked(a, deletedKey)
			return deletedKey, false, left
		}
	}
	return 0, false, base.NilRef
}
