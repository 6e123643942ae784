package base

import "unsafe"

// SplitResult is the post-condition of a Store that overflowed: the caller
// owns routing SplitKey/Sibling into the parent level (or growing the
// root). Left is the node that split, Level its height.
type SplitResult struct {
	SplitKey int64
	Left     Ref
	Sibling  Ref
	Level    uint32
}

// Store inserts (key, value) at the node, chasing the sibling chain right
// while key falls beyond the node's routing bound. Returns the node the
// entry landed in and, when the target overflowed, the split
// post-condition. ok is false when the target was retired by a concurrent
// merge; the caller retries from the root.
//
// For internal nodes value is the child Ref. invalid guards against
// re-entering a sibling that is still being routed by this same operation.
func Store(a Arena, ref Ref, key int64, value uint64, invalid Ref) (Ref, *SplitResult, bool) {
	for {
		mu := a.Mutex(ref)
		mu.Lock()
		n := a.Node(ref)

		if n.isDeleted() {
			mu.Unlock()
			return NilRef, nil, false
		}

		if sib := n.sibling(); sib != NilRef && sib != invalid && key >= n.highest() {
			mu.Unlock()
			ref = sib
			continue
		}

		target, split := n.storeLocked(a, ref, key, value)
		mu.Unlock()
		return target, split, true
	}
}

func (n *Node) storeLocked(a Arena, ref Ref, key int64, value uint64) (Ref, *SplitResult) {
	// a duplicate key overwrites its value in place; this also makes a
	// re-driven parent update after a crashed split idempotent
	for i := 0; i < Cardinality && n.value(i) != 0; i++ {
		if n.key(i) == key {
			n.setValue(i, value)
			a.Flush(n.recordPtr(i), RecordSize)
			return ref, nil
		}
	}

	num := n.Count()

	// FAST
	if num < Cardinality-1 {
		n.insertKey(a, key, value, &num, true, true)
		return ref, nil
	}

	// FAIR: overflow
	sibRef, sib := a.Alloc(n.hdr.level)
	m := (num + 1) / 2
	splitKey := n.key(m)

	// migrate the upper half into the unpublished sibling, no flushing
	sibCnt := 0
	if n.leftmost() == NilRef { // leaf
		for i := m; i < num; i++ {
			sib.insertKey(a, n.key(i), n.value(i), &sibCnt, false, true)
		}
	} else { // internal
		for i := m + 1; i < num; i++ {
			sib.insertKey(a, n.key(i), n.value(i), &sibCnt, false, true)
		}
		sib.setLeftmost(Ref(n.value(m)))
	}
	sib.setHighest(n.highest())
	sib.setSibling(n.sibling())
	a.Flush(sib.nodePtr(), PageSize)

	// publish through the sibling chain first, then narrow this node's
	// routing bound; the parent update is re-driven by the caller
	n.setSibling(sibRef)
	n.setHighest(splitKey)
	a.Flush(n.headerPtr(), HeaderSize)

	if forward(n.switchCounter()) {
		n.bumpSwitchCounter(2)
	} else {
		n.bumpSwitchCounter(1)
	}

	// truncate
	n.setValue(m, 0)
	a.Flush(n.recordPtr(m), RecordSize)

	n.setLastIndex(int64(m - 1))
	a.Flush(unsafe.Pointer(&n.hdr.lastIndex), 8)

	num = m
	target := ref
	if key < splitKey {
		n.insertKey(a, key, value, &num, true, true)
	} else {
		sib.insertKey(a, key, value, &sibCnt, true, true)
		target = sibRef
	}

	return target, &SplitResult{
		SplitKey: splitKey,
		Left:     ref,
		Sibling:  sibRef,
		Level:    n.hdr.level,
	}
}

// NewRoot allocates, fills, and persists an internal node carrying a
// single separator, for tree growth. The caller publishes it by swinging
// the tree's root handle.
func NewRoot(a Arena, left Ref, key int64, right Ref, level uint32) Ref {
	ref, n := a.Alloc(level)
	n.setLeftmost(left)
	n.setKey(0, key)
	n.setValue(0, uint64(right))
	n.setValue(1, 0)
	n.setLastIndex(0)
	a.Flush(n.nodePtr(), PageSize)
	return ref
}

// insertKey is the FAST ordered shift. Precondition: write lock held, the
// node has room. Each shifted slot copies value before key, so the slot
// reads as a duplicate of its left neighbor until the shift completes and
// readers skip it. The final slot is written key first; its value store
// commits the insert.
func (n *Node) insertKey(a Arena, key int64, value uint64, num *int, flush, updateLastIndex bool) {
	if !forward(n.switchCounter()) {
		n.bumpSwitchCounter(1)
	}

	if *num == 0 {
		n.setKey(0, key)
		n.setValue(0, value)
		n.setValue(1, 0)
		if flush {
			a.Flush(n.nodePtr(), CacheLineSize)
		}
	} else {
		// extend the terminating sentinel to slot num+1
		n.setValue(*num+1, n.value(*num))
		if flush {
			p := unsafe.Pointer(&n.records[*num+1].value)
			if uintptr(p)%CacheLineSize == 0 {
				a.Flush(p, 8)
			}
		}

		inserted := false
		for i := *num - 1; i >= 0; i-- {
			if key < n.key(i) {
				n.setValue(i+1, n.value(i))
				n.setKey(i+1, n.key(i))
				if flush {
					flushRecordLine(a, n, i+1)
				}
			} else {
				n.setValue(i+1, n.value(i))
				n.setKey(i+1, key)
				n.setValue(i+1, value)
				if flush {
					a.Flush(n.recordPtr(i+1), RecordSize)
				}
				inserted = true
				break
			}
		}
		if !inserted {
			n.setValue(0, uint64(n.leftmost()))
			n.setKey(0, key)
			n.setValue(0, value)
			if flush {
				a.Flush(n.recordPtr(0), RecordSize)
			}
		}
	}

	if updateLastIndex {
		n.setLastIndex(int64(*num))
		if flush {
			a.Flush(unsafe.Pointer(&n.hdr.lastIndex), 8)
		}
	}
	*num++
}

// InsertKeyLocked exposes the shift for the rebalancing driver, which
// redistributes entries between already-locked nodes.
func (n *Node) InsertKeyLocked(a Arena, key int64, value uint64, num *int, flush bool) {
	n.insertKey(a, key, value, num, flush, true)
}
