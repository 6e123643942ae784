package base

import "unsafe"

// Remove deletes key from the node, chasing the sibling chain the way
// Store does. removed reports whether the key was present; ok is false
// when the target was retired by a concurrent merge and the caller must
// retry from the root.
func Remove(a Arena, ref Ref, key int64) (removed, ok bool) {
	for {
		mu := a.Mutex(ref)
		mu.Lock()
		n := a.Node(ref)

		if n.isDeleted() {
			mu.Unlock()
			return false, false
		}

		if sib := n.sibling(); sib != NilRef && key >= n.highest() {
			mu.Unlock()
			ref = sib
			continue
		}

		removed = n.removeKey(a, key)
		mu.Unlock()
		return removed, true
	}
}

// removeKey is the FAST delete shift. Precondition: write lock held.
// The target slot's value is first overwritten with its predecessor's
// value (the linearization point: readers skip value-duplicate slots),
// then the tail shifts left one slot at a time, key before value.
func (n *Node) removeKey(a Arena, key int64) bool {
	if forward(n.switchCounter()) {
		n.bumpSwitchCounter(1)
	}

	shift := false
	for i := 0; i < Cardinality-1 && n.value(i) != 0; i++ {
		if !shift && n.key(i) == key {
			if i == 0 {
				n.setValue(0, uint64(n.leftmost()))
			} else {
				n.setValue(i, n.value(i-1))
			}
			shift = true
		}

		if shift {
			n.setKey(i, n.key(i+1))
			n.setValue(i, n.value(i+1))
			flushRecordLine(a, n, i)
		}
	}

	if shift {
		n.setLastIndex(n.lastIndex() - 1)
		a.Flush(unsafe.Pointer(&n.hdr.lastIndex), 8)
	}
	return shift
}

// RemoveKeyLocked exposes the delete shift for the rebalancing driver.
func (n *Node) RemoveKeyLocked(a Arena, key int64) bool {
	return n.removeKey(a, key)
}

// MarkRetired sets the merged-away flag and persists it. A retired node
// never accepts writes; readers drain off it via the sibling chain.
func (n *Node) MarkRetired(a Arena) {
	n.markDeleted()
	a.Flush(unsafe.Pointer(&n.hdr.level), 8)
}

// SetSiblingPersist publishes a new right neighbor and persists the header.
func (n *Node) SetSiblingPersist(a Arena, ref Ref) {
	n.setSibling(ref)
	a.Flush(unsafe.Pointer(&n.hdr.sibling), 8)
}

// SetHighestPersist widens or narrows the routing bound and persists it.
func (n *Node) SetHighestPersist(a Arena, k int64) {
	n.setHighest(k)
	a.Flush(unsafe.Pointer(&n.hdr.highest), 8)
}

// SetLeftmostPersist swings the leftmost child and persists it.
func (n *Node) SetLeftmostPersist(a Arena, ref Ref) {
	n.setLeftmost(ref)
	a.Flush(unsafe.Pointer(&n.hdr.leftmost), 8)
}

// TruncatePersist drops every record from index m on by severing the
// sentinel at m, then shrinking lastIndex, each persisted in order.
func (n *Node) TruncatePersist(a Arena, m int) {
	n.setValue(m, 0)
	a.Flush(unsafe.Pointer(&n.records[m].value), 8)
	n.setLastIndex(int64(m - 1))
	a.Flush(unsafe.Pointer(&n.hdr.lastIndex), 8)
}

// BumpForRemove flips the counter to the leftward parity ahead of a
// rebalancing move that shifts entries out of this node.
func (n *Node) BumpForRemove() {
	if forward(n.switchCounter()) {
		n.bumpSwitchCounter(1)
	}
}
