package base

// LinearSearch probes the node without taking locks. For a leaf it returns
// (value, NilRef, true) on a hit, (0, sibling, false) when key routes past
// this node, or (0, NilRef, false) when absent. For an internal node it
// returns (0, next, false) where next is the child to descend into or the
// sibling to move right to.
//
// The switch-counter protocol: snapshot the counter, scan in the direction
// its parity implies, skip any slot whose value duplicates its left
// neighbor (a slot mid-shift), and restart if the counter moved.
func (n *Node) LinearSearch(a Arena, key int64) (uint64, Ref, bool) {
	if n.leftmost() == NilRef {
		return n.searchLeaf(key)
	}
	return n.searchInternal(key)
}

func (n *Node) searchLeaf(key int64) (uint64, Ref, bool) {
	var ret uint64
	for {
		prev := n.switchCounter()
		ret = 0

		if forward(prev) {
			// left to right
			if k := n.key(0); k == key {
				if t := n.value(0); t != 0 && n.key(0) == k {
					ret = t
				}
			}
			if ret == 0 {
				for i := 1; i < Cardinality && n.value(i) != 0; i++ {
					if k := n.key(i); k == key {
						if t := n.value(i); n.value(i-1) != t && n.key(i) == k {
							ret = t
							break
						}
					}
				}
			}
		} else {
			// right to left
			for i := n.Count() - 1; i > 0; i-- {
				if k := n.key(i); k == key {
					if t := n.value(i); n.value(i-1) != t && t != 0 && n.key(i) == k {
						ret = t
						break
					}
				}
			}
			if ret == 0 {
				if k := n.key(0); k == key {
					if t := n.value(0); t != 0 && n.key(0) == k {
						ret = t
					}
				}
			}
		}

		if n.switchCounter() == prev {
			break
		}
	}

	if ret != 0 {
		return ret, NilRef, true
	}
	if sib := n.sibling(); sib != NilRef && key >= n.highest() {
		return 0, sib, false
	}
	return 0, NilRef, false
}

func (n *Node) searchInternal(key int64) (uint64, Ref, bool) {
	var ret Ref
	for {
		prev := n.switchCounter()
		ret = NilRef

		if forward(prev) {
			done := false
			if key < n.key(0) {
				if t := n.leftmost(); uint64(t) != n.value(0) {
					ret = t
					done = true
				}
			}
			if !done {
				i := 1
				for ; i < Cardinality && n.value(i) != 0; i++ {
					if key < n.key(i) {
						if t := n.value(i - 1); t != n.value(i) {
							ret = Ref(t)
							done = true
							break
						}
					}
				}
				if !done {
					ret = Ref(n.value(i - 1))
				}
			}
		} else {
			for i := n.Count() - 1; i >= 0; i-- {
				if key >= n.key(i) {
					if i == 0 {
						if uint64(n.leftmost()) != n.value(0) {
							ret = Ref(n.value(0))
							break
						}
					} else if n.value(i-1) != n.value(i) {
						ret = Ref(n.value(i))
						break
					}
				}
			}
		}

		if n.switchCounter() == prev {
			break
		}
	}

	// a published-but-unrouted sibling takes precedence over the local
	// candidate: the candidate child no longer covers key after a split
	if sib := n.sibling(); sib != NilRef && key >= n.highest() {
		return 0, sib, false
	}
	if ret != NilRef {
		return 0, ret, false
	}
	return 0, n.leftmost(), false
}

// RangeScan walks the sibling chain from ref collecting values whose key
// lies strictly between min and max, ascending, into out. It stops at the
// chain's end, at the first key >= max, or when out is full, and returns
// the count written. Each node is read with the switch-counter protocol.
func RangeScan(a Arena, ref Ref, min, max int64, out []uint64) int {
	off := 0
	scratch := make([]uint64, 0, Cardinality)

	for ref != NilRef && off < len(out) {
		n := a.Node(ref)
		var vals []uint64
		var hitMax bool

		for {
			prev := n.switchCounter()
			vals = scratch[:0]
			hitMax = false

			if forward(prev) {
				for i := 0; i < Cardinality && n.value(i) != 0; i++ {
					k := n.key(i)
					if k <= min {
						continue
					}
					if k >= max {
						hitMax = true
						break
					}
					t := n.value(i)
					dup := false
					if i == 0 {
						dup = t == uint64(n.leftmost())
					} else {
						dup = t == n.value(i-1)
					}
					if !dup && t != 0 && n.key(i) == k {
						vals = append(vals, t)
					}
				}
			} else {
				// keys descend as i does; collect then reverse
				for i := n.Count() - 1; i >= 0; i-- {
					k := n.key(i)
					if k <= min {
						break
					}
					if k >= max {
						hitMax = true
						continue
					}
					t := n.value(i)
					dup := false
					if i == 0 {
						dup = t == uint64(n.leftmost())
					} else {
						dup = t == n.value(i-1)
					}
					if !dup && t != 0 && n.key(i) == k {
						vals = append(vals, t)
					}
				}
				for l, r := 0, len(vals)-1; l < r; l, r = l+1, r-1 {
					vals[l], vals[r] = vals[r], vals[l]
				}
			}

			if n.switchCounter() == prev {
				break
			}
		}

		for _, v := range vals {
			if off >= len(out) {
				return off
			}
			out[off] = v
			off++
		}
		if hitMax {
			return off
		}
		ref = n.sibling()
	}
	return off
}

// CollectLive returns the node's live (key, value) pairs under the
// switch-counter protocol, for snapshot export and invariant checks.
func (n *Node) CollectLive() ([]int64, []uint64) {
	var keys []int64
	var vals []uint64
	for {
		prev := n.switchCounter()
		keys = keys[:0]
		vals = vals[:0]

		for i := 0; i < Cardinality && n.value(i) != 0; i++ {
			t := n.value(i)
			dup := false
			if i == 0 {
				dup = t == uint64(n.leftmost())
			} else {
				dup = t == n.value(i-1)
			}
			if !dup {
				keys = append(keys, n.key(i))
				vals = append(vals, t)
			}
		}

		if n.switchCounter() == prev {
			return keys, vals
		}
	}
}
