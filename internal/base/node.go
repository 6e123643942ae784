package base

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Ref is a node handle: an index into an Arena. The zero Ref is nil. Refs
// survive address-space remapping in persistent pools, unlike raw pointers.
type Ref uint64

// NilRef is the null node handle.
const NilRef Ref = 0

// Arena allocates and resolves nodes and provides the persistence
// primitives the node protocols flush through. Implementations live in
// internal/pool: a volatile slab arena and an mmap-backed persistent pool.
type Arena interface {
	// Node resolves a handle. The returned pointer stays valid for the
	// lifetime of the arena.
	Node(Ref) *Node

	// Mutex returns the write lock for a node. Locks are volatile state
	// kept beside the arena, never inside the persistent image.
	Mutex(Ref) *sync.Mutex

	// Alloc returns a fully initialized, persisted node at the given
	// level. The node is not reachable until a caller publishes it.
	Alloc(level uint32) (Ref, *Node)

	// Flush persists every cache line intersecting [p, p+n), bracketed by
	// ordered-store fences.
	Flush(p unsafe.Pointer, n uintptr)

	// Fence is an ordered-store barrier without a flush.
	Fence()
}

// RootArena is an Arena bound to a pool that can anchor the tree root.
type RootArena interface {
	Arena

	// PersistRoot atomically records ref as the tree root and persists
	// the anchor.
	PersistRoot(ref Ref)

	// RootRef returns the anchored root, NilRef if none was ever set.
	RootRef() Ref
}

// record is one sorted slot: an 8-byte key and an 8-byte value. In leaves
// the value is the caller's opaque handle; in internal nodes it is a child
// Ref. A zero value marks the slot empty and terminates the live sequence.
type record struct {
	key   int64
	value uint64
}

// header occupies the node's first cache line. Every field a reader may
// observe mid-update is 8-byte aligned and accessed atomically.
//
// The write lock lives in a volatile side table (Arena.Mutex), not here:
// anything stored in the persistent image is garbage after recovery.
type header struct {
	leftmost      uint64 // child for keys below records[0].key; internal only
	sibling       uint64 // right neighbor at the same level
	highest       int64  // exclusive upper bound routed to this node
	switchCounter uint64 // parity = current shift direction
	lastIndex     int64  // index of last occupied record, -1 when empty
	level         uint32 // 0 for leaves
	deleted       uint32 // set when contents were merged away
	_             [16]byte
}

// Node is a fixed-size page: header plus a sorted record array. The struct
// is a POD of exactly PageSize bytes so a *Node may be cast directly over
// pool memory.
type Node struct {
	hdr     header
	records [Cardinality]record
}

// Init formats a zeroed region as an empty node. Every key becomes KeyMax,
// every value zero, so the sentinel invariant holds vacuously.
func (n *Node) Init(level uint32) {
	n.hdr.level = level
	n.hdr.lastIndex = -1
	n.hdr.highest = KeyMax
	n.hdr.leftmost = 0
	n.hdr.sibling = 0
	n.hdr.switchCounter = 0
	n.hdr.deleted = 0
	for i := range n.records {
		n.records[i].key = KeyMax
		n.records[i].value = 0
	}
}

func (n *Node) key(i int) int64       { return atomic.LoadInt64(&n.records[i].key) }
func (n *Node) setKey(i int, k int64) { atomic.StoreInt64(&n.records[i].key, k) }

func (n *Node) value(i int) uint64       { return atomic.LoadUint64(&n.records[i].value) }
func (n *Node) setValue(i int, v uint64) { atomic.StoreUint64(&n.records[i].value, v) }

func (n *Node) leftmost() Ref     { return Ref(atomic.LoadUint64(&n.hdr.leftmost)) }
func (n *Node) setLeftmost(r Ref) { atomic.StoreUint64(&n.hdr.leftmost, uint64(r)) }

func (n *Node) sibling() Ref     { return Ref(atomic.LoadUint64(&n.hdr.sibling)) }
func (n *Node) setSibling(r Ref) { atomic.StoreUint64(&n.hdr.sibling, uint64(r)) }

func (n *Node) highest() int64     { return atomic.LoadInt64(&n.hdr.highest) }
func (n *Node) setHighest(k int64) { atomic.StoreInt64(&n.hdr.highest, k) }

func (n *Node) switchCounter() uint64 { return atomic.LoadUint64(&n.hdr.switchCounter) }
func (n *Node) bumpSwitchCounter(d uint64) {
	atomic.AddUint64(&n.hdr.switchCounter, d)
}

func (n *Node) lastIndex() int64     { return atomic.LoadInt64(&n.hdr.lastIndex) }
func (n *Node) setLastIndex(i int64) { atomic.StoreInt64(&n.hdr.lastIndex, i) }

func (n *Node) isDeleted() bool { return atomic.LoadUint32(&n.hdr.deleted) != 0 }
func (n *Node) markDeleted()    { atomic.StoreUint32(&n.hdr.deleted, 1) }

// Level reports the node's height, 0 for leaves. Written once at Alloc.
func (n *Node) Level() uint32 { return n.hdr.level }

// IsLeaf reports whether this node holds data records.
func (n *Node) IsLeaf() bool { return n.hdr.level == 0 }

// Leftmost exposes the leftmost child handle for descent.
func (n *Node) Leftmost() Ref { return n.leftmost() }

// Sibling exposes the right-neighbor handle for chain walks.
func (n *Node) Sibling() Ref { return n.sibling() }

// Highest exposes the node's exclusive routing upper bound.
func (n *Node) Highest() int64 { return n.highest() }

// LastIndex exposes the index of the last occupied record, -1 when empty.
func (n *Node) LastIndex() int { return int(n.lastIndex()) }

// IsRetired reports whether the node was merged away.
func (n *Node) IsRetired() bool { return n.isDeleted() }

// Key exposes records[i].key for invariant checks and tests.
func (n *Node) Key(i int) int64 { return n.key(i) }

// Value exposes records[i].value for invariant checks and tests.
func (n *Node) Value(i int) uint64 { return n.value(i) }

func forward(counter uint64) bool { return counter%2 == 0 }

// Count returns the number of live entries. Lock-free: retries while a
// writer passes through, walking in the direction the counter's parity
// implies so a mid-shift duplicate is not miscounted.
func (n *Node) Count() int {
	var count int
	for {
		prev := n.switchCounter()
		count = int(n.lastIndex()) + 1

		for count >= 0 && count < Cardinality && n.value(count) != 0 {
			if forward(prev) {
				count++
			} else {
				count--
			}
		}

		if count < 0 {
			count = 0
			for count < Cardinality && n.value(count) != 0 {
				count++
			}
		}

		if n.switchCounter() == prev {
			return count
		}
	}
}

func (n *Node) headerPtr() unsafe.Pointer      { return unsafe.Pointer(&n.hdr) }
func (n *Node) recordPtr(i int) unsafe.Pointer { return unsafe.Pointer(&n.records[i]) }
func (n *Node) nodePtr() unsafe.Pointer        { return unsafe.Pointer(n) }

// flushRecordLine flushes records[i]'s cache line when the write at i
// completed a line or crossed into the next one, matching the shift
// protocol's line-batched flush rule.
func flushRecordLine(a Arena, n *Node, i int) {
	p := n.recordPtr(i)
	rem := uintptr(p) % CacheLineSize
	if rem == 0 || (rem+RecordSize)/CacheLineSize == 1 && (rem+RecordSize)%CacheLineSize != 0 {
		a.Flush(unsafe.Add(p, -int(rem)), CacheLineSize)
	}
}
