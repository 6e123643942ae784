// Package pool implements the two node arenas: a volatile slab arena for
// in-memory trees and an mmap-backed persistent pool. Both hand out
// base.Ref handles and keep write locks in volatile side tables.
package pool

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"fastfair/internal/base"
	"fastfair/internal/pmem"
)

const (
	slabShift = 10
	slabSize  = 1 << slabShift // nodes per slab
	slabMask  = slabSize - 1
)

// slab is a cache-line-aligned block of nodes plus their lock table.
type slab struct {
	nodes []base.Node
	mus   []sync.Mutex
	buf   []byte // keeps the aligned backing region alive
}

func newSlab() *slab {
	buf := make([]byte, slabSize*base.PageSize+base.CacheLineSize)
	off := (base.CacheLineSize - uintptr(unsafe.Pointer(&buf[0]))%base.CacheLineSize) % base.CacheLineSize
	nodes := unsafe.Slice((*base.Node)(unsafe.Pointer(&buf[off])), slabSize)
	return &slab{
		nodes: nodes,
		mus:   make([]sync.Mutex, slabSize),
		buf:   buf,
	}
}

// Volatile is the heap arena. Resolution is lock-free; allocation appends
// slabs under a mutex and publishes the slab slice atomically.
type Volatile struct {
	rt    *pmem.Runtime
	mu    sync.Mutex
	slabs atomic.Pointer[[]*slab]
	next  uint64 // guarded by mu; ref 0 stays nil
	root  atomic.Uint64
}

// NewVolatile creates an empty volatile arena over the given runtime.
func NewVolatile(rt *pmem.Runtime) *Volatile {
	v := &Volatile{rt: rt, next: 1}
	empty := []*slab{}
	v.slabs.Store(&empty)
	return v
}

func (v *Volatile) Node(ref base.Ref) *base.Node {
	s := (*v.slabs.Load())[ref>>slabShift]
	return &s.nodes[ref&slabMask]
}

func (v *Volatile) Mutex(ref base.Ref) *sync.Mutex {
	s := (*v.slabs.Load())[ref>>slabShift]
	return &s.mus[ref&slabMask]
}

func (v *Volatile) Alloc(level uint32) (base.Ref, *base.Node) {
	v.mu.Lock()
	ref := base.Ref(v.next)
	v.next++

	idx := int(ref >> slabShift)
	cur := *v.slabs.Load()
	if idx >= len(cur) {
		grown := make([]*slab, len(cur)+1)
		copy(grown, cur)
		grown[len(cur)] = newSlab()
		v.slabs.Store(&grown)
	}
	v.mu.Unlock()

	n := v.Node(ref)
	n.Init(level)
	v.Flush(unsafe.Pointer(n), base.PageSize)
	return ref, n
}

func (v *Volatile) Flush(p unsafe.Pointer, n uintptr) { v.rt.Flush(p, n) }

func (v *Volatile) Fence() { v.rt.Fence() }

// PersistRoot anchors the root handle. Volatile arenas have nothing to
// persist beyond the ordered store.
func (v *Volatile) PersistRoot(ref base.Ref) {
	v.root.Store(uint64(ref))
	v.rt.Flush(unsafe.Pointer(&v.root), 8)
}

func (v *Volatile) RootRef() base.Ref {
	return base.Ref(v.root.Load())
}

// Close releases nothing; it exists so both arenas satisfy the same
// lifecycle the DB layer drives.
func (v *Volatile) Close() error { return nil }

// Sync is a no-op on volatile arenas.
func (v *Volatile) Sync() error { return nil }
