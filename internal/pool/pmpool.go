//go:build linux || darwin

package pool

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"

	"fastfair/internal/base"
	"fastfair/internal/pmem"
)

const (
	// poolMagic identifies a fastfair pool file ("ffbt").
	poolMagic uint32 = 0x66666274

	poolVersion uint16 = 1

	// DefaultPoolSize is mapped once at open; the region never remaps so
	// node pointers handed to lock-free readers stay valid.
	DefaultPoolSize = 1 << 30
)

// poolMeta lives in page 0. Root and NextPage are stored with 8-byte
// atomics; the checksum covers everything before it.
//
// Layout: [Magic: 4][Version: 2][PageSize: 2][Root: 8][NextPage: 8][Checksum: 8]
type poolMeta struct {
	Magic    uint32
	Version  uint16
	PageSize uint16
	Root     uint64
	NextPage uint64
	Checksum uint64
}

const metaChecksumCover = 24 // bytes hashed: all fields before Checksum

func (m *poolMeta) computeChecksum() uint64 {
	data := unsafe.Slice((*byte)(unsafe.Pointer(m)), metaChecksumCover)
	return xxhash.Sum64(data)
}

func (m *poolMeta) validate() error {
	if m.Magic != poolMagic {
		return base.ErrInvalidMagicNumber
	}
	if m.Version != poolVersion {
		return base.ErrInvalidVersion
	}
	if m.PageSize != base.PageSize {
		return base.ErrInvalidPageSize
	}
	if m.Checksum != m.computeChecksum() {
		return base.ErrInvalidChecksum
	}
	return nil
}

// PMPool is the persistent arena: a file mapped once, nodes addressed by
// page index. Page 0 is the meta page; refs therefore start at 1 and the
// nil ref never collides with a node.
type PMPool struct {
	rt   *pmem.Runtime
	file *os.File
	data []byte

	mu    sync.Mutex // allocation and meta checksum updates
	slabs atomic.Pointer[[]*muslab]
}

// muslab is the volatile lock table, grown in slab steps alongside
// allocation and rebuilt on reopen.
type muslab struct {
	mus []sync.Mutex
}

// OpenPool maps the pool file at path, creating and formatting it when
// absent or empty, and validating the meta page otherwise.
func OpenPool(path string, rt *pmem.Runtime) (*PMPool, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	empty := info.Size() == 0
	size := info.Size()
	if empty {
		size = DefaultPoolSize
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, err
		}
	} else if size < base.PageSize {
		file.Close()
		return nil, fmt.Errorf("pool %s: %w", path, base.ErrInvalidPageSize)
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, err
	}

	p := &PMPool{rt: rt, file: file, data: data}
	emptySlabs := []*muslab{}
	p.slabs.Store(&emptySlabs)

	m := p.meta()
	if empty {
		m.Magic = poolMagic
		m.Version = poolVersion
		m.PageSize = base.PageSize
		m.Root = 0
		m.NextPage = 1
		m.Checksum = m.computeChecksum()
		p.rt.Flush(unsafe.Pointer(m), unsafe.Sizeof(*m))
		if err := p.Sync(); err != nil {
			p.Close()
			return nil, err
		}
	} else {
		if err := m.validate(); err != nil {
			_ = syscall.Munmap(data)
			file.Close()
			return nil, fmt.Errorf("pool %s: %w", path, err)
		}
		p.growLocks(atomic.LoadUint64(&m.NextPage))
	}

	return p, nil
}

func (p *PMPool) meta() *poolMeta {
	return (*poolMeta)(unsafe.Pointer(&p.data[0]))
}

func (p *PMPool) Node(ref base.Ref) *base.Node {
	return (*base.Node)(unsafe.Pointer(&p.data[uintptr(ref)*base.PageSize]))
}

func (p *PMPool) Mutex(ref base.Ref) *sync.Mutex {
	s := (*p.slabs.Load())[ref>>slabShift]
	return &s.mus[ref&slabMask]
}

// growLocks ensures the lock table covers page indices below limit.
// Callers hold p.mu except during open, which is single-threaded.
func (p *PMPool) growLocks(limit uint64) {
	need := int((limit + slabMask) >> slabShift)
	cur := *p.slabs.Load()
	if need <= len(cur) {
		return
	}
	grown := make([]*muslab, need)
	copy(grown, cur)
	for i := len(cur); i < need; i++ {
		grown[i] = &muslab{mus: make([]sync.Mutex, slabSize)}
	}
	p.slabs.Store(&grown)
}

// Alloc hands out the next page, formats it, and persists it before the
// caller publishes it anywhere. Exhaustion is fatal: the region cannot
// remap without invalidating pointers held by lock-free readers.
func (p *PMPool) Alloc(level uint32) (base.Ref, *base.Node) {
	p.mu.Lock()
	m := p.meta()
	idx := atomic.LoadUint64(&m.NextPage)
	if (idx+1)*base.PageSize > uint64(len(p.data)) {
		p.mu.Unlock()
		panic(base.ErrPoolExhausted)
	}
	atomic.StoreUint64(&m.NextPage, idx+1)
	m.Checksum = m.computeChecksum()
	p.rt.Flush(unsafe.Pointer(m), unsafe.Sizeof(*m))
	p.growLocks(idx + 1)
	p.mu.Unlock()

	ref := base.Ref(idx)
	n := p.Node(ref)
	n.Init(level)
	p.rt.Flush(unsafe.Pointer(n), base.PageSize)
	return ref, n
}

func (p *PMPool) Flush(ptr unsafe.Pointer, n uintptr) { p.rt.Flush(ptr, n) }

func (p *PMPool) Fence() { p.rt.Fence() }

// PersistRoot anchors the tree root in the meta page. The root store is a
// single 8-byte atomic; either the old or the new root is observed after
// a crash.
func (p *PMPool) PersistRoot(ref base.Ref) {
	p.mu.Lock()
	m := p.meta()
	atomic.StoreUint64(&m.Root, uint64(ref))
	m.Checksum = m.computeChecksum()
	p.rt.Flush(unsafe.Pointer(m), unsafe.Sizeof(*m))
	p.mu.Unlock()
}

func (p *PMPool) RootRef() base.Ref {
	return base.Ref(atomic.LoadUint64(&p.meta().Root))
}

// Sync forces the mapped region to stable storage.
func (p *PMPool) Sync() error {
	if err := unix.Msync(p.data, unix.MS_SYNC); err != nil {
		return err
	}
	return p.file.Sync()
}

// Close syncs, unmaps, and closes the pool file.
func (p *PMPool) Close() error {
	if p.data == nil {
		return nil
	}
	if err := p.Sync(); err != nil {
		return err
	}
	if err := syscall.Munmap(p.data); err != nil {
		return err
	}
	p.data = nil
	return p.file.Close()
}
