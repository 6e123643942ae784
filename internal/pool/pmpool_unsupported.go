//go:build !linux && !darwin

package pool

import (
	"errors"
	"sync"
	"unsafe"

	"fastfair/internal/base"
	"fastfair/internal/pmem"
)

// PMPool requires mmap support; volatile arenas work everywhere.
type PMPool struct{}

func OpenPool(string, *pmem.Runtime) (*PMPool, error) {
	return nil, errors.New("persistent pools are not supported on this platform")
}

func (p *PMPool) Node(base.Ref) *base.Node               { panic("unsupported") }
func (p *PMPool) Mutex(base.Ref) *sync.Mutex             { panic("unsupported") }
func (p *PMPool) Alloc(uint32) (base.Ref, *base.Node)    { panic("unsupported") }
func (p *PMPool) Flush(unsafe.Pointer, uintptr)          { panic("unsupported") }
func (p *PMPool) Fence()                                 { panic("unsupported") }
func (p *PMPool) PersistRoot(base.Ref)                   { panic("unsupported") }
func (p *PMPool) RootRef() base.Ref                      { panic("unsupported") }
func (p *PMPool) Sync() error                            { panic("unsupported") }
func (p *PMPool) Close() error                           { return nil }
