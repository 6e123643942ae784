// Package pmem provides the ordered-store fence and cache-line flush the
// node protocols persist through. On volatile configurations the flush is
// a fence plus an optional busy-wait emulating persistent-memory write
// latency; durability of mmap-backed pools is handled at the pool layer.
package pmem

import (
	"sync/atomic"
	"time"
	"unsafe"

	"fastfair/internal/base"
)

// Config is captured once at open time; there is no mutable global tuning
// state.
type Config struct {
	// WriteLatency is the emulated per-cache-line persist latency. Zero
	// disables the wait.
	WriteLatency time.Duration
}

// Runtime executes fences and flushes under an immutable Config.
type Runtime struct {
	latency time.Duration
	fenceV  atomic.Uint64
}

func New(cfg Config) *Runtime {
	return &Runtime{latency: cfg.WriteLatency}
}

// Fence is an ordered-store barrier: no store may be reordered across it.
// Go's sequentially consistent atomics give the ordering; the dummy RMW is
// the fence itself.
func (r *Runtime) Fence() {
	r.fenceV.Add(1)
}

// Flush persists every cache line intersecting [p, p+n), fenced on both
// sides. The start rounds down to a line boundary and the walk strides by
// line; each line pays the configured write latency against the monotonic
// clock.
func (r *Runtime) Flush(p unsafe.Pointer, n uintptr) {
	r.Fence()
	addr := uintptr(p) &^ (base.CacheLineSize - 1)
	end := uintptr(p) + n
	for ; addr < end; addr += base.CacheLineSize {
		if r.latency > 0 {
			spinWait(r.latency)
		}
	}
	r.Fence()
}

// WriteLatency reports the configured emulated latency.
func (r *Runtime) WriteLatency() time.Duration {
	return r.latency
}

func spinWait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
