package pmem

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"fastfair/internal/base"
)

func TestFlushZeroLatencyReturnsImmediately(t *testing.T) {
	t.Parallel()

	rt := New(Config{})
	buf := make([]byte, base.PageSize)

	start := time.Now()
	for i := 0; i < 1000; i++ {
		rt.Flush(unsafe.Pointer(&buf[0]), base.PageSize)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, time.Duration(0), rt.WriteLatency())
}

func TestFlushPaysLatencyPerCacheLine(t *testing.T) {
	t.Parallel()

	const latency = 200 * time.Microsecond
	rt := New(Config{WriteLatency: latency})
	buf := make([]byte, base.PageSize)

	// a full page spans at least PageSize/CacheLineSize lines
	lines := base.PageSize / base.CacheLineSize

	start := time.Now()
	rt.Flush(unsafe.Pointer(&buf[0]), base.PageSize)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Duration(lines)*latency)
}

func TestFlushCoversUnalignedRange(t *testing.T) {
	t.Parallel()

	const latency = 100 * time.Microsecond
	rt := New(Config{WriteLatency: latency})
	buf := make([]byte, 4*base.CacheLineSize)

	// an 8-byte store near a line boundary still pays one line
	start := time.Now()
	rt.Flush(unsafe.Pointer(&buf[base.CacheLineSize+8]), 8)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestFenceOrdering(t *testing.T) {
	t.Parallel()

	rt := New(Config{})
	// the fence is a full RMW; just exercise it from several goroutines
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				rt.Fence()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
