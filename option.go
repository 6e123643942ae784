package fastfair

import "time"

// DBOptions configures database behavior.
type DBOptions struct {
	// writeLatency is the emulated per-cache-line persist latency applied
	// by every flush. Zero disables the busy-wait.
	writeLatency time.Duration

	// cacheSize is the capacity of the read-through point-lookup cache.
	// Zero disables the cache.
	cacheSize int

	logger Logger
}

// DefaultDBOptions returns safe default configuration: no emulated
// latency, no read cache, discard logging.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultDBOptions() DBOptions {
	return DBOptions{
		writeLatency: 0,
		cacheSize:    0,
		logger:       NopLogger{},
	}
}

// Option configures database options using the functional options pattern.
type Option func(*DBOptions)

// WithWriteLatency sets the emulated persistent-memory write latency each
// flushed cache line pays. Use zero for volatile-speed runs.
//
//goland:noinspection GoUnusedExportedFunction
func WithWriteLatency(d time.Duration) Option {
	return func(opts *DBOptions) {
		opts.writeLatency = d
	}
}

// WithCacheSize enables the read-through lookup cache with the given
// capacity. The cache is invalidated on Insert and Delete; intended for
// read-mostly workloads, since a racing reader can briefly re-fill a key
// a concurrent writer just changed.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(n int) Option {
	return func(opts *DBOptions) {
		opts.cacheSize = n
	}
}

// WithLogger routes diagnostics to the given logger. The standard
// library's slog.Logger satisfies Logger directly; see pkg logger for zap
// and logrus adapters.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *DBOptions) {
		opts.logger = l
	}
}
