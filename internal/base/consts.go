package base

import "math"

const (
	// PageSize is the fixed node footprint. Nodes are laid out so that a
	// *Node may view raw pool bytes directly.
	PageSize = 512

	// CacheLineSize is the flush granularity.
	CacheLineSize = 64

	// HeaderSize is the node header footprint, one cache line.
	HeaderSize = 64

	// RecordSize is sizeof(key) + sizeof(value).
	RecordSize = 16

	// Cardinality is the record slots per node. The logical capacity is
	// Cardinality-1 entries; the last slot keeps room for the null-value
	// sentinel during shifts.
	Cardinality = (PageSize - HeaderSize) / RecordSize
)

// KeyMax marks an empty key slot. A freshly initialized node has every key
// set to KeyMax and every value set to zero.
const KeyMax = int64(math.MaxInt64)

// KeyMin is the lowest scannable bound.
const KeyMin = int64(math.MinInt64)
