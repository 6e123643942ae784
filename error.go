package fastfair

import (
	"errors"

	"fastfair/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrDatabaseClosed = errors.New("database is closed")
	ErrValueReserved  = errors.New("value zero is reserved")

	ErrSnapshotCorrupt  = errors.New("snapshot stream corrupt")
	ErrSnapshotVersion  = errors.New("unsupported snapshot version")
	ErrSnapshotTruncated = errors.New("snapshot stream truncated")

	ErrPoolExhausted      = base.ErrPoolExhausted
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)
