// Package cache defines the byte sources read by archives and the block
// caches that sit between an archive and its source.
//
// A BlockCache wraps a ByteSource and serves ReadAt calls from fixed-size
// blocks keyed by (SourceID, block size, block index). Two implementations
// are provided: cache/memory keeps a fixed number of blocks in memory and
// evicts the least recently used one; cache/disk stores blocks as files and
// prunes oldest-first when over its size limit.
package cache

import "io"

// ByteSource provides random access to archive bytes.
type ByteSource interface {
	io.ReaderAt

	// Size returns the total size of the data source in bytes.
	Size() int64

	// SourceID returns a unique identifier for this data source.
	// The ID is used as part of the cache key, so it must be stable
	// across calls and unique across different sources.
	SourceID() string
}

// RangeReader provides range reads for block cache fetches.
// Types implementing both ByteSource and RangeReader allow the block cache
// to use more efficient range-based fetching instead of ReadAt.
type RangeReader interface {
	// ReadRange returns a ReadCloser for reading length bytes starting at off.
	// The caller is responsible for closing the returned ReadCloser.
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// BlockCache wraps ByteSources with block-level caching.
type BlockCache interface {
	// Wrap returns a ByteSource that caches reads from src in fixed-size blocks.
	// The returned ByteSource also implements RangeReader.
	Wrap(src ByteSource, opts ...WrapOption) (ByteSource, error)

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)

	// Invalidate drops every cached block read from the source with the
	// given ID. It is called when an archive is unmounted.
	Invalidate(sourceID string) error
}
