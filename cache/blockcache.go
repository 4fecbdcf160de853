package cache

// DefaultBlockSize is the block size used when Wrap gets no WithBlockSize.
// It matches the typical size of a compressed texture mip or level chunk.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocksPerRead is the largest read, in blocks, that goes
// through the cache. Bigger reads, such as whole-directory prefetches,
// go straight to the source.
const DefaultMaxBlocksPerRead = 4

// WrapConfig holds the per-source settings of a wrapped source.
type WrapConfig struct {
	// BlockSize is the size of each cached block in bytes.
	BlockSize int64

	// MaxBlocksPerRead bounds how many blocks one ReadAt may touch and
	// still be cached. Zero means no bound.
	MaxBlocksPerRead int
}

// DefaultWrapConfig returns the settings Wrap starts from.
func DefaultWrapConfig() WrapConfig {
	return WrapConfig{BlockSize: DefaultBlockSize, MaxBlocksPerRead: DefaultMaxBlocksPerRead}
}

// WrapOption adjusts a WrapConfig.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the cached block size.
func WithBlockSize(n int64) WrapOption {
	return func(cfg *WrapConfig) { cfg.BlockSize = n }
}

// WithMaxBlocksPerRead sets WrapConfig.MaxBlocksPerRead. Values <= 0
// cache reads of any length.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(cfg *WrapConfig) { cfg.MaxBlocksPerRead = max(n, 0) }
}
