// Package disk provides a disk-backed block cache.
//
// Blocks are stored as individual files under a per-source directory, so all
// blocks of an unmounted archive can be dropped with one RemoveAll. Within a
// source directory files are sharded by key prefix. When the cache exceeds
// its size limit the oldest files are pruned first.
package disk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/pak/cache"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	sourceDirLen          = 16
)

// BlockCache provides a disk-backed block cache for ByteSources.
// The cache is safe for concurrent use.
type BlockCache struct {
	dir            string             // root directory for cached blocks
	shardPrefixLen int                // number of hex chars for subdirectory sharding
	dirPerm        os.FileMode        // permissions for created directories
	maxBytes       int64              // maximum cache size (0 = unlimited)
	bytes          atomic.Int64       // current total size of cached blocks
	fetchGroup     singleflight.Group // deduplicates concurrent fetches for same block
	pruneMu        sync.Mutex         // serializes prune and invalidate
	logger         *slog.Logger
}

// Option configures a disk-backed block cache.
type Option func(*BlockCache)

// WithMaxBytes sets the maximum size in bytes for the block cache.
// Values <= 0 disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *BlockCache) {
		c.maxBytes = n
	}
}

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *BlockCache) {
		c.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *BlockCache) {
		c.dirPerm = mode
	}
}

// WithLogger sets the logger for cache events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *BlockCache) {
		c.logger = logger
	}
}

// New creates a disk-backed block cache rooted at dir. Blocks already
// present under dir are counted toward the size limit.
func New(dir string, opts ...Option) (*BlockCache, error) {
	if dir == "" {
		return nil, errors.New("block cache dir is empty")
	}
	c := &BlockCache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("block cache shard prefix length must be >= 0")
	}
	if c.maxBytes < 0 {
		return nil, errors.New("block cache max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

func (c *BlockCache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Wrap returns a ByteSource that caches reads in fixed-size blocks.
func (c *BlockCache) Wrap(src cache.ByteSource, opts ...cache.WrapOption) (cache.ByteSource, error) {
	return cache.NewBlockSource(src, c, opts...)
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *BlockCache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *BlockCache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes cached entries until the cache is at or below targetBytes.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	targetBytes = max(targetBytes, 0)
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// Invalidate removes every block cached for sourceID.
func (c *BlockCache) Invalidate(sourceID string) error {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	dir := c.sourceDir(sourceID)
	freed, err := dirSize(dir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	c.bytes.Add(-freed)
	c.log().Debug("block cache invalidated", "source", sourceID, "bytes", freed)
	return nil
}

// GetBlock implements cache.BlockStore.
func (c *BlockCache) GetBlock(key cache.BlockKey, blockLen int64, fetch func() ([]byte, error)) ([]byte, error) {
	hexKey := blockKeyHex(key)
	result, err, _ := c.fetchGroup.Do(hexKey, func() (any, error) {
		path := c.pathForKey(key.SourceID, hexKey)
		if data, err := os.ReadFile(path); err == nil { //nolint:gosec // path is derived from hash, not user input
			if int64(len(data)) == blockLen {
				return data, nil
			}
			c.bytes.Add(-int64(len(data)))
			_ = os.Remove(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		data, err := fetch()
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != blockLen {
			return nil, io.ErrUnexpectedEOF
		}
		if err := c.writeBlock(path, data); err != nil {
			c.log().Debug("block cache write failed", "path", path, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (c *BlockCache) writeBlock(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if ok, err := c.ensureCapacity(int64(len(data))); err != nil {
		return err
	} else if !ok {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "block-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil
		}
		return err
	}
	c.bytes.Add(int64(len(data)))
	return nil
}

func blockKeyHex(key cache.BlockKey) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(key.SourceID)) //nolint:errcheck // hash writes never fail

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(key.BlockSize)) //nolint:gosec // block size validated > 0
	binary.BigEndian.PutUint64(buf[8:], uint64(key.Index))     //nolint:gosec // block index always >= 0
	_, _ = hasher.Write(buf[:])                                //nolint:errcheck // hash writes never fail

	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *BlockCache) sourceDir(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])[:sourceDirLen])
}

func (c *BlockCache) pathForKey(sourceID, hexKey string) string {
	dir := c.sourceDir(sourceID)
	if c.shardPrefixLen <= 0 {
		return filepath.Join(dir, hexKey)
	}
	prefixLen := min(c.shardPrefixLen, len(hexKey))
	return filepath.Join(dir, hexKey[:prefixLen], hexKey)
}

func (c *BlockCache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}

var (
	_ cache.BlockCache = (*BlockCache)(nil)
	_ cache.BlockStore = (*BlockCache)(nil)
)
