// Package memory provides a fixed-capacity in-memory block cache.
//
// The cache holds a fixed number of block slots. Slot reuse order is kept in
// a recency.Index: a hit touches its slot, a miss claims the least recently
// used slot, and invalidating a source flushes its slots to the front of the
// eviction order so they are reused first.
package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/recency"
)

// DefaultMaxBlocks is the slot count used when no WithMaxBlocks option is given.
const DefaultMaxBlocks = 1024

var (
	hitMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pak",
		Subsystem: "memory_block_cache",
		Name:      "hits_total",
		Help:      "Number of block reads served from memory",
	})
	missMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pak",
		Subsystem: "memory_block_cache",
		Name:      "misses_total",
		Help:      "Number of block reads that went to the source",
	})
	evictionMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pak",
		Subsystem: "memory_block_cache",
		Name:      "evictions_total",
		Help:      "Number of blocks evicted to make room for new ones",
	})
)

type slot struct {
	key  cache.BlockKey
	data []byte
	used bool
}

// BlockCache is an in-memory cache of source blocks with least recently
// used eviction. It is safe for concurrent use.
type BlockCache struct {
	mu     sync.Mutex
	slots  []slot
	lookup map[cache.BlockKey]int
	order  *recency.Index
	// gens counts invalidations per source. Fills started under an older
	// generation are returned to their callers but not stored.
	gens map[string]uint64

	bytes      atomic.Int64
	fetchGroup singleflight.Group
	logger     *slog.Logger
	maxBlocks  int
	blockSize  int64
}

// Option configures a BlockCache.
type Option func(*BlockCache)

// WithMaxBlocks sets the number of block slots.
func WithMaxBlocks(n int) Option {
	return func(c *BlockCache) {
		c.maxBlocks = n
	}
}

// WithNominalBlockSize sets the block size used to report MaxBytes.
// It does not constrain the block size chosen at Wrap time.
func WithNominalBlockSize(n int64) Option {
	return func(c *BlockCache) {
		c.blockSize = n
	}
}

// WithLogger sets the logger for cache events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *BlockCache) {
		c.logger = logger
	}
}

// New creates an empty BlockCache.
func New(opts ...Option) (*BlockCache, error) {
	c := &BlockCache{
		maxBlocks: DefaultMaxBlocks,
		blockSize: cache.DefaultBlockSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBlocks <= 0 {
		return nil, errors.New("memory block cache: max blocks must be > 0")
	}
	c.slots = make([]slot, c.maxBlocks)
	c.lookup = make(map[cache.BlockKey]int, c.maxBlocks)
	c.gens = make(map[string]uint64)
	c.order = recency.New(c.maxBlocks)
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

// MaxBytes returns the slot count times the nominal block size.
func (c *BlockCache) MaxBytes() int64 {
	return int64(c.maxBlocks) * c.blockSize
}

// SizeBytes returns the number of bytes currently held.
func (c *BlockCache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Len returns the number of occupied slots.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lookup)
}

// Prune evicts least recently used blocks until at most targetBytes remain.
func (c *BlockCache) Prune(targetBytes int64) (int64, error) {
	targetBytes = max(targetBytes, 0)
	c.mu.Lock()
	defer c.mu.Unlock()

	var freed int64
	for i := range c.order.All() {
		if c.bytes.Load() <= targetBytes {
			break
		}
		freed += c.clearSlot(i)
	}
	return freed, nil
}

// Invalidate drops every block read from sourceID. The freed slots become
// the next ones reused.
func (c *BlockCache) Invalidate(sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[sourceID]++
	dropped := 0
	for i := range c.slots {
		if c.slots[i].used && c.slots[i].key.SourceID == sourceID {
			c.clearSlot(i)
			c.order.Flush(i)
			dropped++
		}
	}
	c.log().Debug("block cache invalidated", "source", sourceID, "blocks", dropped)
	return nil
}

// GetBlock implements cache.BlockStore.
func (c *BlockCache) GetBlock(key cache.BlockKey, blockLen int64, fetch func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.get(key, blockLen); ok {
		hitMetric.Inc()
		return data, nil
	}

	gen := c.generation(key.SourceID)
	flightKey := fmt.Sprintf("%s\x00%d\x00%d\x00%d", key.SourceID, key.BlockSize, key.Index, gen)
	result, err, _ := c.fetchGroup.Do(flightKey, func() (any, error) {
		if data, ok := c.get(key, blockLen); ok {
			return data, nil
		}
		missMetric.Inc()
		c.log().Debug("block cache miss", "source", key.SourceID, "block", key.Index)
		data, err := fetch()
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != blockLen {
			return nil, fmt.Errorf("memory block cache: block %d: got %d bytes, want %d", key.Index, len(data), blockLen)
		}
		c.put(key, data, gen)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (c *BlockCache) get(key cache.BlockKey, blockLen int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.lookup[key]
	if !ok {
		return nil, false
	}
	data := c.slots[i].data
	if int64(len(data)) != blockLen {
		c.clearSlot(i)
		c.order.Flush(i)
		return nil, false
	}
	c.order.Touch(i)
	return data, true
}

func (c *BlockCache) generation(sourceID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[sourceID]
}

func (c *BlockCache) put(key cache.BlockKey, data []byte, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key.SourceID] != gen {
		return
	}
	if i, ok := c.lookup[key]; ok {
		c.order.Touch(i)
		return
	}
	i := c.order.TouchLeastRecentlyUsed()
	if c.slots[i].used {
		evictionMetric.Inc()
		c.clearSlot(i)
	}
	c.slots[i] = slot{key: key, data: data, used: true}
	c.lookup[key] = i
	c.bytes.Add(int64(len(data)))
}

// clearSlot empties slot i and returns the bytes freed. c.mu must be held.
func (c *BlockCache) clearSlot(i int) int64 {
	s := &c.slots[i]
	if !s.used {
		return 0
	}
	n := int64(len(s.data))
	delete(c.lookup, s.key)
	*s = slot{}
	c.bytes.Add(-n)
	return n
}

var (
	_ cache.BlockCache = (*BlockCache)(nil)
	_ cache.BlockStore = (*BlockCache)(nil)
)
