package pak

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/patch"
)

// Streamer resolves asset paths across mounted archives and loose files.
// It is safe for concurrent use.
type Streamer struct {
	mu     sync.RWMutex
	mounts map[MountID]*mount
	order  []MountID
	closed bool

	resolver   *compression.Resolver
	blockCache cache.BlockCache
	loose      *os.Root
	patcher    *patch.Patcher

	manifests         *lru.Cache[string, *patch.Node]
	manifestGroup     singleflight.Group
	manifestCacheSize int
	// manifestMu orders cache fills against purges; manifestGen counts purges.
	manifestMu  sync.Mutex
	manifestGen atomic.Uint64

	defaultPolicy      compression.ConflictResolution
	preloadConcurrency int
	logger             *slog.Logger
}

// New creates a Streamer with no mounts.
func New(opts ...Option) (*Streamer, error) {
	s := &Streamer{
		mounts:             make(map[MountID]*mount),
		manifestCacheSize:  DefaultManifestCacheSize,
		preloadConcurrency: DefaultPreloadConcurrency,
		defaultPolicy:      compression.PreferFile,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			if s.loose != nil {
				_ = s.loose.Close()
			}
			return nil, err
		}
	}

	s.resolver = compression.NewResolver(compression.WithResolverLogger(s.logger))
	if s.patcher == nil {
		s.patcher = patch.New(patch.WithLogger(s.logger))
	}
	manifests, err := lru.New[string, *patch.Node](s.manifestCacheSize)
	if err != nil {
		return nil, err
	}
	s.manifests = manifests
	return s, nil
}

func (s *Streamer) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Resolver returns the compression resolver holding the mounted archives.
func (s *Streamer) Resolver() *compression.Resolver {
	return s.resolver
}

// Patcher returns the patcher applied by LoadXML.
func (s *Streamer) Patcher() *patch.Patcher {
	return s.patcher
}

// Close unmounts every archive and releases the loose root.
func (s *Streamer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := append([]MountID(nil), s.order...)
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.Unmount(id); err != nil && !errors.Is(err, ErrNotMounted) {
			errs = append(errs, err)
		}
	}
	if s.loose != nil {
		errs = append(errs, s.loose.Close())
	}
	s.purgeManifests()
	return errors.Join(errs...)
}
