package pak

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/patch"
)

// Defaults for New.
const (
	DefaultManifestCacheSize  = 256
	DefaultPreloadConcurrency = 8
)

// Option configures a Streamer.
type Option func(*Streamer) error

// WithLogger sets the logger used by the Streamer and the components it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Streamer) error {
		s.logger = logger
		return nil
	}
}

// WithBlockCache wraps every mounted source with bc.
func WithBlockCache(bc cache.BlockCache) Option {
	return func(s *Streamer) error {
		s.blockCache = bc
		return nil
	}
}

// WithLooseRoot serves loose files from dir. Paths never escape dir.
func WithLooseRoot(dir string) Option {
	return func(s *Streamer) error {
		root, err := os.OpenRoot(dir)
		if err != nil {
			return fmt.Errorf("open loose root: %w", err)
		}
		if s.loose != nil {
			_ = s.loose.Close()
		}
		s.loose = root
		return nil
	}
}

// WithDefaultConflictResolution sets the policy for paths no archive holds.
// UseArchiveOnly hides loose files entirely. The default is PreferFile.
func WithDefaultConflictResolution(policy compression.ConflictResolution) Option {
	return func(s *Streamer) error {
		s.defaultPolicy = policy
		return nil
	}
}

// WithPatcher sets the patcher applied to XML loaded with LoadXML.
func WithPatcher(p *patch.Patcher) Option {
	return func(s *Streamer) error {
		if p == nil {
			return errors.New("pak: nil patcher")
		}
		s.patcher = p
		return nil
	}
}

// WithManifestCacheSize sets how many patched XML documents are kept.
func WithManifestCacheSize(n int) Option {
	return func(s *Streamer) error {
		if n <= 0 {
			return fmt.Errorf("pak: manifest cache size %d must be positive", n)
		}
		s.manifestCacheSize = n
		return nil
	}
}

// WithPreloadConcurrency limits concurrent reads during Preload.
func WithPreloadConcurrency(n int) Option {
	return func(s *Streamer) error {
		if n <= 0 {
			return fmt.Errorf("pak: preload concurrency %d must be positive", n)
		}
		s.preloadConcurrency = n
		return nil
	}
}
