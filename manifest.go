package pak

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/pak/patch"
)

// LoadXML reads name, parses it as XML, and applies the patch document.
//
// Results are cached per path until a mount changes or the patch document
// is reloaded. The returned tree is shared between callers and must not be
// modified.
func (s *Streamer) LoadXML(name string) (*patch.Node, error) {
	p, err := cleanPath("loadxml", name)
	if err != nil {
		return nil, err
	}
	if n, ok := s.manifests.Get(p); ok {
		return n, nil
	}

	// A load that started before a purge must neither be joined by later
	// callers nor fill the cache after it.
	gen := s.manifestGen.Load()
	v, err, _ := s.manifestGroup.Do(fmt.Sprintf("%d\x00%s", gen, p), func() (any, error) {
		if n, ok := s.manifests.Get(p); ok {
			return n, nil
		}
		data, err := s.ReadFile(p)
		if err != nil {
			return nil, err
		}
		base, err := patch.ParseXML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		n := s.patcher.ApplyXMLDataPatch(base, p)
		s.manifestMu.Lock()
		if s.manifestGen.Load() == gen {
			s.manifests.Add(p, n)
		}
		s.manifestMu.Unlock()
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*patch.Node), nil //nolint:forcetypeassert // only *patch.Node is stored
}

// LoadPatches replaces the patch document from XML data and drops cached
// manifests.
func (s *Streamer) LoadPatches(data []byte) error {
	if err := s.patcher.LoadXML(data); err != nil {
		return err
	}
	s.purgeManifests()
	return nil
}

// LoadPatchFile is LoadPatches for a file on disk.
func (s *Streamer) LoadPatchFile(name string) error {
	if err := s.patcher.LoadFile(name); err != nil {
		return err
	}
	s.purgeManifests()
	return nil
}

// SetPatchingEnabled turns patching on or off and drops cached manifests.
func (s *Streamer) SetPatchingEnabled(enabled bool) {
	s.patcher.SetEnabled(enabled)
	s.purgeManifests()
}

// purgeManifests drops cached manifests and invalidates loads in flight.
func (s *Streamer) purgeManifests() {
	s.manifestMu.Lock()
	s.manifestGen.Add(1)
	s.manifests.Purge()
	s.manifestMu.Unlock()
}

// Preload reads every path concurrently so its blocks land in the block
// cache. It stops at the first error.
func (s *Streamer) Preload(ctx context.Context, paths ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.preloadConcurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.ReadFile(p); err != nil {
				return fmt.Errorf("preload %s: %w", p, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log().Debug("preload complete", "files", len(paths))
	return nil
}

// dirPrefetcher is implemented by mounts that can fetch a whole directory
// with few source reads.
type dirPrefetcher interface {
	PrefetchMountDir(ctx context.Context, dir string) error
}

// PreloadDir warms the block cache with every file below dir in each mount
// that supports directory prefetch.
func (s *Streamer) PreloadDir(ctx context.Context, dir string) error {
	s.mu.RLock()
	var targets []dirPrefetcher
	for _, id := range s.order {
		if p, ok := s.mounts[id].m.(dirPrefetcher); ok {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if err := p.PrefetchMountDir(ctx, dir); err != nil {
			return fmt.Errorf("preload dir %s: %w", dir, err)
		}
	}
	return nil
}
