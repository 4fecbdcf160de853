package pak

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/stargz"
)

// MountID identifies one mount of an archive.
type MountID uuid.UUID

// String returns the canonical UUID form of id.
func (id MountID) String() string {
	return uuid.UUID(id).String()
}

// ParseMountID parses the canonical UUID form produced by MountID.String.
func ParseMountID(s string) (MountID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MountID{}, fmt.Errorf("parse mount id: %w", err)
	}
	return MountID(u), nil
}

// Mountable is an opened archive the Streamer can serve files from.
// FindCompressionInfo takes mount-relative paths (including any mount
// prefix); the read methods take paths relative to the archive root, as
// reported in compression.Info.RelativePath.
type Mountable interface {
	compression.Provider
	Name() string
	ReadFile(name string) ([]byte, error)
	ReadRange(name string, r byterange.Range) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
}

// Opener opens a Mountable over a (possibly cache-wrapped) byte source.
type Opener func(src cache.ByteSource) (Mountable, error)

// ArchiveOpener opens pak archives.
func ArchiveOpener(opts ...archive.Option) Opener {
	return func(src cache.ByteSource) (Mountable, error) {
		return archive.Open(src, opts...)
	}
}

// StargzOpener opens eStargz layer blobs.
func StargzOpener(opts ...stargz.Option) Opener {
	return func(src cache.ByteSource) (Mountable, error) {
		return stargz.Open(src, opts...)
	}
}

// MountInfo describes a current mount.
type MountInfo struct {
	ID       MountID
	Name     string
	SourceID string
	Size     int64
}

type mount struct {
	id     MountID
	m      Mountable
	src    cache.ByteSource
	closer io.Closer
}

// Mount opens src with open and registers the result with the resolver.
// Archives mounted earlier win lookups for paths held by several archives.
func (s *Streamer) Mount(src cache.ByteSource, open Opener) (MountID, error) {
	return s.mount(src, open, nil)
}

// MountFile opens the file at path and mounts it. The file is closed on
// Unmount.
func (s *Streamer) MountFile(path string, open Opener) (MountID, error) {
	f, err := os.Open(path) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return MountID{}, fmt.Errorf("mount %s: %w", path, err)
	}
	src, err := archive.NewFileSource(f)
	if err != nil {
		f.Close()
		return MountID{}, fmt.Errorf("mount %s: %w", path, err)
	}
	id, err := s.mount(src, open, f)
	if err != nil {
		f.Close()
		return MountID{}, fmt.Errorf("mount %s: %w", path, err)
	}
	return id, nil
}

func (s *Streamer) mount(src cache.ByteSource, open Opener, closer io.Closer) (MountID, error) {
	if src == nil || open == nil {
		return MountID{}, ErrNilSource
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return MountID{}, ErrClosed
	}

	readSrc := src
	if s.blockCache != nil {
		wrapped, err := s.blockCache.Wrap(src)
		if err != nil {
			return MountID{}, fmt.Errorf("wrap source: %w", err)
		}
		readSrc = wrapped
	}
	m, err := open(readSrc)
	if err != nil {
		return MountID{}, err
	}

	mt := &mount{id: MountID(uuid.New()), m: m, src: src, closer: closer}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return MountID{}, ErrClosed
	}
	s.mounts[mt.id] = mt
	s.order = append(s.order, mt.id)
	s.resolver.Register(m)
	s.mu.Unlock()

	s.purgeManifests()
	s.log().Info("archive mounted", "id", mt.id.String(), "name", m.Name(), "source_id", src.SourceID(), "size", src.Size())
	return mt.id, nil
}

// Unmount removes the archive mounted as id and drops its cached blocks.
func (s *Streamer) Unmount(id MountID) error {
	s.mu.Lock()
	mt, ok := s.mounts[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotMounted, id)
	}
	delete(s.mounts, id)
	s.order = slices.DeleteFunc(s.order, func(o MountID) bool { return o == id })
	s.resolver.Unregister(mt.m)
	s.mu.Unlock()

	s.purgeManifests()

	var errs []error
	if s.blockCache != nil {
		if err := s.blockCache.Invalidate(mt.src.SourceID()); err != nil {
			errs = append(errs, fmt.Errorf("invalidate cached blocks: %w", err))
		}
	}
	if mt.closer != nil {
		errs = append(errs, mt.closer.Close())
	}
	s.log().Info("archive unmounted", "id", id.String(), "name", mt.m.Name())
	return errors.Join(errs...)
}

// Mounts lists current mounts in resolution order.
func (s *Streamer) Mounts() []MountInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MountInfo, 0, len(s.order))
	for _, id := range s.order {
		mt := s.mounts[id]
		out = append(out, MountInfo{
			ID:       id,
			Name:     mt.m.Name(),
			SourceID: mt.src.SourceID(),
			Size:     mt.src.Size(),
		})
	}
	return out
}
