// Package archive reads and writes pak archives.
//
// A pak holds a data section of stored files followed by a FlatBuffers
// index and a fixed-size trailer (see Magic). Open loads the index into a
// dirtree.Tree so lookups and directory listings never touch the source,
// then reads file bytes from the source on demand. An Archive answers
// compression.Resolver queries for the paths it holds.
package archive

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/meigma/pak/archive/internal/index"
	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/dirtree"
	"github.com/meigma/pak/internal/sizing"
)

// DefaultMaxFileSize is the default limit on stored and decoded file sizes.
const DefaultMaxFileSize = 256 << 20

// Archive provides read access to the files of one pak.
// It is safe for concurrent use.
type Archive struct {
	src        cache.ByteSource
	tree       *dirtree.Tree
	dataSize   uint64
	dataDigest string
	count      int

	name        string
	mountPrefix string
	policy      compression.ConflictResolution
	shared      bool
	maxFileSize uint64
	verify      bool
	logger      *slog.Logger
}

// Option configures an Archive.
type Option func(*Archive)

// WithName sets the name reported as compression.Info.ArchivePath.
// The default is the source ID.
func WithName(name string) Option {
	return func(a *Archive) {
		a.name = name
	}
}

// WithMountPrefix places the archive's files under prefix when answering
// FindCompressionInfo. Lookups outside the prefix never match.
func WithMountPrefix(prefix string) Option {
	return func(a *Archive) {
		a.mountPrefix = prefix
	}
}

// WithConflictResolution sets how the archive's files rank against loose
// files on disk.
func WithConflictResolution(policy compression.ConflictResolution) Option {
	return func(a *Archive) {
		a.policy = policy
	}
}

// WithSharedPak marks the archive as shared between several products.
func WithSharedPak(shared bool) Option {
	return func(a *Archive) {
		a.shared = shared
	}
}

// WithMaxFileSize limits the stored and decoded size of files read from
// the archive. Zero disables the limit.
func WithMaxFileSize(n uint64) Option {
	return func(a *Archive) {
		a.maxFileSize = n
	}
}

// WithVerify controls whether whole-file reads are checked against the
// stored SHA256. The default is true.
func WithVerify(verify bool) Option {
	return func(a *Archive) {
		a.verify = verify
	}
}

// WithLogger sets the logger for archive events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// Open reads the trailer and index of the pak in src.
//
// The index is loaded into memory and every entry is checked against the
// data section before Open returns, so later reads only fail on I/O,
// decoding, or hash errors.
func Open(src cache.ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		src:         src,
		maxFileSize: DefaultMaxFileSize,
		verify:      true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.name == "" {
		a.name = src.SourceID()
	}
	a.mountPrefix = cleanPrefix(a.mountPrefix)

	indexSize, dataSize, err := readTrailer(src, src.Size())
	if err != nil {
		return nil, err
	}
	off, n, err := sizing.Span(dataSize, indexSize, uint64(src.Size()), ErrSizeOverflow) //nolint:gosec // size is never negative
	if err != nil {
		return nil, err
	}
	indexData := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(src, off, n), indexData); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	idx, err := index.Load(indexData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	if idx.DataSize() != dataSize {
		return nil, fmt.Errorf("%w: index records %d data bytes, trailer implies %d",
			ErrInvalidArchive, idx.DataSize(), dataSize)
	}

	a.dataSize = dataSize
	a.dataDigest = idx.DataDigest()
	a.tree = dirtree.New()
	for e := range idx.Entries() {
		if err := a.addEntry(e); err != nil {
			return nil, err
		}
		a.count++
	}

	a.log().Debug("archive opened", "name", a.name, "files", a.count, "data_size", dataSize)
	return a, nil
}

func (a *Archive) addEntry(e index.Entry) error {
	end, ok := sizing.AddUint64(e.DataOffset, e.DataSize)
	if !ok || end > a.dataSize {
		return fmt.Errorf("%w: entry %s range overflows data section", ErrInvalidArchive, e.Path)
	}
	flags := dirtree.Flags(e.Flags)
	tag := compression.TagFromUint32(e.Compressor)
	if flags&dirtree.FlagCompressed == 0 && e.DataSize != e.OriginalSize {
		return fmt.Errorf("%w: uncompressed entry %s has stored size %d but size %d",
			ErrInvalidArchive, e.Path, e.DataSize, e.OriginalSize)
	}
	err := a.tree.Add(e.Path, dirtree.FileEntry{
		Range:            byterange.New(e.DataOffset, e.DataSize),
		UncompressedSize: e.OriginalSize,
		Compressor:       tag,
		Flags:            flags,
		Hash:             e.Hash,
		ModTime:          e.ModTime,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	return nil
}

func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Name returns the archive name.
func (a *Archive) Name() string { return a.name }

// MountPrefix returns the prefix under which the archive's files appear.
func (a *Archive) MountPrefix() string { return a.mountPrefix }

// ConflictResolution returns the archive's conflict policy.
func (a *Archive) ConflictResolution() compression.ConflictResolution { return a.policy }

// Source returns the byte source the archive reads from.
func (a *Archive) Source() cache.ByteSource { return a.src }

// Len returns the number of files in the archive.
func (a *Archive) Len() int { return a.count }

// DataDigest returns the digest of the data section recorded at creation.
func (a *Archive) DataDigest() string { return a.dataDigest }

// DataSize returns the size of the data section.
func (a *Archive) DataSize() uint64 { return a.dataSize }

// Tree returns the archive's directory tree. Callers must not modify it.
func (a *Archive) Tree() *dirtree.Tree { return a.tree }

// Entry returns the entry for name, a path relative to the archive root.
func (a *Archive) Entry(name string) (dirtree.FileEntry, bool) {
	e, ok := a.tree.Lookup(name)
	if !ok {
		return dirtree.FileEntry{}, false
	}
	return *e, true
}

// FindCompressionInfo implements compression.Provider. name is a mounted
// path; it matches when it lies under the mount prefix and names a file in
// the archive.
func (a *Archive) FindCompressionInfo(name string) (compression.Info, bool) {
	rel, ok := a.relative(name)
	if !ok {
		return compression.Info{}, false
	}
	e, ok := a.tree.Lookup(rel)
	if !ok || e.IsDeleted() {
		return compression.Info{}, false
	}
	return a.info(rel, e), true
}

func (a *Archive) info(rel string, e *dirtree.FileEntry) compression.Info {
	info := compression.Info{
		ArchivePath:        a.name,
		RelativePath:       rel,
		Tag:                e.Compressor,
		Offset:             e.Range.Offset(),
		CompressedSize:     e.Range.Size(),
		UncompressedSize:   e.UncompressedSize,
		ConflictResolution: a.policy,
		IsCompressed:       e.IsCompressed(),
		IsSharedPak:        a.shared,
	}
	if info.IsCompressed {
		info.Decompressor, _ = compression.Decompressor(e.Compressor)
	}
	return info
}

// relative maps a mounted path to a path inside the archive.
func (a *Archive) relative(name string) (string, bool) {
	name = cleanPrefix(name)
	if a.mountPrefix == "" {
		return name, true
	}
	if name == a.mountPrefix {
		return ".", true
	}
	rest, ok := strings.CutPrefix(name, a.mountPrefix+"/")
	return rest, ok
}

// cleanPrefix converts backslashes, cleans the path, and strips leading
// and trailing slashes.
func cleanPrefix(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}

var _ compression.Provider = (*Archive)(nil)
