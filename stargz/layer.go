// Package stargz mounts eStargz layer blobs as compression providers.
//
// Each regular file in an eStargz blob is stored as one or more gzip
// members. A Layer reports the span covering those members with TagGzip,
// so the generic gzip codec can decode the file from raw source bytes.
package stargz

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/cache"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/dirtree"
)

// ErrInvalidLayer is returned when the blob's TOC cannot be indexed.
var ErrInvalidLayer = errors.New("stargz: invalid layer")

// Layer is an opened eStargz blob. It is safe for concurrent use.
type Layer struct {
	src    cache.ByteSource
	reader *estargz.Reader
	tree   *dirtree.Tree
	count  int

	name        string
	mountPrefix string
	policy      compression.ConflictResolution
	logger      *slog.Logger
	openOpts    []estargz.OpenOption
}

// Option configures a Layer.
type Option func(*Layer)

// WithName sets the name reported as compression.Info.ArchivePath.
func WithName(name string) Option {
	return func(l *Layer) {
		l.name = name
	}
}

// WithMountPrefix places the layer's files under prefix.
func WithMountPrefix(prefix string) Option {
	return func(l *Layer) {
		l.mountPrefix = prefix
	}
}

// WithConflictResolution sets how the layer's files rank against loose files.
func WithConflictResolution(policy compression.ConflictResolution) Option {
	return func(l *Layer) {
		l.policy = policy
	}
}

// WithOpenOptions passes options through to estargz.Open.
func WithOpenOptions(opts ...estargz.OpenOption) Option {
	return func(l *Layer) {
		l.openOpts = append(l.openOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) {
		l.logger = logger
	}
}

// Open parses the TOC of the eStargz blob in src and indexes its regular files.
func Open(src cache.ByteSource, opts ...Option) (*Layer, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidLayer)
	}
	l := &Layer{src: src, tree: dirtree.New()}
	for _, opt := range opts {
		opt(l)
	}
	if l.name == "" {
		l.name = src.SourceID()
	}
	l.mountPrefix = strings.Trim(path.Clean("/"+l.mountPrefix), "/")

	r, err := estargz.Open(io.NewSectionReader(src, 0, src.Size()), l.openOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayer, err)
	}
	l.reader = r

	root, ok := r.Lookup("")
	if !ok {
		return nil, fmt.Errorf("%w: missing root entry", ErrInvalidLayer)
	}
	if err := l.index("", root); err != nil {
		return nil, err
	}
	l.log().Debug("stargz layer opened", "name", l.name, "files", l.count, "toc", r.TOCDigest())
	return l, nil
}

func (l *Layer) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

func (l *Layer) index(dir string, ent *estargz.TOCEntry) error {
	var err error
	ent.ForeachChild(func(name string, child *estargz.TOCEntry) bool {
		p := path.Join(dir, name)
		switch child.Type {
		case "dir":
			err = l.index(p, child)
		case "reg":
			err = l.addFile(p, child)
		}
		return err == nil
	})
	return err
}

func (l *Layer) addFile(name string, ent *estargz.TOCEntry) error {
	if ent.Size < 0 {
		return fmt.Errorf("%w: %s has negative size", ErrInvalidLayer, name)
	}
	fe := dirtree.FileEntry{
		UncompressedSize: uint64(ent.Size),
		Flags:            dirtree.FlagInitialized,
		ModTime:          ent.ModTime(),
	}
	if d, err := digest.Parse(ent.Digest); err == nil {
		if sum, err := hex.DecodeString(d.Encoded()); err == nil {
			fe.Hash = sum
		}
	}
	if ent.Size == 0 {
		fe.Range = byterange.New(0, 0)
	} else {
		start, end, err := l.span(name, ent)
		if err != nil {
			return err
		}
		fe.Range = byterange.New(uint64(start), uint64(end-start)) //nolint:gosec // checked non-negative in span
		fe.Compressor = compression.TagGzip
		fe.Flags |= dirtree.FlagCompressed
	}
	if err := l.tree.Add(name, fe); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLayer, err)
	}
	l.count++
	return nil
}

// span returns the blob offsets of the gzip members holding every chunk
// of the file.
func (l *Layer) span(name string, ent *estargz.TOCEntry) (start, end int64, err error) {
	start = ent.Offset
	last := ent
	for off := chunkEnd(ent); off < ent.Size; {
		c, ok := l.reader.ChunkEntryForOffset(name, off)
		if !ok || chunkEnd(c) <= off {
			return 0, 0, fmt.Errorf("%w: %s missing chunk at %d", ErrInvalidLayer, name, off)
		}
		last = c
		off = chunkEnd(c)
	}
	end = last.NextOffset()
	if start < 0 || end <= start || end > l.src.Size() {
		return 0, 0, fmt.Errorf("%w: %s has bad member span [%d, %d)", ErrInvalidLayer, name, start, end)
	}
	return start, end, nil
}

func chunkEnd(e *estargz.TOCEntry) int64 {
	if e.ChunkSize == 0 {
		return e.Size
	}
	return e.ChunkOffset + e.ChunkSize
}

// Name returns the name reported as compression.Info.ArchivePath.
func (l *Layer) Name() string { return l.name }

// Source returns the blob source.
func (l *Layer) Source() cache.ByteSource { return l.src }

// Tree returns the layer's directory index.
func (l *Layer) Tree() *dirtree.Tree { return l.tree }

// Len returns the number of regular files.
func (l *Layer) Len() int { return l.count }

// TOCDigest returns the digest of the layer's TOC JSON.
func (l *Layer) TOCDigest() digest.Digest { return l.reader.TOCDigest() }

// FindCompressionInfo implements compression.Provider.
func (l *Layer) FindCompressionInfo(name string) (compression.Info, bool) {
	rel, ok := l.relative(name)
	if !ok {
		return compression.Info{}, false
	}
	e, ok := l.tree.Lookup(rel)
	if !ok {
		return compression.Info{}, false
	}
	return l.info(rel, e), true
}

func (l *Layer) info(rel string, e *dirtree.FileEntry) compression.Info {
	info := compression.Info{
		ArchivePath:        l.name,
		RelativePath:       rel,
		Tag:                compression.Tag(e.Compressor),
		Offset:             e.Range.Offset(),
		CompressedSize:     e.Range.Size(),
		UncompressedSize:   e.UncompressedSize,
		ConflictResolution: l.policy,
		IsCompressed:       e.IsCompressed(),
	}
	if info.IsCompressed {
		info.Decompressor, _ = compression.Decompressor(info.Tag)
	}
	return info
}

func (l *Layer) relative(name string) (string, bool) {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if l.mountPrefix == "" {
		return name, name != ""
	}
	rest, ok := strings.CutPrefix(name, l.mountPrefix+"/")
	return rest, ok && rest != ""
}

// ReadFile reads the named regular file through the estargz reader.
func (l *Layer) ReadFile(name string) ([]byte, error) {
	sr, e, err := l.open("readfile", name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, e.UncompressedSize)
	if _, err := io.ReadFull(sr, buf); err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return buf, nil
}

// ReadRange returns the bytes of r within the named file, clamped to its size.
func (l *Layer) ReadRange(name string, r byterange.Range) ([]byte, error) {
	sr, e, err := l.open("readrange", name)
	if err != nil {
		return nil, err
	}
	r = r.Clamp(e.UncompressedSize)
	buf := make([]byte, r.Size())
	n, err := sr.ReadAt(buf, int64(r.Offset())) //nolint:gosec // clamped to file size
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, &fs.PathError{Op: "readrange", Path: name, Err: err}
	}
	return buf, nil
}

func (l *Layer) open(op, name string) (*io.SectionReader, *dirtree.FileEntry, error) {
	if !fs.ValidPath(name) {
		return nil, nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	e, ok := l.tree.Lookup(name)
	if !ok {
		return nil, nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	sr, err := l.reader.OpenFile(name)
	if err != nil {
		return nil, nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return sr, e, nil
}

// Stat returns file info for a regular file or directory.
func (l *Layer) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := l.tree.Lookup(name); ok {
		return fileInfo{name: path.Base(name), entry: *e}, nil
	}
	if _, ok := l.tree.LookupDir(name); ok {
		return dirInfo(path.Base(name)), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}
