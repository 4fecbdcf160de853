package archive

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/dirtree"
	"github.com/meigma/pak/internal/sizing"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// lookup resolves name, a path relative to the archive root, to a file entry.
func (a *Archive) lookup(op, name string) (*dirtree.FileEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.tree.Lookup(name)
	if !ok || e.IsDeleted() {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	return e, nil
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile reads, decompresses, and verifies the named file.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, err := a.lookup("readfile", name)
	if err != nil {
		return nil, err
	}
	data, err := a.readEntry(name, e)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// ReadRange returns the bytes of r within the named file's uncompressed
// content. r is clamped to the file size. For uncompressed files only the
// requested bytes are read from the source; compressed files are decoded
// in full first.
func (a *Archive) ReadRange(name string, r byterange.Range) ([]byte, error) {
	e, err := a.lookup("readrange", name)
	if err != nil {
		return nil, err
	}
	r = r.Clamp(e.UncompressedSize)
	if r.IsEntireFile() || (r.Offset() == 0 && r.Size() == e.UncompressedSize) {
		data, err := a.readEntry(name, e)
		if err != nil {
			return nil, &fs.PathError{Op: "readrange", Path: name, Err: err}
		}
		return data, nil
	}

	if e.IsCompressed() {
		data, err := a.readEntry(name, e)
		if err != nil {
			return nil, &fs.PathError{Op: "readrange", Path: name, Err: err}
		}
		return data[r.Offset():r.EndPoint()], nil
	}

	buf, err := a.readSource(e.Range.Offset()+r.Offset(), r.Size())
	if err != nil {
		return nil, &fs.PathError{Op: "readrange", Path: name, Err: err}
	}
	return buf, nil
}

// readEntry returns the full decoded content of e.
func (a *Archive) readEntry(rel string, e *dirtree.FileEntry) ([]byte, error) {
	info := a.info(rel, e)
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if a.maxFileSize > 0 && (info.CompressedSize > a.maxFileSize || info.UncompressedSize > a.maxFileSize) {
		return nil, ErrFileTooLarge
	}

	raw, err := a.readSource(info.Offset, info.CompressedSize)
	if err != nil {
		return nil, err
	}

	out := raw
	if info.IsCompressed {
		n, err := sizing.ToInt(info.UncompressedSize, ErrSizeOverflow)
		if err != nil {
			return nil, err
		}
		out = make([]byte, n)
		if err := info.Decompress(raw, out); err != nil {
			return nil, fmt.Errorf("decompress %s: %w", info.Tag, err)
		}
	}

	if a.verify && len(e.Hash) == sha256.Size {
		sum := sha256.Sum256(out)
		if !bytes.Equal(sum[:], e.Hash) {
			return nil, ErrHashMismatch
		}
	}
	return out, nil
}

// readSource reads length bytes at off from the data section.
func (a *Archive) readSource(off, length uint64) ([]byte, error) {
	start, n, err := sizing.Span(off, length, a.dataSize, ErrInvalidArchive)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(a.src, start, n), buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.tree.Lookup(name); ok && !e.IsDeleted() {
		return newFileInfo(baseName(name), e), nil
	}
	if _, ok := a.tree.LookupDir(name); ok {
		return dirInfo{name: baseName(name)}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	dir, ok := a.tree.LookupDir(name)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return listDir(dir), nil
}

// Open implements fs.FS.
//
// Files are read and verified in full on Open.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.tree.Lookup(name); ok && !e.IsDeleted() {
		data, err := a.readEntry(name, e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &openFile{Reader: bytes.NewReader(data), info: newFileInfo(baseName(name), e)}, nil
	}
	if dir, ok := a.tree.LookupDir(name); ok {
		return &openDir{name: name, entries: listDir(dir)}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// CompressionInfo returns the stored layout of name, a path relative to
// the archive root.
func (a *Archive) CompressionInfo(name string) (compression.Info, bool) {
	e, ok := a.tree.Lookup(name)
	if !ok || e.IsDeleted() {
		return compression.Info{}, false
	}
	return a.info(name, e), true
}
