package archive

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/meigma/pak/dirtree"
)

// fileInfo implements fs.FileInfo for archive files.
type fileInfo struct {
	name  string
	entry dirtree.FileEntry
}

func newFileInfo(name string, e *dirtree.FileEntry) fileInfo {
	return fileInfo{name: name, entry: *e}
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.entry.UncompressedSize) } //nolint:gosec // bounded by byterange.MaxOffset
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return fi.entry.ModTime }
func (fi fileInfo) IsDir() bool        { return false }

// Sys returns the underlying *dirtree.FileEntry.
func (fi fileInfo) Sys() any { return &fi.entry }

// dirInfo implements fs.FileInfo for directories, which exist only as path
// components of stored files.
type dirInfo struct {
	name string
}

func (di dirInfo) Name() string       { return di.name }
func (di dirInfo) Size() int64        { return 0 }
func (di dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di dirInfo) ModTime() time.Time { return time.Time{} }
func (di dirInfo) IsDir() bool        { return true }
func (di dirInfo) Sys() any           { return nil }

func baseName(name string) string {
	if name == "." || name == "" {
		return "."
	}
	return path.Base(name)
}

// listDir returns the entries of dir sorted by name.
func listDir(dir *dirtree.Tree) []fs.DirEntry {
	var entries []fs.DirEntry
	for name := range dir.Dirs() {
		entries = append(entries, fs.FileInfoToDirEntry(dirInfo{name: name}))
	}
	for name, e := range dir.Files() {
		if e.IsDeleted() {
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(newFileInfo(name, e)))
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries
}

// openFile is an fs.File over fully read content.
type openFile struct {
	*bytes.Reader
	info fileInfo
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *openFile) Close() error               { return nil }

// openDir implements fs.ReadDirFile.
type openDir struct {
	name    string
	entries []fs.DirEntry
	offset  int
}

func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) { return dirInfo{name: baseName(d.name)}, nil }
func (d *openDir) Close() error               { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}
