// Package dirtree provides the in-memory directory index of a single archive.
//
// A Tree is one directory level: it owns its subdirectories and its file
// entries, each kept in an ordered map keyed by name. Trees are built once
// when an archive is opened and are read-mostly afterwards. Concurrent reads
// are safe once construction is complete; any later mutation requires
// external locking.
package dirtree

import (
	"errors"
	"io/fs"
	"iter"
	"strings"

	"github.com/google/btree"
)

const degree = 16

type dirItem struct {
	name string
	tree *Tree
}

type fileItem struct {
	name  string
	entry *FileEntry
}

func lessDir(a, b dirItem) bool   { return a.name < b.name }
func lessFile(a, b fileItem) bool { return a.name < b.name }

// Tree is one directory level of an archive. The zero value is an empty tree.
type Tree struct {
	dirs  *btree.BTreeG[dirItem]
	files *btree.BTreeG[fileItem]
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

func (t *Tree) dirMap() *btree.BTreeG[dirItem] {
	if t.dirs == nil {
		t.dirs = btree.NewG(degree, lessDir)
	}
	return t.dirs
}

func (t *Tree) fileMap() *btree.BTreeG[fileItem] {
	if t.files == nil {
		t.files = btree.NewG(degree, lessFile)
	}
	return t.files
}

// Add inserts a copy of template at path, creating intermediate directories
// as needed. The stored entry is marked initialized.
//
// Add never overwrites: it returns a NameConflict error if any directory
// component is already a file, or if the leaf already exists as either a
// file or a directory.
func (t *Tree) Add(path string, template FileEntry) error {
	dir, leaf, err := t.walkCreate(path)
	if err != nil {
		return err
	}
	if _, ok := dir.FindDir(leaf); ok {
		return errorf(NameConflict, "add %s: %q is a directory", path, leaf)
	}
	if _, ok := dir.FindFile(leaf); ok {
		return errorf(NameConflict, "add %s: file already exists", path)
	}
	e := template
	e.Flags |= FlagInitialized
	dir.fileMap().ReplaceOrInsert(fileItem{name: leaf, entry: &e})
	return nil
}

// AddEntry returns the entry stored at path, creating an uninitialized
// placeholder if none exists. Callers check IsInitialized to tell the two
// apart and fill in new placeholders.
func (t *Tree) AddEntry(path string) (*FileEntry, error) {
	dir, leaf, err := t.walkCreate(path)
	if err != nil {
		return nil, err
	}
	if e, ok := dir.FindFile(leaf); ok {
		return e, nil
	}
	if _, ok := dir.FindDir(leaf); ok {
		return nil, errorf(NameConflict, "add %s: %q is a directory", path, leaf)
	}
	e := &FileEntry{}
	dir.fileMap().ReplaceOrInsert(fileItem{name: leaf, entry: e})
	return e, nil
}

// walkCreate descends to the parent directory of path, creating missing
// directories, and returns it together with the leaf name.
func (t *Tree) walkCreate(path string) (*Tree, string, error) {
	parts, err := split(path)
	if err != nil {
		return nil, "", err
	}
	dir := t
	for _, name := range parts[:len(parts)-1] {
		if _, ok := dir.FindFile(name); ok {
			return nil, "", errorf(NameConflict, "add %s: %q is a file", path, name)
		}
		sub, ok := dir.FindDir(name)
		if !ok {
			sub = New()
			dir.dirMap().ReplaceOrInsert(dirItem{name: name, tree: sub})
		}
		dir = sub
	}
	return dir, parts[len(parts)-1], nil
}

// FindDir returns the immediate subdirectory called name.
func (t *Tree) FindDir(name string) (*Tree, bool) {
	if t.dirs == nil {
		return nil, false
	}
	it, ok := t.dirs.Get(dirItem{name: name})
	return it.tree, ok
}

// FindFile returns the immediate file entry called name.
func (t *Tree) FindFile(name string) (*FileEntry, bool) {
	if t.files == nil {
		return nil, false
	}
	it, ok := t.files.Get(fileItem{name: name})
	return it.entry, ok
}

// LookupDir returns the directory at a slash-separated path relative to t.
// The paths "", "." and "/" name t itself.
func (t *Tree) LookupDir(path string) (*Tree, bool) {
	path = normalize(path)
	if path == "" || path == "." {
		return t, true
	}
	parts, err := split(path)
	if err != nil {
		return nil, false
	}
	dir := t
	for _, name := range parts {
		sub, ok := dir.FindDir(name)
		if !ok {
			return nil, false
		}
		dir = sub
	}
	return dir, true
}

// Lookup returns the file entry at a slash-separated path relative to t.
func (t *Tree) Lookup(path string) (*FileEntry, bool) {
	parts, err := split(path)
	if err != nil {
		return nil, false
	}
	dir := t
	for _, name := range parts[:len(parts)-1] {
		sub, ok := dir.FindDir(name)
		if !ok {
			return nil, false
		}
		dir = sub
	}
	return dir.FindFile(parts[len(parts)-1])
}

// RemoveDir removes the immediate subdirectory called name and everything
// below it. Removing a directory that does not exist is not an error.
func (t *Tree) RemoveDir(name string) {
	if t.dirs == nil {
		return
	}
	if it, ok := t.dirs.Delete(dirItem{name: name}); ok {
		it.tree.Clear()
	}
}

// RemoveFile removes the immediate file entry called name. Removing a file
// that does not exist is not an error.
func (t *Tree) RemoveFile(name string) {
	if t.files == nil {
		return
	}
	t.files.Delete(fileItem{name: name})
}

// NumFilesTotal returns the number of files in t and all its descendants.
func (t *Tree) NumFilesTotal() int {
	n := 0
	if t.files != nil {
		n = t.files.Len()
	}
	for _, sub := range t.Dirs() {
		n += sub.NumFilesTotal()
	}
	return n
}

// NumDirsTotal returns the number of directories below t, recursively.
func (t *Tree) NumDirsTotal() int {
	n := 0
	for _, sub := range t.Dirs() {
		n += 1 + sub.NumDirsTotal()
	}
	return n
}

// Swap exchanges the contents of t and other.
func (t *Tree) Swap(other *Tree) {
	t.dirs, other.dirs = other.dirs, t.dirs
	t.files, other.files = other.files, t.files
}

// IsOwnerOf reports whether entry is stored directly in t.
// It compares identity, not contents.
func (t *Tree) IsOwnerOf(entry *FileEntry) bool {
	if t.files == nil || entry == nil {
		return false
	}
	found := false
	t.files.Ascend(func(it fileItem) bool {
		found = it.entry == entry
		return !found
	})
	return found
}

// Clear removes every file and directory below t.
func (t *Tree) Clear() {
	for _, sub := range t.Dirs() {
		sub.Clear()
	}
	t.dirs = nil
	t.files = nil
}

// IsEmpty reports whether t has no files and no subdirectories.
func (t *Tree) IsEmpty() bool {
	return (t.dirs == nil || t.dirs.Len() == 0) && (t.files == nil || t.files.Len() == 0)
}

// Dirs returns an iterator over the immediate subdirectories in name order.
func (t *Tree) Dirs() iter.Seq2[string, *Tree] {
	return func(yield func(string, *Tree) bool) {
		if t.dirs == nil {
			return
		}
		t.dirs.Ascend(func(it dirItem) bool {
			return yield(it.name, it.tree)
		})
	}
}

// Files returns an iterator over the immediate file entries in name order.
func (t *Tree) Files() iter.Seq2[string, *FileEntry] {
	return func(yield func(string, *FileEntry) bool) {
		if t.files == nil {
			return
		}
		t.files.Ascend(func(it fileItem) bool {
			return yield(it.name, it.entry)
		})
	}
}

// WalkFunc is called by Walk for every file. Returning fs.SkipAll stops the
// walk without error; any other error stops the walk and is returned.
type WalkFunc func(path string, entry *FileEntry) error

// Walk visits every file below t depth-first. Within a directory, files are
// visited in name order before subdirectories, which are also visited in
// name order.
func (t *Tree) Walk(fn WalkFunc) error {
	err := t.walk("", fn)
	if errors.Is(err, fs.SkipAll) {
		return nil
	}
	return err
}

func (t *Tree) walk(prefix string, fn WalkFunc) error {
	for name, e := range t.Files() {
		if err := fn(prefix+name, e); err != nil {
			return err
		}
	}
	for name, sub := range t.Dirs() {
		if err := sub.walk(prefix+name+"/", fn); err != nil {
			return err
		}
	}
	return nil
}

func normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	return strings.TrimPrefix(path, "/")
}

// split validates path and returns its components.
func split(path string) ([]string, error) {
	p := normalize(path)
	if p == "" || p == "." || !fs.ValidPath(p) {
		return nil, errorf(InvalidPath, "invalid path %q", path)
	}
	return strings.Split(p, "/"), nil
}
