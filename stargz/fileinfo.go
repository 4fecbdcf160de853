package stargz

import (
	"io/fs"
	"time"

	"github.com/meigma/pak/dirtree"
)

type fileInfo struct {
	name  string
	entry dirtree.FileEntry
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.entry.UncompressedSize) } //nolint:gosec // from a non-negative int64
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return fi.entry.ModTime }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return &fi.entry }

type dirInfo string

func (di dirInfo) Name() string       { return string(di) }
func (di dirInfo) Size() int64        { return 0 }
func (di dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di dirInfo) ModTime() time.Time { return time.Time{} }
func (di dirInfo) IsDir() bool        { return true }
func (di dirInfo) Sys() any           { return nil }
