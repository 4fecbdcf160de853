package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/pak/cache"
)

// fileSource wraps *os.File to implement cache.ByteSource.
// os.File has ReadAt but not Size, so the size is captured at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

// NewFileSource returns a ByteSource reading from f. The source ID is
// derived from the file's absolute path, size, and modification time, so a
// rewritten pak gets a new ID and never hits stale cached blocks.
func NewFileSource(f *os.File) (cache.ByteSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pak file: %w", err)
	}
	absPath, err := filepath.Abs(f.Name())
	if err != nil {
		absPath = f.Name()
	}
	return &fileSource{
		file:     f,
		size:     info.Size(),
		sourceID: fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *fileSource) Size() int64 {
	return s.size
}

func (s *fileSource) SourceID() string {
	return s.sourceID
}

// File is an Archive backed by a local file handle.
// Close must be called to release the handle.
type File struct {
	*Archive
	file *os.File
}

// Close closes the underlying file.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// OpenFile opens the pak at path for random access.
// WithName defaults to the base name of path.
func OpenFile(path string, opts ...Option) (*File, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open pak: %w", err)
	}
	src, err := NewFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	opts = append([]Option{WithName(filepath.Base(path))}, opts...)
	a, err := Open(src, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open pak %s: %w", path, err)
	}
	return &File{Archive: a, file: f}, nil
}

var _ cache.ByteSource = (*fileSource)(nil)
