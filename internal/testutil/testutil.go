// Package testutil holds fakes and fixtures shared by package tests.
package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

// MockByteSource implements a simple in-memory byte source for tests.
// It counts ReadAt and ReadRange calls so tests can observe cache behavior.
type MockByteSource struct {
	data     []byte
	sourceID string

	reads      atomic.Int64
	rangeReads atomic.Int64
	failMu     sync.Mutex
	failWith   error
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// WithSourceID overrides the source ID and returns m.
func (m *MockByteSource) WithSourceID(id string) *MockByteSource {
	m.sourceID = id
	return m
}

// FailWith makes every subsequent read return err. Pass nil to clear.
func (m *MockByteSource) FailWith(err error) {
	m.failMu.Lock()
	m.failWith = err
	m.failMu.Unlock()
}

func (m *MockByteSource) failure() error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	return m.failWith
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if err := m.failure(); err != nil {
		return 0, err
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls made so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// RangeSource is a MockByteSource that also serves ReadRange.
type RangeSource struct {
	*MockByteSource
}

// NewRangeSource returns a RangeSource backed by data.
func NewRangeSource(data []byte) *RangeSource {
	return &RangeSource{MockByteSource: NewMockByteSource(data)}
}

// ReadRange returns a reader over length bytes starting at off.
func (r *RangeSource) ReadRange(off, length int64) (io.ReadCloser, error) {
	r.rangeReads.Add(1)
	if err := r.failure(); err != nil {
		return nil, err
	}
	end := min(off+length, int64(len(r.data)))
	if off > end {
		off = end
	}
	return io.NopCloser(bytes.NewReader(r.data[off:end])), nil
}

// RangeReads returns the number of ReadRange calls made so far.
func (r *RangeSource) RangeReads() int64 {
	return r.rangeReads.Load()
}

// WriteTree creates files under dir from a map of slash-separated relative
// paths to contents.
func WriteTree(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
			tb.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
}
