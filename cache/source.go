package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/meigma/pak/byterange"
)

// BlockKey identifies one cached block.
type BlockKey struct {
	SourceID  string
	BlockSize int64
	Index     int64
}

// BlockStore is the storage side of a block cache. GetBlock returns the
// block for key, calling fetch to read it from the source on a miss.
// The returned slice must hold exactly blockLen bytes and must not be
// modified by the caller.
type BlockStore interface {
	GetBlock(key BlockKey, blockLen int64, fetch func() ([]byte, error)) ([]byte, error)
}

var (
	errNilSource       = errors.New("block cache: source is nil")
	errEmptySourceID   = errors.New("block cache: source id is empty")
	errInvalidBlockLen = errors.New("block cache: block size must be in (0, MaxInt]")
)

// NewBlockSource returns a ByteSource that splits reads of src into blocks
// and serves each block through store. Block caches use it to implement Wrap.
func NewBlockSource(src ByteSource, store BlockStore, opts ...WrapOption) (ByteSource, error) {
	if src == nil {
		return nil, errNilSource
	}
	cfg := DefaultWrapConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BlockSize <= 0 || cfg.BlockSize > math.MaxInt {
		return nil, errInvalidBlockLen
	}
	id := src.SourceID()
	if id == "" {
		return nil, errEmptySourceID
	}
	return &blockSource{src: src, store: store, id: id, cfg: cfg}, nil
}

type blockSource struct {
	src   ByteSource
	store BlockStore
	id    string
	cfg   WrapConfig
}

// Unwrap returns the underlying source.
func (s *blockSource) Unwrap() ByteSource { return s.src }

func (s *blockSource) Size() int64 { return s.src.Size() }

func (s *blockSource) SourceID() string { return s.id }

// block returns the byte span of block i, clipped to the source size.
func (s *blockSource) block(i int64, size uint64) byterange.Range {
	start := uint64(i * s.cfg.BlockSize) //nolint:gosec // i and the block size are non-negative
	return byterange.New(start, uint64(s.cfg.BlockSize)).Clamp(size)
}

func (s *blockSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if off >= s.src.Size() {
		return 0, io.EOF
	}
	size := uint64(s.src.Size()) //nolint:gosec // sizes are non-negative
	want := byterange.New(uint64(off), uint64(min(int64(len(p)), s.src.Size()-off)))

	first := off / s.cfg.BlockSize
	last := int64(want.EndPoint()-1) / s.cfg.BlockSize //nolint:gosec // bounded by size
	if limit := s.cfg.MaxBlocksPerRead; limit > 0 && last-first+1 > int64(limit) {
		return s.src.ReadAt(p, off)
	}

	n := 0
	for i := first; i <= last; i++ {
		blk := s.block(i, size)
		data, err := s.store.GetBlock(BlockKey{SourceID: s.id, BlockSize: s.cfg.BlockSize, Index: i}, int64(blk.Size()), func() ([]byte, error) { //nolint:gosec // block size fits int64
			return s.fetch(blk)
		})
		if err != nil {
			return n, err
		}
		if uint64(len(data)) < blk.Size() {
			return n, io.ErrUnexpectedEOF
		}
		lo := max(want.Offset(), blk.Offset())
		hi := min(want.EndPoint(), blk.EndPoint())
		n += copy(p[lo-want.Offset():], data[lo-blk.Offset():hi-blk.Offset()])
	}

	if want.Size() < uint64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *blockSource) ReadRange(off, length int64) (io.ReadCloser, error) {
	switch {
	case length < 0:
		return nil, fmt.Errorf("read range length %d: negative length", length)
	case length == 0:
		return io.NopCloser(bytes.NewReader(nil)), nil
	case off < 0:
		return nil, fmt.Errorf("read range %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	}
	return io.NopCloser(io.NewSectionReader(s, off, min(length, size-off))), nil
}

// fetch reads blk from the source, preferring a ranged read.
func (s *blockSource) fetch(blk byterange.Range) ([]byte, error) {
	length := int64(blk.Size()) //nolint:gosec // at most one block
	off := int64(blk.Offset())  //nolint:gosec // below the source size
	if length == 0 {
		return []byte{}, nil
	}
	if rr, ok := s.src.(RangeReader); ok {
		rc, err := rr.ReadRange(off, length)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != length {
			return nil, io.ErrUnexpectedEOF
		}
		return data, nil
	}

	buf := make([]byte, length)
	n, err := s.src.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) != length {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}
