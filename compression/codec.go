package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Tag is a 4-byte codec identifier stored alongside packed files.
type Tag [4]byte

// Built-in codec tags.
var (
	TagNone = Tag{}
	TagZstd = Tag{'Z', 'S', 'T', 'D'}
	TagZlib = Tag{'Z', 'L', 'I', 'B'}
	TagGzip = Tag{'G', 'Z', 'I', 'P'}
	TagS2   = Tag{'S', '2', 0, 0}
)

// String returns the tag as text with trailing NUL bytes removed, or "none"
// for TagNone.
func (t Tag) String() string {
	if t == TagNone {
		return "none"
	}
	return strings.TrimRight(string(t[:]), "\x00")
}

// Uint32 packs the tag little-endian for compact storage.
func (t Tag) Uint32() uint32 {
	return uint32(t[0]) | uint32(t[1])<<8 | uint32(t[2])<<16 | uint32(t[3])<<24
}

// TagFromUint32 is the inverse of Tag.Uint32.
func TagFromUint32(v uint32) Tag {
	return Tag{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// ParseTag parses a codec name such as "zstd" or "none" case-insensitively.
func ParseTag(s string) (Tag, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "NONE" {
		return TagNone, nil
	}
	if len(s) > 4 {
		return TagNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
	var t Tag
	copy(t[:], s)
	if _, ok := lookupCodec(t); !ok {
		return TagNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
	return t, nil
}

var (
	// ErrUnknownCodec is returned when no codec is registered for a tag.
	ErrUnknownCodec = errors.New("compression: unknown codec")
	// ErrSizeMismatch is returned when decoded data does not match the
	// expected uncompressed size.
	ErrSizeMismatch = errors.New("compression: size mismatch")
)

// Codec encodes and decodes one compression format.
type Codec struct {
	Decompress DecompressFunc
	// NewWriter returns a writer that compresses into w. Close flushes the
	// stream but does not close w.
	NewWriter func(w io.Writer) (io.WriteCloser, error)
}

var codecs = struct {
	mu sync.RWMutex
	m  map[Tag]Codec
}{m: map[Tag]Codec{}}

var zstdPool = NewDecoderPool(0)

func init() {
	RegisterCodec(TagNone, Codec{
		Decompress: func(_ *Info, compressed, out []byte) error { return copyExact(compressed, out) },
		NewWriter:  func(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil },
	})
	RegisterCodec(TagZstd, Codec{
		Decompress: zstdPool.decompress,
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		},
	})
	RegisterCodec(TagZlib, Codec{
		Decompress: func(_ *Info, compressed, out []byte) error {
			zr, err := zlib.NewReader(bytes.NewReader(compressed))
			if err != nil {
				return fmt.Errorf("zlib: %w", err)
			}
			defer zr.Close()
			return readExact(zr, out, true)
		},
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zlib.NewWriter(w), nil
		},
	})
	RegisterCodec(TagGzip, Codec{
		// Gzip members may be followed by unrelated bytes (tar padding in
		// eStargz blobs), so trailing data is not an error.
		Decompress: func(_ *Info, compressed, out []byte) error {
			zr, err := gzip.NewReader(bytes.NewReader(compressed))
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			defer zr.Close()
			return readExact(zr, out, false)
		},
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
	})
	RegisterCodec(TagS2, Codec{
		Decompress: func(_ *Info, compressed, out []byte) error {
			return readExact(s2.NewReader(bytes.NewReader(compressed)), out, true)
		},
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return s2.NewWriter(w), nil
		},
	})
}

// RegisterCodec installs c for tag, replacing any existing codec.
func RegisterCodec(tag Tag, c Codec) {
	codecs.mu.Lock()
	defer codecs.mu.Unlock()
	codecs.m[tag] = c
}

func lookupCodec(tag Tag) (Codec, bool) {
	codecs.mu.RLock()
	defer codecs.mu.RUnlock()
	c, ok := codecs.m[tag]
	return c, ok
}

// Decompressor returns the decompression function registered for tag.
func Decompressor(tag Tag) (DecompressFunc, bool) {
	c, ok := lookupCodec(tag)
	if !ok || c.Decompress == nil {
		return nil, false
	}
	return c.Decompress, true
}

// NewEncoder returns a compressing writer for tag.
func NewEncoder(tag Tag, w io.Writer) (io.WriteCloser, error) {
	c, ok := lookupCodec(tag)
	if !ok || c.NewWriter == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, tag)
	}
	return c.NewWriter(w)
}

func copyExact(src, out []byte) error {
	if len(src) != len(out) {
		return fmt.Errorf("%w: stored %d bytes, want %d", ErrSizeMismatch, len(src), len(out))
	}
	copy(out, src)
	return nil
}

// readExact fills out from r. With strict set, any data after len(out)
// bytes is reported as ErrSizeMismatch.
func readExact(r io.Reader, out []byte, strict bool) error {
	if _, err := io.ReadFull(r, out); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: stream shorter than %d bytes", ErrSizeMismatch, len(out))
		}
		return err
	}
	if !strict {
		return nil
	}
	var probe [1]byte
	n, err := r.Read(probe[:])
	if n > 0 {
		return fmt.Errorf("%w: stream longer than %d bytes", ErrSizeMismatch, len(out))
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
