package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, tag Tag, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewEncoder(tag, &buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestCodecs_RoundTrip(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("streaming asset data ", 500))
	for _, tag := range []Tag{TagNone, TagZstd, TagZlib, TagGzip, TagS2} {
		t.Run(tag.String(), func(t *testing.T) {
			t.Parallel()
			stored := encode(t, tag, data)
			if tag != TagNone {
				assert.Less(t, len(stored), len(data))
			}

			fn, ok := Decompressor(tag)
			require.True(t, ok)
			info := &Info{
				Tag:              tag,
				Decompressor:     fn,
				IsCompressed:     tag != TagNone,
				CompressedSize:   uint64(len(stored)),
				UncompressedSize: uint64(len(data)),
			}
			require.NoError(t, info.Validate())

			out := make([]byte, len(data))
			require.NoError(t, info.Decompress(stored, out))
			assert.Equal(t, data, out)
		})
	}
}

func TestCodecs_SizeMismatch(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("x", 1000))
	for _, tag := range []Tag{TagZstd, TagZlib, TagS2} {
		stored := encode(t, tag, data)
		fn, ok := Decompressor(tag)
		require.True(t, ok)

		short := make([]byte, len(data)-1)
		err := fn(&Info{Tag: tag}, stored, short)
		assert.ErrorIs(t, err, ErrSizeMismatch, tag.String())

		long := make([]byte, len(data)+1)
		err = fn(&Info{Tag: tag}, stored, long)
		assert.ErrorIs(t, err, ErrSizeMismatch, tag.String())
	}
}

func TestGzip_IgnoresTrailingBytes(t *testing.T) {
	t.Parallel()

	data := []byte("hello gzip")
	stored := append(encode(t, TagGzip, data), make([]byte, 512)...)
	fn, _ := Decompressor(TagGzip)

	out := make([]byte, len(data))
	require.NoError(t, fn(&Info{}, stored, out))
	assert.Equal(t, data, out)
}

func TestDecompress_Corrupt(t *testing.T) {
	t.Parallel()

	fn, _ := Decompressor(TagZstd)
	err := fn(&Info{}, []byte("definitely not zstd"), make([]byte, 4))
	assert.Error(t, err)
}

func TestInfo_Decompress(t *testing.T) {
	t.Parallel()

	plain := &Info{CompressedSize: 3, UncompressedSize: 3}
	out := make([]byte, 3)
	require.NoError(t, plain.Decompress([]byte("abc"), out))
	assert.Equal(t, "abc", string(out))

	err := plain.Decompress([]byte("abc"), make([]byte, 2))
	assert.ErrorIs(t, err, ErrSizeMismatch)

	missing := &Info{IsCompressed: true, Tag: Tag{'N', 'O', 'P', 'E'}, UncompressedSize: 1}
	err = missing.Decompress([]byte("a"), make([]byte, 1))
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestInfo_Validate(t *testing.T) {
	t.Parallel()

	zstdFn, _ := Decompressor(TagZstd)
	tests := []struct {
		name    string
		info    Info
		wantErr bool
	}{
		{"plain consistent", Info{CompressedSize: 5, UncompressedSize: 5}, false},
		{"plain inconsistent", Info{CompressedSize: 4, UncompressedSize: 5}, true},
		{"compressed", Info{IsCompressed: true, Decompressor: zstdFn, CompressedSize: 4, UncompressedSize: 5}, false},
		{"compressed without decompressor", Info{IsCompressed: true, CompressedSize: 4, UncompressedSize: 5}, true},
		{"overflow", Info{Offset: 1 << 63, CompressedSize: 1, UncompressedSize: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.info.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInfo)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ZSTD", TagZstd.String())
	assert.Equal(t, "S2", TagS2.String())
	assert.Equal(t, "none", TagNone.String())

	for _, tag := range []Tag{TagNone, TagZstd, TagZlib, TagGzip, TagS2} {
		assert.Equal(t, tag, TagFromUint32(tag.Uint32()))
	}

	for in, want := range map[string]Tag{"zstd": TagZstd, "Gzip": TagGzip, "s2": TagS2, "": TagNone, "none": TagNone} {
		got, err := ParseTag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTag("brotli")
	assert.ErrorIs(t, err, ErrUnknownCodec)
	_, err = ParseTag("lz4")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestConflictResolution(t *testing.T) {
	t.Parallel()

	for _, c := range []ConflictResolution{PreferFile, PreferArchive, UseArchiveOnly} {
		got, err := ParseConflictResolution(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseConflictResolution("whatever")
	assert.Error(t, err)
}

func TestDecoderPool_Reuse(t *testing.T) {
	t.Parallel()

	pool := NewDecoderPool(1<<20, WithDecoderLowmem(true))
	data := []byte(strings.Repeat("pool", 64))
	stored := encode(t, TagZstd, data)
	fn := pool.Decompressor()
	for range 4 {
		out := make([]byte, len(data))
		require.NoError(t, fn(&Info{}, stored, out))
		assert.Equal(t, data, out)
	}
}

func TestDecoderPool_OutputBound(t *testing.T) {
	t.Parallel()

	fn := NewDecoderPool(0).Decompressor()
	for name, size := range map[string]int{"small": 256, "large": 1 << 20} {
		stored := encode(t, TagZstd, bytes.Repeat([]byte{'z'}, size))
		out := make([]byte, 16)
		err := fn(&Info{IsCompressed: true, UncompressedSize: 16}, stored, out)
		assert.ErrorIs(t, err, ErrSizeMismatch, name)
	}
}
