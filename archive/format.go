package archive

import (
	"encoding/binary"
	"fmt"
	"io"
)

// A pak file is laid out as
//
//	[data section][index][trailer]
//
// where the trailer is the index length as a little-endian uint64 followed
// by Magic. The data section starts at offset 0, so entry offsets are
// absolute positions in the file.
const (
	Magic       = "PAKIDX01"
	TrailerSize = 8 + len(Magic)
)

func appendTrailer(b []byte, indexSize uint64) []byte {
	b = binary.LittleEndian.AppendUint64(b, indexSize)
	return append(b, Magic...)
}

// readTrailer returns the index length and the data section length of a
// source of the given size.
func readTrailer(r io.ReaderAt, size int64) (indexSize, dataSize uint64, err error) {
	if size < int64(TrailerSize) {
		return 0, 0, fmt.Errorf("%w: %d bytes is too small", ErrInvalidArchive, size)
	}
	var buf [TrailerSize]byte
	if _, err := r.ReadAt(buf[:], size-int64(TrailerSize)); err != nil && err != io.EOF {
		return 0, 0, fmt.Errorf("read trailer: %w", err)
	}
	if string(buf[8:]) != Magic {
		return 0, 0, fmt.Errorf("%w: bad magic %q", ErrInvalidArchive, buf[8:])
	}
	indexSize = binary.LittleEndian.Uint64(buf[:8])
	body := uint64(size) - uint64(TrailerSize) //nolint:gosec // size checked above
	if indexSize > body {
		return 0, 0, fmt.Errorf("%w: index size %d exceeds archive", ErrInvalidArchive, indexSize)
	}
	return indexSize, body - indexSize, nil
}
