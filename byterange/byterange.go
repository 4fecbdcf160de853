// Package byterange describes sub-regions of a file for partial reads.
//
// A Range is either a concrete [offset, offset+size) window, or a request for
// the entire file whose size may or may not be known yet. Ranges are small
// immutable values and are safe to share between goroutines.
package byterange

import "fmt"

// MaxOffset is the largest offset or end point a Range can describe.
const MaxOffset uint64 = 1<<63 - 1

// Range is a byte region within a file.
//
// The zero value is an empty range at offset 0. Two ranges are equal when
// compared with == exactly when they describe the same region.
type Range struct {
	entireFile  bool
	hasKnownEnd bool
	offset      uint64
	end         uint64
}

// New returns the range [offset, offset+size).
//
// A size of zero is valid and describes an empty range positioned at offset.
// New panics if the end point would exceed MaxOffset.
func New(offset, size uint64) Range {
	if offset > MaxOffset || size > MaxOffset-offset {
		panic(fmt.Sprintf("byterange: range %d+%d exceeds maximum offset", offset, size))
	}
	return Range{
		hasKnownEnd: true,
		offset:      offset,
		end:         offset + size,
	}
}

// EntireFile returns a range covering the whole file when its size is not yet known.
func EntireFile() Range {
	return Range{entireFile: true}
}

// EntireFileSized returns a range covering the whole file of the given size.
func EntireFileSized(size uint64) Range {
	if size > MaxOffset {
		panic(fmt.Sprintf("byterange: file size %d exceeds maximum offset", size))
	}
	return Range{
		entireFile:  true,
		hasKnownEnd: true,
		end:         size,
	}
}

// IsEntireFile reports whether the range covers the whole file.
func (r Range) IsEntireFile() bool {
	return r.entireFile
}

// IsSizeKnown reports whether Size and EndPoint are meaningful.
func (r Range) IsSizeKnown() bool {
	return r.hasKnownEnd
}

// IsInRange reports whether off lies within [Offset, EndPoint).
// An entire-file range of unknown size contains every offset; an empty range
// contains none.
func (r Range) IsInRange(off uint64) bool {
	if !r.hasKnownEnd {
		return true
	}
	return off >= r.offset && off < r.end
}

// Offset returns the first byte of the range.
func (r Range) Offset() uint64 {
	return r.offset
}

// Size returns the number of bytes in the range.
// It returns 0 for an entire-file range of unknown size; check IsSizeKnown first.
func (r Range) Size() uint64 {
	if !r.hasKnownEnd {
		return 0
	}
	return r.end - r.offset
}

// EndPoint returns the offset one past the last byte of the range.
// It returns 0 for an entire-file range of unknown size; check IsSizeKnown first.
func (r Range) EndPoint() uint64 {
	if !r.hasKnownEnd {
		return 0
	}
	return r.end
}

// Contains reports whether other lies completely inside r.
func (r Range) Contains(other Range) bool {
	if !r.hasKnownEnd {
		return true
	}
	if !other.hasKnownEnd {
		return false
	}
	return other.offset >= r.offset && other.end <= r.end
}

// Clamp resolves r against a file of the given size.
//
// Entire-file ranges become [0, fileSize). Concrete ranges are truncated at
// fileSize; a range starting at or beyond fileSize becomes an empty range at
// fileSize.
func (r Range) Clamp(fileSize uint64) Range {
	if r.entireFile {
		return EntireFileSized(fileSize)
	}
	start := min(r.offset, fileSize)
	end := min(r.end, fileSize)
	return Range{
		hasKnownEnd: true,
		offset:      start,
		end:         max(start, end),
	}
}

// String returns a human-readable form such as "[10, 20)" or "[entire file]".
func (r Range) String() string {
	switch {
	case r.entireFile && !r.hasKnownEnd:
		return "[entire file]"
	case r.entireFile:
		return fmt.Sprintf("[entire file, %d bytes)", r.end)
	default:
		return fmt.Sprintf("[%d, %d)", r.offset, r.end)
	}
}
