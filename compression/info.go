// Package compression resolves how a virtual file is stored inside mounted
// archives and routes compressed bytes to the matching codec.
//
// Archives register as Providers with a Resolver. A query walks the
// providers in registration order and returns the first answer, so callers
// never need to know which archive holds a path. The Resolver only reports
// what the archives know; choosing between a loose file and a packed copy is
// left to the caller through Info.ConflictResolution.
package compression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meigma/pak/byterange"
)

// ConflictResolution decides which copy wins when a path exists both as a
// loose file and inside an archive.
type ConflictResolution uint8

const (
	// PreferFile serves the loose file when one exists.
	PreferFile ConflictResolution = iota
	// PreferArchive serves the packed copy, falling back to the loose file.
	PreferArchive
	// UseArchiveOnly ignores loose files entirely.
	UseArchiveOnly
)

// String returns the lower-case name of the policy.
func (c ConflictResolution) String() string {
	switch c {
	case PreferFile:
		return "prefer-file"
	case PreferArchive:
		return "prefer-archive"
	case UseArchiveOnly:
		return "archive-only"
	default:
		return fmt.Sprintf("ConflictResolution(%d)", uint8(c))
	}
}

// ParseConflictResolution parses the names returned by String.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prefer-file", "file", "":
		return PreferFile, nil
	case "prefer-archive", "archive":
		return PreferArchive, nil
	case "archive-only", "use-archive-only":
		return UseArchiveOnly, nil
	}
	return 0, fmt.Errorf("compression: unknown conflict resolution %q", s)
}

// DecompressFunc decompresses compressed into out. The length of out is the
// expected uncompressed size; the function must fill it exactly or return
// an error.
type DecompressFunc func(info *Info, compressed, out []byte) error

// Info describes where and how a file is stored inside an archive.
//
// Info values are produced per lookup and never cached by the Resolver,
// since archives may be mounted and unmounted at any time.
type Info struct {
	// ArchivePath identifies the archive holding the file.
	ArchivePath string
	// RelativePath is the file's path inside the archive.
	RelativePath string
	// Decompressor decodes the stored bytes. It is nil for uncompressed files.
	Decompressor DecompressFunc
	// Tag names the codec of the stored bytes.
	Tag Tag
	// Offset is the position of the stored bytes within the archive source.
	Offset uint64
	// CompressedSize is the number of stored bytes.
	CompressedSize uint64
	// UncompressedSize is the size of the file once decoded.
	UncompressedSize   uint64
	ConflictResolution ConflictResolution
	IsCompressed       bool
	// IsSharedPak marks archives shared between several products.
	IsSharedPak bool
}

// ErrInvalidInfo is returned by Validate.
var ErrInvalidInfo = errors.New("compression: invalid info")

// Validate checks the internal consistency of i.
func (i *Info) Validate() error {
	if !i.IsCompressed && i.CompressedSize != i.UncompressedSize {
		return fmt.Errorf("%w: uncompressed entry %s has stored size %d but size %d",
			ErrInvalidInfo, i.RelativePath, i.CompressedSize, i.UncompressedSize)
	}
	if i.IsCompressed && i.Decompressor == nil {
		return fmt.Errorf("%w: compressed entry %s has no decompressor for %s",
			ErrInvalidInfo, i.RelativePath, i.Tag)
	}
	if i.Offset > byterange.MaxOffset || i.CompressedSize > byterange.MaxOffset-i.Offset {
		return fmt.Errorf("%w: entry %s overflows archive", ErrInvalidInfo, i.RelativePath)
	}
	return nil
}

// Range returns the stored byte range within the archive source.
// Call Validate first when i comes from untrusted data.
func (i *Info) Range() byterange.Range {
	return byterange.New(i.Offset, i.CompressedSize)
}

// Decompress decodes compressed into out, which must be exactly
// UncompressedSize bytes long. Uncompressed entries are copied.
func (i *Info) Decompress(compressed, out []byte) error {
	if uint64(len(out)) != i.UncompressedSize {
		return fmt.Errorf("%w: output buffer %d bytes, want %d", ErrSizeMismatch, len(out), i.UncompressedSize)
	}
	if !i.IsCompressed {
		return copyExact(compressed, out)
	}
	if i.Decompressor == nil {
		return fmt.Errorf("%w: %s", ErrUnknownCodec, i.Tag)
	}
	return i.Decompressor(i, compressed, out)
}
