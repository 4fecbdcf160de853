package dirtree

import (
	"time"

	"github.com/meigma/pak/byterange"
)

// Flags describe the state of a packed file.
type Flags uint8

const (
	// FlagCompressed marks an entry whose stored bytes are compressed.
	FlagCompressed Flags = 1 << iota
	// FlagEncrypted marks an entry whose stored bytes are encrypted.
	FlagEncrypted
	// FlagDeleted marks an entry that was removed by a later archive revision.
	FlagDeleted
	// FlagInitialized marks an entry whose fields have been filled in.
	FlagInitialized
)

// FileEntry describes one packed file inside an archive.
type FileEntry struct {
	// Range is the location of the stored bytes within the archive data.
	Range byterange.Range
	// UncompressedSize is the size of the file once decompressed.
	UncompressedSize uint64
	// Compressor is the 4-byte codec tag of the stored bytes.
	Compressor [4]byte
	Flags      Flags
	// Hash is the SHA256 of the uncompressed content, if known.
	Hash    []byte
	ModTime time.Time
}

// IsInitialized reports whether the entry has been filled in.
// Placeholders returned by Tree.AddEntry are not initialized.
func (e *FileEntry) IsInitialized() bool {
	return e.Flags&FlagInitialized != 0
}

// IsCompressed reports whether the stored bytes must be decompressed.
func (e *FileEntry) IsCompressed() bool {
	return e.Flags&FlagCompressed != 0
}

// IsDeleted reports whether the entry is a deletion marker.
func (e *FileEntry) IsDeleted() bool {
	return e.Flags&FlagDeleted != 0
}
