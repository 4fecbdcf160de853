// Package index reads and writes the FlatBuffers index stored at the end of
// a pak archive.
//
// Entries are sorted by path, so lookups are O(log n) and all files under a
// directory form one contiguous run.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/pak/archive/internal/fb"
)

// Version is the index format version written by Build.
const Version uint32 = 1

// Entry describes one stored file.
type Entry struct {
	Path         string
	DataOffset   uint64
	DataSize     uint64
	OriginalSize uint64
	Compressor   uint32
	Flags        uint8
	// Hash is the SHA256 of the uncompressed content. For entries returned
	// by an Index it aliases the index buffer.
	Hash    []byte
	ModTime time.Time
}

// Index provides read access to a loaded index.
type Index struct {
	data []byte
	root *fb.Index
}

// Load parses a FlatBuffers-encoded index.
//
// The provided data is retained by the index; callers must not modify it
// after calling Load.
func Load(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = fmt.Errorf("index: failed to parse: %v", r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, errors.New("index: data too short")
	}

	root := fb.GetRootAsIndex(data, 0)
	if v := root.Version(); v != Version {
		return nil, fmt.Errorf("index: unsupported version %d", v)
	}
	// Touch every entry once so a corrupt buffer fails here rather than
	// on a later lookup.
	var e fb.Entry
	for i := range root.EntriesLength() {
		root.Entries(&e, i)
		_ = e.Path()
		_ = e.HashBytes()
	}
	return &Index{data: data, root: root}, nil
}

// DataSize returns the size of the data section in bytes.
func (idx *Index) DataSize() uint64 {
	return idx.root.DataSize()
}

// DataDigest returns the digest of the data section, e.g. "sha256:...".
func (idx *Index) DataDigest() string {
	return string(idx.root.DataDigest())
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return idx.root.EntriesLength()
}

// Lookup returns the entry stored at path.
func (idx *Index) Lookup(path string) (Entry, bool) {
	var e fb.Entry
	if !idx.root.EntriesByKey(&e, path) {
		return Entry{}, false
	}
	return fromFlatBuffers(&e), true
}

// Entries returns an iterator over all entries in path order.
func (idx *Index) Entries() iter.Seq[Entry] {
	return idx.entriesFrom(0, "")
}

// EntriesWithPrefix returns an iterator over entries whose path starts with prefix.
func (idx *Index) EntriesWithPrefix(prefix string) iter.Seq[Entry] {
	prefixBytes := []byte(prefix)
	start := sort.Search(idx.Len(), func(i int) bool {
		var e fb.Entry
		idx.root.Entries(&e, i)
		return bytes.Compare(e.Path(), prefixBytes) >= 0
	})
	return idx.entriesFrom(start, prefix)
}

func (idx *Index) entriesFrom(start int, prefix string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		var e fb.Entry
		for i := start; i < idx.Len(); i++ {
			if !idx.root.Entries(&e, i) {
				return
			}
			if !bytes.HasPrefix(e.Path(), []byte(prefix)) {
				return
			}
			if !yield(fromFlatBuffers(&e)) {
				return
			}
		}
	}
}

func fromFlatBuffers(e *fb.Entry) Entry {
	return Entry{
		Path:         string(e.Path()),
		DataOffset:   e.DataOffset(),
		DataSize:     e.DataSize(),
		OriginalSize: e.OriginalSize(),
		Compressor:   e.Compressor(),
		Flags:        e.Flags(),
		Hash:         e.HashBytes(),
		ModTime:      time.Unix(0, e.MtimeNs()),
	}
}

// Build serializes entries to FlatBuffers format. Entries are sorted by
// path first; duplicate paths are an error.
func Build(entries []Entry, dataSize uint64, dataDigest string) ([]byte, error) {
	entries = slices.Clone(entries)
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Path, b.Path)
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].Path == entries[i-1].Path {
			return nil, fmt.Errorf("index: duplicate path %q", entries[i].Path)
		}
	}

	builder := flatbuffers.NewBuilder(1024)

	// FlatBuffers are built back to front.
	entryOffsets := make([]flatbuffers.UOffsetT, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]

		pathOffset := builder.CreateString(e.Path)

		fb.EntryStartHashVector(builder, len(e.Hash))
		for j := len(e.Hash) - 1; j >= 0; j-- {
			builder.PrependByte(e.Hash[j])
		}
		hashOffset := builder.EndVector(len(e.Hash))

		fb.EntryStart(builder)
		fb.EntryAddPath(builder, pathOffset)
		fb.EntryAddDataOffset(builder, e.DataOffset)
		fb.EntryAddDataSize(builder, e.DataSize)
		fb.EntryAddOriginalSize(builder, e.OriginalSize)
		fb.EntryAddCompressor(builder, e.Compressor)
		fb.EntryAddFlags(builder, e.Flags)
		fb.EntryAddHash(builder, hashOffset)
		fb.EntryAddMtimeNs(builder, e.ModTime.UnixNano())
		entryOffsets[i] = fb.EntryEnd(builder)
	}

	fb.IndexStartEntriesVector(builder, len(entries))
	for i := len(entryOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entryOffsets[i])
	}
	entriesOffset := builder.EndVector(len(entries))

	digestOffset := builder.CreateString(dataDigest)

	fb.IndexStart(builder)
	fb.IndexAddVersion(builder, Version)
	fb.IndexAddDataSize(builder, dataSize)
	fb.IndexAddDataDigest(builder, digestOffset)
	fb.IndexAddEntries(builder, entriesOffset)
	indexOffset := fb.IndexEnd(builder)

	builder.Finish(indexOffset)
	return builder.FinishedBytes(), nil
}
