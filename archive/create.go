package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pak/archive/internal/index"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/dirtree"
	"github.com/meigma/pak/internal/sizing"
)

// Create writes a pak archive holding every regular file under dir to w.
//
// Files are stored in walk order and compressed with the configured codec
// unless a skip predicate matches or compression does not shrink them.
// The index, sorted by path, and the trailer follow the data. Empty
// directories are not preserved and symbolic links are skipped.
//
// Each file is held in memory while it is compressed, so memory use is
// bounded by the largest input file.
func Create(ctx context.Context, dir string, w io.Writer, opts ...CreateOption) error {
	cfg := createConfig{compression: compression.TagNone}
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, ok := compression.Decompressor(cfg.compression); !ok {
		return fmt.Errorf("%w: %s", compression.ErrUnknownCodec, cfg.compression)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	c := &creator{cfg: cfg}
	c.log().Info("creating archive", "dir", dir, "compression", cfg.compression.String())

	digester := digest.SHA256.Digester()
	data := &countingWriter{w: io.MultiWriter(w, digester.Hash())}
	entries, err := c.writeData(ctx, root, data)
	if err != nil {
		return err
	}

	indexData, err := index.Build(entries, data.n, digester.Digest().String())
	if err != nil {
		return err
	}
	if _, err := w.Write(indexData); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if _, err := w.Write(appendTrailer(nil, uint64(len(indexData)))); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}

	c.log().Debug("archive written", "file_count", len(entries), "data_size", data.n, "index_size", len(indexData))
	return nil
}

// creator holds state for archive creation.
type creator struct {
	cfg createConfig
	buf bytes.Buffer
}

func (c *creator) log() *slog.Logger {
	if c.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.cfg.logger
}

func (c *creator) writeData(ctx context.Context, root *os.Root, data *countingWriter) ([]index.Entry, error) {
	entries := make([]index.Entry, 0, 1024)
	maxFiles := c.cfg.maxFiles
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}

	err := fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isRegular(d) {
			return nil
		}
		if maxFiles > 0 && len(entries) >= maxFiles {
			return ErrTooManyFiles
		}

		entry, err := c.writeEntry(root, data, path)
		if errors.Is(err, errSymlink) {
			c.log().Debug("skipped symlink", "path", path)
			return nil
		}
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// isRegular reports whether d may be a regular file. An unknown type is
// resolved when the file is opened.
func isRegular(d fs.DirEntry) bool {
	t := d.Type()
	return t == 0 || t.IsRegular()
}

// writeEntry stores one file in data and returns its index entry.
func (c *creator) writeEntry(root *os.Root, data *countingWriter, path string) (index.Entry, error) {
	f, err := openNoFollow(root, filepath.FromSlash(path))
	if err != nil {
		return index.Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return index.Entry{}, err
	}
	if !info.Mode().IsRegular() {
		return index.Entry{}, fmt.Errorf("not a regular file: %s", path)
	}

	maxSize := c.cfg.maxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	content, err := sizing.ReadAllWithLimit(f, maxSize, ErrFileTooLarge)
	if err != nil {
		return index.Entry{}, fmt.Errorf("read %s: %w", path, err)
	}
	sum := sha256.Sum256(content)

	stored, tag, err := c.encode(path, info, content)
	if err != nil {
		return index.Entry{}, fmt.Errorf("compress %s: %w", path, err)
	}

	offset := data.n
	if _, err := data.Write(stored); err != nil {
		return index.Entry{}, fmt.Errorf("write %s: %w", path, err)
	}

	var flags dirtree.Flags
	if tag != compression.TagNone {
		flags |= dirtree.FlagCompressed
	}
	return index.Entry{
		Path:         path,
		DataOffset:   offset,
		DataSize:     uint64(len(stored)),
		OriginalSize: uint64(len(content)),
		Compressor:   tag.Uint32(),
		Flags:        uint8(flags),
		Hash:         sum[:],
		ModTime:      info.ModTime(),
	}, nil
}

// encode returns the bytes to store for content and the codec used.
// Content that does not shrink is stored as is.
func (c *creator) encode(path string, info fs.FileInfo, content []byte) ([]byte, compression.Tag, error) {
	tag := c.cfg.compression
	if tag == compression.TagNone || len(content) == 0 || shouldSkip(path, info, c.cfg.skipCompression) {
		return content, compression.TagNone, nil
	}

	c.buf.Reset()
	enc, err := compression.NewEncoder(tag, &c.buf)
	if err != nil {
		return nil, tag, err
	}
	if _, err := enc.Write(content); err != nil {
		enc.Close()
		return nil, tag, err
	}
	if err := enc.Close(); err != nil {
		return nil, tag, err
	}
	if c.buf.Len() >= len(content) {
		return content, compression.TagNone, nil
	}
	return c.buf.Bytes(), tag, nil
}

// countingWriter tracks the number of bytes written.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n) //nolint:gosec // n is never negative
	return n, err
}
