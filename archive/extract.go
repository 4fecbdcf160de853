package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/pak/dirtree"
)

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	overwrite     bool
	preserveTimes bool
	workers       int
}

// ExtractWithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPreserveTimes sets each file's modification time from the
// archive. By default, files get the current time.
func ExtractWithPreserveTimes(preserve bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = preserve
	}
}

// ExtractWithWorkers bounds the number of files decoded concurrently.
// Values <= 0 use the prefetch default.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// Extract writes every file below dir to destDir, keeping paths relative
// to dir. Use "." for the whole archive.
//
// Files are written to a temporary file and renamed into place, so a
// partially written file is never visible at its final path. Parent
// directories are created as needed.
func (a *Archive) Extract(ctx context.Context, dir, destDir string, opts ...ExtractOption) error {
	cfg := extractConfig{workers: defaultPrefetchWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = defaultPrefetchWorkers
	}

	if dir == "" {
		dir = "."
	}
	if !fs.ValidPath(dir) {
		return &fs.PathError{Op: "extract", Path: dir, Err: fs.ErrInvalid}
	}
	sub, ok := a.tree.LookupDir(dir)
	if !ok {
		return &fs.PathError{Op: "extract", Path: dir, Err: fs.ErrNotExist}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	var written int
	err := sub.Walk(func(name string, e *dirtree.FileEntry) error {
		if e.IsDeleted() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(destDir, filepath.FromSlash(name))
		if !cfg.overwrite {
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
		}
		rel := name
		if dir != "." {
			rel = path.Join(dir, name)
		}
		written++
		g.Go(func() error {
			data, err := a.readEntry(rel, e)
			if err != nil {
				return &fs.PathError{Op: "extract", Path: rel, Err: err}
			}
			return writeAtomic(dest, data, e, &cfg)
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}
	a.log().Debug("extract complete", "archive", a.name, "dir", dir, "files", written)
	return nil
}

// writeAtomic writes data to a temp file next to dest and renames it.
func writeAtomic(dest string, data []byte, e *dirtree.FileEntry, cfg *extractConfig) error {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", parent, err)
	}
	tmp, err := os.CreateTemp(parent, ".pak-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()        //nolint:errcheck // already failing
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if cfg.preserveTimes && !e.ModTime.IsZero() {
		if err := os.Chtimes(tmpPath, e.ModTime, e.ModTime); err != nil {
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", dest, err)
	}
	return nil
}
