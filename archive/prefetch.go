package archive

import (
	"context"
	"io/fs"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/pak/dirtree"
)

// defaultPrefetchWorkers bounds concurrent reads in Prefetch and PrefetchDir.
const defaultPrefetchWorkers = 4

// span is a run of files stored back to back in the data section.
type span struct {
	start, end uint64
	files      int
}

// groupAdjacent merges entries whose stored bytes touch into spans.
// entries must be sorted by offset.
func groupAdjacent(entries []*dirtree.FileEntry) []span {
	if len(entries) == 0 {
		return nil
	}
	spans := make([]span, 0, len(entries))
	cur := span{start: entries[0].Range.Offset(), end: entries[0].Range.EndPoint(), files: 1}
	for _, e := range entries[1:] {
		if e.Range.Offset() == cur.end {
			cur.end = e.Range.EndPoint()
			cur.files++
			continue
		}
		spans = append(spans, cur)
		cur = span{start: e.Range.Offset(), end: e.Range.EndPoint(), files: 1}
	}
	return append(spans, cur)
}

// Prefetch reads the stored bytes of the named files so a block cache
// wrapping the source holds them. Files stored back to back are fetched
// with a single read. Missing paths are skipped.
func (a *Archive) Prefetch(ctx context.Context, names ...string) error {
	entries := make([]*dirtree.FileEntry, 0, len(names))
	for _, name := range names {
		if !fs.ValidPath(name) {
			continue
		}
		if e, ok := a.tree.Lookup(name); ok {
			entries = append(entries, e)
		}
	}
	return a.prefetch(ctx, entries)
}

// PrefetchDir is Prefetch for every file below dir.
func (a *Archive) PrefetchDir(ctx context.Context, dir string) error {
	if dir == "" {
		dir = "."
	}
	if !fs.ValidPath(dir) {
		return &fs.PathError{Op: "prefetch", Path: dir, Err: fs.ErrInvalid}
	}
	sub, ok := a.tree.LookupDir(dir)
	if !ok {
		return &fs.PathError{Op: "prefetch", Path: dir, Err: fs.ErrNotExist}
	}
	entries := make([]*dirtree.FileEntry, 0, sub.NumFilesTotal())
	_ = sub.Walk(func(_ string, e *dirtree.FileEntry) error { //nolint:errcheck // callback never fails
		entries = append(entries, e)
		return nil
	})
	return a.prefetch(ctx, entries)
}

func (a *Archive) prefetch(ctx context.Context, entries []*dirtree.FileEntry) error {
	entries = slices.DeleteFunc(entries, func(e *dirtree.FileEntry) bool {
		return e.IsDeleted() || e.Range.Size() == 0
	})
	slices.SortFunc(entries, func(x, y *dirtree.FileEntry) int {
		switch {
		case x.Range.Offset() < y.Range.Offset():
			return -1
		case x.Range.Offset() > y.Range.Offset():
			return 1
		}
		return 0
	})
	spans := groupAdjacent(entries)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultPrefetchWorkers)
	for _, s := range spans {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := a.readSource(s.start, s.end-s.start)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	a.log().Debug("prefetch complete", "archive", a.name, "files", len(entries), "reads", len(spans))
	return nil
}

// PrefetchMountDir is PrefetchDir for a directory named relative to the
// mount point, so it includes the mount prefix. It does nothing when the
// directory lies outside this archive.
func (a *Archive) PrefetchMountDir(ctx context.Context, dir string) error {
	rel, ok := a.relative(dir)
	if !ok {
		return nil
	}
	if _, ok := a.tree.LookupDir(rel); !ok {
		return nil
	}
	return a.PrefetchDir(ctx, rel)
}
