package testutil

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"slices"
	"testing"
	"time"

	"github.com/containerd/stargz-snapshotter/estargz"
)

// StargzBlob builds an eStargz blob holding files, creating parent
// directory entries as needed.
func StargzBlob(tb testing.TB, files map[string]string, opts ...estargz.Option) []byte {
	tb.Helper()

	dirs := map[string]bool{}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
		for d := path.Dir(name); d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	slices.Sort(names)
	dirNames := make([]string, 0, len(dirs))
	for d := range dirs {
		dirNames = append(dirNames, d)
	}
	slices.Sort(dirNames)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	mtime := time.Unix(1700000000, 0)
	for _, d := range dirNames {
		if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: d + "/", Mode: 0o755, ModTime: mtime}); err != nil {
			tb.Fatalf("tar dir %s: %v", d, err)
		}
	}
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{Typeflag: tar.TypeReg, Name: name, Mode: 0o644, Size: int64(len(content)), ModTime: mtime}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			tb.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("tar close: %v", err)
	}

	tarData := buf.Bytes()
	blob, err := estargz.Build(io.NewSectionReader(bytes.NewReader(tarData), 0, int64(len(tarData))), opts...)
	if err != nil {
		tb.Fatalf("estargz build: %v", err)
	}
	defer blob.Close()
	out, err := io.ReadAll(blob)
	if err != nil {
		tb.Fatalf("estargz read: %v", err)
	}
	return out
}
