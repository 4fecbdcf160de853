package pak

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pak/archive"
	"github.com/meigma/pak/byterange"
	"github.com/meigma/pak/cache/memory"
	"github.com/meigma/pak/compression"
	"github.com/meigma/pak/internal/testutil"
)

func buildPak(t *testing.T, files map[string]string) []byte {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, files)
	var buf bytes.Buffer
	require.NoError(t, archive.Create(context.Background(), dir, &buf, archive.CreateWithCompression(compression.TagZstd)))
	return buf.Bytes()
}

func newStreamer(t *testing.T, opts ...Option) *Streamer {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mountPak(t *testing.T, s *Streamer, id string, files map[string]string, opts ...archive.Option) (MountID, *testutil.MockByteSource) {
	t.Helper()
	src := testutil.NewMockByteSource(buildPak(t, files)).WithSourceID(id)
	mid, err := s.Mount(src, ArchiveOpener(append([]archive.Option{archive.WithName(id)}, opts...)...))
	require.NoError(t, err)
	return mid, src
}

func TestMount_ReadUnmount(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	id, _ := mountPak(t, s, "base", map[string]string{"textures/a.dds": "AAAA", "b.txt": "bee"})

	got, err := s.ReadFile("textures/a.dds")
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(got))

	got, err = s.ReadFile(`\textures\a.dds`)
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(got))

	mounts := s.Mounts()
	require.Len(t, mounts, 1)
	assert.Equal(t, id, mounts[0].ID)
	assert.Equal(t, "base", mounts[0].Name)

	parsed, err := ParseMountID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	require.NoError(t, s.Unmount(id))
	_, err = s.ReadFile("textures/a.dds")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, s.Unmount(id), ErrNotMounted)
	assert.Empty(t, s.Mounts())
}

func TestMount_FirstMountWins(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	mountPak(t, s, "first", map[string]string{"shared.txt": "first", "only1.txt": "1"})
	mountPak(t, s, "second", map[string]string{"shared.txt": "second", "only2.txt": "2"})

	got, err := s.ReadFile("shared.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = s.ReadFile("only2.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))

	info, ok := s.CompressionInfo("shared.txt")
	require.True(t, ok)
	assert.Equal(t, "first", info.ArchivePath)
}

func TestConflictResolution(t *testing.T) {
	t.Parallel()

	files := map[string]string{"config.xml": "archive", "archive_only.txt": "packed"}
	tests := []struct {
		name        string
		policy      compression.ConflictResolution
		wantConfig  string
		wantLoose   bool
		defaultOnly bool
	}{
		{name: "prefer file", policy: compression.PreferFile, wantConfig: "loose", wantLoose: true},
		{name: "prefer archive", policy: compression.PreferArchive, wantConfig: "archive", wantLoose: true},
		{name: "archive only default", policy: compression.UseArchiveOnly, wantConfig: "archive", defaultOnly: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loose := t.TempDir()
			testutil.WriteTree(t, loose, map[string]string{"config.xml": "loose", "loose_only.txt": "disk"})
			opts := []Option{WithLooseRoot(loose)}
			if tt.defaultOnly {
				opts = append(opts, WithDefaultConflictResolution(compression.UseArchiveOnly))
			}
			s := newStreamer(t, opts...)
			mountPak(t, s, "pak", files, archive.WithConflictResolution(tt.policy))

			got, err := s.ReadFile("config.xml")
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, string(got))

			got, err = s.ReadFile("archive_only.txt")
			require.NoError(t, err)
			assert.Equal(t, "packed", string(got))

			got, err = s.ReadFile("loose_only.txt")
			if tt.wantLoose {
				require.NoError(t, err)
				assert.Equal(t, "disk", string(got))
				assert.True(t, s.Exists("loose_only.txt"))
			} else {
				assert.ErrorIs(t, err, fs.ErrNotExist)
				assert.False(t, s.Exists("loose_only.txt"))
			}

			fi, err := s.Stat("config.xml")
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.wantConfig)), fi.Size())
		})
	}
}

func TestReadRange(t *testing.T) {
	t.Parallel()

	loose := t.TempDir()
	testutil.WriteTree(t, loose, map[string]string{"loose.bin": "0123456789"})
	s := newStreamer(t, WithLooseRoot(loose))
	mountPak(t, s, "pak", map[string]string{"packed.bin": "abcdefghij"})

	got, err := s.ReadRange("packed.bin", byterange.New(2, 3))
	require.NoError(t, err)
	assert.Equal(t, "cde", string(got))

	got, err = s.ReadRange("loose.bin", byterange.New(7, 100))
	require.NoError(t, err)
	assert.Equal(t, "789", string(got))

	got, err = s.ReadRange("loose.bin", byterange.EntireFile())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))

	_, err = s.ReadRange("missing.bin", byterange.EntireFile())
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestInvalidPaths(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	for _, name := range []string{"", "/", "."} {
		_, err := s.ReadFile(name)
		assert.ErrorIs(t, err, fs.ErrInvalid, name)
	}
	_, err := s.Mount(nil, ArchiveOpener())
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestBlockCache_ServesRepeatReadsAndInvalidates(t *testing.T) {
	t.Parallel()

	bc, err := memory.New(memory.WithMaxBlocks(64), memory.WithNominalBlockSize(4096))
	require.NoError(t, err)
	s := newStreamer(t, WithBlockCache(bc))
	id, src := mountPak(t, s, "cached", map[string]string{"a.txt": "cached content"})

	_, err = s.ReadFile("a.txt")
	require.NoError(t, err)
	reads := src.Reads()

	_, err = s.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, reads, src.Reads(), "second read served from cache")
	assert.Positive(t, bc.SizeBytes())

	require.NoError(t, s.Unmount(id))
	assert.Zero(t, bc.SizeBytes())
}

func TestLoadXML_PatchesAndCaches(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	mountPak(t, s, "data", map[string]string{
		"libs/items.xml": `<Items><Item name="sword" damage="5"/></Items>`,
	})
	require.NoError(t, s.LoadPatches([]byte(`<DataPatches>
  <Patch forfile="Libs/Items.xml">
    <Patch><Match><Item name="sword"/></Match><Replace><Item damage="9"/></Replace></Patch>
  </Patch>
</DataPatches>`)))

	doc, err := s.LoadXML("libs/items.xml")
	require.NoError(t, err)
	damage, _ := doc.Children[0].Attr("damage")
	assert.Equal(t, "9", damage)

	again, err := s.LoadXML("libs/items.xml")
	require.NoError(t, err)
	assert.Same(t, doc, again)

	_, err = s.LoadXML("LIBS/items.xml")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	s.SetPatchingEnabled(false)
	plain, err := s.LoadXML("libs/items.xml")
	require.NoError(t, err)
	damage, _ = plain.Children[0].Attr("damage")
	assert.Equal(t, "5", damage)

	_, err = s.LoadXML("libs/missing.xml")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadXML_MountChangePurgesCache(t *testing.T) {
	t.Parallel()

	s := newStreamer(t, WithManifestCacheSize(4))
	id, _ := mountPak(t, s, "v1", map[string]string{"m.xml": `<M v="1"/>`})

	doc, err := s.LoadXML("m.xml")
	require.NoError(t, err)
	v, _ := doc.Attr("v")
	assert.Equal(t, "1", v)

	require.NoError(t, s.Unmount(id))
	mountPak(t, s, "v2", map[string]string{"m.xml": `<M v="2"/>`})

	doc, err = s.LoadXML("m.xml")
	require.NoError(t, err)
	v, _ = doc.Attr("v")
	assert.Equal(t, "2", v)
}

func TestLoadXML_CaseSensitivePaths(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	mountPak(t, s, "lower", map[string]string{"a.xml": `<Lower/>`})
	mountPak(t, s, "upper", map[string]string{"A.xml": `<Upper/>`})

	lower, err := s.LoadXML("a.xml")
	require.NoError(t, err)
	assert.Equal(t, "Lower", lower.Tag)

	upper, err := s.LoadXML("A.xml")
	require.NoError(t, err)
	assert.Equal(t, "Upper", upper.Tag)

	again, err := s.LoadXML("a.xml")
	require.NoError(t, err)
	assert.Same(t, lower, again)
}

// gatedSource blocks the first ReadAt after arm until release is closed.
type gatedSource struct {
	*testutil.MockByteSource
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedSource(data []byte, id string) *gatedSource {
	return &gatedSource{
		MockByteSource: testutil.NewMockByteSource(data).WithSourceID(id),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (g *gatedSource) arm() { g.armed.Store(true) }

func (g *gatedSource) ReadAt(p []byte, off int64) (int, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.MockByteSource.ReadAt(p, off)
}

func TestLoadXML_InFlightLoadAcrossRemount(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	src := newGatedSource(buildPak(t, map[string]string{"m.xml": `<M v="1"/>`}), "v1")
	id, err := s.Mount(src, ArchiveOpener(archive.WithName("v1")))
	require.NoError(t, err)

	src.arm()
	done := make(chan error, 1)
	go func() {
		_, err := s.LoadXML("m.xml")
		done <- err
	}()

	<-src.entered
	require.NoError(t, s.Unmount(id))
	mountPak(t, s, "v2", map[string]string{"m.xml": `<M v="2"/>`})
	close(src.release)
	require.NoError(t, <-done)

	doc, err := s.LoadXML("m.xml")
	require.NoError(t, err)
	v, _ := doc.Attr("v")
	assert.Equal(t, "2", v)
}

func TestLoadPatchFile(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "patches.xml")
	require.NoError(t, os.WriteFile(name, []byte(`<Patch forfile="a.xml"><Insert><B/></Insert></Patch>`), 0o600))

	s := newStreamer(t)
	mountPak(t, s, "p", map[string]string{"a.xml": `<A/>`})
	require.NoError(t, s.LoadPatchFile(name))

	doc, err := s.LoadXML("a.xml")
	require.NoError(t, err)
	require.Len(t, doc.Children, 1)
	assert.Equal(t, "B", doc.Children[0].Tag)

	assert.Error(t, s.LoadPatchFile(filepath.Join(t.TempDir(), "missing.xml")))
}

func TestPreload(t *testing.T) {
	t.Parallel()

	bc, err := memory.New()
	require.NoError(t, err)
	s := newStreamer(t, WithBlockCache(bc), WithPreloadConcurrency(2))
	mountPak(t, s, "p", map[string]string{"a": "1", "b": "2", "c": "3"})

	require.NoError(t, s.Preload(context.Background(), "a", "b", "c"))
	assert.Positive(t, bc.SizeBytes())

	err = s.Preload(context.Background(), "a", "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Preload(ctx, "a"), context.Canceled)
}

func TestMountFile_AndClose(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "level.pak")
	require.NoError(t, os.WriteFile(name, buildPak(t, map[string]string{"x.txt": "x"}), 0o600))

	s, err := New()
	require.NoError(t, err)
	_, err = s.MountFile(name, ArchiveOpener(archive.WithMountPrefix("levels")))
	require.NoError(t, err)

	got, err := s.ReadFile("levels/x.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	require.NoError(t, s.Close())
	assert.Empty(t, s.Mounts())
	_, err = s.Mount(testutil.NewMockByteSource(nil), ArchiveOpener())
	assert.ErrorIs(t, err, ErrClosed)

	other := newStreamer(t)
	_, err = other.MountFile(filepath.Join(t.TempDir(), "missing.pak"), ArchiveOpener())
	assert.Error(t, err)
}

func TestMount_Stargz(t *testing.T) {
	t.Parallel()

	s := newStreamer(t)
	blob := testutil.StargzBlob(t, map[string]string{"shaders/basic.hlsl": "float4 main() {}"})
	_, err := s.Mount(testutil.NewMockByteSource(blob), StargzOpener())
	require.NoError(t, err)

	got, err := s.ReadFile("shaders/basic.hlsl")
	require.NoError(t, err)
	assert.Equal(t, "float4 main() {}", string(got))

	info, ok := s.CompressionInfo("shaders/basic.hlsl")
	require.True(t, ok)
	assert.Equal(t, compression.TagGzip, info.Tag)
}

func TestNew_InvalidOptions(t *testing.T) {
	t.Parallel()

	_, err := New(WithManifestCacheSize(0))
	assert.Error(t, err)
	_, err = New(WithPreloadConcurrency(-1))
	assert.Error(t, err)
	_, err = New(WithPatcher(nil))
	assert.Error(t, err)
	_, err = New(WithLooseRoot(filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, err)
}

func TestPreloadDir(t *testing.T) {
	t.Parallel()

	bc, err := memory.New()
	require.NoError(t, err)
	s := newStreamer(t, WithBlockCache(bc))
	_, src := mountPak(t, s, "p", map[string]string{"lvl/a.xml": "<A/>", "lvl/b.xml": "<B/>", "other.txt": "o"},
		archive.WithMountPrefix("game"))
	_, err = s.Mount(testutil.NewMockByteSource(testutil.StargzBlob(t, map[string]string{"x": "y"})), StargzOpener())
	require.NoError(t, err)

	require.NoError(t, s.PreloadDir(context.Background(), "game/lvl"))
	reads := src.Reads()

	_, err = s.ReadFile("game/lvl/a.xml")
	require.NoError(t, err)
	_, err = s.ReadFile("game/lvl/b.xml")
	require.NoError(t, err)
	assert.Equal(t, reads, src.Reads())
}
