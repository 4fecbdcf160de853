package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pak/internal/config"
	"github.com/meigma/pak/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_CreateLsCat(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"levels/forest.xml": `<Level name="forest"/>`,
		"textures/a.tga":    strings.Repeat("x", 4096),
	})
	pakFile := filepath.Join(t.TempDir(), "game.pak")

	out, err := run(t, "create", src, pakFile, "--compression", "zstd")
	require.NoError(t, err)
	assert.Contains(t, out, "2 files")

	out, err = run(t, "ls", pakFile)
	require.NoError(t, err)
	assert.Equal(t, "levels/forest.xml\ntextures/a.tga\n", out)

	out, err = run(t, "ls", "-l", pakFile, "textures")
	require.NoError(t, err)
	assert.Contains(t, out, "4.0 KiB")
	assert.Contains(t, out, "textures/a.tga")

	out, err = run(t, "cat", "--mount", pakFile+":game", "--no-cache", "game/levels/forest.xml")
	require.NoError(t, err)
	assert.Equal(t, `<Level name="forest"/>`, out)

	out, err = run(t, "cat", "-m", pakFile, "--offset", "4094", "textures/a.tga")
	require.NoError(t, err)
	assert.Equal(t, "xx", out)

	out, err = run(t, "stat", "-m", pakFile, "textures/a.tga")
	require.NoError(t, err)
	assert.Contains(t, out, "ZSTD")

	out, err = run(t, "preload", "-m", pakFile, "textures/a.tga", "levels/forest.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "preloaded 2 files")
}

func TestCLI_Extract(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"levels/forest.xml": `<Level name="forest"/>`,
		"readme.txt":        "hi",
	})
	pakFile := filepath.Join(t.TempDir(), "game.pak")
	_, err := run(t, "create", src, pakFile)
	require.NoError(t, err)

	dest := t.TempDir()
	out, err := run(t, "extract", pakFile, dest, "--dir", "levels")
	require.NoError(t, err)
	assert.Contains(t, out, "extracted levels")

	got, err := os.ReadFile(filepath.Join(dest, "forest.xml"))
	require.NoError(t, err)
	assert.Equal(t, `<Level name="forest"/>`, string(got))
	_, err = os.Stat(filepath.Join(dest, "readme.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_PatchWithConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	loose := filepath.Join(dir, "loose")
	testutil.WriteTree(t, loose, map[string]string{"items.xml": `<Items><Item name="bow" damage="3"/></Items>`})
	patches := filepath.Join(dir, "patches.xml")
	require.NoError(t, os.WriteFile(patches, []byte(`<DataPatches><Patch forfile="items.xml">
  <Patch><Match><Item name="bow"/></Match><Replace><Item damage="10"/></Replace></Patch>
</Patch></DataPatches>`), 0o600))
	cfgFile := filepath.Join(dir, "pak.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("loose_root: "+loose+"\npatches:\n  file: "+patches+"\ncache:\n  kind: none\n"), 0o600))

	out, err := run(t, "--config", cfgFile, "patch", "items.xml")
	require.NoError(t, err)
	assert.Contains(t, out, `damage="10"`)
}

func TestCLI_Errors(t *testing.T) {
	t.Parallel()

	_, err := run(t, "ls", filepath.Join(t.TempDir(), "missing.pak"))
	assert.Error(t, err)

	_, err = run(t, "create", t.TempDir(), filepath.Join(t.TempDir(), "x.pak"), "--compression", "lzma")
	assert.Error(t, err)

	_, err = run(t, "--log-level", "loud", "ls", "x")
	assert.Error(t, err)

	_, err = run(t, "cat", "missing.txt")
	assert.Error(t, err)
}

func TestParseMountFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		spec string
		want config.Mount
	}{
		{"game.pak", config.Mount{Path: "game.pak", Kind: config.KindPak}},
		{"game.pak:assets", config.Mount{Path: "game.pak", Prefix: "assets", Kind: config.KindPak}},
		{"layer.stargz:base", config.Mount{Path: "layer.stargz", Prefix: "base", Kind: config.KindStargz}},
		{"https://cdn.example.com:8443/game.pak#assets", config.Mount{URL: "https://cdn.example.com:8443/game.pak", Prefix: "assets", Kind: config.KindPak}},
		{"http://localhost/l.stargz", config.Mount{URL: "http://localhost/l.stargz", Kind: config.KindStargz}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseMountFlag(tt.spec), tt.spec)
	}
}
