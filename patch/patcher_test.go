package patch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemsXML = `<?xml version="1.0"?>
<Items version="1">
  <Item name="sword" damage="5"><Tier>1</Tier></Item>
  <Item name="bow" damage="3"/>
  <Item name="broken"/>
  <Group id="armor">
    <Item name="helmet"/>
  </Group>
</Items>`

func mustParse(t *testing.T, s string) *Node {
	t.Helper()
	n, err := ParseXML([]byte(s))
	require.NoError(t, err)
	return n
}

func newPatcher(t *testing.T, doc string, opts ...Option) *Patcher {
	t.Helper()
	p := New(opts...)
	require.NoError(t, p.LoadXML([]byte(doc)))
	return p
}

func child(t *testing.T, n *Node, tag, attr, value string) *Node {
	t.Helper()
	for _, c := range n.Children {
		if v, ok := c.Attr(attr); c.Tag == tag && ok && v == value {
			return c
		}
	}
	return nil
}

func TestApply_NoPatchReturnsBaseline(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<DataPatches><Patch forfile="other.xml"><Insert><X/></Insert></Patch></DataPatches>`)
	base := mustParse(t, itemsXML)

	got := p.ApplyXMLDataPatch(base, "items.xml")
	assert.Same(t, base, got)
	assert.Equal(t, int64(0), p.Failures())
}

func TestApply_Disabled(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml"><Insert><X/></Insert></Patch>`, WithEnabled(false))
	base := mustParse(t, itemsXML)
	assert.Same(t, base, p.ApplyXMLDataPatch(base, "items.xml"))

	p.SetEnabled(true)
	assert.True(t, p.Enabled())
	assert.NotSame(t, base, p.ApplyXMLDataPatch(base, "items.xml"))
}

func TestFindPatchForFile(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<DataPatches>
		<Patch forfile="Libs\Game\Items.XML"><Insert><A/></Insert></Patch>
		<Patch forfile="libs/game/items.xml"><Insert><B/></Insert></Patch>
	</DataPatches>`)

	for _, name := range []string{"libs/game/items.xml", "LIBS/GAME/ITEMS.XML", `libs\game\items.xml`, "./libs/game/items.xml", "/libs/game/items.xml"} {
		pe := p.FindPatchForFile(name)
		require.NotNil(t, pe, name)
		assert.Equal(t, "A", pe.FirstChild(TagInsert).Children[0].Tag, "first patch wins")
	}
	assert.Nil(t, p.FindPatchForFile("libs/game/other.xml"))
}

func TestApply_Directives(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<DataPatches>
  <Patch forfile="items.xml">
    <Match><Items version="1"/></Match>
    <Replace><Items version="2"/></Replace>
    <Patch>
      <Match><Item name="sword"/></Match>
      <Replace replaceChildren="1"><Item name="sword" damage="12"><Tier>3</Tier><Glow/></Item></Replace>
    </Patch>
    <Patch>
      <Match><Item name="bow"/></Match>
      <Replace><Item damage="4"/></Replace>
    </Patch>
    <Patch>
      <Match><Group id="armor"/></Match>
      <Insert><Item name="boots"/></Insert>
    </Patch>
    <Insert><Item name="shield"/></Insert>
    <Delete><Item name="broken"/></Delete>
  </Patch>
</DataPatches>`)
	base := mustParse(t, itemsXML)
	snapshot := base.Clone()

	got := p.ApplyXMLDataPatch(base, "items.xml")
	require.NotNil(t, got)
	assert.Equal(t, int64(0), p.Failures())

	v, _ := got.Attr("version")
	assert.Equal(t, "2", v)

	sword := child(t, got, "Item", "name", "sword")
	require.NotNil(t, sword)
	damage, _ := sword.Attr("damage")
	assert.Equal(t, "12", damage)
	require.Len(t, sword.Children, 2)
	assert.Equal(t, "3", sword.Children[0].Text)

	bow := child(t, got, "Item", "name", "bow")
	require.NotNil(t, bow)
	damage, _ = bow.Attr("damage")
	assert.Equal(t, "4", damage)

	armor := child(t, got, "Group", "id", "armor")
	require.NotNil(t, armor)
	assert.Len(t, armor.Children, 2)

	assert.NotNil(t, child(t, got, "Item", "name", "shield"))
	assert.Nil(t, child(t, got, "Item", "name", "broken"))

	assert.Empty(t, cmp.Diff(snapshot, base), "baseline must not change")
}

func TestApply_SharesUntouchedSubtrees(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml">
		<Patch><Match><Item name="bow"/></Match><Replace><Item damage="9"/></Replace></Patch>
	</Patch>`)
	base := mustParse(t, itemsXML)
	got := p.ApplyXMLDataPatch(base, "items.xml")

	assert.Same(t, base.Children[0], got.Children[0], "sword untouched")
	assert.NotSame(t, base.Children[1], got.Children[1], "bow copied")
	assert.Same(t, base.Children[3], got.Children[3], "group untouched")
}

func TestApply_FailureIsolation(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		failures []Failure
	)
	p := newPatcher(t, `<Patch forfile="items.xml">
		<Patch><Match><Item name="missing"/></Match><Replace><Item damage="1"/></Replace></Patch>
		<Patch><Match><Item name="bow"/></Match><Replace><Item damage="7"/></Replace></Patch>
	</Patch>`, WithFailureHook(func(f Failure) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, f)
	}))
	base := mustParse(t, itemsXML)
	snapshot := base.Clone()

	got := p.ApplyXMLDataPatch(base, "items.xml")
	bow := child(t, got, "Item", "name", "bow")
	require.NotNil(t, bow)
	damage, _ := bow.Attr("damage")
	assert.Equal(t, "7", damage)

	assert.Equal(t, int64(1), p.Failures())
	require.Len(t, failures, 1)
	assert.Equal(t, "items.xml", failures[0].File)
	assert.Empty(t, cmp.Diff(snapshot, base))
}

func TestApply_RootMismatch(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml"><Match><Weapons/></Match><Insert><X/></Insert></Patch>`)
	base := mustParse(t, itemsXML)
	got := p.ApplyXMLDataPatch(base, "items.xml")

	assert.Empty(t, cmp.Diff(base, got))
	assert.Equal(t, int64(1), p.Failures())
}

func TestApply_DeleteMatchedNode(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml">
		<Patch><Match><Group id="armor"/></Match><Delete/></Patch>
		<Delete/>
	</Patch>`)
	base := mustParse(t, itemsXML)
	got := p.ApplyXMLDataPatch(base, "items.xml")

	assert.Nil(t, child(t, got, "Group", "id", "armor"))
	assert.Len(t, got.Children, 3)
	assert.Len(t, base.Children, 4)
	assert.Equal(t, int64(1), p.Failures(), "deleting the root is a failure")
}

func TestApply_MalformedDirectives(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml">
		<Replace/>
		<Bogus/>
		<Patch><Insert><X/></Insert></Patch>
		<Delete><Item name="nothing"/></Delete>
		<Insert><Item name="ok"/></Insert>
	</Patch>`)
	base := mustParse(t, itemsXML)
	got := p.ApplyXMLDataPatch(base, "items.xml")

	assert.Equal(t, int64(4), p.Failures())
	assert.NotNil(t, child(t, got, "Item", "name", "ok"))
}

func TestApply_MatchByChildAndText(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml">
		<Patch><Match><Item><Tier>1</Tier></Item></Match><Replace><Item tiered="yes"/></Replace></Patch>
	</Patch>`)
	got := p.ApplyXMLDataPatch(mustParse(t, itemsXML), "items.xml")

	v, ok := got.Children[0].Attr("tiered")
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
	assert.Equal(t, int64(0), p.Failures())
}

func TestApply_DumpHook(t *testing.T) {
	t.Parallel()

	var before, after *Node
	p := newPatcher(t, `<Patch forfile="items.xml"><Insert><X/></Insert></Patch>`,
		WithDumpHook(func(_ string, b, a *Node) { before, after = b, a }))
	base := mustParse(t, itemsXML)
	got := p.ApplyXMLDataPatch(base, "items.xml")

	assert.Same(t, base, before)
	assert.Same(t, got, after)
}

func TestDumpToDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "dump")
	var errs []error
	p := newPatcher(t, `<Patch forfile="libs/items.xml"><Insert><Extra/></Insert></Patch>`,
		WithDumpHook(DumpToDir(dir, func(err error) { errs = append(errs, err) })))
	p.ApplyXMLDataPatch(mustParse(t, itemsXML), "libs/items.xml")
	require.Empty(t, errs)

	after, err := os.ReadFile(filepath.Join(dir, "libs_items.xml.after.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(after), "<Extra/>")

	before, err := os.ReadFile(filepath.Join(dir, "libs_items.xml.before.xml"))
	require.NoError(t, err)
	assert.NotContains(t, string(before), "Extra")
}

func TestLoadDocument_Invalid(t *testing.T) {
	t.Parallel()

	p := New()
	for _, doc := range []string{
		`<Something/>`,
		`<DataPatches><Other/></DataPatches>`,
		`<DataPatches><Patch/></DataPatches>`,
	} {
		assert.ErrorIs(t, p.LoadXML([]byte(doc)), ErrInvalidDocument, doc)
	}
	assert.Error(t, p.LoadXML([]byte(`<unclosed`)))

	require.NoError(t, p.LoadDocument(nil))
	assert.Nil(t, p.FindPatchForFile("anything"))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "patches.xml")
	require.NoError(t, os.WriteFile(name, []byte(`<DataPatches><Patch forfile="a.xml"/></DataPatches>`), 0o600))

	p := New()
	require.NoError(t, p.LoadFile(name))
	assert.NotNil(t, p.FindPatchForFile("A.xml"))

	assert.Error(t, p.LoadFile(filepath.Join(t.TempDir(), "missing.xml")))
}

func TestApply_Concurrent(t *testing.T) {
	t.Parallel()

	p := newPatcher(t, `<Patch forfile="items.xml">
		<Patch><Match><Item name="bow"/></Match><Replace><Item damage="8"/></Replace></Patch>
	</Patch>`)
	base := mustParse(t, itemsXML)
	snapshot := base.Clone()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				got := p.ApplyXMLDataPatch(base, "items.xml")
				bow := got.Children[1]
				v, _ := bow.Attr("damage")
				assert.Equal(t, "8", v)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, cmp.Diff(snapshot, base))
}
