package patch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXML(t *testing.T) {
	t.Parallel()

	n, err := ParseXML([]byte(`<?xml version="1.0"?>
<!-- comment -->
<Root a="1" xml:lang="en">
  <Child b="2">text</Child>
  <Empty/>
</Root>`))
	require.NoError(t, err)

	want := &Node{
		Tag:   "Root",
		Attrs: []Attr{{Name: "a", Value: "1"}, {Name: "xml:lang", Value: "en"}},
		Children: []*Node{
			{Tag: "Child", Attrs: []Attr{{Name: "b", Value: "2"}}, Text: "text"},
			{Tag: "Empty"},
		},
	}
	assert.Empty(t, cmp.Diff(want, n))
}

func TestParseXML_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseXML([]byte(""))
	assert.Error(t, err)

	_, err = ParseXML([]byte("<a><b></a>"))
	assert.Error(t, err)
}

func TestEncodeXML_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := mustParse(t, itemsXML)
	data, err := EncodeXML(orig)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<?xml version="1.0" encoding="UTF-8"?>`)

	again, err := ParseXML(data)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(orig, again))

	_, err = EncodeXML(nil)
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestNode_Helpers(t *testing.T) {
	t.Parallel()

	n := &Node{Tag: "x"}
	n.SetAttr("a", "1")
	n.SetAttr("b", "2")
	n.SetAttr("a", "3")
	assert.Equal(t, []Attr{{"a", "3"}, {"b", "2"}}, n.Attrs)

	_, ok := n.Attr("missing")
	assert.False(t, ok)

	n.Children = []*Node{{Tag: "c", Children: []*Node{{Tag: "d"}}}}
	clone := n.Clone()
	clone.Children[0].Children[0].Tag = "changed"
	assert.Equal(t, "d", n.Children[0].Children[0].Tag)
	assert.Same(t, n.Children[0], n.FirstChild("c"))
	assert.Nil(t, n.FirstChild("nope"))

	dup := DuplicateForPatching(n)
	assert.Same(t, n.Children[0], dup.Children[0])
	dup.SetAttr("a", "9")
	v, _ := n.Attr("a")
	assert.Equal(t, "3", v)
}

func TestCompareTags(t *testing.T) {
	t.Parallel()

	node := &Node{
		Tag:   "Item",
		Attrs: []Attr{{"name", "sword"}, {"damage", "5"}},
		Text:  " sharp ",
		Children: []*Node{
			{Tag: "Tier", Text: "1"},
		},
	}
	tests := []struct {
		name    string
		pattern *Node
		want    bool
	}{
		{"tag only", &Node{Tag: "Item"}, true},
		{"attr subset", &Node{Tag: "Item", Attrs: []Attr{{"name", "sword"}}}, true},
		{"attr value differs", &Node{Tag: "Item", Attrs: []Attr{{"name", "bow"}}}, false},
		{"attr missing", &Node{Tag: "Item", Attrs: []Attr{{"weight", "1"}}}, false},
		{"tag differs", &Node{Tag: "Weapon"}, false},
		{"text", &Node{Tag: "Item", Text: "sharp"}, true},
		{"text differs", &Node{Tag: "Item", Text: "dull"}, false},
		{"child", &Node{Tag: "Item", Children: []*Node{{Tag: "Tier", Text: "1"}}}, true},
		{"child differs", &Node{Tag: "Item", Children: []*Node{{Tag: "Tier", Text: "2"}}}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CompareTags(node, tt.pattern))
		})
	}
}
