package patch

import "strings"

// Attr is a single name/value attribute. Attribute order is preserved.
type Attr struct {
	Name  string
	Value string
}

// Node is an element of an XML-like document tree.
type Node struct {
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets the named attribute, appending it if absent.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// FirstChild returns the first direct child with the given tag.
func (n *Node) FirstChild(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Tag:   n.Tag,
		Attrs: append([]Attr(nil), n.Attrs...),
		Text:  n.Text,
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// DuplicateForPatching returns a copy of n that owns its attribute and
// child slices but shares the child nodes themselves with n. Mutating the
// copy's attributes or replacing entries of its Children slice leaves n
// untouched; a child must itself be duplicated before it is modified.
func DuplicateForPatching(n *Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{
		Tag:      n.Tag,
		Attrs:    append([]Attr(nil), n.Attrs...),
		Text:     n.Text,
		Children: append([]*Node(nil), n.Children...),
	}
}

// CompareTags reports whether node satisfies pattern.
//
// The tags must be equal and every attribute of pattern must be present on
// node with the same value. If pattern has text, node's text must match it
// after trimming surrounding space. Each child of pattern must in turn be
// satisfied by some child of node.
func CompareTags(node, pattern *Node) bool {
	if node == nil || pattern == nil || node.Tag != pattern.Tag {
		return false
	}
	for _, a := range pattern.Attrs {
		if v, ok := node.Attr(a.Name); !ok || v != a.Value {
			return false
		}
	}
	if want := strings.TrimSpace(pattern.Text); want != "" && strings.TrimSpace(node.Text) != want {
		return false
	}
	for _, pc := range pattern.Children {
		if matchChild(node, pc) < 0 {
			return false
		}
	}
	return true
}

// matchChild returns the index of the first child of node satisfying pattern, or -1.
func matchChild(node, pattern *Node) int {
	for i, c := range node.Children {
		if CompareTags(c, pattern) {
			return i
		}
	}
	return -1
}
