package patch

import (
	"slices"
)

// applier applies one Patch element to one file.
type applier struct {
	p      *Patcher
	file   string
	failed int
}

func (a *applier) fail(format string, args ...any) {
	a.failed++
	a.p.fail(a.file, format, args...)
}

// applyTop applies a top-level Patch to root, which must already be owned.
func (a *applier) applyTop(root *Node, pe *Node) {
	if m := pe.FirstChild(TagMatch); m != nil {
		pattern, ok := a.singleElement(m)
		if !ok {
			return
		}
		if !CompareTags(root, pattern) {
			a.fail("root <%s> does not match <%s>", root.Tag, pattern.Tag)
			return
		}
	}
	a.applyDirectives(pe, nil, -1, root)
}

// applyNested applies a nested Patch to the children of scope, which must
// already be owned.
func (a *applier) applyNested(scope *Node, pe *Node) {
	m := pe.FirstChild(TagMatch)
	if m == nil {
		a.fail("nested <%s> under <%s> has no <%s>", TagPatch, scope.Tag, TagMatch)
		return
	}
	pattern, ok := a.singleElement(m)
	if !ok {
		return
	}
	i := matchChild(scope, pattern)
	if i < 0 {
		a.fail("no child of <%s> matches <%s>", scope.Tag, describe(pattern))
		return
	}
	scope.Children[i] = DuplicateForPatching(scope.Children[i])
	a.applyDirectives(pe, scope, i, scope.Children[i])
}

// applyDirectives runs the directives of pe against target, the owned
// child at index idx of parent. parent is nil for the document root.
func (a *applier) applyDirectives(pe, parent *Node, idx int, target *Node) {
	seenMatch := false
	for _, d := range pe.Children {
		switch d.Tag {
		case TagMatch:
			if seenMatch {
				a.fail("<%s> has more than one <%s>", TagPatch, TagMatch)
			}
			seenMatch = true
		case TagReplace:
			a.replace(target, d)
		case TagInsert:
			for _, c := range d.Children {
				target.Children = append(target.Children, c.Clone())
			}
		case TagDelete:
			if len(d.Children) == 0 {
				if parent == nil {
					a.fail("cannot delete root <%s>", target.Tag)
					continue
				}
				parent.Children = slices.Delete(parent.Children, idx, idx+1)
				return
			}
			a.deleteChildren(target, d)
		case TagPatch:
			a.applyNested(target, d)
		default:
			a.fail("unknown directive <%s>", d.Tag)
		}
	}
}

func (a *applier) replace(target, d *Node) {
	with, ok := a.singleElement(d)
	if !ok {
		return
	}
	target.Tag = with.Tag
	for _, attr := range with.Attrs {
		target.SetAttr(attr.Name, attr.Value)
	}
	if v, _ := d.Attr(AttrReplaceChildren); v == "1" || v == "true" {
		target.Text = with.Text
		target.Children = make([]*Node, 0, len(with.Children))
		for _, c := range with.Children {
			target.Children = append(target.Children, c.Clone())
		}
	} else if with.Text != "" {
		target.Text = with.Text
	}
}

func (a *applier) deleteChildren(target, d *Node) {
	for _, pattern := range d.Children {
		n := len(target.Children)
		target.Children = slices.DeleteFunc(target.Children, func(c *Node) bool {
			return CompareTags(c, pattern)
		})
		if len(target.Children) == n {
			a.fail("nothing under <%s> to delete matching <%s>", target.Tag, describe(pattern))
		}
	}
}

// singleElement returns the only child of a directive, reporting a failure
// if there is not exactly one.
func (a *applier) singleElement(d *Node) (*Node, bool) {
	if len(d.Children) != 1 {
		a.fail("<%s> must contain exactly one element, found %d", d.Tag, len(d.Children))
		return nil, false
	}
	return d.Children[0], true
}

func describe(n *Node) string {
	s := n.Tag
	for _, a := range n.Attrs {
		s += " " + a.Name + "=" + `"` + a.Value + `"`
	}
	return s
}
