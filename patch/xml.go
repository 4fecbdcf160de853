package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// ErrNoRoot is returned when an XML document has no root element.
var ErrNoRoot = errors.New("patch: document has no root element")

// ParseXML parses an XML document into a Node tree. Comments, processing
// instructions and whitespace-only text are dropped.
func ParseXML(data []byte) (*Node, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, ErrNoRoot
	}
	return fromElement(root), nil
}

func fromElement(el *etree.Element) *Node {
	n := &Node{
		Tag:  qualify(el.Space, el.Tag),
		Text: strings.TrimSpace(el.Text()),
	}
	if len(el.Attr) > 0 {
		n.Attrs = make([]Attr, 0, len(el.Attr))
		for _, a := range el.Attr {
			n.Attrs = append(n.Attrs, Attr{Name: qualify(a.Space, a.Key), Value: a.Value})
		}
	}
	for _, child := range el.ChildElements() {
		n.Children = append(n.Children, fromElement(child))
	}
	return n
}

func qualify(space, local string) string {
	if space == "" {
		return local
	}
	return space + ":" + local
}

// EncodeXML renders n as an indented XML document.
func EncodeXML(n *Node) ([]byte, error) {
	if n == nil {
		return nil, ErrNoRoot
	}
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	toElement(&doc.Element, n)
	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return out, nil
}

func toElement(parent *etree.Element, n *Node) {
	el := parent.CreateElement(n.Tag)
	for _, a := range n.Attrs {
		el.CreateAttr(a.Name, a.Value)
	}
	if n.Text != "" {
		el.SetText(n.Text)
	}
	for _, c := range n.Children {
		toElement(el, c)
	}
}
