package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// NodeKind tells which navigation element produced a node.
type NodeKind int

const (
	KindPoint  NodeKind = iota // navPoint
	KindTarget                 // navTarget
)

func (k NodeKind) String() string {
	if k == KindTarget {
		return "target"
	}
	return "point"
}

// NavNode is a single entry of the table of contents.
type NavNode struct {
	ID           string
	Title        string
	Href         string // as written in the document, fragment kept verbatim
	PlayOrder    int
	HasPlayOrder bool
	Kind         NodeKind

	index    int
	parent   int
	children []int
	depth    int
}

// Depth is the nesting level of the node, top-level nodes are at depth 1.
func (n *NavNode) Depth() int { return n.depth }

// Path returns Href without its fragment.
func (n *NavNode) Path() string {
	p, _ := SplitFragment(n.Href)
	return p
}

// NavTree is the parsed navigation document. Nodes live in a single arena
// in document pre-order; index 0 is a synthetic root holding the top-level
// entries as its children.
type NavTree struct {
	UID           string
	DocTitle      string
	DeclaredDepth int // dtb:depth meta, 0 when absent

	nodes []NavNode
}

// ParseNCX parses a navigation document. Both navPoint and navTarget
// elements become nodes, each attached to its nearest enclosing node.
func ParseNCX(content []byte) (*NavTree, error) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Entity:        xml.HTMLEntity,
	}
	if err := doc.ReadFromBytes(bytes.TrimPrefix(content, utf8BOM)); err != nil {
		return nil, fmt.Errorf("%w: failed to parse navigation document: %w", ErrMalformedEpub, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: navigation document has no root element", ErrMalformedEpub)
	}

	t := &NavTree{nodes: []NavNode{{index: 0, parent: -1}}}
	if head := childElement(root, "head"); head != nil {
		for _, m := range head.ChildElements() {
			if m.Tag != "meta" {
				continue
			}
			switch m.SelectAttrValue("name", "") {
			case "dtb:uid":
				t.UID = strings.TrimSpace(m.SelectAttrValue("content", ""))
			case "dtb:depth":
				t.DeclaredDepth, _ = strconv.Atoi(strings.TrimSpace(m.SelectAttrValue("content", "")))
			}
		}
	}
	if dt := childElement(root, "docTitle"); dt != nil {
		t.DocTitle = elementText(childElement(dt, "text"))
	}

	type frame struct {
		el     *etree.Element
		parent int
	}
	stack := make([]frame, 0, 16)
	pushChildren := func(el *etree.Element, parent int) {
		kids := el.ChildElements()
		for i := len(kids) - 1; i >= 0; i-- {
			switch kids[i].Tag {
			case "head", "docTitle", "docAuthor", "navLabel", "content":
				continue
			}
			stack = append(stack, frame{el: kids[i], parent: parent})
		}
	}
	pushChildren(root, 0)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var kind NodeKind
		switch f.el.Tag {
		case "navPoint":
			kind = KindPoint
		case "navTarget":
			kind = KindTarget
		default:
			// navMap, navList, pageList and unknown wrappers are transparent
			pushChildren(f.el, f.parent)
			continue
		}

		idx := t.add(f.el, kind, f.parent)
		pushChildren(f.el, idx)
	}
	return t, nil
}

func (t *NavTree) add(el *etree.Element, kind NodeKind, parent int) int {
	n := NavNode{
		ID:     el.SelectAttrValue("id", ""),
		Kind:   kind,
		index:  len(t.nodes),
		parent: parent,
		depth:  t.nodes[parent].depth + 1,
	}
	if label := childElement(el, "navLabel"); label != nil {
		n.Title = elementText(childElement(label, "text"))
	}
	if c := childElement(el, "content"); c != nil {
		n.Href = strings.TrimSpace(c.SelectAttrValue("src", ""))
	}
	if v := el.SelectAttrValue("playOrder", ""); v != "" {
		if po, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			n.PlayOrder, n.HasPlayOrder = po, true
		}
	}
	t.nodes = append(t.nodes, n)
	t.nodes[parent].children = append(t.nodes[parent].children, n.index)
	return n.index
}

// Len returns the number of navigation nodes, the root excluded.
func (t *NavTree) Len() int { return len(t.nodes) - 1 }

// Root returns the synthetic root node.
func (t *NavTree) Root() *NavNode { return &t.nodes[0] }

// FindChildren returns the direct children of n in document order. A nil
// node means the root.
func (t *NavTree) FindChildren(n *NavNode) []*NavNode {
	if n == nil {
		n = t.Root()
	}
	out := make([]*NavNode, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, &t.nodes[c])
	}
	return out
}

// TopLevel returns the children of the root.
func (t *NavTree) TopLevel() []*NavNode { return t.FindChildren(nil) }

// FindDescendantsAtDepth returns every node exactly depth levels below the
// root (1-indexed) in document order.
func (t *NavTree) FindDescendantsAtDepth(depth int) []*NavNode {
	if depth < 1 {
		return nil
	}
	level := t.nodes[0].children
	for d := 1; d < depth && len(level) > 0; d++ {
		var next []int
		for _, i := range level {
			next = append(next, t.nodes[i].children...)
		}
		level = next
	}
	out := make([]*NavNode, 0, len(level))
	for _, i := range level {
		out = append(out, &t.nodes[i])
	}
	return out
}

// Flatten returns all nodes in document pre-order.
func (t *NavTree) Flatten() []*NavNode {
	out := make([]*NavNode, 0, t.Len())
	for i := 1; i < len(t.nodes); i++ {
		out = append(out, &t.nodes[i])
	}
	return out
}

// SectionOf returns the first top-level node, in document order, with a
// direct child for which match is true. Deeper descendants and top-level
// nodes themselves are not considered.
func (t *NavTree) SectionOf(match func(*NavNode) bool) *NavNode {
	for _, top := range t.TopLevel() {
		for _, child := range t.FindChildren(top) {
			if match(child) {
				return top
			}
		}
	}
	return nil
}

// SplitFragment splits an href into the path and fragment identifier.
func SplitFragment(src string) (path, fragment string) {
	path, fragment, _ = strings.Cut(src, "#")
	return path, fragment
}

func childElement(el *etree.Element, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func elementText(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}
