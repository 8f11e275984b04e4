package dm

import (
	"fmt"
	"strings"
)

// Node types that the tree builder knows about without a registry entry.
const (
	DocumentType = "document"
	TextType     = "text"
)

// NodeSpec describes how an element type maps onto the node tree.
type NodeSpec struct {
	// Leaf elements have no content between their markers.
	Leaf bool
}

// NodeTypes is a registry of element types. Unregistered types are branches.
type NodeTypes struct {
	specs map[string]NodeSpec
}

func NewNodeTypes() *NodeTypes {
	return &NodeTypes{specs: map[string]NodeSpec{}}
}

// DefaultNodeTypes returns a registry with the common rich-text node types.
func DefaultNodeTypes() *NodeTypes {
	nt := NewNodeTypes()
	for _, t := range []string{"paragraph", "heading", "preformatted", "list", "listItem", "table", "tableSection", "tableRow", "tableCell"} {
		nt.Register(t, NodeSpec{})
	}
	for _, t := range []string{"image", "alienBlock", "alienInline", "break"} {
		nt.Register(t, NodeSpec{Leaf: true})
	}
	return nt
}

func (nt *NodeTypes) Register(typ string, spec NodeSpec) {
	nt.specs[typ] = spec
}

func (nt *NodeTypes) Spec(typ string) NodeSpec {
	return nt.specs[typ]
}

// Node is one node of the tree mirroring the linear model. The document node and
// text nodes are unwrapped; element nodes are wrapped by their two markers.
type Node struct {
	typ        string
	attributes map[string]any
	length     int
	wrapped    bool
	leaf       bool
	parent     *Node
	children   []*Node
}

func (n *Node) Type() string {
	return n.typ
}

// Attribute returns a cached attribute value.
func (n *Node) Attribute(key string) any {
	return n.attributes[key]
}

// Attributes returns a copy of the cached attributes.
func (n *Node) Attributes() map[string]any {
	if n.attributes == nil {
		return nil
	}
	out := make(map[string]any, len(n.attributes))
	for k, v := range n.attributes {
		out[k] = v
	}
	return out
}

// Length is the inner length in linear model units.
func (n *Node) Length() int {
	return n.length
}

// OuterLength includes the node's own markers.
func (n *Node) OuterLength() int {
	if n.wrapped {
		return n.length + 2
	}
	return n.length
}

func (n *Node) IsWrapped() bool {
	return n.wrapped
}

// CanHaveChildren reports whether the node is a branch.
func (n *Node) CanHaveChildren() bool {
	return !n.leaf
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) indexOf(child *Node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

// Offset returns the offset of the node's outer start, walking up to the root.
func (n *Node) Offset() int {
	offset := 0
	for node := n; node.parent != nil; node = node.parent {
		p := node.parent
		if p.wrapped {
			offset++
		}
		for _, sibling := range p.children {
			if sibling == node {
				break
			}
			offset += sibling.OuterLength()
		}
	}
	return offset
}

// OuterRange returns the span of the node including its markers.
func (n *Node) OuterRange() Range {
	start := n.Offset()
	return Range{Start: start, End: start + n.OuterLength()}
}

// InnerRange returns the span of the node's content.
func (n *Node) InnerRange() Range {
	start := n.Offset()
	if n.wrapped {
		start++
	}
	return Range{Start: start, End: start + n.length}
}

// adjustLength changes the node's length and keeps every ancestor in step.
func (n *Node) adjustLength(delta int) {
	for node := n; node != nil; node = node.parent {
		node.length += delta
	}
}

// splice replaces children[index:index+remove] with nodes and fixes ancestor lengths.
func (n *Node) splice(index, remove int, nodes []*Node) {
	delta := 0
	for _, c := range n.children[index : index+remove] {
		delta -= c.OuterLength()
		c.parent = nil
	}
	for _, c := range nodes {
		delta += c.OuterLength()
		c.parent = n
	}
	next := make([]*Node, 0, len(n.children)-remove+len(nodes))
	next = append(next, n.children[:index]...)
	next = append(next, nodes...)
	next = append(next, n.children[index+remove:]...)
	n.children = next
	n.adjustLength(delta)
}

func (n *Node) String() string {
	var sb strings.Builder
	n.describe(&sb)
	return sb.String()
}

func (n *Node) describe(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s(%d", n.typ, n.length)
	for _, c := range n.children {
		sb.WriteString(" ")
		c.describe(sb)
	}
	sb.WriteString(")")
}

// sameShape compares two trees structurally, including cached attributes.
func sameShape(a, b *Node) bool {
	if a.typ != b.typ || a.length != b.length || a.wrapped != b.wrapped || len(a.children) != len(b.children) {
		return false
	}
	if !mapsEqual(a.attributes, b.attributes) {
		return false
	}
	for i := range a.children {
		if !sameShape(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// buildNodes turns a balanced slice of the linear model into sibling nodes.
func buildNodes(data Data, types *NodeTypes) ([]*Node, error) {
	var nodes []*Node
	i := 0
	for i < len(data) {
		it := data[i]
		if it.Element == nil {
			j := i
			for j < len(data) && data[j].Element == nil {
				j++
			}
			nodes = append(nodes, &Node{typ: TextType, length: j - i, leaf: true})
			i = j
			continue
		}
		if it.Element.IsClose() {
			return nil, fmt.Errorf("%w: unexpected %s at %d", ErrUnbalanced, it.Element.Type, i)
		}
		end, err := matchingClose(data, i)
		if err != nil {
			return nil, err
		}
		node := &Node{
			typ:        it.Element.Type,
			attributes: it.Element.Clone().Attributes,
			length:     end - i - 1,
			wrapped:    true,
			leaf:       types.Spec(it.Element.Type).Leaf,
		}
		if node.leaf {
			if node.length != 0 {
				return nil, fmt.Errorf("%w: leaf %s has content", ErrUnbalanced, node.typ)
			}
		} else {
			children, err := buildNodes(data[i+1:end], types)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				c.parent = node
			}
			node.children = children
		}
		nodes = append(nodes, node)
		i = end + 1
	}
	return nodes, nil
}

// matchingClose finds the closing marker for the opening marker at start.
func matchingClose(data Data, start int) (int, error) {
	depth := 0
	for i := start; i < len(data); i++ {
		el := data[i].Element
		if el == nil {
			continue
		}
		if el.IsClose() {
			depth--
			if depth == 0 {
				if el.Name() != data[start].Element.Type {
					return 0, fmt.Errorf("%w: %s closed by %s at %d", ErrUnbalanced, data[start].Element.Type, el.Type, i)
				}
				return i, nil
			}
			if depth < 0 {
				break
			}
		} else {
			depth++
		}
	}
	return 0, fmt.Errorf("%w: %s at %d is never closed", ErrUnbalanced, data[start].Element.Type, start)
}
