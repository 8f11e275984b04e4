package dm

import "fmt"

// SelectMode picks which nodes SelectNodes reports for a range.
type SelectMode int

const (
	// SelectLeaves reports the deepest nodes touched by the range.
	SelectLeaves SelectMode = iota
	// SelectSiblings reports the run of siblings, under the deepest common branch,
	// that covers the range.
	SelectSiblings
)

// NodeSelection is one node touched by a range.
type NodeSelection struct {
	Node *Node
	// Index is the node's position among its parent's children.
	Index int
	// Range is the part of the selected range that falls inside the node.
	Range          Range
	NodeRange      Range
	NodeOuterRange Range
}

// SelectNodes returns the nodes touched by r.
func (d *Document) SelectNodes(r Range, mode SelectMode) ([]NodeSelection, error) {
	if r.Start < 0 || r.End > d.root.length || r.Start > r.End {
		return nil, fmt.Errorf("%w: %v of %d", ErrOutOfRange, r, d.root.length)
	}
	switch mode {
	case SelectLeaves:
		if r.IsCollapsed() {
			node, err := d.NodeFromOffset(r.Start, false)
			if err != nil {
				return nil, err
			}
			return []NodeSelection{newSelection(node, r)}, nil
		}
		var out []NodeSelection
		collectLeaves(d.root, 0, r, &out)
		return out, nil
	case SelectSiblings:
		parent, first, last, _ := d.coveringSiblings(r)
		out := make([]NodeSelection, 0, last-first)
		for _, child := range parent.children[first:last] {
			out = append(out, newSelection(child, r))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown select mode %d", mode)
	}
}

func newSelection(node *Node, r Range) NodeSelection {
	index := 0
	if node.parent != nil {
		index = node.parent.indexOf(node)
	}
	inner := node.InnerRange()
	return NodeSelection{
		Node:           node,
		Index:          index,
		Range:          intersect(r, node.OuterRange()),
		NodeRange:      inner,
		NodeOuterRange: node.OuterRange(),
	}
}

func intersect(a, b Range) Range {
	start, end := max(a.Start, b.Start), min(a.End, b.End)
	if end < start {
		return Range{Start: start, End: start}
	}
	return Range{Start: start, End: end}
}

func collectLeaves(node *Node, outerStart int, r Range, out *[]NodeSelection) {
	pos := outerStart
	if node.wrapped {
		pos++
	}
	for i, child := range node.children {
		cs, ce := pos, pos+child.OuterLength()
		pos = ce
		if ce <= r.Start || cs >= r.End {
			continue
		}
		if child.leaf || len(child.children) == 0 {
			inner := Range{Start: cs, End: ce}
			if child.wrapped {
				inner = Range{Start: cs + 1, End: ce - 1}
			}
			*out = append(*out, NodeSelection{
				Node:           child,
				Index:          i,
				Range:          intersect(r, Range{Start: cs, End: ce}),
				NodeRange:      inner,
				NodeOuterRange: Range{Start: cs, End: ce},
			})
			continue
		}
		collectLeaves(child, cs, r, out)
	}
}

// coveringSiblings finds the deepest branch whose content holds r and the run of
// its children overlapping r. A collapsed r between children yields an empty run
// at the insertion index.
func (d *Document) coveringSiblings(r Range) (parent *Node, first, last int, span Range) {
	node, outerStart := d.root, 0
descend:
	for {
		pos := outerStart
		if node.wrapped {
			pos++
		}
		for _, child := range node.children {
			cs, ce := pos, pos+child.OuterLength()
			if child.wrapped && !child.leaf && cs+1 <= r.Start && r.End <= ce-1 {
				node, outerStart = child, cs
				continue descend
			}
			pos = ce
		}
		break
	}

	pos := outerStart
	if node.wrapped {
		pos++
	}
	first, last = -1, -1
	insertAt := 0
	for i, child := range node.children {
		cs, ce := pos, pos+child.OuterLength()
		pos = ce
		var overlaps bool
		if r.IsCollapsed() {
			overlaps = cs < r.Start && r.Start < ce
		} else {
			overlaps = ce > r.Start && cs < r.End
		}
		if overlaps {
			if first < 0 {
				first, span.Start = i, cs
			}
			last, span.End = i+1, ce
		}
		if ce <= r.Start {
			insertAt = i + 1
		}
	}
	if first < 0 {
		return node, insertAt, insertAt, Range{Start: r.Start, End: r.Start}
	}
	return node, first, last, span
}
