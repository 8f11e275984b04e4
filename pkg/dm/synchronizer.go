package dm

import "fmt"

// Event names emitted on tree nodes.
const (
	EventUpdate          = "update"
	EventAnnotation      = "annotation"
	EventAttributeChange = "attributeChange"
	EventSplice          = "splice"
)

// Event is a node tree notification produced by a synchronization pass.
type Event struct {
	Node *Node
	Name string
	Args []any
}

func (e Event) String() string {
	return fmt.Sprintf("%s on %s%v", e.Name, e.Node.typ, e.Args)
}

type actionKind int

const (
	actionAnnotation actionKind = iota
	actionAttributeChange
	actionResize
	actionRebuild
)

type syncAction struct {
	kind actionKind
	node *Node
	// rng is in pre-transaction offsets.
	rng   Range
	delta int

	key      string
	from, to any
}

// Synchronizer collects tree actions while a transaction is processed and plays
// them against the node tree afterwards. Actions must be pushed in
// non-decreasing offset order and must not overlap.
type Synchronizer struct {
	doc     *Document
	actions []syncAction

	events []Event
	seen   map[*Node]map[string]struct{}
}

func NewSynchronizer(doc *Document) *Synchronizer {
	return &Synchronizer{doc: doc, seen: map[*Node]map[string]struct{}{}}
}

// PushAnnotation records that annotations changed over a range.
func (s *Synchronizer) PushAnnotation(r Range) {
	s.actions = append(s.actions, syncAction{kind: actionAnnotation, rng: r})
}

// PushAttributeChange records an attribute change on an element node.
func (s *Synchronizer) PushAttributeChange(node *Node, key string, from, to any) {
	start := node.Offset()
	s.actions = append(s.actions, syncAction{
		kind: actionAttributeChange,
		node: node,
		rng:  Range{Start: start, End: start + 1},
		key:  key,
		from: from,
		to:   to,
	})
}

// PushResize records a content-only length change inside a text node.
func (s *Synchronizer) PushResize(node *Node, delta int) {
	s.actions = append(s.actions, syncAction{kind: actionResize, node: node, rng: node.OuterRange(), delta: delta})
}

// PushRebuild records that oldRange of the pre-transaction model became newRange
// of the post-transaction model.
func (s *Synchronizer) PushRebuild(oldRange, newRange Range) {
	s.actions = append(s.actions, syncAction{kind: actionRebuild, rng: oldRange, delta: newRange.Len() - oldRange.Len()})
}

// QueueEvent queues an event unless the same event with the same arguments is
// already queued for the node.
func (s *Synchronizer) QueueEvent(node *Node, name string, args ...any) {
	key := fmt.Sprintf("%s%#v", name, args)
	seen, ok := s.seen[node]
	if !ok {
		seen = map[string]struct{}{}
		s.seen[node] = seen
	}
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}
	s.events = append(s.events, Event{Node: node, Name: name, Args: args})
}

// Synchronize executes the queued actions against the tree, then returns the
// deduplicated events and empties both queues.
func (s *Synchronizer) Synchronize() ([]Event, error) {
	// adj is the sum of the deltas already applied to the tree, which maps
	// pre-transaction offsets at or after the current action onto the tree.
	adj := 0
	for i := 0; i < len(s.actions); {
		a := s.actions[i]
		switch a.kind {
		case actionRebuild:
			next, delta, err := s.rebuild(i, adj)
			if err != nil {
				return nil, err
			}
			adj += delta
			i = next
			continue
		case actionResize:
			if err := s.resize(a); err != nil {
				return nil, err
			}
			adj += a.delta
		case actionAnnotation:
			if err := s.annotation(Range{Start: a.rng.Start + adj, End: a.rng.End + adj}); err != nil {
				return nil, err
			}
		case actionAttributeChange:
			s.attributeChange(a)
		}
		i++
	}
	s.actions = nil
	return s.flush(), nil
}

func (s *Synchronizer) annotation(r Range) error {
	selections, err := s.doc.SelectNodes(r, SelectLeaves)
	if err != nil {
		return err
	}
	for _, sel := range selections {
		if sel.Node.typ != TextType {
			continue
		}
		s.QueueEvent(sel.Node, EventAnnotation)
		s.QueueEvent(sel.Node.parent, EventUpdate)
	}
	return nil
}

func (s *Synchronizer) attributeChange(a syncAction) {
	attrs := a.node.Attributes()
	if a.to == nil {
		delete(attrs, a.key)
		if len(attrs) == 0 {
			attrs = nil
		}
	} else {
		if attrs == nil {
			attrs = map[string]any{}
		}
		attrs[a.key] = a.to
	}
	a.node.attributes = attrs
	s.QueueEvent(a.node, EventAttributeChange, a.key, a.from, a.to)
	s.QueueEvent(a.node, EventUpdate)
}

func (s *Synchronizer) resize(a syncAction) error {
	node := a.node
	parent := node.parent
	if parent == nil {
		return fmt.Errorf("%w: resize of detached %s node", ErrInconsistentTree, node.typ)
	}
	node.adjustLength(a.delta)
	if node.length == 0 {
		index := parent.indexOf(node)
		parent.splice(index, 1, nil)
		s.QueueEvent(parent, EventSplice, index, 1, 0)
	} else {
		s.QueueEvent(node, EventUpdate)
	}
	s.QueueEvent(parent, EventUpdate)
	return nil
}

// rebuild replaces the run of siblings covering the action at index i with nodes
// built from the new data. Later actions that fall inside the run are absorbed.
// When the new data does not form whole siblings at that depth, the run widens to
// the parent. It returns the index of the next unabsorbed action and the total
// length change.
func (s *Synchronizer) rebuild(i, adj int) (next, delta int, err error) {
	a := s.actions[i]
	lo, hi := a.rng.Start, a.rng.End
	delta = a.delta
	next = i + 1
	for {
		parent, first, last, span := s.doc.coveringSiblings(Range{Start: lo + adj, End: hi + adj})
		// Neighbouring text nodes would merge with new text, so take them in.
		if first > 0 && parent.children[first-1].typ == TextType {
			first--
			span.Start -= parent.children[first].length
		}
		if last < len(parent.children) && parent.children[last].typ == TextType {
			span.End += parent.children[last].length
			last++
		}
		if span.Start-adj < lo || span.End-adj > hi {
			lo, hi = min(lo, span.Start-adj), max(hi, span.End-adj)
		}

		grew := false
		for next < len(s.actions) && s.actions[next].rng.Start < span.End-adj {
			b := s.actions[next]
			delta += b.delta
			if b.rng.End > hi {
				hi, grew = b.rng.End, true
			}
			next++
		}
		if grew {
			continue
		}

		nodes, buildErr := buildNodes(s.doc.data[span.Start:span.End+delta], s.doc.types)
		if buildErr == nil {
			parent.splice(first, last-first, nodes)
			s.QueueEvent(parent, EventSplice, first, last-first, len(nodes))
			s.QueueEvent(parent, EventUpdate)
			return next, delta, nil
		}
		if parent == s.doc.root {
			return 0, 0, fmt.Errorf("%w: cannot rebuild %v: %v", ErrInconsistentTree, span, buildErr)
		}
		outer := parent.OuterRange()
		lo, hi = outer.Start-adj, outer.End-adj
	}
}

// flush returns the queued events for nodes still in the tree and resets the
// event queue.
func (s *Synchronizer) flush() []Event {
	var out []Event
	for _, e := range s.events {
		if s.attached(e.Node) {
			out = append(out, e)
		}
	}
	s.events = nil
	s.seen = map[*Node]map[string]struct{}{}
	return out
}

func (s *Synchronizer) attached(node *Node) bool {
	for n := node; n != nil; n = n.parent {
		if n == s.doc.root {
			return true
		}
	}
	return false
}
