package dm

import (
	"fmt"
	"sync"
)

// Document owns the linear model, the node tree derived from it and the
// annotation store its characters refer to. It is not safe for concurrent use:
// commits, rollbacks and reads of the same document must come from a single
// writer.
type Document struct {
	data  Data
	store *AnnotationStore
	types *NodeTypes
	root  *Node

	subscribersMu sync.Mutex
	subscribers   []chan Event
}

// Option configures a new Document.
type Option func(*Document)

// WithNodeTypes sets the element type registry used to build the tree.
func WithNodeTypes(types *NodeTypes) Option {
	return func(d *Document) {
		d.types = types
	}
}

// WithStore shares an existing annotation store with the document.
func WithStore(store *AnnotationStore) Option {
	return func(d *Document) {
		d.store = store
	}
}

// NewDocument builds a document from linear data. The data is copied and its
// annotation handle lists are put into canonical order.
func NewDocument(data Data, opts ...Option) (*Document, error) {
	d := &Document{
		data:  make(Data, 0, len(data)),
		store: NewAnnotationStore(),
		types: DefaultNodeTypes(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, it := range data {
		if len(it.Annotations) > 0 {
			hashes := it.Annotations
			it.Annotations = nil
			for _, h := range hashes {
				it = it.withAnnotation(h)
			}
		}
		d.data = append(d.data, it)
	}
	root, err := d.buildRoot()
	if err != nil {
		return nil, err
	}
	d.root = root
	return d, nil
}

func (d *Document) buildRoot() (*Node, error) {
	children, err := buildNodes(d.data, d.types)
	if err != nil {
		return nil, err
	}
	root := &Node{typ: DocumentType, length: len(d.data)}
	for _, c := range children {
		c.parent = root
	}
	root.children = children
	return root, nil
}

// Len is the length of the linear model.
func (d *Document) Len() int {
	return len(d.data)
}

// Data returns a copy of the whole linear model.
func (d *Document) Data() Data {
	return d.data.Clone()
}

// DataRange returns a copy of a slice of the linear model.
func (d *Document) DataRange(r Range) (Data, error) {
	if r.Start < 0 || r.End > len(d.data) || r.Start > r.End {
		return nil, fmt.Errorf("%w: %v of %d", ErrOutOfRange, r, len(d.data))
	}
	return d.data[r.Start:r.End].Clone(), nil
}

// Item returns the item at an offset.
func (d *Document) Item(offset int) (Item, error) {
	if offset < 0 || offset >= len(d.data) {
		return Item{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, offset, len(d.data))
	}
	return d.data[offset], nil
}

func (d *Document) Store() *AnnotationStore {
	return d.store
}

func (d *Document) NodeTypes() *NodeTypes {
	return d.types
}

// Root returns the document node.
func (d *Document) Root() *Node {
	return d.root
}

// OffsetContainsAnnotation reports whether the character at offset carries hash.
func (d *Document) OffsetContainsAnnotation(offset int, hash string) bool {
	if offset < 0 || offset >= len(d.data) {
		return false
	}
	return d.data[offset].HasAnnotation(hash)
}

// AnnotationsAt resolves the annotations on the character at offset.
func (d *Document) AnnotationsAt(offset int) []Annotation {
	if offset < 0 || offset >= len(d.data) {
		return nil
	}
	var out []Annotation
	for _, h := range d.data[offset].Annotations {
		if a, ok := d.store.Value(h); ok {
			out = append(out, a)
		}
	}
	return out
}

// NodeFromOffset descends from the root to the deepest node whose content holds
// offset. With shallow set, the descent stops at nodes that can have children.
func (d *Document) NodeFromOffset(offset int, shallow bool) (*Node, error) {
	// The tree is addressed by its own length, which trails the data while a
	// transaction is being processed.
	if offset < 0 || offset > d.root.length {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, offset, d.root.length)
	}
	node := d.root
	start := 0
descend:
	for {
		pos := start
		if node.wrapped {
			pos++
		}
		for _, child := range node.children {
			outer := child.OuterLength()
			if child.wrapped {
				if offset > pos && offset < pos+outer {
					if child.leaf {
						if shallow {
							return node, nil
						}
						return child, nil
					}
					node, start = child, pos
					continue descend
				}
			} else if offset >= pos && offset <= pos+outer {
				if shallow {
					return node, nil
				}
				return child, nil
			}
			pos += outer
		}
		return node, nil
	}
}

// CheckConsistency rebuilds the tree from the linear model and compares it with
// the live tree.
func (d *Document) CheckConsistency() error {
	fresh, err := d.buildRoot()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentTree, err)
	}
	if !sameShape(fresh, d.root) {
		return fmt.Errorf("%w: have %s, want %s", ErrInconsistentTree, d.root, fresh)
	}
	if d.root.length != len(d.data) {
		return fmt.Errorf("%w: root length %d, data length %d", ErrInconsistentTree, d.root.length, len(d.data))
	}
	return nil
}

// Commit applies a transaction and synchronizes the tree. Events are returned and
// delivered to subscribers once the model mutation is complete.
func (d *Document) Commit(tx *Transaction) ([]Event, error) {
	return d.process(tx, false)
}

// Rollback reverses a previously committed transaction.
func (d *Document) Rollback(tx *Transaction) ([]Event, error) {
	return d.process(tx, true)
}

func (d *Document) process(tx *Transaction, reversed bool) ([]Event, error) {
	s := NewSynchronizer(d)
	p := newProcessor(d, tx, reversed, s)
	if err := p.process(); err != nil {
		return nil, err
	}
	events, err := s.Synchronize()
	if err != nil {
		return nil, err
	}
	d.publish(events)
	return events, nil
}

// Subscribe returns a channel receiving every event emitted after a commit or
// rollback, and a function that ends the subscription. Delivery blocks once the
// buffer is full, so subscribers must keep draining the channel.
func (d *Document) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	d.subscribersMu.Lock()
	d.subscribers = append(d.subscribers, ch)
	d.subscribersMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subscribersMu.Lock()
			defer d.subscribersMu.Unlock()
			for i, c := range d.subscribers {
				if c == ch {
					d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}
}

func (d *Document) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	d.subscribersMu.Lock()
	defer d.subscribersMu.Unlock()
	for _, ch := range d.subscribers {
		for _, e := range events {
			ch <- e
		}
	}
}
