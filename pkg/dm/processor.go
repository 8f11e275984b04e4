package dm

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// processor applies one transaction to a document, forwards or in reverse. It is
// used once and thrown away.
type processor struct {
	doc      *Document
	tx       *Transaction
	reversed bool
	sync     *Synchronizer

	cursor int
	// adjustment is how far the cursor has drifted from pre-transaction offsets,
	// which the still untouched node tree is addressed in.
	adjustment int

	set   map[string]struct{}
	clear map[string]struct{}
}

func newProcessor(doc *Document, tx *Transaction, reversed bool, sync *Synchronizer) *processor {
	return &processor{
		doc:      doc,
		tx:       tx,
		reversed: reversed,
		sync:     sync,
		set:      map[string]struct{}{},
		clear:    map[string]struct{}{},
	}
}

func (p *processor) process() error {
	want := p.tx.InputLength()
	if p.reversed {
		want += p.tx.LengthDifference
	}
	if want != len(p.doc.data) {
		return fmt.Errorf("%w: transaction covers %d, document has %d", ErrLengthMismatch, want, len(p.doc.data))
	}
	for i, op := range p.tx.Operations {
		var err error
		switch op.Type {
		case OpRetain:
			err = p.retain(op)
		case OpReplace:
			err = p.replace(op)
		case OpAttribute:
			err = p.attribute(op)
		case OpAnnotate:
			p.annotate(op)
		default:
			err = fmt.Errorf("%w: %q", ErrInvalidOperation, op.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to process operation %d (%v): %w", i, op, err)
		}
	}
	return nil
}

func (p *processor) annotating() bool {
	return len(p.set) > 0 || len(p.clear) > 0
}

func (p *processor) retain(op Operation) error {
	end := p.cursor + op.Length
	if end > len(p.doc.data) {
		return fmt.Errorf("%w: retain to %d of %d", ErrOutOfRange, end, len(p.doc.data))
	}
	if p.annotating() {
		p.applyAnnotations(p.doc.data[p.cursor:end])
		p.sync.PushAnnotation(Range{Start: p.cursor - p.adjustment, End: end - p.adjustment})
	}
	p.cursor = end
	return nil
}

// applyAnnotations applies the active set and clear maps to every character.
func (p *processor) applyAnnotations(data Data) {
	set, clear := maps.Keys(p.set), maps.Keys(p.clear)
	slices.Sort(set)
	slices.Sort(clear)
	for i, it := range data {
		if it.Element != nil {
			continue
		}
		for _, h := range set {
			it = it.withAnnotation(h)
		}
		for _, h := range clear {
			it = it.withoutAnnotation(h)
		}
		data[i] = it
	}
}

func (p *processor) annotate(op Operation) {
	method := op.Method
	if p.reversed {
		method = method.flip()
	}
	target := p.set
	if method == MethodClear {
		target = p.clear
	}
	if op.Bias == BiasStart {
		target[op.Index] = struct{}{}
	} else {
		delete(target, op.Index)
	}
}

func (p *processor) attribute(op Operation) error {
	if p.cursor >= len(p.doc.data) || !p.doc.data[p.cursor].IsOpen() {
		return fmt.Errorf("%w: attribute %q at %d", ErrNotElement, op.Key, p.cursor)
	}
	from, to := op.From, op.To
	if p.reversed {
		from, to = to, from
	}
	el := p.doc.data[p.cursor].Element.Clone()
	if to == nil {
		delete(el.Attributes, op.Key)
		if len(el.Attributes) == 0 {
			el.Attributes = nil
		}
	} else {
		if el.Attributes == nil {
			el.Attributes = map[string]any{}
		}
		el.Attributes[op.Key] = to
	}
	p.doc.data[p.cursor].Element = el

	node, err := p.doc.NodeFromOffset(p.cursor-p.adjustment+1, false)
	if err != nil {
		return err
	}
	if node.typ == TextType {
		node = node.parent
	}
	p.sync.PushAttributeChange(node, op.Key, from, to)
	return nil
}

func (p *processor) replace(op Operation) error {
	remove, insert := op.Remove, op.Insert
	if p.reversed {
		remove, insert = insert, remove
	}
	end := p.cursor + len(remove)
	if end > len(p.doc.data) {
		return fmt.Errorf("%w: removal to %d of %d", ErrOutOfRange, end, len(p.doc.data))
	}
	inserted := insert.Clone()
	if p.annotating() {
		p.applyAnnotations(inserted)
	}

	next := make(Data, 0, len(p.doc.data)-len(remove)+len(inserted))
	next = append(next, p.doc.data[:p.cursor]...)
	next = append(next, inserted...)
	next = append(next, p.doc.data[end:]...)
	p.doc.data = next

	oldRange := Range{Start: p.cursor - p.adjustment, End: end - p.adjustment}
	newRange := Range{Start: p.cursor, End: p.cursor + len(inserted)}
	delta := len(inserted) - len(remove)
	if ContainsElementData(remove) || ContainsElementData(inserted) {
		p.sync.PushRebuild(oldRange, newRange)
	} else if node, err := p.doc.NodeFromOffset(oldRange.Start, false); err != nil {
		return err
	} else if inner := node.InnerRange(); node.typ == TextType && inner.Start <= oldRange.Start && oldRange.End <= inner.End {
		p.sync.PushResize(node, delta)
	} else {
		p.sync.PushRebuild(oldRange, newRange)
	}
	p.adjustment += delta
	p.cursor += len(inserted)
	return nil
}
