package dm

import "fmt"

// NewFromInsertion builds a transaction inserting data at offset.
func NewFromInsertion(doc *Document, offset int, data Data) (*Transaction, error) {
	if offset < 0 || offset > doc.Len() {
		return nil, fmt.Errorf("%w: insertion at %d of %d", ErrOutOfRange, offset, doc.Len())
	}
	tx := NewTransaction()
	tx.PushRetain(offset)
	tx.PushReplace(nil, data)
	tx.PushRetain(doc.Len() - offset)
	return tx, nil
}

// NewFromRemoval builds a transaction removing a range.
func NewFromRemoval(doc *Document, r Range) (*Transaction, error) {
	return NewFromReplacement(doc, r, nil)
}

// NewFromReplacement builds a transaction replacing a range with data.
func NewFromReplacement(doc *Document, r Range, data Data) (*Transaction, error) {
	removed, err := doc.DataRange(r)
	if err != nil {
		return nil, err
	}
	tx := NewTransaction()
	tx.PushRetain(r.Start)
	tx.PushReplace(removed, data)
	tx.PushRetain(doc.Len() - r.End)
	return tx, nil
}

// NewFromAttributeChange builds a transaction setting an attribute on the opening
// element at offset. A nil value removes the attribute.
func NewFromAttributeChange(doc *Document, offset int, key string, value any) (*Transaction, error) {
	it, err := doc.Item(offset)
	if err != nil {
		return nil, err
	}
	if !it.IsOpen() {
		return nil, fmt.Errorf("%w: %v at %d", ErrNotElement, it, offset)
	}
	tx := NewTransaction()
	tx.PushRetain(offset)
	tx.PushReplaceElementAttribute(key, it.Element.Attributes[key], value)
	tx.PushRetain(doc.Len() - offset)
	return tx, nil
}

// NewFromAnnotation builds a transaction that sets or clears an annotation over
// the characters of a range. Characters already in the target state and elements
// are retained, and adjacent characters needing the change share one bracket.
func NewFromAnnotation(doc *Document, r Range, method Method, annotation Annotation) (*Transaction, error) {
	if r.Start < 0 || r.End > doc.Len() || r.Start > r.End {
		return nil, fmt.Errorf("%w: %v of %d", ErrOutOfRange, r, doc.Len())
	}
	hash := doc.Store().Index(annotation)
	tx := NewTransaction()
	tx.PushRetain(r.Start)
	span, on := r.Start, false
	for i := r.Start; i < r.End; i++ {
		it := doc.data[i]
		skip := it.Element != nil
		if !skip {
			covered := it.HasAnnotation(hash)
			skip = (covered && method == MethodSet) || (!covered && method == MethodClear)
		}
		if skip {
			if on {
				tx.PushRetain(i - span)
				tx.PushStopAnnotating(method, hash)
				span, on = i, false
			}
			continue
		}
		if !on {
			tx.PushRetain(i - span)
			tx.PushStartAnnotating(method, hash)
			span, on = i, true
		}
	}
	if on {
		tx.PushRetain(r.End - span)
		tx.PushStopAnnotating(method, hash)
		span = r.End
	}
	tx.PushRetain(doc.Len() - span)
	return tx, nil
}
