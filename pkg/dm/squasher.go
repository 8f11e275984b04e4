package dm

import (
	"fmt"
	"reflect"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type unitKind int

const (
	unitKeep unitKind = iota
	unitDelete
	unitInsert
)

type attributeChange struct {
	from, to any
}

// unit is the effect of a transaction on a single item of its pre- or post-image.
// A transaction flattens into one keep or delete per input item and one insert per
// output item.
type unit struct {
	kind unitKind
	// item is the removed item for deletes and the final item for inserts.
	item Item
	// ctx maps annotation handles to +1 (set) or -1 (clear) for kept characters.
	ctx map[string]int
	// attributes are changes to a kept opening element.
	attributes map[string]attributeChange
}

// Squash composes transactions that were applied one after another into one
// transaction with the same effect. The result has the author of the last
// transaction.
func Squash(txs []*Transaction) (*Transaction, error) {
	if len(txs) == 0 {
		return nil, ErrEmptySquash
	}
	units := flatten(txs[0])
	for i, tx := range txs[1:] {
		var err error
		if units, err = compose(units, flatten(tx)); err != nil {
			return nil, fmt.Errorf("failed to squash transaction %d: %w", i+1, err)
		}
	}
	out := unflatten(units)
	out.Author = txs[len(txs)-1].Author
	return out, nil
}

func flatten(tx *Transaction) []unit {
	var units []unit
	active := map[string]int{}
	var pending map[string]attributeChange
	for _, op := range tx.Operations {
		switch op.Type {
		case OpRetain:
			for i := 0; i < op.Length; i++ {
				u := unit{kind: unitKeep, attributes: pending}
				pending = nil
				units = append(units, u)
			}
		case OpReplace:
			// Removed items hold the pre-image, so attribute changes aimed at them
			// have nothing to add.
			pending = nil
			for _, it := range op.Remove {
				units = append(units, unit{kind: unitDelete, item: it})
			}
			for _, it := range op.Insert {
				units = append(units, unit{kind: unitInsert, item: applyContext(it, active)})
			}
		case OpAttribute:
			if pending == nil {
				pending = map[string]attributeChange{}
			}
			if prev, ok := pending[op.Key]; ok {
				pending[op.Key] = attributeChange{from: prev.from, to: op.To}
			} else {
				pending[op.Key] = attributeChange{from: op.From, to: op.To}
			}
		case OpAnnotate:
			sign := 1
			if op.Method == MethodClear {
				sign = -1
			}
			if op.Bias == BiasStart {
				active[op.Index] = sign
			} else {
				delete(active, op.Index)
			}
		}
		if op.Type == OpRetain && len(active) > 0 {
			// Brackets only touch characters; element items keep an empty context,
			// which unflatten treats the same.
			for i := len(units) - op.Length; i < len(units); i++ {
				units[i].ctx = maps.Clone(active)
			}
		}
	}
	return units
}

// applyContext applies an annotation context to a character the way the
// processor does: sets first, then clears.
func applyContext(it Item, ctx map[string]int) Item {
	if it.Element != nil || len(ctx) == 0 {
		return it
	}
	hashes := maps.Keys(ctx)
	slices.Sort(hashes)
	for _, h := range hashes {
		if ctx[h] > 0 {
			it = it.withAnnotation(h)
		}
	}
	for _, h := range hashes {
		if ctx[h] < 0 {
			it = it.withoutAnnotation(h)
		}
	}
	return it
}

// unapplyContext recovers the pre-image of a character a context was applied to.
func unapplyContext(it Item, ctx map[string]int) Item {
	if it.Element != nil {
		return it
	}
	for h, sign := range ctx {
		if sign > 0 {
			it = it.withoutAnnotation(h)
		} else {
			it = it.withAnnotation(h)
		}
	}
	return it
}

func applyAttributes(it Item, attrs map[string]attributeChange, forward bool) Item {
	if len(attrs) == 0 || !it.IsOpen() {
		return it
	}
	el := it.Element.Clone()
	for key, change := range attrs {
		value := change.to
		if !forward {
			value = change.from
		}
		if value == nil {
			delete(el.Attributes, key)
			continue
		}
		if el.Attributes == nil {
			el.Attributes = map[string]any{}
		}
		el.Attributes[key] = value
	}
	if len(el.Attributes) == 0 {
		el.Attributes = nil
	}
	it.Element = el
	return it
}

// compose returns the units of applying a and then b.
func compose(a, b []unit) ([]unit, error) {
	var out []unit
	i, j := 0, 0
	for {
		if i < len(a) && a[i].kind == unitDelete {
			out = append(out, a[i])
			i++
			continue
		}
		if j < len(b) && b[j].kind == unitInsert {
			out = append(out, b[j])
			j++
			continue
		}
		if i == len(a) && j == len(b) {
			return out, nil
		}
		if i == len(a) || j == len(b) {
			return nil, fmt.Errorf("%w: first transaction produces %d items, second consumes %d", ErrLengthMismatch, outputLength(a), inputLength(b))
		}
		x, y := a[i], b[j]
		switch {
		case x.kind == unitKeep && y.kind == unitKeep:
			out = append(out, unit{
				kind:       unitKeep,
				ctx:        composeContext(x.ctx, y.ctx),
				attributes: composeAttributes(x.attributes, y.attributes),
			})
		case x.kind == unitKeep && y.kind == unitDelete:
			it := unapplyContext(y.item, x.ctx)
			out = append(out, unit{kind: unitDelete, item: applyAttributes(it, x.attributes, false)})
		case x.kind == unitInsert && y.kind == unitKeep:
			it := applyContext(x.item, y.ctx)
			out = append(out, unit{kind: unitInsert, item: applyAttributes(it, y.attributes, true)})
		}
		// An insert deleted again leaves nothing behind.
		i++
		j++
	}
}

func outputLength(units []unit) int {
	n := 0
	for _, u := range units {
		if u.kind != unitDelete {
			n++
		}
	}
	return n
}

func inputLength(units []unit) int {
	n := 0
	for _, u := range units {
		if u.kind != unitInsert {
			n++
		}
	}
	return n
}

func composeContext(a, b map[string]int) map[string]int {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := maps.Clone(a)
	if out == nil {
		out = map[string]int{}
	}
	for h, sign := range b {
		out[h] = max(-1, min(1, out[h]+sign))
		if out[h] == 0 {
			delete(out, h)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func composeAttributes(a, b map[string]attributeChange) map[string]attributeChange {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := map[string]attributeChange{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if prev, ok := out[k]; ok {
			v.from = prev.from
		}
		out[k] = v
	}
	for k, v := range out {
		if reflect.DeepEqual(v.from, v.to) {
			delete(out, k)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// unflatten turns units back into a transaction in canonical form: annotate
// brackets change only where the context changes, stops come before starts, and
// both are ordered by handle.
func unflatten(units []unit) *Transaction {
	tx := NewTransaction()
	open := map[string]int{}

	moveTo := func(target map[string]int) {
		stops := maps.Keys(open)
		slices.Sort(stops)
		for _, h := range stops {
			if sign, ok := target[h]; !ok || sign != open[h] {
				tx.PushStopAnnotating(methodFor(open[h]), h)
				delete(open, h)
			}
		}
		starts := maps.Keys(target)
		slices.Sort(starts)
		for _, h := range starts {
			if _, ok := open[h]; !ok {
				tx.PushStartAnnotating(methodFor(target[h]), h)
				open[h] = target[h]
			}
		}
	}

	for i := 0; i < len(units); {
		u := units[i]
		if u.kind == unitKeep {
			moveTo(u.ctx)
			keys := maps.Keys(u.attributes)
			slices.Sort(keys)
			for _, k := range keys {
				tx.PushReplaceElementAttribute(k, u.attributes[k].from, u.attributes[k].to)
			}
			tx.PushRetain(1)
			i++
			continue
		}
		j := i
		var remove, insert Data
		for ; j < len(units) && units[j].kind != unitKeep; j++ {
			if units[j].kind == unitDelete {
				remove = append(remove, units[j].item)
			} else {
				insert = append(insert, units[j].item)
			}
		}
		// Brackets stay open over a replacement only when they would not change
		// the inserted items.
		keep := map[string]int{}
		for h, sign := range open {
			if contextIsNoOp(insert, h, sign) {
				keep[h] = sign
			}
		}
		moveTo(keep)
		tx.PushReplace(remove, insert)
		i = j
	}
	moveTo(nil)
	return tx
}

func contextIsNoOp(data Data, hash string, sign int) bool {
	for _, it := range data {
		if it.Element == nil && it.HasAnnotation(hash) != (sign > 0) {
			return false
		}
	}
	return true
}

func methodFor(sign int) Method {
	if sign < 0 {
		return MethodClear
	}
	return MethodSet
}
