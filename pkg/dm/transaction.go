package dm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

type OpType string

const (
	OpRetain    OpType = "retain"
	OpReplace   OpType = "replace"
	OpAttribute OpType = "attribute"
	OpAnnotate  OpType = "annotate"
)

// Method says whether an annotate bracket applies or removes an annotation.
type Method string

const (
	MethodSet   Method = "set"
	MethodClear Method = "clear"
)

// Bias says whether an annotate operation opens or closes a bracket.
type Bias string

const (
	BiasStart Bias = "start"
	BiasStop  Bias = "stop"
)

// Operation is one step of a transaction. Which fields are meaningful depends on
// Type.
type Operation struct {
	Type OpType `json:"type"`

	// retain
	Length int `json:"length,omitempty"`

	// replace
	Remove Data `json:"remove,omitempty"`
	Insert Data `json:"insert,omitempty"`

	// attribute
	Key  string `json:"key,omitempty"`
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`

	// annotate
	Method Method `json:"method,omitempty"`
	Bias   Bias   `json:"bias,omitempty"`
	Index  string `json:"index,omitempty"`
}

func (op Operation) String() string {
	switch op.Type {
	case OpRetain:
		return fmt.Sprintf("retain(%d)", op.Length)
	case OpReplace:
		return fmt.Sprintf("replace(%v -> %v)", op.Remove, op.Insert)
	case OpAttribute:
		return fmt.Sprintf("attribute(%s: %v -> %v)", op.Key, op.From, op.To)
	case OpAnnotate:
		return fmt.Sprintf("annotate(%s %s %s)", op.Method, op.Bias, op.Index)
	default:
		return fmt.Sprintf("%s(?)", op.Type)
	}
}

func (op Operation) equal(other Operation) bool {
	if op.Type != other.Type {
		return false
	}
	switch op.Type {
	case OpRetain:
		return op.Length == other.Length
	case OpReplace:
		return op.Remove.Equal(other.Remove) && op.Insert.Equal(other.Insert)
	case OpAttribute:
		return op.Key == other.Key && reflect.DeepEqual(op.From, other.From) && reflect.DeepEqual(op.To, other.To)
	case OpAnnotate:
		return op.Method == other.Method && op.Bias == other.Bias && op.Index == other.Index
	default:
		return reflect.DeepEqual(op, other)
	}
}

// Transaction is an ordered list of operations describing one atomic edit.
type Transaction struct {
	Operations       []Operation
	LengthDifference int
	// Author is the id of the author who made the edit; 0 when unknown.
	Author int
}

func NewTransaction() *Transaction {
	return &Transaction{}
}

func (tx *Transaction) last() *Operation {
	if len(tx.Operations) == 0 {
		return nil
	}
	return &tx.Operations[len(tx.Operations)-1]
}

// PushRetain adds a retain, merging it into a trailing retain.
func (tx *Transaction) PushRetain(length int) {
	if length <= 0 {
		return
	}
	if last := tx.last(); last != nil && last.Type == OpRetain {
		last.Length += length
		return
	}
	tx.Operations = append(tx.Operations, Operation{Type: OpRetain, Length: length})
}

// PushReplace adds a replacement, merging it into a trailing replacement.
func (tx *Transaction) PushReplace(remove, insert Data) {
	if len(remove) == 0 && len(insert) == 0 {
		return
	}
	tx.LengthDifference += len(insert) - len(remove)
	if last := tx.last(); last != nil && last.Type == OpReplace {
		last.Remove = append(last.Remove.Clone(), remove...)
		last.Insert = append(last.Insert.Clone(), insert...)
		return
	}
	tx.Operations = append(tx.Operations, Operation{Type: OpReplace, Remove: remove.Clone(), Insert: insert.Clone()})
}

// PushReplaceElementAttribute adds an attribute change for the element at the
// current position. It does not check that an element is there; use
// NewFromAttributeChange for that.
func (tx *Transaction) PushReplaceElementAttribute(key string, from, to any) {
	if last := tx.last(); last != nil && last.Type == OpAttribute && last.Key == key {
		last.To = to
		if reflect.DeepEqual(last.From, last.To) {
			tx.Operations = tx.Operations[:len(tx.Operations)-1]
		}
		return
	}
	if reflect.DeepEqual(from, to) {
		return
	}
	tx.Operations = append(tx.Operations, Operation{Type: OpAttribute, Key: key, From: from, To: to})
}

// PushStartAnnotating opens a bracket over which the annotation is set or cleared.
func (tx *Transaction) PushStartAnnotating(method Method, hash string) {
	tx.Operations = append(tx.Operations, Operation{Type: OpAnnotate, Method: method, Bias: BiasStart, Index: hash})
}

// PushStopAnnotating closes a bracket opened by PushStartAnnotating.
func (tx *Transaction) PushStopAnnotating(method Method, hash string) {
	tx.Operations = append(tx.Operations, Operation{Type: OpAnnotate, Method: method, Bias: BiasStop, Index: hash})
}

// Clone returns a deep enough copy that operations can be modified.
func (tx *Transaction) Clone() *Transaction {
	out := &Transaction{
		Operations:       make([]Operation, len(tx.Operations)),
		LengthDifference: tx.LengthDifference,
		Author:           tx.Author,
	}
	for i, op := range tx.Operations {
		op.Remove = op.Remove.Clone()
		op.Insert = op.Insert.Clone()
		out.Operations[i] = op
	}
	return out
}

// Reversed returns the transaction that undoes this one.
func (tx *Transaction) Reversed() *Transaction {
	out := tx.Clone()
	out.LengthDifference = -tx.LengthDifference
	for i := range out.Operations {
		op := &out.Operations[i]
		switch op.Type {
		case OpReplace:
			op.Remove, op.Insert = op.Insert, op.Remove
		case OpAttribute:
			op.From, op.To = op.To, op.From
		case OpAnnotate:
			op.Method = op.Method.flip()
		}
	}
	return out
}

func (m Method) flip() Method {
	if m == MethodSet {
		return MethodClear
	}
	return MethodSet
}

// Equal compares operation lists and authors.
func (tx *Transaction) Equal(other *Transaction) bool {
	if tx.Author != other.Author || tx.LengthDifference != other.LengthDifference || len(tx.Operations) != len(other.Operations) {
		return false
	}
	for i := range tx.Operations {
		if !tx.Operations[i].equal(other.Operations[i]) {
			return false
		}
	}
	return true
}

// IsNoOp reports whether the transaction only retains.
func (tx *Transaction) IsNoOp() bool {
	for _, op := range tx.Operations {
		if op.Type != OpRetain {
			return false
		}
	}
	return true
}

// InputLength is the document length the transaction applies to.
func (tx *Transaction) InputLength() int {
	n := 0
	for _, op := range tx.Operations {
		switch op.Type {
		case OpRetain:
			n += op.Length
		case OpReplace:
			n += len(op.Remove)
		}
	}
	return n
}

// ActiveRange returns the span of the pre-image that the transaction modifies. ok
// is false for a transaction that only retains.
func (tx *Transaction) ActiveRange() (r Range, ok bool) {
	offset, depth := 0, 0
	mark := func(start, end int) {
		if !ok {
			r, ok = Range{Start: start, End: end}, true
			return
		}
		r.End = max(r.End, end)
	}
	for _, op := range tx.Operations {
		switch op.Type {
		case OpRetain:
			if depth > 0 {
				mark(offset, offset+op.Length)
			}
			offset += op.Length
		case OpReplace:
			mark(offset, offset+len(op.Remove))
			offset += len(op.Remove)
		case OpAttribute:
			mark(offset, offset+1)
		case OpAnnotate:
			if op.Bias == BiasStart {
				depth++
			} else {
				depth--
			}
			mark(offset, offset)
		}
	}
	return r, ok
}

// Placement selects the leading or trailing retain for AdjustRetain.
type Placement int

const (
	AtStart Placement = iota
	AtEnd
)

// AdjustRetain grows or shrinks the leading or trailing retain by diff.
func (tx *Transaction) AdjustRetain(place Placement, diff int) error {
	if diff == 0 {
		return nil
	}
	i := 0
	if place == AtEnd {
		i = len(tx.Operations) - 1
	}
	if i >= 0 && i < len(tx.Operations) && tx.Operations[i].Type == OpRetain {
		length := tx.Operations[i].Length + diff
		switch {
		case length < 0:
			return fmt.Errorf("%w: retain %d adjusted by %d", ErrLengthMismatch, tx.Operations[i].Length, diff)
		case length == 0:
			tx.Operations = append(tx.Operations[:i], tx.Operations[i+1:]...)
		default:
			tx.Operations[i].Length = length
		}
		return nil
	}
	if diff < 0 {
		return fmt.Errorf("%w: no retain to shrink by %d", ErrLengthMismatch, diff)
	}
	op := Operation{Type: OpRetain, Length: diff}
	if place == AtStart {
		tx.Operations = append([]Operation{op}, tx.Operations...)
	} else {
		tx.Operations = append(tx.Operations, op)
	}
	return nil
}

// TranslateOffset maps a pre-image offset into the post-image. With
// excludeInsertion, an offset at an insertion point stays before the inserted
// content.
func (tx *Transaction) TranslateOffset(offset int, excludeInsertion bool) int {
	cursor, adjustment := 0, 0
	for _, op := range tx.Operations {
		switch op.Type {
		case OpReplace:
			insertLength, removeLength := len(op.Insert), len(op.Remove)
			prevAdjustment := adjustment
			adjustment += insertLength - removeLength
			switch {
			case offset == cursor+removeLength:
				if excludeInsertion && insertLength > removeLength {
					return offset + adjustment - insertLength + removeLength
				}
				return offset + adjustment
			case offset == cursor:
				if insertLength == 0 {
					return cursor + removeLength + adjustment
				}
				return cursor + prevAdjustment
			case offset > cursor && offset < cursor+removeLength:
				return cursor + removeLength + adjustment
			}
			cursor += removeLength
		case OpRetain:
			if offset >= cursor && offset < cursor+op.Length {
				return offset + adjustment
			}
			cursor += op.Length
		}
	}
	return offset + adjustment
}

// TranslateRange maps a pre-image range into the post-image. With
// excludeInsertion, content inserted at either end stays outside the range.
func (tx *Transaction) TranslateRange(r Range, excludeInsertion bool) Range {
	return NewRange(tx.TranslateOffset(r.Start, !excludeInsertion), tx.TranslateOffset(r.End, excludeInsertion))
}

// annotationHashes lists the handles referenced by the transaction.
func (tx *Transaction) annotationHashes() []string {
	var hashes []string
	for _, op := range tx.Operations {
		switch op.Type {
		case OpAnnotate:
			hashes = append(hashes, op.Index)
		case OpReplace:
			for _, d := range []Data{op.Remove, op.Insert} {
				for _, it := range d {
					hashes = append(hashes, it.Annotations...)
				}
			}
		}
	}
	return hashes
}

func (tx *Transaction) String() string {
	parts := make([]string, len(tx.Operations))
	for i, op := range tx.Operations {
		parts[i] = op.String()
	}
	return fmt.Sprintf("tx(author=%d)[%s]", tx.Author, strings.Join(parts, ", "))
}

type transactionJSON struct {
	Author     int         `json:"authorId,omitempty"`
	Operations []Operation `json:"operations"`
}

func (tx *Transaction) MarshalJSON() ([]byte, error) {
	ops := tx.Operations
	if ops == nil {
		ops = []Operation{}
	}
	return json.Marshal(transactionJSON{Author: tx.Author, Operations: ops})
}

// UnmarshalJSON decodes a transaction and recomputes its length difference.
func (tx *Transaction) UnmarshalJSON(raw []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	*tx = Transaction{Author: in.Author, Operations: in.Operations}
	for _, op := range in.Operations {
		if op.Type == OpReplace {
			tx.LengthDifference += len(op.Insert) - len(op.Remove)
		}
	}
	return nil
}
