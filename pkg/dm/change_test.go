package dm

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestChangeSlicing(t *testing.T) {
	txs := []*Transaction{tx(1, [2]string{"", "a"}), tx(2, [2]string{"", "b"}), tx(3, [2]string{"", "c"})}
	c := NewChange(4, txs, nil)
	assert.Equal(t, c.Len(), 3)
	assert.Equal(t, c.End(), 7)

	head := c.Truncate(1)
	assert.Equal(t, head.Start, 4)
	assert.Equal(t, head.Len(), 1)

	tail := c.MostRecent(6)
	assert.Equal(t, tail.Start, 6)
	assert.Equal(t, tail.Len(), 1)
	assert.Equal(t, tail.Transactions[0], txs[2])

	past := c.MostRecent(9)
	assert.Equal(t, past.IsEmpty(), true)
	assert.Equal(t, past.Start, 9)
	assert.Equal(t, c.MostRecent(0).Len(), 3)

	joined, err := head.Concat(c.MostRecent(5))
	assert.Equal(t, err, nil)
	assert.Equal(t, joined.Len(), 3)

	_, err = head.Concat(tail)
	assert.Equal(t, errors.Is(err, ErrNotContiguous), true)
}

func TestChangeApplyAndReverse(t *testing.T) {
	bold := Annotation{Type: "textStyle/bold"}
	original := paragraph("abc")
	doc := mustDocument(t, original)

	history := NewChange(0, nil, nil)
	txs := chain(t, doc,
		func(d *Document) (*Transaction, error) {
			return NewFromInsertion(d, 1, Text("xy"))
		},
		func(d *Document) (*Transaction, error) {
			return NewFromAnnotation(d, Range{Start: 1, End: 4}, MethodSet, bold)
		},
	)
	for _, tr := range txs {
		history.Push(tr, doc.Store())
	}
	assert.Equal(t, history.Annotations.Len(), 1)

	replay := mustDocument(t, original)
	assert.Equal(t, history.ApplyTo(replay), nil)
	assert.Equal(t, replay.Data().Equal(doc.Data()), true)

	assert.Equal(t, history.UnapplyFrom(replay), nil)
	assert.Equal(t, replay.Data().Equal(original), true)

	assert.Equal(t, history.ApplyTo(replay), nil)
	assert.Equal(t, history.Reversed().ApplyTo(replay), nil)
	assert.Equal(t, replay.Data().Equal(original), true)

	squashed, err := history.Squash()
	assert.Equal(t, err, nil)
	assert.Equal(t, squashed.Len(), 1)
	assert.Equal(t, squashed.ApplyTo(replay), nil)
	assert.Equal(t, replay.Data().Equal(doc.Data()), true)
}

func TestChangeSerialization(t *testing.T) {
	bold := Annotation{Type: "textStyle/bold", Attributes: map[string]any{"weight": "heavy"}}
	doc := mustDocument(t, paragraph("abc"))
	history := NewChange(0, nil, nil)
	txs := chain(t, doc,
		func(d *Document) (*Transaction, error) {
			return NewFromAnnotation(d, Range{Start: 1, End: 3}, MethodSet, bold)
		},
		func(d *Document) (*Transaction, error) {
			return NewFromAttributeChange(d, 0, "align", "left")
		},
		func(d *Document) (*Transaction, error) {
			return NewFromInsertion(d, 4, Data{Annotated("d", HashAnnotation(bold)), Open("image", nil), Close("image")})
		},
	)
	for i, tr := range txs {
		tr.Author = i + 1
		history.Push(tr, doc.Store())
	}

	raw, err := history.Serialize()
	assert.Equal(t, err, nil)

	decoded, err := DeserializeChange(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.Start, 0)
	assert.Equal(t, decoded.Len(), 3)
	assert.Equal(t, decoded.Transactions[2].Author, 3)
	assert.Equal(t, decoded.Transactions[2].LengthDifference, 3)

	value, ok := decoded.Annotations.Value(HashAnnotation(bold))
	assert.Equal(t, ok, true)
	assert.Equal(t, value.Type, "textStyle/bold")

	again, err := decoded.Serialize()
	assert.Equal(t, err, nil)
	assert.Equal(t, string(again), string(raw))

	replay := mustDocument(t, paragraph("abc"))
	assert.Equal(t, decoded.ApplyTo(replay), nil)
	assert.Equal(t, replay.Data().Equal(doc.Data()), true)

	_, err = DeserializeChange([]byte(`{"start":`))
	assert.NotEqual(t, err, nil)
}
