package dm

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

// attr is an attribute change in compact transaction notation.
type attr struct {
	key      string
	from, to any
}

// tx builds a transaction from compact notation: an int retains, a [2]string
// replaces the characters of the first string with those of the second and an
// attr changes the attribute of the element at the current position.
func tx(parts ...any) *Transaction {
	out := NewTransaction()
	for _, p := range parts {
		switch v := p.(type) {
		case int:
			out.PushRetain(v)
		case [2]string:
			out.PushReplace(Text(v[0]), Text(v[1]))
		case attr:
			out.PushReplaceElementAttribute(v.key, v.from, v.to)
		default:
			panic("unsupported notation")
		}
	}
	return out
}

func paragraph(text string) Data {
	d := Data{Open("paragraph", nil)}
	d = append(d, Text(text)...)
	return append(d, Close("paragraph"))
}

func mustDocument(t *testing.T, data Data) *Document {
	t.Helper()
	doc, err := NewDocument(data)
	assert.Equal(t, err, nil)
	return doc
}

func mustCommit(t *testing.T, doc *Document, tx *Transaction) []Event {
	t.Helper()
	events, err := doc.Commit(tx)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.CheckConsistency(), nil)
	return events
}

func mustRollback(t *testing.T, doc *Document, tx *Transaction) {
	t.Helper()
	_, err := doc.Rollback(tx)
	assert.Equal(t, err, nil)
	assert.Equal(t, doc.CheckConsistency(), nil)
}

func eventNames(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Node.Type() + ":" + e.Name
	}
	return out
}
