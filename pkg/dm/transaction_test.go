package dm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPushCoalescing(t *testing.T) {
	tr := NewTransaction()
	tr.PushRetain(2)
	tr.PushRetain(0)
	tr.PushRetain(3)
	tr.PushReplace(Text("a"), nil)
	tr.PushReplace(nil, Text("bc"))
	tr.PushReplace(nil, nil)
	tr.PushRetain(1)
	assert.Equal(t, tr.String(), `tx(author=0)[retain(5), replace(["a"] -> ["b" "c"]), retain(1)]`)
	assert.Equal(t, tr.LengthDifference, 1)
	assert.Equal(t, tr.InputLength(), 7)
}

func TestPushReplaceElementAttribute(t *testing.T) {
	tr := NewTransaction()
	tr.PushReplaceElementAttribute("style", "h1", "h2")
	tr.PushReplaceElementAttribute("style", "h2", "h3")
	assert.Equal(t, len(tr.Operations), 1)
	assert.Equal(t, tr.Operations[0].From, "h1")
	assert.Equal(t, tr.Operations[0].To, "h3")

	tr.PushReplaceElementAttribute("style", "h3", "h1")
	assert.Equal(t, len(tr.Operations), 0)

	tr.PushReplaceElementAttribute("style", "h1", "h1")
	assert.Equal(t, len(tr.Operations), 0)
}

func TestReversed(t *testing.T) {
	tr := tx(1, attr{"style", "a", "b"}, 2, [2]string{"xy", "z"}, 3)
	tr.PushStartAnnotating(MethodSet, "h1")
	tr.PushRetain(1)
	tr.PushStopAnnotating(MethodSet, "h1")

	rev := tr.Reversed()
	assert.Equal(t, rev.LengthDifference, 1)
	assert.Equal(t, rev.Operations[1].From, "b")
	assert.Equal(t, rev.Operations[3].Insert.PlainText(), "xy")
	assert.Equal(t, rev.Operations[5].Method, MethodClear)
	assert.Equal(t, rev.Reversed().Equal(tr), true)
}

func TestActiveRange(t *testing.T) {
	_, ok := tx(5).ActiveRange()
	assert.Equal(t, ok, false)

	r, ok := tx(2, [2]string{"ab", ""}, 3, [2]string{"", "x"}, 1).ActiveRange()
	assert.Equal(t, ok, true)
	assert.Equal(t, r, Range{Start: 2, End: 7})

	r, ok = tx(4, attr{"k", nil, 1}, 2).ActiveRange()
	assert.Equal(t, ok, true)
	assert.Equal(t, r, Range{Start: 4, End: 5})
}

func TestAdjustRetain(t *testing.T) {
	tr := tx(2, [2]string{"", "x"}, 3)
	assert.Equal(t, tr.AdjustRetain(AtStart, 2), nil)
	assert.Equal(t, tr.AdjustRetain(AtEnd, -3), nil)
	assert.Equal(t, tr.String(), `tx(author=0)[retain(4), replace([] -> ["x"])]`)

	assert.Equal(t, tr.AdjustRetain(AtEnd, 2), nil)
	assert.Equal(t, tr.String(), `tx(author=0)[retain(4), replace([] -> ["x"]), retain(2)]`)

	err := tr.AdjustRetain(AtStart, -5)
	assert.Equal(t, errors.Is(err, ErrLengthMismatch), true)
}

func TestTranslateOffset(t *testing.T) {
	tr := tx(2, [2]string{"", "xy"}, 3)
	assert.Equal(t, tr.TranslateOffset(1, false), 1)
	assert.Equal(t, tr.TranslateOffset(2, false), 4)
	assert.Equal(t, tr.TranslateOffset(2, true), 2)
	assert.Equal(t, tr.TranslateOffset(4, false), 6)
	assert.Equal(t, tr.TranslateRange(Range{Start: 1, End: 2}, false), Range{Start: 1, End: 4})
	assert.Equal(t, tr.TranslateRange(Range{Start: 2, End: 4}, true), Range{Start: 4, End: 6})

	removal := tx(1, [2]string{"abc", ""}, 2)
	assert.Equal(t, removal.TranslateOffset(2, false), 1)
	assert.Equal(t, removal.TranslateOffset(5, false), 2)
}

func TestTransactionJSON(t *testing.T) {
	tr := tx(1, attr{"level", nil, "2"}, 2, [2]string{"ab", "c"}, 1)
	tr.Author = 7

	raw, err := json.Marshal(tr)
	assert.Equal(t, err, nil)

	var decoded Transaction
	assert.Equal(t, json.Unmarshal(raw, &decoded), nil)
	assert.Equal(t, decoded.Author, 7)
	assert.Equal(t, decoded.LengthDifference, -1)
	assert.Equal(t, decoded.Equal(tr), true)

	empty, err := json.Marshal(NewTransaction())
	assert.Equal(t, err, nil)
	assert.Equal(t, string(empty), `{"operations":[]}`)
}
