package viz

import (
	"bytes"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/docsync/pkg/dm"
)

func TestRenderTree(t *testing.T) {
	doc, err := dm.NewDocument(dm.Data{
		dm.Open("heading", map[string]any{"level": 1}), dm.Char("a"), dm.Close("heading"),
		dm.Open("paragraph", nil), dm.Char("b"), dm.Close("paragraph"),
	})
	assert.Equal(t, err, nil)
	raw, err := RenderTree(doc)
	assert.Equal(t, err, nil)
	assert.Equal(t, bytes.Contains(raw, []byte("<svg")), true)
	assert.Equal(t, bytes.Contains(raw, []byte("heading")), true)
	assert.Equal(t, bytes.Contains(raw, []byte("paragraph")), true)
}

func TestNodeLabelSortsAttributes(t *testing.T) {
	doc, err := dm.NewDocument(dm.Data{
		dm.Open("heading", map[string]any{"level": 1, "id": "x", "align": "left"}), dm.Char("a"), dm.Close("heading"),
	})
	assert.Equal(t, err, nil)
	heading := doc.Root().Children()[0]
	for i := 0; i < 5; i++ {
		assert.Equal(t, nodeLabel(heading, 0), "heading @0 len=1 {align=left, id=x, level=1}")
	}
}

func TestRenderHistory(t *testing.T) {
	tx := dm.NewTransaction()
	tx.PushRetain(1)
	tx.PushReplace(nil, dm.Text("x"))
	tx.PushRetain(1)
	raw, err := RenderHistory(dm.NewChange(0, []*dm.Transaction{tx}, nil))
	assert.Equal(t, err, nil)
	assert.Equal(t, bytes.Contains(raw, []byte("<svg")), true)
}
