package dm

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSynchronizeEmptyQueue(t *testing.T) {
	doc := mustDocument(t, paragraph("abc"))
	s := NewSynchronizer(doc)

	events, err := s.Synchronize()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(events), 0)

	events, err = s.Synchronize()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(events), 0)
	assert.Equal(t, doc.CheckConsistency(), nil)
}

func TestQueueEventDeduplicates(t *testing.T) {
	doc := mustDocument(t, paragraph("abc"))
	node := doc.Root().Children()[0]
	s := NewSynchronizer(doc)

	s.QueueEvent(node, EventUpdate)
	s.QueueEvent(node, EventUpdate)
	s.QueueEvent(node, EventAttributeChange, "a", nil, 1)
	s.QueueEvent(node, EventAttributeChange, "a", nil, 1)
	s.QueueEvent(node, EventAttributeChange, "a", nil, 2)
	s.QueueEvent(doc.Root(), EventUpdate)

	events, err := s.Synchronize()
	assert.Equal(t, err, nil)
	assert.Equal(t, eventNames(events), []string{"paragraph:update", "paragraph:attributeChange", "paragraph:attributeChange", "document:update"})

	// The queue is empty again.
	events, err = s.Synchronize()
	assert.Equal(t, err, nil)
	assert.Equal(t, len(events), 0)
}

func TestResizeRemovesEmptyText(t *testing.T) {
	doc := mustDocument(t, paragraph("ab"))
	change, err := NewFromRemoval(doc, Range{Start: 1, End: 3})
	assert.Equal(t, err, nil)

	events := mustCommit(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(2 paragraph(0))")
	assert.Equal(t, eventNames(events), []string{"paragraph:splice", "paragraph:update"})
	assert.Equal(t, events[0].Args, []any{0, 1, 0})
}

func TestRebuildSplitsParagraph(t *testing.T) {
	doc := mustDocument(t, paragraph("abc"))
	change, err := NewFromInsertion(doc, 2, Data{Close("paragraph"), Open("paragraph", map[string]any{"align": "right"})})
	assert.Equal(t, err, nil)

	events := mustCommit(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(7 paragraph(1 text(1)) paragraph(2 text(2)))")
	assert.Equal(t, doc.Root().Children()[1].Attribute("align"), "right")
	assert.Equal(t, eventNames(events), []string{"document:splice", "document:update"})

	mustRollback(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(5 paragraph(3 text(3)))")
}

func TestRebuildMergesNeighbouringText(t *testing.T) {
	doc := mustDocument(t, Data{Open("paragraph", nil), Char("a"), Open("break", nil), Close("break"), Char("b"), Close("paragraph")})
	assert.Equal(t, doc.Root().String(), "document(6 paragraph(4 text(1) break(0) text(1)))")

	change, err := NewFromRemoval(doc, Range{Start: 2, End: 4})
	assert.Equal(t, err, nil)
	mustCommit(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(4 paragraph(2 text(2)))")
}

func TestSeveralActionsInOneTransaction(t *testing.T) {
	bold := Annotation{Type: "textStyle/bold"}
	doc := mustDocument(t, append(paragraph("abc"), paragraph("def")...))
	hash := doc.Store().Index(bold)

	change := NewTransaction()
	change.PushRetain(1)
	change.PushReplace(Text("a"), Text("xyz"))
	change.PushRetain(3)
	change.PushReplace(Data{Open("paragraph", nil)}, Data{Open("heading", nil)})
	change.PushRetain(1)
	change.PushStartAnnotating(MethodSet, hash)
	change.PushRetain(2)
	change.PushStopAnnotating(MethodSet, hash)
	change.PushReplace(Data{Close("paragraph")}, Data{Close("heading")})

	mustCommit(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(12 paragraph(5 text(5)) heading(3 text(3)))")
	assert.Equal(t, doc.OffsetContainsAnnotation(9, hash), true)

	mustRollback(t, doc, change)
	assert.Equal(t, doc.Root().String(), "document(10 paragraph(3 text(3)) paragraph(3 text(3)))")
}
