package replica

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/docsync/pkg/dm"
	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/store"
)

// hub queues encoded server messages per author until the test delivers them.
type hub struct {
	mu     sync.Mutex
	queues map[int][][]byte
}

func (h *hub) push(to int, event string, payload any) {
	raw, err := rebase.Encode(event, payload)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if to == 0 {
		for id := range h.queues {
			h.queues[id] = append(h.queues[id], raw)
		}
		return
	}
	h.queues[to] = append(h.queues[to], raw)
}

func (h *hub) drain(id int) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queues[id]
	h.queues[id] = nil
	return out
}

type conn struct {
	hub    *hub
	author int
}

func (c *conn) DocName() string                      { return "doc" }
func (c *conn) AuthorID() int                        { return c.author }
func (c *conn) Join()                                {}
func (c *conn) Leave()                               {}
func (c *conn) SendAuthor(event string, payload any) { c.hub.push(c.author, event, payload) }
func (c *conn) Broadcast(event string, payload any)  { c.hub.push(0, event, payload) }

type client struct {
	*Replica
	conn *conn
}

type fixture struct {
	t       *testing.T
	server  *rebase.Server
	hub     *hub
	clients []*client
}

func newFixture(t *testing.T) *fixture {
	s := rebase.NewServer(store.NewMemory())
	t.Cleanup(s.Close)
	return &fixture{t: t, server: s, hub: &hub{queues: map[int][][]byte{}}}
}

func (f *fixture) connect() *client {
	ctx := context.Background()
	id, _, err := f.server.Authenticate(ctx, "doc", 0, "")
	assert.Equal(f.t, err, nil)
	f.hub.mu.Lock()
	f.hub.queues[id] = nil
	f.hub.mu.Unlock()
	r, err := New()
	assert.Equal(f.t, err, nil)
	c := &client{Replica: r, conn: &conn{hub: f.hub, author: id}}
	assert.Equal(f.t, f.server.WelcomeClient(ctx, c.conn), nil)
	f.clients = append(f.clients, c)
	f.deliver()
	return c
}

func (f *fixture) deliver() {
	for _, c := range f.clients {
		for _, raw := range f.hub.drain(c.conn.author) {
			assert.Equal(f.t, c.Handle(raw), nil)
		}
	}
}

func (f *fixture) submit(c *client) {
	s, ok, err := c.NextSubmission()
	assert.Equal(f.t, err, nil)
	assert.Equal(f.t, ok, true)
	assert.Equal(f.t, f.server.OnSubmitChange(context.Background(), c.conn, s), nil)
}

func (f *fixture) assertConverged(text string) {
	doc, err := f.server.Materialize(context.Background(), "doc")
	assert.Equal(f.t, err, nil)
	assert.Equal(f.t, doc.Data().PlainText(), text)
	for _, c := range f.clients {
		assert.Equal(f.t, c.Data().Equal(doc.Data()), true)
		assert.Equal(f.t, c.Pending(), 0)
	}
}

func insert(offset int, text string) func(*dm.Document) (*dm.Transaction, error) {
	return func(doc *dm.Document) (*dm.Transaction, error) {
		return dm.NewFromInsertion(doc, offset, dm.Text(text))
	}
}

func remove(start, end int) func(*dm.Document) (*dm.Transaction, error) {
	return func(doc *dm.Document) (*dm.Transaction, error) {
		return dm.NewFromRemoval(doc, dm.NewRange(start, end))
	}
}

func TestReplicaRegistration(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	b := f.connect()
	f.deliver()

	id, token := a.Identity()
	assert.Equal(t, id, 1)
	assert.NotEqual(t, token, "")
	assert.Equal(t, len(a.Authors()), 2)
	assert.Equal(t, b.Authors()[1].Name, "User 1")

	assert.Equal(t, f.server.OnDisconnect(context.Background(), b.conn), nil)
	f.deliver()
	assert.Equal(t, len(a.Authors()), 1)
}

func TestReplicaConverges(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	b := f.connect()

	// concurrent insertions at the same place
	assert.Equal(t, a.Edit(insert(1, "a")), nil)
	assert.Equal(t, b.Edit(insert(1, "b")), nil)
	f.submit(a)
	f.submit(b)
	f.deliver()
	f.assertConverged("ab")

	// overlapping removals: b's is rejected and rolled back
	assert.Equal(t, a.Edit(remove(1, 2)), nil)
	assert.Equal(t, b.Edit(remove(1, 3)), nil)
	f.submit(a)
	f.submit(b)
	f.deliver()
	f.assertConverged("b")

	// b acknowledges the rejection with its next submission
	assert.Equal(t, b.Edit(insert(2, "c")), nil)
	s, ok, err := b.NextSubmission()
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, s.Backtrack, 1)
	assert.Equal(t, f.server.OnSubmitChange(context.Background(), b.conn, s), nil)
	f.deliver()
	f.assertConverged("bc")
}

func TestReplicaSquashesUnsentEdits(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	b := f.connect()

	assert.Equal(t, a.Edit(insert(1, "x")), nil)
	assert.Equal(t, a.Edit(insert(2, "y")), nil)
	assert.Equal(t, a.Edit(remove(1, 2)), nil)
	assert.Equal(t, a.Pending(), 3)
	f.submit(a)
	assert.Equal(t, a.Pending(), 1)

	// b inserts at the same place concurrently
	assert.Equal(t, b.Edit(insert(1, "z")), nil)
	f.submit(b)
	f.deliver()
	f.assertConverged("yz")

	history, err := f.server.History(context.Background(), "doc")
	assert.Equal(t, err, nil)
	assert.Equal(t, history.Len(), 2)
}

func TestReplicaEditsWhileUnacknowledged(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	b := f.connect()

	assert.Equal(t, a.Edit(insert(1, "hello")), nil)
	f.submit(a)
	assert.Equal(t, a.Edit(insert(6, "!")), nil)
	f.submit(a)
	assert.Equal(t, b.Edit(insert(1, "<")), nil)
	f.submit(b)
	f.deliver()
	f.assertConverged("hello!<")
}

func TestReplicaNoOpEditsAreNotSubmitted(t *testing.T) {
	f := newFixture(t)
	a := f.connect()
	assert.Equal(t, a.Edit(insert(1, "x")), nil)
	assert.Equal(t, a.Edit(remove(1, 2)), nil)
	_, ok, err := a.NextSubmission()
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, a.Pending(), 0)
}

func TestReplicaMissedChange(t *testing.T) {
	r, err := New()
	assert.Equal(t, err, nil)
	raw, err := rebase.Encode(rebase.EventNewChange, dm.NewChange(3, []*dm.Transaction{dm.NewTransaction()}, nil))
	assert.Equal(t, err, nil)
	assert.NotEqual(t, r.Handle(raw), nil)
}
