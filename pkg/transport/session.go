package transport

import (
	"log/slog"
	"sync"

	"github.com/astromechza/docsync/pkg/rebase"
)

// sendBuffer is the number of outgoing messages a session queues before it is
// considered too slow and dropped.
const sendBuffer = 256

// rooms tracks the sessions connected to each document.
type rooms struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func newRooms() *rooms {
	return &rooms{rooms: map[string]*room{}}
}

func (r *rooms) get(doc string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[doc]
	if !ok {
		rm = &room{sessions: map[*session]struct{}{}}
		r.rooms[doc] = rm
	}
	return rm
}

type room struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
}

func (rm *room) join(s *session) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.sessions[s] = struct{}{}
}

func (rm *room) leave(s *session) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.sessions, s)
}

func (rm *room) broadcast(raw []byte) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for s := range rm.sessions {
		s.enqueue(raw)
	}
}

// session is one websocket connection of an author to a document. It is the
// rebase.Connection the server talks to.
type session struct {
	doc      string
	authorID int
	room     *room
	send     chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var _ rebase.Connection = (*session)(nil)

func newSession(doc string, authorID int, rm *room) *session {
	return &session{
		doc:      doc,
		authorID: authorID,
		room:     rm,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}
}

func (s *session) DocName() string {
	return s.doc
}

func (s *session) AuthorID() int {
	return s.authorID
}

func (s *session) Join() {
	s.room.join(s)
}

func (s *session) Leave() {
	s.room.leave(s)
}

func (s *session) SendAuthor(event string, payload any) {
	raw, err := rebase.Encode(event, payload)
	if err != nil {
		slog.Error("failed to encode message", "doc", s.doc, "event", event, "err", err)
		return
	}
	s.enqueue(raw)
}

func (s *session) Broadcast(event string, payload any) {
	raw, err := rebase.Encode(event, payload)
	if err != nil {
		slog.Error("failed to encode message", "doc", s.doc, "event", event, "err", err)
		return
	}
	s.room.broadcast(raw)
}

// enqueue never blocks. A session that cannot keep up is closed and has to
// reconnect and reload the history.
func (s *session) enqueue(raw []byte) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.send <- raw:
	default:
		slog.Warn("dropping slow session", "doc", s.doc, "author", s.authorID)
		s.close()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}
