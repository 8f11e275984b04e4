// Package rebase is the collaboration server. It keeps the history and authors
// of each document, rebases submitted changes onto history and fans out accepted
// changes and presence to the connections of the document.
package rebase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/astromechza/docsync/pkg/dm"
	"github.com/astromechza/docsync/pkg/store"
)

// Connection is one client connected to one document as one author. Sends must
// not block the caller for long: they are made from the document's actor.
type Connection interface {
	DocName() string
	AuthorID() int
	// Join starts delivery of broadcasts to this connection. It is called from
	// the document's actor so no broadcast can overtake the welcome.
	Join()
	// Leave stops delivery of broadcasts to this connection.
	Leave()
	// SendAuthor sends a message to this connection only.
	SendAuthor(event string, payload any)
	// Broadcast sends a message to every connection of the document, this one
	// included, in the order broadcasts are made.
	Broadcast(event string, payload any)
}

// DefaultColors is the palette author colours are assigned from, by id.
var DefaultColors = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

func defaultName(id int) string {
	return fmt.Sprintf("User %d", id)
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithColors(colors ...string) Option {
	return func(s *Server) {
		if len(colors) > 0 {
			s.colors = colors
		}
	}
}

func WithNameGenerator(f func(id int) string) Option {
	return func(s *Server) {
		s.names = f
	}
}

// Server serves any number of documents. Each loaded document gets an actor
// goroutine that runs its operations one at a time in arrival order.
type Server struct {
	store  store.Store
	logger *slog.Logger
	colors []string
	names  func(id int) string
	start  time.Time

	loads singleflight.Group
	mu    sync.Mutex
	docs  map[string]*document

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type document struct {
	name  string
	state *DocState
	inbox chan func()
}

func NewServer(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:  st,
		logger: slog.Default(),
		colors: DefaultColors,
		names:  defaultName,
		start:  time.Now(),
		docs:   map[string]*document{},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServerID() string {
	return s.store.ServerID()
}

// Close stops every document actor. Operations already accepted by an actor
// finish first.
func (s *Server) Close() {
	s.mu.Lock()
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) logServerEvent(kind string, attrs ...any) {
	s.logger.Info(kind, append([]any{"t", time.Since(s.start)}, attrs...)...)
}

// EnsureLoaded loads a document from the store unless it is loaded already.
// Concurrent callers share a single load. A failed load is returned to every
// caller waiting on it and retried by the next call.
func (s *Server) EnsureLoaded(ctx context.Context, doc string) error {
	_, err := s.load(ctx, doc)
	return err
}

func (s *Server) loaded(name string) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[name]
	return d, ok
}

func (s *Server) load(ctx context.Context, name string) (*document, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	if d, ok := s.loaded(name); ok {
		return d, nil
	}
	// the load is shared by every waiting caller, so none of them may cancel it
	ctx = context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(name, func() (interface{}, error) {
		if d, ok := s.loaded(name); ok {
			return d, nil
		}
		history, err := s.store.Load(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", name, err)
		}
		state := NewDocState(history)
		if as, ok := s.store.(store.AuthorStore); ok {
			records, err := as.LoadAuthors(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to load authors of %s: %w", name, err)
			}
			state.restoreAuthors(records)
		}
		d := &document{name: name, state: state, inbox: make(chan func())}
		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			return nil, ErrClosed
		default:
		}
		s.docs[name] = d
		s.wg.Add(1)
		s.mu.Unlock()
		go s.run(d)
		s.logServerEvent("loaded", "doc", name, "length", history.Len(), "authors", len(state.Authors))
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document), nil
}

func (s *Server) run(d *document) {
	defer s.wg.Done()
	for {
		select {
		case f := <-d.inbox:
			f()
		case <-s.done:
			return
		}
	}
}

// do runs f on the actor of the named document and waits for it to finish.
func (s *Server) do(ctx context.Context, name string, f func(d *document) error) error {
	d, err := s.load(ctx, name)
	if err != nil {
		return err
	}
	result := make(chan error, 1)
	select {
	case d.inbox <- func() { result <- f(d) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	return <-result
}

func (s *Server) saveAuthors(ctx context.Context, d *document) {
	as, ok := s.store.(store.AuthorStore)
	if !ok {
		return
	}
	if err := as.SaveAuthors(ctx, d.name, d.state.authorRecords()); err != nil {
		s.logger.Error("failed to save authors", "doc", d.name, "err", err)
	}
}

// Authenticate returns the author id and token a connection continues with. A
// matching id and token keep their identity; anything else is issued a new id
// and token.
func (s *Server) Authenticate(ctx context.Context, doc string, authorID int, token string) (int, string, error) {
	var id int
	var tok string
	err := s.do(ctx, doc, func(d *document) error {
		a, minted := d.state.authenticate(authorID, token)
		if minted {
			a.Name = s.names(a.ID)
			a.Color = s.colors[(a.ID-1)%len(s.colors)]
			s.saveAuthors(ctx, d)
			s.logServerEvent("newAuthor", "doc", doc, "author", a.ID, "requested", authorID)
		}
		id, tok = a.ID, a.Token
		return nil
	})
	return id, tok, err
}

// WelcomeClient marks the connection's author active, sends it its identity,
// the whole history and the roster, and announces it to the document.
func (s *Server) WelcomeClient(ctx context.Context, conn Connection) error {
	return s.do(ctx, conn.DocName(), func(d *document) error {
		a, ok := d.state.Authors[conn.AuthorID()]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAuthor, conn.AuthorID())
		}
		conn.Join()
		a.connections++
		a.Active = true
		conn.SendAuthor(EventRegistered, Registered{ServerID: s.ServerID(), AuthorID: a.ID, Token: a.Token})
		conn.Broadcast(EventAuthorChange, AuthorChange{AuthorID: a.ID, AuthorData: a.Data()})
		conn.SendAuthor(EventInitDoc, InitDoc{History: d.state.History, Authors: d.state.ActiveAuthors()})
		s.logServerEvent("welcome", "doc", d.name, "author", a.ID, "length", d.state.History.Len())
		return nil
	})
}

// OnSubmitChange rebases a submission onto history. A non-empty result is
// persisted, appended and broadcast as newChange. A fully rejected submission
// changes only the author's rejection count.
func (s *Server) OnSubmitChange(ctx context.Context, conn Connection, submit SubmitChange) error {
	if submit.Change == nil {
		return fmt.Errorf("failed to submit: missing change")
	}
	return s.do(ctx, conn.DocName(), func(d *document) error {
		p, err := d.state.prepareApply(conn.AuthorID(), submit.Backtrack, submit.Change)
		if err != nil {
			return err
		}
		if !p.applied.IsEmpty() {
			if err := s.store.OnNewChange(ctx, d.name, p.applied); err != nil {
				return fmt.Errorf("failed to persist change: %w", err)
			}
		}
		if err := d.state.commit(p); err != nil {
			return err
		}
		s.logServerEvent(
			"submitChange", "doc", d.name, "author", conn.AuthorID(),
			"start", submit.Change.Start, "submitted", submit.Change.Len(), "backtrack", submit.Backtrack,
			"applied", p.applied.Len(), "rejections", p.rejections,
		)
		if !p.applied.IsEmpty() {
			conn.Broadcast(EventNewChange, p.applied)
		}
		return nil
	})
}

// OnChangeAuthor updates the presence data of the connection's author. Empty
// fields are left unchanged.
func (s *Server) OnChangeAuthor(ctx context.Context, conn Connection, data AuthorData) error {
	return s.do(ctx, conn.DocName(), func(d *document) error {
		a, ok := d.state.Authors[conn.AuthorID()]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAuthor, conn.AuthorID())
		}
		if data.Name != "" {
			a.Name = data.Name
		}
		if data.Color != "" {
			a.Color = data.Color
		}
		s.saveAuthors(ctx, d)
		conn.Broadcast(EventAuthorChange, AuthorChange{AuthorID: a.ID, AuthorData: a.Data()})
		return nil
	})
}

// OnDisconnect drops a connection of the author. The author becomes inactive,
// and is announced as disconnected, when its last connection goes.
func (s *Server) OnDisconnect(ctx context.Context, conn Connection) error {
	return s.do(ctx, conn.DocName(), func(d *document) error {
		conn.Leave()
		a, ok := d.state.Authors[conn.AuthorID()]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAuthor, conn.AuthorID())
		}
		a.connections = max(0, a.connections-1)
		if a.connections > 0 {
			return nil
		}
		a.Active = false
		conn.Broadcast(EventAuthorDisconnect, a.ID)
		s.logServerEvent("disconnect", "doc", d.name, "author", a.ID)
		return nil
	})
}

// History returns the history of a document.
func (s *Server) History(ctx context.Context, doc string) (*dm.Change, error) {
	var history *dm.Change
	err := s.do(ctx, doc, func(d *document) error {
		history = d.state.History
		return nil
	})
	return history, err
}

// Materialize builds the current document by applying the history to the seed
// document.
func (s *Server) Materialize(ctx context.Context, doc string) (*dm.Document, error) {
	history, err := s.History(ctx, doc)
	if err != nil {
		return nil, err
	}
	out, err := NewSeedDocument()
	if err != nil {
		return nil, err
	}
	if err := history.ApplyTo(out); err != nil {
		return nil, fmt.Errorf("failed to materialize %s: %w", doc, err)
	}
	return out, nil
}
