// Package replica is the client side of a shared document. It edits a local copy
// optimistically, submits local edits to the server and rebases them over the
// changes other authors get accepted first.
package replica

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astromechza/docsync/pkg/dm"
	"github.com/astromechza/docsync/pkg/rebase"
)

// ErrMissedChange indicates a change from the server that does not follow the
// history the replica has seen.
var ErrMissedChange = errors.New("change does not follow known history")

// Replica holds the local document: the history accepted by the server followed
// by pending local transactions. It is safe for concurrent use; every operation
// runs the processor, model and synchronizer under one lock.
type Replica struct {
	logger *slog.Logger

	mu        sync.Mutex
	doc       *dm.Document
	serverID  string
	authorID  int
	token     string
	authors   map[int]rebase.AuthorData
	committed int
	// pending starts at committed. Its first sent transactions have been
	// submitted and not yet accepted.
	pending   *dm.Change
	sent      int
	backtrack int
}

type Option func(*Replica)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Replica) {
		r.logger = logger
	}
}

func New(opts ...Option) (*Replica, error) {
	doc, err := rebase.NewSeedDocument()
	if err != nil {
		return nil, err
	}
	r := &Replica{
		logger:  slog.Default(),
		doc:     doc,
		authors: map[int]rebase.AuthorData{},
		pending: dm.NewChange(0, nil, nil),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Identity is the author id and token to reconnect with.
func (r *Replica) Identity() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorID, r.token
}

// Data is a copy of the local linear model.
func (r *Replica) Data() dm.Data {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Data()
}

// Authors is the roster of active authors.
func (r *Replica) Authors() map[int]rebase.AuthorData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]rebase.AuthorData, len(r.authors))
	for k, v := range r.authors {
		out[k] = v
	}
	return out
}

// Pending is the number of local transactions the server has not accepted yet.
func (r *Replica) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// View runs f against the local document. f must not keep the document.
func (r *Replica) View(f func(doc *dm.Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return f(r.doc)
}

// Edit builds a transaction against the local document, commits it and queues
// it for submission.
func (r *Replica) Edit(build func(doc *dm.Document) (*dm.Transaction, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := build(r.doc)
	if err != nil {
		return fmt.Errorf("failed to build transaction: %w", err)
	}
	if tx.IsNoOp() {
		return nil
	}
	tx.Author = r.authorID
	if _, err := r.doc.Commit(tx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.pending.Push(tx, r.doc.Store())
	return nil
}

// NextSubmission squashes the local transactions not yet submitted into one and
// returns the submission carrying it. ok is false when there is nothing to send.
func (r *Replica) NextSubmission() (submit rebase.SubmitChange, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending.Len() == r.sent {
		return submit, false, nil
	}
	unsent := r.pending.MostRecent(r.pending.Start + r.sent)
	squashed, err := unsent.Squash()
	if err != nil {
		return submit, false, fmt.Errorf("failed to squash local edits: %w", err)
	}
	head := r.pending.Truncate(r.sent)
	if squashed.Len() == 1 && squashed.Transactions[0].IsNoOp() {
		r.pending = head
		return submit, false, nil
	}
	if r.pending, err = head.Concat(squashed); err != nil {
		return submit, false, err
	}
	r.sent = r.pending.Len()
	submit = rebase.SubmitChange{Change: squashed, Backtrack: r.backtrack}
	r.backtrack = 0
	return submit, true, nil
}

// Handle processes one message from the server.
func (r *Replica) Handle(raw []byte) error {
	var env rebase.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return r.HandleEvent(env.Event, env.Payload)
}

func (r *Replica) HandleEvent(event string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch event {
	case rebase.EventRegistered:
		var msg rebase.Registered
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("failed to decode %s: %w", event, err)
		}
		if msg.ServerID != r.serverID {
			// rejection counts do not carry over to another server
			r.backtrack = 0
		}
		r.serverID, r.authorID, r.token = msg.ServerID, msg.AuthorID, msg.Token
	case rebase.EventInitDoc:
		var msg rebase.InitDoc
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("failed to decode %s: %w", event, err)
		}
		return r.init(msg)
	case rebase.EventNewChange:
		change, err := dm.DeserializeChange(payload)
		if err != nil {
			return err
		}
		return r.accept(change)
	case rebase.EventAuthorChange:
		var msg rebase.AuthorChange
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("failed to decode %s: %w", event, err)
		}
		r.authors[msg.AuthorID] = msg.AuthorData
	case rebase.EventAuthorDisconnect:
		var id int
		if err := json.Unmarshal(payload, &id); err != nil {
			return fmt.Errorf("failed to decode %s: %w", event, err)
		}
		delete(r.authors, id)
	default:
		r.logger.Warn("ignoring unknown event", "event", event)
	}
	return nil
}

// init replaces the local document with the server history. Pending local
// edits are dropped.
func (r *Replica) init(msg rebase.InitDoc) error {
	doc, err := rebase.NewSeedDocument()
	if err != nil {
		return err
	}
	history := msg.History
	if history == nil {
		history = dm.NewChange(0, nil, nil)
	}
	if err := history.ApplyTo(doc); err != nil {
		return fmt.Errorf("failed to apply history: %w", err)
	}
	if r.pending.Len() > 0 {
		r.logger.Warn("dropping local edits on init", "pending", r.pending.Len())
	}
	r.doc = doc
	r.committed = history.End()
	r.pending = dm.NewChange(r.committed, nil, nil)
	r.sent = 0
	r.authors = map[int]rebase.AuthorData{}
	for id, data := range msg.Authors {
		r.authors[id] = data
	}
	return nil
}

// accept takes a change the server appended to history. The replica's own
// accepted transactions are already applied; anything else is rebased under
// the pending local transactions.
func (r *Replica) accept(change *dm.Change) error {
	if change.Start > r.committed {
		return fmt.Errorf("%w: change starts at %d, known history ends at %d", ErrMissedChange, change.Start, r.committed)
	}
	change = change.MostRecent(r.committed)
	if change.IsEmpty() {
		return nil
	}

	if change.Transactions[0].Author == r.authorID && r.authorID != 0 {
		n := change.Len()
		if n > r.sent {
			return fmt.Errorf("%w: %d transactions accepted, %d submitted", ErrMissedChange, n, r.sent)
		}
		r.pending = r.pending.MostRecent(r.pending.Start + n)
		r.sent -= n
		r.committed += n
		return nil
	}

	result, err := dm.RebaseUncommittedChange(change, r.pending)
	if err != nil {
		return fmt.Errorf("failed to rebase local edits: %w", err)
	}
	if result.Rejected != nil {
		if err := result.Rejected.UnapplyFrom(r.doc); err != nil {
			return fmt.Errorf("failed to roll back rejected edits: %w", err)
		}
		kept := result.Rejected.Start - r.pending.Start
		if r.sent > kept {
			r.backtrack += r.sent - kept
			r.sent = kept
		}
		r.logger.Info("local edits rejected", "rejected", result.Rejected.Len(), "backtrack", r.backtrack)
	}
	if err := result.TransposedHistory.ApplyTo(r.doc); err != nil {
		return fmt.Errorf("failed to apply remote change: %w", err)
	}
	r.pending = result.Rebased
	r.committed = change.End()
	return nil
}
