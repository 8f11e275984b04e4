package rebase

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/astromechza/docsync/pkg/dm"
	"github.com/astromechza/docsync/pkg/store"
)

// NewSeedDocument returns the document every history applies to: a single
// empty paragraph.
func NewSeedDocument() (*dm.Document, error) {
	return dm.NewDocument(dm.Data{dm.Open("paragraph", nil), dm.Close("paragraph")})
}

// Author is the server side state of one author of a document.
type Author struct {
	ID     int
	Token  string
	Name   string
	Color  string
	Active bool

	// ContinueBase is the history the author's next submission is rebased
	// from, as the author sees it: server history transposed over the author's
	// accepted transactions.
	ContinueBase *dm.Change
	// Rejections counts the author's submitted transactions the server has
	// rejected and the author has not yet acknowledged by backtracking.
	Rejections int

	connections int
}

func (a *Author) Data() AuthorData {
	return AuthorData{Name: a.Name, Color: a.Color}
}

// DocState is the rebase state of one document. It is owned by the document's
// actor and must not be shared.
type DocState struct {
	History *dm.Change
	Authors map[int]*Author
	maxID   int
}

func NewDocState(history *dm.Change) *DocState {
	if history == nil {
		history = dm.NewChange(0, nil, nil)
	}
	return &DocState{History: history, Authors: map[int]*Author{}}
}

func (s *DocState) restoreAuthors(records []store.AuthorRecord) {
	for _, r := range records {
		s.Authors[r.ID] = &Author{ID: r.ID, Token: r.Token, Name: r.Name, Color: r.Color}
		s.maxID = max(s.maxID, r.ID)
	}
}

func (s *DocState) authorRecords() []store.AuthorRecord {
	ids := maps.Keys(s.Authors)
	slices.Sort(ids)
	out := make([]store.AuthorRecord, 0, len(ids))
	for _, id := range ids {
		a := s.Authors[id]
		out = append(out, store.AuthorRecord{ID: a.ID, Name: a.Name, Color: a.Color, Token: a.Token})
	}
	return out
}

// authenticate returns the author matching id and token, or mints a new one
// with the next id and a fresh token.
func (s *DocState) authenticate(id int, token string) (a *Author, minted bool) {
	if a, ok := s.Authors[id]; ok && token != "" && a.Token == token {
		return a, false
	}
	s.maxID++
	a = &Author{ID: s.maxID, Token: uuid.NewString()}
	s.Authors[a.ID] = a
	return a, true
}

// ActiveAuthors is the roster of connected authors.
func (s *DocState) ActiveAuthors() map[int]AuthorData {
	out := map[int]AuthorData{}
	for id, a := range s.Authors {
		if a.Active {
			out[id] = a.Data()
		}
	}
	return out
}

// pendingApply is the outcome of a submission, computed before anything is
// persisted.
type pendingApply struct {
	author       *Author
	applied      *dm.Change
	continueBase *dm.Change
	rejections   int
}

// prepareApply rebases a submitted change onto history without modifying the
// state.
func (s *DocState) prepareApply(authorID, backtrack int, change *dm.Change) (*pendingApply, error) {
	a, ok := s.Authors[authorID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAuthor, authorID)
	}
	change = stamp(change, authorID)

	switch {
	case a.Rejections > backtrack:
		// The submission was made before the author saw the earlier rejection,
		// so it rests on rejected transactions and is rejected with them.
		return &pendingApply{
			author:       a,
			applied:      s.History.MostRecent(s.History.End()),
			continueBase: a.ContinueBase,
			rejections:   a.Rejections - backtrack + change.Len(),
		}, nil
	case a.Rejections < backtrack:
		return nil, fmt.Errorf("%w: backtrack %d, rejections %d", ErrBacktrack, backtrack, a.Rejections)
	}

	base := a.ContinueBase
	if base == nil {
		base = change.Truncate(0)
	}
	if change.Start > base.Start {
		// Everything before change.Start has reached the author, so the base
		// only needs what follows.
		base = base.MostRecent(change.Start)
	}
	base, err := base.Concat(s.History.MostRecent(base.End()))
	if err != nil {
		return nil, fmt.Errorf("failed to extend base: %w", err)
	}
	result, err := dm.RebaseUncommittedChange(base, change)
	if err != nil {
		return nil, fmt.Errorf("failed to rebase change: %w", err)
	}
	if result.Rebased.Start != s.History.End() {
		return nil, fmt.Errorf("%w: rebased change starts at %d, history ends at %d", dm.ErrNotContiguous, result.Rebased.Start, s.History.End())
	}
	rejections := 0
	if result.Rejected != nil {
		rejections = result.Rejected.Len()
	}
	return &pendingApply{
		author:       a,
		applied:      result.Rebased,
		continueBase: result.TransposedHistory,
		rejections:   rejections,
	}, nil
}

func (s *DocState) commit(p *pendingApply) error {
	history, err := s.History.Concat(p.applied)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	s.History = history
	p.author.ContinueBase = p.continueBase
	p.author.Rejections = p.rejections
	return nil
}

// ApplyChange rebases a submission from an author onto history and appends the
// accepted part, which it returns. A fully rejected submission returns an empty
// change.
func (s *DocState) ApplyChange(authorID, backtrack int, change *dm.Change) (*dm.Change, error) {
	p, err := s.prepareApply(authorID, backtrack, change)
	if err != nil {
		return nil, err
	}
	if err := s.commit(p); err != nil {
		return nil, err
	}
	return p.applied, nil
}

// stamp attributes every transaction of the change to the author.
func stamp(change *dm.Change, authorID int) *dm.Change {
	txs := make([]*dm.Transaction, len(change.Transactions))
	for i, tx := range change.Transactions {
		txs[i] = tx.Clone()
		txs[i].Author = authorID
	}
	return dm.NewChange(change.Start, txs, change.Annotations.Clone())
}
