// Package store persists document histories and author rosters for the rebase
// server.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/astromechza/docsync/pkg/dm"
)

// Store is the persistence contract of the rebase server. Load returns the
// accumulated history of a document, or an empty history starting at 0 for a
// document it has never seen. OnNewChange appends an accepted change.
type Store interface {
	Load(ctx context.Context, doc string) (*dm.Change, error)
	OnNewChange(ctx context.Context, doc string, change *dm.Change) error
	ServerID() string
}

// AuthorStore is implemented by stores that also keep the author roster of each
// document, so that authors keep their identity across server restarts.
type AuthorStore interface {
	LoadAuthors(ctx context.Context, doc string) ([]AuthorRecord, error)
	SaveAuthors(ctx context.Context, doc string, authors []AuthorRecord) error
}

// AuthorRecord is the persisted part of an author.
type AuthorRecord struct {
	ID    int
	Name  string
	Color string
	Token string
}

// ErrGap indicates a change that does not start where the stored history ends.
var ErrGap = errors.New("change does not follow stored history")

func newServerID() string {
	return ulid.Make().String()
}

// appendChange concatenates a new change onto a stored history, rejecting gaps.
func appendChange(history, change *dm.Change) (*dm.Change, error) {
	if history == nil {
		history = dm.NewChange(0, nil, nil)
	}
	next, err := history.Concat(change)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGap, err)
	}
	return next, nil
}

// joinChanges rebuilds a history from its stored pieces in order.
func joinChanges(raws [][]byte) (*dm.Change, error) {
	history := dm.NewChange(0, nil, nil)
	for i, raw := range raws {
		change, err := dm.DeserializeChange(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored change %d: %w", i, err)
		}
		if history, err = appendChange(history, change); err != nil {
			return nil, err
		}
	}
	return history, nil
}
