package rebase

import (
	"encoding/json"
	"fmt"

	"github.com/astromechza/docsync/pkg/dm"
)

// Server to client events.
const (
	EventRegistered       = "registered"
	EventAuthorChange     = "authorChange"
	EventInitDoc          = "initDoc"
	EventNewChange        = "newChange"
	EventAuthorDisconnect = "authorDisconnect"
)

// Client to server events.
const (
	EventSubmitChange = "submitChange"
	EventChangeAuthor = "changeAuthor"
)

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a payload in an envelope.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// AuthorData is the public presence data of an author.
type AuthorData struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Registered struct {
	ServerID string `json:"serverId"`
	AuthorID int    `json:"authorId"`
	Token    string `json:"token"`
}

type AuthorChange struct {
	AuthorID   int        `json:"authorId"`
	AuthorData AuthorData `json:"authorData"`
}

// InitDoc carries the whole history and the roster of active authors to a
// joining client.
type InitDoc struct {
	History *dm.Change         `json:"history"`
	Authors map[int]AuthorData `json:"authors"`
}

// SubmitChange is a client submission. Backtrack counts the previously
// submitted transactions the client has rolled back after seeing them rejected.
type SubmitChange struct {
	Change    *dm.Change `json:"change"`
	Backtrack int        `json:"backtrack"`
}
