package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/replica"
)

// Client connects a replica to a document on a server.
type Client struct {
	conn    *websocket.Conn
	replica *replica.Replica

	writeMu sync.Mutex
}

// Dial opens the socket of doc on the server at baseURL (http or ws scheme),
// reusing the replica's identity when it has one.
func Dial(ctx context.Context, baseURL, doc string, r *replica.Replica) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u = u.JoinPath("docs", doc, "socket")
	authorID, token := r.Identity()
	q := u.Query()
	if authorID != 0 {
		q.Set("authorId", strconv.Itoa(authorID))
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}
	return &Client{conn: conn, replica: r}, nil
}

func (c *Client) Replica() *replica.Replica {
	return c.replica
}

// Run feeds server messages to the replica until the connection ends.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	defer stop()
	for {
		mt, p, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := c.replica.Handle(p); err != nil {
			return fmt.Errorf("failed to handle message: %w", err)
		}
	}
}

func (c *Client) write(event string, payload any) error {
	raw, err := rebase.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Flush submits the replica's unsent edits, if there are any.
func (c *Client) Flush() error {
	submit, ok, err := c.replica.NextSubmission()
	if err != nil || !ok {
		return err
	}
	slog.Debug("submitting", "start", submit.Change.Start, "backtrack", submit.Backtrack)
	return c.write(rebase.EventSubmitChange, submit)
}

// SetAuthor changes the name and colour other authors see.
func (c *Client) SetAuthor(data rebase.AuthorData) error {
	return c.write(rebase.EventChangeAuthor, data)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
