package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/docsync/pkg/rebase"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// maxMessageSize bounds a single submission.
	maxMessageSize = 1 << 20
)

func readAndDispatchMessage(ctx context.Context, conn *websocket.Conn, server *rebase.Server, sess *session) error {
	mt, p, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}
	if mt != websocket.TextMessage {
		return nil
	}
	var env rebase.Envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	switch env.Event {
	case rebase.EventSubmitChange:
		var submit rebase.SubmitChange
		if err := json.Unmarshal(env.Payload, &submit); err != nil {
			return fmt.Errorf("failed to decode submission: %w", err)
		}
		if err := server.OnSubmitChange(ctx, sess, submit); err != nil {
			return fmt.Errorf("failed to submit change: %w", err)
		}
	case rebase.EventChangeAuthor:
		var data rebase.AuthorData
		if err := json.Unmarshal(env.Payload, &data); err != nil {
			return fmt.Errorf("failed to decode author data: %w", err)
		}
		if err := server.OnChangeAuthor(ctx, sess, data); err != nil {
			return fmt.Errorf("failed to change author: %w", err)
		}
	default:
		slog.Warn("ignoring unknown event", "doc", sess.doc, "author", sess.authorID, "event", env.Event)
	}
	return nil
}

// Serve runs a welcomed session until either side closes it: one goroutine reads
// and dispatches client messages, the other writes queued server messages and
// keeps the connection alive with pings.
func Serve(ctx context.Context, conn *websocket.Conn, server *rebase.Server, sess *session) {
	slog.Info("serving", "doc", sess.doc, "author", sess.authorID)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.close()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if err := readAndDispatchMessage(ctx, conn, server, sess); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					slog.Error(err.Error(), "doc", sess.doc, "author", sess.authorID)
				}
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case raw := <-sess.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					slog.Error("failed to write message", "doc", sess.doc, "author", sess.authorID, "err", err)
					sess.close()
					return
				}
			case <-t.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					sess.close()
					return
				}
			case <-sess.closed:
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			case <-ctx.Done():
				sess.close()
				return
			}
		}
	}()

	wg.Wait()
}
