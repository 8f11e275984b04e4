// Package transport exposes a rebase server over HTTP and websockets.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/viz"
)

type handler struct {
	base     context.Context
	server   *rebase.Server
	rooms    *rooms
	upgrader websocket.Upgrader
}

// NewRouter routes document requests to the server. Sessions end when ctx is
// done.
func NewRouter(ctx context.Context, server *rebase.Server) http.Handler {
	h := &handler{
		base:   ctx,
		server: server,
		rooms:  newRooms(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/docs/{doc}/socket").HandlerFunc(h.socket)
	r.Methods(http.MethodGet).Path("/docs/{doc}/history").HandlerFunc(h.history)
	r.Methods(http.MethodGet).Path("/docs/{doc}/tree.svg").HandlerFunc(h.tree)
	return r
}

func (h *handler) socket(writer http.ResponseWriter, request *http.Request) {
	doc := mux.Vars(request)["doc"]
	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	if err := h.server.EnsureLoaded(ctx, doc); err != nil {
		slog.Error("failed to load", "doc", doc, "err", err)
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	// a missing or malformed id is the same as none: the author gets a new one
	requestedID, _ := strconv.Atoi(request.URL.Query().Get("authorId"))
	authorID, _, err := h.server.Authenticate(ctx, doc, requestedID, request.URL.Query().Get("token"))
	if err != nil {
		slog.Error("failed to authenticate", "doc", doc, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	sess := newSession(doc, authorID, h.rooms.get(doc))
	defer sess.Leave()
	if err := h.server.WelcomeClient(ctx, sess); err != nil {
		slog.Error("failed to welcome", "doc", doc, "author", authorID, "err", err)
		return
	}
	Serve(ctx, conn, h.server, sess)
	if err := h.server.OnDisconnect(context.WithoutCancel(ctx), sess); err != nil {
		slog.Error("failed to disconnect", "doc", doc, "author", authorID, "err", err)
	}
}

func (h *handler) history(writer http.ResponseWriter, request *http.Request) {
	doc := mux.Vars(request)["doc"]
	history, err := h.server.History(request.Context(), doc)
	if err != nil {
		slog.Error("failed to load history", "doc", doc, "err", err)
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(history); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (h *handler) tree(writer http.ResponseWriter, request *http.Request) {
	doc := mux.Vars(request)["doc"]
	materialized, err := h.server.Materialize(request.Context(), doc)
	if err != nil {
		slog.Error("failed to materialize", "doc", doc, "err", err)
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	raw, err := viz.RenderTree(materialized)
	if err != nil {
		slog.Error("failed to render", "doc", doc, "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Add("Content-Type", "image/svg+xml")
	if _, err := writer.Write(raw); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
