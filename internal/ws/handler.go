package ws

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// maxFrameBytes caps a single inbound frame. Chat messages top out at
// 2000 characters; anything larger than this is not a legal envelope.
const maxFrameBytes = 16 * 1024

// Sink receives connection lifecycle and frame events. The relay
// implements it by queueing events onto its single dispatch loop, so
// Sink methods must not assume they are called on any particular
// goroutine.
type Sink interface {
	Connected(c *Client)
	Frame(c *Client, data []byte)
	Closed(c *Client)
}

// Handler upgrades HTTP requests to WebSockets and pumps inbound
// frames into the sink. It owns no chat state of its own.
type Handler struct {
	conns *ConnManager
	sink  Sink
}

// NewHandler creates a WebSocket Handler delivering events to sink.
func NewHandler(conns *ConnManager, sink Sink) *Handler {
	return &Handler{
		conns: conns,
		sink:  sink,
	}
}

// ServeHTTP upgrades the connection and runs the read loop until the
// client disconnects or the connection manager cancels it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		zap.L().Warn("ws_accept_failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameBytes)

	client := &Client{
		conn: conn,
		id:   generateConnID(),
	}

	connCtx := h.conns.Add(client)
	h.sink.Connected(client)
	defer func() {
		h.conns.Remove(client)
		h.sink.Closed(client)
	}()

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop reads frames from the client until the connection closes
// or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		// Mark activity so idle reaping doesn't close active connections.
		h.conns.TouchActivity(client)
		h.sink.Frame(client, data)
	}
}
