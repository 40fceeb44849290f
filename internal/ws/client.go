package ws

import (
	"crypto/rand"
	"encoding/hex"

	"nhooyr.io/websocket"
)

// Client is the opaque handle for one live WebSocket connection. All
// identity and room membership for a client lives in the registry; the
// ws package only moves bytes.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// ID returns the connection's identifier, used only for logging.
func (c *Client) ID() string {
	return c.id
}

func generateConnID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
