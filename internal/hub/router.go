package hub

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The hub authenticates via the hello frame's token/password,
		// not same-origin, so cross-origin WS clients (e.g. a packaged
		// desktop chat UI) are expected.
		return true
	},
}

// ServeWS upgrades an HTTP request to a WebSocket, performs the hello
// handshake, and spins up the client's read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}

	c, err := h.Handshake(conn)
	if err != nil {
		log.Printf("hub: handshake failed: %v", err)
		return
	}

	go c.WritePump()
	c.ReadPump()
}
