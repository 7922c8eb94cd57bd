package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawdbot/gateway/internal/pty"
)

const (
	attachWriteWait    = 10 * time.Second
	attachOutputBuffer = 256
)

var attachUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleAttach lets one operator watch a running turn's CLI agent PTY
// live and, once the agent is paused, type into it directly. It's the
// wired successor to the teacher's shared-terminal turn-taking feature:
// the same Hub.TakeControl/Write gating now arbitrates a single
// operator against a single running agent, rather than many humans
// sharing one terminal.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	if !s.authr.Authenticate(r.URL.Query().Get("token"), "") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionKey := "agent:" + r.PathValue("agentId") + ":" + r.PathValue("sessionId")
	ctrl, ok := s.liveTurns.Get(sessionKey)
	if !ok {
		http.Error(w, "no turn running for this session", http.StatusNotFound)
		return
	}

	conn, err := attachUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("attach: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "operator"
	}

	h := ctrl.Hub()
	output := make(chan pty.HubMessage, attachOutputBuffer)
	h.RegisterClient(userID, output)
	defer h.Unregister(output)
	h.TakeControl(userID)

	closeWrite := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case msg := <-output:
				mt := websocket.TextMessage
				if msg.IsBinary {
					mt = websocket.BinaryMessage
				}
				conn.SetWriteDeadline(time.Now().Add(attachWriteWait))
				if err := conn.WriteMessage(mt, msg.Data); err != nil {
					return
				}
			case <-closeWrite:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.Write(userID, data)
	}

	close(closeWrite)
	<-writeDone
}
