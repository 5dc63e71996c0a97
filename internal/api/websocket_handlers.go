package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/propflow/ai-services/internal/chatbot"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsPingInterval  = 54 * time.Second
)

// wsFrame is an outbound WebSocket frame: either a chat response or an
// error for a malformed inbound frame.
type wsFrame struct {
	*chatbot.ChatResponse
	Error string `json:"error,omitempty"`
}

// chatWebSocketClient represents one streaming chat connection
type chatWebSocketClient struct {
	conn   *websocket.Conn
	userID string
	send   chan wsFrame
	server *Server
}

// handleChatWebSocket handles WebSocket connections for real-time chat.
// The connection stays open across turns; each inbound frame is one chat
// request and produces exactly one outbound frame.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["userId"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &chatWebSocketClient{
		conn:   conn,
		userID: userID,
		send:   make(chan wsFrame, 16),
		server: s,
	}

	log.Printf("WebSocket client connected for user: %s", userID)

	go client.writePump()
	client.readPump()
}

// readPump handles incoming WebSocket messages. Turns on one connection
// are processed in arrival order so responses pair with their requests.
func (c *chatWebSocketClient) readPump() {
	defer func() {
		close(c.send)
		c.conn.Close()
		log.Printf("WebSocket client disconnected for user: %s", c.userID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		var req ChatMessageRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for user %s: %v", c.userID, err)
			}
			break
		}

		c.conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		c.handleTurn(req)
	}
}

// handleTurn routes one inbound frame and queues the response
func (c *chatWebSocketClient) handleTurn(req ChatMessageRequest) {
	response, err := c.server.router.Route(context.Background(), chatbot.ChatRequest{
		UserID:         c.userID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})
	if err != nil {
		c.send <- wsFrame{Error: err.Error()}
		return
	}

	c.send <- wsFrame{ChatResponse: response}
}

// writePump handles outgoing WebSocket messages and keepalive pings
func (c *chatWebSocketClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(frame); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
