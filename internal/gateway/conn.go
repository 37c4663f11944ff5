package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// wsHandler upgrades requests and pumps frames between a websocket and the hub.
type wsHandler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	client, err := h.hub.Register(uuid.NewString())
	if err != nil {
		h.logger.Error("failed to register client", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(conn, client)
	go h.readPump(conn, client)
}

// readPump handles client frames until the connection fails, then
// unregisters the client, which also stops writePump.
func (h *wsHandler) readPump(conn *websocket.Conn, client *Client) {
	defer h.hub.Unregister(client.ID())

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "client_id", client.ID(), "error", err)
			}
			return
		}

		ack := h.handleFrame(client.ID(), raw)
		if err := h.hub.Reply(client.ID(), FrameAck, ack); err != nil {
			h.logger.Warn("failed to queue ack", "client_id", client.ID(), "error", err)
		}
	}
}

func (h *wsHandler) handleFrame(clientID string, raw []byte) Ack {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Ack{Success: false, Message: "malformed frame"}
	}

	switch frame.Event {
	case FrameSubscribe, FrameUnsubscribe:
		var req BarnRequest
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				return Ack{Success: false, Message: "malformed frame"}
			}
		}
		if frame.Event == FrameSubscribe {
			return h.hub.Subscribe(clientID, req.BarnID)
		}
		return h.hub.Unsubscribe(clientID, req.BarnID)
	case FramePing:
		return Ack{Success: true, Message: "pong"}
	default:
		return Ack{Success: false, Message: "unknown event " + frame.Event}
	}
}

// writePump drains the client queue onto the connection and keeps it alive
// with pings. It owns all writes to conn.
func (h *wsHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("websocket write failed", "client_id", client.ID(), "error", err)
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
