// Package gateway fans monitoring events out to websocket viewers grouped in
// per-barn rooms, optionally across several processes through redis.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"procodus.dev/barn-monitor/internal/alerts"
	"procodus.dev/barn-monitor/internal/monitoring"
	"procodus.dev/barn-monitor/pkg/logger"
	"procodus.dev/barn-monitor/pkg/metrics"
)

// DefaultSendBuffer is the number of frames queued per client before new
// frames are dropped.
const DefaultSendBuffer = 64

var (
	_ alerts.Broadcaster     = (*Hub)(nil)
	_ monitoring.Broadcaster = (*Hub)(nil)
)

// HubConfig holds the configuration for a Hub.
type HubConfig struct {
	Logger     *slog.Logger
	Metrics    *metrics.GatewayMetrics
	SendBuffer int
}

// Hub tracks connected clients and their barn rooms. Membership lives only as
// long as the process; reconnecting clients subscribe again.
type Hub struct {
	emitter

	mu         sync.RWMutex
	logger     *slog.Logger
	metrics    *metrics.GatewayMetrics
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	sendBuffer int
	closed     bool
}

// Client is one connected viewer. Frames queued for it are read from Frames.
type Client struct {
	id   string
	send chan []byte
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Frames returns the outbound queue. It is closed when the client is
// unregistered.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// NewHub creates an empty hub.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("hub config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}

	h := &Hub{
		logger:     logger.Component(cfg.Logger, "gateway"),
		metrics:    cfg.Metrics,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		sendBuffer: buffer,
	}
	h.emitter = emitter{logger: h.logger, send: h.Dispatch}
	return h, nil
}

// Register adds a client. Registering an id twice returns an error.
func (h *Hub) Register(id string) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hub is closed")
	}
	if _, ok := h.clients[id]; ok {
		return nil, fmt.Errorf("client %s already registered", id)
	}

	c := &Client{id: id, send: make(chan []byte, h.sendBuffer)}
	h.clients[id] = c
	if h.metrics != nil {
		h.metrics.ConnectedClients.Inc()
	}
	h.logger.Info("client connected", "client_id", id)
	return c, nil
}

// Unregister removes a client from every room and closes its queue.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	h.drop(c)
	h.logger.Info("client disconnected", "client_id", id)
}

// drop must be called with mu held.
func (h *Hub) drop(c *Client) {
	for room, members := range h.rooms {
		if _, ok := members[c.id]; !ok {
			continue
		}
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
		if h.metrics != nil {
			h.metrics.Subscriptions.Dec()
		}
	}
	delete(h.clients, c.id)
	close(c.send)
	if h.metrics != nil {
		h.metrics.ConnectedClients.Dec()
	}
}

// Subscribe joins a client to a barn room. Joining twice is a no-op.
func (h *Hub) Subscribe(clientID, barnID string) Ack {
	if barnID == "" {
		h.logger.Warn("subscribe without barnId", "client_id", clientID)
		return Ack{Success: false, Message: "barnId is required"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return Ack{Success: false, Message: "unknown client"}
	}
	room := RoomName(barnID)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	if _, joined := members[clientID]; !joined {
		members[clientID] = c
		if h.metrics != nil {
			h.metrics.Subscriptions.Inc()
		}
	}

	h.logger.Info("client subscribed to barn", "client_id", clientID, "barn_id", barnID)
	return Ack{Success: true, Message: fmt.Sprintf("Subscribed to barn %s", barnID)}
}

// Unsubscribe removes a client from a barn room. Leaving a room the client is
// not in still succeeds.
func (h *Hub) Unsubscribe(clientID, barnID string) Ack {
	if barnID == "" {
		h.logger.Warn("unsubscribe without barnId", "client_id", clientID)
		return Ack{Success: false, Message: "barnId is required"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room := RoomName(barnID)
	if members, ok := h.rooms[room]; ok {
		if _, joined := members[clientID]; joined {
			delete(members, clientID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
			if h.metrics != nil {
				h.metrics.Subscriptions.Dec()
			}
		}
	}

	h.logger.Info("client unsubscribed from barn", "client_id", clientID, "barn_id", barnID)
	return Ack{Success: true, Message: fmt.Sprintf("Unsubscribed from barn %s", barnID)}
}

// Dispatch delivers an envelope to the clients of this process.
func (h *Hub) Dispatch(env Envelope) {
	frame, err := json.Marshal(Frame{Event: env.Event, Data: env.Data})
	if err != nil {
		h.logger.Error("failed to encode frame", "event", env.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if env.Room != "" {
		targets = h.rooms[env.Room]
	}
	for _, c := range targets {
		h.enqueue(c, frame)
	}

	if h.metrics != nil {
		h.metrics.EventsEmitted.WithLabelValues(env.Event).Inc()
	}
	h.logger.Debug("emitted event", "event", env.Event, "room", env.Room, "clients", len(targets))
}

// Reply queues a frame for a single client.
func (h *Hub) Reply(clientID, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s reply: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("client %s not registered", clientID)
	}
	h.enqueue(c, frame)
	return nil
}

// enqueue never blocks; a full queue loses the frame. Callers hold mu so the
// queue cannot be closed underneath.
func (h *Hub) enqueue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		if h.metrics != nil {
			h.metrics.FramesDropped.Inc()
		}
		h.logger.Warn("send buffer full, dropping frame", "client_id", c.id)
	}
}

// RoomSize returns the number of clients subscribed to a barn.
func (h *Hub) RoomSize(barnID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomName(barnID)])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unregisters every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, c := range h.clients {
		h.drop(c)
	}
	h.logger.Info("hub closed")
}
