// Package ws pushes live frame results and fall alerts to browser clients
// over websockets.
//
// Every message is a JSON object {"type": "frame"|"alert", "payload": ...}.
// Clients may pass ?stream=<id> to receive a single stream only.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// Message types.
const (
	TypeFrame = "frame"
	TypeAlert = "alert"
)

// Message is the envelope written to every client.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type outbound struct {
	stream string
	data   []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	sendBuffer int

	mu      sync.RWMutex
	count   int
	dropped int
}

// NewHub creates a hub. sendBuffer is the per-client queue depth; a client
// whose queue fills is disconnected.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		sendBuffer: sendBuffer,
	}
}

// Run services registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setCount()
			diagf("WebSocket client registered: %s (stream=%q)", c.conn.RemoteAddr(), c.stream)

		case c := <-h.unregister:
			if h.clients[c] {
				h.remove(c)
				diagf("WebSocket client unregistered: %s", c.conn.RemoteAddr())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.stream != "" && msg.stream != "" && c.stream != msg.stream {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					opsf("WebSocket client %s send buffer full, removing", c.conn.RemoteAddr())
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns how many messages were discarded because the broadcast
// queue was full.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// ServeHTTP upgrades the request and attaches the client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		opsf("WebSocket upgrade error: %v", err)
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		stream: r.URL.Query().Get("stream"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Broadcast queues a message for every client subscribed to stream. An empty
// stream reaches everyone. It never blocks.
func (h *Hub) Broadcast(stream string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		opsf("Error marshalling %s message for broadcast: %v", msg.Type, err)
		return
	}
	select {
	case h.broadcast <- outbound{stream: stream, data: data}:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// BroadcastFrame sends a frame result.
func (h *Hub) BroadcastFrame(res pipeline.FrameResult) {
	h.Broadcast(res.StreamID, Message{Type: TypeFrame, Payload: res})
}

// BroadcastAlert sends a fall alert.
func (h *Hub) BroadcastAlert(a pipeline.Alert) {
	h.Broadcast(a.StreamID, Message{Type: TypeAlert, Payload: a})
}

// Follow forwards results from a publisher subscription until the channel
// closes or ctx is cancelled.
func (h *Hub) Follow(ctx context.Context, results <-chan pipeline.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			h.BroadcastFrame(res)
			for _, a := range res.Alerts {
				h.BroadcastAlert(a)
			}
		}
	}
}
