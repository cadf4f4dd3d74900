package collector

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tidemark-io/tidemark/pkg/rum/telemetry"
)

// tailWriteTimeout bounds a single WebSocket write.
const tailWriteTimeout = 10 * time.Second

// TailHub streams ingested events to connected WebSocket clients. A
// client that cannot keep up with the broadcast rate is disconnected.
type TailHub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*tailClient]struct{}
}

type tailClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewTailHub creates an empty hub.
func NewTailHub(logger zerolog.Logger) *TailHub {
	return &TailHub{
		logger: logger.With().Str("component", "tail").Logger(),
		upgrader: websocket.Upgrader{
			// The collector is a local development tool; browser-based
			// dashboards connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*tailClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects or falls behind.
func (h *TailHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade tail connection")
		return
	}

	client := &tailClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info().Int("clients", count).Msg("Tail client connected")

	go h.writeLoop(client)
	h.readLoop(client)
}

// Broadcast sends one event to every connected client. Clients with a
// full send buffer are dropped rather than blocking ingest.
func (h *TailHub) Broadcast(event telemetry.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to marshal event for tail")
		return
	}

	var slow []*tailClient

	h.mu.Lock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.Unlock()

	for _, client := range slow {
		h.logger.Warn().Msg("Dropping slow tail client")
		h.remove(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *TailHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client. Used during shutdown.
func (h *TailHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*tailClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		h.remove(client)
	}
}

// remove unregisters a client and closes its connection. The send
// channel is closed under the hub lock so Broadcast never writes to a
// closed channel.
func (h *TailHub) remove(client *tailClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	_ = client.conn.Close()
}

func (h *TailHub) writeLoop(client *tailClient) {
	for data := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(tailWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *TailHub) readLoop(client *tailClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}
