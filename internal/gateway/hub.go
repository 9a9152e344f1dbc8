// Package gateway relays live search events from Redis to WebSocket
// clients and serves stored search results over REST.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	redisstore "github.com/davidalejandrochentes/backtesting-trading/internal/store/redis"
)

// Hub manages WebSocket clients and the Redis event fan-out.
type Hub struct {
	rdb *goredis.Client

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64
	latest  map[string]json.RawMessage // search ID -> last progress/finished payload

	replay *ReplayBuffer
}

// NewHub creates a Hub. rdb may be nil when events are fed through
// Broadcast only.
func NewHub(rdb *goredis.Client) *Hub {
	return &Hub{
		rdb:     rdb,
		clients: make(map[*Client]bool),
		latest:  make(map[string]json.RawMessage),
		replay:  NewReplayBuffer(500),
	}
}

// Run subscribes to the search events channel and broadcasts every
// message. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisstore.EventsChannel)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %s", redisstore.EventsChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast([]byte(msg.Payload))
		}
	}
}

// Broadcast wraps one event in a sequenced envelope, remembers it for
// replay and sends it to every client following its search.
// Payloads that are not valid events are dropped.
func (h *Hub) Broadcast(payload []byte) {
	var ev redisstore.Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.SearchID == "" {
		log.Printf("[gateway] dropping malformed event: %v", err)
		return
	}
	now := time.Now().UTC()

	// Attach backfills under the same lock: each envelope reaches a new
	// client exactly once.
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	seq := h.seq
	if ev.Type == redisstore.EventProgress || ev.Type == redisstore.EventFinished {
		h.latest[ev.SearchID] = append(json.RawMessage(nil), payload...)
	}

	// Hand-built envelope; payload is already JSON.
	buf := make([]byte, 0, len(payload)+64)
	buf = append(buf, `{"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","event":`...)
	buf = append(buf, payload...)
	buf = append(buf, '}')

	h.replay.Push(seq, ev.SearchID, buf)

	for client := range h.clients {
		if !client.follows(ev.SearchID) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// Latest returns the last progress or finished event of each search seen.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v
	}
	return cp
}

// Seq returns the sequence number of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach registers an upgraded connection. Envelopes newer than since are
// replayed first; searchID, when set, restricts the client to one search.
func (h *Hub) Attach(conn *websocket.Conn, searchID string, since int64) {
	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h,
		searchID: searchID,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	for _, e := range h.replay.Since(since, searchID) {
		select {
		case client.send <- e.Data:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
