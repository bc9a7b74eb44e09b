// Package wsfanout implements the WebSocket Fan-out: four
// broadcast topics over a connection registry, fed by the Event Bus
// Adapter. The registry is an RWMutex-guarded per-topic client map, each
// client a bounded channel with slowest-client-drop back-pressure.
package wsfanout

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/acme-industrial/enms-analytics/internal/app/domain"
	"github.com/acme-industrial/enms-analytics/internal/app/metrics"
)

// Topic names, re-exported from domain for callers wiring routes.
const (
	TopicDashboard = domain.TopicDashboard
	TopicAnomalies = domain.TopicAnomalies
	TopicTraining  = domain.TopicTraining
	TopicEvents    = domain.TopicEvents
)

// topicChannels maps each topic to the bus channels it forwards.
var topicChannels = domain.TopicChannels

// Topics lists all supported fan-out topics.
func Topics() []string {
	return []string{TopicDashboard, TopicAnomalies, TopicTraining, TopicEvents}
}

// ChannelsForTopic returns the bus channels a topic forwards.
func ChannelsForTopic(topic string) []string {
	return topicChannels[topic]
}

const (
	clientSendBuffer         = 64
	defaultHeartbeatInterval = 30 * time.Second
	defaultMaxConnections    = 1000
	writeWait                = 10 * time.Second
)

// client is one connected websocket with a bounded outbound queue.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub is the connection registry: map[topic] -> map[client-id] -> client.
type Hub struct {
	upgrader          websocket.Upgrader
	log               *logrus.Entry
	heartbeatInterval time.Duration
	maxConnections    int

	mu     sync.RWMutex
	topics map[string]map[string]*client
	nextID int
	total  int
}

// New builds a Hub. heartbeatInterval and maxConnections fall back to
// 30s and 1000 when zero, so existing callers and tests built before these
// became configurable keep working unchanged.
func New(log *logrus.Entry, heartbeatInterval time.Duration, maxConnections int) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	h := &Hub{
		log:               log,
		heartbeatInterval: heartbeatInterval,
		maxConnections:    maxConnections,
		topics:            make(map[string]map[string]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, t := range Topics() {
		h.topics[t] = make(map[string]*client)
	}
	return h
}

// connectionEnvelope is sent once, immediately after accept.
type connectionEnvelope struct {
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	ClientID       string    `json:"client_id"`
	ConnectionType string    `json:"connection_type"`
	Timestamp      time.Time `json:"timestamp"`
}

type pongEnvelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ServeWS upgrades r to a websocket and registers it under topic until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string) error {
	if _, ok := h.topics[topic]; !ok {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return nil
	}
	if h.atCapacity() {
		http.Error(w, "too many websocket connections", http.StatusServiceUnavailable)
		return nil
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := h.register(topic, conn, r.URL.Query().Get("client_id"))
	defer h.unregister(topic, c.id)

	connMsg, _ := json.Marshal(connectionEnvelope{
		Type: "connection", Status: "connected", ClientID: c.id,
		ConnectionType: topic, Timestamp: time.Now().UTC(),
	})
	c.send <- connMsg

	go h.writePump(c)
	h.readPump(c)
	return nil
}

// register adds conn to topic's client map. When the caller supplies a
// client_id and it is not
// already taken on this topic, it is used as-is so the client can recognize
// its own connection in the `connection` envelope; otherwise the hub mints
// one.
func (h *Hub) register(topic string, conn *websocket.Conn, requestedID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.total++
	id := requestedID
	if id == "" {
		id = clientIDFrom(h.nextID)
	} else if _, taken := h.topics[topic][id]; taken {
		id = requestedID + "-" + clientIDFrom(h.nextID)
	}
	c := &client{id: id, conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.topics[topic][c.id] = c
	metrics.SetWebSocketConnections(topic, len(h.topics[topic]))
	return c
}

func (h *Hub) unregister(topic, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.topics[topic][id]; ok {
		close(c.send)
		delete(h.topics[topic], id)
		h.total--
		metrics.SetWebSocketConnections(topic, len(h.topics[topic]))
	}
}

// atCapacity reports whether the hub is already at its configured
// connection limit.
func (h *Hub) atCapacity() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total >= h.maxConnections
}

// readPump drains inbound frames, answering ping with pong; any
// read error (including client disconnect) ends the connection.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			pong, _ := json.Marshal(pongEnvelope{Type: "pong", Timestamp: time.Now().UTC()})
			select {
			case c.send <- pong:
			default:
				// Slowest-client-drop: the queue is already full, drop this pong.
			}
		}
	}
}

// writePump drains the outbound queue and a heartbeat ticker onto the wire;
// any write error removes the client.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast forwards a bus event to every client on topic. Envelopes as
// {type: eventType, data: payload}; a client whose send queue is full misses
// this message rather than blocking the broadcast.
func (h *Hub) Broadcast(topic, eventType string, payload json.RawMessage) {
	msg, err := json.Marshal(domain.Envelope{Type: eventType, Data: payload})
	if err != nil {
		h.log.WithError(err).Warn("wsfanout: marshal envelope")
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.log.WithField("client_id", c.id).Warn("wsfanout: slow client, dropping message")
		}
	}
}

// BroadcastEvent forwards a bus event to every topic that forwards its
// channel.
func (h *Hub) BroadcastEvent(channel string, payload json.RawMessage) {
	for _, topic := range Topics() {
		if eventType, ok := eventTypeForChannel(topic, channel); ok {
			h.Broadcast(topic, eventType, payload)
		}
	}
}

// eventTypeForChannel reports the envelope "type" a bus channel takes when
// forwarded to topic, and whether topic forwards that channel at all.
// `training.completed` is relabeled to `model_updated` on the dashboard
// topic only.
func eventTypeForChannel(topic, channel string) (eventType string, forwarded bool) {
	for _, ch := range topicChannels[topic] {
		if ch != channel {
			continue
		}
		if topic == TopicDashboard && channel == domain.ChannelTrainingCompleted {
			return "model_updated", true
		}
		return channel, true
	}
	return "", false
}

func clientIDFrom(n int) string {
	return "c" + strconv.FormatInt(int64(n), 36)
}

// ConnectionCount returns the number of connected clients across all topics,
// reported by GET /stats/connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.topics {
		total += len(clients)
	}
	return total
}
