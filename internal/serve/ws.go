package serve

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/accord/internal/convergence"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsSendBuffer  = 256
	wsReplayLimit = 1000
)

// Message types sent to websocket clients besides run events.
const (
	WSTypeHello    = "hello"
	WSTypeReplay   = "replay.done"
	WSTypeError    = "error"
	WSTypeSubAck   = "subscribed"
	WSTypeUnsubAck = "unsubscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is one frame sent to a client.
type WSMessage struct {
	Type  string      `json:"type"`
	Topic string      `json:"topic,omitempty"`
	Seq   int64       `json:"seq,omitempty"`
	TS    string      `json:"ts"`
	Data  interface{} `json:"data,omitempty"`
}

// wsCommand is a frame received from a client.
type wsCommand struct {
	Op     string   `json:"op"`
	Topics []string `json:"topics"`
}

type wsBroadcast struct {
	topic   string
	payload []byte
}

// WSHub fans run events out to subscribed clients.
type WSHub struct {
	clients    map[*WSClient]struct{}
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan wsBroadcast
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewWSHub creates a hub. Call Run in its own goroutine.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]struct{}),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan wsBroadcast, 256),
		done:       make(chan struct{}),
		logger:     slog.Default(),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.closed = true
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closed = true
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.matches(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warn("websocket client too slow, dropping event", "client_id", c.id, "topic", msg.topic)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop shuts the hub down and closes every client's send channel.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends an event to every client subscribed to topic. It never
// blocks once the hub has stopped.
func (h *WSHub) Publish(topic, eventType string, data interface{}) {
	payload, err := json.Marshal(WSMessage{
		Type:  eventType,
		Topic: topic,
		TS:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:  data,
	})
	if err != nil {
		h.logger.Warn("failed to encode websocket event", "topic", topic, "error", err)
		return
	}
	select {
	case h.broadcast <- wsBroadcast{topic: topic, payload: payload}:
	case <-h.done:
	}
}

// Observe publishes a run event on runs:<run id>.
func (h *WSHub) Observe(ev convergence.Event) {
	h.Publish(runTopic(ev.RunID), "run."+string(ev.Type), ev)
}

func runTopic(runID string) string { return "runs:" + runID }

// WSClient is one websocket connection.
type WSClient struct {
	id     string
	hub    *WSHub
	conn   *websocket.Conn
	send   chan []byte
	closed bool // guarded by hub.mu
	mu     sync.RWMutex
	topics map[string]struct{}
}

// Subscribe adds topics. "runs:*" matches every run and "*" everything.
func (c *WSClient) Subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = struct{}{}
		}
	}
}

// Unsubscribe removes topics.
func (c *WSClient) Unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, strings.TrimSpace(t))
	}
}

func (c *WSClient) topicList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *WSClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.topics[topic]; ok {
		return true
	}
	if _, ok := c.topics["*"]; ok {
		return true
	}
	for t := range c.topics {
		if prefix, ok := strings.CutSuffix(t, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// handleWS upgrades the connection. ?topics= is a comma-separated list
// (default runs:*). With ?since= and the sqlite backend, logged events
// after that sequence number are replayed before live events.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	q := r.URL.Query()
	since := int64(-1)
	if v := q.Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "since must be a non-negative integer", nil, reqID)
			return
		}
		since = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", reqID)
		return
	}
	client := &WSClient{
		id:     uuid.NewString(),
		hub:    s.wsHub,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		topics: make(map[string]struct{}),
	}
	topics := []string{"runs:*"}
	if v := q.Get("topics"); v != "" {
		topics = strings.Split(v, ",")
	}
	client.Subscribe(topics)

	if since >= 0 {
		if err := s.replay(client, since); err != nil {
			s.logger.Warn("websocket replay failed", "client_id", client.id, "error", err)
			conn.Close()
			return
		}
	}

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	client.queue(WSMessage{Type: WSTypeHello, Data: map[string]interface{}{
		"client_id": client.id,
		"topics":    client.topicList(),
	}})
	s.logger.Debug("websocket client connected", "client_id", client.id, "topics", topics)

	go client.writePump()
	client.readPump()
}

// replay writes logged events matching the client's topics directly to
// the connection, then a replay.done frame carrying the last sequence.
func (s *Server) replay(c *WSClient, since int64) error {
	last := since
	if store := s.runner.Store(); store != nil {
		events, err := store.Events("", since, wsReplayLimit)
		if err != nil {
			return err
		}
		for _, ev := range events {
			last = ev.ID
			topic := runTopic(ev.RunID)
			if !c.matches(topic) {
				continue
			}
			if err := c.writeNow(WSMessage{
				Type:  "run." + string(ev.Type),
				Topic: topic,
				Seq:   ev.ID,
				TS:    ev.At.UTC().Format(time.RFC3339Nano),
				Data:  ev.Event,
			}); err != nil {
				return err
			}
		}
	}
	return c.writeNow(WSMessage{Type: WSTypeReplay, Seq: last, TS: time.Now().UTC().Format(time.RFC3339Nano)})
}

func (c *WSClient) writeNow(msg WSMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// queue sends a control frame to this client only.
func (c *WSClient) queue(msg WSMessage) {
	if msg.TS == "" {
		msg.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.queue(WSMessage{Type: WSTypeError, Data: map[string]string{"error": "invalid command"}})
			continue
		}
		switch cmd.Op {
		case "subscribe":
			c.Subscribe(cmd.Topics)
			c.queue(WSMessage{Type: WSTypeSubAck, Data: map[string]interface{}{"topics": c.topicList()}})
		case "unsubscribe":
			c.Unsubscribe(cmd.Topics)
			c.queue(WSMessage{Type: WSTypeUnsubAck, Data: map[string]interface{}{"topics": c.topicList()}})
		default:
			c.queue(WSMessage{Type: WSTypeError, Data: map[string]string{"error": "unknown op " + strconv.Quote(cmd.Op)}})
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
