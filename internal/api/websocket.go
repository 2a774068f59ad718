package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quantfleet/engine/internal/telemetry"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 65536
)

// wsMessage is the frame format in both directions. Clients send requests
// with a method; the server answers with responses and pushes events.
type wsMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"` // request, response, event, error
	Method    string          `json:"method,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type subscribePayload struct {
	Kinds []string `json:"kinds,omitempty"`
}

// wsClient is one WebSocket connection with its own telemetry subscription.
type wsClient struct {
	id     string
	logger *zap.Logger
	conn   *websocket.Conn
	send   chan []byte

	mu  sync.Mutex
	sub *telemetry.Subscription

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		logger: s.logger,
		conn:   conn,
		send:   make(chan []byte, 256),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("websocket client connected", zap.String("client_id", c.id))

	go c.writePump()
	c.readPump(s)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// close tears the connection down and detaches the telemetry subscription.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.unsubscribe()
		c.conn.Close()
	})
}

func (c *wsClient) unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// readPump handles inbound requests until the connection drops.
func (c *wsClient) readPump(s *Server) {
	defer c.close()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(msg.ID, "invalid message")
			continue
		}

		switch msg.Method {
		case "subscribe":
			c.handleSubscribe(s, msg)
		case "unsubscribe":
			c.unsubscribe()
			c.sendResponse(msg.ID, map[string]interface{}{"subscribed": false})
		case "ping":
			c.sendResponse(msg.ID, map[string]interface{}{"pong": true})
		default:
			c.sendError(msg.ID, "unknown method "+msg.Method)
		}
	}
}

// handleSubscribe replaces the client's subscription with one for the
// requested kinds. An empty kind list means everything.
func (c *wsClient) handleSubscribe(s *Server, msg wsMessage) {
	var payload subscribePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError(msg.ID, "invalid subscribe payload")
			return
		}
	}

	kinds, ok := parseKinds(payload.Kinds)
	if !ok {
		c.sendError(msg.ID, "unknown event kind")
		return
	}

	c.unsubscribe()
	sub := s.engine.Sink().Subscribe(kinds...)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	go c.forward(sub)
	c.sendResponse(msg.ID, map[string]interface{}{"subscribed": true, "kinds": payload.Kinds})
}

// forward pumps telemetry events into the send queue until the subscription
// closes. Slow clients lose frames rather than stalling the stream.
func (c *wsClient) forward(sub *telemetry.Subscription) {
	for ev := range sub.C() {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		frame, err := json.Marshal(wsMessage{
			ID:        ev.ID,
			Type:      "event",
			Method:    string(ev.Kind),
			Payload:   payload,
			Timestamp: ev.Timestamp.UnixMilli(),
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- frame:
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *wsClient) sendResponse(id string, payload interface{}) {
	c.enqueue("response", id, payload, "")
}

func (c *wsClient) sendError(id, message string) {
	c.enqueue("error", id, nil, message)
}

func (c *wsClient) enqueue(msgType, id string, payload interface{}, errMsg string) {
	msg := wsMessage{ID: id, Type: msgType, Timestamp: time.Now().UnixMilli()}
	if errMsg != "" {
		msg.Method = "error"
		raw, _ := json.Marshal(map[string]string{"error": errMsg})
		msg.Payload = raw
	} else if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = raw
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	case <-c.closed:
	default:
	}
}

// writePump drains the send queue onto the wire with keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// parseKinds validates requested kind names against the known set.
func parseKinds(names []string) ([]telemetry.Kind, bool) {
	known := make(map[telemetry.Kind]bool)
	for _, k := range telemetry.AllKinds() {
		known[k] = true
	}

	kinds := make([]telemetry.Kind, 0, len(names))
	for _, name := range names {
		k := telemetry.Kind(name)
		if !known[k] {
			return nil, false
		}
		kinds = append(kinds, k)
	}
	return kinds, true
}
