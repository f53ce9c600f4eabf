package bridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reel/internal/engine"
	"reel/internal/logging"
	"reel/internal/services"
)

const (
	sendBuffer   = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	maxFrameSize = 64 << 10
)

// client is one host connection.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu       sync.Mutex
	elements map[string]*RemoteElement
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	c := &client{
		srv:      s,
		conn:     conn,
		send:     make(chan Message, sendBuffer),
		done:     make(chan struct{}),
		logger:   s.logger.With(logging.String("remote", r.RemoteAddr)),
		elements: make(map[string]*RemoteElement),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	unsubscribe := s.engine.Subscribe(func(ev engine.Event) {
		c.enqueue(Message{Type: MessageEvent, Event: eventPayload(ev)})
	})
	c.logger.Info("host connected")

	go c.writeLoop()
	c.readLoop()

	unsubscribe()
	c.close()
	c.unmountAll()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.logger.Info("host disconnected")
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue queues msg without blocking the engine. A host that stops reading
// loses messages rather than stalling playback.
func (c *client) enqueue(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		logging.WarnWithContext(c.logger, "host send buffer full; dropping message", "bridge_backpressure",
			logging.String("message_type", msg.Type),
			logging.String(logging.FieldErrorHint, "the host UI is not reading from the websocket"),
			logging.String(logging.FieldImpact, "host may miss playback commands"),
		)
		return false
	}
}

func (c *client) sendCommand(cmd Command) bool {
	return c.enqueue(Message{Type: MessageCommand, Command: &cmd})
}

func (c *client) sendError(message string) {
	c.enqueue(Message{Type: MessageError, Error: message})
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write failed", logging.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg HostMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

func (c *client) handle(msg HostMessage) {
	eng := c.srv.engine
	switch msg.Type {
	case HostMounted:
		el := NewRemoteElement(msg.ItemID, msg.Duration, c.sendCommand)
		if err := eng.Mount(msg.ItemID, el); err != nil {
			c.sendError(err.Error())
			return
		}
		c.mu.Lock()
		c.elements[msg.ItemID] = el
		c.mu.Unlock()
	case HostUnmounted:
		c.mu.Lock()
		delete(c.elements, msg.ItemID)
		c.mu.Unlock()
		eng.Unmount(msg.ItemID)
	case HostReady:
		eng.MediaReady(msg.ItemID)
	case HostEnded:
		eng.MediaEnded(msg.ItemID)
	case HostError:
		detail := msg.Error
		if detail == "" {
			detail = "host media element failed"
		}
		eng.MediaError(msg.ItemID, services.Wrap(services.ErrExternal, "bridge", "media", detail, nil))
	case HostTime:
		c.mu.Lock()
		el := c.elements[msg.ItemID]
		c.mu.Unlock()
		if el != nil {
			el.UpdateTime(msg.Current, msg.Duration)
		}
		eng.MediaProgress(msg.ItemID, msg.Current, msg.Duration)
	case HostVisibility:
		eng.ObserveVisibility(msg.Samples)
	case HostGesture:
		eng.RecordGesture(msg.Gesture)
	case HostTap:
		eng.HandleTap(msg.ItemID)
	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

func (c *client) unmountAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.elements))
	for id := range c.elements {
		ids = append(ids, id)
	}
	c.elements = make(map[string]*RemoteElement)
	c.mu.Unlock()
	for _, id := range ids {
		c.srv.engine.Unmount(id)
	}
}
