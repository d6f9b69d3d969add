package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from an observer.
	maxMessageSize = 4 * 1024

	// Per-observer mailbox capacity. A full mailbox drops its oldest
	// event; a slow observer never stalls the publisher.
	defaultMailboxSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards connect from arbitrary origins on the local network.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Activator is the manual-activation entry point observers may invoke
type Activator interface {
	Activate(source string) bool
}

// Subscription is one observer's bounded mailbox of event envelopes
type Subscription struct {
	ID string
	C  <-chan entities.EventEnvelope

	ch chan entities.EventEnvelope
}

// Hub fans out event envelopes to all connected observers. Delivery is
// fire-and-forget per observer: publishing never blocks, and an observer
// that falls behind loses its oldest events, not the pipeline's time.
type Hub struct {
	mailboxSize int
	activator   Activator
	logger      *zap.Logger

	mu        sync.RWMutex
	observers map[string]*Subscription
}

// NewHub creates an event hub. The activator receives manual-activation
// commands sent by observers; it may be nil for publish-only hubs.
func NewHub(activator Activator, logger *zap.Logger) *Hub {
	return &Hub{
		mailboxSize: defaultMailboxSize,
		activator:   activator,
		logger:      logger,
		observers:   make(map[string]*Subscription),
	}
}

// Subscribe registers an in-process observer and returns its mailbox
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		ID: uuid.New().String(),
		ch: make(chan entities.EventEnvelope, h.mailboxSize),
	}
	sub.C = sub.ch

	h.mu.Lock()
	h.observers[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Info("Observer subscribed", zap.String("observerID", sub.ID))
	return sub
}

// Unsubscribe removes an observer and closes its mailbox
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.observers[sub.ID]; ok {
		delete(h.observers, sub.ID)
		close(sub.ch)
	}
	h.mu.Unlock()

	h.logger.Info("Observer unsubscribed", zap.String("observerID", sub.ID))
}

// Publish broadcasts an envelope to every observer without blocking. When an
// observer's mailbox is full its oldest event is dropped to make room.
func (h *Hub) Publish(event entities.EventEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.observers {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
				h.logger.Debug("Observer mailbox full, dropped oldest event",
					zap.String("observerID", id))
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// ObserverCount returns the number of connected observers
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// ServeWS upgrades an observer connection and streams envelopes to it until
// the connection closes.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	sub := h.Subscribe()

	go h.writePump(conn, sub)
	go h.readPump(conn, sub)

	return nil
}

// writePump streams the observer's mailbox to its websocket connection
func (h *Hub) writePump(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to marshal event envelope", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("Failed to write to observer",
					zap.String("observerID", sub.ID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes observer commands until the connection drops. The only
// command observers may issue is a manual activation.
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscription) {
	defer func() {
		h.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Observer connection error",
					zap.String("observerID", sub.ID),
					zap.Error(err))
			}
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Warn("Ignoring malformed observer message", zap.Error(err))
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "activate":
			if h.activator != nil {
				accepted := h.activator.Activate("observer")
				h.logger.Info("Manual activation requested",
					zap.String("observerID", sub.ID),
					zap.Bool("accepted", accepted))
			}
		default:
			h.logger.Warn("Unknown observer message type", zap.String("type", msgType))
		}
	}
}
