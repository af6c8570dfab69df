package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SAP-F-2025/quiz-attempt-service/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

// ErrHubClosed is returned when a subscriber arrives after shutdown.
var ErrHubClosed = errors.New("monitor hub is closed")

type roomMessage struct {
	quizID  string
	payload []byte
}

// Hub fans lifecycle events out to trainers watching a quiz. It satisfies
// events.EventPublisher so it can sit next to the broker publishers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	done       chan struct{}
	closeOnce  sync.Once

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Client is one trainer connection subscribed to a single quiz room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	QuizID string
	UserID string
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomMessage, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the auth middleware in front of the upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run owns room membership until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[c.QuizID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[c.QuizID] = room
			}
			room[c] = struct{}{}
			size := len(room)
			h.mu.Unlock()
			h.logger.Info("Monitor subscribed", "quiz_id", c.QuizID, "user_id", c.UserID, "room_size", size)

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[msg.quizID] {
				select {
				case c.send <- msg.payload:
				default:
					h.logger.Warn("Monitor send buffer full, dropping subscriber", "quiz_id", c.QuizID, "user_id", c.UserID)
					h.removeLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(c *Client) {
	room, ok := h.rooms[c.QuizID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.QuizID)
	}
	h.logger.Info("Monitor unsubscribed", "quiz_id", c.QuizID, "user_id", c.UserID)
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for quizID, room := range h.rooms {
		for c := range room {
			close(c.send)
		}
		delete(h.rooms, quizID)
	}
}

// RoomSize reports how many subscribers watch a quiz.
func (h *Hub) RoomSize(quizID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[quizID])
}

// PublishAttemptEvent queues the event for the quiz room. A full queue drops
// the event; attempt operations never wait on monitors.
func (h *Hub) PublishAttemptEvent(ctx context.Context, event *events.AttemptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal monitor event: %w", err)
	}
	select {
	case <-h.done:
		return nil
	case h.broadcast <- roomMessage{quizID: event.QuizID, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Warn("Monitor queue full, dropping event", "event_id", event.ID, "event_type", event.Type)
		return nil
	}
}

// Close is a no-op; Run tears the hub down when its context ends.
func (h *Hub) Close() error {
	return nil
}

// ServeWS upgrades the request and subscribes the caller to quizID. Callers
// are expected to have authorised the user already.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, quizID, userID string) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		QuizID: quizID,
		UserID: userID,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// readPump only services control frames; monitors do not send commands.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Monitor connection closed", "quiz_id", c.QuizID, "user_id", c.UserID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
