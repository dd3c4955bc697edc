package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/koshedutech/deriv-trading-engine/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one push-socket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans engine events out to the connected push clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stopChan   chan struct{}
	stopOnce   sync.Once
	log        zerolog.Logger
}

// NewHub creates an empty hub. Run must be started before clients connect.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopChan:   make(chan struct{}),
		log:        log.With().Str("component", "push").Logger(),
	}
}

// Run is the hub loop. Blocks until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug().Str("client", client.id).Int("clients", len(h.clients)).Msg("push client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client, drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
		case <-h.stopChan:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// Stop disconnects all clients and ends the hub loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// BroadcastEvent marshals and queues one push event.
func (h *Hub) BroadcastEvent(ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("push marshal failed")
		return
	}
	select {
	case h.broadcast <- raw:
	case <-h.stopChan:
	default:
		h.log.Warn().Msg("push broadcast queue full, event dropped")
	}
}

// handleSocket upgrades the connection and replays current state so a fresh
// client renders without waiting for the next push.
func (s *Server) handleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("socket upgrade failed")
		return
	}
	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
		hub:  s.hub,
	}
	s.hub.register <- client

	s.replay(client)
	go client.writePump()
	go client.readPump(s)
}

// replay queues the current state snapshot for one client.
func (s *Server) replay(client *Client) {
	now := time.Now().UTC()
	status := s.engine.Status()
	snapshots := []events.Event{
		{Type: events.EventBotStatus, Timestamp: now, Data: map[string]bool{"running": status.Running}},
		{Type: events.EventAccountUpdate, Timestamp: now, Data: status},
		{Type: events.EventTradesUpdate, Timestamp: now, Data: s.engine.Trades()},
		{Type: events.EventScreenerUpdate, Timestamp: now, Data: s.cards.All()},
	}
	for _, entry := range s.ring.Snapshot() {
		snapshots = append(snapshots, events.Event{
			Type:      events.EventConsoleLog,
			Timestamp: entry.Timestamp,
			Data:      entry,
		})
	}
	for _, ev := range snapshots {
		raw, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case client.send <- raw:
		default:
			return
		}
	}
}

// readPump consumes operator commands until the connection drops.
func (c *Client) readPump(s *Server) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg commandMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Command == "" {
			continue
		}
		s.dispatchCommand(msg)
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
