package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/events"
	"github.com/auctionhouse/engine/internal/models"
)

// Room names used for targeted sends. Team rooms are "team:<uuid>".
const RoomAdmins = "admins"

func teamRoom(id uuid.UUID) string { return "team:" + id.String() }

// ConnectionManager owns every WebSocket connection to the auction. All
// fan-out goes through a single broadcast channel so a burst of events
// never spawns a goroutine per client, and a slow client is evicted
// rather than allowed to stall everyone else.
type ConnectionManager struct {
	connections map[*Connection]bool
	rooms       map[string]map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader

	config ConnectionConfig

	broadcastCh chan broadcastMessage
}

// Connection represents one WebSocket client. Send is never closed; a
// broadcast may still hold a reference to an evicted connection, and a
// send on a closed channel would panic the fan-out goroutine. Shutdown
// is signalled through done instead.
type Connection struct {
	ID       string
	Identity models.Identity
	Conn     *websocket.Conn
	Send     chan frame
	done     chan struct{}
	Manager  *ConnectionManager

	ConnectedAt time.Time
	LastPong    time.Time
}

// frame is one outbound message. Compressed payloads go out as binary
// frames; everything else as text.
type frame struct {
	data   []byte
	binary bool
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout time.Duration
	// PingInterval is how often the server pings. The read deadline is
	// twice this, so a client that misses two consecutive pongs is
	// evicted.
	PingInterval   time.Duration
	MaxMessageSize int64
	// CompressMinBytes is the payload size above which normal-priority
	// broadcasts are gzipped. High-priority messages are never
	// compressed; they are small and latency sensitive.
	CompressMinBytes int
	SendBufferSize   int
	ReadBufferSize   int
	WriteBufferSize  int
	CheckOrigin      func(r *http.Request) bool
}

type broadcastMessage struct {
	room  string // empty means every connection
	frame frame
	typ   events.Type
}

// DefaultConnectionConfig returns the production WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1024,
		CompressMinBytes: 1024,
		SendBufferSize:   256,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		rooms:       make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000), // Buffer for high throughput
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Broadcast fans an event out to every connection. Normal-priority
// payloads above the compression threshold are gzipped once and sent as
// binary frames; clients inflate on receipt.
func (cm *ConnectionManager) Broadcast(typ events.Type, payload any, priority events.Priority) {
	event, err := NewEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build broadcast event")
		return
	}
	f, err := cm.encodeFrame(event, priority)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to encode broadcast frame")
		return
	}

	select {
	case cm.broadcastCh <- broadcastMessage{frame: f, typ: typ}:
	default:
		log.Warn().Str("event_type", string(typ)).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToRoom sends an event only to the named room.
func (cm *ConnectionManager) BroadcastToRoom(room string, typ events.Type, payload any) {
	event, err := NewEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build room event")
		return
	}
	f, err := cm.encodeFrame(event, events.PriorityHigh)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to encode room frame")
		return
	}

	select {
	case cm.broadcastCh <- broadcastMessage{room: room, frame: f, typ: typ}:
	default:
		log.Warn().
			Str("room", room).
			Str("event_type", string(typ)).
			Msg("broadcast channel full, dropping room message")
	}
}

// encodeFrame marshals the envelope and compresses it when it is large
// enough and the priority allows.
func (cm *ConnectionManager) encodeFrame(event *Event, priority events.Priority) (frame, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return frame{}, fmt.Errorf("marshal event: %w", err)
	}
	if priority == events.PriorityHigh || len(data) <= cm.config.CompressMinBytes {
		return frame{data: data}, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return frame{}, fmt.Errorf("compress event: %w", err)
	}
	if err := zw.Close(); err != nil {
		return frame{}, fmt.Errorf("compress event: %w", err)
	}
	return frame{data: buf.Bytes(), binary: true}, nil
}

// UpgradeConnection upgrades an HTTP request to a WebSocket and registers
// the client. Callers validate identity first; the connection is welcomed
// with its assigned ID so clients can correlate logs.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity models.Identity) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Send:        make(chan frame, cm.config.SendBufferSize),
		done:        make(chan struct{}),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPong:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	connection.sendEvent(events.TypeWelcome, events.WelcomePayload{
		ConnectionID: connection.ID,
		ConnectedAt:  connection.ConnectedAt.UTC(),
	})

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", identity.UserID).
		Str("role", string(identity.Role)).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true
	for _, room := range conn.roomsFor() {
		if cm.rooms[room] == nil {
			cm.rooms[room] = make(map[*Connection]bool)
		}
		cm.rooms[room][conn] = true
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; !exists {
		return
	}
	delete(cm.connections, conn)
	close(conn.done)

	for _, room := range conn.roomsFor() {
		if members, ok := cm.rooms[room]; ok {
			delete(members, conn)
			if len(members) == 0 {
				delete(cm.rooms, room)
			}
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.Identity.UserID).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.Unlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
		c.Conn.Close()
	}
}

// handleBroadcast delivers one frame to its targets. A connection whose
// send buffer is full is evicted immediately; blocking here would stall
// the entire auction feed.
func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.room == "" {
		targets = make([]*Connection, 0, len(cm.connections))
		for conn := range cm.connections {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.rooms[message.room] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message.frame:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.Identity.UserID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.typ)).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns counts of active connections, overall and per room.
func (cm *ConnectionManager) Stats() map[string]any {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	roomCounts := make(map[string]int, len(cm.rooms))
	for room, members := range cm.rooms {
		roomCounts[room] = len(members)
	}

	return map[string]any{
		"total_connections": len(cm.connections),
		"rooms":             roomCounts,
	}
}

// roomsFor maps a connection's identity to the rooms it belongs in.
func (c *Connection) roomsFor() []string {
	var rooms []string
	if c.Identity.Role == models.RoleAdmin {
		rooms = append(rooms, RoomAdmins)
	}
	if c.Identity.Role == models.RoleTeam && c.Identity.TeamID != nil {
		rooms = append(rooms, teamRoom(*c.Identity.TeamID))
	}
	return rooms
}

// sendEvent unicasts an uncompressed event to this connection.
func (c *Connection) sendEvent(typ events.Type, payload any) {
	event, err := NewEvent(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to build unicast event")
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("failed to marshal unicast event")
		return
	}
	select {
	case c.Send <- frame{data: data}:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping unicast")
	}
}

// writePump drains the send channel and keeps the heartbeat going.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			messageType := websocket.TextMessage
			if f.binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.Conn.WriteMessage(messageType, f.data); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump consumes client messages and enforces the pong deadline. The
// deadline is two ping intervals, so two missed pongs end the connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	readTimeout := 2 * c.Manager.config.PingInterval
	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.LastPong = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

// handleClientMessage answers application-level pings; everything else is
// logged and ignored. All auction commands go over HTTP, not the socket.
func (c *Connection) handleClientMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err == nil && msg.Type == string(events.TypePing) {
		c.sendEvent(events.TypePong, struct{}{})
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.Identity.UserID).
		RawJSON("message", message).
		Msg("received client message")
}
