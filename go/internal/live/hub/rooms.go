package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// InboundFunc observes every client-originated envelope the hub accepts,
// after role enforcement. The relay uses it to publish across instances.
type InboundFunc func(eventID uuid.UUID, env protocol.Envelope)

// Manager owns the per-event connection rooms and fans accepted envelopes
// out to every other client of the same event.
type Manager struct {
	// Connection rooms organized by event ID
	eventRooms map[uuid.UUID]map[*Connection]bool
	managers   map[uuid.UUID]*Connection // at most one manager per event
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcast
	onInbound   InboundFunc
}

// Connection represents one client of one live event.
type Connection struct {
	ID      string
	UserID  string
	EventID uuid.UUID
	Role    protocol.Role
	Conn    *websocket.Conn
	Send    chan []byte
	done    chan struct{} // closed on unregister; ends the write pump
	Manager *Manager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds tuning for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcast struct {
	eventID uuid.UUID
	data    []byte
	exclude *Connection // origin connection, skipped
	msgType protocol.MessageType
}

// DefaultConnectionConfig returns default WebSocket tuning. Envelopes are
// small; 4KB leaves room for a long live message.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewManager creates a connection manager for live event rooms.
func NewManager(config ConnectionConfig) *Manager {
	return &Manager{
		eventRooms: make(map[uuid.UUID]map[*Connection]bool),
		managers:   make(map[uuid.UUID]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// OnInbound registers the inbound observer. Must be set before Start.
func (m *Manager) OnInbound(fn InboundFunc) {
	m.onInbound = fn
}

// Start processes broadcasts until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("live hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("live hub shutting down")
			return
		case msg := <-m.broadcastCh:
			m.handleBroadcast(msg)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection and
// joins it to its event room. A second manager for the same event is
// demoted to follower; every client is told its effective role in a
// roleGranted message before any sync traffic.
func (m *Manager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string, eventID uuid.UUID, requested protocol.Role) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		EventID:     eventID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		Manager:     m,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	granted := m.registerConnection(connection, requested)

	go connection.writePump()
	go connection.readPump()

	m.sendRoleGranted(connection, granted)

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("event_id", eventID.String()).
		Str("requested_role", string(requested)).
		Str("granted_role", string(granted)).
		Msg("live connection established")

	return nil
}

// registerConnection joins a connection to its event room and resolves its
// role. Manager authority is exclusive per event.
func (m *Manager) registerConnection(conn *Connection, requested protocol.Role) protocol.Role {
	m.mu.Lock()
	defer m.mu.Unlock()

	granted := protocol.RoleFollower
	if requested == protocol.RoleManager {
		if _, taken := m.managers[conn.EventID]; taken {
			log.Warn().
				Str("event_id", conn.EventID.String()).
				Str("user_id", conn.UserID).
				Msg("manager seat already taken, demoting to follower")
		} else {
			m.managers[conn.EventID] = conn
			granted = protocol.RoleManager
		}
	}
	conn.Role = granted

	if m.eventRooms[conn.EventID] == nil {
		m.eventRooms[conn.EventID] = make(map[*Connection]bool)
	}
	m.eventRooms[conn.EventID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_id", conn.EventID.String()).
		Int("room_size", len(m.eventRooms[conn.EventID])).
		Msg("connection registered")

	return granted
}

func (m *Manager) unregisterConnection(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.eventRooms[conn.EventID]
	if !exists {
		return
	}
	if _, exists := room[conn]; !exists {
		return
	}

	delete(room, conn)
	// The Send channel is never closed: the broadcast goroutine may still
	// hold a room snapshot that includes this connection, and a stray send
	// must land in the buffer rather than panic. The write pump exits
	// through done instead. The membership check above makes this the only
	// close.
	close(conn.done)
	if m.managers[conn.EventID] == conn {
		delete(m.managers, conn.EventID)
	}
	if len(room) == 0 {
		delete(m.eventRooms, conn.EventID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("event_id", conn.EventID.String()).
		Msg("connection unregistered")
}

// BroadcastFromClient fans an accepted client envelope out to every other
// connection of the same event.
func (m *Manager) BroadcastFromClient(origin *Connection, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for broadcast")
		return
	}
	select {
	case m.broadcastCh <- broadcast{eventID: origin.EventID, data: data, exclude: origin, msgType: env.Type}:
	default:
		log.Warn().Str("event_id", origin.EventID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastLocal delivers an envelope to every local connection of an
// event. Used by the relay for traffic that originated on another hub
// instance.
func (m *Manager) BroadcastLocal(eventID uuid.UUID, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal relayed envelope")
		return
	}
	select {
	case m.broadcastCh <- broadcast{eventID: eventID, data: data, msgType: env.Type}:
	default:
		log.Warn().Str("event_id", eventID.String()).Msg("broadcast channel full, dropping relayed message")
	}
}

func (m *Manager) handleBroadcast(msg broadcast) {
	m.mu.RLock()
	room, exists := m.eventRooms[msg.eventID]
	if !exists {
		m.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(room))
	for conn := range room {
		if conn == msg.exclude {
			continue
		}
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- msg.data:
		default:
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			m.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("type", string(msg.msgType)).
		Str("event_id", msg.eventID.String()).
		Int("connections", len(targets)).
		Msg("envelope broadcasted")
}

// sendRoleGranted tells a freshly joined connection its effective role.
func (m *Manager) sendRoleGranted(conn *Connection, role protocol.Role) {
	env, err := protocol.NewEnvelope(conn.EventID, protocol.TypeRoleGranted, protocol.RoleGrantedPayload{Role: role})
	if err != nil {
		log.Error().Err(err).Msg("failed to build roleGranted envelope")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal roleGranted envelope")
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full on join")
	}
}

// Stats returns statistics about active connections.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	rooms := make(map[string]int)
	for eventID, room := range m.eventRooms {
		total += len(room)
		rooms[eventID.String()] = len(room)
	}

	return map[string]interface{}{
		"total_connections": total,
		"active_events":     len(m.eventRooms),
		"event_connections": rooms,
	}
}

// writePump drains the send channel to the socket, pinging on an interval.
// One writer per connection keeps delivery FIFO per origin.
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

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
			c.LastPing = time.Now()
		}
	}
}

// readPump reads client envelopes until the connection drops.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
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
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage validates and broadcasts one client envelope. The hub
// is the server-side half of the role gate: follower connections cannot
// originate manager-only message types no matter what their UI claims.
func (c *Connection) handleClientMessage(message []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Msg("dropping malformed client message")
		return
	}

	if env.EventID != c.EventID.String() {
		log.Warn().
			Str("connection_id", c.ID).
			Str("claimed_event", env.EventID).
			Str("actual_event", c.EventID.String()).
			Msg("dropping envelope addressed to a different event")
		return
	}

	if protocol.ManagerOriginated(env.Type) && c.Role != protocol.RoleManager {
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Str("type", string(env.Type)).
			Msg("follower attempted to originate a manager-only message")
		return
	}

	c.Manager.BroadcastFromClient(c, env)

	if c.Manager.onInbound != nil {
		c.Manager.onInbound(c.EventID, env)
	}
}
