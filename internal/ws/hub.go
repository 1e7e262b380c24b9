package ws

import (
	"context"
	"sync"
	"time"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/observability"
	"github.com/localhub/internal/service"
)

// Commands is the write surface invoked by inbound transport events.
type Commands interface {
	Send(ctx context.Context, in service.SendInput) (*model.Message, error)
	Edit(ctx context.Context, in service.EditInput) (*model.Message, error)
	Delete(ctx context.Context, requester model.ParticipantRef, messageID int64) error
	React(ctx context.Context, actor model.ParticipantRef, messageID int64, emoji string) (bool, error)
	Unreact(ctx context.Context, actor model.ParticipantRef, messageID int64, emoji string) (bool, error)
	MarkRoomRead(ctx context.Context, reader model.ParticipantRef, roomKey string) (int64, error)
}

// Options bound connections and per-session resources.
type Options struct {
	MaxConns       int
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o Options) withDefaults() Options {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16384
	}
	return o
}

// Hub is the realtime transport. It tracks live sessions per participant (the private channel)
// and room membership. All of it is process-local and rebuilt by clients after a reconnect.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	sessions   map[string]*Client
	rooms      map[string]map[*Client]struct{}
	total      int
	opts       Options
	cmds       Commands
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

var _ service.EventBroadcaster = (*Hub)(nil)

func NewHub(opts Options) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		sessions:   make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		opts:       opts.withDefaults(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// SetCommands wires the services once they are built; the hub is created first because the
// services broadcast through it.
func (h *Hub) SetCommands(cmds Commands) {
	h.mu.Lock()
	h.cmds = cmds
	h.mu.Unlock()
}

func (h *Hub) commands() Commands {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cmds
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Done is closed after Run has shut every session down.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		allClients = append(allClients, c)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.sessions = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()
	observability.WebSocketConnections.Sub(float64(len(allClients)))

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting %s", h.opts.MaxConns, c.ref)
		c.Close()
		return
	}
	key := c.ref.Key()
	if _, ok := h.clients[key]; !ok {
		h.clients[key] = make(map[*Client]struct{})
	}
	h.clients[key][c] = struct{}{}
	h.sessions[c.id] = c
	h.total++
	h.mu.Unlock()
	c.markReady()
	observability.WebSocketConnections.Inc()
	logger.Debugf("ws session %s opened for %s", c.id, c.ref)
}

// removeClient drops the session and releases every room it had joined.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.sessions[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, c.id)
	key := c.ref.Key()
	if clients, ok := h.clients[key]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.clients, key)
		}
	}
	for roomKey := range c.rooms {
		h.leaveLocked(c, roomKey)
	}
	h.total--
	h.mu.Unlock()
	observability.WebSocketConnections.Dec()

	// Network I/O outside the lock.
	c.Close()
}

// Join subscribes the session to a room. Joining twice is a no-op. It returns false for an
// unknown session.
func (h *Hub) Join(sessionID, roomKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.sessions[sessionID]
	if !ok || roomKey == "" {
		return false
	}
	members, ok := h.rooms[roomKey]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[roomKey] = members
	}
	members[c] = struct{}{}
	c.rooms[roomKey] = struct{}{}
	return true
}

// Leave unsubscribes the session. Leaving a room that was never joined is a no-op.
func (h *Hub) Leave(sessionID, roomKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	h.leaveLocked(c, roomKey)
	return true
}

func (h *Hub) leaveLocked(c *Client, roomKey string) {
	delete(c.rooms, roomKey)
	if members, ok := h.rooms[roomKey]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// EmitToRoom delivers ev to every session joined to the room.
func (h *Hub) EmitToRoom(roomKey string, ev event.Envelope) {
	h.mu.RLock()
	members := h.rooms[roomKey]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// EmitToUser delivers ev on the participant's private channel, i.e. to every live session of
// the participant, and returns how many sessions accepted it.
func (h *Hub) EmitToUser(ref model.ParticipantRef, ev event.Envelope) int {
	h.mu.RLock()
	clients := h.clients[ref.Key()]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	reached := 0
	for _, c := range targets {
		if h.sendToClient(c, ev) {
			reached++
		}
	}
	return reached
}

// Online returns the number of live sessions of the participant.
func (h *Hub) Online(ref model.ParticipantRef) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ref.Key()])
}

// Accepting reports whether a new session would be admitted right now: the hub is running
// and below MaxConns. addClient re-checks under the same lock, so this is an early answer.
func (h *Hub) Accepting() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total < h.opts.MaxConns
}

// RoomSize returns the number of sessions joined to the room.
func (h *Hub) RoomSize(roomKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey])
}

func (h *Hub) sendToClient(c *Client, ev event.Envelope) bool {
	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow session %s of %s", c.id, c.ref)
		observability.WebSocketDropped.Inc()
		c.Close()
		return false
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
