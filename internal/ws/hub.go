// Package ws is the server side of the realtime protocol: a single hub
// goroutine owns every room mutation and fans frames out to connections.
package ws

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/room"
)

// Activity kinds handed to an ActivityRecorder.
const (
	ActivityJoin  = "join"
	ActivityLeave = "leave"
	ActivityDraw  = "draw"
	ActivityClear = "clear"
)

// ActivityRecorder receives room activity. Implementations must not block.
type ActivityRecorder interface {
	RecordActivity(roomID, kind string, members int)
}

// Limits bound what a single connection may do.
type Limits struct {
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	SendBuffer        int
}

func DefaultLimits() Limits {
	return Limits{
		MessagesPerSecond: 100,
		Burst:             200,
		MaxMessageSize:    1024 * 1024,
		SendBuffer:        512,
	}
}

type Option func(*Hub)

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l.With("component", "hub") }
}

func WithRecorder(r ActivityRecorder) Option {
	return func(h *Hub) { h.recorder = r }
}

func WithLimits(l Limits) Option {
	return func(h *Hub) { h.limits = l }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// An empty list or "*" allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) { h.origins = origins }
}

// The set of active connections and the rooms they are in
type Hub struct {
	registry *room.Registry

	// Connections by id
	clients map[string]*Client

	// Connections by room, mirrored from the registry for fan-out
	rooms map[string]map[string]*Client

	// Inbound frames from clients
	inbound chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}

	recorder ActivityRecorder
	limits   Limits
	origins  []string
	log      *slog.Logger

	stats hubCounters
}

// Message is one inbound frame.
type Message struct {
	Sender *Client
	Data   []byte
}

type hubCounters struct {
	clients  atomic.Int64
	received atomic.Uint64
	relayed  atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// Stats is a point-in-time view of hub activity.
type Stats struct {
	Clients  int64  `json:"clients"`
	Rooms    int    `json:"rooms"`
	Received uint64 `json:"messagesReceived"`
	Relayed  uint64 `json:"messagesRelayed"`
	Dropped  uint64 `json:"clientsDropped"`
	Rejected uint64 `json:"messagesRejected"`
}

func NewHub(registry *room.Registry, opts ...Option) *Hub {
	h := &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		inbound:    make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		limits:     DefaultLimits(),
		log:        slog.Default().With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.limits.SendBuffer <= 0 {
		h.limits.SendBuffer = DefaultLimits().SendBuffer
	}
	return h
}

// Run services every hub event until ctx is cancelled. All registry
// mutations happen on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.stats.clients.Add(1)
			h.log.Debug("client connected", "client", c.id, "total", len(h.clients))

		case c := <-h.unregister:
			h.disconnect(c)

		case m := <-h.inbound:
			h.handle(m)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Stats() Stats {
	return Stats{
		Clients:  h.stats.clients.Load(),
		Rooms:    h.registry.RoomCount(),
		Received: h.stats.received.Load(),
		Relayed:  h.stats.relayed.Load(),
		Dropped:  h.stats.dropped.Load(),
		Rejected: h.stats.rejected.Load(),
	}
}

func (h *Hub) Registry() *room.Registry {
	return h.registry
}

func (h *Hub) enqueueRegister(c *Client) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) enqueueUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(m *Message) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.inbound <- m:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// disconnect leaves the client's room and closes its send queue. It is safe
// to call more than once.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	h.stats.clients.Add(-1)
	h.leave(c)
	c.closeSend()
	h.log.Debug("client disconnected", "client", c.id, "total", len(h.clients))
}

func (h *Hub) shutdown() {
	for _, c := range h.clients {
		if c.roomID != "" {
			h.registry.Leave(c.id, c.roomID)
		}
		c.closeSend()
	}
	h.stats.clients.Store(0)
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]*Client)
	h.log.Info("hub stopped")
}

// broadcast fans data out to every client in roomID except skip. Clients
// whose queue is full are dropped once fan-out finishes.
func (h *Hub) broadcast(roomID string, data []byte, skip *Client) {
	var slow []*Client
	for _, c := range h.rooms[roomID] {
		if c == skip {
			continue
		}
		if c.trySend(data) {
			h.stats.relayed.Add(1)
		} else {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.log.Warn("dropping slow client", "client", c.id, "room", roomID)
		h.stats.dropped.Add(1)
		h.disconnect(c)
	}
}

// reply queues data for c alone. A full queue drops the client; once dropped,
// further replies are discarded and reply reports false.
func (h *Hub) reply(c *Client, data []byte) bool {
	if c.closed.Load() {
		return false
	}
	if c.trySend(data) {
		return true
	}
	h.log.Warn("dropping slow client", "client", c.id)
	h.stats.dropped.Add(1)
	h.disconnect(c)
	return false
}

func (h *Hub) record(roomID, kind string, members int) {
	if h.recorder != nil {
		h.recorder.RecordActivity(roomID, kind, members)
	}
}
