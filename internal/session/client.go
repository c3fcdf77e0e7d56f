// Package session is the client side of the realtime protocol. It owns one
// transport connection and layers request/response joins on top of the
// fire-and-forget event stream.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

const (
	DefaultJoinTimeout    = 5 * time.Second
	DefaultReconnectDelay = 2 * time.Second
)

// Local lifecycle events. They never appear on the wire.
const (
	EventConnect    protocol.Event = "connect"
	EventDisconnect protocol.Event = "disconnect"
)

var (
	ErrInvalidRoom    = errors.New("room id is required")
	ErrJoinTimeout    = errors.New("join room timeout")
	ErrConnectionLost = errors.New("connection lost")
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("client closed")
)

// JoinRejectedError carries the server's reason for refusing a join.
type JoinRejectedError struct {
	Message string
	Code    string
}

func (e *JoinRejectedError) Error() string {
	if e.Message == "" {
		return "failed to join room"
	}
	return "join rejected: " + e.Message
}

type Options struct {
	URL            string
	Dialer         Dialer
	DisplayName    string
	JoinTimeout    time.Duration
	Reconnect      bool
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client is a single collaborator's connection.
type Client struct {
	opts   Options
	events *Emitter
	roster *Roster
	log    *slog.Logger

	mu          sync.Mutex
	transport   Transport
	gen         uint64
	currentRoom string
	userCount   int
	closed      bool
	teardown    []func()
	reconnectCh chan struct{}
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		events: NewEmitter(),
		roster: NewRoster(),
		log:    opts.Logger.With("component", "session"),
	}
}

// Connect dials the server. Calling it on a live client replaces the
// current connection; listeners from the old one are removed first.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		old.Close()
		c.events.Emit(EventDisconnect, nil)
	}

	t, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Close()
		return ErrClosed
	}
	c.gen++
	gen := c.gen
	c.transport = t
	c.teardown = c.subscribe()
	c.mu.Unlock()

	go c.readLoop(gen, t)

	c.log.Debug("connected", "url", c.opts.URL)
	c.events.Emit(EventConnect, nil)
	return nil
}

// detachLocked drops the current transport and its internal listeners and
// resets room state. Shapes are owned by the canvas and are untouched.
func (c *Client) detachLocked() Transport {
	t := c.transport
	c.transport = nil
	c.gen++
	for _, off := range c.teardown {
		off()
	}
	c.teardown = nil
	c.currentRoom = ""
	c.userCount = 0
	c.roster.Clear()
	return t
}

// subscribe registers the per-connection bookkeeping listeners.
func (c *Client) subscribe() []func() {
	return []func(){
		c.events.On(protocol.EventExistingUsers, func(data json.RawMessage) {
			var users []protocol.User
			if json.Unmarshal(data, &users) == nil {
				c.roster.Reset(users)
			}
		}),
		c.events.On(protocol.EventUserJoined, func(data json.RawMessage) {
			var u protocol.User
			if json.Unmarshal(data, &u) == nil && u.UserID != "" {
				c.roster.Add(u)
			}
		}),
		c.events.On(protocol.EventUserLeft, func(data json.RawMessage) {
			var u protocol.UserLeft
			if json.Unmarshal(data, &u) == nil {
				c.roster.Remove(u.UserID)
			}
		}),
		c.events.On(protocol.EventCursorMove, func(data json.RawMessage) {
			var cur protocol.CursorMove
			if json.Unmarshal(data, &cur) == nil && cur.UserID != "" {
				c.roster.MoveCursor(cur.UserID, shape.Pt(cur.X, cur.Y))
			}
		}),
		c.events.On(protocol.EventUserCount, func(data json.RawMessage) {
			var n int
			if json.Unmarshal(data, &n) == nil {
				c.mu.Lock()
				c.userCount = n
				c.mu.Unlock()
			}
		}),
	}
}

func (c *Client) readLoop(gen uint64, t Transport) {
	for {
		raw, err := t.Receive()
		if err != nil {
			c.connectionLost(gen, err)
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn("dropping inbound frame", "err", err)
			continue
		}
		if !c.isCurrent(gen) {
			return
		}
		c.events.Emit(env.Event, env.Data)
	}
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Client) connectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	t := c.detachLocked()
	reconnect := c.opts.Reconnect && !c.closed
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
	c.log.Warn("connection lost", "err", cause)
	c.events.Emit(EventDisconnect, nil)

	if reconnect {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnectCh != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.reconnectCh = stop
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.reconnectCh == stop {
			c.reconnectCh = nil
		}
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.opts.ReconnectDelay)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReconnectDelay*5)
		err := c.Connect(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		c.log.Debug("reconnect failed", "err", err)
	}
}

// Close ends the connection and stops reconnecting. Pending joins fail with
// ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	t := c.detachLocked()
	if c.reconnectCh != nil {
		close(c.reconnectCh)
		c.reconnectCh = nil
	}
	c.mu.Unlock()

	var err error
	if t != nil {
		err = t.Close()
		c.events.Emit(EventDisconnect, nil)
	}
	return err
}

// JoinRoom asks to join roomID and waits for the server's answer. It fails
// with *JoinRejectedError, ErrJoinTimeout after the join timeout, or
// ErrConnectionLost. Every temporary listener is removed before it returns.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return ErrInvalidRoom
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()

	result := make(chan error, 1)
	settle := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	offs := []func(){
		c.events.Once(protocol.EventJoinRoomSuccess, func(data json.RawMessage) {
			var ok protocol.JoinRoomSuccess
			if err := json.Unmarshal(data, &ok); err != nil {
				settle(fmt.Errorf("%w: %v", protocol.ErrMalformedEvent, err))
				return
			}
			c.mu.Lock()
			c.currentRoom = roomID
			c.userCount = ok.UserCount
			c.mu.Unlock()
			settle(nil)
		}),
		c.events.Once(protocol.EventJoinRoomError, func(data json.RawMessage) {
			var e protocol.ErrorPayload
			_ = json.Unmarshal(data, &e)
			settle(&JoinRejectedError{Message: e.Message, Code: e.Code})
		}),
		c.events.Once(EventDisconnect, func(json.RawMessage) {
			settle(ErrConnectionLost)
		}),
	}
	defer func() {
		for _, off := range offs {
			off()
		}
	}()

	c.roster.Clear()
	if err := c.send(protocol.EventJoinRoom, protocol.JoinRoom{
		RoomID:      roomID,
		DisplayName: c.opts.DisplayName,
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The server may still have added us.
			_ = c.send(protocol.EventLeaveRoom, roomID)
			return ErrJoinTimeout
		}
		return ctx.Err()
	}
}

// LeaveRoom leaves the current room. It is a no-op when not joined.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	roomID := c.currentRoom
	c.currentRoom = ""
	c.userCount = 0
	c.mu.Unlock()

	if roomID == "" {
		return nil
	}
	c.roster.Clear()
	return c.send(protocol.EventLeaveRoom, roomID)
}

// SendDraw stamps d with the current room and sends it. It does nothing
// when not joined.
func (c *Client) SendDraw(d protocol.Draw) error {
	roomID := c.CurrentRoom()
	if roomID == "" {
		return nil
	}
	d.RoomID = roomID
	return c.send(protocol.EventDraw, d)
}

// SendClear does nothing when not joined.
func (c *Client) SendClear() error {
	roomID := c.CurrentRoom()
	if roomID == "" {
		return nil
	}
	return c.send(protocol.EventClearCanvas, roomID)
}

// SendCursor is sent even outside a room; the server drops it there.
func (c *Client) SendCursor(p shape.Point) error {
	return c.send(protocol.EventCursorMove, protocol.CursorMove{
		RoomID: c.CurrentRoom(),
		X:      p.X,
		Y:      p.Y,
	})
}

func (c *Client) send(event protocol.Event, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(data)
}

// On subscribes to an inbound event. Subscriptions survive reconnects.
func (c *Client) On(event protocol.Event, fn Handler) func() {
	return c.events.On(event, fn)
}

// ListenerCount reports registered listeners, for leak checks.
func (c *Client) ListenerCount(events ...protocol.Event) int {
	return c.events.ListenerCount(events...)
}

func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

func (c *Client) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userCount
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

func (c *Client) Roster() *Roster {
	return c.roster
}
