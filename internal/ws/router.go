package ws

import (
	"errors"
	"fmt"
	"strings"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/room"
)

// handle routes one inbound frame. Handler panics become an error reply;
// the connection stays open.
func (h *Hub) handle(m *Message) {
	c := m.Sender
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.stats.received.Add(1)

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic", "client", c.id, "panic", r)
			h.replyError(c, protocol.CodeInternal, "internal error")
		}
	}()

	env, err := protocol.Decode(m.Data)
	if err != nil {
		h.reject(c, env.Event, err)
		return
	}

	switch env.Event {
	case protocol.EventJoinRoom:
		h.handleJoin(c, env)
	case protocol.EventDraw:
		h.handleDraw(c, env, m.Data)
	case protocol.EventClearCanvas:
		h.handleClear(c, env)
	case protocol.EventLeaveRoom:
		h.handleLeave(c, env)
	case protocol.EventCursorMove:
		h.handleCursor(c, env)
	default:
		h.stats.rejected.Add(1)
		h.replyError(c, protocol.CodeUnknownEvent, fmt.Sprintf("unknown event %q", env.Event))
	}
}

func (h *Hub) handleJoin(c *Client, env protocol.Envelope) {
	var req protocol.JoinRoom
	if err := env.Bind(&req); err != nil {
		h.reject(c, env.Event, err)
		return
	}
	if strings.TrimSpace(req.RoomID) == "" {
		h.stats.rejected.Add(1)
		h.joinError(c, room.ErrInvalidRoom.Error(), protocol.CodeInvalidRoom)
		return
	}

	if c.roomID != "" && c.roomID != req.RoomID {
		h.leave(c)
	}

	name := req.DisplayName
	if name == "" {
		name = c.defaultName()
	}

	res, err := h.registry.Join(c.id, req.RoomID, name)
	if err != nil {
		code := protocol.CodeInternal
		if errors.Is(err, room.ErrInvalidRoom) {
			code = protocol.CodeInvalidRoom
		}
		h.joinError(c, err.Error(), code)
		return
	}

	c.roomID = req.RoomID
	c.name = name
	members, ok := h.rooms[req.RoomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[req.RoomID] = members
	}
	members[c.id] = c

	if !res.Rejoined {
		h.record(req.RoomID, ActivityJoin, res.MemberCount)
	}
	h.log.Info("client joined room",
		"client", c.id, "room", req.RoomID, "members", res.MemberCount, "created", res.Created)

	others := make([]protocol.User, 0, len(res.Others))
	for _, m := range res.Others {
		others = append(others, protocol.User{UserID: m.ID, Username: m.Name})
	}

	if !h.reply(c, protocol.MustEncode(protocol.EventRoomState, res.Snapshot)) ||
		!h.reply(c, protocol.MustEncode(protocol.EventExistingUsers, others)) {
		return
	}
	if !res.Rejoined {
		h.broadcast(req.RoomID, protocol.MustEncode(protocol.EventUserJoined,
			protocol.User{UserID: c.id, Username: name}), c)
	}
	h.broadcast(req.RoomID, protocol.MustEncode(protocol.EventUserCount, res.MemberCount), nil)
	h.reply(c, protocol.MustEncode(protocol.EventJoinRoomSuccess,
		protocol.JoinRoomSuccess{RoomID: req.RoomID, UserCount: res.MemberCount}))
}

// handleDraw records committed shapes and relays the inbound frame to
// everyone else in the room. Geometry is never inspected.
func (h *Hub) handleDraw(c *Client, env protocol.Envelope, raw []byte) {
	var d protocol.Draw
	if err := env.Bind(&d); err != nil {
		h.reject(c, env.Event, err)
		return
	}
	if err := d.Check(); err != nil {
		h.reject(c, env.Event, err)
		return
	}
	roomID, ok := h.currentRoom(c, d.RoomID)
	if !ok {
		h.stats.rejected.Add(1)
		h.replyError(c, protocol.CodeInvalidRoom, "not a member of room")
		return
	}

	switch d.Kind {
	case protocol.KindPath:
		h.registry.RecordEvent(roomID, *d.Path)
		h.record(roomID, ActivityDraw, len(h.rooms[roomID]))
	case protocol.KindDelete:
		h.registry.Forget(roomID, d.ID)
	}

	h.broadcast(roomID, raw, c)
}

// handleClear resets history and tells every member, sender included.
func (h *Hub) handleClear(c *Client, env protocol.Envelope) {
	ref, err := env.RoomRef()
	if err != nil {
		h.reject(c, env.Event, err)
		return
	}
	roomID, ok := h.currentRoom(c, ref)
	if !ok {
		h.stats.rejected.Add(1)
		h.replyError(c, protocol.CodeInvalidRoom, "not a member of room")
		return
	}

	h.registry.ClearHistory(roomID)
	h.broadcast(roomID, protocol.MustEncode(protocol.EventCanvasCleared, nil), nil)
	h.record(roomID, ActivityClear, len(h.rooms[roomID]))
	h.log.Info("canvas cleared", "client", c.id, "room", roomID)
}

// handleLeave is a no-op when the client is not in the named room.
func (h *Hub) handleLeave(c *Client, env protocol.Envelope) {
	ref, err := env.RoomRef()
	if err != nil {
		h.reject(c, env.Event, err)
		return
	}
	if ref != "" && ref != c.roomID {
		return
	}
	h.leave(c)
}

// handleCursor relays the position with the sender's id attached. Cursors
// outside a room are ignored.
func (h *Hub) handleCursor(c *Client, env protocol.Envelope) {
	var cur protocol.CursorMove
	if err := env.Bind(&cur); err != nil {
		h.reject(c, env.Event, err)
		return
	}
	roomID, ok := h.currentRoom(c, cur.RoomID)
	if !ok {
		return
	}
	h.broadcast(roomID, protocol.MustEncode(protocol.EventCursorMove,
		protocol.CursorMove{UserID: c.id, X: cur.X, Y: cur.Y}), c)
}

// leave removes c from its current room and tells the remaining members.
func (h *Hub) leave(c *Client) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	c.roomID = ""
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}

	res := h.registry.Leave(c.id, roomID)
	if !res.Removed {
		return
	}
	if !res.Closed {
		h.broadcast(roomID, protocol.MustEncode(protocol.EventUserLeft, protocol.UserLeft{UserID: c.id}), nil)
		h.broadcast(roomID, protocol.MustEncode(protocol.EventUserCount, res.Remaining), nil)
	}
	h.record(roomID, ActivityLeave, res.Remaining)

	if res.Closed {
		h.log.Info("room closed (empty)", "room", roomID)
	} else {
		h.log.Info("client left room", "client", c.id, "room", roomID, "remaining", res.Remaining)
	}
}

// currentRoom resolves the room an event targets. An explicit id must match
// the room the client has joined.
func (h *Hub) currentRoom(c *Client, requested string) (string, bool) {
	if c.roomID == "" {
		return "", false
	}
	if requested != "" && requested != c.roomID {
		return "", false
	}
	return c.roomID, true
}

func (h *Hub) reject(c *Client, event protocol.Event, err error) {
	h.stats.rejected.Add(1)
	code := protocol.CodeMalformed
	switch {
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		code = protocol.CodeUnsupportedVersion
	case errors.Is(err, protocol.ErrInvalidRoomID):
		code = protocol.CodeInvalidRoom
	}
	h.log.Warn("rejected event", "client", c.id, "event", event, "err", err)
	if event == protocol.EventJoinRoom {
		h.joinError(c, err.Error(), code)
		return
	}
	h.replyError(c, code, err.Error())
}

func (h *Hub) replyError(c *Client, code, message string) {
	h.reply(c, protocol.MustEncode(protocol.EventError, protocol.ErrorPayload{Message: message, Code: code}))
}

func (h *Hub) joinError(c *Client, message, code string) {
	h.reply(c, protocol.MustEncode(protocol.EventJoinRoomError, protocol.ErrorPayload{Message: message, Code: code}))
}
