// Package room keeps the authoritative membership and bounded path history
// of every live room.
package room

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

const (
	DefaultHistoryCap   = 1000
	DefaultSnapshotSize = 100
)

var (
	ErrInvalidRoom = errors.New("invalid room id")
	ErrClosed      = errors.New("registry closed")
)

// Registry maps room ids to rooms. A room exists from its first join until
// its last member leaves.
//
// The hub goroutine is the only writer; the lock lets HTTP handlers read
// summaries concurrently.
type Registry struct {
	mu           sync.RWMutex
	rooms        map[string]*Room
	historyCap   int
	snapshotSize int
	closed       bool
}

func NewRegistry(historyCap, snapshotSize int) *Registry {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if snapshotSize <= 0 {
		snapshotSize = DefaultSnapshotSize
	}
	if snapshotSize > historyCap {
		snapshotSize = historyCap
	}
	return &Registry{
		rooms:        make(map[string]*Room),
		historyCap:   historyCap,
		snapshotSize: snapshotSize,
	}
}

// JoinResult is what a new member needs to catch up.
type JoinResult struct {
	// Most recent history entries, oldest first, at most the snapshot size.
	Snapshot    []shape.Path
	Others      []Member
	MemberCount int
	Created     bool
	// Rejoined is set when the connection was already a member.
	Rejoined bool
}

// Join adds connID to roomID, creating the room if needed.
func (r *Registry) Join(connID, roomID, name string) (JoinResult, error) {
	if strings.TrimSpace(roomID) == "" {
		return JoinResult{}, ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, ErrClosed
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = NewRoom(roomID, r.historyCap)
		r.rooms[roomID] = rm
	}
	added := rm.add(Member{ID: connID, Name: name})

	return JoinResult{
		Snapshot:    rm.history.Last(r.snapshotSize),
		Others:      rm.membersExcept(connID),
		MemberCount: rm.size(),
		Created:     !ok,
		Rejoined:    !added,
	}, nil
}

// LeaveResult describes the effect of a Leave call.
type LeaveResult struct {
	Removed   bool
	Member    Member
	Remaining int
	Closed    bool
}

// Leave removes connID from roomID and deletes the room once it is empty.
// Leaving a room you are not in is a no-op.
func (r *Registry) Leave(connID, roomID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	m, removed := rm.remove(connID)
	if !removed {
		return LeaveResult{Remaining: rm.size()}
	}
	res := LeaveResult{Removed: true, Member: m, Remaining: rm.size()}
	if res.Remaining == 0 {
		delete(r.rooms, roomID)
		res.Closed = true
	}
	return res
}

// RecordEvent appends p to the room's history. It reports false when the
// room no longer exists.
func (r *Registry) RecordEvent(roomID string, p shape.Path) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.record(p)
	return true
}

// Forget removes every history entry for shapeID.
func (r *Registry) Forget(roomID, shapeID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	rm.touch()
	return rm.history.Remove(shapeID)
}

func (r *Registry) ClearHistory(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.history.Reset()
	rm.touch()
	return true
}

func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm.size()
	}
	return 0
}

// IsMember reports whether connID currently belongs to roomID.
func (r *Registry) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	return ok && rm.has(connID)
}

// Members returns the room's members in join order.
func (r *Registry) Members(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm.membersExcept("")
	}
	return nil
}

// History returns up to n recent entries. n <= 0 returns all of them.
func (r *Registry) History(roomID string, n int) []shape.Path {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm.history.Last(n)
	}
	return nil
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Summary is a read-only view of one room.
type Summary struct {
	ID         string    `json:"id"`
	Members    int       `json:"members"`
	History    int       `json:"history"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Rooms lists every live room sorted by id.
func (r *Registry) Rooms() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, summarize(rm))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Room(roomID string) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Summary{}, false
	}
	return summarize(rm), true
}

func summarize(rm *Room) Summary {
	return Summary{
		ID:         rm.ID,
		Members:    rm.size(),
		History:    rm.history.Len(),
		CreatedAt:  rm.CreatedAt,
		LastActive: rm.LastActive,
	}
}

// Close drops every room. Later joins fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.rooms = make(map[string]*Room)
}

func (r *Registry) HistoryCap() int   { return r.historyCap }
func (r *Registry) SnapshotSize() int { return r.snapshotSize }
