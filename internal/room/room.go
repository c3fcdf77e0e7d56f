package room

import (
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

// Member is one connection in a room.
type Member struct {
	ID   string `json:"userId"`
	Name string `json:"username"`
}

// A collaborative drawing session
type Room struct {
	ID         string
	CreatedAt  time.Time
	LastActive time.Time

	members map[string]Member
	order   []string
	history *History
}

// Creates an empty room with the given ID
func NewRoom(id string, historyCap int) *Room {
	now := time.Now()
	return &Room{
		ID:         id,
		CreatedAt:  now,
		LastActive: now,
		members:    make(map[string]Member),
		history:    NewHistory(historyCap),
	}
}

func (r *Room) add(m Member) bool {
	_, exists := r.members[m.ID]
	r.members[m.ID] = m
	if !exists {
		r.order = append(r.order, m.ID)
	}
	r.touch()
	return !exists
}

func (r *Room) remove(id string) (Member, bool) {
	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	delete(r.members, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.touch()
	return m, true
}

// Members in join order, excluding skip.
func (r *Room) membersExcept(skip string) []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		if id == skip {
			continue
		}
		out = append(out, r.members[id])
	}
	return out
}

func (r *Room) has(id string) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) size() int {
	return len(r.members)
}

// Stores a committed path for late joiners
func (r *Room) record(p shape.Path) {
	r.history.Append(p)
	r.touch()
}

func (r *Room) touch() {
	r.LastActive = time.Now()
}
