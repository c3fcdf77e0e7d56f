package session

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

var cursorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
	"#F8B739", "#52D3AA", "#E74C3C", "#3498DB",
}

// Peer is a remote room member as seen by this client.
type Peer struct {
	ID        string
	Name      string
	Color     string
	Cursor    shape.Point
	HasCursor bool
}

// Roster tracks remote members and their last cursor position. Cursors are
// never persisted.
type Roster struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewRoster() *Roster {
	return &Roster{peers: make(map[string]Peer)}
}

// ColorFor returns the stable palette color assigned to a user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}

func fallbackName(userID string) string {
	if len(userID) > 4 {
		userID = userID[:4]
	}
	return "User-" + userID
}

// Reset replaces the roster with an existing-users snapshot.
func (r *Roster) Reset(users []protocol.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]Peer, len(users))
	for _, u := range users {
		r.peers[u.UserID] = newPeer(u)
	}
}

func (r *Roster) Add(u protocol.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[u.UserID] = newPeer(u)
}

func (r *Roster) Remove(userID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[userID]
	delete(r.peers, userID)
	return p, ok
}

// MoveCursor records a cursor position, adding the peer if a cursor arrives
// before its user-joined.
func (r *Roster) MoveCursor(userID string, at shape.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[userID]
	if !ok {
		p = newPeer(protocol.User{UserID: userID})
	}
	p.Cursor = at
	p.HasCursor = true
	r.peers[userID] = p
}

func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[string]Peer)
}

func (r *Roster) Get(userID string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[userID]
	return p, ok
}

// Peers returns every peer sorted by id.
func (r *Roster) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func newPeer(u protocol.User) Peer {
	name := u.Username
	if name == "" {
		name = fallbackName(u.UserID)
	}
	return Peer{ID: u.UserID, Name: name, Color: ColorFor(u.UserID)}
}
