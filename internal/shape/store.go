package shape

import "sync"

// Store is an ordered collection of shapes keyed by id. Insertion order is
// paint order. Upserting an id that is already present replaces the record
// in place, so applying the same event twice never duplicates geometry.
type Store struct {
	mu       sync.RWMutex
	order    []string
	byID     map[string]Shape
	version  uint64
	onChange []func()
}

func NewStore() *Store {
	return &Store{
		byID: make(map[string]Shape),
	}
}

// OnChange registers a callback run after every mutation, outside the lock.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Upsert inserts sh or replaces the shape with the same id. It reports
// whether the id was new.
func (s *Store) Upsert(sh Shape) bool {
	if sh.ID == "" {
		return false
	}
	s.mu.Lock()
	_, exists := s.byID[sh.ID]
	if !exists {
		s.order = append(s.order, sh.ID)
	}
	s.byID[sh.ID] = sh.Clone()
	s.version++
	s.mu.Unlock()

	s.notify()
	return !exists
}

// Remove deletes the shape with the given id.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
	s.mu.Unlock()

	s.notify()
	return true
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.order = nil
	s.byID = make(map[string]Shape)
	s.version++
	s.mu.Unlock()

	s.notify()
}

func (s *Store) Get(id string) (Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.byID[id]
	if !ok {
		return Shape{}, false
	}
	return sh.Clone(), true
}

// List returns a copy of every shape in paint order.
func (s *Store) List() []Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Shape, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// TopmostAt returns the last painted shape hit by p.
func (s *Store) TopmostAt(p Point) (Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		sh := s.byID[s.order[i]]
		if sh.Hit(p) {
			return sh.Clone(), true
		}
	}
	return Shape{}, false
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := make([]func(), len(s.onChange))
	copy(fns, s.onChange)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
