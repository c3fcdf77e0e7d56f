package db

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultRecorderBuffer = 1024

type entry struct {
	roomID  string
	kind    string
	members int
	at      time.Time
}

// Recorder writes activity from its own goroutine so callers never wait on
// sqlite. When the buffer is full new activity is dropped and counted.
type Recorder struct {
	db      *Database
	log     *slog.Logger
	mu      sync.RWMutex
	closed  bool
	queue   chan entry
	done    chan struct{}
	dropped atomic.Int64
	written atomic.Int64
}

func NewRecorder(database *Database, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		db:    database,
		log:   logger.With("component", "recorder"),
		queue: make(chan entry, buffer),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) RecordActivity(roomID, kind string, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- entry{roomID: roomID, kind: kind, members: members, at: time.Now()}:
	default:
		if n := r.dropped.Add(1); n%100 == 1 {
			r.log.Warn("activity dropped", "room", roomID, "dropped", n)
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		if err := r.db.AppendActivity(e.roomID, e.kind, e.members, e.at); err != nil {
			r.log.Error("write activity", "room", e.roomID, "kind", e.kind, "err", err)
			continue
		}
		r.written.Add(1)
	}
}

// Close stops accepting activity and waits for queued rows to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) Dropped() int64 { return r.dropped.Load() }
func (r *Recorder) Written() int64 { return r.written.Load() }
