// Package compaction periodically folds old room activity rows into the
// per-room counters so the ledger stays small.
package compaction

import (
	"log/slog"
	"sync"
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/db"
)

type Config struct {
	Interval   time.Duration
	Threshold  int
	KeepRecent int
}

func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Minute,
		Threshold:  1000,
		KeepRecent: 100,
	}
}

// Store is the part of the ledger compaction needs.
type Store interface {
	ListRooms(limit, offset int) ([]db.Room, error)
	GetActivityCount(roomID string) (int, error)
	CompactActivity(roomID string, keep int) (int, error)
}

type Service struct {
	store    Store
	config   Config
	log      *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Store, config Config, logger *slog.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		config: config,
		log:    logger.With("component", "compaction"),
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("compaction started", "interval", s.config.Interval, "threshold", s.config.Threshold)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.log.Info("compaction stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.CompactAll()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.CompactAll()
		}
	}
}

// CompactAll compacts every room over the threshold and returns how many
// rooms were compacted.
func (s *Service) CompactAll() int {
	const page = 500
	compacted := 0
	for offset := 0; ; offset += page {
		rooms, err := s.store.ListRooms(page, offset)
		if err != nil {
			s.log.Error("list rooms", "err", err)
			return compacted
		}
		for _, room := range rooms {
			if !s.shouldCompact(room.ID) {
				continue
			}
			if _, err := s.CompactNow(room.ID); err != nil {
				s.log.Error("compact room", "room", room.ID, "err", err)
				continue
			}
			compacted++
		}
		if len(rooms) < page {
			break
		}
	}
	if compacted > 0 {
		s.log.Info("compacted rooms", "count", compacted)
	}
	return compacted
}

func (s *Service) shouldCompact(roomID string) bool {
	count, err := s.store.GetActivityCount(roomID)
	if err != nil {
		return false
	}
	return count >= s.config.Threshold
}

// CompactNow compacts one room regardless of the threshold.
func (s *Service) CompactNow(roomID string) (int, error) {
	folded, err := s.store.CompactActivity(roomID, s.config.KeepRecent)
	if err != nil {
		return 0, err
	}
	if folded > 0 {
		s.log.Debug("compacted room", "room", roomID, "folded", folded, "kept", s.config.KeepRecent)
	}
	return folded, nil
}
