package compaction

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/db"
)

func setup(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "c.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func fill(t *testing.T, database *db.Database, roomID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, database.AppendActivity(roomID, db.KindDraw, 1, time.Now()))
	}
}

func TestCompactAllRespectsThreshold(t *testing.T) {
	database := setup(t)
	fill(t, database, "busy", 30)
	fill(t, database, "quiet", 5)

	s := New(database, Config{Interval: time.Hour, Threshold: 20, KeepRecent: 4}, nil)
	assert.Equal(t, 1, s.CompactAll())

	n, err := database.GetActivityCount("busy")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = database.GetActivityCount("quiet")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	room, err := database.GetRoom("busy")
	require.NoError(t, err)
	assert.Equal(t, 30, room.Draws)
}

func TestCompactNowIgnoresThreshold(t *testing.T) {
	database := setup(t)
	fill(t, database, "r", 6)

	s := New(database, Config{Threshold: 1000, KeepRecent: 2}, nil)
	folded, err := s.CompactNow("r")
	require.NoError(t, err)
	assert.Equal(t, 4, folded)
}

func TestStartRunsImmediately(t *testing.T) {
	database := setup(t)
	fill(t, database, "r", 10)

	s := New(database, Config{Interval: time.Hour, Threshold: 5, KeepRecent: 1}, nil)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		n, err := database.GetActivityCount("r")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}
