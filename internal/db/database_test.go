package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppendCreatesRoom(t *testing.T) {
	db := setupTestDB(t)
	t0 := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, db.AppendActivity("r1", KindJoin, 1, t0))
	require.NoError(t, db.AppendActivity("r1", KindJoin, 3, t0.Add(time.Second)))
	require.NoError(t, db.AppendActivity("r1", KindDraw, 2, t0.Add(2*time.Second)))

	room, err := db.GetRoom("r1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, t0.UTC(), room.CreatedAt)
	assert.Equal(t, t0.Add(2*time.Second).UTC(), room.LastActive)
	assert.Equal(t, 3, room.PeakMembers)
	assert.Equal(t, 2, room.Joins)
	assert.Equal(t, 1, room.Draws)
	assert.Zero(t, room.Clears)
}

func TestGetMissingRoom(t *testing.T) {
	db := setupTestDB(t)
	room, err := db.GetRoom("nope")
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestListRoomsByActivity(t *testing.T) {
	db := setupTestDB(t)
	t0 := time.Now()
	require.NoError(t, db.AppendActivity("old", KindJoin, 1, t0))
	require.NoError(t, db.AppendActivity("new", KindJoin, 1, t0.Add(time.Minute)))

	rooms, err := db.ListRooms(10, 0)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "new", rooms[0].ID)
	assert.Equal(t, "old", rooms[1].ID)

	rooms, err = db.ListRooms(1, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "old", rooms[0].ID)
}

func TestListActivityNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	for _, k := range []string{KindJoin, KindDraw, KindClear} {
		require.NoError(t, db.AppendActivity("r", k, 1, now))
	}
	acts, err := db.ListActivity("r", 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, KindClear, acts[0].Kind)
	assert.Equal(t, KindDraw, acts[1].Kind)
}

func TestCompactKeepsTotals(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	require.NoError(t, db.AppendActivity("r", KindJoin, 1, now))
	for i := 0; i < 20; i++ {
		require.NoError(t, db.AppendActivity("r", KindDraw, 1, now))
	}
	require.NoError(t, db.AppendActivity("r", KindClear, 1, now))
	require.NoError(t, db.AppendActivity("r", KindLeave, 0, now))

	before, err := db.GetRoom("r")
	require.NoError(t, err)

	folded, err := db.CompactActivity("r", 5)
	require.NoError(t, err)
	assert.Equal(t, 18, folded)

	count, err := db.GetActivityCount("r")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	after, err := db.GetRoom("r")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Nothing left to fold.
	folded, err = db.CompactActivity("r", 5)
	require.NoError(t, err)
	assert.Zero(t, folded)
}

func TestDeleteRoom(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.AppendActivity("r", KindJoin, 1, time.Now()))
	require.NoError(t, db.DeleteRoom("r"))

	room, err := db.GetRoom("r")
	require.NoError(t, err)
	assert.Nil(t, room)
	count, err := db.GetActivityCount("r")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.AppendActivity("a", KindJoin, 1, time.Now()))
	require.NoError(t, db.AppendActivity("b", KindJoin, 1, time.Now()))
	require.NoError(t, db.AppendActivity("b", KindDraw, 1, time.Now()))

	s, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, Stats{RoomCount: 2, ActivityCount: 3}, s)
}

func TestRecorderWritesAsync(t *testing.T) {
	db := setupTestDB(t)
	r := NewRecorder(db, 0, nil)
	for i := 0; i < 10; i++ {
		r.RecordActivity("r", KindDraw, 2)
	}
	r.Close()
	r.Close()
	r.RecordActivity("r", KindDraw, 2)

	assert.Equal(t, int64(10), r.Written())
	count, err := db.GetActivityCount("r")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}
