// Package db is the room activity ledger. It records who joined, drew and
// cleared, never the shapes themselves.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Activity kinds.
const (
	KindJoin  = "join"
	KindLeave = "leave"
	KindDraw  = "draw"
	KindClear = "clear"
)

type Database struct {
	db  *sql.DB
	log *slog.Logger
}

// Room is the ledger row for one room id. Counters include both compacted
// totals and activity rows not yet compacted.
type Room struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
	PeakMembers int       `json:"peak_members"`
	Joins       int       `json:"joins"`
	Leaves      int       `json:"leaves"`
	Draws       int       `json:"draws"`
	Clears      int       `json:"clears"`
}

type Activity struct {
	ID          int64     `json:"id"`
	RoomID      string    `json:"room_id"`
	Kind        string    `json:"kind"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Stats struct {
	RoomCount     int `json:"room_count"`
	ActivityCount int `json:"activity_count"`
}

func New(dbPath string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("database initialized", "path", dbPath)
	return &Database{db: db, log: logger}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL,
		peak_members INTEGER NOT NULL DEFAULT 0,
		joins INTEGER NOT NULL DEFAULT 0,
		leaves INTEGER NOT NULL DEFAULT 0,
		draws INTEGER NOT NULL DEFAULT 0,
		clears INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS room_activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		member_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_activity_room_id ON room_activity(room_id, id);
	`
	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Activity operations

// AppendActivity stores one activity row and bumps the room's last-active
// time and member peak. The room row is created on first sight.
func (d *Database) AppendActivity(roomID, kind string, members int, at time.Time) error {
	ms := at.UnixMilli()
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO rooms (id, created_at, last_active, peak_members)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_active = MAX(last_active, excluded.last_active),
			peak_members = MAX(peak_members, excluded.peak_members)
	`, roomID, ms, ms, members); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO room_activity (room_id, kind, member_count, created_at) VALUES (?, ?, ?, ?)",
		roomID, kind, members, ms,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ListActivity returns up to limit activity rows for a room, newest first.
func (d *Database) ListActivity(roomID string, limit int) ([]Activity, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, kind, member_count, created_at
		FROM room_activity
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var ms int64
		if err := rows.Scan(&a.ID, &a.RoomID, &a.Kind, &a.MemberCount, &ms); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(ms).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (d *Database) GetActivityCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM room_activity WHERE room_id = ?", roomID).Scan(&count)
	return count, err
}

// CompactActivity folds all but the newest keep activity rows of a room
// into the room's counters and deletes them. It returns the number of rows
// folded.
func (d *Database) CompactActivity(roomID string, keep int) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cutoff sql.NullInt64
	err = tx.QueryRow(`
		SELECT id FROM room_activity
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT 1 OFFSET ?
	`, roomID, keep).Scan(&cutoff)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var folded, joins, leaves, draws, clears int
	err = tx.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(kind = 'join'), 0),
			COALESCE(SUM(kind = 'leave'), 0),
			COALESCE(SUM(kind = 'draw'), 0),
			COALESCE(SUM(kind = 'clear'), 0)
		FROM room_activity
		WHERE room_id = ? AND id <= ?
	`, roomID, cutoff.Int64).Scan(&folded, &joins, &leaves, &draws, &clears)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`
		UPDATE rooms SET
			joins = joins + ?,
			leaves = leaves + ?,
			draws = draws + ?,
			clears = clears + ?
		WHERE id = ?
	`, joins, leaves, draws, clears, roomID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec("DELETE FROM room_activity WHERE room_id = ? AND id <= ?", roomID, cutoff.Int64); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return folded, nil
}

// Room operations

const roomSelect = `
	SELECT r.id, r.created_at, r.last_active, r.peak_members,
		r.joins + COALESCE(SUM(a.kind = 'join'), 0),
		r.leaves + COALESCE(SUM(a.kind = 'leave'), 0),
		r.draws + COALESCE(SUM(a.kind = 'draw'), 0),
		r.clears + COALESCE(SUM(a.kind = 'clear'), 0)
	FROM rooms r
	LEFT JOIN room_activity a ON a.room_id = r.id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(s scanner) (Room, error) {
	var r Room
	var created, active int64
	err := s.Scan(&r.ID, &created, &active, &r.PeakMembers, &r.Joins, &r.Leaves, &r.Draws, &r.Clears)
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.LastActive = time.UnixMilli(active).UTC()
	return r, err
}

// GetRoom returns nil when the room was never seen.
func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(roomSelect+" WHERE r.id = ? GROUP BY r.id", id)
	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns rooms, most recently active first.
func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		roomSelect+" GROUP BY r.id ORDER BY r.last_active DESC, r.id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) DeleteRoom(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM room_activity WHERE room_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM rooms WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// Stats

func (d *Database) GetStats() (Stats, error) {
	var s Stats
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&s.RoomCount); err != nil {
		return Stats{}, fmt.Errorf("count rooms: %w", err)
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_activity").Scan(&s.ActivityCount); err != nil {
		return Stats{}, fmt.Errorf("count activity: %w", err)
	}
	return s, nil
}
