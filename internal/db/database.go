package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// Point is a single 2D coordinate of a stroke. On the wire it is the
// compact array form [x, y]; clients that send {"x":..,"y":..} objects
// are accepted too.
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var arr [2]float64
	if err := json.Unmarshal(data, &arr); err == nil {
		p.X, p.Y = arr[0], arr[1]
		return nil
	}
	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("point must be [x,y] or {x,y}: %w", err)
	}
	p.X, p.Y = obj.X, obj.Y
	return nil
}

type Stroke struct {
	ID        int64   `json:"id"`
	RoomID    string  `json:"roomId"`
	UserID    string  `json:"userId"`
	SessionID string  `json:"sessionId,omitempty"`
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	Width     float64 `json:"width"`
	CreatedAt int64   `json:"createdAt"`
}

type Room struct {
	ID           string `json:"roomId"`
	Name         string `json:"name"`
	CreatedAt    int64  `json:"createdAt"`
	LastActivity int64  `json:"lastActivity"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	// One writer at a time; avoids SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", dbPath).Msg("database initialized")
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS strokes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT,
		points TEXT NOT NULL,
		color TEXT NOT NULL,
		width REAL NOT NULL,
		created_at INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_strokes_room ON strokes(room_id);
	CREATE INDEX IF NOT EXISTS idx_strokes_created ON strokes(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Stroke operations

// SaveStroke appends one stroke and returns the store-assigned row id.
func (d *Database) SaveStroke(s *Stroke) (int64, error) {
	points, err := json.Marshal(s.Points)
	if err != nil {
		return 0, err
	}

	sessionID := sql.NullString{String: s.SessionID, Valid: s.SessionID != ""}

	result, err := d.db.Exec(`
		INSERT INTO strokes (room_id, user_id, session_id, points, color, width, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.RoomID, s.UserID, sessionID, string(points), s.Color, s.Width, s.CreatedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// StrokesForRoom returns all strokes for a room in ascending created_at
// order. A row whose points payload no longer parses is skipped and
// logged rather than failing the whole query.
func (d *Database) StrokesForRoom(roomID string) ([]Stroke, error) {
	rows, err := d.db.Query(`
		SELECT id, room_id, user_id, session_id, points, color, width, created_at
		FROM strokes
		WHERE room_id = ?
		ORDER BY created_at ASC, id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strokes := make([]Stroke, 0)
	for rows.Next() {
		var s Stroke
		var sessionID sql.NullString
		var points string
		if err := rows.Scan(&s.ID, &s.RoomID, &s.UserID, &sessionID, &points, &s.Color, &s.Width, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(points), &s.Points); err != nil {
			log.Warn().Int64("stroke", s.ID).Str("room", roomID).Err(err).
				Msg("skipping stroke with corrupt points payload")
			continue
		}
		s.SessionID = sessionID.String
		strokes = append(strokes, s)
	}
	return strokes, rows.Err()
}

// DeleteStroke removes strokes matching (roomID, userID, createdAt) and
// returns how many rows were removed. The tuple is not unique by
// construction; all matches go.
func (d *Database) DeleteStroke(roomID, userID string, createdAt int64) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM strokes
		WHERE room_id = ? AND user_id = ? AND created_at = ?
	`, roomID, userID, createdAt)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ClearRoom removes every stroke in a room.
func (d *Database) ClearRoom(roomID string) (int64, error) {
	result, err := d.db.Exec("DELETE FROM strokes WHERE room_id = ?", roomID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Room operations

// EnsureRoom creates the room row if it does not exist yet.
func (d *Database) EnsureRoom(roomID, name string) error {
	now := time.Now().UnixMilli()
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (room_id, name, created_at, last_activity) VALUES (?, ?, ?, ?)",
		roomID, name, now, now,
	)
	return err
}

// TouchRoom inserts the room if absent, else bumps last_activity.
func (d *Database) TouchRoom(roomID string) error {
	now := time.Now().UnixMilli()
	_, err := d.db.Exec(`
		INSERT INTO rooms (room_id, created_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET last_activity = excluded.last_activity
	`, roomID, now, now)
	return err
}

func (d *Database) GetRoom(roomID string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT room_id, name, created_at, last_activity FROM rooms WHERE room_id = ?",
		roomID,
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns all rooms, most recently active first.
func (d *Database) ListRooms() ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT room_id, name, created_at, last_activity FROM rooms ORDER BY last_activity DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.LastActivity); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// LatestRoom returns the most recently active room, nil when none exist.
func (d *Database) LatestRoom() (*Room, error) {
	row := d.db.QueryRow(
		"SELECT room_id, name, created_at, last_activity FROM rooms ORDER BY last_activity DESC LIMIT 1",
	)

	var room Room
	err := row.Scan(&room.ID, &room.Name, &room.CreatedAt, &room.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// DeleteRoom removes the room row and all its strokes. It reports how
// many strokes went with it and whether the room row actually existed.
func (d *Database) DeleteRoom(roomID string) (strokesDeleted int64, roomDeleted bool, err error) {
	strokesDeleted, err = d.ClearRoom(roomID)
	if err != nil {
		return 0, false, err
	}

	result, err := d.db.Exec("DELETE FROM rooms WHERE room_id = ?", roomID)
	if err != nil {
		return strokesDeleted, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return strokesDeleted, false, err
	}
	return strokesDeleted, affected > 0, nil
}

// Stats

func (d *Database) Stats() (map[string]any, error) {
	stats := make(map[string]any)

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var strokeCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM strokes").Scan(&strokeCount); err != nil {
		return nil, err
	}
	stats["stroke_count"] = strokeCount

	return stats, nil
}
