// Package archive persists observed movement records to a local SQLite
// database so the panel keeps history across restarts even when the tracker
// forgets its own.
package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/timefmt"
	"rfid-door-panel/internal/types"
)

// Archive wraps the local SQLite movement history
type Archive struct {
	conn   *sql.DB
	logger *logrus.Entry
}

// Open creates or opens the archive database at path and runs migrations
func Open(path string, logger *logrus.Logger) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Archive{
		conn:   conn,
		logger: logger.WithField("component", "archive"),
	}
	if err := a.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return a, nil
}

// Close closes the underlying database
func (a *Archive) Close() error {
	return a.conn.Close()
}

const createMovementsTable = `
CREATE TABLE IF NOT EXISTS movements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rfid_tag TEXT NOT NULL,
    direction TEXT NOT NULL,
    read_date TEXT NOT NULL,
    read_at DATETIME,
    asset_name TEXT,
    category TEXT,
    reader_mac TEXT,
    room_name TEXT,
    building_name TEXT,
    archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const createMovementsIndexes = `
CREATE INDEX IF NOT EXISTS idx_movements_tag ON movements(rfid_tag);
CREATE INDEX IF NOT EXISTS idx_movements_read_at ON movements(read_at);`

func (a *Archive) migrate() error {
	migrations := []string{
		createMovementsTable,
		createMovementsIndexes,
	}
	for i, migration := range migrations {
		if _, err := a.conn.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Insert stores one movement record. The raw read_date is kept verbatim
// alongside its parsed instant so unparseable timestamps survive untouched.
func (a *Archive) Insert(record types.MovementRecord) error {
	var readAt sql.NullTime
	if t := timefmt.Parse(record.ReadDate); !t.IsZero() {
		readAt = sql.NullTime{Time: t, Valid: true}
	}

	query := `
		INSERT INTO movements (rfid_tag, direction, read_date, read_at, asset_name, category, reader_mac, room_name, building_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := a.conn.Exec(query,
		record.RFIDTag,
		record.Direction,
		record.ReadDate,
		readAt,
		record.AssetName,
		record.Category,
		record.ReaderMAC,
		record.Room,
		record.Building,
	)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

// Recent returns the most recently read movements, newest first
func (a *Archive) Recent(limit int) ([]types.MovementRecord, error) {
	query := `
		SELECT id, rfid_tag, direction, read_date, asset_name, category, reader_mac, room_name, building_name
		FROM movements
		ORDER BY read_at DESC, id DESC
		LIMIT ?
	`
	rows, err := a.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var records []types.MovementRecord
	for rows.Next() {
		var rec types.MovementRecord
		var id int64
		var assetName, category, readerMAC, room, building sql.NullString
		if err := rows.Scan(&id, &rec.RFIDTag, &rec.Direction, &rec.ReadDate,
			&assetName, &category, &readerMAC, &room, &building); err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		rec.ID = fmt.Sprintf("%d", id)
		rec.AssetName = assetName.String
		rec.Category = category.String
		rec.ReaderMAC = readerMAC.String
		rec.Room = room.String
		rec.Building = building.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountSince reports how many movements were read at or after the cutoff
func (a *Archive) CountSince(cutoff time.Time) (int, error) {
	var count int
	err := a.conn.QueryRow(`SELECT COUNT(*) FROM movements WHERE read_at >= ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count movements: %w", err)
	}
	return count, nil
}

// Clear drops the archived history
func (a *Archive) Clear() error {
	if _, err := a.conn.Exec(`DELETE FROM movements`); err != nil {
		return fmt.Errorf("failed to clear movements: %w", err)
	}
	a.logger.Info("Archive cleared")
	return nil
}
