package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/weather-indicator/internal/cloud"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS param_updates (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device TEXT NOT NULL,
    param TEXT NOT NULL,
    value TEXT NOT NULL,
    source TEXT NOT NULL,
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_param_updates_device ON param_updates(device, id);
CREATE TABLE IF NOT EXISTS alerts (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    message TEXT NOT NULL,
    timestamp TEXT NOT NULL
);`

// SQLite persists device parameter updates and alerts using the pure Go
// modernc.org/sqlite driver. It implements cloud.Sink.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps the API readers from blocking the reporting loop's writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		slog.Warn("could not set WAL mode", "error", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveParam(ctx context.Context, u cloud.ParamUpdate) error {
	value, err := json.Marshal(u.Value)
	if err != nil {
		return fmt.Errorf("encoding %s.%s: %w", u.Device, u.Param, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO param_updates(device, param, value, source, timestamp) VALUES(?,?,?,?,?)`,
		u.Device, u.Param, string(value), u.Source, u.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLite) SaveAlert(ctx context.Context, a cloud.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts(id, message, timestamp) VALUES(?,?,?)`,
		a.ID, a.Message, a.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

// ListAlerts returns up to limit alerts, newest first. limit <= 0 means 500.
func (s *SQLite) ListAlerts(ctx context.Context, limit int) ([]cloud.Alert, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, timestamp FROM alerts ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]cloud.Alert, 0)
	for rows.Next() {
		var a cloud.Alert
		var ts string
		if err := rows.Scan(&a.ID, &a.Message, &ts); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.Timestamp = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListParamUpdates returns up to limit updates for device, newest first. An
// empty device lists every device.
func (s *SQLite) ListParamUpdates(ctx context.Context, device string, limit int) ([]cloud.ParamUpdate, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT device, param, value, source, timestamp FROM param_updates
         WHERE (? = '' OR device = ?) ORDER BY id DESC LIMIT ?`, device, device, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]cloud.ParamUpdate, 0)
	for rows.Next() {
		var (
			u         cloud.ParamUpdate
			value, ts string
		)
		if err := rows.Scan(&u.Device, &u.Param, &value, &u.Source, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(value), &u.Value); err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", u.Device, u.Param, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			u.Timestamp = t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
