// Package history records focus sessions in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/osa030/focuslamp/internal/domain/schedule"
)

// ErrNotFound is returned when a session has no history entry.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	ended_at   TEXT,
	reason     TEXT NOT NULL DEFAULT '',
	params     TEXT NOT NULL,
	phases     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`

// PhaseRecord is a phase as stored in history.
type PhaseRecord struct {
	Name              string  `json:"name"`
	DurationMS        int64   `json:"duration_ms"`
	ColorTemperatureK int     `json:"cct_k"`
	IlluminanceLux    float64 `json:"lux"`
}

// Entry is one recorded session.
type Entry struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
	Reason    string
	Params    schedule.Params
	Phases    []PhaseRecord
}

// Store is a sqlite-backed session history.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "failed to create history directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to run history migrations")
	}
	return &Store{path: path, db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordStart inserts a session that has just started.
func (s *Store) RecordStart(ctx context.Context, id string, params schedule.Params, phases []schedule.Phase, at time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to encode params")
	}
	records := make([]PhaseRecord, len(phases))
	for i, p := range phases {
		records[i] = PhaseRecord{
			Name:              p.Name,
			DurationMS:        p.Duration.Milliseconds(),
			ColorTemperatureK: p.ColorTemperatureK,
			IlluminanceLux:    p.IlluminanceLux,
		}
	}
	phasesJSON, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "failed to encode phases")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, params, phases) VALUES (?, ?, ?, ?)`,
		id, formatTime(at), string(paramsJSON), string(phasesJSON))
	if err != nil {
		return errors.Wrapf(err, "failed to record start of session %s", id)
	}
	return nil
}

// RecordEnd marks a session as ended with the given reason.
func (s *Store) RecordEnd(ctx context.Context, id, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, reason = ? WHERE id = ?`,
		formatTime(at), reason, id)
	if err != nil {
		return errors.Wrapf(err, "failed to record end of session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "session %s", id)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, reason, params, phases
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			startedAt  string
			endedAt    sql.NullString
			paramsJSON string
			phasesJSON string
		)
		if err := rows.Scan(&e.ID, &startedAt, &endedAt, &e.Reason, &paramsJSON, &phasesJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		if e.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t, err := parseTime(endedAt.String)
			if err != nil {
				return nil, err
			}
			e.EndedAt = &t
		}
		if err := json.Unmarshal([]byte(paramsJSON), &e.Params); err != nil {
			return nil, errors.Wrapf(err, "failed to decode params of session %s", e.ID)
		}
		if err := json.Unmarshal([]byte(phasesJSON), &e.Phases); err != nil {
			return nil, errors.Wrapf(err, "failed to decode phases of session %s", e.ID)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate history")
	}
	return entries, nil
}

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t, nil
}
