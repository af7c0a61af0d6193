// Package episodic implements the durable typed event log: an append-only
// SQLite store of episodes with indexed queries, idempotent error tracking,
// derived principles and age-based archival into monthly sibling databases.
//
// Public operations fail with sentinels (zero id, empty slice), never with
// exceptions; storage errors are logged and stay inside this package.
package episodic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// MaxDescriptionLen bounds every episode description.
const MaxDescriptionLen = 1000

// Valid episode outcomes. Anything else is normalized to OutcomeUnknown.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// Episode is one immutable row of the event log.
type Episode struct {
	ID          int64   `db:"id" json:"id"`
	Timestamp   float64 `db:"timestamp" json:"timestamp"`
	EventType   string  `db:"event_type" json:"event_type"`
	Description string  `db:"description" json:"description"`
	Outcome     string  `db:"outcome" json:"outcome"`
	Data        *string `db:"data" json:"data,omitempty"`
}

// Time returns the episode timestamp as a time.Time.
func (e *Episode) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// ErrorRecord is one row of the idempotent error table.
type ErrorRecord struct {
	ID          int64   `db:"id" json:"id"`
	ErrorType   string  `db:"error_type" json:"error_type"`
	Description string  `db:"description" json:"description"`
	Cause       *string `db:"cause" json:"cause,omitempty"`
	RepeatCount int     `db:"repeat_count" json:"repeat_count"`
	LastSeen    float64 `db:"last_seen" json:"last_seen"`
	PrincipleID *int64  `db:"principle_id" json:"principle_id,omitempty"`
}

// Principle is a lesson distilled from repeated errors.
type Principle struct {
	ID            int64   `db:"id" json:"id"`
	Text          string  `db:"text" json:"text"`
	SourceErrorID *int64  `db:"source_error_id" json:"source_error_id,omitempty"`
	Active        bool    `db:"active" json:"active"`
	CreatedAt     float64 `db:"created_at" json:"created_at"`
}

// Store is the episodic memory. Access is serialized on a single shared
// connection with per-operation transactions; write-ahead journaling is
// enabled through the DSN.
type Store struct {
	db        *sqlx.DB
	path      string
	logger    *slog.Logger
	now       func() time.Time
	onEpisode func()
}

// Open opens (creating if needed) the episodic database at path and applies
// the embedded schema migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open episodic db: %w", err)
	}
	// One shared connection: SQLite serializes writers anyway, and a single
	// connection keeps per-operation transactions from deadlocking on the
	// file lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping episodic db: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate episodic db: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "episodic"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the primary database file path.
func (s *Store) Path() string {
	return s.path
}

// SetOnEpisode installs a hook invoked once per successfully written
// episode, used to bump the write counter.
func (s *Store) SetOnEpisode(fn func()) {
	s.onEpisode = fn
}

// AddEpisode appends one episode and returns its id, or 0 when validation
// fails or the write errors. The description must be non-empty and at most
// MaxDescriptionLen characters; out-of-set outcomes are normalized to
// "unknown"; data is serialized as JSON and dropped to null when it cannot
// be.
func (s *Store) AddEpisode(eventType, description, outcome string, data any) int64 {
	if n := utf8.RuneCountInString(description); n == 0 || n > MaxDescriptionLen {
		s.logger.Warn("Rejecting episode with invalid description",
			"event_type", eventType, "description_len", n)
		return 0
	}

	switch outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeUnknown:
	default:
		outcome = OutcomeUnknown
	}

	var dataJSON *string
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			str := string(raw)
			dataJSON = &str
		} else {
			s.logger.Warn("Episode data not serializable, dropping to null",
				"event_type", eventType, "error", err)
		}
	}

	res, err := s.db.Exec(
		`INSERT INTO episodes (timestamp, event_type, description, outcome, data)
		 VALUES (?, ?, ?, ?, ?)`,
		float64(s.now().UnixNano())/float64(time.Second), eventType, description, outcome, dataJSON)
	if err != nil {
		s.logger.Error("Failed to insert episode", "event_type", eventType, "error", err)
		return 0
	}

	id, err := res.LastInsertId()
	if err != nil {
		s.logger.Error("Failed to read episode id", "error", err)
		return 0
	}
	if s.onEpisode != nil {
		s.onEpisode()
	}
	return id
}

// AddError records an error idempotently by type: a repeat bumps the
// existing row's repeat_count and timestamp instead of inserting a new row.
// Returns the error row id, or 0 on failure.
func (s *Store) AddError(errType, description, cause string) int64 {
	if errType == "" {
		s.logger.Warn("Rejecting error record with empty type")
		return 0
	}

	now := float64(s.now().UnixNano()) / float64(time.Second)

	tx, err := s.db.Beginx()
	if err != nil {
		s.logger.Error("Failed to begin error transaction", "error", err)
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.Get(&existing, `SELECT id FROM errors WHERE error_type = ?`, errType)
	switch {
	case err == nil:
		if _, err := tx.Exec(
			`UPDATE errors SET repeat_count = repeat_count + 1, last_seen = ? WHERE id = ?`,
			now, existing); err != nil {
			s.logger.Error("Failed to bump error record", "error_type", errType, "error", err)
			return 0
		}
		if err := tx.Commit(); err != nil {
			s.logger.Error("Failed to commit error bump", "error", err)
			return 0
		}
		return existing
	case err == sql.ErrNoRows:
		res, err := tx.Exec(
			`INSERT INTO errors (error_type, description, cause, repeat_count, last_seen)
			 VALUES (?, ?, ?, 1, ?)`,
			errType, description, nullable(cause), now)
		if err != nil {
			s.logger.Error("Failed to insert error record", "error_type", errType, "error", err)
			return 0
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0
		}
		if err := tx.Commit(); err != nil {
			s.logger.Error("Failed to commit error insert", "error", err)
			return 0
		}
		return id
	default:
		s.logger.Error("Failed to look up error record", "error_type", errType, "error", err)
		return 0
	}
}

// AddPrinciple inserts a principle and back-annotates the source error row.
// Duplicate principle text returns the existing row's id. Returns 0 on
// failure.
func (s *Store) AddPrinciple(text string, sourceErrorID int64) int64 {
	if text == "" {
		s.logger.Warn("Rejecting empty principle")
		return 0
	}

	tx, err := s.db.Beginx()
	if err != nil {
		s.logger.Error("Failed to begin principle transaction", "error", err)
		return 0
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	if err := tx.Get(&existing, `SELECT id FROM principles WHERE text = ?`, text); err == nil {
		return existing
	}

	var src *int64
	if sourceErrorID > 0 {
		src = &sourceErrorID
	}
	res, err := tx.Exec(
		`INSERT INTO principles (text, source_error_id, active, created_at) VALUES (?, ?, 1, ?)`,
		text, src, float64(s.now().UnixNano())/float64(time.Second))
	if err != nil {
		s.logger.Error("Failed to insert principle", "error", err)
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0
	}

	if src != nil {
		if _, err := tx.Exec(`UPDATE errors SET principle_id = ? WHERE id = ?`, id, sourceErrorID); err != nil {
			s.logger.Error("Failed to annotate source error", "error_id", sourceErrorID, "error", err)
			return 0
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit principle", "error", err)
		return 0
	}
	return id
}

// GetRecent returns the newest episodes, most recent first.
func (s *Store) GetRecent(limit int) []Episode {
	if limit <= 0 {
		return nil
	}
	var out []Episode
	if err := s.db.Select(&out,
		`SELECT * FROM episodes ORDER BY timestamp DESC, id DESC LIMIT ?`, limit); err != nil {
		s.logger.Error("Failed to query recent episodes", "error", err)
		return nil
	}
	return out
}

// GetByType returns the newest episodes of one event type, optionally
// filtered by outcome (empty outcome means any).
func (s *Store) GetByType(eventType string, limit int, outcome string) []Episode {
	if limit <= 0 {
		return nil
	}
	var out []Episode
	var err error
	if outcome == "" {
		err = s.db.Select(&out,
			`SELECT * FROM episodes WHERE event_type = ?
			 ORDER BY timestamp DESC, id DESC LIMIT ?`, eventType, limit)
	} else {
		err = s.db.Select(&out,
			`SELECT * FROM episodes WHERE event_type = ? AND outcome = ?
			 ORDER BY timestamp DESC, id DESC LIMIT ?`, eventType, outcome, limit)
	}
	if err != nil {
		s.logger.Error("Failed to query episodes by type", "event_type", eventType, "error", err)
		return nil
	}
	return out
}

// CountRecentSimilar counts episodes of one type within the last N hours.
func (s *Store) CountRecentSimilar(eventType string, hours int) int {
	cutoff := float64(s.now().Add(-time.Duration(hours)*time.Hour).UnixNano()) / float64(time.Second)
	var count int
	if err := s.db.Get(&count,
		`SELECT COUNT(*) FROM episodes WHERE event_type = ? AND timestamp >= ?`,
		eventType, cutoff); err != nil {
		s.logger.Error("Failed to count similar episodes", "event_type", eventType, "error", err)
		return 0
	}
	return count
}

// GetActivePrinciples returns all active principles, oldest first.
func (s *Store) GetActivePrinciples() []Principle {
	var out []Principle
	if err := s.db.Select(&out,
		`SELECT * FROM principles WHERE active = 1 ORDER BY id ASC`); err != nil {
		s.logger.Error("Failed to query principles", "error", err)
		return nil
	}
	return out
}

// GetErrors returns the newest error records, most recent first.
func (s *Store) GetErrors(limit int) []ErrorRecord {
	if limit <= 0 {
		return nil
	}
	var out []ErrorRecord
	if err := s.db.Select(&out,
		`SELECT * FROM errors ORDER BY last_seen DESC LIMIT ?`, limit); err != nil {
		s.logger.Error("Failed to query error records", "error", err)
		return nil
	}
	return out
}

// Count returns the number of episodes in the primary store.
func (s *Store) Count() int {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM episodes`); err != nil {
		s.logger.Error("Failed to count episodes", "error", err)
		return 0
	}
	return count
}

// Healthy confirms all expected tables exist and respond to trivial reads.
func (s *Store) Healthy(ctx context.Context) error {
	for _, table := range []string{"episodes", "errors", "principles"} {
		var one int
		q := fmt.Sprintf(`SELECT COUNT(*) FROM (SELECT 1 FROM %s LIMIT 1)`, table)
		if err := s.db.GetContext(ctx, &one, q); err != nil {
			return fmt.Errorf("table %s unavailable: %w", table, err)
		}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
