// Package transcript persists the engine's event stream to SQLite. The
// journal is append-only and is the full audit history; the engine itself
// only remembers each identity's latest result.
package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	_ "modernc.org/sqlite"

	"github.com/lox/fairdice/internal/engine"
)

// Entry is one journaled event row.
type Entry struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	Identity string    `json:"identity,omitempty"`
	Payload  string    `json:"payload"`
}

// Journal writes engine events to SQLite. OnEvent is called with the engine
// lock held, so writes are decoupled through a buffered channel and a single
// writer goroutine; a full buffer drops the event rather than stalling
// settlement.
type Journal struct {
	db     *sql.DB
	logger *log.Logger

	pending chan pendingWrite
	done    chan struct{}
	once    sync.Once
}

// pendingWrite is either an entry to persist or, when ack is set, a sync
// marker the writer acknowledges once everything before it has been written.
type pendingWrite struct {
	entry Entry
	ack   chan struct{}
}

const pendingBuffer = 256

// Open opens (creating if needed) the journal database at path. Use ":memory:"
// for an ephemeral journal.
func Open(path string, logger *log.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// WAL keeps readers from blocking the writer goroutine.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{
		db:      db,
		logger:  logger.WithPrefix("transcript"),
		pending: make(chan pendingWrite, pendingBuffer),
		done:    make(chan struct{}),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	go j.writeLoop()
	return j, nil
}

func (j *Journal) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at DATETIME NOT NULL,
			type TEXT NOT NULL,
			identity TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_identity ON events(identity, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	}
	for _, migration := range migrations {
		if _, err := j.db.Exec(migration); err != nil {
			return fmt.Errorf("journal migration failed: %w", err)
		}
	}
	return nil
}

// OnEvent implements engine.Sink. Never blocks and never errors; a full
// buffer drops the row with a warning rather than stalling the engine.
func (j *Journal) OnEvent(ev engine.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		j.logger.Error("Failed to encode event", "type", ev.EventType(), "error", err)
		return
	}

	entry := Entry{
		At:       ev.Timestamp(),
		Type:     string(ev.EventType()),
		Identity: ev.Who(),
		Payload:  string(payload),
	}

	select {
	case j.pending <- pendingWrite{entry: entry}:
	default:
		j.logger.Warn("Journal buffer full, dropping event", "type", entry.Type, "identity", entry.Identity)
	}
}

func (j *Journal) writeLoop() {
	for w := range j.pending {
		if w.ack != nil {
			close(w.ack)
			continue
		}
		if err := j.write(w.entry); err != nil {
			j.logger.Error("Failed to journal event", "type", w.entry.Type, "error", err)
		}
	}
	close(j.done)
}

func (j *Journal) write(entry Entry) error {
	_, err := j.db.Exec(
		`INSERT INTO events (at, type, identity, payload) VALUES (?, ?, ?, ?)`,
		entry.At.UTC(), entry.Type, entry.Identity, entry.Payload,
	)
	return err
}

// Close drains pending writes and closes the database.
func (j *Journal) Close() error {
	j.once.Do(func() {
		close(j.pending)
	})
	<-j.done
	return j.db.Close()
}

// Sync blocks until every event accepted so far has been written. The writer
// consumes in order, so acknowledging a marker proves everything queued
// before it is on disk.
func (j *Journal) Sync() {
	ack := make(chan struct{})
	j.pending <- pendingWrite{ack: ack}
	<-ack
}

// Events returns the most recent events for an identity, newest first. An
// empty identity returns events across all identities.
func (j *Journal) Events(identity string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, at, type, identity, payload FROM events`
	args := []any{}
	if identity != "" {
		query += ` WHERE identity = ?`
		args = append(args, identity)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.Type, &e.Identity, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByType returns how many events of each type have been journaled.
func (j *Journal) CountByType() (map[string]int, error) {
	rows, err := j.db.Query(`SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

var _ engine.Sink = (*Journal)(nil)
