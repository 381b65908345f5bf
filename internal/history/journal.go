// Package history keeps a SQLite journal of finished say requests.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	_ "modernc.org/sqlite"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"

	defaultListLimit = 100
)

// Entry is one finished say request.
type Entry struct {
	ID        int64         `json:"-"`
	RequestID string        `json:"request_id"`
	SiteID    string        `json:"site_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Voice     string        `json:"voice,omitempty"`
	Text      string        `json:"text"`
	FromCache bool          `json:"from_cache"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Journal records entries according to the configured retention mode. In
// ephemeral mode it has no database and every call is a no-op.
type Journal struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open prepares the journal. Session retention starts from an empty journal
// on every open, persistent retention keeps entries across restarts.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Journal, error) {
	log = log.With(slog.String("component", "history"))
	if cfg.RetentionMode == RetentionEphemeral {
		return &Journal{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == RetentionSession {
		if _, err := db.ExecContext(ctx, `DELETE FROM requests`); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset session history: %w", err)
		}
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := j.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    site_id TEXT,
    session_id TEXT,
    voice TEXT,
    text TEXT,
    from_cache INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    error TEXT,
    elapsed_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_site_created ON requests(site_id, created_at);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// Enabled reports whether entries are persisted.
func (j *Journal) Enabled() bool {
	return j != nil && j.db != nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if !j.Enabled() {
		return nil
	}
	return j.db.Close()
}

// Record appends e.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if !j.Enabled() {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, site_id, session_id, voice, text, from_cache, outcome, error, elapsed_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.SiteID, e.SessionID, e.Voice, e.Text, e.FromCache, e.Outcome, e.Error,
		e.Elapsed.Milliseconds(), e.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("record history entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first. An empty siteID lists all
// sites.
func (j *Journal) List(ctx context.Context, siteID string, limit int) ([]Entry, error) {
	if !j.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, request_id, site_id, session_id, voice, text, from_cache, outcome, error, elapsed_ms, created_at
		 FROM requests`
	args := []any{}
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var site, session, vc, text, errText sql.NullString
		var elapsedMS, created int64
		if err := rows.Scan(&e.ID, &e.RequestID, &site, &session, &vc, &text, &e.FromCache, &e.Outcome, &errText, &elapsedMS, &created); err != nil {
			return nil, err
		}
		e.SiteID = site.String
		e.SessionID = session.String
		e.Voice = vc.String
		e.Text = text.String
		e.Error = errText.String
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune applies retention_days and max_entries.
func (j *Journal) Prune(ctx context.Context) (err error) {
	if !j.Enabled() {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if j.cfg.RetentionDays > 0 {
		cutoff := j.clock().Add(-time.Duration(j.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC().UnixMilli()); err != nil {
			return err
		}
	}
	if j.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE id IN (
			SELECT id FROM requests ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, j.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
