package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/refgrab/internal/model"
)

// Manifest provides SQLite-based storage for download run catalogs.
// It manages connection pooling and provides methods for recording and
// querying download outcomes.
type Manifest struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Manifest behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default manifest options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a Manifest at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Manifest, error) {
	dbPath := filepath.Join(dbDir, "refgrab.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check manifest path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	// SQLite only supports one writer; the single-connection pool keeps
	// writes serialized without busy-retry loops.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	m := &Manifest{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := m.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

// Close closes the database connection.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Path returns the path to the manifest database file.
func (m *Manifest) Path() string {
	return m.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (m *Manifest) createTables() error {
	schema := `
	-- Runs store one row per crawl invocation
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed TEXT NOT NULL,
		started DATETIME DEFAULT CURRENT_TIMESTAMP,
		duration_ms INTEGER DEFAULT 0,
		authenticated INTEGER DEFAULT 0,
		pages_visited INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_seed ON runs(seed);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);

	-- Downloads store individual file outcomes
	CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		path TEXT,
		bytes INTEGER DEFAULT 0,
		sha256 TEXT,
		content_type TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_downloads_run ON downloads(run_id);
	CREATE INDEX IF NOT EXISTS idx_downloads_url ON downloads(url);
	CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
	`

	_, err := m.db.ExecContext(context.Background(), schema)
	return err
}

// Run represents one stored crawl invocation.
type Run struct {
	ID            string
	Seed          string
	Started       time.Time
	Duration      time.Duration
	Authenticated bool
	PagesVisited  int
}

// NewRunID generates a unique identifier for a run.
func NewRunID() string {
	return uuid.NewString()
}

// RecordRun stores a completed run and its download outcomes.
// The run's records are written in a single transaction so a partial
// catalog never survives a crash mid-write.
func (m *Manifest) RecordRun(ctx context.Context, summary *model.CrawlSummary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	authenticated := 0
	if summary.Authenticated {
		authenticated = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, seed, started, duration_ms, authenticated, pages_visited)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		summary.RunID,
		summary.Seed,
		summary.Started.UTC().Format("2006-01-02 15:04:05"),
		summary.Duration.Milliseconds(),
		authenticated,
		summary.PagesVisited,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO downloads (run_id, url, path, bytes, sha256, content_type, status, reason, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, url) DO UPDATE SET
			path = excluded.path,
			bytes = excluded.bytes,
			sha256 = excluded.sha256,
			content_type = excluded.content_type,
			status = excluded.status,
			reason = excluded.reason,
			timestamp = excluded.timestamp`)
	if err != nil {
		return fmt.Errorf("failed to prepare download insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range summary.Downloads {
		_, err := stmt.ExecContext(ctx,
			summary.RunID,
			record.URL,
			record.Path,
			record.Bytes,
			record.SHA256,
			record.ContentType,
			string(record.Status),
			record.Reason,
			record.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		)
		if err != nil {
			return fmt.Errorf("failed to insert download record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// DownloadedURLs returns every URL with a successful download in any
// prior run, for seeding a downloader's skip set.
func (m *Manifest) DownloadedURLs(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT DISTINCT url FROM downloads WHERE status = ? ORDER BY url`,
		string(model.StatusDownloaded),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloaded URLs: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan URL: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Runs returns stored runs, most recent first, limited to limit rows.
// A non-positive limit returns every run.
func (m *Manifest) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT id, seed, started, duration_ms, authenticated, pages_visited
	FROM runs
	ORDER BY started DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var durationMS int64
		var authenticated int

		if err := rows.Scan(&r.ID, &r.Seed, &started, &durationMS, &authenticated, &r.PagesVisited); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		r.Started = parseTimestamp(started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Authenticated = authenticated != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunDownloads returns the download records of one run in insertion order.
func (m *Manifest) RunDownloads(ctx context.Context, runID string) ([]model.DownloadRecord, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT url, path, bytes, sha256, content_type, status, reason, timestamp
		 FROM downloads WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var records []model.DownloadRecord
	for rows.Next() {
		var r model.DownloadRecord
		var status string
		var timestamp string

		err := rows.Scan(&r.URL, &r.Path, &r.Bytes, &r.SHA256, &r.ContentType, &status, &r.Reason, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}

		r.Status = model.DownloadStatus(status)
		r.Timestamp = parseTimestamp(timestamp)
		records = append(records, r)
	}
	return records, rows.Err()
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on configuration.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
