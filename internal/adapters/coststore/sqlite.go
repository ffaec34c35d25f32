// Package coststore implements core.CostStore against SQLite, grounded on
// the teacher's internal/adapters/chat.SQLiteChatStore (dual read/write
// connections, WAL mode, embedded migrations, busy-retry writes).
package coststore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quorumcore/consensus-core/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteCostStore implements core.CostStore with SQLite storage.
type SQLiteCostStore struct {
	dbPath string
	db     *sql.DB // write connection
	readDB *sql.DB // read-only connection
	mu     sync.RWMutex

	maxRetries    int
	baseRetryWait time.Duration
}

// Option configures a SQLiteCostStore.
type Option func(*SQLiteCostStore)

// WithRetry overrides the default busy-retry policy.
func WithRetry(maxRetries int, baseWait time.Duration) Option {
	return func(s *SQLiteCostStore) {
		s.maxRetries = maxRetries
		s.baseRetryWait = baseWait
	}
}

// New opens (and migrates) a SQLite-backed cost store at dbPath.
func New(dbPath string, opts ...Option) (*SQLiteCostStore, error) {
	s := &SQLiteCostStore{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating cost store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteCostStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cost_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM cost_schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	migrations := []string{migrationV1}
	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}

		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}

		if _, err := tx.Exec(
			"INSERT INTO cost_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}

	return nil
}

func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		lines := strings.Split(stmt, "\n")
		var sqlLines []string
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				sqlLines = append(sqlLines, line)
			}
		}
		if len(sqlLines) > 0 {
			statements = append(statements, strings.Join(sqlLines, "\n"))
		}
	}
	return statements
}

func (s *SQLiteCostStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(); err != nil {
			if isSQLiteBusy(err) {
				lastErr = err
				wait := s.baseRetryWait * time.Duration(1<<attempt)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
					continue
				}
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// InsertCostEntries implements core.CostStore. It writes every entry in a
// single transaction so a partial batch never lands on a busy-retry (§7:
// a flush failure must never propagate into the consensus result, but a
// half-written batch would corrupt the audit trail it exists to produce).
func (s *SQLiteCostStore) InsertCostEntries(ctx context.Context, entries []core.CostEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.retryWrite(ctx, "InsertCostEntries", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO cost_entries (id, agent_id, task_id, cost_type, cost_usd, metadata, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			metadataJSON, err := json.Marshal(e.Metadata)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("encoding metadata for entry %s: %w", e.ID, err)
			}

			ts := e.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			if _, err := stmt.ExecContext(ctx,
				e.ID,
				e.AgentID,
				e.TaskID,
				string(e.CostType),
				formatCostUSD(e.CostUSD),
				string(metadataJSON),
				// Fixed-width fractional seconds keep the text column's
				// order equal to time order (RFC3339Nano trims zeros).
				ts.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}

		return tx.Commit()
	})
}

// ListByTask returns every cost entry recorded for taskID, oldest first.
func (s *SQLiteCostStore) ListByTask(ctx context.Context, taskID string) ([]core.CostEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, agent_id, task_id, cost_type, cost_usd, metadata, inserted_at
		FROM cost_entries
		WHERE task_id = ?
		ORDER BY inserted_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying cost entries: %w", err)
	}
	defer rows.Close()

	return scanCostEntries(rows)
}

// ListByAgent returns every cost entry recorded for agentID, oldest first.
func (s *SQLiteCostStore) ListByAgent(ctx context.Context, agentID string) ([]core.CostEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, agent_id, task_id, cost_type, cost_usd, metadata, inserted_at
		FROM cost_entries
		WHERE agent_id = ?
		ORDER BY inserted_at ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying cost entries: %w", err)
	}
	defer rows.Close()

	return scanCostEntries(rows)
}

func scanCostEntries(rows *sql.Rows) ([]core.CostEntry, error) {
	var entries []core.CostEntry
	for rows.Next() {
		var e core.CostEntry
		var costType, insertedAt, metadataJSON string
		var costUSD sql.NullString

		if err := rows.Scan(&e.ID, &e.AgentID, &e.TaskID, &costType, &costUSD, &metadataJSON, &insertedAt); err != nil {
			return nil, fmt.Errorf("scanning cost entry: %w", err)
		}

		e.CostType = core.CostType(costType)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, insertedAt)
		if costUSD.Valid {
			v, err := strconv.ParseFloat(costUSD.String, 64)
			if err == nil {
				e.CostUSD = &v
			}
		}
		if metadataJSON != "" {
			_ = json.Unmarshal([]byte(metadataJSON), &e.Metadata)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// formatCostUSD renders a nullable cost as a fixed 10-fractional-digit
// decimal string (§6), preserving precision float64 arithmetic would not
// guarantee past ordinary double rounding.
func formatCostUSD(v *float64) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strconv.FormatFloat(*v, 'f', 10, 64), Valid: true}
}

// Close closes both database connections.
func (s *SQLiteCostStore) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

var _ core.CostStore = (*SQLiteCostStore)(nil)
