package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/franckalain/glowscan/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store is the shared key-value store holding quota counters and cached
// results. It is the single source of truth for cross-request state.
type Store interface {
	// Get returns the live value for key or models.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Count returns the live counter value for key, zero when absent.
	Count(ctx context.Context, key string) (int64, error)
	// IncrementBelow atomically increments the counter at key if its current
	// value is below limit. A new counter expires ttl after creation. It
	// returns the value after the attempt and whether the increment happened.
	IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
	// DeleteExpired removes entries whose TTL has passed.
	DeleteExpired(ctx context.Context) (int64, error)
	Close() error
}

// SQLiteDB implements Store and VectorIndex on a single SQLite file.
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
	log *zap.Logger
}

// NewSQLiteDB opens (creating if needed) the database at dbPath.
func NewSQLiteDB(dbPath string, log *zap.Logger) (*SQLiteDB, error) {
	dsn := fmt.Sprintf("file:%s?%s", dbPath, url.Values{
		"_pragma": []string{"busy_timeout(5000)", "journal_mode(WAL)", "foreign_keys(1)"},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One writer keeps the conditional increment free of SQLITE_BUSY under
	// in-process concurrency.
	db.SetMaxOpenConns(1)

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	log.Named("database").Info("sqlite store ready", zap.String("path", dbPath))
	return &SQLiteDB{db: db, now: time.Now, log: log.Named("database")}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// SetClock overrides the time source used for TTL decisions.
func (s *SQLiteDB) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the live value stored under key.
func (s *SQLiteDB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous entry.
func (s *SQLiteDB) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, s.now().Add(ttl).UnixMilli()); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Count returns the live counter value for key.
func (s *SQLiteDB) Count(ctx context.Context, key string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM counters WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", key, err)
	}
	return count, nil
}

// IncrementBelow performs the check and the increment in one statement, so
// concurrent callers against the same file can never push the counter past
// limit. An expired counter restarts at 1 with a fresh expiry.
func (s *SQLiteDB) IncrementBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}
	now := s.now().UnixMilli()
	query := `
		INSERT INTO counters (key, count, expires_at) VALUES (?1, 1, ?2)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN counters.expires_at <= ?3 THEN 1 ELSE counters.count + 1 END,
			expires_at = CASE WHEN counters.expires_at <= ?3 THEN excluded.expires_at ELSE counters.expires_at END
		WHERE counters.expires_at <= ?3 OR counters.count < ?4
		RETURNING count
	`
	var count int64
	err := s.db.QueryRowContext(ctx, query, key, s.now().Add(ttl).UnixMilli(), now, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The WHERE clause rejected the update: the counter is at the limit.
		current, cerr := s.Count(ctx, key)
		if cerr != nil {
			return 0, false, cerr
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment %q: %w", key, err)
	}
	return count, true, nil
}

// DeleteExpired removes expired cache entries and counters.
func (s *SQLiteDB) DeleteExpired(ctx context.Context) (int64, error) {
	now := s.now().UnixMilli()
	var total int64
	for _, table := range []string{"kv_entries", "counters"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at <= ?", now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
