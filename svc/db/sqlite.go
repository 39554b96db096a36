package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"bitbin/pkg/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is the metadata index: one row per stored key.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isUniqueViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS content (
		key TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		expiry INTEGER,
		last_modified INTEGER NOT NULL,
		encoding TEXT NOT NULL,
		backend_id TEXT NOT NULL,
		content_length INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_content_expiry ON content(expiry);
	`
	_, err = s.db.Exec(query)
	return err
}

// Create inserts the metadata row for c. An existing key yields
// domain.ErrKeyConflict.
func (s *SQLite) Create(ctx context.Context, c *domain.Content) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO content (key, content_type, expiry, last_modified, encoding, backend_id, content_length)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	var expiry sql.NullInt64
	if c.HasExpiry() {
		expiry = sql.NullInt64{Int64: c.Expiry.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(queryCtx, q,
		c.Key, c.ContentType, expiry, c.LastModified.UnixMilli(), c.ContentEncoding, c.BackendID, c.ContentLength,
	)
	s.recordError(err)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrKeyConflict, "key %s", c.Key)
	}
	return errors.Wrap(err, "db create")
}
func (s *SQLite) Get(ctx context.Context, key string) (*domain.Content, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT key, content_type, expiry, last_modified, encoding, backend_id, content_length
	FROM content WHERE key = ?
	`
	var (
		c            domain.Content
		expiry       sql.NullInt64
		lastModified int64
	)
	err := s.db.QueryRowContext(queryCtx, q, key).Scan(
		&c.Key, &c.ContentType, &expiry, &lastModified, &c.ContentEncoding, &c.BackendID, &c.ContentLength,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrContentNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	if expiry.Valid {
		c.Expiry = domain.UnixMillis(expiry.Int64)
	}
	c.LastModified = domain.UnixMillis(lastModified)
	return &c, nil
}
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM content WHERE key = ?`, key)
	s.recordError(err)
	return errors.Wrap(err, "delete content")
}
func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM content WHERE key = ? LIMIT 1`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

// Keys lists every indexed key in ascending order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM content ORDER BY key`)
	if err != nil {
		s.recordError(err)
		return nil, errors.Wrap(err, "list keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		keys = append(keys, k)
	}
	err = rows.Err()
	s.recordError(err)
	return keys, errors.Wrap(err, "iterate keys")
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
