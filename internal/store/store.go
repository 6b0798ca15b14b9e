package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/utils/retry"
)

var (
	// ErrNotFound is returned by single-row lookups with no match.
	ErrNotFound = errors.New("store: not found")

	// ErrPoolExhausted means no pooled connection became free within the acquire timeout.
	ErrPoolExhausted = errors.New("store: connection pool exhausted")
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx. Sub-stores take one
// so the same statements run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options bounds the connection pool and the retry policy of the store.
type Options struct {
	PoolSize       int
	AcquireTimeout time.Duration
	BusyTimeout    time.Duration
	RetryAttempts  int
	RetryBase      time.Duration
}

// Store is the event store: a SQLite database holding session-scoped entity
// tables next to whatsmeow's device credential tables.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	opts      Options
	policy    retry.Policy
	log       waLog.Logger

	Sessions  *SessionStore
	Chats     *ChatStore
	Messages  *MessageStore
	Contacts  *ContactStore
	Groups    *GroupStore
	Blocklist *BlocklistStore
	Calls     *CallStore
}

// New opens (creating if needed) the database at dbPath and upgrades both schemas.
func New(ctx context.Context, dbPath string, opts Options, log waLog.Logger) (*Store, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 5 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)

	container := sqlstore.NewWithDB(db, "sqlite3", log.Sub("whatsmeow"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsmeow schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s := &Store{
		db:        db,
		container: container,
		opts:      opts,
		log:       log.Sub("Store"),
	}
	s.policy = retry.Policy{
		MaxAttempts: opts.RetryAttempts,
		Backoff:     retry.QuadraticBackoff(opts.RetryBase, 0),
		Retryable:   IsRetryable,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			s.log.Warnf("Transient store error (attempt %d/%d), retrying in %v: %v", attempt, opts.RetryAttempts, wait, err)
		},
	}

	s.Sessions = &SessionStore{store: s}
	s.Chats = &ChatStore{store: s}
	s.Messages = &MessageStore{store: s}
	s.Contacts = &ContactStore{store: s}
	s.Groups = &GroupStore{store: s}
	s.Blocklist = &BlocklistStore{store: s}
	s.Calls = &CallStore{store: s}
	return s, nil
}

// IsRetryable reports whether err is a transient infrastructure error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolExhausted) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Exec runs a statement outside a transaction, retrying transient failures.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return retry.DoValue(ctx, s.policy, func(ctx context.Context) (sql.Result, error) {
		return s.db.ExecContext(ctx, query, args...)
	})
}

// Query runs a query outside a transaction, retrying transient failures.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return retry.DoValue(ctx, s.policy, func(ctx context.Context) (*sql.Rows, error) {
		return s.db.QueryContext(ctx, query, args...)
	})
}

// QueryRow runs a single-row query. Errors surface from Scan and are not retried.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Tx runs fn inside one transaction on one pooled connection. The whole unit
// is retried with quadratic backoff when it fails transiently, so fn must not
// have side effects outside tx.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.policy.Do(ctx, func(ctx context.Context) error {
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// acquire checks a connection out of the bounded pool. Only the checkout is
// bounded by AcquireTimeout; the returned connection lives on ctx.
func (s *Store) acquire(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.opts.AcquireTimeout)
	defer cancel()

	conn, err := s.db.Conn(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrPoolExhausted
		}
		return nil, err
	}
	return conn, nil
}

// Device loads the whatsmeow device for a stored JID, or allocates a fresh
// unpaired one when jidStr is empty or unknown.
func (s *Store) Device(ctx context.Context, jidStr string) (*wastore.Device, error) {
	if jidStr == "" {
		return s.container.NewDevice(), nil
	}
	j, err := types.ParseJID(jidStr)
	if err != nil {
		return nil, fmt.Errorf("parse device jid: %w", err)
	}
	device, err := s.container.GetDevice(ctx, j)
	if err != nil {
		return nil, err
	}
	if device == nil {
		s.log.Warnf("No stored credentials for %s, allocating a new device", jidStr)
		return s.container.NewDevice(), nil
	}
	return device, nil
}

// DeleteDevice removes the stored credentials for jidStr. Missing devices are ignored.
func (s *Store) DeleteDevice(ctx context.Context, jidStr string) error {
	if jidStr == "" {
		return nil
	}
	j, err := types.ParseJID(jidStr)
	if err != nil {
		return nil
	}
	device, err := s.container.GetDevice(ctx, j)
	if err != nil {
		return err
	}
	if device == nil || device.ID == nil {
		return nil
	}
	return device.Delete(ctx)
}
