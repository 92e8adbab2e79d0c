package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/michaelpento.lv/arbwatch/types"
	_ "modernc.org/sqlite"
)

// DefaultPath is the database file used when none is configured
const DefaultPath = "arbitrage_log.db3"

// TimestampLayout is fixed width so stored timestamps sort lexically
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	buy_dex TEXT NOT NULL,
	sell_dex TEXT NOT NULL,
	token_pair TEXT NOT NULL,
	amount_in REAL NOT NULL,
	amount_out REAL NOT NULL,
	profit REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS price_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	token_pair TEXT NOT NULL,
	buy_dex TEXT NOT NULL,
	sell_dex TEXT NOT NULL,
	profit REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_logs_token_pair ON price_logs (token_pair);`

// PersistenceError is returned when a write to the store fails
type PersistenceError struct {
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the append-only log of checks and opportunities
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the database at path and makes sure both tables
// exist. Existing rows are never touched.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: writes are serialised and the driver never contends with itself
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// LogObservation appends one row to price_logs
func (s *Store) LogObservation(ctx context.Context, obs types.Observation) error {
	const insertStmt = `
INSERT INTO price_logs (timestamp, token_pair, buy_dex, sell_dex, profit)
VALUES (?, ?, ?, ?, ?);`

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, insertStmt,
		s.timestamp(), obs.Pair, obs.BuySource, obs.SellSource, obs.Profit.InexactFloat64())
	if err != nil {
		return &PersistenceError{Table: "price_logs", Err: err}
	}
	return nil
}

// LogOpportunity appends one row to opportunities
func (s *Store) LogOpportunity(ctx context.Context, opp types.Opportunity) error {
	const insertStmt = `
INSERT INTO opportunities (timestamp, buy_dex, sell_dex, token_pair, amount_in, amount_out, profit)
VALUES (?, ?, ?, ?, ?, ?, ?);`

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, insertStmt,
		s.timestamp(), opp.BuySource, opp.SellSource, opp.Pair,
		opp.AmountIn.InexactFloat64(), opp.AmountOut.InexactFloat64(), opp.Profit.InexactFloat64())
	if err != nil {
		return &PersistenceError{Table: "opportunities", Err: err}
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimestampLayout)
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
