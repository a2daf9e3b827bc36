// Package sqldep scopes database/sql transactions to a single dispatch.
//
// A handler that binds Transaction receives a *sql.Tx. The transaction is
// committed when the dispatch succeeds and rolled back when it ends in an
// exception, an error, cancellation or a panic:
//
//	db, err := sqldep.Open("chat.db")
//	tx := sqldep.Transaction(db)
//
//	router.On("room.create", createRoom,
//	    tmexio.FromDependency(tx, "tx"))
//
//	func createRoom(ctx context.Context, kw tmexio.Kwargs) (tmexio.Result, error) {
//	    tx := tmexio.Arg[*sql.Tx](kw, "tx")
//	    ...
//	}
package sqldep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/randalmurphal/tmexio/pkg/tmexio"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultName is the dependency name used when WithName is not given.
const DefaultName = "sql.tx"

type txConfig struct {
	name string
	opts *sql.TxOptions
}

// TxOption configures Transaction.
type TxOption func(*txConfig)

// WithName sets the dependency name shown in logs, spans and documentation.
func WithName(name string) TxOption {
	return func(c *txConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithTxOptions sets the options passed to BeginTx.
func WithTxOptions(opts *sql.TxOptions) TxOption {
	return func(c *txConfig) {
		c.opts = opts
	}
}

// Transaction returns a contextual dependency whose value is a *sql.Tx.
//
// The transaction is begun under a context that ignores cancellation of the
// dispatch, so that only the release decides between commit and rollback.
func Transaction(db *sql.DB, opts ...TxOption) *tmexio.Dependency {
	if db == nil {
		panic("sqldep: db cannot be nil")
	}
	cfg := txConfig{name: DefaultName}
	for _, opt := range opts {
		opt(&cfg)
	}

	return tmexio.NewContextualDependency(cfg.name, func(ctx context.Context, _ tmexio.Kwargs) (tmexio.Scope, error) {
		tx, err := db.BeginTx(context.WithoutCancel(ctx), cfg.opts)
		if err != nil {
			return tmexio.Scope{}, fmt.Errorf("begin transaction: %w", err)
		}
		return tmexio.Scope{
			Value:   tx,
			Release: finish(tx),
		}, nil
	})
}

// finish commits tx when the dispatch succeeded and rolls it back otherwise.
func finish(tx *sql.Tx) tmexio.ReleaseFunc {
	return func(_ context.Context, outcome error) error {
		if outcome != nil {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				return fmt.Errorf("rollback transaction: %w", err)
			}
			return nil
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
}

// Open opens a SQLite database for use with Transaction.
// The path should be a file path (e.g., "./chat.db") or ":memory:" for testing.
// In-memory databases are limited to one connection since every connection
// would otherwise see its own empty database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database (%s): %w", p, err)
		}
	}

	return db, nil
}

// Migrate runs schema statements in one transaction.
func Migrate(ctx context.Context, db *sql.DB, statements ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}
