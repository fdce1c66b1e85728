// Package store wraps db.Querier with transaction support and groups the
// multi-step write operations that must execute atomically.
//
// Single-query reads and single conditional updates (GetBookingByID,
// ClaimBookingRefund, etc.) should be called directly on db.Querier. A lone
// UPDATE ... WHERE status = $expected RETURNING is already atomic.
//
// Dependency rule: store imports db only. It never imports api, payments,
// notify, or stripe.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
)

// ErrNotFound is returned when the row an operation needs does not exist.
var ErrNotFound = errors.New("store: not found")

// Store holds a *sql.DB for starting transactions and a db.Querier for
// executing queries outside of transactions. The operation files
// (payment_methods.go, capture.go) attach methods to this type.
type Store struct {
	// pool is the raw connection pool, used only to begin transactions.
	pool *sql.DB

	// q is the Querier used for non-transactional calls.
	q db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via db.PingContext) before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// txQuerier receives a transactional Querier. Returning a non-nil error
// causes withTx to roll back.
type txQuerier func(ctx context.Context, q db.Querier) error

// withTx begins a transaction, passes a Querier scoped to that transaction to
// fn, and commits on success or rolls back on any error (including panics).
//
// Every operation in this package reads before it writes (is there a
// default method, does the payout exist), so transactions are serializable.
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	queries, ok := s.q.(*db.Queries)
	if !ok {
		return fmt.Errorf("store: transactions need *db.Queries, got %T", s.q)
	}

	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
