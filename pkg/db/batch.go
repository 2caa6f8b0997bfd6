package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrGuardFailed aborts a batch whose guard statement detected a violated
// invariant, for example a conditional update that silently no-opped under
// a concurrent depletion. The whole batch rolls back; no partial effects
// remain visible.
var ErrGuardFailed = errors.New("batch guard failed")

// Statement is one step of an atomic batch. It observes the effects of the
// statements that ran before it in the same batch and may return
// ErrGuardFailed (or any other error) to abort the whole unit.
type Statement func(tx *gorm.DB) error

// Batch is an ordered list of statements executed as one indivisible unit.
// Statements run in submission order; a later statement sees the effects of
// earlier ones. Any error rolls back every statement.
//
// This is the storage model the ledger is written against: cross-statement
// dependencies are expressed as conditional predicates plus rows-affected
// checks, not as read-modify-write round trips.
type Batch struct {
	stmts []Statement
}

// Add appends a statement to the batch.
func (b *Batch) Add(stmt Statement) {
	b.stmts = append(b.stmts, stmt)
}

// Len returns the number of queued statements.
func (b *Batch) Len() int {
	return len(b.stmts)
}

// Run executes the batch atomically. An empty batch is a no-op.
func (c *Client) Run(ctx context.Context, b *Batch) error {
	if b == nil || len(b.stmts) == 0 {
		return nil
	}
	return c.WithTx(ctx, func(tx *gorm.DB) error {
		for _, stmt := range b.stmts {
			if err := stmt(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// GuardRowsAffected wraps a write so the batch aborts unless it changed
// exactly want rows. Use it for compare-and-swap status transitions.
func GuardRowsAffected(want int64, fn func(tx *gorm.DB) *gorm.DB) Statement {
	return func(tx *gorm.DB) error {
		res := fn(tx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != want {
			return ErrGuardFailed
		}
		return nil
	}
}
