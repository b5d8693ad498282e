package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct {
	alias string
}

func txFromContext(ctx context.Context, alias string) *sqlx.Tx {
	tx, _ := ctx.Value(txKey{alias: alias}).(*sqlx.Tx)
	return tx
}

// InAtomicBlock reports whether ctx carries a transaction for alias.
func InAtomicBlock(ctx context.Context, alias string) bool {
	return txFromContext(ctx, alias) != nil
}

// TransactionOptions configures the transaction opened by AtomicWithOptions.
type TransactionOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (opts *TransactionOptions) toTxOptions() *sql.TxOptions {
	if opts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
}

// Atomic runs fn inside a transaction on alias. When ctx already carries a
// transaction for alias, fn joins it and any failure propagates to the
// enclosing block.
func Atomic(ctx context.Context, conns *Connections, alias string, fn func(ctx context.Context) error) error {
	return AtomicWithOptions(ctx, conns, alias, nil, fn)
}

func AtomicWithOptions(ctx context.Context, conns *Connections, alias string, opts *TransactionOptions, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx, alias) != nil {
		return fn(ctx)
	}

	db, err := conns.Get(alias)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, opts.toTxOptions())
	if err != nil {
		return ParseDBError(fmt.Errorf("failed to begin transaction: %w", err), "begin", "")
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("failed to rollback transaction: %w", rbErr))
			}
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{alias: alias}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ParseDBError(fmt.Errorf("failed to commit transaction: %w", err), "commit", "")
	}
	committed = true

	return nil
}
