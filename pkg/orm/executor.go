package orm

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// DBExecutor represents an interface that can execute database operations.
// It is satisfied by both *sqlx.DB and *sqlx.Tx so querysets run unchanged
// inside and outside atomic blocks.
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row

	// Rebind for driver-specific placeholders
	Rebind(query string) string

	// DriverName returns the driverName passed to the Open function for this DB.
	DriverName() string
}

var (
	_ DBExecutor = (*sqlx.DB)(nil)
	_ DBExecutor = (*sqlx.Tx)(nil)
)

// placeholderFor picks the squirrel placeholder style for a driver. Only the
// two styles the engine needs are supported.
func placeholderFor(driverName string) squirrel.PlaceholderFormat {
	if sqlx.BindType(driverName) == sqlx.DOLLAR {
		return squirrel.Dollar
	}
	return squirrel.Question
}
