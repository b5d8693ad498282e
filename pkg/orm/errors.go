package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Configuration and usage errors
var (
	ErrImproperlyConfigured = errors.New("improperly configured")
	ErrNotReady             = errors.New("models aren't loaded yet")
	ErrAttribute            = errors.New("attribute error")
	ErrValue                = errors.New("value error")
	ErrType                 = errors.New("type error")
	ErrInternal             = errors.New("internal invariant violated")
	ErrFieldDoesNotExist    = errors.New("field does not exist")
	ErrLookup               = errors.New("lookup error")
)

// Engine errors
var (
	ErrDoesNotExist            = errors.New("object does not exist")
	ErrMultipleObjectsReturned = errors.New("multiple objects returned")
	ErrIntegrity               = errors.New("integrity error")
	ErrDuplicateKey            = fmt.Errorf("duplicate key violation: %w", ErrIntegrity)
	ErrForeignKey              = fmt.Errorf("foreign key violation: %w", ErrIntegrity)
	ErrCheckConstraint         = fmt.Errorf("check constraint violation: %w", ErrIntegrity)
	ErrNotNull                 = fmt.Errorf("not null constraint violation: %w", ErrIntegrity)
	ErrProtected               = fmt.Errorf("protected foreign key: %w", ErrIntegrity)
	ErrConnectionFailed        = errors.New("database connection failed")
	ErrTimeout                 = errors.New("operation timeout")
	ErrCanceled                = errors.New("operation canceled")
)

// Error provides detailed error information
type Error struct {
	Op         string        // Operation that failed
	Table      string        // Table involved
	Err        error         // Underlying error
	Query      string        // SQL query (if applicable)
	Args       []interface{} // Query arguments (if applicable)
	Constraint string        // Constraint name (if applicable)
	Column     string        // Column name (if applicable)
	Retryable  bool          // Whether the operation can be retried
}

func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("orm: %s", e.Op))

	if e.Table != "" {
		parts = append(parts, fmt.Sprintf("table=%s", e.Table))
	}

	if e.Column != "" {
		parts = append(parts, fmt.Sprintf("column=%s", e.Column))
	}

	if e.Constraint != "" {
		parts = append(parts, fmt.Sprintf("constraint=%s", e.Constraint))
	}

	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for Error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return errors.Is(e.Err, target)
	}

	if t.Op != "" && e.Op == t.Op {
		return true
	}

	return errors.Is(e.Err, t.Err)
}

// newError builds an *Error whose message is prefixed by kind so callers can
// match it with errors.Is.
func newError(op, table string, kind error, format string, args ...interface{}) *Error {
	return &Error{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}

// pq error codes the engine maps to typed errors
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
	pqNotNullViolation    = "23502"
	pqCheckViolation      = "23514"
	pqQueryCanceled       = "57014"
	pqSerialization       = "40001"
	pqDeadlockDetected    = "40P01"
)

// ParseDBError converts driver errors to ORM errors. PostgreSQL errors are
// classified by SQLSTATE, anything else by message.
func ParseDBError(err error, op, table string) error {
	if err == nil {
		return nil
	}

	var ormErr *Error
	if errors.As(err, &ormErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Table: table, Err: ErrDoesNotExist}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Table: table, Err: ErrTimeout, Retryable: true}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Op: op, Table: table, Err: ErrCanceled}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return parsePQError(pqErr, op, table)
	}

	return parseErrorMessage(err, op, table)
}

func parsePQError(err *pq.Error, op, table string) error {
	e := &Error{Op: op, Table: table, Constraint: err.Constraint, Column: err.Column}
	if err.Table != "" {
		e.Table = err.Table
	}

	switch string(err.Code) {
	case pqUniqueViolation:
		e.Err = fmt.Errorf("%w: %s", ErrDuplicateKey, err.Message)
	case pqForeignKeyViolation:
		e.Err = fmt.Errorf("%w: %s", ErrForeignKey, err.Message)
	case pqNotNullViolation:
		e.Err = fmt.Errorf("%w: %s", ErrNotNull, err.Message)
	case pqCheckViolation:
		e.Err = fmt.Errorf("%w: %s", ErrCheckConstraint, err.Message)
	case pqQueryCanceled:
		e.Err = ErrCanceled
	case pqSerialization, pqDeadlockDetected:
		e.Err = err
		e.Retryable = true
	default:
		e.Err = err
	}

	return e
}

func parseErrorMessage(err error, op, table string) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "duplicate key value violates unique constraint"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrDuplicateKey, errStr), Constraint: extractConstraintName(errStr)}

	case strings.Contains(errStr, "UNIQUE constraint failed"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrDuplicateKey, errStr), Column: extractSQLiteColumns(errStr, "UNIQUE constraint failed:")}

	case strings.Contains(errStr, "violates foreign key constraint"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrForeignKey, errStr), Constraint: extractConstraintName(errStr)}

	case strings.Contains(errStr, "FOREIGN KEY constraint failed"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrForeignKey, errStr)}

	case strings.Contains(errStr, "violates not-null constraint"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrNotNull, errStr), Column: extractColumnName(errStr)}

	case strings.Contains(errStr, "NOT NULL constraint failed"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrNotNull, errStr), Column: extractSQLiteColumns(errStr, "NOT NULL constraint failed:")}

	case strings.Contains(errStr, "violates check constraint"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrCheckConstraint, errStr), Constraint: extractConstraintName(errStr)}

	case strings.Contains(errStr, "CHECK constraint failed"):
		return &Error{Op: op, Table: table, Err: fmt.Errorf("%w: %s", ErrCheckConstraint, errStr)}

	case strings.Contains(errStr, "database is locked"):
		return &Error{Op: op, Table: table, Err: err, Retryable: true}

	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "broken pipe"):
		return &Error{Op: op, Table: table, Err: ErrConnectionFailed, Retryable: true}
	}

	return &Error{Op: op, Table: table, Err: err}
}

func extractConstraintName(errStr string) string {
	start := strings.Index(errStr, "\"")
	if start == -1 {
		return ""
	}
	end := strings.Index(errStr[start+1:], "\"")
	if end == -1 {
		return ""
	}
	return errStr[start+1 : start+1+end]
}

func extractColumnName(errStr string) string {
	columnIdx := strings.Index(errStr, "column \"")
	if columnIdx == -1 {
		return ""
	}
	start := columnIdx + 8
	end := strings.Index(errStr[start:], "\"")
	if end == -1 {
		return ""
	}
	return errStr[start : start+end]
}

// extractSQLiteColumns turns "UNIQUE constraint failed: t.a, t.b" into "a,b".
func extractSQLiteColumns(errStr, marker string) string {
	idx := strings.Index(errStr, marker)
	if idx == -1 {
		return ""
	}
	rest := strings.TrimSpace(errStr[idx+len(marker):])
	if end := strings.IndexAny(rest, "()"); end != -1 {
		rest = strings.TrimSpace(rest[:end])
	}

	var columns []string
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if dot := strings.LastIndex(part, "."); dot != -1 {
			part = part[dot+1:]
		}
		if part != "" {
			columns = append(columns, part)
		}
	}
	return strings.Join(columns, ",")
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ormErr *Error
	if errors.As(err, &ormErr) {
		return ormErr.Retryable
	}
	return false
}

// IsConstraintError checks if an error is a constraint violation
func IsConstraintError(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsDoesNotExist reports whether err means a lookup matched no rows.
func IsDoesNotExist(err error) bool {
	return errors.Is(err, ErrDoesNotExist)
}

// GetConstraintName extracts the constraint name from an error
func GetConstraintName(err error) string {
	var ormErr *Error
	if errors.As(err, &ormErr) {
		return ormErr.Constraint
	}
	return ""
}

// GetColumnName extracts the column name from an error
func GetColumnName(err error) string {
	var ormErr *Error
	if errors.As(err, &ormErr) {
		return ormErr.Column
	}
	return ""
}
