package orm

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

type statementFunc func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error

// run executes one statement on alias through the middleware chain. Builders
// use '?' placeholders; they are rewritten for the driver here, after any
// nested subqueries have been inlined.
func (r *Registry) run(ctx context.Context, op OperationType, table, alias string, builder squirrel.Sqlizer, fn statementFunc) error {
	exec, err := r.conns.executor(ctx, alias)
	if err != nil {
		return err
	}

	mc := &MiddlewareContext{
		Operation:    op,
		TableName:    table,
		Alias:        alias,
		QueryBuilder: builder,
		Context:      ctx,
		StartTime:    time.Now(),
		Metadata:     make(map[string]interface{}),
	}

	return r.middleware.ExecuteMiddleware(mc, func(mc *MiddlewareContext) error {
		query, args, err := mc.QueryBuilder.ToSql()
		if err != nil {
			return &Error{Op: string(op), Table: table, Err: fmt.Errorf("failed to build query: %w", err)}
		}
		query, err = placeholderFor(exec.DriverName()).ReplacePlaceholders(query)
		if err != nil {
			return &Error{Op: string(op), Table: table, Err: fmt.Errorf("failed to build query: %w", err)}
		}
		mc.Query = query
		mc.Args = args

		if err := fn(mc.Context, exec, query, args); err != nil {
			parsed := ParseDBError(err, string(op), table)
			if e, ok := parsed.(*Error); ok && e.Query == "" {
				e.Query = query
				e.Args = args
			}
			return parsed
		}
		return nil
	})
}

// scanRows reads every row into a map keyed by column name.
func scanRows(rows *sqlx.Rows) ([]map[string]interface{}, error) {
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			row[k] = normalizeValue(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue converts driver text values to strings.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// normalizeKey folds key values to a canonical comparable form so keys read
// from the database match keys supplied by callers.
func normalizeKey(v interface{}) interface{} {
	switch k := v.(type) {
	case nil:
		return nil
	case int:
		return int64(k)
	case int8:
		return int64(k)
	case int16:
		return int64(k)
	case int32:
		return int64(k)
	case uint:
		return int64(k)
	case uint8:
		return int64(k)
	case uint16:
		return int64(k)
	case uint32:
		return int64(k)
	case uint64:
		return int64(k)
	case []byte:
		return string(k)
	case *Instance:
		return normalizeKey(k.PK())
	}
	if t := reflect.TypeOf(v); t != nil && !t.Comparable() {
		return fmt.Sprint(v)
	}
	return v
}

// keySet is an insertion-ordered set of normalized keys.
type keySet struct {
	order []interface{}
	seen  map[interface{}]struct{}
}

func newKeySet() *keySet {
	return &keySet{seen: make(map[interface{}]struct{})}
}

func (s *keySet) add(v interface{}) {
	k := normalizeKey(v)
	if _, ok := s.seen[k]; ok {
		return
	}
	s.seen[k] = struct{}{}
	s.order = append(s.order, k)
}

func (s *keySet) remove(v interface{}) {
	k := normalizeKey(v)
	if _, ok := s.seen[k]; !ok {
		return
	}
	delete(s.seen, k)
	for i, existing := range s.order {
		if existing == k {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *keySet) len() int {
	return len(s.order)
}

// values returns the keys in insertion order, never nil.
func (s *keySet) values() []interface{} {
	return append(make([]interface{}, 0, len(s.order)), s.order...)
}
