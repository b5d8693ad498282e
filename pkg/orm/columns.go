package orm

import (
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Condition is a filter clause usable by QuerySet.Filter and Exclude.
type Condition struct {
	condition squirrel.Sqlizer
}

func (c Condition) ToSqlizer() squirrel.Sqlizer {
	return c.condition
}

// ToSql renders the condition with '?' placeholders.
func (c Condition) ToSql() (string, []interface{}, error) {
	if c.condition == nil {
		return "", nil, nil
	}
	return c.condition.ToSql()
}

func (c Condition) IsZero() bool {
	return c.condition == nil
}

// Expr wraps raw SQL. Args may themselves be squirrel.Sqlizer values, which
// are nested as subqueries.
func Expr(sql string, args ...interface{}) Condition {
	return Condition{squirrel.Expr(sql, args...)}
}

func And(conditions ...Condition) Condition {
	sqlizers := make([]squirrel.Sqlizer, 0, len(conditions))
	for _, c := range conditions {
		if c.condition != nil {
			sqlizers = append(sqlizers, c.condition)
		}
	}
	return Condition{squirrel.And(sqlizers)}
}

func Or(conditions ...Condition) Condition {
	sqlizers := make([]squirrel.Sqlizer, 0, len(conditions))
	for _, c := range conditions {
		if c.condition != nil {
			sqlizers = append(sqlizers, c.condition)
		}
	}
	return Condition{squirrel.Or(sqlizers)}
}

func Not(condition Condition) Condition {
	return Condition{squirrel.Expr("NOT (?)", condition.ToSqlizer())}
}

// Column is a column reference, optionally qualified by table.
type Column struct {
	Name  string
	Table string
}

// Col references a column by name.
func Col(name string) Column {
	return Column{Name: name}
}

// Of qualifies the column with a table name or alias.
func (c Column) Of(table string) Column {
	c.Table = table
	return c
}

func (c Column) String() string {
	if c.Table != "" {
		return fmt.Sprintf("%s.%s", c.Table, c.Name)
	}
	return c.Name
}

func (c Column) Eq(value interface{}) Condition {
	return Condition{squirrel.Eq{c.String(): value}}
}

func (c Column) NotEq(value interface{}) Condition {
	return Condition{squirrel.NotEq{c.String(): value}}
}

func (c Column) In(values ...interface{}) Condition {
	return Condition{squirrel.Eq{c.String(): values}}
}

func (c Column) NotIn(values ...interface{}) Condition {
	return Condition{squirrel.NotEq{c.String(): values}}
}

// InQuery matches against the rows of a subquery.
func (c Column) InQuery(sub squirrel.Sqlizer) Condition {
	return Condition{squirrel.Expr(c.String()+" IN (?)", sub)}
}

func (c Column) IsNull() Condition {
	return Condition{squirrel.Eq{c.String(): nil}}
}

func (c Column) IsNotNull() Condition {
	return Condition{squirrel.NotEq{c.String(): nil}}
}

func (c Column) Gt(value interface{}) Condition {
	return Condition{squirrel.Gt{c.String(): value}}
}

func (c Column) Gte(value interface{}) Condition {
	return Condition{squirrel.GtOrEq{c.String(): value}}
}

func (c Column) Lt(value interface{}) Condition {
	return Condition{squirrel.Lt{c.String(): value}}
}

func (c Column) Lte(value interface{}) Condition {
	return Condition{squirrel.LtOrEq{c.String(): value}}
}

func (c Column) Like(pattern string) Condition {
	return Condition{squirrel.Like{c.String(): pattern}}
}

func (c Column) StartsWith(prefix string) Condition {
	return c.Like(prefix + "%")
}

func (c Column) Contains(substring string) Condition {
	return c.Like("%" + substring + "%")
}

func (c Column) Asc() string {
	return c.String() + " ASC"
}

func (c Column) Desc() string {
	return c.String() + " DESC"
}

// Lookup builds equality conditions from a map of column names to values.
// A nil value matches NULL.
func Lookup(values Values) Condition {
	eq := squirrel.Eq{}
	for k, v := range values {
		eq[k] = v
	}
	return Condition{eq}
}
