package orm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
)

type join struct {
	table string
	on    string
}

type extraColumn struct {
	name string
	expr string
}

// QuerySet is a lazy, immutable query over one model. Every refinement
// returns a new QuerySet; nothing runs until a terminal method is called.
type QuerySet struct {
	model    *Model
	db       string
	hints    Hints
	where    []squirrel.Sqlizer
	joins    []join
	extra    []extraColumn
	orderBy  []string
	limit    *uint64
	offset   *uint64
	distinct bool
	sticky   bool
	none     bool
	prefetch []string
	class    *QuerySetClass

	cache  []*Instance
	cached bool
}

func newQuerySet(model *Model, db string) *QuerySet {
	return &QuerySet{model: model, db: db}
}

func (q *QuerySet) clone() *QuerySet {
	c := *q
	c.where = append([]squirrel.Sqlizer(nil), q.where...)
	c.joins = append([]join(nil), q.joins...)
	c.extra = append([]extraColumn(nil), q.extra...)
	c.orderBy = append([]string(nil), q.orderBy...)
	c.prefetch = append([]string(nil), q.prefetch...)
	c.cache = nil
	c.cached = false
	return &c
}

func (q *QuerySet) Model() *Model { return q.model }

func (q *QuerySet) registry() *Registry { return q.model.registry }

// DB is the alias reads go to.
func (q *QuerySet) DB() string {
	if q.db != "" {
		return q.db
	}
	return q.registry().router.DBForRead(q.model, q.hints)
}

func (q *QuerySet) writeDB() string {
	if q.db != "" {
		return q.db
	}
	return q.registry().router.DBForWrite(q.model, q.hints)
}

func (q *QuerySet) Using(alias string) *QuerySet {
	c := q.clone()
	c.db = alias
	return c
}

func (q *QuerySet) WithHints(hints Hints) *QuerySet {
	c := q.clone()
	c.hints = hints
	return c
}

// Col references a field of this queryset's model, qualified by its table.
func (q *QuerySet) Col(name string) Column {
	return Col(q.model.column(name)).Of(q.model.Table())
}

// Filter narrows the queryset. On a joined queryset that is not sticky the
// result becomes DISTINCT so multi-valued joins do not repeat rows.
func (q *QuerySet) Filter(conds ...Condition) *QuerySet {
	c := q.clone()
	for _, cond := range conds {
		if cond.condition != nil {
			c.where = append(c.where, cond.condition)
		}
	}
	if len(c.joins) > 0 && !c.sticky {
		c.distinct = true
	}
	return c
}

// FilterBy filters on equality with field names mapped to qualified columns.
func (q *QuerySet) FilterBy(values Values) *QuerySet {
	return q.Filter(q.lookup(values))
}

func (q *QuerySet) lookup(values Values) Condition {
	eq := squirrel.Eq{}
	for name, v := range values {
		if inst, ok := v.(*Instance); ok {
			if f, err := q.model.Field(name); err == nil {
				if fk, ok := asForeignKey(f); ok {
					v = fk.valueOf(inst)
				}
			}
		}
		eq[q.Col(name).String()] = v
	}
	return Condition{eq}
}

func (q *QuerySet) Exclude(conds ...Condition) *QuerySet {
	return q.Filter(Not(And(conds...)))
}

// OrderBy sets the ordering. A leading "-" sorts descending.
func (q *QuerySet) OrderBy(fields ...string) *QuerySet {
	c := q.clone()
	c.orderBy = fields
	return c
}

func (q *QuerySet) Limit(n uint64) *QuerySet {
	c := q.clone()
	c.limit = &n
	return c
}

func (q *QuerySet) Offset(n uint64) *QuerySet {
	c := q.clone()
	c.offset = &n
	return c
}

func (q *QuerySet) Distinct() *QuerySet {
	c := q.clone()
	c.distinct = true
	return c
}

func (q *QuerySet) All() *QuerySet {
	return q.clone()
}

// None returns a queryset that never hits the database.
func (q *QuerySet) None() *QuerySet {
	c := q.clone()
	c.none = true
	return c
}

func (q *QuerySet) IsNone() bool { return q.none }

// HasFilters reports whether any condition narrows the queryset.
func (q *QuerySet) HasFilters() bool {
	return len(q.where) > 0
}

// IsSticky reports whether the next Filter keeps joining the same relation.
func (q *QuerySet) IsSticky() bool { return q.sticky }

func (q *QuerySet) IsDistinct() bool { return q.distinct }

// PrefetchRelated loads the named many-to-many relations for every fetched
// instance in one query per relation.
func (q *QuerySet) PrefetchRelated(names ...string) *QuerySet {
	c := q.clone()
	c.prefetch = append(c.prefetch, names...)
	return c
}

// Call runs a custom queryset method.
func (q *QuerySet) Call(name string, args ...interface{}) (*QuerySet, error) {
	if q.class != nil {
		if method, ok := q.class.Methods[name]; ok {
			return method.Func(q, args...)
		}
	}
	return nil, newError("call", q.model.Table(), ErrAttribute, "'QuerySet' object has no attribute '%s'", name)
}

func (q *QuerySet) withJoin(table, on string) *QuerySet {
	c := q.clone()
	c.joins = append(c.joins, join{table: table, on: on})
	return c
}

func (q *QuerySet) withExtra(name, expr string) *QuerySet {
	c := q.clone()
	c.extra = append(c.extra, extraColumn{name: name, expr: expr})
	return c
}

func (q *QuerySet) markSticky() *QuerySet {
	c := q.clone()
	c.sticky = true
	return c
}

// withResultCache returns a copy that serves rows without querying.
func (q *QuerySet) withResultCache(rows []*Instance) *QuerySet {
	c := q.clone()
	c.cache = append([]*Instance(nil), rows...)
	c.cached = true
	return c
}

func (q *QuerySet) selectColumns() []string {
	table := q.model.Table()
	var cols []string
	for _, f := range q.model.ConcreteFields() {
		cols = append(cols, fmt.Sprintf("%s.%s AS %s", table, f.Column(), f.Column()))
	}
	for _, e := range q.extra {
		cols = append(cols, fmt.Sprintf("%s AS %s", e.expr, e.name))
	}
	return cols
}

func (q *QuerySet) orderClauses() []string {
	fields := q.orderBy
	if len(fields) == 0 {
		fields = q.model.opts.Ordering
	}
	clauses := make([]string, 0, len(fields))
	for _, f := range fields {
		dir := "ASC"
		if strings.HasPrefix(f, "-") {
			dir = "DESC"
			f = f[1:]
		}
		clauses = append(clauses, q.Col(f).String()+" "+dir)
	}
	return clauses
}

func (q *QuerySet) applyClauses(b squirrel.SelectBuilder) squirrel.SelectBuilder {
	for _, j := range q.joins {
		b = b.Join(fmt.Sprintf("%s ON %s", j.table, j.on))
	}
	if len(q.where) > 0 {
		b = b.Where(squirrel.And(q.where))
	}
	return b
}

func (q *QuerySet) selectBuilder() squirrel.SelectBuilder {
	b := squirrel.Select(q.selectColumns()...).From(q.model.Table())
	if q.distinct {
		b = b.Distinct()
	}
	b = q.applyClauses(b)
	if order := q.orderClauses(); len(order) > 0 {
		b = b.OrderBy(order...)
	}
	if q.limit != nil {
		b = b.Limit(*q.limit)
	}
	if q.offset != nil {
		b = b.Offset(*q.offset)
	}
	return b
}

// valuesBuilder selects a single qualified column, for use as a subquery.
func (q *QuerySet) valuesBuilder(column string) squirrel.SelectBuilder {
	b := squirrel.Select(column).From(q.model.Table())
	if q.distinct {
		b = b.Distinct()
	}
	b = q.applyClauses(b)
	if q.limit != nil {
		b = b.Limit(*q.limit)
	}
	if q.offset != nil {
		b = b.Offset(*q.offset)
	}
	return b
}

// ToSQL renders the SELECT with '?' placeholders.
func (q *QuerySet) ToSQL() (string, []interface{}, error) {
	return q.selectBuilder().ToSql()
}

// Fetch evaluates the queryset.
func (q *QuerySet) Fetch(ctx context.Context) ([]*Instance, error) {
	if q.cached {
		return append([]*Instance(nil), q.cache...), nil
	}
	if q.none {
		return []*Instance{}, nil
	}

	alias := q.DB()
	var instances []*Instance
	err := q.registry().run(ctx, OpQuery, q.model.Table(), alias, q.selectBuilder(),
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			rows, err := exec.QueryxContext(ctx, query, args...)
			if err != nil {
				return err
			}
			records, err := scanRows(rows)
			if err != nil {
				return err
			}
			instances = make([]*Instance, 0, len(records))
			for _, record := range records {
				instances = append(instances, q.model.fromRow(record, alias))
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	for _, name := range q.prefetch {
		if err := PrefetchRelatedObjects(ctx, instances, name); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

// Get returns the single matching instance.
func (q *QuerySet) Get(ctx context.Context, conds ...Condition) (*Instance, error) {
	clone := q.Filter(conds...)
	clone.orderBy = nil
	if clone.limit == nil {
		clone = clone.Limit(2)
	}

	rows, err := clone.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	switch len(rows) {
	case 1:
		return rows[0], nil
	case 0:
		return nil, newError("get", q.model.Table(), ErrDoesNotExist,
			"%s matching query does not exist.", q.model.opts.ObjectName)
	default:
		return nil, newError("get", q.model.Table(), ErrMultipleObjectsReturned,
			"get() returned more than one %s -- it returned %d!", q.model.opts.ObjectName, len(rows))
	}
}

// First returns the first instance in order, or ErrDoesNotExist.
func (q *QuerySet) First(ctx context.Context) (*Instance, error) {
	qs := q
	if len(q.orderBy) == 0 && len(q.model.opts.Ordering) == 0 && q.model.pk != nil {
		qs = q.OrderBy(q.model.pk.Name())
	}
	rows, err := qs.Limit(1).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, newError("first", q.model.Table(), ErrDoesNotExist,
			"%s matching query does not exist.", q.model.opts.ObjectName)
	}
	return rows[0], nil
}

func (q *QuerySet) Count(ctx context.Context) (int64, error) {
	if q.cached {
		return int64(len(q.cache)), nil
	}
	if q.none {
		return 0, nil
	}

	var builder squirrel.Sqlizer
	if q.distinct || q.limit != nil || q.offset != nil || len(q.extra) > 0 {
		inner := q.clone()
		inner.orderBy = nil
		builder = squirrel.Select("COUNT(*)").FromSelect(inner.selectBuilder().OrderBy(), "subquery")
	} else {
		builder = q.applyClauses(squirrel.Select("COUNT(*)").From(q.model.Table()))
	}

	var count int64
	err := q.registry().run(ctx, OpCount, q.model.Table(), q.DB(), builder,
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			return exec.QueryRowxContext(ctx, query, args...).Scan(&count)
		})
	return count, err
}

func (q *QuerySet) Exists(ctx context.Context) (bool, error) {
	if q.cached {
		return len(q.cache) > 0, nil
	}
	n, err := q.Limit(1).Count(ctx)
	return n > 0, err
}

// ValuesList returns one field's values, in query order.
func (q *QuerySet) ValuesList(ctx context.Context, field string) ([]interface{}, error) {
	if q.cached {
		out := make([]interface{}, 0, len(q.cache))
		for _, inst := range q.cache {
			out = append(out, inst.Get(field))
		}
		return out, nil
	}
	if q.none {
		return []interface{}{}, nil
	}

	b := q.valuesBuilder(q.Col(field).String())
	if order := q.orderClauses(); len(order) > 0 {
		b = b.OrderBy(order...)
	}

	var values []interface{}
	err := q.registry().run(ctx, OpQuery, q.model.Table(), q.DB(), b,
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			rows, err := exec.QueryxContext(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var v interface{}
				if err := rows.Scan(&v); err != nil {
					return err
				}
				values = append(values, normalizeValue(v))
			}
			return rows.Err()
		})
	return values, err
}

// pkSubquery selects the primary keys matched by q.
func (q *QuerySet) pkSubquery() squirrel.SelectBuilder {
	inner := q.clone()
	inner.orderBy = nil
	return inner.valuesBuilder(q.Col(q.model.pk.Name()).String())
}

func (q *QuerySet) writeCondition() squirrel.Sqlizer {
	if len(q.joins) > 0 || q.limit != nil || q.offset != nil {
		return squirrel.Expr(q.model.pk.Column()+" IN (?)", q.pkSubquery())
	}
	if len(q.where) == 0 {
		return nil
	}
	return squirrel.And(q.where)
}

// Update sets values on every matching row and returns the number updated.
func (q *QuerySet) Update(ctx context.Context, values Values) (int64, error) {
	if q.none || len(values) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	b := squirrel.Update(q.model.Table())
	for _, name := range names {
		v := values[name]
		column := name
		if f, err := q.model.Field(name); err == nil {
			if !f.Concrete() {
				return 0, newError("update", q.model.Table(), ErrValue, "cannot update non-concrete field %q", name)
			}
			column = f.Column()
			if fk, ok := asForeignKey(f); ok {
				if inst, ok := v.(*Instance); ok {
					v = fk.valueOf(inst)
				}
			}
		}
		b = b.Set(column, v)
	}
	if cond := q.writeCondition(); cond != nil {
		b = b.Where(cond)
	}

	var affected int64
	err := q.registry().run(ctx, OpUpdate, q.model.Table(), q.writeDB(), b,
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			res, err := exec.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	return affected, err
}

// rawDelete removes matching rows with a single statement.
func (q *QuerySet) rawDelete(ctx context.Context, alias string) (int64, error) {
	b := squirrel.Delete(q.model.Table())
	if cond := q.writeCondition(); cond != nil {
		b = b.Where(cond)
	}

	var affected int64
	err := q.registry().run(ctx, OpDelete, q.model.Table(), alias, b,
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			res, err := exec.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
	return affected, err
}

// insert writes rows and, when returnPK is set, returns the generated key of
// the single row.
func (q *QuerySet) insert(ctx context.Context, columns []string, rows [][]interface{}, returnPK bool) (interface{}, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	table := q.model.Table()

	var builder squirrel.Sqlizer
	switch {
	case len(columns) == 0:
		stmt := "INSERT INTO " + table + " DEFAULT VALUES"
		if returnPK {
			stmt += " RETURNING " + q.model.pk.Column()
		}
		builder = squirrel.Expr(stmt)
	default:
		b := squirrel.Insert(table).Columns(columns...)
		for _, row := range rows {
			b = b.Values(row...)
		}
		if returnPK {
			b = b.Suffix("RETURNING " + q.model.pk.Column())
		}
		builder = b
	}

	op := OpCreate
	if len(rows) > 1 {
		op = OpCreateMany
	}

	var pk interface{}
	err := q.registry().run(ctx, op, table, q.writeDB(), builder,
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			if returnPK {
				return exec.QueryRowxContext(ctx, query, args...).Scan(&pk)
			}
			_, err := exec.ExecContext(ctx, query, args...)
			return err
		})
	return normalizeValue(pk), err
}

// Create saves a new instance built from values.
func (q *QuerySet) Create(ctx context.Context, values Values) (*Instance, error) {
	obj := q.model.New(values)
	if err := obj.save(ctx, q.writeDB(), true); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetOrCreate looks an instance up by lookup, creating it from lookup and
// defaults when missing.
func (q *QuerySet) GetOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	obj, err := q.FilterBy(lookup).Get(ctx)
	if err == nil {
		return obj, false, nil
	}
	if !IsDoesNotExist(err) {
		return nil, false, err
	}

	alias := q.writeDB()
	err = Atomic(ctx, q.registry().conns, alias, func(ctx context.Context) error {
		var createErr error
		obj, createErr = q.Using(alias).Create(ctx, mergeValues(lookup, defaults))
		return createErr
	})
	if err == nil {
		return obj, true, nil
	}
	if IsConstraintError(err) {
		if existing, getErr := q.Using(alias).FilterBy(lookup).Get(ctx); getErr == nil {
			return existing, false, nil
		}
	}
	return nil, false, err
}

// UpdateOrCreate updates the instance matching lookup with defaults, or
// creates it.
func (q *QuerySet) UpdateOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	alias := q.writeDB()
	var obj *Instance
	var created bool
	err := Atomic(ctx, q.registry().conns, alias, func(ctx context.Context) error {
		existing, err := q.Using(alias).FilterBy(lookup).Get(ctx)
		switch {
		case err == nil:
			for k, v := range defaults {
				existing.Set(k, v)
			}
			obj = existing
			return existing.save(ctx, alias, false)
		case IsDoesNotExist(err):
			obj, err = q.Using(alias).Create(ctx, mergeValues(lookup, defaults))
			created = err == nil
			return err
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return obj, created, nil
}

// BulkCreate inserts objs with as few statements as possible. Signals are
// not sent and generated keys are not read back.
func (q *QuerySet) BulkCreate(ctx context.Context, objs []*Instance) ([]*Instance, error) {
	if len(objs) == 0 {
		return objs, nil
	}
	for _, obj := range objs {
		if obj.model != q.model {
			return nil, newError("bulk_create", q.model.Table(), ErrType,
				"'%s' instance expected, got %s", q.model.opts.ObjectName, obj.model.opts.ObjectName)
		}
	}

	var withPK, withoutPK []*Instance
	for _, obj := range objs {
		if obj.PK() != nil {
			withPK = append(withPK, obj)
		} else {
			withoutPK = append(withoutPK, obj)
		}
	}

	alias := q.writeDB()
	err := Atomic(ctx, q.registry().conns, alias, func(ctx context.Context) error {
		target := q.Using(alias)
		for _, group := range [][]*Instance{withPK, withoutPK} {
			if len(group) == 0 {
				continue
			}
			includePK := group[0].PK() != nil
			columns, fields := q.model.insertColumns(includePK)
			rows := make([][]interface{}, 0, len(group))
			for _, obj := range group {
				row := make([]interface{}, 0, len(fields))
				for _, f := range fields {
					row = append(row, obj.values[f.Attname()])
				}
				rows = append(rows, row)
			}
			if _, err := target.insert(ctx, columns, rows, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, obj := range objs {
		obj.State.DB = alias
		obj.State.Adding = false
	}
	return objs, nil
}

func mergeValues(base, overrides Values) Values {
	out := make(Values, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// RawQuerySet runs caller-supplied SQL and maps rows onto a model.
type RawQuerySet struct {
	model  *Model
	sql    string
	params []interface{}
	db     string
}

func (r *RawQuerySet) Using(alias string) *RawQuerySet {
	c := *r
	c.db = alias
	return &c
}

func (r *RawQuerySet) DB() string {
	if r.db != "" {
		return r.db
	}
	return r.model.registry.router.DBForRead(r.model, Hints{})
}

func (r *RawQuerySet) SQL() string { return r.sql }

func (r *RawQuerySet) Fetch(ctx context.Context) ([]*Instance, error) {
	alias := r.DB()
	var instances []*Instance
	err := r.model.registry.run(ctx, OpRaw, r.model.Table(), alias, squirrel.Expr(r.sql, r.params...),
		func(ctx context.Context, exec DBExecutor, query string, args []interface{}) error {
			rows, err := exec.QueryxContext(ctx, query, args...)
			if err != nil {
				return err
			}
			records, err := scanRows(rows)
			if err != nil {
				return err
			}
			for _, record := range records {
				instances = append(instances, r.model.fromRow(record, alias))
			}
			return nil
		})
	return instances, err
}
