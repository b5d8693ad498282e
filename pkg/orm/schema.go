package orm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"
	"github.com/jmoiron/sqlx"
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case "postgres", "pgx":
		return dialectPostgres, nil
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	}
	return "", newError("schema", "", ErrImproperlyConfigured, "unsupported driver %q", driverName)
}

func openSchemaDriver(db *sqlx.DB) (migrate.Driver, dialect, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, "", err
	}
	var drv migrate.Driver
	if d == dialectPostgres {
		drv, err = postgres.Open(db.DB)
	} else {
		drv, err = sqlite.Open(db.DB)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open schema driver: %w", err)
	}
	return drv, d, nil
}

// CreateTables creates any missing table for the registered models on alias.
// Existing tables are left untouched; this bootstraps a database and is not a
// migration tool.
func (r *Registry) CreateTables(ctx context.Context, alias string) error {
	changes, drv, err := r.tableChanges(ctx, alias)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	if err := drv.ApplyChanges(ctx, changes); err != nil {
		return ParseDBError(err, "create_tables", "")
	}
	r.logger.Info("tables created", "alias", alias, "tables", len(changes))
	return nil
}

// SchemaSQL returns the statements CreateTables would run on alias.
func (r *Registry) SchemaSQL(ctx context.Context, alias string) ([]string, error) {
	changes, drv, err := r.tableChanges(ctx, alias)
	if err != nil {
		return nil, err
	}
	plan, err := drv.PlanChanges(ctx, "create_tables", changes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	statements := make([]string, len(plan.Changes))
	for i, change := range plan.Changes {
		statements[i] = change.Cmd
	}
	return statements, nil
}

// tableChanges plans an AddTable for every model table missing on alias.
func (r *Registry) tableChanges(ctx context.Context, alias string) ([]schema.Change, migrate.Driver, error) {
	if err := r.CheckModelsReady(); err != nil {
		return nil, nil, err
	}
	db, err := r.conns.Get(alias)
	if err != nil {
		return nil, nil, err
	}
	drv, d, err := openSchemaDriver(db)
	if err != nil {
		return nil, nil, err
	}

	var models []*Model
	for _, m := range r.Models() {
		if m.Swapped() == "" {
			models = append(models, m)
		}
	}

	tables, err := buildTables(models, d)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	current, err := drv.InspectSchema(ctx, "", &schema.InspectOptions{Mode: schema.InspectTables, Tables: names})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to inspect schema: %w", err)
	}
	existing := make(map[string]bool, len(current.Tables))
	for _, t := range current.Tables {
		existing[t.Name] = true
	}

	changes := make([]schema.Change, 0, len(tables))
	for _, t := range tables {
		if existing[t.Name] {
			continue
		}
		changes = append(changes, &schema.AddTable{T: t})
	}
	return changes, drv, nil
}

// buildTables converts models to atlas tables, ordered so referenced tables
// come first.
func buildTables(models []*Model, d dialect) ([]*schema.Table, error) {
	tables := make(map[string]*schema.Table, len(models))
	byTable := make(map[string]*Model, len(models))

	for _, m := range models {
		t := schema.NewTable(m.Table())
		for _, f := range m.ConcreteFields() {
			col, err := columnFor(f, d)
			if err != nil {
				return nil, err
			}
			t.AddColumns(col)
			if f == m.pk {
				t.SetPrimaryKey(schema.NewPrimaryKey(col))
			}
		}
		tables[m.Table()] = t
		byTable[m.Table()] = m
	}

	for name, t := range tables {
		m := byTable[name]
		for _, f := range m.ConcreteFields() {
			col, _ := t.Column(f.Column())
			b := f.base()
			if b.dbIndex && !b.unique && f != m.pk {
				t.AddIndexes(schema.NewIndex(fmt.Sprintf("%s_%s_idx", name, f.Column())).AddColumns(col))
			}
			if b.unique && f != m.pk {
				t.AddIndexes(schema.NewUniqueIndex(fmt.Sprintf("%s_%s_key", name, f.Column())).AddColumns(col))
			}

			fk, ok := asForeignKey(f)
			if !ok || !fk.dbConstraint {
				continue
			}
			target, err := fk.TargetField()
			if err != nil {
				return nil, err
			}
			ref, ok := tables[target.Model().Table()]
			if !ok {
				continue
			}
			refCol, ok := ref.Column(target.Column())
			if !ok {
				return nil, newError("schema", name, ErrImproperlyConfigured,
					"referenced column %s.%s not found", ref.Name, target.Column())
			}
			t.AddForeignKeys(schema.NewForeignKey(fmt.Sprintf("%s_%s_fk", name, f.Column())).
				AddColumns(col).
				SetRefTable(ref).
				AddRefColumns(refCol))
		}

		for _, group := range m.opts.UniqueTogether {
			cols := make([]*schema.Column, 0, len(group))
			names := make([]string, 0, len(group))
			for _, fieldName := range group {
				f, err := m.Field(fieldName)
				if err != nil {
					return nil, err
				}
				col, _ := t.Column(f.Column())
				cols = append(cols, col)
				names = append(names, f.Column())
			}
			t.AddIndexes(schema.NewUniqueIndex(fmt.Sprintf("%s_%s_uniq", name, strings.Join(names, "_"))).AddColumns(cols...))
		}
	}

	return sortTables(tables)
}

func columnFor(f Field, d dialect) (*schema.Column, error) {
	typ, err := columnType(f, d, false)
	if err != nil {
		return nil, err
	}
	null := f.base().null && !f.PrimaryKey()
	return schema.NewColumn(f.Column()).SetType(typ).SetNull(null), nil
}

// columnType maps a field to its column type. A foreign key takes the type
// of the column it references, with serial keys referenced as integers.
func columnType(f Field, d dialect, referenced bool) (schema.Type, error) {
	if fk, ok := asForeignKey(f); ok {
		target, err := fk.TargetField()
		if err != nil {
			return nil, err
		}
		return columnType(target, d, true)
	}

	b := f.base()
	switch f.Type() {
	case TypeAuto:
		if d == dialectPostgres && !referenced {
			return &postgres.SerialType{T: postgres.TypeSerial}, nil
		}
		return &schema.IntegerType{T: "integer"}, nil
	case TypeChar:
		size := b.maxLength
		if size == 0 {
			size = 255
		}
		return &schema.StringType{T: "varchar", Size: size}, nil
	case TypeText:
		return &schema.StringType{T: "text"}, nil
	case TypeInteger:
		return &schema.IntegerType{T: "integer"}, nil
	case TypeBoolean:
		return &schema.BoolType{T: "boolean"}, nil
	case TypeDateTime:
		if d == dialectPostgres {
			return &schema.TimeType{T: "timestamp with time zone"}, nil
		}
		return &schema.TimeType{T: "datetime"}, nil
	}
	return nil, newError("schema", "", ErrImproperlyConfigured, "field %q has no column type", f.Name())
}

// sortTables returns tables with no dependencies first.
func sortTables(tables map[string]*schema.Table) ([]*schema.Table, error) {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	sorted := make([]*schema.Table, 0, len(tables))
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var visit func(string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("circular dependency detected involving table %s", name)
		}
		visiting[name] = true

		for _, fk := range tables[name].ForeignKeys {
			if dep := fk.RefTable.Name; dep != name {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		visiting[name] = false
		visited[name] = true
		sorted = append(sorted, tables[name])
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}
