package orm

import (
	"context"
	"fmt"
)

// Values maps field names (or attnames) to values.
type Values map[string]interface{}

// InstanceState tracks where an instance lives.
type InstanceState struct {
	// DB is the alias the instance was loaded from or saved to.
	DB string
	// Adding is true until the instance is first saved.
	Adding bool
}

// Instance is one row of a model.
type Instance struct {
	model  *Model
	values Values
	extra  Values
	State  InstanceState

	prefetched map[string]*QuerySet
}

// New builds an unsaved instance with field defaults applied.
func (m *Model) New(values Values) *Instance {
	inst := &Instance{
		model:  m,
		values: make(Values),
		extra:  make(Values),
		State:  InstanceState{Adding: true},
	}
	for _, f := range m.ConcreteFields() {
		b := f.base()
		if !b.hasDefault {
			inst.values[f.Attname()] = emptyValue(b)
			continue
		}
		v := b.def
		if fn, ok := v.(func() interface{}); ok {
			v = fn()
		}
		inst.values[f.Attname()] = v
	}
	for k, v := range values {
		inst.Set(k, v)
	}
	return inst
}

// emptyValue is the value of an omitted field without a default. Non-null
// string fields store the empty string.
func emptyValue(b *fieldBase) interface{} {
	if !b.null && (b.kind == TypeChar || b.kind == TypeText) {
		return ""
	}
	return nil
}

// fromRow maps a row keyed by column onto a loaded instance. Unknown columns
// land in the instance's extra values.
func (m *Model) fromRow(record map[string]interface{}, alias string) *Instance {
	inst := &Instance{
		model:  m,
		values: make(Values),
		extra:  make(Values),
		State:  InstanceState{DB: alias},
	}
	byColumn := make(map[string]string)
	for _, f := range m.ConcreteFields() {
		byColumn[f.Column()] = f.Attname()
	}
	for col, v := range record {
		if attname, ok := byColumn[col]; ok {
			inst.values[attname] = v
		} else {
			inst.extra[col] = v
		}
	}
	return inst
}

// insertColumns lists the columns written by an INSERT together with their
// fields, leaving out the primary key unless includePK is set.
func (m *Model) insertColumns(includePK bool) ([]string, []Field) {
	var columns []string
	var fields []Field
	for _, f := range m.ConcreteFields() {
		if f == m.pk && !includePK {
			continue
		}
		columns = append(columns, f.Column())
		fields = append(fields, f)
	}
	return columns, fields
}

// valueOf is the value of the referenced field on inst.
func (f *ForeignKey) valueOf(inst *Instance) interface{} {
	if inst == nil {
		return nil
	}
	if f.toField != "" {
		return inst.Get(f.toField)
	}
	return inst.PK()
}

func (i *Instance) Model() *Model { return i.model }

// Get returns a field value by name or attname, falling back to values
// selected alongside the row.
func (i *Instance) Get(name string) interface{} {
	if f, err := i.model.Field(name); err == nil && f.Concrete() {
		return i.values[f.Attname()]
	}
	return i.extra[name]
}

// Set assigns a field value. Passing an instance to a foreign key stores the
// referenced key.
func (i *Instance) Set(name string, v interface{}) {
	f, err := i.model.Field(name)
	if err != nil || !f.Concrete() {
		i.extra[name] = v
		return
	}
	if fk, ok := asForeignKey(f); ok {
		if related, ok := v.(*Instance); ok {
			v = fk.valueOf(related)
		}
	}
	i.values[f.Attname()] = v
}

func (i *Instance) PK() interface{} {
	if i.model.pk == nil {
		return nil
	}
	return i.values[i.model.pk.Attname()]
}

func (i *Instance) SetPK(v interface{}) {
	if i.model.pk != nil {
		i.values[i.model.pk.Attname()] = v
	}
}

// Values returns a copy of the field values keyed by attname.
func (i *Instance) Values() Values {
	out := make(Values, len(i.values))
	for k, v := range i.values {
		out[k] = v
	}
	return out
}

func (i *Instance) String() string {
	if i.model.stringer != nil {
		return i.model.stringer(i)
	}
	return fmt.Sprintf("%s object (%v)", i.model.opts.ObjectName, i.PK())
}

// Manager always fails: managers are reachable through models only.
func (i *Instance) Manager(name string) (*Manager, error) {
	return i.model.registry.GetManager(i.model, name, ViaInstance)
}

// Related returns the many-to-many manager for a forward or reverse
// many-to-many accessor.
func (i *Instance) Related(name string) (*ManyToManyManager, error) {
	f, err := i.model.Field(name)
	if err == nil {
		switch rel := f.(type) {
		case *ManyToManyField:
			return newManyToManyManager(rel, i, false)
		case *ReverseManyToManyField:
			return newManyToManyManager(rel.forward, i, true)
		}
	}
	return nil, newError("related", i.model.Table(), ErrAttribute,
		"'%s' object has no many-to-many relation '%s'", i.model.opts.ObjectName, name)
}

// RelatedSet returns the rows of a reverse foreign key accessor.
func (i *Instance) RelatedSet(name string) (*QuerySet, error) {
	f, err := i.model.Field(name)
	if err == nil {
		var fk *ForeignKey
		switch rel := f.(type) {
		case *ReverseForeignKey:
			fk = rel.forward
		case *ReverseOneToOneField:
			fk = rel.forward
		}
		if fk != nil {
			mgr, err := fk.model.DefaultManager()
			if err != nil {
				return nil, err
			}
			qs := mgr.GetQuerySet().WithHints(Hints{Instance: i})
			return qs.Filter(qs.Col(fk.Name()).Eq(fk.valueOf(i))), nil
		}
	}
	return nil, newError("related_set", i.model.Table(), ErrAttribute,
		"'%s' object has no reverse relation '%s'", i.model.opts.ObjectName, name)
}

// RelatedObject follows a foreign key. A null key yields nil.
func (i *Instance) RelatedObject(ctx context.Context, name string) (*Instance, error) {
	f, err := i.model.Field(name)
	if err != nil {
		return nil, err
	}
	fk, ok := asForeignKey(f)
	if !ok {
		return nil, newError("related_object", i.model.Table(), ErrAttribute,
			"%s.%s is not a foreign key", i.model.opts.ObjectName, name)
	}
	val := i.values[fk.Attname()]
	if val == nil {
		return nil, nil
	}

	target, err := fk.TargetField()
	if err != nil {
		return nil, err
	}
	base, err := target.Model().BaseManager()
	if err != nil {
		return nil, err
	}
	qs := base.GetQuerySet().WithHints(Hints{Instance: i})
	return qs.Get(ctx, qs.Col(target.Name()).Eq(val))
}

// SetPrefetched caches qs as the result of the named relation.
func (i *Instance) SetPrefetched(name string, qs *QuerySet) {
	if i.prefetched == nil {
		i.prefetched = make(map[string]*QuerySet)
	}
	i.prefetched[name] = qs
}

func (i *Instance) Prefetched(name string) (*QuerySet, bool) {
	qs, ok := i.prefetched[name]
	return qs, ok
}

func (i *Instance) writeDB() string {
	return i.model.registry.router.DBForWrite(i.model, Hints{Instance: i})
}

// Save inserts or updates the row on the router's write database.
func (i *Instance) Save(ctx context.Context) error {
	return i.save(ctx, i.writeDB(), false)
}

func (i *Instance) SaveUsing(ctx context.Context, alias string) error {
	return i.save(ctx, alias, false)
}

func (i *Instance) save(ctx context.Context, alias string, forceInsert bool) error {
	if err := i.model.checkUsable("save"); err != nil {
		return err
	}
	r := i.model.registry
	base, err := i.model.BaseManager()
	if err != nil {
		return err
	}

	return Atomic(ctx, r.conns, alias, func(ctx context.Context) error {
		if err := r.signals.PreSave.Send(ctx, i.model, SaveEvent{
			Sender: i.model, Instance: i, Created: i.State.Adding, Using: alias,
		}); err != nil {
			return err
		}

		qs := newQuerySet(i.model, alias)
		qs.class = base.class.querySetClass()

		created := true
		if i.PK() != nil && !forceInsert {
			updated, err := i.updateRow(ctx, qs)
			if err != nil {
				return err
			}
			created = !updated
		}

		if created {
			includePK := i.PK() != nil
			columns, fields := i.model.insertColumns(includePK)
			row := make([]interface{}, 0, len(fields))
			for _, f := range fields {
				row = append(row, i.values[f.Attname()])
			}
			pk, err := qs.insert(ctx, columns, [][]interface{}{row}, !includePK)
			if err != nil {
				return err
			}
			if !includePK {
				i.SetPK(pk)
			}
		}

		i.State.DB = alias
		i.State.Adding = false

		return r.signals.PostSave.Send(ctx, i.model, SaveEvent{
			Sender: i.model, Instance: i, Created: created, Using: alias,
		})
	})
}

// updateRow writes every non-key field and reports whether the row existed.
func (i *Instance) updateRow(ctx context.Context, qs *QuerySet) (bool, error) {
	byPK := qs.Filter(qs.Col(i.model.pk.Name()).Eq(i.PK()))

	values := make(Values)
	for _, f := range i.model.ConcreteFields() {
		if f == i.model.pk {
			continue
		}
		values[f.Name()] = i.values[f.Attname()]
	}
	if len(values) == 0 {
		return byPK.Exists(ctx)
	}
	n, err := byPK.Update(ctx, values)
	return n > 0, err
}

// Delete removes the row and applies each referencing foreign key's
// on-delete policy. It returns the number of rows removed.
func (i *Instance) Delete(ctx context.Context) (int64, error) {
	if i.PK() == nil {
		return 0, newError("delete", i.model.Table(), ErrValue,
			"%s object can't be deleted because its %s attribute is set to None.",
			i.model.opts.ObjectName, i.model.pk.Name())
	}
	alias := i.writeDB()
	c := newCollector(i.model.registry, alias)
	err := Atomic(ctx, i.model.registry.conns, alias, func(ctx context.Context) error {
		return c.delete(ctx, i)
	})
	if err != nil {
		return 0, err
	}
	return c.deleted, nil
}

// collector deletes instances depth first, visiting each row once.
type collector struct {
	registry *Registry
	alias    string
	seen     map[string]struct{}
	deleted  int64
}

func newCollector(r *Registry, alias string) *collector {
	return &collector{registry: r, alias: alias, seen: make(map[string]struct{})}
}

// canFastDelete reports whether rows of m can go in one statement.
func (c *collector) canFastDelete(m *Model) bool {
	s := c.registry.signals
	if s.PreDelete.HasListeners(m) || s.PostDelete.HasListeners(m) {
		return false
	}
	for _, rel := range m.related {
		switch rel.(type) {
		case *ReverseForeignKey, *ReverseOneToOneField:
			return false
		}
	}
	return true
}

func (c *collector) delete(ctx context.Context, inst *Instance) error {
	key := fmt.Sprintf("%s:%v", inst.model.LabelLower(), normalizeKey(inst.PK()))
	if _, ok := c.seen[key]; ok {
		return nil
	}
	c.seen[key] = struct{}{}

	s := c.registry.signals
	if err := s.PreDelete.Send(ctx, inst.model, DeleteEvent{Sender: inst.model, Instance: inst, Using: c.alias}); err != nil {
		return err
	}

	for _, rel := range inst.model.related {
		var fk *ForeignKey
		switch r := rel.(type) {
		case *ReverseForeignKey:
			fk = r.forward
		case *ReverseOneToOneField:
			fk = r.forward
		default:
			continue
		}
		if err := c.applyPolicy(ctx, inst, fk); err != nil {
			return err
		}
	}

	qs := newQuerySet(inst.model, c.alias)
	n, err := qs.Filter(qs.Col(inst.model.pk.Name()).Eq(inst.PK())).rawDelete(ctx, c.alias)
	if err != nil {
		return err
	}
	c.deleted += n

	if err := s.PostDelete.Send(ctx, inst.model, DeleteEvent{Sender: inst.model, Instance: inst, Using: c.alias}); err != nil {
		return err
	}
	inst.SetPK(nil)
	inst.State.Adding = true
	return nil
}

func (c *collector) applyPolicy(ctx context.Context, inst *Instance, fk *ForeignKey) error {
	if fk.onDelete == DoNothing {
		return nil
	}
	child := fk.model
	qs := newQuerySet(child, c.alias)
	qs = qs.Filter(qs.Col(fk.Name()).Eq(fk.valueOf(inst)))

	switch fk.onDelete {
	case Protect:
		exists, err := qs.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return newError("delete", inst.model.Table(), ErrProtected,
				"Cannot delete some instances of model '%s' because they are referenced through a protected foreign key: '%s.%s'",
				inst.model.opts.ObjectName, child.opts.ObjectName, fk.Name())
		}
		return nil

	case SetNull:
		_, err := qs.Update(ctx, Values{fk.Name(): nil})
		return err

	default:
		if c.canFastDelete(child) {
			n, err := qs.rawDelete(ctx, c.alias)
			c.deleted += n
			return err
		}
		rows, err := qs.Fetch(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := c.delete(ctx, row); err != nil {
				return err
			}
		}
		return nil
	}
}

// Delete removes every matching row, applying on-delete policies, and
// returns the number of rows removed.
func (q *QuerySet) Delete(ctx context.Context) (int64, error) {
	if q.none {
		return 0, nil
	}
	alias := q.writeDB()
	c := newCollector(q.registry(), alias)
	if c.canFastDelete(q.model) {
		return q.rawDelete(ctx, alias)
	}

	err := Atomic(ctx, q.registry().conns, alias, func(ctx context.Context) error {
		rows, err := q.Using(alias).Fetch(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := c.delete(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.deleted, nil
}
