package orm

import (
	"context"
)

// ManagerClass describes a kind of manager. Parent links replace class
// inheritance: scopes apply from the root of the chain down, and base-manager
// selection walks the chain upwards.
type ManagerClass struct {
	Name   string
	Parent *ManagerClass

	// UseForRelatedFields lets a custom class serve as a model's base manager.
	UseForRelatedFields bool

	// Scope narrows the queryset returned by GetQuerySet.
	Scope func(qs *QuerySet) *QuerySet

	// QuerySet supplies extra queryset methods.
	QuerySet *QuerySetClass
}

// BaseManagerClass is the plain manager class.
var BaseManagerClass = &ManagerClass{Name: "Manager"}

// EmptyManagerClass always returns an empty queryset.
var EmptyManagerClass = &ManagerClass{
	Name:   "EmptyManager",
	Parent: BaseManagerClass,
	Scope:  func(qs *QuerySet) *QuerySet { return qs.None() },
}

// NewManagerClass derives a class from parent, which defaults to
// BaseManagerClass.
func NewManagerClass(name string, parent *ManagerClass, scope func(qs *QuerySet) *QuerySet) *ManagerClass {
	if parent == nil {
		parent = BaseManagerClass
	}
	return &ManagerClass{Name: name, Parent: parent, Scope: scope}
}

func (c *ManagerClass) String() string { return c.Name }

// IsPlain reports whether c is the plain manager class.
func (c *ManagerClass) IsPlain() bool { return c == BaseManagerClass }

// Ancestors returns the parent chain, nearest first, excluding c.
func (c *ManagerClass) Ancestors() []*ManagerClass {
	var out []*ManagerClass
	for p := c.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}

// servesRelatedFields reports whether c may act as a base manager.
func (c *ManagerClass) servesRelatedFields() bool {
	return c.IsPlain() || c.UseForRelatedFields
}

func (c *ManagerClass) querySetClass() *QuerySetClass {
	for k := c; k != nil; k = k.Parent {
		if k.QuerySet != nil {
			return k.QuerySet
		}
	}
	return nil
}

func (c *ManagerClass) applyScopes(qs *QuerySet) *QuerySet {
	chain := append([]*ManagerClass{c}, c.Ancestors()...)
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Scope != nil {
			qs = chain[i].Scope(qs)
		}
	}
	return qs
}

// Manager is the entry point for querying one model.
type Manager struct {
	class           *ManagerClass
	registry        *Registry
	model           *Model
	name            string
	creationCounter uint64
	inherited       bool
	db              string
}

// Class is the manager class m was built from.
func (m *Manager) Class() *ManagerClass { return m.class }

// Model is the model m is attached to, or nil before ContributeToModel.
func (m *Manager) Model() *Model { return m.model }

// Name is the attribute name m is attached under.
func (m *Manager) Name() string { return m.name }

// CreationCounter orders managers by construction; the lowest on a model is
// its default manager.
func (m *Manager) CreationCounter() uint64 { return m.creationCounter }

// Inherited reports whether m was copied from an abstract parent.
func (m *Manager) Inherited() bool { return m.inherited }

func (m *Manager) String() string {
	if m.model == nil {
		return m.class.Name
	}
	return m.model.Label() + "." + m.name
}

// ContributeToModel binds m to model under name and updates the model's
// default manager and manager lists.
func (m *Manager) ContributeToModel(model *Model, name string) {
	if m.name == "" {
		m.name = name
	}
	m.model = model

	kind := descriptorManager
	switch {
	case model.opts.Abstract:
		kind = descriptorAbstract
	case model.Swapped() != "":
		kind = descriptorSwapped
	}
	model.descriptors[name] = managerDescriptor{kind: kind, manager: m}

	if model.defaultManager == nil || m.creationCounter < model.defaultManager.creationCounter {
		model.defaultManager = m
	}

	if model.opts.Abstract || m.inherited {
		model.abstractManagers = insertManagerSorted(model.abstractManagers, m)
	} else {
		model.concreteManagers = insertManagerSorted(model.concreteManagers, m)
	}
}

// copyToModel clones m for a model extending m's abstract model. The copy
// gets a fresh creation counter.
func (m *Manager) copyToModel(model *Model) (*Manager, error) {
	if !model.Extends(m.model) {
		return nil, newError("copy_manager", model.Table(), ErrInternal,
			"%s does not extend %s", model.Label(), m.model.Label())
	}
	copied := *m
	copied.creationCounter = m.registry.nextCreationCounter()
	copied.model = model
	copied.inherited = true
	return &copied, nil
}

// ensureDefaultManager runs on ClassPrepared and guarantees a default and a
// base manager for concrete models.
func (r *Registry) ensureDefaultManager(ctx context.Context, ev ClassPreparedEvent) error {
	m := ev.Model

	if m.opts.Abstract {
		m.descriptors["objects"] = managerDescriptor{kind: descriptorAbstract}
		return nil
	}
	if m.Swapped() != "" {
		m.descriptors["objects"] = managerDescriptor{kind: descriptorSwapped}
		return nil
	}

	if m.defaultManager == nil {
		if _, err := m.Field("objects"); err == nil {
			return newError("ensure_default_manager", m.Table(), ErrImproperlyConfigured,
				"Model %s must specify a custom Manager, because it has a field named 'objects'", m.opts.ObjectName)
		}
		objects := r.NewManager(BaseManagerClass)
		objects.ContributeToModel(m, "objects")
		m.baseManager = objects
		return nil
	}

	if m.baseManager != nil {
		return nil
	}

	class := m.defaultManager.class
	if class.servesRelatedFields() {
		m.baseManager = m.defaultManager
		return nil
	}

	for _, ancestor := range class.Ancestors() {
		if ancestor.servesRelatedFields() {
			base := r.NewManager(ancestor)
			base.ContributeToModel(m, "_base_manager")
			m.baseManager = base
			return nil
		}
	}

	return newError("ensure_default_manager", m.Table(), ErrInternal,
		"Should never get here. Please report a bug, including your model and model manager setup.")
}

func (m *Manager) boundModel(op string) error {
	if m.model == nil {
		return newError(op, "", ErrImproperlyConfigured, "%s manager is not attached to a model", m.class.Name)
	}
	return nil
}

// DB is the pinned alias, or the router's read database.
func (m *Manager) DB() string {
	if m.db != "" {
		return m.db
	}
	return m.registry.router.DBForRead(m.model, Hints{})
}

// DBManager returns a copy of m pinned to alias.
func (m *Manager) DBManager(alias string) *Manager {
	copied := *m
	copied.db = alias
	return &copied
}

// GetQuerySet returns a fresh queryset for the model with the class scopes
// applied.
func (m *Manager) GetQuerySet() *QuerySet {
	qs := newQuerySet(m.model, m.db)
	qs.class = m.class.querySetClass()
	return m.class.applyScopes(qs)
}

// All is GetQuerySet under its queryset-facing name.
func (m *Manager) All() *QuerySet {
	return m.GetQuerySet()
}

func (m *Manager) None() *QuerySet {
	return m.GetQuerySet().None()
}

func (m *Manager) Filter(conds ...Condition) *QuerySet {
	return m.GetQuerySet().Filter(conds...)
}

func (m *Manager) FilterBy(values Values) *QuerySet {
	return m.GetQuerySet().FilterBy(values)
}

func (m *Manager) Exclude(conds ...Condition) *QuerySet {
	return m.GetQuerySet().Exclude(conds...)
}

func (m *Manager) OrderBy(fields ...string) *QuerySet {
	return m.GetQuerySet().OrderBy(fields...)
}

// PrefetchRelated returns the manager's queryset with the named many-to-many
// relations loaded on fetch.
func (m *Manager) PrefetchRelated(names ...string) *QuerySet {
	return m.GetQuerySet().PrefetchRelated(names...)
}

func (m *Manager) Get(ctx context.Context, conds ...Condition) (*Instance, error) {
	return m.GetQuerySet().Get(ctx, conds...)
}

func (m *Manager) Count(ctx context.Context) (int64, error) {
	return m.GetQuerySet().Count(ctx)
}

func (m *Manager) Create(ctx context.Context, values Values) (*Instance, error) {
	if err := m.boundModel("create"); err != nil {
		return nil, err
	}
	return m.GetQuerySet().Create(ctx, values)
}

func (m *Manager) GetOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	return m.GetQuerySet().GetOrCreate(ctx, lookup, defaults)
}

func (m *Manager) UpdateOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	return m.GetQuerySet().UpdateOrCreate(ctx, lookup, defaults)
}

func (m *Manager) BulkCreate(ctx context.Context, objs []*Instance) ([]*Instance, error) {
	return m.GetQuerySet().BulkCreate(ctx, objs)
}

// Raw returns a queryset that runs sql verbatim.
func (m *Manager) Raw(sql string, params ...interface{}) *RawQuerySet {
	return &RawQuerySet{model: m.model, sql: sql, params: params, db: m.db}
}

// Insert writes objs using only the named fields and returns nothing.
func (m *Manager) Insert(ctx context.Context, fields []string, objs []*Instance) error {
	if err := m.boundModel("insert"); err != nil {
		return err
	}
	columns := make([]string, 0, len(fields))
	for _, name := range fields {
		f, err := m.model.Field(name)
		if err != nil {
			return err
		}
		columns = append(columns, f.Column())
	}

	rows := make([][]interface{}, 0, len(objs))
	for _, obj := range objs {
		row := make([]interface{}, 0, len(fields))
		for _, name := range fields {
			row = append(row, obj.Get(name))
		}
		rows = append(rows, row)
	}

	_, err := m.GetQuerySet().insert(ctx, columns, rows, false)
	return err
}

// Call runs a queryset method exposed on the manager.
func (m *Manager) Call(name string, args ...interface{}) (*QuerySet, error) {
	qsClass := m.class.querySetClass()
	if qsClass != nil {
		if method, ok := qsClass.Methods[name]; ok && method.Manager {
			return method.Func(m.GetQuerySet(), args...)
		}
	}
	return nil, newError("call", m.model.Table(), ErrAttribute,
		"'%s' object has no attribute '%s'", m.class.Name, name)
}

// QuerySetMethod is a custom queryset method. Only methods with Manager set
// are reachable from managers built with AsManager.
type QuerySetMethod struct {
	Func    func(qs *QuerySet, args ...interface{}) (*QuerySet, error)
	Manager bool
}

// QuerySetClass groups custom queryset methods.
type QuerySetClass struct {
	Name    string
	Methods map[string]QuerySetMethod
}

// AsManager derives a manager class exposing the forwarded methods.
func (c *QuerySetClass) AsManager(parent *ManagerClass) *ManagerClass {
	if parent == nil {
		parent = BaseManagerClass
	}
	return &ManagerClass{
		Name:     "ManagerFrom" + c.Name,
		Parent:   parent,
		QuerySet: c,
	}
}
