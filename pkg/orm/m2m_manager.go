package orm

import (
	"context"
	"fmt"
)

// ManyToManyManager manages the objects related to one instance through a
// many-to-many relation, from either side.
type ManyToManyManager struct {
	*Manager

	field    *ManyToManyField
	instance *Instance
	reverse  bool
	through  *Model

	sourceFieldName string
	targetFieldName string
	sourceField     *ForeignKey
	targetField     *ForeignKey
	// targetJoin is the field on the related model the through table points at.
	targetJoin Field

	relatedVal        interface{}
	prefetchCacheName string
	symmetrical       bool
}

func newManyToManyManager(field *ManyToManyField, instance *Instance, reverse bool) (*ManyToManyManager, error) {
	through, err := field.Through()
	if err != nil {
		return nil, err
	}

	m := &ManyToManyManager{
		field:    field,
		instance: instance,
		reverse:  reverse,
		through:  through,
	}

	var target *Model
	if reverse {
		target = field.model
		m.sourceFieldName = field.m2mReverseFieldName
		m.targetFieldName = field.m2mFieldName
		m.prefetchCacheName = field.RelatedQueryName()
	} else {
		target, err = field.RelatedModel()
		if err != nil {
			return nil, err
		}
		m.sourceFieldName = field.m2mFieldName
		m.targetFieldName = field.m2mReverseFieldName
		m.prefetchCacheName = field.name
		m.symmetrical = field.symmetrical
	}

	defaultManager, err := target.DefaultManager()
	if err != nil {
		return nil, err
	}
	m.Manager = instance.model.registry.NewManager(defaultManager.class)
	m.Manager.model = target
	m.Manager.name = defaultManager.name

	if m.sourceField, err = throughForeignKey(through, m.sourceFieldName); err != nil {
		return nil, err
	}
	if m.targetField, err = throughForeignKey(through, m.targetFieldName); err != nil {
		return nil, err
	}
	if m.targetJoin, err = m.targetField.TargetField(); err != nil {
		return nil, err
	}

	m.relatedVal = m.sourceField.valueOf(instance)
	if m.relatedVal == nil {
		sourceTarget, err := m.sourceField.TargetField()
		if err != nil {
			return nil, err
		}
		return nil, newError("many_to_many", through.Table(), ErrValue,
			`"%s" needs to have a value for field "%s" before this many-to-many relationship can be used.`,
			instance, sourceTarget.Name())
	}
	if instance.PK() == nil {
		return nil, newError("many_to_many", through.Table(), ErrValue,
			"%s instance needs to have a primary key value before a many-to-many relationship can be used.",
			instance.model.opts.ObjectName)
	}
	return m, nil
}

func throughForeignKey(through *Model, name string) (*ForeignKey, error) {
	f, err := through.Field(name)
	if err != nil {
		return nil, err
	}
	fk, ok := asForeignKey(f)
	if !ok {
		return nil, newError("many_to_many", through.Table(), ErrImproperlyConfigured,
			"%s.%s is not a foreign key", through.opts.ObjectName, name)
	}
	return fk, nil
}

// Field is the many-to-many field the manager was built from.
func (m *ManyToManyManager) Field() *ManyToManyField { return m.field }

// Instance is the object whose related set the manager serves.
func (m *ManyToManyManager) Instance() *Instance { return m.instance }

// Reverse reports whether the manager was reached from the target model.
func (m *ManyToManyManager) Reverse() bool { return m.reverse }

// Through is the intermediary model holding the join rows.
func (m *ManyToManyManager) Through() *Model { return m.through }

// Symmetrical reports whether adds and removes are mirrored.
func (m *ManyToManyManager) Symmetrical() bool { return m.symmetrical }

// SourceFieldName names the through field pointing at Instance's model.
func (m *ManyToManyManager) SourceFieldName() string { return m.sourceFieldName }

// TargetFieldName names the through field pointing at the related model.
func (m *ManyToManyManager) TargetFieldName() string { return m.targetFieldName }

// RelatedVal is the instance's value stored in the source column.
func (m *ManyToManyManager) RelatedVal() interface{} { return m.relatedVal }

// PrefetchCacheName keys the instance's prefetched results for this relation.
func (m *ManyToManyManager) PrefetchCacheName() string { return m.prefetchCacheName }

func (m *ManyToManyManager) sourceColumn() Column {
	return Col(m.sourceField.Column()).Of(m.through.Table())
}

func (m *ManyToManyManager) targetColumn() Column {
	return Col(m.targetField.Column()).Of(m.through.Table())
}

// joinThrough joins the intermediary table onto a target queryset. The join
// is sticky so filtering on it does not make the queryset distinct.
func (m *ManyToManyManager) joinThrough(qs *QuerySet) *QuerySet {
	on := fmt.Sprintf("%s = %s", m.targetColumn(), Col(m.targetJoin.Column()).Of(m.Manager.model.Table()))
	return qs.withJoin(m.through.Table(), on).markSticky()
}

func (m *ManyToManyManager) applyRelFilters(qs *QuerySet) *QuerySet {
	qs = qs.WithHints(Hints{Instance: m.instance})
	return m.joinThrough(qs).Filter(m.sourceColumn().Eq(m.relatedVal))
}

// GetQuerySet returns the related objects, served from the prefetch cache
// when the relation was prefetched.
func (m *ManyToManyManager) GetQuerySet() *QuerySet {
	if qs, ok := m.instance.Prefetched(m.prefetchCacheName); ok {
		return qs
	}
	return m.applyRelFilters(m.Manager.GetQuerySet())
}

func (m *ManyToManyManager) All() *QuerySet { return m.GetQuerySet() }

func (m *ManyToManyManager) None() *QuerySet { return m.GetQuerySet().None() }

func (m *ManyToManyManager) Filter(conds ...Condition) *QuerySet {
	return m.GetQuerySet().Filter(conds...)
}

func (m *ManyToManyManager) FilterBy(values Values) *QuerySet {
	return m.GetQuerySet().FilterBy(values)
}

func (m *ManyToManyManager) Exclude(conds ...Condition) *QuerySet {
	return m.GetQuerySet().Exclude(conds...)
}

func (m *ManyToManyManager) OrderBy(fields ...string) *QuerySet {
	return m.GetQuerySet().OrderBy(fields...)
}

func (m *ManyToManyManager) Get(ctx context.Context, conds ...Condition) (*Instance, error) {
	return m.GetQuerySet().Get(ctx, conds...)
}

func (m *ManyToManyManager) Count(ctx context.Context) (int64, error) {
	return m.GetQuerySet().Count(ctx)
}

// Fetch evaluates the related objects.
func (m *ManyToManyManager) Fetch(ctx context.Context) ([]*Instance, error) {
	return m.GetQuerySet().Fetch(ctx)
}

func (m *ManyToManyManager) Call(name string, args ...interface{}) (*QuerySet, error) {
	qs := m.GetQuerySet()
	if qs.class != nil {
		if method, ok := qs.class.Methods[name]; ok && method.Manager {
			return method.Func(qs, args...)
		}
	}
	return nil, newError("call", m.Manager.model.Table(), ErrAttribute,
		"'%s' object has no attribute '%s'", m.class.Name, name)
}

// PrefetchResult describes one batched relation lookup. RelValue keys a
// fetched row and InstanceValue keys an owning instance; equal keys belong
// together.
type PrefetchResult struct {
	QuerySet      *QuerySet
	RelValue      func(row *Instance) interface{}
	InstanceValue func(inst *Instance) interface{}
	SingleValued  bool
	CacheName     string
}

// GetPrefetchQuerySet returns one query fetching the related objects of
// every instance, each row annotated with its owner's key.
func (m *ManyToManyManager) GetPrefetchQuerySet(instances []*Instance) PrefetchResult {
	qs := m.Manager.GetQuerySet()
	if len(instances) > 0 && instances[0].State.DB != "" && qs.db == "" {
		qs = qs.Using(instances[0].State.DB)
	}

	keys := newKeySet()
	for _, inst := range instances {
		keys.add(m.sourceField.valueOf(inst))
	}

	extra := "_prefetch_related_val_" + m.sourceField.Attname()
	qs = m.joinThrough(qs).
		Filter(m.sourceColumn().In(keys.values()...)).
		withExtra(extra, m.sourceColumn().String())

	source := m.sourceField
	return PrefetchResult{
		QuerySet:      qs,
		RelValue:      func(row *Instance) interface{} { return row.Get(extra) },
		InstanceValue: func(inst *Instance) interface{} { return source.valueOf(inst) },
		SingleValued:  false,
		CacheName:     m.prefetchCacheName,
	}
}

func (m *ManyToManyManager) checkAutoCreated(op string) error {
	if m.through.opts.AutoCreated {
		return nil
	}
	return newError(op, m.through.Table(), ErrAttribute,
		"Cannot use %s() on a ManyToManyField which specifies an intermediary model. Use %s.%s's Manager instead.",
		op, m.through.opts.AppLabel, m.through.opts.ObjectName)
}

func (m *ManyToManyManager) writeDB() string {
	return m.registry.router.DBForWrite(m.through, Hints{Instance: m.instance})
}

func (m *ManyToManyManager) clearPrefetched() {
	delete(m.instance.prefetched, m.prefetchCacheName)
}

func (m *ManyToManyManager) throughQuerySet(alias string) (*QuerySet, error) {
	mgr, err := m.through.DefaultManager()
	if err != nil {
		return nil, err
	}
	return mgr.DBManager(alias).GetQuerySet(), nil
}

func (m *ManyToManyManager) sendChanged(ctx context.Context, action M2MAction, pkSet []interface{}, alias string) error {
	return m.registry.signals.M2MChanged.Send(ctx, m.through, M2MChangedEvent{
		Sender:   m.through,
		Action:   action,
		Instance: m.instance,
		Reverse:  m.reverse,
		Model:    m.Manager.model,
		PKSet:    pkSet,
		Using:    alias,
	})
}

// Add relates objs, given as instances of the related model or as raw
// keys. Pairs that already exist are skipped.
func (m *ManyToManyManager) Add(ctx context.Context, objs ...interface{}) error {
	if err := m.checkAutoCreated("add"); err != nil {
		return err
	}
	m.clearPrefetched()

	alias := m.writeDB()
	return Atomic(ctx, m.registry.conns, alias, func(ctx context.Context) error {
		if err := m.addItems(ctx, alias, m.sourceFieldName, m.targetFieldName, true, objs...); err != nil {
			return err
		}
		if m.symmetrical {
			return m.addItems(ctx, alias, m.targetFieldName, m.sourceFieldName, false, objs...)
		}
		return nil
	})
}

// targetIDs converts objs to keys of the related model's joined field.
func (m *ManyToManyManager) targetIDs(op string, objs []interface{}, checkRouter bool) (*keySet, error) {
	ids := newKeySet()
	for _, obj := range objs {
		inst, ok := obj.(*Instance)
		if !ok {
			if obj == nil {
				return nil, newError(op, m.through.Table(), ErrValue,
					`Cannot %s "None": the value for field "%s" is None`, op, m.targetJoin.Name())
			}
			ids.add(obj)
			continue
		}
		if inst.model != m.Manager.model {
			return nil, newError(op, m.through.Table(), ErrType,
				"'%s' instance expected, got %s", m.Manager.model.opts.ObjectName, inst)
		}
		if checkRouter && !m.registry.router.AllowRelation(inst, m.instance) {
			return nil, newError(op, m.through.Table(), ErrValue,
				`Cannot add "%s": instance is on database "%s", value is on database "%s"`,
				inst, m.instance.State.DB, inst.State.DB)
		}
		key := m.targetField.valueOf(inst)
		if key == nil {
			return nil, newError(op, m.through.Table(), ErrValue,
				`Cannot %s "%s": the value for field "%s" is None`, op, inst, m.targetJoin.Name())
		}
		ids.add(key)
	}
	return ids, nil
}

// addItems inserts the missing (source, target) pairs. Only the primary
// pass sends m2m_changed, so a symmetrical add signals once.
func (m *ManyToManyManager) addItems(ctx context.Context, alias, sourceName, targetName string, primary bool, objs ...interface{}) error {
	if len(objs) == 0 {
		return nil
	}

	ids, err := m.targetIDs("add", objs, true)
	if err != nil {
		return err
	}

	sourceFK, err := throughForeignKey(m.through, sourceName)
	if err != nil {
		return err
	}
	targetFK, err := throughForeignKey(m.through, targetName)
	if err != nil {
		return err
	}

	throughQS, err := m.throughQuerySet(alias)
	if err != nil {
		return err
	}
	existing, err := throughQS.Filter(
		Col(sourceFK.Column()).Of(m.through.Table()).Eq(m.relatedVal),
		Col(targetFK.Column()).Of(m.through.Table()).In(ids.values()...),
	).ValuesList(ctx, targetName)
	if err != nil {
		return err
	}
	for _, v := range existing {
		ids.remove(v)
	}
	missing := ids.values()

	if primary {
		if err := m.sendChanged(ctx, ActionPreAdd, missing, alias); err != nil {
			return err
		}
	}

	rows := make([]*Instance, 0, len(missing))
	for _, id := range missing {
		rows = append(rows, m.through.New(Values{
			sourceFK.Attname(): m.relatedVal,
			targetFK.Attname(): id,
		}))
	}
	if _, err := throughQS.BulkCreate(ctx, rows); err != nil {
		return err
	}

	if primary {
		return m.sendChanged(ctx, ActionPostAdd, missing, alias)
	}
	return nil
}

// Remove deletes the pairs linking the instance to objs. When the related
// model's default manager filters its rows, only rows it can see are
// unlinked.
func (m *ManyToManyManager) Remove(ctx context.Context, objs ...interface{}) error {
	if err := m.checkAutoCreated("remove"); err != nil {
		return err
	}
	if len(objs) == 0 {
		return nil
	}
	m.clearPrefetched()

	oldIDs, err := m.targetIDs("remove", objs, false)
	if err != nil {
		return err
	}

	alias := m.writeDB()
	return Atomic(ctx, m.registry.conns, alias, func(ctx context.Context) error {
		if err := m.sendChanged(ctx, ActionPreRemove, oldIDs.values(), alias); err != nil {
			return err
		}

		var filters Condition
		targetQS := m.Manager.GetQuerySet()
		if targetQS.HasFilters() {
			scoped := targetQS.Using(alias).Filter(targetQS.Col(m.targetJoin.Name()).In(oldIDs.values()...))
			filters = m.buildRemoveFilters(nil, scoped)
		} else {
			filters = m.buildRemoveFilters(oldIDs.values(), nil)
		}

		if err := m.deleteThrough(ctx, alias, filters); err != nil {
			return err
		}
		return m.sendChanged(ctx, ActionPostRemove, oldIDs.values(), alias)
	})
}

// Clear unlinks every related object.
func (m *ManyToManyManager) Clear(ctx context.Context) error {
	if err := m.checkAutoCreated("clear"); err != nil {
		return err
	}
	m.clearPrefetched()

	alias := m.writeDB()
	return Atomic(ctx, m.registry.conns, alias, func(ctx context.Context) error {
		if err := m.sendChanged(ctx, ActionPreClear, nil, alias); err != nil {
			return err
		}
		filters := m.buildRemoveFilters(nil, m.Manager.GetQuerySet().Using(alias))
		if err := m.deleteThrough(ctx, alias, filters); err != nil {
			return err
		}
		return m.sendChanged(ctx, ActionPostClear, nil, alias)
	})
}

func (m *ManyToManyManager) deleteThrough(ctx context.Context, alias string, filters Condition) error {
	throughQS, err := m.throughQuerySet(alias)
	if err != nil {
		return err
	}
	_, err = throughQS.Filter(filters).Delete(ctx)
	return err
}

// buildRemoveFilters matches through rows owned by the instance whose target
// is in keys, or in the rows of removed when removed carries filters. A
// symmetrical relation also matches the mirrored rows.
func (m *ManyToManyManager) buildRemoveFilters(keys []interface{}, removed *QuerySet) Condition {
	restrict := removed == nil || removed.HasFilters()

	in := func(col Column) Condition {
		if removed != nil {
			return col.InQuery(removed.valuesBuilder(removed.Col(m.targetJoin.Name()).String()))
		}
		return col.In(keys...)
	}

	filters := m.sourceColumn().Eq(m.relatedVal)
	if restrict {
		filters = And(filters, in(m.targetColumn()))
	}

	if m.symmetrical {
		mirrored := m.targetColumn().Eq(m.relatedVal)
		if restrict {
			mirrored = And(mirrored, in(m.sourceColumn()))
		}
		filters = Or(filters, mirrored)
	}
	return filters
}

func (m *ManyToManyManager) createDB() string {
	return m.registry.router.DBForWrite(m.instance.model, Hints{Instance: m.instance})
}

// Create saves a new related object and links it.
func (m *ManyToManyManager) Create(ctx context.Context, values Values) (*Instance, error) {
	if err := m.checkAutoCreated("create"); err != nil {
		return nil, err
	}
	obj, err := m.Manager.DBManager(m.createDB()).Create(ctx, values)
	if err != nil {
		return nil, err
	}
	if err := m.Add(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// GetOrCreate looks among the related objects and links a newly created one.
func (m *ManyToManyManager) GetOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	if err := m.checkAutoCreated("get_or_create"); err != nil {
		return nil, false, err
	}
	qs := m.applyRelFilters(m.Manager.DBManager(m.createDB()).GetQuerySet())
	obj, created, err := qs.GetOrCreate(ctx, lookup, defaults)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := m.Add(ctx, obj); err != nil {
			return nil, false, err
		}
	}
	return obj, created, nil
}

// UpdateOrCreate updates a related object or creates and links a new one.
func (m *ManyToManyManager) UpdateOrCreate(ctx context.Context, lookup, defaults Values) (*Instance, bool, error) {
	if err := m.checkAutoCreated("update_or_create"); err != nil {
		return nil, false, err
	}
	qs := m.applyRelFilters(m.Manager.DBManager(m.createDB()).GetQuerySet())
	obj, created, err := qs.UpdateOrCreate(ctx, lookup, defaults)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := m.Add(ctx, obj); err != nil {
			return nil, false, err
		}
	}
	return obj, created, nil
}
