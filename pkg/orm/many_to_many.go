package orm

import (
	"fmt"
	"strings"
)

// ManyToManyField relates rows of two models through an intermediary model,
// which is created automatically unless Through names one.
type ManyToManyField struct {
	RelationalField

	through       *ModelRef
	throughFields []string
	dbTable       string
	dbConstraint  bool

	throughModel        *Model
	m2mFieldName        string
	m2mReverseFieldName string
}

// NewManyToManyField declares a many-to-many relation. Through cannot be
// combined with DBTable, ThroughFields requires Through, and DBConstraint(false)
// only applies to auto-created intermediaries.
func NewManyToManyField(name string, to ModelRef, opts ...FieldOption) (*ManyToManyField, error) {
	cfg := newFieldConfig(name, TypeManyToMany, opts)

	if cfg.through != nil && cfg.dbTable != "" {
		return nil, newError("many_to_many", "", ErrValue,
			"Cannot specify a db_table if an intermediary model is used.")
	}
	if len(cfg.throughFields) > 0 && cfg.through == nil {
		return nil, newError("many_to_many", "", ErrValue,
			"Cannot specify through_fields without a through model")
	}
	if cfg.through != nil && !cfg.dbConstraint {
		return nil, newError("many_to_many", "", ErrValue,
			"Cannot specify db_constraint if an intermediary model is used.")
	}

	f := &ManyToManyField{
		RelationalField: newRelationalField(cfg, to, ManyToMany),
		through:         cfg.through,
		throughFields:   cfg.throughFields,
		dbTable:         cfg.dbTable,
		dbConstraint:    cfg.dbConstraint,
	}
	f.symmetrical = to.IsSelf()
	if cfg.symmetrical != nil {
		f.symmetrical = *cfg.symmetrical
	}
	if f.symmetrical && to.IsSelf() && f.relatedName == "" {
		f.relatedName = name + "_rel_+"
	}
	return f, nil
}

func (f *ManyToManyField) Concrete() bool { return false }

func (f *ManyToManyField) Column() string { return "" }

func (f *ManyToManyField) DBTable() string { return f.dbTable }

func (f *ManyToManyField) DBConstraint() bool { return f.dbConstraint }

func (f *ManyToManyField) ThroughFields() []string { return f.throughFields }

// HasCustomThrough reports whether the intermediary was declared explicitly.
func (f *ManyToManyField) HasCustomThrough() bool { return f.through != nil }

// Through returns the intermediary model, available once the registry is ready.
func (f *ManyToManyField) Through() (*Model, error) {
	if f.model == nil {
		return nil, newError("through", "", ErrImproperlyConfigured, "field %q is not attached to a model", f.name)
	}
	if err := f.model.registry.CheckModelsReady(); err != nil {
		return nil, err
	}
	if f.throughModel == nil {
		return nil, newError("through", f.model.Table(), ErrNotReady,
			"intermediary model for %s.%s has not been set up", f.model.opts.ObjectName, f.name)
	}
	return f.throughModel, nil
}

// M2MFieldName is the intermediary's foreign key to the owning model.
func (f *ManyToManyField) M2MFieldName() string { return f.m2mFieldName }

// M2MReverseFieldName is the intermediary's foreign key to the target model.
func (f *ManyToManyField) M2MReverseFieldName() string { return f.m2mReverseFieldName }

// JoiningColumns is empty; the relation joins through the intermediary.
func (f *ManyToManyField) JoiningColumns() ([]ColumnPair, error) {
	return nil, nil
}

func (f *ManyToManyField) ReverseJoiningColumns() ([]ColumnPair, error) {
	return nil, nil
}

func (f *ManyToManyField) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *ManyToManyField) clone() Field {
	c := *f
	c.RelationalField = f.cloneRelational()
	c.throughModel = nil
	c.m2mFieldName = ""
	c.m2mReverseFieldName = ""
	return &c
}

func (f *ManyToManyField) accessorName() string {
	if f.relatedName != "" {
		return f.relatedName
	}
	return f.model.ModelName() + "_set"
}

func (f *ManyToManyField) reverseField() RelatedField {
	rev := &ReverseManyToManyField{forward: f}
	rev.RelationalField = reverseRelational(&f.RelationalField, f.accessorName(), ManyToMany)
	rev.relatedQueryName = f.name
	return rev
}

// setupThrough resolves or creates the intermediary and records which of its
// foreign keys point at the source and the target.
func (f *ManyToManyField) setupThrough() error {
	target, err := f.RelatedModel()
	if err != nil {
		return err
	}

	if f.through == nil {
		through, err := createIntermediaryModel(f, target)
		if err != nil {
			return err
		}
		f.throughModel = through
	} else {
		through, err := f.through.resolve(f.model)
		if err != nil {
			return err
		}
		f.throughModel = through
	}

	source, reverse, err := f.resolveThroughFields(target)
	if err != nil {
		return err
	}
	f.m2mFieldName = source
	f.m2mReverseFieldName = reverse
	return nil
}

func (f *ManyToManyField) resolveThroughFields(target *Model) (string, string, error) {
	through := f.throughModel
	if len(f.throughFields) == 2 {
		for _, name := range f.throughFields {
			field, err := through.Field(name)
			if err != nil {
				return "", "", err
			}
			if _, ok := asForeignKey(field); !ok {
				return "", "", newError("through_fields", through.Table(), ErrImproperlyConfigured,
					"%s.%s is not a foreign key", through.opts.ObjectName, name)
			}
		}
		return f.throughFields[0], f.throughFields[1], nil
	}

	var source, reverse string
	for _, field := range through.fields {
		fk, ok := asForeignKey(field)
		if !ok {
			continue
		}
		related, err := fk.RelatedModel()
		if err != nil {
			return "", "", err
		}
		switch {
		case related == f.model && source == "":
			source = fk.name
		case related == target && reverse == "":
			reverse = fk.name
		}
	}
	if source == "" || reverse == "" {
		return "", "", newError("through", through.Table(), ErrImproperlyConfigured,
			"The model is used as an intermediate model by '%s.%s', but it does not have a foreign key to '%s' or '%s'",
			f.model.Label(), f.name, f.model.opts.ObjectName, target.opts.ObjectName)
	}
	return source, reverse, nil
}

// createIntermediaryModel builds the auto-created "<Model>_<field>" model
// with one foreign key per side and uniqueness on the pair.
func createIntermediaryModel(f *ManyToManyField, target *Model) (*Model, error) {
	owner := f.model
	name := fmt.Sprintf("%s_%s", owner.opts.ObjectName, f.name)

	from := owner.ModelName()
	to := target.ModelName()
	if from == to {
		to = "to_" + to
		from = "from_" + from
	}

	table := f.dbTable
	if table == "" {
		table = fmt.Sprintf("%s_%s", owner.Table(), f.name)
	}

	hidden := name + "+"
	through := NewModel(owner.opts.AppLabel, name,
		WithFields(
			NewForeignKey(from, To(owner), RelatedName(hidden), DBConstraint(f.dbConstraint)),
			NewForeignKey(to, To(target), RelatedName(hidden), DBConstraint(f.dbConstraint)),
		),
		WithDBTable(table),
		WithAutoCreated(),
		WithUniqueTogether(from, to),
		WithVerboseNames(
			fmt.Sprintf("%s-%s relationship", from, to),
			fmt.Sprintf("%s-%s relationships", from, to),
		),
	)

	if err := owner.registry.register(through); err != nil {
		return nil, err
	}
	return through, nil
}

// ReverseManyToManyField is the target side of a ManyToManyField.
type ReverseManyToManyField struct {
	RelationalField

	forward *ManyToManyField
}

func (f *ReverseManyToManyField) Forward() *ManyToManyField { return f.forward }

func (f *ReverseManyToManyField) Concrete() bool { return false }

func (f *ReverseManyToManyField) Column() string { return "" }

func (f *ReverseManyToManyField) IsHidden() bool { return f.forward.IsHidden() }

func (f *ReverseManyToManyField) RelatedModel() (*Model, error) {
	return f.forward.model, nil
}

func (f *ReverseManyToManyField) JoiningColumns() ([]ColumnPair, error) {
	return f.forward.ReverseJoiningColumns()
}

func (f *ReverseManyToManyField) ReverseJoiningColumns() ([]ColumnPair, error) {
	return f.forward.JoiningColumns()
}

func (f *ReverseManyToManyField) ExtraRestriction(alias, relatedAlias string) *Condition {
	return f.forward.ExtraRestriction(relatedAlias, alias)
}

// RelatedQueryName on the reverse side is the forward field's name.
func (f *ReverseManyToManyField) RelatedQueryName() string {
	return f.forward.name
}

func (f *ReverseManyToManyField) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *ReverseManyToManyField) clone() Field {
	c := *f
	return &c
}

func isHiddenName(name string) bool {
	return strings.HasSuffix(name, "+")
}
