package orm

// ForeignKey is a many-to-one relation stored in a local "<name>_id" column.
type ForeignKey struct {
	RelationalField

	toField      string
	dbConstraint bool
}

func NewForeignKey(name string, to ModelRef, opts ...FieldOption) *ForeignKey {
	cfg := newFieldConfig(name, TypeForeignKey, opts)
	return &ForeignKey{
		RelationalField: newRelationalField(cfg, to, ManyToOne),
		toField:         cfg.toField,
		dbConstraint:    cfg.dbConstraint,
	}
}

func (f *ForeignKey) foreignKey() *ForeignKey { return f }

func (f *ForeignKey) Attname() string {
	return f.name + "_id"
}

func (f *ForeignKey) Column() string {
	if f.column != "" {
		return f.column
	}
	return f.Attname()
}

func (f *ForeignKey) DBConstraint() bool {
	return f.dbConstraint
}

// TargetField is the field on the related model this key references.
func (f *ForeignKey) TargetField() (Field, error) {
	target, err := f.RelatedModel()
	if err != nil {
		return nil, err
	}
	if f.toField != "" {
		return target.Field(f.toField)
	}
	pk := target.PK()
	if pk == nil {
		return nil, newError("target_field", target.Table(), ErrImproperlyConfigured,
			"%s has no primary key", target.opts.ObjectName)
	}
	return pk, nil
}

func (f *ForeignKey) JoiningColumns() ([]ColumnPair, error) {
	target, err := f.TargetField()
	if err != nil {
		return nil, err
	}
	return []ColumnPair{{Local: f.Column(), Remote: target.Column()}}, nil
}

func (f *ForeignKey) ReverseJoiningColumns() ([]ColumnPair, error) {
	pairs, err := f.JoiningColumns()
	if err != nil {
		return nil, err
	}
	return swapPairs(pairs), nil
}

func (f *ForeignKey) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *ForeignKey) clone() Field {
	c := *f
	c.RelationalField = f.cloneRelational()
	return &c
}

// accessorName is the reverse accessor installed on the target model.
func (f *ForeignKey) accessorName() string {
	if f.relatedName != "" {
		return f.relatedName
	}
	return f.model.ModelName() + "_set"
}

func (f *ForeignKey) reverseField() RelatedField {
	rev := &ReverseForeignKey{forward: f}
	rev.RelationalField = reverseRelational(&f.RelationalField, f.accessorName(), OneToMany)
	return rev
}

// OneToOneField is a unique foreign key.
type OneToOneField struct {
	ForeignKey
}

func NewOneToOneField(name string, to ModelRef, opts ...FieldOption) *OneToOneField {
	cfg := newFieldConfig(name, TypeOneToOne, opts)
	cfg.unique = true
	f := &OneToOneField{ForeignKey: ForeignKey{
		RelationalField: newRelationalField(cfg, to, OneToOne),
		toField:         cfg.toField,
		dbConstraint:    cfg.dbConstraint,
	}}
	f.multiple = false
	return f
}

func (f *OneToOneField) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *OneToOneField) clone() Field {
	c := *f
	c.RelationalField = f.cloneRelational()
	return &c
}

func (f *OneToOneField) accessorName() string {
	if f.relatedName != "" {
		return f.relatedName
	}
	return f.model.ModelName()
}

func (f *OneToOneField) reverseField() RelatedField {
	rev := &ReverseOneToOneField{ReverseForeignKey{forward: &f.ForeignKey}}
	rev.RelationalField = reverseRelational(&f.RelationalField, f.accessorName(), OneToOne)
	rev.multiple = false
	return rev
}

// reverseRelational builds the target-side view of a forward relation.
func reverseRelational(forward *RelationalField, accessor string, cardinality Cardinality) RelationalField {
	rf := RelationalField{
		fieldBase: fieldBase{
			name:        accessor,
			kind:        forward.kind,
			autoCreated: true,
			null:        true,
		},
		cardinality:      cardinality,
		reverse:          true,
		to:               To(forward.model),
		relatedName:      forward.name,
		relatedQueryName: forward.name,
		limitChoicesTo:   forward.limitChoicesTo,
		onDelete:         forward.onDelete,
		parentLink:       forward.parentLink,
		symmetrical:      forward.symmetrical,
		multiple:         true,
		memo:             &relationMemo{model: forward.model},
	}
	return rf
}

// ReverseForeignKey is the one-to-many side of a ForeignKey.
type ReverseForeignKey struct {
	RelationalField

	forward *ForeignKey
}

// Forward returns the foreign key this reverse relation mirrors.
func (f *ReverseForeignKey) Forward() *ForeignKey { return f.forward }

func (f *ReverseForeignKey) Concrete() bool { return false }

func (f *ReverseForeignKey) Column() string { return "" }

func (f *ReverseForeignKey) IsHidden() bool { return f.forward.IsHidden() }

func (f *ReverseForeignKey) RelatedModel() (*Model, error) {
	return f.forward.model, nil
}

func (f *ReverseForeignKey) JoiningColumns() ([]ColumnPair, error) {
	return f.forward.ReverseJoiningColumns()
}

func (f *ReverseForeignKey) ReverseJoiningColumns() ([]ColumnPair, error) {
	return f.forward.JoiningColumns()
}

func (f *ReverseForeignKey) ExtraRestriction(alias, relatedAlias string) *Condition {
	return f.forward.ExtraRestriction(relatedAlias, alias)
}

func (f *ReverseForeignKey) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *ReverseForeignKey) clone() Field {
	c := *f
	return &c
}

// ReverseOneToOneField is the target side of a OneToOneField.
type ReverseOneToOneField struct {
	ReverseForeignKey
}

func (f *ReverseOneToOneField) Rel() *LegacyRel {
	return newLegacyRel(f)
}

func (f *ReverseOneToOneField) clone() Field {
	c := *f
	return &c
}

type foreignKeyField interface {
	RelatedField
	foreignKey() *ForeignKey
}

func asForeignKey(f Field) (*ForeignKey, bool) {
	fk, ok := f.(foreignKeyField)
	if !ok {
		return nil, false
	}
	return fk.foreignKey(), true
}
