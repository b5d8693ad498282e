package orm

// LegacyRel is the read-only reverse view of a relational field. Every
// attribute is read from the field at call time.
type LegacyRel struct {
	field RelatedField
}

func newLegacyRel(field RelatedField) *LegacyRel {
	return &LegacyRel{field: field}
}

func (r *LegacyRel) Field() RelatedField {
	return r.field
}

// To is the model the field points at.
func (r *LegacyRel) To() (*Model, error) {
	return r.field.RelatedModel()
}

// FieldName is the name of the target field a foreign key references.
func (r *LegacyRel) FieldName() string {
	fk, ok := asForeignKey(r.field)
	if !ok {
		return ""
	}
	target, err := fk.TargetField()
	if err != nil {
		return fk.toField
	}
	return target.Name()
}

func (r *LegacyRel) RelatedName() string {
	return r.field.relational().relatedName
}

func (r *LegacyRel) RelatedQueryName() string {
	return r.field.RelatedQueryName()
}

func (r *LegacyRel) LimitChoicesTo() *Condition {
	return r.field.relational().limitChoicesTo
}

func (r *LegacyRel) Multiple() bool {
	return r.field.relational().multiple
}

func (r *LegacyRel) ParentLink() bool {
	return r.field.relational().parentLink
}

func (r *LegacyRel) OnDelete() OnDelete {
	return r.field.relational().onDelete
}

func (r *LegacyRel) Symmetrical() bool {
	return r.field.relational().symmetrical
}

func (r *LegacyRel) IsHidden() bool {
	return r.field.IsHidden()
}

// JoiningColumns are the field's reverse joining columns.
func (r *LegacyRel) JoiningColumns() ([]ColumnPair, error) {
	return r.field.ReverseJoiningColumns()
}

// ExtraRestriction evaluates the field's restriction with the aliases swapped.
func (r *LegacyRel) ExtraRestriction(alias, relatedAlias string) *Condition {
	return r.field.ExtraRestriction(relatedAlias, alias)
}

func (r *LegacyRel) LookupConstraint(alias string, values ...interface{}) (Condition, error) {
	return LookupConstraint(r.field, alias, values...)
}
