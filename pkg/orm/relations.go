package orm

import (
	"strings"
	"sync"
)

// RecursiveRelationship is the target name meaning "the owning model".
const RecursiveRelationship = "self"

// ModelRef is a relation target: a model, a lazily resolved name, or the
// owning model itself.
type ModelRef struct {
	model *Model
	name  string
	self  bool
}

// Self targets the model that declares the field.
var Self = ModelRef{self: true}

// To targets a declared model.
func To(m *Model) ModelRef {
	return ModelRef{model: m}
}

// ToName targets a model by "app_label.ModelName", or "ModelName" within the
// owner's app. "self" is equivalent to Self.
func ToName(name string) ModelRef {
	if name == RecursiveRelationship {
		return Self
	}
	return ModelRef{name: name}
}

func (r ModelRef) IsSelf() bool {
	return r.self
}

func (r ModelRef) IsZero() bool {
	return r.model == nil && r.name == "" && !r.self
}

func (r ModelRef) String() string {
	switch {
	case r.self:
		return RecursiveRelationship
	case r.model != nil:
		return r.model.Label()
	default:
		return r.name
	}
}

func (r ModelRef) resolve(owner *Model) (*Model, error) {
	switch {
	case r.self:
		return owner, nil
	case r.model != nil:
		return r.model, nil
	}

	label := r.name
	if !strings.Contains(label, ".") {
		label = owner.opts.AppLabel + "." + label
	}
	m, err := owner.registry.GetModel(label)
	if err != nil {
		return nil, newError("resolve", owner.Table(), ErrImproperlyConfigured,
			"Related model '%s' cannot be resolved", r.name)
	}
	return m, nil
}

// Cardinality of a relation as seen from the field's owning model.
type Cardinality int

const (
	ManyToOne Cardinality = iota + 1
	OneToMany
	ManyToMany
	OneToOne
)

func (c Cardinality) String() string {
	switch c {
	case ManyToOne:
		return "many_to_one"
	case OneToMany:
		return "one_to_many"
	case ManyToMany:
		return "many_to_many"
	case OneToOne:
		return "one_to_one"
	}
	return "unknown"
}

// OnDelete is the policy applied to referencing rows when a target is deleted.
type OnDelete string

const (
	Cascade   OnDelete = "CASCADE"
	Protect   OnDelete = "PROTECT"
	SetNull   OnDelete = "SET_NULL"
	DoNothing OnDelete = "DO_NOTHING"
)

// ColumnPair joins a local column to a remote one.
type ColumnPair struct {
	Local  string
	Remote string
}

func swapPairs(pairs []ColumnPair) []ColumnPair {
	out := make([]ColumnPair, len(pairs))
	for i, p := range pairs {
		out[i] = ColumnPair{Local: p.Remote, Remote: p.Local}
	}
	return out
}

// RelatedField is implemented by every relational field, forward or reverse.
type RelatedField interface {
	Field
	RelatedModel() (*Model, error)
	RelatedQueryName() string
	Cardinality() Cardinality
	Reverse() bool
	IsHidden() bool
	JoiningColumns() ([]ColumnPair, error)
	ReverseJoiningColumns() ([]ColumnPair, error)
	ExtraRestriction(alias, relatedAlias string) *Condition
	Rel() *LegacyRel

	relational() *RelationalField
}

// Relation options

func RelatedName(name string) FieldOption {
	return func(c *fieldConfig) { c.relatedName = name }
}

func RelatedQueryName(name string) FieldOption {
	return func(c *fieldConfig) { c.relatedQueryName = name }
}

func OnDeletePolicy(policy OnDelete) FieldOption {
	return func(c *fieldConfig) { c.onDelete = policy }
}

func LimitChoicesTo(cond Condition) FieldOption {
	return func(c *fieldConfig) { c.limitChoicesTo = &cond }
}

func ToField(name string) FieldOption {
	return func(c *fieldConfig) { c.toField = name }
}

func DBConstraint(enabled bool) FieldOption {
	return func(c *fieldConfig) { c.dbConstraint = enabled }
}

func Symmetrical(symmetrical bool) FieldOption {
	return func(c *fieldConfig) { c.symmetrical = &symmetrical }
}

func Through(ref ModelRef) FieldOption {
	return func(c *fieldConfig) { c.through = &ref }
}

// ThroughFields names the source and target foreign keys on a custom
// intermediary model.
func ThroughFields(source, target string) FieldOption {
	return func(c *fieldConfig) { c.throughFields = []string{source, target} }
}

func DBTable(table string) FieldOption {
	return func(c *fieldConfig) { c.dbTable = table }
}

func ParentLink() FieldOption {
	return func(c *fieldConfig) { c.parentLink = true }
}

// Restriction adds a join condition between the field's alias and the
// related alias.
func Restriction(fn func(alias, relatedAlias string) *Condition) FieldOption {
	return func(c *fieldConfig) { c.restriction = fn }
}

type relationMemo struct {
	mu    sync.Mutex
	model *Model
}

// RelationalField holds the state shared by forward and reverse relations.
type RelationalField struct {
	fieldBase

	cardinality      Cardinality
	reverse          bool
	to               ModelRef
	relatedName      string
	relatedQueryName string
	limitChoicesTo   *Condition
	onDelete         OnDelete
	parentLink       bool
	symmetrical      bool
	multiple         bool
	restriction      func(alias, relatedAlias string) *Condition

	memo *relationMemo
}

func newRelationalField(cfg *fieldConfig, to ModelRef, cardinality Cardinality) RelationalField {
	return RelationalField{
		fieldBase:        cfg.fieldBase,
		cardinality:      cardinality,
		to:               to,
		relatedName:      cfg.relatedName,
		relatedQueryName: cfg.relatedQueryName,
		limitChoicesTo:   cfg.limitChoicesTo,
		onDelete:         cfg.onDelete,
		parentLink:       cfg.parentLink,
		multiple:         true,
		restriction:      cfg.restriction,
		memo:             &relationMemo{},
	}
}

func (f *RelationalField) relational() *RelationalField { return f }

func (f *RelationalField) IsRelation() bool { return true }

func (f *RelationalField) Cardinality() Cardinality { return f.cardinality }

func (f *RelationalField) ManyToOne() bool { return f.cardinality == ManyToOne }

func (f *RelationalField) OneToMany() bool { return f.cardinality == OneToMany }

func (f *RelationalField) ManyToMany() bool { return f.cardinality == ManyToMany }

func (f *RelationalField) OneToOne() bool { return f.cardinality == OneToOne }

func (f *RelationalField) Reverse() bool { return f.reverse }

func (f *RelationalField) Target() ModelRef { return f.to }

func (f *RelationalField) RelatedName() string { return f.relatedName }

func (f *RelationalField) OnDelete() OnDelete { return f.onDelete }

func (f *RelationalField) LimitChoicesTo() *Condition { return f.limitChoicesTo }

func (f *RelationalField) ParentLink() bool { return f.parentLink }

func (f *RelationalField) Multiple() bool { return f.multiple }

func (f *RelationalField) Symmetrical() bool { return f.symmetrical }

// IsHidden reports whether the reverse side has no accessor.
func (f *RelationalField) IsHidden() bool {
	return isHiddenName(f.relatedName)
}

// RelatedQueryName is the name used to filter from the target back to the
// owner.
func (f *RelationalField) RelatedQueryName() string {
	if f.relatedQueryName != "" {
		return f.relatedQueryName
	}
	if f.relatedName != "" {
		return f.relatedName
	}
	return f.model.ModelName()
}

// RelatedModel resolves the target. It fails with ErrNotReady until the
// registry has finished loading models, and memoizes the result afterwards.
func (f *RelationalField) RelatedModel() (*Model, error) {
	if f.model == nil {
		return nil, newError("related_model", "", ErrImproperlyConfigured,
			"field %q is not attached to a model", f.name)
	}
	if err := f.model.registry.CheckModelsReady(); err != nil {
		return nil, err
	}

	f.memo.mu.Lock()
	defer f.memo.mu.Unlock()
	if f.memo.model != nil {
		return f.memo.model, nil
	}

	m, err := f.to.resolve(f.model)
	if err != nil {
		return nil, err
	}
	f.memo.model = m
	return m, nil
}

// ExtraRestriction returns the configured join restriction, if any.
func (f *RelationalField) ExtraRestriction(alias, relatedAlias string) *Condition {
	if f.restriction == nil {
		return nil
	}
	return f.restriction(alias, relatedAlias)
}

func (f *RelationalField) cloneRelational() RelationalField {
	c := *f
	c.model = nil
	c.memo = &relationMemo{}
	return c
}

// LookupConstraint filters rows of alias whose first local joining column
// matches values.
func LookupConstraint(field RelatedField, alias string, values ...interface{}) (Condition, error) {
	pairs, err := field.JoiningColumns()
	if err != nil {
		return Condition{}, err
	}
	if len(pairs) == 0 {
		return Condition{}, newError("lookup", "", ErrValue, "relation %q has no joining columns", field.Name())
	}
	col := Col(pairs[0].Local).Of(alias)
	if len(values) == 1 {
		return col.Eq(values[0]), nil
	}
	return col.In(values...), nil
}
