package orm

import (
	"strings"
)

// FieldType identifies the kind of a field.
type FieldType string

const (
	TypeAuto       FieldType = "AutoField"
	TypeChar       FieldType = "CharField"
	TypeText       FieldType = "TextField"
	TypeInteger    FieldType = "IntegerField"
	TypeBoolean    FieldType = "BooleanField"
	TypeDateTime   FieldType = "DateTimeField"
	TypeForeignKey FieldType = "ForeignKey"
	TypeOneToOne   FieldType = "OneToOneField"
	TypeManyToMany FieldType = "ManyToManyField"
)

// Field is a model attribute. Concrete fields own a column on the model's
// table; many-to-many and reverse fields do not.
type Field interface {
	Name() string
	Attname() string
	Column() string
	Type() FieldType
	Model() *Model
	PrimaryKey() bool
	Concrete() bool
	IsRelation() bool
	AutoCreated() bool

	base() *fieldBase
	clone() Field
}

type fieldBase struct {
	name        string
	column      string
	kind        FieldType
	model       *Model
	primaryKey  bool
	unique      bool
	null        bool
	blank       bool
	dbIndex     bool
	maxLength   int
	def         interface{}
	hasDefault  bool
	verboseName string
	helpText    string
	autoCreated bool
}

func (f *fieldBase) Name() string { return f.name }
func (f *fieldBase) Type() FieldType { return f.kind }
func (f *fieldBase) Model() *Model { return f.model }
func (f *fieldBase) PrimaryKey() bool { return f.primaryKey }
func (f *fieldBase) Unique() bool { return f.unique || f.primaryKey }
func (f *fieldBase) Null() bool { return f.null }
func (f *fieldBase) Blank() bool { return f.blank }
func (f *fieldBase) DBIndex() bool { return f.dbIndex }
func (f *fieldBase) MaxLength() int { return f.maxLength }
func (f *fieldBase) HelpText() string { return f.helpText }
func (f *fieldBase) AutoCreated() bool { return f.autoCreated }
func (f *fieldBase) Concrete() bool { return true }
func (f *fieldBase) IsRelation() bool { return false }
func (f *fieldBase) base() *fieldBase { return f }
func (f *fieldBase) Attname() string { return f.name }
func (f *fieldBase) HasDefault() bool { return f.hasDefault }
func (f *fieldBase) Default() interface{} { return f.def }

func (f *fieldBase) Column() string {
	if f.column != "" {
		return f.column
	}
	return f.name
}

// VerboseName defaults to the field name with underscores as spaces.
func (f *fieldBase) VerboseName() string {
	if f.verboseName != "" {
		return f.verboseName
	}
	return strings.ReplaceAll(f.name, "_", " ")
}

// FieldOption configures a field at declaration.
type FieldOption func(*fieldConfig)

type fieldConfig struct {
	fieldBase

	relatedName      string
	relatedQueryName string
	onDelete         OnDelete
	limitChoicesTo   *Condition
	toField          string
	dbConstraint     bool
	symmetrical      *bool
	through          *ModelRef
	throughFields    []string
	dbTable          string
	parentLink       bool
	restriction      func(alias, relatedAlias string) *Condition
}

func newFieldConfig(name string, kind FieldType, opts []FieldOption) *fieldConfig {
	cfg := &fieldConfig{
		fieldBase:    fieldBase{name: name, kind: kind},
		onDelete:     Cascade,
		dbConstraint: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func PrimaryKey() FieldOption {
	return func(c *fieldConfig) { c.primaryKey = true }
}

func Unique() FieldOption {
	return func(c *fieldConfig) { c.unique = true }
}

func Null() FieldOption {
	return func(c *fieldConfig) { c.null = true }
}

func Blank() FieldOption {
	return func(c *fieldConfig) { c.blank = true }
}

func DBIndex() FieldOption {
	return func(c *fieldConfig) { c.dbIndex = true }
}

func MaxLength(n int) FieldOption {
	return func(c *fieldConfig) { c.maxLength = n }
}

func Default(v interface{}) FieldOption {
	return func(c *fieldConfig) {
		c.def = v
		c.hasDefault = true
	}
}

func DBColumn(column string) FieldOption {
	return func(c *fieldConfig) { c.column = column }
}

func Verbose(name string) FieldOption {
	return func(c *fieldConfig) { c.verboseName = name }
}

func HelpText(text string) FieldOption {
	return func(c *fieldConfig) { c.helpText = text }
}

// BasicField is a plain, non-relational column.
type BasicField struct {
	fieldBase
}

func (f *BasicField) clone() Field {
	c := *f
	c.model = nil
	return &c
}

func newBasicField(name string, kind FieldType, opts []FieldOption) *BasicField {
	cfg := newFieldConfig(name, kind, opts)
	return &BasicField{fieldBase: cfg.fieldBase}
}

// NewAutoField declares an auto-incrementing primary key.
func NewAutoField(name string, opts ...FieldOption) *BasicField {
	f := newBasicField(name, TypeAuto, opts)
	f.primaryKey = true
	return f
}

func NewCharField(name string, opts ...FieldOption) *BasicField {
	return newBasicField(name, TypeChar, opts)
}

func NewTextField(name string, opts ...FieldOption) *BasicField {
	return newBasicField(name, TypeText, opts)
}

func NewIntegerField(name string, opts ...FieldOption) *BasicField {
	return newBasicField(name, TypeInteger, opts)
}

func NewBooleanField(name string, opts ...FieldOption) *BasicField {
	return newBasicField(name, TypeBoolean, opts)
}

func NewDateTimeField(name string, opts ...FieldOption) *BasicField {
	return newBasicField(name, TypeDateTime, opts)
}
