package orm

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Options is a model's metadata.
type Options struct {
	AppLabel          string
	ObjectName        string
	DBTable           string
	Abstract          bool
	AutoCreated       bool
	Swappable         string
	Ordering          []string
	UniqueTogether    [][]string
	VerboseName       string
	VerboseNamePlural string
}

// ModelOption configures a model at declaration.
type ModelOption func(*Model)

func WithFields(fields ...Field) ModelOption {
	return func(m *Model) { m.declaredFields = append(m.declaredFields, fields...) }
}

// WithManager attaches mgr under name. Managers created earlier win the
// default-manager slot regardless of declaration order.
func WithManager(name string, mgr *Manager) ModelOption {
	return func(m *Model) {
		m.declaredManagers = append(m.declaredManagers, declaredManager{name: name, manager: mgr})
	}
}

func WithAbstract() ModelOption {
	return func(m *Model) { m.opts.Abstract = true }
}

// WithExtends inherits fields and managers from abstract parents.
func WithExtends(parents ...*Model) ModelOption {
	return func(m *Model) { m.parents = append(m.parents, parents...) }
}

func WithDBTable(table string) ModelOption {
	return func(m *Model) { m.opts.DBTable = table }
}

func WithOrdering(fields ...string) ModelOption {
	return func(m *Model) { m.opts.Ordering = fields }
}

func WithUniqueTogether(fields ...string) ModelOption {
	return func(m *Model) { m.opts.UniqueTogether = append(m.opts.UniqueTogether, fields) }
}

// WithSwappable makes the model replaceable through the named setting.
func WithSwappable(setting string) ModelOption {
	return func(m *Model) { m.opts.Swappable = setting }
}

func WithAutoCreated() ModelOption {
	return func(m *Model) { m.opts.AutoCreated = true }
}

func WithVerboseNames(singular, plural string) ModelOption {
	return func(m *Model) {
		m.opts.VerboseName = singular
		m.opts.VerboseNamePlural = plural
	}
}

// WithStringer sets how instances render with String.
func WithStringer(fn func(*Instance) string) ModelOption {
	return func(m *Model) { m.stringer = fn }
}

type declaredManager struct {
	name    string
	manager *Manager
}

type descriptorKind int

const (
	descriptorManager descriptorKind = iota
	descriptorAbstract
	descriptorSwapped
)

type managerDescriptor struct {
	kind    descriptorKind
	manager *Manager
}

// Model describes a table and the managers serving it.
type Model struct {
	registry *Registry
	opts     Options
	parents  []*Model
	stringer func(*Instance) string

	declaredFields   []Field
	declaredManagers []declaredManager

	fields     []Field
	fieldIndex map[string]Field
	related    []RelatedField
	pk         Field

	descriptors      map[string]managerDescriptor
	defaultManager   *Manager
	baseManager      *Manager
	abstractManagers []*Manager
	concreteManagers []*Manager

	prepared bool
}

// NewModel declares a model. It becomes usable once registered.
func NewModel(appLabel, objectName string, opts ...ModelOption) *Model {
	m := &Model{
		opts: Options{
			AppLabel:   appLabel,
			ObjectName: objectName,
		},
		fieldIndex:  make(map[string]Field),
		descriptors: make(map[string]managerDescriptor),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Options returns a copy of the model's metadata.
func (m *Model) Options() Options {
	opts := m.opts
	opts.Ordering = append([]string(nil), m.opts.Ordering...)
	return opts
}

func (m *Model) Registry() *Registry { return m.registry }

func (m *Model) AppLabel() string { return m.opts.AppLabel }

func (m *Model) ObjectName() string { return m.opts.ObjectName }

// ModelName is the lowercase object name.
func (m *Model) ModelName() string { return strings.ToLower(m.opts.ObjectName) }

// Label is "app_label.ObjectName".
func (m *Model) Label() string { return m.opts.AppLabel + "." + m.opts.ObjectName }

func (m *Model) LabelLower() string { return strings.ToLower(m.Label()) }

func (m *Model) String() string { return m.Label() }

func (m *Model) IsAbstract() bool { return m.opts.Abstract }

func (m *Model) IsAutoCreated() bool { return m.opts.AutoCreated }

// Table is the database table, "<app_label>_<model_name>" unless overridden.
func (m *Model) Table() string {
	if m.opts.DBTable != "" {
		return m.opts.DBTable
	}
	return m.opts.AppLabel + "_" + m.ModelName()
}

func (m *Model) VerboseName() string {
	if m.opts.VerboseName != "" {
		return m.opts.VerboseName
	}
	return camelToSpaces(m.opts.ObjectName)
}

func (m *Model) VerboseNamePlural() string {
	if m.opts.VerboseNamePlural != "" {
		return m.opts.VerboseNamePlural
	}
	return inflection.Plural(m.VerboseName())
}

// Swapped returns the label of the replacing model, or "" when the model is
// not swapped out.
func (m *Model) Swapped() string {
	if m.opts.Swappable == "" || m.registry == nil {
		return ""
	}
	replacement := m.registry.Setting(m.opts.Swappable)
	if replacement == "" || strings.EqualFold(replacement, m.Label()) {
		return ""
	}
	return replacement
}

// Extends reports whether parent is one of m's ancestors, or m itself.
func (m *Model) Extends(parent *Model) bool {
	if m == parent {
		return true
	}
	for _, p := range m.parents {
		if p.Extends(parent) {
			return true
		}
	}
	return false
}

// Fields returns the forward fields in declaration order.
func (m *Model) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// ConcreteFields returns the fields backed by a column.
func (m *Model) ConcreteFields() []Field {
	var out []Field
	for _, f := range m.fields {
		if f.Concrete() {
			out = append(out, f)
		}
	}
	return out
}

// RelatedObjects returns the reverse relations pointing at m, hidden ones
// included.
func (m *Model) RelatedObjects() []RelatedField {
	return append([]RelatedField(nil), m.related...)
}

// ManyToManyFields returns the forward many-to-many fields.
func (m *Model) ManyToManyFields() []*ManyToManyField {
	var out []*ManyToManyField
	for _, f := range m.fields {
		if mf, ok := f.(*ManyToManyField); ok {
			out = append(out, mf)
		}
	}
	return out
}

func (m *Model) PK() Field { return m.pk }

// Field looks a field up by name or attname, then by reverse accessor name.
func (m *Model) Field(name string) (Field, error) {
	if f, ok := m.fieldIndex[name]; ok {
		return f, nil
	}
	if name == "pk" && m.pk != nil {
		return m.pk, nil
	}
	return nil, newError("get_field", m.Table(), ErrFieldDoesNotExist,
		"%s has no field named '%s'", m.opts.ObjectName, name)
}

// column maps a field name or attname to its column, passing unknown names
// through unchanged.
func (m *Model) column(name string) string {
	if f, err := m.Field(name); err == nil && f.Concrete() {
		return f.Column()
	}
	return name
}

// Manager returns the named manager as accessed through the model.
func (m *Model) Manager(name string) (*Manager, error) {
	if m.registry == nil {
		return nil, newError("manager", m.Table(), ErrImproperlyConfigured, "%s is not registered", m.Label())
	}
	return m.registry.GetManager(m, name, ViaClass)
}

// Objects is shorthand for Manager("objects").
func (m *Model) Objects() (*Manager, error) {
	return m.Manager("objects")
}

func (m *Model) checkUsable(op string) error {
	if m.opts.Abstract {
		return newError(op, m.Table(), ErrAttribute, "Manager isn't available; %s is abstract", m.opts.ObjectName)
	}
	if swapped := m.Swapped(); swapped != "" {
		return newError(op, m.Table(), ErrAttribute, "Manager isn't available; %s has been swapped for '%s'", m.opts.ObjectName, swapped)
	}
	return nil
}

// DefaultManager is the manager with the lowest creation counter.
func (m *Model) DefaultManager() (*Manager, error) {
	if err := m.checkUsable("default_manager"); err != nil {
		return nil, err
	}
	if m.defaultManager == nil {
		return nil, newError("default_manager", m.Table(), ErrImproperlyConfigured, "%s has no default manager", m.opts.ObjectName)
	}
	return m.defaultManager, nil
}

// BaseManager serves related-object traversal and saves.
func (m *Model) BaseManager() (*Manager, error) {
	if err := m.checkUsable("base_manager"); err != nil {
		return nil, err
	}
	if m.baseManager == nil {
		return nil, newError("base_manager", m.Table(), ErrImproperlyConfigured, "%s has no base manager", m.opts.ObjectName)
	}
	return m.baseManager, nil
}

// AbstractManagers returns managers declared on abstract models or inherited
// from them, ordered by creation counter.
func (m *Model) AbstractManagers() []*Manager {
	return append([]*Manager(nil), m.abstractManagers...)
}

// ConcreteManagers returns managers declared directly on a concrete model,
// ordered by creation counter.
func (m *Model) ConcreteManagers() []*Manager {
	return append([]*Manager(nil), m.concreteManagers...)
}

// ManagerNames returns the names with an installed manager descriptor.
func (m *Model) ManagerNames() []string {
	names := make([]string, 0, len(m.descriptors))
	for name := range m.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Model) hasManagerNamed(name string) bool {
	d, ok := m.descriptors[name]
	return ok && d.manager != nil
}

func insertManagerSorted(list []*Manager, mgr *Manager) []*Manager {
	list = append(list, mgr)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].creationCounter != list[j].creationCounter {
			return list[i].creationCounter < list[j].creationCounter
		}
		return list[i].name < list[j].name
	})
	return list
}

func (m *Model) addField(f Field) {
	b := f.base()
	b.model = m
	m.fields = append(m.fields, f)
	m.fieldIndex[f.Name()] = f
	if f.Attname() != f.Name() {
		m.fieldIndex[f.Attname()] = f
	}
	if b.primaryKey && m.pk == nil {
		m.pk = f
	}
}

func (m *Model) addRelatedObject(rf RelatedField) {
	rf.base().model = m
	m.related = append(m.related, rf)
	if !rf.IsHidden() {
		if _, exists := m.fieldIndex[rf.Name()]; !exists {
			m.fieldIndex[rf.Name()] = rf
		}
	}
}

func camelToSpaces(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
