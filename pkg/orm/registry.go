// Package orm maps models to tables and serves rows through managers and
// lazy querysets built with squirrel and executed with sqlx.
package orm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Access says how a manager is being reached.
type Access int

const (
	ViaClass Access = iota
	ViaInstance
)

// Registry owns every registered model together with the settings, signals,
// connections and router they share.
type Registry struct {
	// registerMu serializes Register and Ready.
	registerMu sync.Mutex

	mu       sync.RWMutex
	models   map[string]*Model
	order    []*Model
	settings map[string]string

	modelsReady atomic.Bool
	ready       atomic.Bool
	counter     atomic.Uint64

	signals    *Signals
	conns      *Connections
	router     Router
	logger     Logger
	middleware *middlewareManager
}

// Option configures a Registry.
type Option func(*Registry)

func WithConnections(conns *Connections) Option {
	return func(r *Registry) { r.conns = conns }
}

func WithRouter(router Router) Option {
	return func(r *Registry) { r.router = router }
}

func WithLogger(logger Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithSetting sets a registry setting such as a swappable model label.
func WithSetting(key, value string) Option {
	return func(r *Registry) { r.settings[key] = value }
}

func WithMiddleware(middleware ...QueryMiddleware) Option {
	return func(r *Registry) {
		for _, mw := range middleware {
			r.middleware.AddMiddleware(mw)
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		models:     make(map[string]*Model),
		settings:   make(map[string]string),
		signals:    newSignals(),
		conns:      NewConnections(),
		router:     NewConnectionRouter(),
		logger:     nopLogger{},
		middleware: newMiddlewareManager(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.signals.ClassPrepared.Connect(nil, r.ensureDefaultManager)

	return r
}

func (r *Registry) Signals() *Signals { return r.signals }

func (r *Registry) Connections() *Connections { return r.conns }

func (r *Registry) Router() Router { return r.router }

func (r *Registry) Logger() Logger { return r.logger }

// Use appends query middleware to the chain every statement runs through.
func (r *Registry) Use(middleware QueryMiddleware) {
	r.middleware.AddMiddleware(middleware)
}

func (r *Registry) Setting(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings[key]
}

func (r *Registry) SetSetting(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[key] = value
}

// NewManager creates an unattached manager of class, stamping it with the
// next creation counter.
func (r *Registry) NewManager(class *ManagerClass) *Manager {
	if class == nil {
		class = BaseManagerClass
	}
	return &Manager{
		class:           class,
		registry:        r,
		creationCounter: r.nextCreationCounter(),
	}
}

func (r *Registry) nextCreationCounter() uint64 {
	return r.counter.Add(1)
}

// ResetCreationCounter restarts manager numbering. Test harnesses only.
func (r *Registry) ResetCreationCounter() {
	r.counter.Store(0)
}

// Atomic runs fn in a transaction on alias using the registry's connections.
func (r *Registry) Atomic(ctx context.Context, alias string, fn func(ctx context.Context) error) error {
	return Atomic(ctx, r.conns, alias, fn)
}

// Register finalizes m: fields and managers are attached, abstract parents
// are copied in, and ClassPrepared fires. Models registered after Ready have
// their relations resolved immediately.
func (r *Registry) Register(models ...*Model) error {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	r.mu.RLock()
	start := len(r.order)
	r.mu.RUnlock()

	for _, m := range models {
		if err := r.register(m); err != nil {
			return err
		}
	}

	if r.modelsReady.Load() {
		return r.setupRelationsFrom(start)
	}
	return nil
}

// register does the work of Register; callers hold registerMu.
func (r *Registry) register(m *Model) error {
	if m.prepared {
		return newError("register", m.Table(), ErrImproperlyConfigured, "model %s is already registered", m.Label())
	}

	label := m.LabelLower()
	r.mu.RLock()
	_, exists := r.models[label]
	r.mu.RUnlock()
	if exists {
		return newError("register", m.Table(), ErrImproperlyConfigured,
			"Conflicting '%s' models in application '%s'", m.ModelName(), m.opts.AppLabel)
	}

	m.registry = r

	for _, parent := range m.parents {
		if !parent.opts.Abstract {
			return newError("register", m.Table(), ErrImproperlyConfigured,
				"%s can only extend abstract models; %s is concrete", m.opts.ObjectName, parent.opts.ObjectName)
		}
		if !parent.prepared {
			return newError("register", m.Table(), ErrImproperlyConfigured,
				"abstract model %s must be registered before %s", parent.opts.ObjectName, m.opts.ObjectName)
		}
	}

	if err := r.contributeFields(m); err != nil {
		return err
	}

	for _, dm := range m.declaredManagers {
		if dm.manager == nil {
			return newError("register", m.Table(), ErrImproperlyConfigured, "manager %q is nil", dm.name)
		}
		if dm.manager.model != nil {
			return newError("register", m.Table(), ErrImproperlyConfigured,
				"manager %q is already attached to %s", dm.name, dm.manager.model.Label())
		}
		dm.manager.ContributeToModel(m, dm.name)
	}

	for _, parent := range m.parents {
		for _, inherited := range parent.abstractManagers {
			if m.hasManagerNamed(inherited.name) {
				continue
			}
			copied, err := inherited.copyToModel(m)
			if err != nil {
				return err
			}
			copied.ContributeToModel(m, inherited.name)
		}
	}

	if err := r.signals.ClassPrepared.Send(context.Background(), m, ClassPreparedEvent{Model: m}); err != nil {
		return err
	}

	m.prepared = true

	if !m.opts.Abstract {
		r.mu.Lock()
		r.models[label] = m
		r.order = append(r.order, m)
		r.mu.Unlock()
	}

	r.logger.Debug("model registered",
		"model", m.Label(),
		"table", m.Table(),
		"abstract", m.opts.Abstract)

	return nil
}

func (r *Registry) contributeFields(m *Model) error {
	local := make(map[string]bool, len(m.declaredFields))
	for _, f := range m.declaredFields {
		if local[f.Name()] {
			return newError("register", m.Table(), ErrImproperlyConfigured,
				"duplicate field %q on %s", f.Name(), m.opts.ObjectName)
		}
		local[f.Name()] = true
	}

	for _, parent := range m.parents {
		for _, f := range parent.fields {
			if local[f.Name()] {
				return newError("register", m.Table(), ErrImproperlyConfigured,
					"Local field '%s' in class '%s' clashes with field of similar name from base class '%s'",
					f.Name(), m.opts.ObjectName, parent.opts.ObjectName)
			}
			m.addField(f.clone())
		}
	}

	for _, f := range m.declaredFields {
		if f.Model() != nil {
			return newError("register", m.Table(), ErrImproperlyConfigured,
				"field %q is already attached to %s", f.Name(), f.Model().Label())
		}
		m.addField(f)
	}

	if !m.opts.Abstract && m.pk == nil {
		auto := NewAutoField("id")
		auto.autoCreated = true
		auto.verboseName = "ID"
		auto.model = m
		m.fields = append([]Field{auto}, m.fields...)
		m.fieldIndex[auto.name] = auto
		m.pk = auto
	}

	return nil
}

// Ready marks models as loaded, resolves every relation, creates
// intermediary models and installs reverse relations.
func (r *Registry) Ready() error {
	r.registerMu.Lock()
	defer r.registerMu.Unlock()

	if r.ready.Load() {
		return nil
	}

	r.modelsReady.Store(true)
	if err := r.setupRelationsFrom(0); err != nil {
		r.modelsReady.Store(false)
		return err
	}
	r.ready.Store(true)

	r.mu.RLock()
	count := len(r.order)
	r.mu.RUnlock()
	r.logger.Info("registry ready", "models", count)

	return nil
}

func (r *Registry) IsReady() bool {
	return r.ready.Load()
}

// CheckModelsReady fails with ErrNotReady until Ready has been called.
func (r *Registry) CheckModelsReady() error {
	if !r.modelsReady.Load() {
		return newError("check_models_ready", "", ErrNotReady, "Models aren't loaded yet.")
	}
	return nil
}

// setupRelationsFrom processes models from index start, including any
// intermediary models created along the way.
func (r *Registry) setupRelationsFrom(start int) error {
	for i := start; ; i++ {
		r.mu.RLock()
		if i >= len(r.order) {
			r.mu.RUnlock()
			return nil
		}
		m := r.order[i]
		r.mu.RUnlock()

		if err := r.setupRelations(m); err != nil {
			return err
		}
	}
}

type reversible interface {
	reverseField() RelatedField
}

func (r *Registry) setupRelations(m *Model) error {
	if m.Swapped() != "" {
		return nil
	}

	for _, f := range m.fields {
		rf, ok := f.(RelatedField)
		if !ok || rf.Reverse() {
			continue
		}

		target, err := rf.RelatedModel()
		if err != nil {
			return err
		}
		if target.opts.Abstract {
			return newError("setup_relations", m.Table(), ErrImproperlyConfigured,
				"Field %s.%s defines a relation with model '%s', which is either not installed, or is abstract.",
				m.opts.ObjectName, f.Name(), target.Label())
		}

		if m2m, ok := f.(*ManyToManyField); ok {
			if err := m2m.setupThrough(); err != nil {
				return err
			}
		}

		if rev, ok := f.(reversible); ok {
			reverse := rev.reverseField()
			if !reverse.IsHidden() {
				if existing, clash := target.fieldIndex[reverse.Name()]; clash {
					r.logger.Warn("reverse accessor clashes with existing field",
						"model", target.Label(),
						"accessor", reverse.Name(),
						"field", existing.Name())
				}
			}
			target.addRelatedObject(reverse)
		}
	}
	return nil
}

// GetModel looks up a registered model by "app_label.ObjectName",
// case-insensitively.
func (r *Registry) GetModel(label string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[strings.ToLower(label)]
	if !ok {
		return nil, newError("get_model", "", ErrLookup, "App registry has no model '%s'", label)
	}
	return m, nil
}

// Models returns the registered concrete models in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Model(nil), r.order...)
}

// GetManager is the single access point for managers. Abstract and swapped
// models never hand one out, and managers are not reachable via instances.
func (r *Registry) GetManager(model *Model, name string, via Access) (*Manager, error) {
	d, ok := model.descriptors[name]
	if !ok {
		return nil, newError("manager", model.Table(), ErrAttribute,
			"type object '%s' has no attribute '%s'", model.opts.ObjectName, name)
	}

	switch d.kind {
	case descriptorAbstract:
		return nil, newError("manager", model.Table(), ErrAttribute,
			"Manager isn't available; %s is abstract", model.opts.ObjectName)
	case descriptorSwapped:
		return nil, newError("manager", model.Table(), ErrAttribute,
			"Manager isn't available; %s has been swapped for '%s'", model.opts.ObjectName, model.Swapped())
	}

	if via == ViaInstance {
		return nil, newError("manager", model.Table(), ErrAttribute,
			"Manager isn't accessible via %s instances", model.opts.ObjectName)
	}
	return d.manager, nil
}
