package orm

// Hints carries routing context, typically the instance a query is about.
type Hints struct {
	Instance *Instance
}

// Router decides which database alias serves a model and whether two
// instances may be related.
type Router interface {
	DBForRead(model *Model, hints Hints) string
	DBForWrite(model *Model, hints Hints) string
	AllowRelation(a, b *Instance) bool
}

// DatabaseRouter is one entry in a ConnectionRouter chain. Returning "" or
// decided=false defers to the next router.
type DatabaseRouter interface {
	DBForRead(model *Model, hints Hints) string
	DBForWrite(model *Model, hints Hints) string
	AllowRelation(a, b *Instance) (allowed, decided bool)
}

// ConnectionRouter consults its routers in order and falls back to the
// instance's database, then to DefaultDBAlias.
type ConnectionRouter struct {
	routers []DatabaseRouter
}

func NewConnectionRouter(routers ...DatabaseRouter) *ConnectionRouter {
	return &ConnectionRouter{routers: routers}
}

func (r *ConnectionRouter) DBForRead(model *Model, hints Hints) string {
	for _, router := range r.routers {
		if alias := router.DBForRead(model, hints); alias != "" {
			return alias
		}
	}
	return fallbackAlias(hints)
}

func (r *ConnectionRouter) DBForWrite(model *Model, hints Hints) string {
	for _, router := range r.routers {
		if alias := router.DBForWrite(model, hints); alias != "" {
			return alias
		}
	}
	return fallbackAlias(hints)
}

// AllowRelation defaults to requiring both instances to live on the same
// database.
func (r *ConnectionRouter) AllowRelation(a, b *Instance) bool {
	for _, router := range r.routers {
		if allowed, decided := router.AllowRelation(a, b); decided {
			return allowed
		}
	}
	return a.State.DB == b.State.DB
}

func fallbackAlias(hints Hints) string {
	if hints.Instance != nil && hints.Instance.State.DB != "" {
		return hints.Instance.State.DB
	}
	return DefaultDBAlias
}
