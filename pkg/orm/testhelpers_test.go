package orm

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/modelkit/internal/testdb"
)

// openSQLite opens a private in-memory database. A single connection keeps
// every statement on the same database.
func openSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	return testdb.New(t).DB
}

// newMockRegistry returns a registry whose default alias is backed by
// sqlmock speaking the postgres placeholder style.
func newMockRegistry(t *testing.T, opts ...Option) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := NewRegistry(opts...)
	r.Connections().Add(DefaultDBAlias, sqlx.NewDb(db, "postgres"))
	return r, mock
}

// library is the shared set of test models.
type library struct {
	reg *Registry

	person     *Model
	book       *Model
	car        *Model
	chapter    *Model
	review     *Model
	bookmark   *Model
	member     *Model
	group      *Model
	membership *Model
}

func personQuerySetClass() *QuerySetClass {
	return &QuerySetClass{
		Name: "PersonQuerySet",
		Methods: map[string]QuerySetMethod{
			"fun": {
				Func: func(qs *QuerySet, args ...interface{}) (*QuerySet, error) {
					return qs.Filter(qs.Col("fun").Eq(true)), nil
				},
				Manager: true,
			},
			"boring": {
				Func: func(qs *QuerySet, args ...interface{}) (*QuerySet, error) {
					return qs.Filter(qs.Col("fun").Eq(false)), nil
				},
			},
		},
	}
}

var publishedBookManager = NewManagerClass("PublishedBookManager", nil, func(qs *QuerySet) *QuerySet {
	return qs.Filter(qs.Col("is_published").Eq(true))
})

var fastCarManager = NewManagerClass("FastCarManager", nil, func(qs *QuerySet) *QuerySet {
	return qs.Filter(qs.Col("top_speed").Gt(150))
})

func declareLibrary(t *testing.T, reg *Registry) *library {
	t.Helper()
	lib := &library{reg: reg}

	lib.person = NewModel("custom_managers", "Person",
		WithFields(
			NewCharField("first_name", MaxLength(30)),
			NewCharField("last_name", MaxLength(30)),
			NewBooleanField("fun", Default(false)),
		),
		WithManager("objects", reg.NewManager(personQuerySetClass().AsManager(nil))),
		WithStringer(func(i *Instance) string {
			return fmt.Sprintf("%v %v", i.Get("first_name"), i.Get("last_name"))
		}),
	)

	authors, err := NewManyToManyField("authors", To(lib.person), RelatedName("books"))
	require.NoError(t, err)
	lib.book = NewModel("custom_managers", "Book",
		WithFields(
			NewCharField("title", MaxLength(50)),
			NewCharField("author", MaxLength(30)),
			NewBooleanField("is_published", Default(false)),
			authors,
		),
		WithManager("published_objects", reg.NewManager(publishedBookManager)),
		WithManager("objects", reg.NewManager(BaseManagerClass)),
		WithStringer(func(i *Instance) string { return fmt.Sprint(i.Get("title")) }),
	)

	lib.car = NewModel("custom_managers", "Car",
		WithFields(
			NewCharField("name", MaxLength(10)),
			NewIntegerField("mileage"),
			NewIntegerField("top_speed"),
		),
		WithManager("cars", reg.NewManager(BaseManagerClass)),
		WithManager("fast_cars", reg.NewManager(fastCarManager)),
	)

	lib.chapter = NewModel("custom_managers", "Chapter",
		WithFields(
			NewForeignKey("book", ToName("Book")),
			NewCharField("title", MaxLength(50)),
		),
	)
	lib.review = NewModel("custom_managers", "Review",
		WithFields(
			NewForeignKey("book", ToName("Book"), OnDeletePolicy(Protect), RelatedName("reviews")),
			NewTextField("body"),
		),
	)
	lib.bookmark = NewModel("custom_managers", "Bookmark",
		WithFields(
			NewForeignKey("book", ToName("Book"), Null(), OnDeletePolicy(SetNull), RelatedName("bookmarks")),
			NewIntegerField("page"),
		),
	)

	friends, err := NewManyToManyField("friends", Self)
	require.NoError(t, err)
	follows, err := NewManyToManyField("follows", Self, Symmetrical(false), RelatedName("followers"))
	require.NoError(t, err)
	lib.member = NewModel("social", "Member",
		WithFields(NewCharField("name", MaxLength(30)), friends, follows),
		WithStringer(func(i *Instance) string { return fmt.Sprint(i.Get("name")) }),
	)

	members, err := NewManyToManyField("members", To(lib.person), Through(ToName("Membership")))
	require.NoError(t, err)
	lib.group = NewModel("social", "Group",
		WithFields(NewCharField("name", MaxLength(30)), members),
	)
	lib.membership = NewModel("social", "Membership",
		WithFields(
			NewForeignKey("person", To(lib.person)),
			NewForeignKey("group", ToName("Group")),
			NewCharField("role", MaxLength(20)),
		),
	)

	require.NoError(t, reg.Register(
		lib.person, lib.book, lib.car, lib.chapter, lib.review, lib.bookmark,
		lib.member, lib.group, lib.membership,
	))
	require.NoError(t, reg.Ready())
	return lib
}

// newLibrary builds the test models on a fresh in-memory database with
// their tables created.
func newLibrary(t *testing.T, opts ...Option) *library {
	t.Helper()
	reg := NewRegistry(opts...)
	reg.Connections().Add(DefaultDBAlias, openSQLite(t))
	lib := declareLibrary(t, reg)
	require.NoError(t, reg.CreateTables(context.Background(), DefaultDBAlias))
	return lib
}

func (l *library) manager(t *testing.T, m *Model, name string) *Manager {
	t.Helper()
	mgr, err := m.Manager(name)
	require.NoError(t, err)
	return mgr
}

func (l *library) create(t *testing.T, m *Model, values Values) *Instance {
	t.Helper()
	base, err := m.BaseManager()
	require.NoError(t, err)
	obj, err := base.Create(context.Background(), values)
	require.NoError(t, err)
	return obj
}

func (l *library) related(t *testing.T, inst *Instance, name string) *ManyToManyManager {
	t.Helper()
	mgr, err := inst.Related(name)
	require.NoError(t, err)
	return mgr
}

func (l *library) throughCount(t *testing.T, m *Model, field string) int64 {
	t.Helper()
	f, err := m.Field(field)
	require.NoError(t, err)
	through, err := f.(*ManyToManyField).Through()
	require.NoError(t, err)
	mgr, err := through.DefaultManager()
	require.NoError(t, err)
	n, err := mgr.Count(context.Background())
	require.NoError(t, err)
	return n
}

// names returns the string form of each instance.
func names(instances []*Instance) []string {
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.String())
	}
	return out
}

// m2mRecorder collects m2m_changed events.
type m2mRecorder struct {
	mu     sync.Mutex
	events []M2MChangedEvent
}

func recordM2M(t *testing.T, reg *Registry) *m2mRecorder {
	rec := &m2mRecorder{}
	disconnect := reg.Signals().M2MChanged.Connect(nil, func(ctx context.Context, e M2MChangedEvent) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, e)
		return nil
	})
	t.Cleanup(disconnect)
	return rec
}

func (r *m2mRecorder) actions() []M2MAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]M2MAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func (r *m2mRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// queryCounter counts statements run through the registry.
type queryCounter struct {
	mu sync.Mutex
	n  int
}

func countQueries(reg *Registry) *queryCounter {
	c := &queryCounter{}
	reg.Use(func(next QueryMiddlewareFunc) QueryMiddlewareFunc {
		return func(ctx *MiddlewareContext) error {
			c.mu.Lock()
			c.n++
			c.mu.Unlock()
			return next(ctx)
		}
	})
	return c
}

func (c *queryCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
