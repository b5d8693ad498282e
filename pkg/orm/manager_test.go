package orm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAndBaseManagers(t *testing.T) {
	lib := declareLibrary(t, NewRegistry())

	tests := []struct {
		name        string
		model       *Model
		wantDefault string
		wantBase    string
	}{
		{"first declared wins", lib.car, "cars", "cars"},
		{"creation order beats declaration order", lib.book, "published_objects", "_base_manager"},
		{"custom queryset manager", lib.person, "objects", "_base_manager"},
		{"implicit objects", lib.chapter, "objects", "objects"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := tt.model.DefaultManager()
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, def.Name())

			base, err := tt.model.BaseManager()
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, base.Name())
			assert.True(t, base.Class().servesRelatedFields())
		})
	}

	t.Run("concrete managers are ordered by creation", func(t *testing.T) {
		var got []string
		for _, m := range lib.book.ConcreteManagers() {
			got = append(got, m.Name())
		}
		assert.Equal(t, []string{"published_objects", "objects", "_base_manager"}, got)
	})

	t.Run("string form", func(t *testing.T) {
		mgr := lib.manager(t, lib.car, "fast_cars")
		assert.Equal(t, "custom_managers.Car.fast_cars", mgr.String())
		assert.Equal(t, "FastCarManager", NewRegistry().NewManager(fastCarManager).String())
	})

	t.Run("unknown manager name", func(t *testing.T) {
		_, err := lib.car.Manager("slow_cars")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAttribute))
		assert.Contains(t, err.Error(), "type object 'Car' has no attribute 'slow_cars'")
	})
}

func TestUseForRelatedFields(t *testing.T) {
	reg := NewRegistry()
	related := &ManagerClass{Name: "RelatedManager", Parent: BaseManagerClass, UseForRelatedFields: true}
	m := NewModel("managers", "Thing",
		WithFields(NewCharField("name")),
		WithManager("things", reg.NewManager(related)),
	)
	require.NoError(t, reg.Register(m))

	base, err := m.BaseManager()
	require.NoError(t, err)
	assert.Equal(t, "things", base.Name())
}

func TestObjectsFieldNeedsCustomManager(t *testing.T) {
	reg := NewRegistry()
	m := NewModel("managers", "Shelf", WithFields(NewCharField("objects")))

	err := reg.Register(m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImproperlyConfigured))
	assert.Contains(t, err.Error(), "Model Shelf must specify a custom Manager, because it has a field named 'objects'")
}

func TestAbstractManagers(t *testing.T) {
	reg := NewRegistry()
	custom := NewManagerClass("CustomManager", nil, func(qs *QuerySet) *QuerySet {
		return qs.Filter(qs.Col("name").NotEq(""))
	})

	base := NewModel("managers", "AbstractBase",
		WithAbstract(),
		WithFields(NewCharField("name")),
		WithManager("custom", reg.NewManager(custom)),
	)
	child := NewModel("managers", "Child", WithExtends(base))
	require.NoError(t, reg.Register(base, child))

	t.Run("abstract model hands out no manager", func(t *testing.T) {
		for _, name := range []string{"custom", "objects"} {
			_, err := base.Manager(name)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAttribute))
			assert.Contains(t, err.Error(), "Manager isn't available; AbstractBase is abstract")
		}
		_, err := base.DefaultManager()
		assert.True(t, errors.Is(err, ErrAttribute))
	})

	t.Run("child inherits a copy", func(t *testing.T) {
		mgr, err := child.Manager("custom")
		require.NoError(t, err)
		assert.True(t, mgr.Inherited())
		assert.Same(t, child, mgr.Model())

		parent := base.AbstractManagers()[0]
		assert.NotSame(t, parent, mgr)
		assert.Greater(t, mgr.CreationCounter(), parent.CreationCounter())

		def, err := child.DefaultManager()
		require.NoError(t, err)
		assert.Same(t, mgr, def)
		assert.Len(t, child.AbstractManagers(), 1)
		var concrete []string
		for _, m := range child.ConcreteManagers() {
			concrete = append(concrete, m.Name())
		}
		assert.Equal(t, []string{"_base_manager"}, concrete)
	})

	t.Run("base manager comes from the plain ancestor", func(t *testing.T) {
		b, err := child.BaseManager()
		require.NoError(t, err)
		assert.Equal(t, "_base_manager", b.Name())
		assert.True(t, b.Class().IsPlain())
	})
}

func TestSwappedModel(t *testing.T) {
	reg := NewRegistry(WithSetting("MANAGERS_USER_MODEL", "managers.CustomUser"))
	user := NewModel("managers", "User",
		WithSwappable("MANAGERS_USER_MODEL"),
		WithFields(NewCharField("username")),
	)
	custom := NewModel("managers", "CustomUser", WithFields(NewCharField("username")))
	require.NoError(t, reg.Register(user, custom))

	assert.Equal(t, "managers.CustomUser", user.Swapped())
	assert.Empty(t, custom.Swapped())

	_, err := user.Objects()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttribute))
	assert.Contains(t, err.Error(), "Manager isn't available; User has been swapped for 'managers.CustomUser'")

	err = user.New(Values{"username": "x"}).Save(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttribute))

	_, err = custom.Objects()
	assert.NoError(t, err)
}

func TestManagerAttachedTwice(t *testing.T) {
	reg := NewRegistry()
	shared := reg.NewManager(BaseManagerClass)
	first := NewModel("managers", "First", WithManager("objects", shared))
	second := NewModel("managers", "Second", WithManager("objects", shared))

	require.NoError(t, reg.Register(first))
	err := reg.Register(second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImproperlyConfigured))
	assert.Contains(t, err.Error(), "already attached to managers.First")
}

func TestCreationCounter(t *testing.T) {
	reg := NewRegistry()
	a := reg.NewManager(nil)
	b := reg.NewManager(nil)
	assert.Less(t, a.CreationCounter(), b.CreationCounter())
	assert.True(t, a.Class().IsPlain())

	reg.ResetCreationCounter()
	assert.Equal(t, uint64(1), reg.NewManager(nil).CreationCounter())
}

func TestManagerQuerySetMethods(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny", "fun": true})
	lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog", "fun": false})
	people := lib.manager(t, lib.person, "objects")

	t.Run("manager exposes forwarded methods", func(t *testing.T) {
		qs, err := people.Call("fun")
		require.NoError(t, err)
		rows, err := qs.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny"}, names(rows))
	})

	t.Run("unforwarded methods stay on the queryset", func(t *testing.T) {
		_, err := people.Call("boring")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAttribute))
		assert.Contains(t, err.Error(), "'ManagerFromPersonQuerySet' object has no attribute 'boring'")

		qs, err := people.All().Call("boring")
		require.NoError(t, err)
		rows, err := qs.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Droopy Dog"}, names(rows))
	})

	t.Run("empty manager", func(t *testing.T) {
		reg := NewRegistry()
		reg.Connections().Add(DefaultDBAlias, openSQLite(t))
		m := NewModel("managers", "Ghost",
			WithFields(NewCharField("name")),
			WithManager("empty", reg.NewManager(EmptyManagerClass)),
		)
		require.NoError(t, reg.Register(m))
		require.NoError(t, reg.Ready())
		require.NoError(t, reg.CreateTables(ctx, DefaultDBAlias))

		base, err := m.BaseManager()
		require.NoError(t, err)
		_, err = base.Create(ctx, Values{"name": "Casper"})
		require.NoError(t, err)

		empty, err := m.Manager("empty")
		require.NoError(t, err)
		rows, err := empty.All().Fetch(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)

		n, err := base.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("db manager pins the alias", func(t *testing.T) {
		pinned := people.DBManager("replica")
		assert.Equal(t, "replica", pinned.DB())
		assert.Equal(t, "replica", pinned.GetQuerySet().DB())
		assert.Equal(t, DefaultDBAlias, people.DB())
	})

	t.Run("insert writes the named fields", func(t *testing.T) {
		cars := lib.manager(t, lib.car, "cars")
		objs := []*Instance{
			lib.car.New(Values{"name": "A", "mileage": 1, "top_speed": 1}),
			lib.car.New(Values{"name": "B", "mileage": 2, "top_speed": 2}),
		}
		require.NoError(t, cars.Insert(ctx, []string{"name", "mileage", "top_speed"}, objs))
		n, err := cars.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("unattached manager", func(t *testing.T) {
		loose := lib.reg.NewManager(nil)
		_, err := loose.Create(ctx, Values{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrImproperlyConfigured))
	})
}
