package orm

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortedNames(instances []*Instance) []string {
	out := names(instances)
	sort.Strings(out)
	return out
}

func TestManyToManyAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("adds instances and skips existing pairs", func(t *testing.T) {
		lib := newLibrary(t)
		book := lib.create(t, lib.book, Values{"title": "How to program", "author": "Rodney Dangerfield"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
		droopy := lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog"})

		authors := lib.related(t, book, "authors")
		require.NoError(t, authors.Add(ctx, bugs, droopy))
		require.NoError(t, authors.Add(ctx, bugs))

		assert.Equal(t, int64(2), lib.throughCount(t, lib.book, "authors"))

		rows, err := authors.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny", "Droopy Dog"}, sortedNames(rows))
	})

	t.Run("accepts raw keys", func(t *testing.T) {
		lib := newLibrary(t)
		book := lib.create(t, lib.book, Values{"title": "Keys"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})

		authors := lib.related(t, book, "authors")
		require.NoError(t, authors.Add(ctx, bugs.PK()))

		n, err := authors.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("sends pre and post add with the inserted keys", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Signals"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
		droopy := lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog"})

		authors := lib.related(t, book, "authors")
		require.NoError(t, authors.Add(ctx, bugs))
		rec.reset()

		require.NoError(t, authors.Add(ctx, bugs, droopy))

		require.Len(t, rec.events, 2)
		pre, post := rec.events[0], rec.events[1]
		assert.Equal(t, ActionPreAdd, pre.Action)
		assert.Equal(t, ActionPostAdd, post.Action)

		through, err := authors.Field().Through()
		require.NoError(t, err)
		assert.Same(t, through, pre.Sender)
		assert.Same(t, lib.person, pre.Model)
		assert.Same(t, book, pre.Instance)
		assert.False(t, pre.Reverse)
		assert.Equal(t, DefaultDBAlias, pre.Using)
		assert.Equal(t, []interface{}{normalizeKey(droopy.PK())}, pre.PKSet)
		assert.Equal(t, pre.PKSet, post.PKSet)
	})

	t.Run("repeat add still signals with an empty key set", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Again"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})

		authors := lib.related(t, book, "authors")
		require.NoError(t, authors.Add(ctx, bugs))
		rec.reset()
		require.NoError(t, authors.Add(ctx, bugs))

		require.Len(t, rec.events, 2)
		assert.Empty(t, rec.events[0].PKSet)
		assert.NotNil(t, rec.events[0].PKSet)
	})

	t.Run("no objects is a no-op", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Empty"})

		require.NoError(t, lib.related(t, book, "authors").Add(ctx))
		assert.Empty(t, rec.actions())
	})

	t.Run("rejects values of the wrong kind", func(t *testing.T) {
		lib := newLibrary(t)
		book := lib.create(t, lib.book, Values{"title": "Types"})
		car := lib.create(t, lib.car, Values{"name": "Corvette", "mileage": 21, "top_speed": 180})
		authors := lib.related(t, book, "authors")

		err := authors.Add(ctx, car)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrType))
		assert.Contains(t, err.Error(), "'Person' instance expected, got Car object")

		err = authors.Add(ctx, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValue))

		unsaved := lib.person.New(Values{"first_name": "No", "last_name": "Key"})
		unsaved.State.DB = DefaultDBAlias
		err = authors.Add(ctx, unsaved)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValue))
		assert.Contains(t, err.Error(), `Cannot add "No Key": the value for field "id" is None`)
	})

	t.Run("refuses instances on another database", func(t *testing.T) {
		lib := newLibrary(t)
		book := lib.create(t, lib.book, Values{"title": "Routing"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
		bugs.State.DB = "other"

		err := lib.related(t, book, "authors").Add(ctx, bugs)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValue))
		assert.Contains(t, err.Error(), `instance is on database "default", value is on database "other"`)
	})

	t.Run("receiver error rolls the add back", func(t *testing.T) {
		lib := newLibrary(t)
		book := lib.create(t, lib.book, Values{"title": "Rollback"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})

		boom := errors.New("boom")
		disconnect := lib.reg.Signals().M2MChanged.Connect(nil, func(ctx context.Context, e M2MChangedEvent) error {
			if e.Action == ActionPostAdd {
				return boom
			}
			return nil
		})
		defer disconnect()

		err := lib.related(t, book, "authors").Add(ctx, bugs)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), lib.throughCount(t, lib.book, "authors"))
	})
}

func TestManyToManyUnsavedInstance(t *testing.T) {
	lib := newLibrary(t)
	book := lib.book.New(Values{"title": "Draft"})

	_, err := book.Related("authors")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValue))
	assert.Contains(t, err.Error(), `needs to have a value for field "id" before this many-to-many relationship can be used.`)
}

func TestManyToManyRemoveAndClear(t *testing.T) {
	ctx := context.Background()

	t.Run("remove unlinks only the given objects", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Remove"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
		droopy := lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog"})

		authors := lib.related(t, book, "authors")
		require.NoError(t, authors.Add(ctx, bugs, droopy))
		rec.reset()

		require.NoError(t, authors.Remove(ctx, bugs))

		rows, err := authors.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Droopy Dog"}, names(rows))
		assert.Equal(t, []M2MAction{ActionPreRemove, ActionPostRemove}, rec.actions())
		assert.Equal(t, []interface{}{normalizeKey(bugs.PK())}, rec.events[0].PKSet)

		// the person row itself survives
		base, err := lib.person.BaseManager()
		require.NoError(t, err)
		n, err := base.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("remove with no objects sends nothing", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Nothing"})

		require.NoError(t, lib.related(t, book, "authors").Remove(ctx))
		assert.Empty(t, rec.actions())
	})

	t.Run("empty relation still signals", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		book := lib.create(t, lib.book, Values{"title": "Lonely"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
		authors := lib.related(t, book, "authors")

		require.NoError(t, authors.Remove(ctx, bugs))
		require.NoError(t, authors.Clear(ctx))

		assert.Equal(t, []M2MAction{ActionPreRemove, ActionPostRemove, ActionPreClear, ActionPostClear}, rec.actions())
		assert.Equal(t, []interface{}{normalizeKey(bugs.PK())}, rec.events[0].PKSet)
		assert.Equal(t, []interface{}{normalizeKey(bugs.PK())}, rec.events[1].PKSet)
		assert.Nil(t, rec.events[2].PKSet)
		assert.Nil(t, rec.events[3].PKSet)
		assert.Equal(t, int64(0), lib.throughCount(t, lib.book, "authors"))
	})

	t.Run("clear only touches the instance's rows", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		first := lib.create(t, lib.book, Values{"title": "First"})
		second := lib.create(t, lib.book, Values{"title": "Second"})
		bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})

		require.NoError(t, lib.related(t, first, "authors").Add(ctx, bugs))
		require.NoError(t, lib.related(t, second, "authors").Add(ctx, bugs))
		rec.reset()

		require.NoError(t, lib.related(t, first, "authors").Clear(ctx))

		assert.Equal(t, []M2MAction{ActionPreClear, ActionPostClear}, rec.actions())
		assert.Nil(t, rec.events[0].PKSet)
		assert.Equal(t, int64(1), lib.throughCount(t, lib.book, "authors"))

		n, err := lib.related(t, second, "authors").Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestManyToManyReverse(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)

	bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
	published := lib.create(t, lib.book, Values{"title": "Published", "is_published": true})
	draft := lib.create(t, lib.book, Values{"title": "Draft"})

	require.NoError(t, lib.related(t, published, "authors").Add(ctx, bugs))
	require.NoError(t, lib.related(t, draft, "authors").Add(ctx, bugs))

	books := lib.related(t, bugs, "books")
	assert.True(t, books.Reverse())
	assert.Equal(t, "published_objects", books.Name())

	t.Run("scoped by the default manager", func(t *testing.T) {
		rows, err := books.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Published"}, names(rows))
	})

	t.Run("remove skips rows the default manager hides", func(t *testing.T) {
		require.NoError(t, books.Remove(ctx, draft, published))

		rows, err := lib.related(t, draft, "authors").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny"}, names(rows))

		n, err := lib.related(t, published, "authors").Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("reverse signals carry the reverse flag", func(t *testing.T) {
		rec := recordM2M(t, lib.reg)
		require.NoError(t, books.Add(ctx, published))
		require.NotEmpty(t, rec.events)
		assert.True(t, rec.events[0].Reverse)
		assert.Same(t, lib.book, rec.events[0].Model)
	})
}

func TestManyToManySymmetrical(t *testing.T) {
	ctx := context.Background()

	t.Run("add writes both directions and signals once", func(t *testing.T) {
		lib := newLibrary(t)
		rec := recordM2M(t, lib.reg)
		anne := lib.create(t, lib.member, Values{"name": "Anne"})
		bob := lib.create(t, lib.member, Values{"name": "Bob"})
		rec.reset()

		friends := lib.related(t, anne, "friends")
		assert.True(t, friends.Symmetrical())
		require.NoError(t, friends.Add(ctx, bob))

		assert.Equal(t, []M2MAction{ActionPreAdd, ActionPostAdd}, rec.actions())
		assert.Equal(t, int64(2), lib.throughCount(t, lib.member, "friends"))

		rows, err := lib.related(t, bob, "friends").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Anne"}, names(rows))
	})

	t.Run("remove drops both directions", func(t *testing.T) {
		lib := newLibrary(t)
		anne := lib.create(t, lib.member, Values{"name": "Anne"})
		bob := lib.create(t, lib.member, Values{"name": "Bob"})
		carl := lib.create(t, lib.member, Values{"name": "Carl"})

		require.NoError(t, lib.related(t, anne, "friends").Add(ctx, bob, carl))
		require.NoError(t, lib.related(t, bob, "friends").Remove(ctx, anne))

		assert.Equal(t, int64(2), lib.throughCount(t, lib.member, "friends"))
		rows, err := lib.related(t, anne, "friends").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Carl"}, names(rows))
	})

	t.Run("clear drops both directions", func(t *testing.T) {
		lib := newLibrary(t)
		anne := lib.create(t, lib.member, Values{"name": "Anne"})
		bob := lib.create(t, lib.member, Values{"name": "Bob"})

		require.NoError(t, lib.related(t, anne, "friends").Add(ctx, bob))
		require.NoError(t, lib.related(t, anne, "friends").Clear(ctx))
		assert.Equal(t, int64(0), lib.throughCount(t, lib.member, "friends"))
	})

	t.Run("non-symmetrical self relation has a reverse side", func(t *testing.T) {
		lib := newLibrary(t)
		anne := lib.create(t, lib.member, Values{"name": "Anne"})
		bob := lib.create(t, lib.member, Values{"name": "Bob"})

		require.NoError(t, lib.related(t, anne, "follows").Add(ctx, bob))
		assert.Equal(t, int64(1), lib.throughCount(t, lib.member, "follows"))

		followers, err := lib.related(t, bob, "followers").Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Anne"}, names(followers))

		follows, err := lib.related(t, bob, "follows").Fetch(ctx)
		require.NoError(t, err)
		assert.Empty(t, follows)
	})
}

func TestManyToManyCustomThrough(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)

	group := lib.create(t, lib.group, Values{"name": "Rabbits"})
	bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
	lib.create(t, lib.membership, Values{"person": bugs, "group": group, "role": "lead"})

	members := lib.related(t, group, "members")

	t.Run("reads through the intermediary", func(t *testing.T) {
		rows, err := members.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny"}, names(rows))

		groups, err := lib.related(t, bugs, "group_set").Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "Rabbits", groups[0].Get("name"))
	})

	t.Run("write helpers are refused", func(t *testing.T) {
		want := "Use social.Membership's Manager instead."

		err := members.Add(ctx, bugs)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAttribute))
		assert.Contains(t, err.Error(), "Cannot use add() on a ManyToManyField which specifies an intermediary model.")
		assert.Contains(t, err.Error(), want)

		err = members.Remove(ctx, bugs)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot use remove()")

		_, err = members.Create(ctx, Values{"first_name": "Daffy"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Cannot use create()")
	})

	t.Run("clear is refused", func(t *testing.T) {
		before, err := members.Count(ctx)
		require.NoError(t, err)

		err = members.Clear(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAttribute))
		assert.Contains(t, err.Error(), "Cannot use clear() on a ManyToManyField which specifies an intermediary model.")

		after, err := members.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestManyToManyCreateHelpers(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	book := lib.create(t, lib.book, Values{"title": "Helpers"})
	authors := lib.related(t, book, "authors")

	created, err := authors.Create(ctx, Values{"first_name": "Daffy", "last_name": "Duck"})
	require.NoError(t, err)
	assert.NotNil(t, created.PK())

	obj, isNew, err := authors.GetOrCreate(ctx, Values{"first_name": "Daffy"}, nil)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, normalizeKey(created.PK()), normalizeKey(obj.PK()))

	obj, isNew, err = authors.GetOrCreate(ctx, Values{"first_name": "Porky"}, Values{"last_name": "Pig"})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "Pig", obj.Get("last_name"))

	obj, isNew, err = authors.UpdateOrCreate(ctx, Values{"first_name": "Porky"}, Values{"last_name": "Pig Jr"})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "Pig Jr", obj.Get("last_name"))

	rows, err := authors.OrderBy("first_name").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Daffy Duck", "Porky Pig Jr"}, names(rows))
}

func TestManyToManyManagerQueries(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)
	book := lib.create(t, lib.book, Values{"title": "Queries"})
	bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny", "fun": true})
	droopy := lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog"})
	authors := lib.related(t, book, "authors")
	require.NoError(t, authors.Add(ctx, bugs, droopy))

	t.Run("keeps the default manager's queryset methods", func(t *testing.T) {
		qs, err := authors.Call("fun")
		require.NoError(t, err)
		rows, err := qs.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny"}, names(rows))

		_, err = authors.Call("boring")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAttribute))
	})

	t.Run("filter and exclude stay within the relation", func(t *testing.T) {
		rows, err := authors.Filter(authors.GetQuerySet().Col("last_name").Eq("Dog")).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Droopy Dog"}, names(rows))

		rows, err = authors.Exclude(authors.GetQuerySet().Col("last_name").Eq("Dog")).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Bugs Bunny"}, names(rows))

		got, err := authors.Get(ctx, authors.GetQuerySet().Col("first_name").Eq("Bugs"))
		require.NoError(t, err)
		assert.Equal(t, normalizeKey(bugs.PK()), normalizeKey(got.PK()))
	})

	t.Run("joined querysets are not distinct", func(t *testing.T) {
		qs := authors.FilterBy(Values{"fun": false})
		assert.True(t, qs.IsSticky())
		assert.False(t, qs.IsDistinct())
	})
}

func TestPrefetchRelated(t *testing.T) {
	ctx := context.Background()
	lib := newLibrary(t)

	bugs := lib.create(t, lib.person, Values{"first_name": "Bugs", "last_name": "Bunny"})
	droopy := lib.create(t, lib.person, Values{"first_name": "Droopy", "last_name": "Dog"})
	first := lib.create(t, lib.book, Values{"title": "First"})
	second := lib.create(t, lib.book, Values{"title": "Second"})
	lib.create(t, lib.book, Values{"title": "Third"})

	require.NoError(t, lib.related(t, first, "authors").Add(ctx, bugs, droopy))
	require.NoError(t, lib.related(t, second, "authors").Add(ctx, droopy))

	counter := countQueries(lib.reg)

	books, err := lib.manager(t, lib.book, "objects").OrderBy("title").PrefetchRelated("authors").Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, 2, counter.count())

	want := [][]string{{"Bugs Bunny", "Droopy Dog"}, {"Droopy Dog"}, {}}
	for i, book := range books {
		authors := lib.related(t, book, "authors")
		rows, err := authors.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, want[i], sortedNames(rows), book.String())
	}
	assert.Equal(t, 2, counter.count(), "cached relations must not query")

	t.Run("writes drop the cache", func(t *testing.T) {
		authors := lib.related(t, books[2], "authors")
		require.NoError(t, authors.Add(ctx, bugs))
		_, cached := books[2].Prefetched("authors")
		assert.False(t, cached)
	})

	t.Run("reverse relation", func(t *testing.T) {
		people, err := lib.manager(t, lib.person, "objects").OrderBy("first_name").PrefetchRelated("books").Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, people, 2)
		_, cached := people[0].Prefetched("books")
		assert.True(t, cached)
	})

	t.Run("rejects non many-to-many names", func(t *testing.T) {
		_, err := lib.manager(t, lib.book, "objects").PrefetchRelated("title").Fetch(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValue))
		assert.Contains(t, err.Error(), "'title' does not resolve to an item that supports prefetching")
	})
}
