package testdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestDB(t *testing.T) {
	tdb := New(t)
	require.NoError(t, tdb.ExecuteSQL(`
		CREATE TABLE shelf (id INTEGER PRIMARY KEY, name TEXT NOT NULL, note TEXT);
		CREATE INDEX shelf_name_idx ON shelf (name);
		INSERT INTO shelf (name) VALUES ('a');
		INSERT INTO shelf (name) VALUES ('b');
	`))

	ta := NewTableAssertions(t, tdb)
	ta.AssertTableExists("shelf")
	ta.AssertTableNotExists("book")
	ta.AssertColumnExists("shelf", "name")
	ta.AssertIndexExists("shelf_name_idx")
	ta.AssertRowCount("shelf", 2)

	notNull, err := tdb.ColumnNotNull("shelf", "name")
	require.NoError(t, err)
	assert.True(t, notNull)
	notNull, err = tdb.ColumnNotNull("shelf", "note")
	require.NoError(t, err)
	assert.False(t, notNull)

	err = tdb.ExecuteSQL("INSERT INTO missing VALUES (1)")
	assert.ErrorContains(t, err, "Statement: INSERT INTO missing VALUES (1)")
}

func TestNewFile(t *testing.T) {
	tdb := NewFile(t)
	assert.Contains(t, tdb.URL, "_pragma=foreign_keys(1)")

	require.NoError(t, tdb.ExecuteSQL(`
		CREATE TABLE parent (id INTEGER PRIMARY KEY);
		CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent (id))
	`))
	_, err := tdb.Exec("INSERT INTO child (parent_id) VALUES (42)")
	assert.Error(t, err, "foreign keys are enforced")
}

func TestAssertSQL(t *testing.T) {
	a := NewAssertSQL(t)
	sql := "CREATE TABLE a (id int);\ncreate table b (id int);\nCREATE INDEX i ON a (id)"
	a.Contains(sql, "CREATE INDEX")
	a.NotContains(sql, "DROP")
	a.AssertStatementCount(sql, "create table", 2)
}
