// Package testdb opens throwaway sqlite databases for tests.
package testdb

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Driver is the database/sql driver name registered by modernc.org/sqlite.
const Driver = "sqlite"

// TestDB provides a test database connection
type TestDB struct {
	*sqlx.DB
	URL string
	t   *testing.T
}

// New opens an in-memory database that lives as long as the test. The pool
// is pinned to one connection so every query sees the same database.
func New(t *testing.T) *TestDB {
	t.Helper()
	return open(t, ":memory:")
}

// NewFile opens a database file under t.TempDir with foreign keys enforced.
// URL can be handed to anything that opens its own connections.
func NewFile(t *testing.T) *TestDB {
	t.Helper()
	return open(t, FileURL(t))
}

// FileURL returns a fresh sqlite file URL under t.TempDir.
func FileURL(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)"
}

// Open connects to an existing database URL, such as one from FileURL.
func Open(t *testing.T, url string) *TestDB {
	t.Helper()
	return open(t, url)
}

func open(t *testing.T, url string) *TestDB {
	t.Helper()
	db, err := sqlx.Open(Driver, url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return &TestDB{DB: db, URL: url, t: t}
}

// ExecuteSQL executes SQL statements
func (tdb *TestDB) ExecuteSQL(sql string) error {
	for _, stmt := range strings.Split(sql, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tdb.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute SQL: %w\nStatement: %s", err, stmt)
		}
	}
	return nil
}

// TableExists checks if a table exists
func (tdb *TestDB) TableExists(tableName string) (bool, error) {
	var n int
	err := tdb.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName)
	return n > 0, err
}

// ColumnExists checks if a column exists in a table
func (tdb *TestDB) ColumnExists(tableName, columnName string) (bool, error) {
	var n int
	err := tdb.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, tableName, columnName)
	return n > 0, err
}

// ColumnNotNull reports whether a column was declared NOT NULL.
func (tdb *TestDB) ColumnNotNull(tableName, columnName string) (bool, error) {
	var notNull int
	err := tdb.Get(&notNull, `SELECT "notnull" FROM pragma_table_info(?) WHERE name = ?`, tableName, columnName)
	return notNull == 1, err
}

// IndexExists checks if an index exists
func (tdb *TestDB) IndexExists(indexName string) (bool, error) {
	var n int
	err := tdb.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, indexName)
	return n > 0, err
}

// RowCount counts the rows of a table.
func (tdb *TestDB) RowCount(tableName string) (int64, error) {
	var n int64
	err := tdb.Get(&n, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, tableName))
	return n, err
}
