package testdb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertSQL checks generated statements.
type AssertSQL struct {
	t *testing.T
}

func NewAssertSQL(t *testing.T) *AssertSQL {
	return &AssertSQL{t: t}
}

func (a *AssertSQL) Contains(sql, expected string) bool {
	a.t.Helper()
	return assert.Contains(a.t, sql, expected, "SQL does not contain expected string")
}

func (a *AssertSQL) NotContains(sql, unexpected string) bool {
	a.t.Helper()
	return assert.NotContains(a.t, sql, unexpected, "SQL contains unexpected string")
}

// CountStatements counts case-insensitive occurrences of stmtType.
func (a *AssertSQL) CountStatements(sql, stmtType string) int {
	return strings.Count(strings.ToUpper(sql), strings.ToUpper(stmtType))
}

func (a *AssertSQL) AssertStatementCount(sql, stmtType string, expected int) bool {
	a.t.Helper()
	return assert.Equal(a.t, expected, a.CountStatements(sql, stmtType), "%s statements in:\n%s", stmtType, sql)
}

// TableAssertions checks what a database actually contains. Lookup failures
// stop the test; mismatches are reported and the test continues.
type TableAssertions struct {
	t   *testing.T
	tdb *TestDB
}

func NewTableAssertions(t *testing.T, tdb *TestDB) *TableAssertions {
	return &TableAssertions{t: t, tdb: tdb}
}

func (ta *TableAssertions) AssertTableExists(tableName string) {
	ta.t.Helper()
	exists, err := ta.tdb.TableExists(tableName)
	require.NoError(ta.t, err)
	assert.True(ta.t, exists, "table %s does not exist", tableName)
}

func (ta *TableAssertions) AssertTableNotExists(tableName string) {
	ta.t.Helper()
	exists, err := ta.tdb.TableExists(tableName)
	require.NoError(ta.t, err)
	assert.False(ta.t, exists, "table %s exists", tableName)
}

func (ta *TableAssertions) AssertColumnExists(tableName, columnName string) {
	ta.t.Helper()
	exists, err := ta.tdb.ColumnExists(tableName, columnName)
	require.NoError(ta.t, err)
	assert.True(ta.t, exists, "column %s.%s does not exist", tableName, columnName)
}

func (ta *TableAssertions) AssertIndexExists(indexName string) {
	ta.t.Helper()
	exists, err := ta.tdb.IndexExists(indexName)
	require.NoError(ta.t, err)
	assert.True(ta.t, exists, "index %s does not exist", indexName)
}

func (ta *TableAssertions) AssertRowCount(tableName string, expected int64) {
	ta.t.Helper()
	n, err := ta.tdb.RowCount(tableName)
	require.NoError(ta.t, err)
	assert.Equal(ta.t, expected, n, "rows in %s", tableName)
}
