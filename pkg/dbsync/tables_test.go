package dbsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTablesSkipsBookkeeping(t *testing.T) {
	ctx := context.Background()
	ds := openSQLite(t, "source", 1)
	for _, stmt := range []string{
		`CREATE TABLE zebras (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE CHANGELOG (change_number INTEGER)`,
		`CREATE TABLE apples (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE DatabaseChangeLog (id TEXT)`,
		`CREATE TABLE schema_migrations_createschema (version INTEGER)`,
		`CREATE TABLE mangos (id INTEGER PRIMARY KEY)`,
	} {
		_, err := ds.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	tables, err := ListTables(ctx, ds.Dialect, ds.DB)
	require.NoError(t, err)
	// creation order, not alphabetical
	assert.Equal(t, []string{"zebras", "apples", "mangos"}, tables)

	exists, err := tableExists(ctx, ds.Dialect, ds.DB, "changelog")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = tableExists(ctx, ds.Dialect, ds.DB, "APPLES")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = tableExists(ctx, ds.Dialect, ds.DB, "pears")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListTablesUnknownDialect(t *testing.T) {
	ds := openSQLite(t, "source", 1)
	_, err := ListTables(context.Background(), UnknownDialect, ds.DB)
	var unsupported *UnsupportedDialectError
	assert.ErrorAs(t, err, &unsupported)
}

func TestLoadInventory(t *testing.T) {
	ctx := context.Background()
	ds := openSQLite(t, "source", 1)
	createTable(t, ds.DB, "customers", ids(1, 10)...)
	createTable(t, ds.DB, "orders")
	createTable(t, ds.DB, "payments", 3, 17, 400)

	inventory, err := LoadInventory(ctx, ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders", "payments"}, inventory.Names())
	assert.Equal(t, int64(13), inventory.TotalRows())

	payments, found := inventory.Table("payments")
	require.True(t, found)
	assert.Equal(t, int64(3), payments.RowCount)
	assert.Equal(t, "id", payments.IDColumn)

	_, found = inventory.Table("refunds")
	assert.False(t, found)
}

func TestIsBookkeepingTable(t *testing.T) {
	assert.True(t, isBookkeepingTable("DATABASECHANGELOGLOCK"))
	assert.True(t, isBookkeepingTable("schema_migrations"))
	assert.True(t, isBookkeepingTable(CreateIndex.MigrationsTable()))
	assert.False(t, isBookkeepingTable("changelogs"))
}
