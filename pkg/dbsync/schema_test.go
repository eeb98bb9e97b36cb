package dbsync

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFiles writes each file relative to dir, creating directories as needed
func writeFiles(t *testing.T, dir string, files map[string]string) {
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func changelogDir(t *testing.T) string {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"createSchema/1_customers.up.sql":   "CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n",
		"createSchema/1_customers.down.sql": "DROP TABLE customers;\n",
		"createSchema/2_orders.up.sql":      "CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER);\n",
		"createView/1_names.up.sql":         "CREATE VIEW customer_names AS SELECT name FROM customers;\n",
		"createIndex/1_orders_customer.up.sql": "CREATE INDEX orders_customer ON orders (customer_id);\n" +
			"CREATE UNIQUE INDEX customers_name ON customers (name);\n",
	})
	return dir
}

func TestSchemaMigratorAppliesPhases(t *testing.T) {
	ctx := context.Background()
	target := openSQLite(t, "target", 1)
	var out bytes.Buffer
	migrator := NewSchemaMigrator(changelogDir(t), target, NewSink(&out, target, 0, testLogger()), testLogger())

	for _, phase := range []Phase{CreateSchema, CreateView, CreateIndex} {
		require.NoError(t, migrator.Apply(ctx, phase))
	}

	tables, err := ListTables(ctx, target.Dialect, target.DB)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)
	for _, phase := range []Phase{CreateSchema, CreateView, CreateIndex} {
		exists, err := tableExists(ctx, target.Dialect, target.DB, phase.MigrationsTable())
		require.NoError(t, err)
		assert.True(t, exists, phase)
	}
	var indices int
	err = target.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name IN ('orders_customer', 'customers_name')`).Scan(&indices)
	require.NoError(t, err)
	assert.Equal(t, 2, indices)

	dump := out.String()
	assert.Equal(t, "--\n-- createSchema\n--\n"+
		"--\n-- customers\n--\n"+
		"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL);\n"+
		"--\n-- orders\n--\n"+
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER);\n"+
		"--\n-- createView\n--\n"+
		"--\n-- names\n--\n"+
		"CREATE VIEW customer_names AS SELECT name FROM customers;\n"+
		"--\n-- createIndex\n--\n"+
		"--\n-- orders_customer\n--\n"+
		"CREATE INDEX orders_customer ON orders (customer_id);\n"+
		"CREATE UNIQUE INDEX customers_name ON customers (name);\n",
		dump)

	// A second run finds nothing to do
	require.NoError(t, migrator.Apply(ctx, CreateSchema))
}

func TestSchemaMigratorRenderOnly(t *testing.T) {
	ctx := context.Background()
	target := openSQLite(t, "target", 1)
	var out bytes.Buffer
	migrator := NewSchemaMigrator(changelogDir(t), target, NewSink(&out, nil, 0, testLogger()), testLogger())

	require.NoError(t, migrator.Apply(ctx, CreateSchema))
	assert.Contains(t, out.String(), "CREATE TABLE orders")

	tables, err := listTables(ctx, target.Dialect, target.DB)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSchemaMigratorSkipsMissingPhases(t *testing.T) {
	ctx := context.Background()
	target := openSQLite(t, "target", 1)
	var out bytes.Buffer
	sink := NewSink(&out, target, 0, testLogger())

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"createView/README": "no migrations here\n"})
	migrator := NewSchemaMigrator(dir, target, sink, testLogger())
	for _, phase := range []Phase{CreateSchema, CreateView, CreateIndex} {
		require.NoError(t, migrator.Apply(ctx, phase))
	}

	require.NoError(t, NewSchemaMigrator("", target, sink, testLogger()).Apply(ctx, CreateSchema))

	assert.Empty(t, out.String())
	tables, err := listTables(ctx, target.Dialect, target.DB)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSchemaMigratorFailingMigration(t *testing.T) {
	ctx := context.Background()
	target := openSQLite(t, "target", 1)
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"createSchema/1_broken.up.sql": "CREATE TABLE (;\n"})

	err := NewSchemaMigrator(dir, target, NewSink(nil, target, 0, testLogger()), testLogger()).Apply(ctx, CreateSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not apply createSchema")
}

func TestPhaseMigrationsTable(t *testing.T) {
	assert.Equal(t, "schema_migrations_createschema", CreateSchema.MigrationsTable())
	assert.Equal(t, "schema_migrations_createview", CreateView.MigrationsTable())
	assert.Equal(t, "schema_migrations_createindex", CreateIndex.MigrationsTable())
}
