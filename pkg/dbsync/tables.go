package dbsync

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// bookkeepingTables belong to schema versioning tools and are never copied, matched lower cased
var bookkeepingTables = mapset.NewSet[string](
	"changelog",
	"databasechangelog",
	"databasechangeloglock",
	"schema_migrations",
	CreateSchema.MigrationsTable(),
	CreateView.MigrationsTable(),
	CreateIndex.MigrationsTable(),
)

// Table is captured once during inventory and read only after that
type Table struct {
	Name string
	// RowCount is the number of rows at inventory time, the verification baseline
	RowCount int64
	// IDColumn is the name of the ID column
	IDColumn string
}

func (t *Table) String() string {
	return t.Name
}

// Inventory is the ordered list of tables to copy
type Inventory struct {
	Tables []*Table
}

func (i *Inventory) TotalRows() int64 {
	return lo.SumBy(i.Tables, func(t *Table) int64 { return t.RowCount })
}

func (i *Inventory) Names() []string {
	return lo.Map(i.Tables, func(t *Table, _ int) string { return t.Name })
}

func (i *Inventory) Table(name string) (*Table, bool) {
	return lo.Find(i.Tables, func(t *Table) bool { return t.Name == name })
}

func isBookkeepingTable(name string) bool {
	return bookkeepingTables.Contains(strings.ToLower(name))
}

// ListTables lists the tables of a database in catalog order, leaving out bookkeeping tables
func ListTables(ctx context.Context, dialect Dialect, db DBReader) ([]string, error) {
	tables, err := listTables(ctx, dialect, db)
	if err != nil {
		return nil, err
	}
	return lo.Reject(tables, func(name string, _ int) bool { return isBookkeepingTable(name) }), nil
}

func listTables(ctx context.Context, dialect Dialect, db DBReader) ([]string, error) {
	behavior, err := dialect.behavior()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, behavior.listTables)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list tables")
	}
	defer rows.Close()
	var tableNames []string
	for rows.Next() {
		var tableName string
		err := rows.Scan(&tableName)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		tableNames = append(tableNames, tableName)
	}
	// Close explicitly to check for close errors
	err = rows.Close()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tableNames, errors.WithStack(rows.Err())
}

// tableExists is a case insensitive lookup including bookkeeping tables
func tableExists(ctx context.Context, dialect Dialect, db DBReader, name string) (bool, error) {
	tables, err := listTables(ctx, dialect, db)
	if err != nil {
		return false, err
	}
	_, found := lo.Find(tables, func(t string) bool { return strings.EqualFold(t, name) })
	return found, nil
}

// LoadInventory lists the source tables and captures their row counts
func LoadInventory(ctx context.Context, source *DataSource) (*Inventory, error) {
	names, err := ListTables(ctx, source.Dialect, source.DB)
	if err != nil {
		return nil, err
	}
	inventory := &Inventory{Tables: make([]*Table, 0, len(names))}
	for _, name := range names {
		count, err := countRows(ctx, source.Dialect, source.DB, name)
		if err != nil {
			return nil, err
		}
		inventory.Tables = append(inventory.Tables, &Table{
			Name:     name,
			RowCount: count,
			IDColumn: "id",
		})
	}
	return inventory, nil
}

func countRows(ctx context.Context, dialect Dialect, db DBReader, table string) (int64, error) {
	return countRowsNamed(ctx, db, dialect.QuoteIdentifier(table), table)
}

// countRowsNamed counts the rows of table, addressed in SQL by the already rendered name
func countRowsNamed(ctx context.Context, db DBReader, name string, table string) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "could not count rows of %s", table)
	}
	return count, nil
}
