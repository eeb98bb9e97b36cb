package dbsync

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	return logrus.WithField("test", true)
}

func sqliteConfig(t *testing.T, name string) DBConfig {
	return DBConfig{URL: "sqlite:" + filepath.Join(t.TempDir(), name+".db")}
}

func openSQLite(t *testing.T, name string, maxOpenConns int) *DataSource {
	ds, err := OpenDataSource(context.Background(), name, sqliteConfig(t, name), maxOpenConns)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ds.Close()
	})
	return ds
}

const customersTable = `
	CREATE TABLE %s (
	  id INTEGER PRIMARY KEY,
	  name VARCHAR(255) NOT NULL,
	  balance DECIMAL(10,2),
	  active BOOLEAN,
	  avatar BLOB,
	  created_at TIMESTAMP
	)`

// createTable creates a table with one row per id
func createTable(t *testing.T, db DBWriter, table string, ids ...int64) {
	ctx := context.Background()
	_, err := db.ExecContext(ctx, fmt.Sprintf(customersTable, table))
	require.NoError(t, err)
	insertRows(t, db, table, ids...)
}

func insertRows(t *testing.T, db DBWriter, table string, ids ...int64) {
	ctx := context.Background()
	for _, id := range ids {
		_, err := db.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, name, balance, active, avatar, created_at) VALUES (?, ?, ?, ?, ?, ?)", table),
			id, fmt.Sprintf("O'Brien %d", id), float64(id)+0.25, id%2 == 0, []byte{0xca, 0xfe, byte(id)},
			"2021-03-04 05:06:07")
		require.NoError(t, err)
	}
}

// insertedRows counts the rows of the INSERT statements in a dump
func insertedRows(dump string) int {
	count := 0
	for _, stmt := range strings.Split(dump, statementTerminator) {
		stmt = strings.TrimSpace(stripComments(stmt))
		if strings.HasPrefix(stmt, "INSERT INTO ") {
			count += strings.Count(stmt, "), (") + 1
		}
	}
	return count
}

func stripComments(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "--") {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func ids(from, to int64) []int64 {
	var result []int64
	for i := from; i <= to; i++ {
		result = append(result, i)
	}
	return result
}
