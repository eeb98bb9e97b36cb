package dbsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var insertStatement = regexp.MustCompile(`(?m)^INSERT INTO `)

func newTestRun(source, target *DataSource, sink *Sink, total int64, batchSize int) *RunContext {
	return &RunContext{
		Source:       source,
		Target:       target,
		Sink:         sink,
		Progress:     newProgress(total, 0, false, io.Discard, testLogger()),
		Logger:       testLogger(),
		ReadRetry:    RetryOptions{MaxRetries: 1, Timeout: time.Minute},
		BatchSizeFor: func(string) int { return batchSize },
	}
}

func TestCopyManyTablesConcurrently(t *testing.T) {
	ctx := context.Background()
	source := openSQLite(t, "source", 3)
	target := openSQLite(t, "target", 1)
	for i := 0; i < 10; i++ {
		createTable(t, source.DB, fmt.Sprintf("table_%d", i), ids(1, int64(i*7))...)
	}
	inventory, err := LoadInventory(ctx, source)
	require.NoError(t, err)
	require.Len(t, inventory.Tables, 10)

	var out bytes.Buffer
	sink := NewSink(&out, nil, 0, testLogger())
	run := newTestRun(source, target, sink, inventory.TotalRows(), 3)
	tasks := lo.Map(inventory.Tables, func(table *Table, _ int) Task {
		return Task{Name: table.Name, Run: NewTableCopier(run, table).Run}
	})
	scheduler := &Scheduler{Threads: 3, QueueSize: 2, Timeout: time.Minute, Logger: testLogger()}
	require.NoError(t, scheduler.Run(ctx, tasks))
	run.Progress.Close()

	expectedStatements := lo.SumBy(inventory.Tables, func(table *Table) int {
		return int((table.RowCount + 2) / 3)
	})
	dump := out.String()
	assert.Len(t, insertStatement.FindAllString(dump, -1), expectedStatements)
	assert.Equal(t, expectedStatements, int(sink.Writes()))
	assert.Equal(t, int(inventory.TotalRows()), insertedRows(dump))
	assert.Equal(t, inventory.TotalRows(), run.Progress.Rows())
	for _, table := range inventory.Tables {
		assert.Contains(t, dump, "-- dumping records for table "+table.Name+"\n")
	}
}

func TestCopyIntoTarget(t *testing.T) {
	ctx := context.Background()
	source := openSQLite(t, "source", 1)
	target := openSQLite(t, "target", 1)
	createTable(t, source.DB, "customers", ids(1, 25)...)
	createTable(t, target.DB, "customers")

	table := &Table{Name: "customers", RowCount: 25, IDColumn: "id"}
	run := newTestRun(source, target, NewSink(nil, target, 0, testLogger()), 25, 10)
	require.NoError(t, NewTableCopier(run, table).Run(ctx))

	count, err := countRows(ctx, SQLite, target.DB, "customers")
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)

	var name string
	var avatar []byte
	err = target.DB.QueryRowContext(ctx, `SELECT name, avatar FROM customers WHERE id = 7`).Scan(&name, &avatar)
	require.NoError(t, err)
	assert.Equal(t, "O'Brien 7", name)
	assert.Equal(t, []byte{0xca, 0xfe, 7}, avatar)
}

func TestCopyEmptyTableRendersNothing(t *testing.T) {
	ctx := context.Background()
	source := openSQLite(t, "source", 1)
	createTable(t, source.DB, "customers")

	var out bytes.Buffer
	sink := NewSink(&out, nil, 0, testLogger())
	run := newTestRun(source, source, sink, 0, 10)
	require.NoError(t, NewTableCopier(run, &Table{Name: "customers", IDColumn: "id"}).Run(ctx))
	assert.Equal(t, int64(0), sink.Writes())
	assert.Empty(t, insertStatement.FindAllString(out.String(), -1))
}

func TestCopyTableWithoutID(t *testing.T) {
	ctx := context.Background()
	source := openSQLite(t, "source", 1)
	_, err := source.DB.ExecContext(ctx, `CREATE TABLE settings (name TEXT, value TEXT)`)
	require.NoError(t, err)

	run := newTestRun(source, source, NewSink(nil, nil, 0, testLogger()), 0, 10)
	err = NewTableCopier(run, &Table{Name: "settings", IDColumn: "id"}).Run(ctx)
	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "settings", mismatch.Table)
	assert.Contains(t, err.Error(), "could not copy settings")
}
