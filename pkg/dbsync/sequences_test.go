package dbsync

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequencesRun(dialect Dialect, out *bytes.Buffer) *RunContext {
	ds := NewDataSource("target", dialect, nil)
	return &RunContext{
		Source: ds,
		Target: ds,
		Sink:   NewSink(out, nil, 0, testLogger()),
		Logger: testLogger(),
	}
}

var sequencesInventory = &Inventory{Tables: []*Table{
	{Name: "Customers", RowCount: 3, IDColumn: "id"},
	{Name: "orders", RowCount: 0, IDColumn: "id"},
}}

func TestResetSequencesPostgres(t *testing.T) {
	var out bytes.Buffer
	err := ResetSequences(context.Background(), sequencesRun(Postgres, &out), sequencesInventory)
	require.NoError(t, err)
	assert.Equal(t, "--\n-- Setting sequences\n--\n"+
		"select setval('customers_id_seq', (select max(id) from Customers));\n"+
		"select setval('orders_id_seq', (select max(id) from orders));\n",
		out.String())
}

func TestResetSequencesNoop(t *testing.T) {
	for _, dialect := range []Dialect{MySQL, SQLite} {
		t.Run(dialect.String(), func(t *testing.T) {
			var out bytes.Buffer
			err := ResetSequences(context.Background(), sequencesRun(dialect, &out), sequencesInventory)
			require.NoError(t, err)
			assert.Empty(t, out.String())
		})
	}
}

func TestResetSequencesUnknownDialect(t *testing.T) {
	var out bytes.Buffer
	err := ResetSequences(context.Background(), sequencesRun(UnknownDialect, &out), sequencesInventory)
	var unsupported *UnsupportedDialectError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "sequence reset", unsupported.Operation)
	assert.Empty(t, out.String())
}
