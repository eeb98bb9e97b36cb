package dbsync

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_duration",
			Help:    "Duration of fetching a single batch from the source.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(batchDuration)
}

// Cursor is the keyset pagination state of one table
type Cursor struct {
	// LastSeenID is the highest id read so far, 0 before the first batch
	LastSeenID int64
	// UpperBoundID is MAX(id) snapshotted before the first batch, rows above it are never read
	UpperBoundID int64
	// Started is set once the first batch is read, before that there is no lower bound
	Started bool
	// Exhausted is set when there is nothing more to read
	Exhausted bool
}

// BatchReader pages through a table in id order, bounded by the id snapshot taken in Open
type BatchReader struct {
	table     *Table
	dialect   Dialect
	conn      DBReader
	batchSize int
	retry     RetryOptions
	reconnect func(ctx context.Context) (DBReader, error)

	opened   bool
	idColumn string
	cursor   Cursor
}

func NewBatchReader(table *Table, dialect Dialect, conn DBReader, batchSize int, retry RetryOptions) *BatchReader {
	return &BatchReader{
		table:     table,
		dialect:   dialect,
		conn:      conn,
		batchSize: batchSize,
		retry:     retry,
	}
}

// WithReconnect lets retries check out a new connection once the current one is broken
func (r *BatchReader) WithReconnect(reconnect func(ctx context.Context) (DBReader, error)) *BatchReader {
	r.reconnect = reconnect
	return r
}

func (r *BatchReader) connection(ctx context.Context) (DBReader, error) {
	if r.conn == nil {
		conn, err := r.reconnect(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "could not reconnect for %s", r.table.Name)
		}
		r.conn = conn
	}
	return r.conn, nil
}

// release forgets a connection that can't serve another attempt
func (r *BatchReader) release(err error) error {
	if err != nil && r.reconnect != nil && isBadConnection(err) {
		r.conn = nil
	}
	return err
}

func isBadConnection(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn)
}

// Open locates the id column and snapshots the upper bound
func (r *BatchReader) Open(ctx context.Context) error {
	if r.batchSize <= 0 {
		return errors.Errorf("batch size must be positive: %d", r.batchSize)
	}
	tableName := r.dialect.QuoteIdentifier(r.table.Name)
	err := Retry(ctx, r.retry, func(ctx context.Context) error {
		conn, err := r.connection(ctx)
		if err != nil {
			return err
		}
		rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", tableName))
		if err != nil {
			return r.release(errors.WithStack(err))
		}
		defer rows.Close()
		fields, _, err := scanRows(rows)
		if err != nil {
			return r.release(errors.WithStack(err))
		}
		index := idFieldIndex(fields, r.table.IDColumn)
		if index == -1 {
			return backoff.Permanent(&SchemaMismatchError{Table: r.table.Name, Columns: fieldNames(fields)})
		}
		r.idColumn = fields[index].Name
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "could not read columns of %s", r.table.Name)
	}

	var upperBound sql.NullInt64
	err = Retry(ctx, r.retry, func(ctx context.Context) error {
		conn, err := r.connection(ctx)
		if err != nil {
			return err
		}
		row := conn.QueryRowContext(ctx,
			fmt.Sprintf("SELECT MAX(%s) FROM %s", r.dialect.QuoteIdentifier(r.idColumn), tableName))
		return r.release(errors.WithStack(row.Scan(&upperBound)))
	})
	if err != nil {
		return errors.Wrapf(err, "could not read max id of %s", r.table.Name)
	}
	r.opened = true
	r.cursor = Cursor{UpperBoundID: upperBound.Int64, Exhausted: !upperBound.Valid}
	return nil
}

func (r *BatchReader) query() (string, []interface{}) {
	id := r.dialect.QuoteIdentifier(r.idColumn)
	if !r.cursor.Started {
		return fmt.Sprintf("SELECT * FROM %s WHERE %s <= %s ORDER BY %s LIMIT %d",
			r.dialect.QuoteIdentifier(r.table.Name), id, r.dialect.Placeholder(1), id, r.batchSize),
			[]interface{}{r.cursor.UpperBoundID}
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE %s > %s AND %s <= %s ORDER BY %s LIMIT %d",
			r.dialect.QuoteIdentifier(r.table.Name), id, r.dialect.Placeholder(1), id, r.dialect.Placeholder(2), id, r.batchSize),
		[]interface{}{r.cursor.LastSeenID, r.cursor.UpperBoundID}
}

// Next returns the next batch or nil when the table is done
func (r *BatchReader) Next(ctx context.Context) (*Batch, error) {
	if !r.opened {
		return nil, errors.Errorf("reader for %s is not open", r.table.Name)
	}
	if r.cursor.Exhausted {
		return nil, nil
	}

	timer := prometheus.NewTimer(batchDuration.WithLabelValues(r.table.Name))
	query, args := r.query()
	var fields []Field
	var rows [][]interface{}
	err := Retry(ctx, r.retry, func(ctx context.Context) error {
		conn, err := r.connection(ctx)
		if err != nil {
			return err
		}
		result, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return r.release(errors.WithStack(err))
		}
		defer result.Close()
		fields, rows, err = scanRows(result)
		return r.release(errors.WithStack(err))
	})
	timer.ObserveDuration()
	if err != nil {
		return nil, errors.Wrapf(err, "could not read batch of %s after id %d", r.table.Name, r.cursor.LastSeenID)
	}

	if len(rows) == 0 {
		r.cursor.Exhausted = true
		return nil, nil
	}
	index := idFieldIndex(fields, r.table.IDColumn)
	if index == -1 {
		return nil, &SchemaMismatchError{Table: r.table.Name, Columns: fieldNames(fields)}
	}
	lastID, err := coerceInt64(rows[len(rows)-1][index])
	if err != nil {
		return nil, errors.Wrapf(err, "invalid id in %s", r.table.Name)
	}
	if r.cursor.Started && lastID <= r.cursor.LastSeenID {
		return nil, errors.Errorf("id of %s did not advance past %d", r.table.Name, r.cursor.LastSeenID)
	}
	r.cursor.Started = true
	r.cursor.LastSeenID = lastID
	if lastID >= r.cursor.UpperBoundID {
		r.cursor.Exhausted = true
	}
	return &Batch{Table: r.table, Fields: fields, Rows: rows, LastID: lastID}, nil
}

func (r *BatchReader) Cursor() Cursor {
	return r.cursor
}
