package dbsync

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	rowsCopied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rows_copied",
			Help: "How many rows were copied, partitioned by table.",
		},
		[]string{"table"},
	)
	batchesCopied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_copied",
			Help: "How many batches were copied, partitioned by table.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(rowsCopied)
	prometheus.MustRegister(batchesCopied)
}

// RunContext carries everything a run shares between its components
type RunContext struct {
	Source    *DataSource
	Target    *DataSource
	Sink      *Sink
	Progress  *Progress
	Logger    *logrus.Entry
	ReadRetry RetryOptions

	// BatchSizeFor returns the batch size of a table
	BatchSizeFor func(table string) int
}

// TargetDialect is the dialect statements are rendered for
func (r *RunContext) TargetDialect() Dialect {
	if r.Target != nil {
		return r.Target.Dialect
	}
	return r.Source.Dialect
}

// TableCopier copies a single table through the sink, one batch at a time
type TableCopier struct {
	run   *RunContext
	table *Table
}

func NewTableCopier(run *RunContext, table *Table) *TableCopier {
	return &TableCopier{run: run, table: table}
}

func (c *TableCopier) Run(ctx context.Context) error {
	logger := c.run.Logger.WithField("task", "copy").WithField("table", c.table.Name)
	start := time.Now()
	logger.WithTime(start).Infof("start")

	rows, batches, err := c.copy(ctx, logger)
	if err != nil {
		logger.WithError(err).Errorf("copy of %s failed after %d rows: %v", c.table.Name, rows, err)
		return errors.Wrapf(err, "could not copy %s", c.table.Name)
	}
	logger.WithField("duration", time.Since(start)).
		Infof("copied %d rows in %d batches, expected %d", rows, batches, c.table.RowCount)
	return nil
}

func (c *TableCopier) copy(ctx context.Context, logger *logrus.Entry) (int64, int, error) {
	// The connection is held for the whole table and released on completion or failure
	conn, err := c.run.Source.Conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = conn.Close()
	}()

	batchSize := c.run.BatchSizeFor(c.table.Name)
	reader := NewBatchReader(c.table, c.run.Source.Dialect, conn, batchSize, c.run.ReadRetry).
		WithReconnect(func(ctx context.Context) (DBReader, error) {
			_ = conn.Close()
			next, err := c.run.Source.Conn(ctx)
			if err != nil {
				return nil, err
			}
			logger.Warnf("reconnected to %s", c.run.Source.Name)
			conn = next
			return conn, nil
		})
	err = reader.Open(ctx)
	if err != nil {
		return 0, 0, err
	}
	cursor := reader.Cursor()
	logger.Debugf("max id %d, batch size %d", cursor.UpperBoundID, batchSize)

	err = c.run.Sink.Comment("dumping records for table " + c.table.Name)
	if err != nil {
		return 0, 0, err
	}

	dialect := c.run.TargetDialect()
	var rows int64
	batches := 0
	for {
		batch, err := reader.Next(ctx)
		if err != nil {
			return rows, batches, err
		}
		if batch == nil {
			return rows, batches, nil
		}
		stmt, err := RenderInsert(dialect, c.table, batch)
		if err != nil {
			return rows, batches, err
		}
		err = c.run.Sink.Emit(ctx, stmt)
		if err != nil {
			return rows, batches, err
		}
		rows += int64(len(batch.Rows))
		batches++
		rowsCopied.WithLabelValues(c.table.Name).Add(float64(len(batch.Rows)))
		batchesCopied.WithLabelValues(c.table.Name).Inc()
		if c.run.Progress != nil {
			c.run.Progress.Record(c.table.Name, len(batch.Rows))
		}
		logger.Debugf("copied batch up to id %d", batch.LastID)
	}
}
