package dbsync

import (
	"bufio"
	"context"
	"database/sql"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/gzip"
	"github.com/mightyguava/autotx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
)

const statementTerminator = ";\n"

const logStatementLength = 100

var (
	statementsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statements_written",
			Help: "How many statements were appended to the output file.",
		},
	)
	statementsExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statements_executed",
			Help: "How many statements were executed against the target.",
		},
	)
)

func init() {
	prometheus.MustRegister(statementsWritten)
	prometheus.MustRegister(statementsExecuted)
}

// Sink is shared by all table copies, it appends statements to the output and/or executes them on the target
type Sink struct {
	mu      sync.Mutex
	out     io.Writer
	target  *DataSource
	retries int
	timeout time.Duration
	logger  *logrus.Entry

	writes     int64
	executions int64
}

// NewSink creates a sink writing to out if it isn't nil and executing on target if it isn't nil
func NewSink(out io.Writer, target *DataSource, writeRetries int, logger *logrus.Entry) *Sink {
	return &Sink{
		out:     out,
		target:  target,
		retries: writeRetries,
		logger:  logger.WithField("task", "sink"),
	}
}

// WithTimeout bounds every attempt at executing a statement on the target, no limit if zero
func (s *Sink) WithTimeout(timeout time.Duration) *Sink {
	s.timeout = timeout
	return s
}

// Comment writes a section header to the output
func (s *Sink) Comment(text string) error {
	if s.out == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, "--\n-- "+text+"\n--\n")
	return errors.WithStack(err)
}

// Write appends a statement to the output without executing it
func (s *Sink) Write(stmt string) error {
	if s.out == nil {
		return nil
	}
	start := time.Now()
	s.mu.Lock()
	_, err := io.WriteString(s.out, stmt+statementTerminator)
	if err == nil {
		s.writes++
	}
	s.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "could not write: %s", truncate(stmt))
	}
	statementsWritten.Inc()
	s.logger.Debugf("took %v to write SQL", time.Since(start))
	return nil
}

// Emit appends the statement to the output and then executes it on the target
func (s *Sink) Emit(ctx context.Context, stmt string) error {
	err := s.Write(stmt)
	if err != nil {
		return err
	}
	if s.target == nil {
		return nil
	}
	return s.execute(ctx, stmt)
}

func (s *Sink) execute(ctx context.Context, stmt string) error {
	start := time.Now()
	s.logger.Debugf("executing SQL: %s", truncate(stmt))
	err := Retry(ctx, RetryOptions{MaxRetries: uint64(s.retries), Timeout: s.timeout}, func(ctx context.Context) error {
		err := autotx.TransactWithOptions(ctx, s.target.DB, nil, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, stmt)
			return err
		})
		if isPermanentError(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "could not execute: %s", truncate(stmt))
	}
	s.mu.Lock()
	s.executions++
	s.mu.Unlock()
	statementsExecuted.Inc()
	s.logger.Debugf("took %v to execute SQL: %s", time.Since(start), truncate(stmt))
	return nil
}

// HasOutput reports whether statements are appended to an output
func (s *Sink) HasOutput() bool {
	return s.out != nil
}

// Executes reports whether statements are run on the target
func (s *Sink) Executes() bool {
	return s.target != nil
}

// Writes is the number of statements appended to the output
func (s *Sink) Writes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Executions is the number of statements executed on the target
func (s *Sink) Executions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executions
}

// truncate cuts stmt to at most logStatementLength bytes without splitting a rune
func truncate(stmt string) string {
	if len(stmt) <= logStatementLength {
		return stmt
	}
	n := logStatementLength
	for n > 0 && !utf8.RuneStart(stmt[n]) {
		n--
	}
	return stmt[:n]
}

// isPermanentError is true for errors that will fail the same way again, broken SQL or violated constraints
func isPermanentError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1054, 1062, 1064, 1136, 1146, 1364, 1406, 1452:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// integrity constraint violations, data exceptions and syntax errors
		return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "42")
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case 1, 19, 20:
			// SQLITE_ERROR, SQLITE_CONSTRAINT, SQLITE_MISMATCH
			return true
		}
	}
	return false
}

type outputFile struct {
	file   *os.File
	buffer *bufio.Writer
	gzip   *gzip.Writer
	io.Writer
}

// OpenOutput creates the output file, gzip compressed if the name ends in .gz
func OpenOutput(path string) (io.WriteCloser, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create output file %q", path)
	}
	out := &outputFile{file: file, buffer: bufio.NewWriterSize(file, 1<<20)}
	out.Writer = out.buffer
	if strings.HasSuffix(path, ".gz") {
		out.gzip = gzip.NewWriter(out.buffer)
		out.Writer = out.gzip
	}
	return out, nil
}

func (o *outputFile) Close() error {
	if o.gzip != nil {
		err := o.gzip.Close()
		if err != nil {
			_ = o.file.Close()
			return errors.WithStack(err)
		}
	}
	err := o.buffer.Flush()
	if err != nil {
		_ = o.file.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(o.file.Close())
}
