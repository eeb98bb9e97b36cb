package dbsync

import (
	"context"
	"database/sql"
)

// DBReader is implemented by *sql.DB, *sql.Conn and *sql.Tx so a table copy can hold on to a single
// checked out connection while catalog queries go through the pool
type DBReader interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DBWriter also executes statements, the target side of a copy
type DBWriter interface {
	DBReader
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
