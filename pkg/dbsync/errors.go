package dbsync

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionError is returned when a database can't be reached or a connection can't be checked out of a pool
type ConnectionError struct {
	Datasource string
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s database: %v", e.Datasource, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SchemaMismatchError is returned when a table has no id column to page by
type SchemaMismatchError struct {
	Table   string
	Columns []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("unable to determine id column of table %s (columns: %s)",
		e.Table, strings.Join(e.Columns, ", "))
}

// UnsupportedDialectError is returned when an operation has no implementation for a database family
type UnsupportedDialectError struct {
	Dialect   string
	Operation string
}

func (e *UnsupportedDialectError) Error() string {
	return fmt.Sprintf("database %s is not supported for %s", e.Dialect, e.Operation)
}

// Mismatch is a single table whose target row count differs from the source inventory
type Mismatch struct {
	Table    string
	Expected int64
	Actual   int64
}

func (m Mismatch) String() string {
	return fmt.Sprintf("Expected table %s to contain %d records but contained %d records",
		m.Table, m.Expected, m.Actual)
}

// VerificationError holds every mismatch found during verification
type VerificationError struct {
	Mismatches []Mismatch
}

func (e *VerificationError) Error() string {
	lines := make([]string, 0, len(e.Mismatches))
	for _, mismatch := range e.Mismatches {
		lines = append(lines, mismatch.String())
	}
	return fmt.Sprintf("record counts differ in %d tables: %s", len(e.Mismatches), strings.Join(lines, "; "))
}

// TargetNotEmptyError is returned by the pre-flight check when the target already has tables
type TargetNotEmptyError struct {
	Tables []string
}

func (e *TargetNotEmptyError) Error() string {
	return fmt.Sprintf("target database is not empty, it contains tables: %s", strings.Join(e.Tables, ", "))
}

// TimeoutError is returned when tables are still being copied after the export timeout
type TimeoutError struct {
	Timeout time.Duration
	Pending []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v, tables not completed: %s", e.Timeout, strings.Join(e.Pending, ", "))
}

// ValidationError is returned for invalid command line options
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
