package dbsync

import (
	"database/sql"
	"strings"

	"github.com/pkg/errors"
)

// FieldKind decides how a value is rendered as a literal
type FieldKind int

const (
	StringKind FieldKind = iota
	NumericKind
	BooleanKind
	BinaryKind
	TemporalKind
)

var fieldKinds = map[string]FieldKind{
	"INT":              NumericKind,
	"INTEGER":          NumericKind,
	"TINYINT":          NumericKind,
	"SMALLINT":         NumericKind,
	"MEDIUMINT":        NumericKind,
	"BIGINT":           NumericKind,
	"INT2":             NumericKind,
	"INT4":             NumericKind,
	"INT8":             NumericKind,
	"SERIAL":           NumericKind,
	"BIGSERIAL":        NumericKind,
	"DECIMAL":          NumericKind,
	"NUMERIC":          NumericKind,
	"FLOAT":            NumericKind,
	"FLOAT4":           NumericKind,
	"FLOAT8":           NumericKind,
	"DOUBLE":           NumericKind,
	"DOUBLE PRECISION": NumericKind,
	"REAL":             NumericKind,
	"YEAR":             NumericKind,
	"BOOL":             BooleanKind,
	"BOOLEAN":          BooleanKind,
	"BLOB":             BinaryKind,
	"TINYBLOB":         BinaryKind,
	"MEDIUMBLOB":       BinaryKind,
	"LONGBLOB":         BinaryKind,
	"BINARY":           BinaryKind,
	"VARBINARY":        BinaryKind,
	"BYTEA":            BinaryKind,
	"BIT":              BinaryKind,
	"DATE":             TemporalKind,
	"TIME":             TemporalKind,
	"TIMETZ":           TemporalKind,
	"DATETIME":         TemporalKind,
	"TIMESTAMP":        TemporalKind,
	"TIMESTAMPTZ":      TemporalKind,
}

// Field is a column of a fetched batch
type Field struct {
	Name string
	// DatabaseType is the normalized type name reported by the driver, e.g. BIGINT or TIMESTAMPTZ
	DatabaseType string
	Kind         FieldKind
}

func newField(name string, databaseType string) Field {
	databaseType = normalizeType(databaseType)
	return Field{Name: name, DatabaseType: databaseType, Kind: fieldKinds[databaseType]}
}

// normalizeType strips size, precision and signedness from a declared type
func normalizeType(databaseType string) string {
	t := strings.ToUpper(strings.TrimSpace(databaseType))
	if i := strings.Index(t, "("); i != -1 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimPrefix(t, "UNSIGNED ")
	t = strings.TrimSuffix(t, " UNSIGNED")
	return t
}

func fieldsFromColumnTypes(columnTypes []*sql.ColumnType) []Field {
	fields := make([]Field, 0, len(columnTypes))
	for _, columnType := range columnTypes {
		fields = append(fields, newField(columnType.Name(), columnType.DatabaseTypeName()))
	}
	return fields
}

func fieldNames(fields []Field) []string {
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		names = append(names, field.Name)
	}
	return names
}

// idFieldIndex finds the id column case insensitively, -1 if there isn't one
func idFieldIndex(fields []Field, idColumn string) int {
	for i, field := range fields {
		if strings.EqualFold(field.Name, idColumn) {
			return i
		}
	}
	return -1
}

// Batch is one page of a table, rows in ascending id order with values in Fields order
type Batch struct {
	Table  *Table
	Fields []Field
	Rows   [][]interface{}
	// LastID is the id of the last row in the batch
	LastID int64
}

// scanRows reads all rows of a result set into memory
func scanRows(rows *sql.Rows) ([]Field, [][]interface{}, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	fields := fieldsFromColumnTypes(columnTypes)
	var result [][]interface{}
	for rows.Next() {
		row := make([]interface{}, len(fields))
		scanArgs := make([]interface{}, len(fields))
		for i := range row {
			scanArgs[i] = &row[i]
		}
		err := rows.Scan(scanArgs...)
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		for i, value := range row {
			// The driver may reuse the buffer once Next is called
			if b, ok := value.([]byte); ok {
				row[i] = append([]byte(nil), b...)
			}
		}
		result = append(result, row)
	}
	// Close explicitly to check for close errors
	err = rows.Close()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	return fields, result, errors.WithStack(rows.Err())
}
