package dbsync

import (
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// RenderInsert renders a batch as a single multi row INSERT for the dialect,
// the same batch always renders to the same statement
func RenderInsert(dialect Dialect, table *Table, batch *Batch) (string, error) {
	behavior, err := dialect.behavior()
	if err != nil {
		return "", err
	}
	if idFieldIndex(batch.Fields, table.IDColumn) == -1 {
		return "", &SchemaMismatchError{Table: table.Name, Columns: fieldNames(batch.Fields)}
	}
	if len(batch.Rows) == 0 {
		return "", errors.Errorf("empty batch for %s", table.Name)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(dialect.RenderName(table.Name))
	sb.WriteString(" (")
	for i, field := range batch.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(dialect.RenderName(field.Name))
	}
	sb.WriteString(") VALUES ")
	for i, row := range batch.Rows {
		if len(row) != len(batch.Fields) {
			return "", errors.Errorf("row %d of %s has %d values for %d columns", i, table.Name, len(row), len(batch.Fields))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, value := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			literal, err := renderLiteral(behavior, batch.Fields[j], value)
			if err != nil {
				return "", errors.Wrapf(err, "column %s of %s", batch.Fields[j].Name, table.Name)
			}
			sb.WriteString(literal)
		}
		sb.WriteString(")")
	}
	return sb.String(), nil
}

func renderLiteral(behavior dialectBehavior, field Field, value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return renderBool(behavior, v), nil
	case int64:
		if field.Kind == BooleanKind {
			return renderBool(behavior, v != 0), nil
		}
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int:
		return strconv.Itoa(v), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return renderFloat(behavior, float64(v), 32), nil
	case float64:
		return renderFloat(behavior, v, 64), nil
	case time.Time:
		return quote(behavior, formatTime(field, v)), nil
	case []byte:
		switch field.Kind {
		case BinaryKind:
			return behavior.binaryPrefix + strings.ToUpper(hex.EncodeToString(v)) + behavior.binarySuffix, nil
		case NumericKind:
			if numericLiteral.Match(v) {
				return string(v), nil
			}
		case BooleanKind:
			if b, err := strconv.ParseBool(string(v)); err == nil {
				return renderBool(behavior, b), nil
			}
		}
		return quote(behavior, string(v)), nil
	case string:
		switch field.Kind {
		case NumericKind:
			if numericLiteral.MatchString(v) {
				return v, nil
			}
		case BooleanKind:
			if b, err := strconv.ParseBool(v); err == nil {
				return renderBool(behavior, b), nil
			}
		}
		return quote(behavior, v), nil
	case fmt.Stringer:
		return quote(behavior, v.String()), nil
	default:
		return "", errors.Errorf("can't render value of type %T", value)
	}
}

func renderBool(behavior dialectBehavior, b bool) string {
	if b {
		return behavior.trueLiteral
	}
	return behavior.falseLiteral
}

func renderFloat(behavior dialectBehavior, f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return quote(behavior, "NaN")
	case math.IsInf(f, 1):
		return quote(behavior, "Infinity")
	case math.IsInf(f, -1):
		return quote(behavior, "-Infinity")
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize)
}

func formatTime(field Field, t time.Time) string {
	switch field.DatabaseType {
	case "DATE":
		return t.Format("2006-01-02")
	case "TIME":
		return t.Format("15:04:05.999999")
	case "TIMETZ":
		return t.Format("15:04:05.999999-07:00")
	case "TIMESTAMPTZ":
		return t.Format("2006-01-02 15:04:05.999999-07:00")
	}
	return t.Format("2006-01-02 15:04:05.999999")
}

func quote(behavior dialectBehavior, s string) string {
	if behavior.escapeBackslash {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
