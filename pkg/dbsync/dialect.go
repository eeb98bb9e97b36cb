package dbsync

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Dialect is the SQL family of a datasource, detected once when it's opened
type Dialect int

const (
	UnknownDialect Dialect = iota
	Postgres
	MySQL
	SQLite
)

type dialectBehavior struct {
	name   string
	driver string
	quote  string
	// renderQuoted is false when INSERT statements carry table and column names verbatim
	renderQuoted     bool
	positional       bool
	trueLiteral      string
	falseLiteral     string
	binaryPrefix     string
	binarySuffix     string
	escapeBackslash  bool
	timestampLiteral string
	userLiteral      string
	// sequenceReset is a fmt template taking the lower cased sequence base name and the table name,
	// blank if the database maintains sequences itself
	sequenceReset string
	listTables    string
	legacyUpgrade bool
	migrateDriver string
}

var dialects = map[Dialect]dialectBehavior{
	Postgres: {
		name:             "postgres",
		driver:           "pgx",
		quote:            `"`,
		renderQuoted:     false,
		positional:       true,
		trueLiteral:      "TRUE",
		falseLiteral:     "FALSE",
		binaryPrefix:     `'\x`,
		binarySuffix:     `'`,
		timestampLiteral: "CURRENT_TIMESTAMP",
		userLiteral:      "CURRENT_USER",
		sequenceReset:    "select setval('%s_id_seq', (select max(id) from %s))",
		listTables: "select c.relname from pg_catalog.pg_class c " +
			"join pg_catalog.pg_namespace n on n.oid = c.relnamespace " +
			"where n.nspname = current_schema() and c.relkind in ('r', 'p') order by c.oid",
		legacyUpgrade: true,
		migrateDriver: "pgx5",
	},
	MySQL: {
		name:             "mysql",
		driver:           "mysql",
		quote:            "`",
		renderQuoted:     true,
		trueLiteral:      "TRUE",
		falseLiteral:     "FALSE",
		binaryPrefix:     "X'",
		binarySuffix:     "'",
		escapeBackslash:  true,
		timestampLiteral: "CURRENT_TIMESTAMP",
		userLiteral:      "CURRENT_USER()",
		listTables: "select table_name from information_schema.tables " +
			"where table_schema = database() and table_type = 'BASE TABLE' order by create_time, table_name",
		migrateDriver: "mysql",
	},
	SQLite: {
		name:             "sqlite",
		driver:           "sqlite",
		quote:            `"`,
		renderQuoted:     true,
		trueLiteral:      "1",
		falseLiteral:     "0",
		binaryPrefix:     "X'",
		binarySuffix:     "'",
		timestampLiteral: "CURRENT_TIMESTAMP",
		userLiteral:      "'dbsync'",
		listTables: "select name from sqlite_master " +
			"where type = 'table' and name not like 'sqlite_%' order by rowid",
		legacyUpgrade: true,
		migrateDriver: "sqlite",
	},
}

func (d Dialect) behavior() (dialectBehavior, error) {
	b, ok := dialects[d]
	if !ok {
		return dialectBehavior{}, &UnsupportedDialectError{Dialect: d.String(), Operation: "dialect detection"}
	}
	return b, nil
}

func (d Dialect) String() string {
	if b, ok := dialects[d]; ok {
		return b.name
	}
	return fmt.Sprintf("unknown(%d)", int(d))
}

// DriverName is the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	return dialects[d].driver
}

// QuoteIdentifier quotes a table or column name for use in queries
func (d Dialect) QuoteIdentifier(name string) string {
	q := dialects[d].quote
	if q == "" {
		q = `"`
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// RenderName renders a name the way INSERT statements for this dialect carry it
func (d Dialect) RenderName(name string) string {
	if !dialects[d].renderQuoted {
		return name
	}
	return d.QuoteIdentifier(name)
}

// Placeholder returns the bind parameter marker for the nth (1-based) argument
func (d Dialect) Placeholder(n int) string {
	if dialects[d].positional {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// TimestampLiteral is the SQL expression for the current time
func (d Dialect) TimestampLiteral() string {
	return dialects[d].timestampLiteral
}

// UserLiteral is the SQL expression for the current database user
func (d Dialect) UserLiteral() string {
	return dialects[d].userLiteral
}

// ParseDialect maps a driver name or alias to a dialect
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return UnknownDialect, &UnsupportedDialectError{Dialect: name, Operation: "dialect detection"}
}

// dialectFromURL detects the dialect from the scheme of a datasource url
func dialectFromURL(rawURL string) (Dialect, error) {
	i := strings.Index(rawURL, ":")
	if i <= 0 {
		return UnknownDialect, errors.Errorf("datasource url has no scheme: %q", rawURL)
	}
	return ParseDialect(rawURL[:i])
}
