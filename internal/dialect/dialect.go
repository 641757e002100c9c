// Package dialect names the SQL families an endpoint can speak and the small
// syntax differences between them.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect identifies the SQL variant of an endpoint.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Parse accepts the common spellings of each dialect.
func Parse(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported dialect %q", s)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite3"
	default:
		return "postgres"
	}
}

// QuoteIdent wraps an identifier in the dialect's delimiters.
func (d Dialect) QuoteIdent(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteIdents quotes every name.
func (d Dialect) QuoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// BatchWrites reports whether upserts are sent as multi-row statements.
// MySQL and SQLite write one row per statement so each row's failure can be
// recorded on its own.
func (d Dialect) BatchWrites() bool {
	return d == Postgres
}

func (d Dialect) String() string { return string(d) }
