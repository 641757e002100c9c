package schema

import (
	"fmt"
	"strings"

	"github.com/robmartinson/tablesync/internal/dialect"
)

// CreateTableSQL renders the CREATE TABLE statement for t in the given dialect.
func CreateTableSQL(d dialect.Dialect, t TableSchema, ifNotExists bool) string {
	var columnDefs []string
	var constraints []string

	for _, col := range t.Columns {
		def := d.QuoteIdent(col.Name) + " " + columnType(d, col)

		if col.NotNull {
			def += " NOT NULL"
		}
		if v, ok := defaultValue(d, col); ok {
			def += " DEFAULT " + v
		}
		if col.OnUpdateNow && d == dialect.MySQL {
			def += " ON UPDATE CURRENT_TIMESTAMP"
		}
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}

		if col.References != "" {
			target := d.QuoteIdent(col.References)
			if d == dialect.Postgres {
				target = "public." + target
			}
			if d == dialect.MySQL {
				constraints = append(constraints, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s)",
					d.QuoteIdent(col.Name), target, d.QuoteIdent(PrimaryKey)))
			} else {
				def += fmt.Sprintf(" REFERENCES %s(%s)", target, d.QuoteIdent(PrimaryKey))
			}
		}

		columnDefs = append(columnDefs, def)
	}

	name := d.QuoteIdent(t.Name)
	if d == dialect.Postgres {
		name = "public." + name
	}
	create := "CREATE TABLE "
	if ifNotExists {
		create += "IF NOT EXISTS "
	}

	body := strings.Join(append(columnDefs, constraints...), ",\n  ")
	query := fmt.Sprintf("%s%s (\n  %s\n)", create, name, body)
	if d == dialect.MySQL {
		query += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
	}
	return query + ";"
}

// EnumTypesSQL renders an idempotent block creating every enum type. Only
// Postgres has enumerated types; other dialects get an empty string.
func EnumTypesSQL(d dialect.Dialect, enums []EnumType) string {
	if d != dialect.Postgres || len(enums) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("DO $$ BEGIN\n")
	for _, e := range enums {
		values := make([]string, len(e.Values))
		for i, v := range e.Values {
			values[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		fmt.Fprintf(&b, "  IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = '%s') THEN\n", e.Name)
		fmt.Fprintf(&b, "    CREATE TYPE %s AS ENUM (%s);\n", e.Name, strings.Join(values, ", "))
		b.WriteString("  END IF;\n")
	}
	b.WriteString("END $$;")
	return b.String()
}

func columnType(d dialect.Dialect, col Column) string {
	switch d {
	case dialect.MySQL:
		switch col.Kind {
		case KindUUID:
			return "CHAR(36)"
		case KindString:
			return fmt.Sprintf("VARCHAR(%d)", sizeOr(col.Size, 255))
		case KindEnum:
			return "VARCHAR(50)"
		case KindInt:
			return "INT"
		case KindDecimal:
			return fmt.Sprintf("DECIMAL(%d,%d)", sizeOr(col.Precision, 10), col.Scale)
		case KindBool:
			return "TINYINT(1)"
		case KindDate:
			return "DATE"
		case KindTimestamp:
			return "DATETIME"
		default:
			return "TEXT"
		}
	case dialect.SQLite:
		switch col.Kind {
		case KindInt:
			return "INTEGER"
		case KindDecimal:
			return "REAL"
		case KindBool:
			return "BOOLEAN"
		case KindDate:
			return "DATE"
		case KindTimestamp:
			return "DATETIME"
		default:
			return "TEXT"
		}
	default:
		switch col.Kind {
		case KindUUID:
			return "uuid"
		case KindEnum:
			return col.Enum
		case KindInt:
			return "integer"
		case KindDecimal:
			return "numeric"
		case KindBool:
			return "boolean"
		case KindDate:
			return "date"
		case KindTimestamp:
			return "timestamptz"
		default:
			return "text"
		}
	}
}

func defaultValue(d dialect.Dialect, col Column) (string, bool) {
	switch col.Default {
	case "":
		return "", false
	case DefaultRandomUUID:
		// only Postgres can generate ids server-side
		return col.Default, d == dialect.Postgres
	case DefaultNow:
		if d == dialect.Postgres {
			return "now()", true
		}
		return "CURRENT_TIMESTAMP", true
	}
	if col.Kind == KindBool && d != dialect.Postgres {
		if col.Default == "true" {
			return "1", true
		}
		return "0", true
	}
	return col.Default, true
}

func sizeOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
