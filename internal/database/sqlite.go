package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/robmartinson/tablesync/internal/dialect"
)

const sqliteTablesQuery = `
	SELECT name
	FROM sqlite_master
	WHERE type = 'table'
	AND name NOT LIKE 'sqlite_%' ORDER BY name
`

func sqliteDSN(ep Endpoint) string {
	if strings.Contains(ep.Database, "?") {
		return ep.Database
	}
	return ep.Database + "?_busy_timeout=5000"
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", dialect.SQLite.QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			cid          int
			col          ColumnInfo
			notNull      int
			defaultValue sql.NullString
			pk           int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0 && pk == 0
		if defaultValue.Valid {
			col.Default = &defaultValue.String
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}
