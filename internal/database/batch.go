package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/schema"
)

const (
	DefaultPageSize   = 999
	DefaultWriteBatch = 500

	maxErrorLen = 100
)

// UpsertOptions tunes UpsertPage.
type UpsertOptions struct {
	// BatchSize is the number of rows per statement on dialects that write
	// multi-row statements.
	BatchSize int
}

// UpsertResult reports how many rows of a page were written and the
// failures that prevented the rest.
type UpsertResult struct {
	Written int
	Errors  []string
}

// FetchPage reads one window of table ordered by primary key.
func FetchPage(ctx context.Context, c *Conn, table string, offset, size int) (*Page, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	d := c.Dialect
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC LIMIT %d OFFSET %d",
		d.QuoteIdent(table), d.QuoteIdent(schema.PrimaryKey), size, offset)

	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	page := &Page{Table: table, Offset: offset, Size: size, Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		page.Rows = append(page.Rows, row)
	}
	return page, rows.Err()
}

// UpsertPage writes the page's rows into the same-named table on c, keyed
// on the primary key. Dialects with multi-row statements write BatchSize rows
// at a time and retry a failed batch one row at a time. Failures are recorded
// per row and never abort the page.
func UpsertPage(ctx context.Context, c *Conn, t schema.TableSchema, page *Page, opts UpsertOptions) UpsertResult {
	var res UpsertResult
	if len(page.Rows) == 0 {
		return res
	}
	if !hasColumn(page.Columns, schema.PrimaryKey) {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: fetched rows have no %s column", page.Table, schema.PrimaryKey))
		return res
	}

	tr := Translator{Dest: c.Dialect}
	cols := make([]*schema.Column, len(page.Columns))
	for i, name := range page.Columns {
		if col, ok := t.Column(name); ok {
			cols[i] = &col
		}
	}
	params := func(row Row) []any {
		out := make([]any, len(page.Columns))
		for i, name := range page.Columns {
			out[i] = tr.Value(row[name], cols[i])
		}
		return out
	}

	var stmt *sql.Stmt
	perRow := func(rows []Row) {
		if stmt == nil {
			var err error
			if stmt, err = c.DB.PrepareContext(ctx, upsertSQL(c.Dialect, page.Table, page.Columns, 1)); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", page.Table, errorMessage(err)))
				return
			}
		}
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, params(row)...); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("Row %s: %s", rowID(row), errorMessage(err)))
				continue
			}
			res.Written++
		}
	}
	defer func() {
		if stmt != nil {
			stmt.Close()
		}
	}()

	if !c.Dialect.BatchWrites() {
		perRow(page.Rows)
		return res
	}

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultWriteBatch
	}
	for start, n := 0, 1; start < len(page.Rows); start, n = start+size, n+1 {
		batch := page.Rows[start:min(start+size, len(page.Rows))]
		var args []any
		for _, row := range batch {
			args = append(args, params(row)...)
		}
		query := upsertSQL(c.Dialect, page.Table, page.Columns, len(batch))
		if _, err := c.DB.ExecContext(ctx, query, args...); err != nil {
			if ctx.Err() != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("batch %d: %s", n, errorMessage(err)))
				continue
			}
			// one bad row fails the whole statement; find it row by row
			perRow(batch)
			continue
		}
		res.Written += len(batch)
	}
	return res
}

func upsertSQL(d dialect.Dialect, table string, columns []string, rows int) string {
	quoted := d.QuoteIdents(columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.QuoteIdent(table), strings.Join(quoted, ", "))
	n := 1
	placeholders := make([]string, len(columns))
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		for i := range placeholders {
			placeholders[i] = d.Placeholder(n)
			n++
		}
		b.WriteString("(" + strings.Join(placeholders, ", ") + ")")
	}

	var updates []string
	for i, col := range columns {
		if col == schema.PrimaryKey {
			continue
		}
		if d == dialect.MySQL {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", quoted[i], quoted[i]))
		} else {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	pk := d.QuoteIdent(schema.PrimaryKey)
	switch {
	case d == dialect.MySQL && len(updates) == 0:
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s = %s", pk, pk)
	case d == dialect.MySQL:
		b.WriteString(" ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", "))
	case len(updates) == 0:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", pk)
	default:
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s", pk, strings.Join(updates, ", "))
	}
	return b.String()
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func rowID(row Row) string {
	id := Normalize(row[schema.PrimaryKey], nil)
	if id == nil {
		return "?"
	}
	return fmt.Sprint(id)
}

// errorMessage renders a driver error for a result entry, capped in length.
func errorMessage(err error) string {
	msg, ok := pqMessage(err)
	if !ok {
		msg, ok = mysqlMessage(err)
	}
	if !ok {
		msg = err.Error()
	}
	return Truncate(msg, maxErrorLen)
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
