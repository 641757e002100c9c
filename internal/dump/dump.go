// Package dump renders tables as MySQL dump text.
package dump

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/schema"
)

// DefaultChunkSize is the number of rows per INSERT statement.
const DefaultChunkSize = 50

// Options wrap a single table's output with the shared dump preamble and
// trailer, so per-table artifacts can be concatenated into one file.
type Options struct {
	IncludeHeader bool `json:"includeHeader"`
	IncludeFooter bool `json:"includeFooter"`
}

// Artifact is the dump text of one table.
type Artifact struct {
	Table      string
	Statements []string
	Rows       int
}

// SQL joins the statements into dump text.
func (a *Artifact) SQL() string {
	return strings.Join(a.Statements, "\n")
}

// Formatter reads tables from a connection and renders them as MySQL
// statements.
type Formatter struct {
	Catalog   *schema.Catalog
	PageSize  int
	ChunkSize int
	Logger    *zap.Logger
	Now       func() time.Time
}

func (f *Formatter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Header returns the statements that open a dump.
func (f *Formatter) Header() []string {
	return []string{
		"-- MySQL dump generated by tablesync",
		"-- Date: " + f.now().UTC().Format(time.RFC3339),
		"-- --------------------------------------------------------",
		"",
		"SET NAMES utf8mb4;",
		"SET FOREIGN_KEY_CHECKS = 0;",
		"SET SQL_MODE = 'NO_AUTO_VALUE_ON_ZERO';",
		"",
	}
}

// Footer returns the statements that close a dump.
func (f *Formatter) Footer() []string {
	return []string{"SET FOREIGN_KEY_CHECKS = 1;"}
}

// Filename is the download name of a full dump taken now.
func (f *Formatter) Filename(compressed bool) string {
	name := "mysql_dump_" + f.now().UTC().Format("2006-01-02") + ".sql"
	if compressed {
		name += ".gz"
	}
	return name
}

// Table renders one table. A fetch failure is written into the artifact as
// a comment; rows read before the failure are still exported.
func (f *Formatter) Table(ctx context.Context, conn *database.Conn, table string, opts Options) (*Artifact, error) {
	ts, ok := f.Catalog.Table(table)
	if !ok {
		return nil, errs.Validation("unknown table %q", table)
	}

	a := &Artifact{Table: table}
	if opts.IncludeHeader {
		a.Statements = append(a.Statements, f.Header()...)
	}

	a.Statements = append(a.Statements,
		"-- Table: "+table,
		fmt.Sprintf("DROP TABLE IF EXISTS %s;", dialect.MySQL.QuoteIdent(table)),
		schema.CreateTableSQL(dialect.MySQL, ts, false)+"\n",
	)

	columns, rows, err := f.readAll(ctx, conn, table)
	if err != nil {
		f.Logger.Warn("dump fetch failed", zap.String("table", table), zap.Error(err))
		a.Statements = append(a.Statements, fmt.Sprintf("-- ERROR fetching %s: %s", table, err))
	}

	if len(rows) > 0 {
		a.Statements = append(a.Statements, f.inserts(ts, columns, rows)...)
		a.Statements = append(a.Statements, fmt.Sprintf("-- %d rows exported for %s", len(rows), table))
	} else {
		a.Statements = append(a.Statements, "-- 0 rows in "+table)
	}
	a.Rows = len(rows)

	if opts.IncludeFooter {
		a.Statements = append(a.Statements, f.Footer()...)
	}
	return a, nil
}

// All writes a complete dump of tables to w, gzip-compressed when compress
// is set, and returns the number of exported rows.
func (f *Formatter) All(ctx context.Context, conn *database.Conn, tables []string, w io.Writer, compress bool) (total int, err error) {
	if compress {
		zw := gzip.NewWriter(w)
		defer func() {
			if cerr := zw.Close(); err == nil {
				err = cerr
			}
		}()
		w = zw
	}
	bw := bufio.NewWriter(w)

	writeLines := func(lines []string) error {
		for _, l := range lines {
			if _, err := bw.WriteString(l + "\n"); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeLines(f.Header()); err != nil {
		return 0, err
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		a, err := f.Table(ctx, conn, table, Options{})
		if err != nil {
			return total, err
		}
		total += a.Rows
		if err := writeLines(append(a.Statements, "")); err != nil {
			return total, err
		}
	}
	footer := append(f.Footer(), "", fmt.Sprintf("-- Export complete: %d total rows", total))
	if err := writeLines(footer); err != nil {
		return total, err
	}
	return total, bw.Flush()
}

func (f *Formatter) readAll(ctx context.Context, conn *database.Conn, table string) ([]string, []database.Row, error) {
	var columns []string
	var rows []database.Row
	for offset := 0; ; {
		page, err := database.FetchPage(ctx, conn, table, offset, f.PageSize)
		if err != nil {
			return columns, rows, err
		}
		if columns == nil {
			columns = page.Columns
		}
		rows = append(rows, page.Rows...)
		if page.Last() {
			return columns, rows, nil
		}
		offset += len(page.Rows)
	}
}

func (f *Formatter) inserts(ts schema.TableSchema, columns []string, rows []database.Row) []string {
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	tr := database.Translator{Dest: dialect.MySQL}
	cols := make([]*schema.Column, len(columns))
	for i, name := range columns {
		if col, ok := ts.Column(name); ok {
			cols[i] = &col
		}
	}
	columnList := strings.Join(dialect.MySQL.QuoteIdents(columns), ", ")

	var stmts []string
	for start := 0; start < len(rows); start += chunk {
		batch := rows[start:min(start+chunk, len(rows))]
		valueRows := make([]string, len(batch))
		for i, row := range batch {
			vals := make([]string, len(columns))
			for j, name := range columns {
				vals[j] = database.Literal(tr.Value(row[name], cols[j]))
			}
			valueRows[i] = "(" + strings.Join(vals, ", ") + ")"
		}
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) VALUES\n%s;",
			dialect.MySQL.QuoteIdent(ts.Name), columnList, strings.Join(valueRows, ",\n")))
	}
	return stmts
}
