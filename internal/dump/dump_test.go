package dump

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/schema"
)

func newFormatter() *Formatter {
	return &Formatter{
		Catalog: schema.Builtin(),
		Logger:  zap.NewNop(),
		Now:     func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) },
	}
}

func openCustomers(t *testing.T, names ...string) *database.Conn {
	t.Helper()
	ep := database.Endpoint{Dialect: dialect.SQLite, Database: filepath.Join(t.TempDir(), "local.db")}
	c, err := database.Open(context.Background(), ep, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })

	customers, _ := schema.Builtin().Table("customers")
	if _, err := c.DB.Exec(schema.CreateTableSQL(dialect.SQLite, customers, false)); err != nil {
		t.Fatal(err)
	}
	for i, name := range names {
		id := fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
		if _, err := c.DB.Exec(`INSERT INTO customers (id, name) VALUES (?, ?)`, id, name); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

// parseLiterals reads MySQL literals back out of a VALUES list.
func parseLiterals(s string) []any {
	var out []any
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'':
			var b strings.Builder
			for i++; s[i] != '\''; i++ {
				if s[i] != '\\' {
					b.WriteByte(s[i])
					continue
				}
				i++
				switch s[i] {
				case 'n':
					b.WriteByte('\n')
				case 'r':
					b.WriteByte('\r')
				case '0':
					b.WriteByte(0)
				case 'Z':
					b.WriteByte(0x1a)
				default:
					b.WriteByte(s[i])
				}
			}
			i++
			out = append(out, b.String())
		case strings.HasPrefix(s[i:], "NULL"):
			out = append(out, nil)
			i += 4
		case c == '-' || (c >= '0' && c <= '9'):
			j := i
			for j < len(s) && s[j] != ',' && s[j] != ')' {
				j++
			}
			out = append(out, s[i:j])
			i = j
		default:
			i++
		}
	}
	return out
}

func TestEscapingRoundTrip(t *testing.T) {
	original := "O'Brien\n\"quoted\" \\ back\rslash"
	conn := openCustomers(t, original)

	a, err := newFormatter().Table(context.Background(), conn, "customers", Options{})
	if err != nil {
		t.Fatal(err)
	}

	var insert string
	for _, s := range a.Statements {
		if strings.HasPrefix(s, "INSERT INTO `customers`") {
			insert = s
		}
	}
	if insert == "" {
		t.Fatalf("no INSERT in:\n%s", a.SQL())
	}
	values := insert[strings.Index(insert, "VALUES\n")+len("VALUES\n"):]
	found := false
	for _, v := range parseLiterals(values) {
		if v == original {
			found = true
		}
	}
	if !found {
		t.Fatalf("value did not survive the round trip:\n%s", insert)
	}
}

func TestTableChunksInserts(t *testing.T) {
	names := make([]string, 120)
	for i := range names {
		names[i] = fmt.Sprintf("Customer %d", i)
	}
	conn := openCustomers(t, names...)

	a, err := newFormatter().Table(context.Background(), conn, "customers", Options{IncludeHeader: true, IncludeFooter: true})
	if err != nil {
		t.Fatal(err)
	}
	if a.Rows != 120 {
		t.Fatalf("Rows = %d", a.Rows)
	}

	var inserts []string
	for _, s := range a.Statements {
		if strings.HasPrefix(s, "INSERT INTO") {
			inserts = append(inserts, s)
		}
	}
	if len(inserts) != 3 {
		t.Fatalf("got %d INSERT statements, want 3", len(inserts))
	}
	if n := strings.Count(inserts[2], "\n("); n != 20 {
		t.Fatalf("last chunk has %d rows", n)
	}

	sql := a.SQL()
	for _, want := range []string{
		"SET NAMES utf8mb4;",
		"SET FOREIGN_KEY_CHECKS = 0;",
		"-- Date: 2024-03-09T12:00:00Z",
		"DROP TABLE IF EXISTS `customers`;",
		"CREATE TABLE `customers` (",
		"-- 120 rows exported for customers",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q", want)
		}
	}
	if last := a.Statements[len(a.Statements)-1]; last != "SET FOREIGN_KEY_CHECKS = 1;" {
		t.Errorf("last statement = %q", last)
	}
	if strings.Contains(sql, "IF NOT EXISTS") {
		t.Errorf("dump CREATE must not use IF NOT EXISTS")
	}
}

func TestTableEmptyAndMissing(t *testing.T) {
	conn := openCustomers(t)
	f := newFormatter()

	a, err := f.Table(context.Background(), conn, "customers", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(a.SQL(), "-- 0 rows in customers") {
		t.Fatalf("unexpected empty dump:\n%s", a.SQL())
	}
	if strings.Contains(a.SQL(), "SET NAMES") {
		t.Fatalf("header rendered without IncludeHeader")
	}

	a, err = f.Table(context.Background(), conn, "gas_types", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(a.SQL(), "-- ERROR fetching gas_types: ") {
		t.Fatalf("fetch error not reported:\n%s", a.SQL())
	}

	if _, err := f.Table(context.Background(), conn, "users", Options{}); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("unknown table = %v", err)
	}
}

func TestAllGzip(t *testing.T) {
	conn := openCustomers(t, "a", "b", "c")
	f := newFormatter()

	var buf bytes.Buffer
	total, err := f.All(context.Background(), conn, []string{"customers"}, &buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total = %d", total)
	}

	zr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	if !strings.HasPrefix(text, "-- MySQL dump generated by tablesync\n") {
		t.Fatalf("unexpected start:\n%s", text)
	}
	if !strings.HasSuffix(text, "SET FOREIGN_KEY_CHECKS = 1;\n\n-- Export complete: 3 total rows\n") {
		t.Fatalf("unexpected end:\n%s", text)
	}
	if got := f.Filename(true); got != "mysql_dump_2024-03-09.sql.gz" {
		t.Fatalf("Filename = %s", got)
	}
}
