// Package bootstrap creates the synchronized tables on an empty destination.
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/dialect"
	"github.com/robmartinson/tablesync/internal/schema"
)

// Status of one bootstrap statement.
type Status string

const (
	Created Status = "created"
	Exists  Status = "exists"
	Failed  Status = "error"
)

// EnumsEntry names the result entry of the enum type block.
const EnumsEntry = "enums"

// Statement is one named DDL statement. Types lists the enum types the
// statement creates; otherwise Name is the table it creates.
type Statement struct {
	Name  string   `json:"name"`
	SQL   string   `json:"sql"`
	Types []string `json:"types,omitempty"`
}

type Entry struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Summary struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Errors  int `json:"errors"`
}

type Result struct {
	Success bool    `json:"success"`
	Results []Entry `json:"results"`
	Summary Summary `json:"summary"`
}

// Bootstrapper executes DDL statements and records each outcome.
type Bootstrapper struct {
	Logger *zap.Logger
}

// Statements renders the idempotent DDL for tables, preceded by the enum
// block on dialects that have enum types. tables must be in dependency order.
func Statements(d dialect.Dialect, tables []schema.TableSchema, enums []schema.EnumType) []Statement {
	var stmts []Statement
	if sql := schema.EnumTypesSQL(d, enums); sql != "" {
		names := make([]string, len(enums))
		for i, e := range enums {
			names[i] = e.Name
		}
		stmts = append(stmts, Statement{Name: EnumsEntry, SQL: sql, Types: names})
	}
	for _, t := range tables {
		stmts = append(stmts, Statement{Name: t.Name, SQL: schema.CreateTableSQL(d, t, true)})
	}
	return stmts
}

// Run creates tables (and enums) on conn.
func (b *Bootstrapper) Run(ctx context.Context, conn *database.Conn, tables []schema.TableSchema, enums []schema.EnumType) *Result {
	return b.Apply(ctx, conn, Statements(conn.Dialect, tables, enums))
}

// Apply executes stmts in order. A failing statement is recorded and the
// remaining statements still run.
func (b *Bootstrapper) Apply(ctx context.Context, conn *database.Conn, stmts []Statement) *Result {
	res := &Result{Results: []Entry{}}
	for _, st := range stmts {
		entry := Entry{Name: st.Name}
		existed := b.exists(ctx, conn, st)

		if _, err := conn.DB.ExecContext(ctx, st.SQL); err != nil {
			entry.Status = Failed
			entry.Error = err.Error()
			res.Summary.Errors++
			b.Logger.Warn("bootstrap statement failed", zap.String("name", st.Name), zap.Error(err))
		} else if existed {
			entry.Status = Exists
		} else {
			entry.Status = Created
			res.Summary.Created++
			b.Logger.Info("created", zap.String("name", st.Name))
		}
		res.Results = append(res.Results, entry)
	}
	res.Summary.Total = len(res.Results)
	res.Success = res.Summary.Errors == 0
	return res
}

// exists reports whether everything st creates was already present. Lookup
// failures count as absent so the statement still runs.
func (b *Bootstrapper) exists(ctx context.Context, conn *database.Conn, st Statement) bool {
	if len(st.Types) > 0 {
		if conn.Dialect != dialect.Postgres {
			return false
		}
		for _, name := range st.Types {
			var n int
			err := conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM pg_type WHERE typname = $1", name).Scan(&n)
			if err != nil || n == 0 {
				return false
			}
		}
		return true
	}
	ok, err := conn.TableExists(ctx, st.Name)
	if err != nil {
		b.Logger.Debug("table lookup failed", zap.String("name", st.Name), zap.Error(err))
		return false
	}
	return ok
}
