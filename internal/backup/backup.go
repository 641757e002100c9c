// Package backup exports tables to a single JSON snapshot and restores them.
// Tables are read one after another without a shared transaction.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/schema"
)

// Version is the snapshot format version.
const Version = "1.0"

// Snapshot is a whole-database export.
type Snapshot struct {
	Version   string                      `json:"version"`
	CreatedAt time.Time                   `json:"created_at"`
	Tables    map[string][]map[string]any `json:"tables"`
}

// Filename is the download name of a snapshot.
func (s *Snapshot) Filename() string {
	return "backup-" + s.CreatedAt.UTC().Format("2006-01-02") + ".json"
}

// WriteTo streams the snapshot as JSON.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := json.NewEncoder(cw).Encode(s)
	return cw.n, err
}

// Read decodes a snapshot.
func Read(r io.Reader) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := json.NewDecoder(r).Decode(snap); err != nil {
		return nil, errs.Validation("invalid backup file: %v", err)
	}
	return snap, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// RestoreOptions controls Restore.
type RestoreOptions struct {
	// Replace deletes every row of the restored tables first.
	Replace bool
}

type TableReport struct {
	Rows     int      `json:"rows"`
	Restored int      `json:"restored"`
	Errors   []string `json:"errors,omitempty"`
}

type Report struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Tables  map[string]TableReport `json:"tables"`
}

// Service backs up and restores catalog tables.
type Service struct {
	Catalog    *schema.Catalog
	PageSize   int
	WriteBatch int
	Logger     *zap.Logger
	Now        func() time.Time
}

// Backup reads every row of tables (all catalog tables when empty).
func (s *Service) Backup(ctx context.Context, conn *database.Conn, tables []string) (*Snapshot, error) {
	selected, err := s.Catalog.Select(tables)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	snap := &Snapshot{
		Version:   Version,
		CreatedAt: now().UTC(),
		Tables:    make(map[string][]map[string]any, len(selected)),
	}
	for _, t := range selected {
		rows, err := s.readTable(ctx, conn, t)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", t.Name, err)
		}
		snap.Tables[t.Name] = rows
		s.Logger.Debug("table exported", zap.String("table", t.Name), zap.Int("rows", len(rows)))
	}
	return snap, nil
}

func (s *Service) readTable(ctx context.Context, conn *database.Conn, t schema.TableSchema) ([]map[string]any, error) {
	rows := []map[string]any{}
	for offset := 0; ; {
		page, err := database.FetchPage(ctx, conn, t.Name, offset, s.PageSize)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			out := make(map[string]any, len(r))
			for name, v := range r {
				var col *schema.Column
				if c, ok := t.Column(name); ok {
					col = &c
				}
				out[name] = database.Normalize(v, col)
			}
			rows = append(rows, out)
		}
		if page.Last() {
			return rows, nil
		}
		offset += len(page.Rows)
	}
}

// Restore writes the snapshot into conn, parents before children. A failing
// table is reported and the remaining tables are still restored.
func (s *Service) Restore(ctx context.Context, conn *database.Conn, snap *Snapshot, opts RestoreOptions) (*Report, error) {
	if snap == nil || snap.Version == "" || snap.Tables == nil {
		return nil, errs.Validation("invalid backup file: version and tables are required")
	}
	if snap.Version != Version {
		return nil, errs.Validation("unsupported backup version %q", snap.Version)
	}
	names := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	tables, err := s.Catalog.Select(names)
	if err != nil {
		return nil, err
	}

	failures := map[string][]string{}
	if opts.Replace {
		// children first
		for i := len(tables) - 1; i >= 0; i-- {
			name := tables[i].Name
			if _, err := conn.DB.ExecContext(ctx, "DELETE FROM "+conn.Dialect.QuoteIdent(name)); err != nil {
				failures[name] = append(failures[name], "delete: "+err.Error())
			}
		}
	}

	report := &Report{Tables: make(map[string]TableReport, len(tables))}
	restored, errorCount := 0, 0
	for _, t := range tables {
		rows := snap.Tables[t.Name]
		tr := TableReport{Rows: len(rows), Errors: failures[t.Name]}
		if len(rows) > 0 {
			page := &database.Page{Table: t.Name, Size: len(rows), Columns: columnsOf(t, rows)}
			for _, r := range rows {
				page.Rows = append(page.Rows, database.Row(r))
			}
			if unknown := s.Catalog.CheckColumns(t.Name, page.Columns); len(unknown) > 0 {
				s.Logger.Warn("backup columns missing from table definition", zap.String("table", t.Name), zap.Strings("columns", unknown))
			}
			res := database.UpsertPage(ctx, conn, t, page, database.UpsertOptions{BatchSize: s.WriteBatch})
			tr.Restored = res.Written
			tr.Errors = append(tr.Errors, res.Errors...)
		}
		restored += tr.Restored
		errorCount += len(tr.Errors)
		report.Tables[t.Name] = tr
		s.Logger.Info("table restored", zap.String("table", t.Name), zap.Int("rows", tr.Rows), zap.Int("restored", tr.Restored), zap.Int("errors", len(tr.Errors)))
	}

	report.Success = errorCount == 0
	if report.Success {
		report.Message = fmt.Sprintf("restored %d rows into %d tables", restored, len(tables))
	} else {
		report.Message = fmt.Sprintf("restored %d rows into %d tables with %d errors", restored, len(tables), errorCount)
	}
	return report, nil
}

// columnsOf lists every key used by rows: declared columns in table order,
// then unknown keys sorted.
func columnsOf(t schema.TableSchema, rows []map[string]any) []string {
	present := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			present[k] = true
		}
	}
	var cols []string
	for _, c := range t.Columns {
		if present[c.Name] {
			cols = append(cols, c.Name)
			delete(present, c.Name)
		}
	}
	var extra []string
	for k := range present {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(cols, extra...)
}
