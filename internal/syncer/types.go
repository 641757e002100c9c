// Package syncer runs resumable table synchronization jobs one bounded step
// at a time.
package syncer

import (
	"time"

	"github.com/robmartinson/tablesync/internal/errs"
)

// Direction says which side of a job is the source.
type Direction string

const (
	// Push copies local tables to the external endpoint.
	Push Direction = "push"
	// Pull copies external tables into the local store.
	Pull Direction = "pull"
)

// Job describes what to synchronize. An empty table list means every table.
type Job struct {
	Direction Direction `json:"direction" yaml:"direction"`
	Tables    []string  `json:"tables,omitempty" yaml:"tables,omitempty"`
}

func (j Job) validate() error {
	switch j.Direction {
	case Push, Pull:
		return nil
	case "":
		return errs.Validation("direction is required")
	}
	return errs.Validation("direction must be %q or %q, got %q", Push, Pull, j.Direction)
}

// TableResult is the finalized outcome of one table.
type TableResult struct {
	Rows     int      `json:"rows"`
	Inserted int      `json:"inserted"`
	Errors   []string `json:"errors"`
}

// State is the position of a job between steps.
type State struct {
	TableIndex           int                    `json:"tableIndex"`
	BatchOffset          int                    `json:"batchOffset"`
	AccumulatedResults   map[string]TableResult `json:"accumulatedResults"`
	CurrentTableRows     int                    `json:"currentTableRows"`
	CurrentTableInserted int                    `json:"currentTableInserted"`
	CurrentTableErrors   []string               `json:"currentTableErrors"`
}

func (s State) validate(tables []string, pageSize int) error {
	if s.TableIndex < 0 || s.TableIndex > len(tables) {
		return errs.Validation("tableIndex %d out of range [0, %d]", s.TableIndex, len(tables))
	}
	if s.BatchOffset < 0 || s.BatchOffset%pageSize != 0 {
		return errs.Validation("batchOffset %d is not a non-negative multiple of %d", s.BatchOffset, pageSize)
	}
	if s.CurrentTableRows < 0 || s.CurrentTableInserted < 0 || s.CurrentTableInserted > s.CurrentTableRows {
		return errs.Validation("inconsistent counters: rows=%d inserted=%d", s.CurrentTableRows, s.CurrentTableInserted)
	}
	// exactly one result per finished table
	if len(s.AccumulatedResults) != s.TableIndex {
		return errs.Validation("tableIndex %d but %d accumulated results", s.TableIndex, len(s.AccumulatedResults))
	}
	finished := make(map[string]bool, s.TableIndex)
	for _, t := range tables[:s.TableIndex] {
		finished[t] = true
	}
	for name, r := range s.AccumulatedResults {
		if !finished[name] {
			return errs.Validation("table %q has a result but is not finished", name)
		}
		if r.Rows < 0 || r.Inserted < 0 || r.Inserted > r.Rows {
			return errs.Validation("inconsistent result for %q: rows=%d inserted=%d", name, r.Rows, r.Inserted)
		}
	}
	return nil
}

// Progress describes the table a continuing job will work on next.
type Progress struct {
	Table         string `json:"table"`
	TableNum      int    `json:"tableNum"`
	TotalTables   int    `json:"totalTables"`
	RowsProcessed int    `json:"rowsProcessed"`
}

// Summary totals a finished job.
type Summary struct {
	TotalRows     int `json:"totalRows"`
	TotalInserted int `json:"totalInserted"`
	TotalErrors   int `json:"totalErrors"`
}

// Outcome is the terminal report of a job.
type Outcome struct {
	Success   bool                   `json:"success"`
	Direction Direction              `json:"direction"`
	Summary   Summary                `json:"summary"`
	Details   map[string]TableResult `json:"details"`
}

// StepResult is what one step returns. A continuing job carries the next
// State and Progress; a finished job carries the Outcome.
type StepResult struct {
	Done bool `json:"done"`
	*State
	Progress *Progress `json:"progress,omitempty"`
	*Outcome
}

// Record is a server-held job.
type Record struct {
	ID        string    `json:"id"`
	Job       Job       `json:"job"`
	State     State     `json:"state"`
	Done      bool      `json:"done"`
	Progress  *Progress `json:"progress,omitempty"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func summarize(direction Direction, results map[string]TableResult) *Outcome {
	var s Summary
	for _, r := range results {
		s.TotalRows += r.Rows
		s.TotalInserted += r.Inserted
		s.TotalErrors += len(r.Errors)
	}
	return &Outcome{
		Success:   s.TotalErrors == 0,
		Direction: direction,
		Summary:   s,
		Details:   results,
	}
}
