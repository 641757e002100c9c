package syncer

import (
	"context"

	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/schema"
)

// Connector opens the external endpoint for one step.
type Connector func(ctx context.Context, ep database.Endpoint) (*database.Conn, error)

// Controller executes single steps of a sync job between the long-lived
// local connection and an external endpoint opened per step.
type Controller struct {
	Local      *database.Conn
	Connect    Connector
	Catalog    *schema.Catalog
	PageSize   int
	WriteBatch int
	Logger     *zap.Logger
}

// NewController returns a Controller that opens external endpoints with
// database.Open.
func NewController(local *database.Conn, catalog *schema.Catalog, logger *zap.Logger) *Controller {
	return &Controller{
		Local:   local,
		Catalog: catalog,
		Connect: func(ctx context.Context, ep database.Endpoint) (*database.Conn, error) {
			return database.Open(ctx, ep, logger)
		},
		PageSize:   database.DefaultPageSize,
		WriteBatch: database.DefaultWriteBatch,
		Logger:     logger,
	}
}

func (c *Controller) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return database.DefaultPageSize
}

// Step fetches and writes one page of the job at state and returns the
// next state, or the outcome once every table is finalized.
func (c *Controller) Step(ctx context.Context, job Job, external database.Endpoint, state State) (*StepResult, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	tables, err := c.Catalog.Resolve(job.Tables)
	if err != nil {
		return nil, err
	}
	pageSize := c.pageSize()
	if err := state.validate(tables, pageSize); err != nil {
		return nil, err
	}
	if state.AccumulatedResults == nil {
		state.AccumulatedResults = map[string]TableResult{}
	}

	if state.TableIndex == len(tables) {
		return &StepResult{Done: true, Outcome: summarize(job.Direction, state.AccumulatedResults)}, nil
	}

	ext, err := c.Connect(ctx, external)
	if err != nil {
		return nil, err
	}
	defer ext.Close()

	src, dst := c.Local, ext
	if job.Direction == Pull {
		src, dst = ext, c.Local
	}

	table := tables[state.TableIndex]
	ts, _ := c.Catalog.Table(table)
	log := c.Logger.With(
		zap.String("table", table),
		zap.String("direction", string(job.Direction)),
		zap.Int("offset", state.BatchOffset),
	)

	errors := append([]string{}, state.CurrentTableErrors...)
	exhausted := true

	page, err := database.FetchPage(ctx, src, table, state.BatchOffset, pageSize)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err))
		errors = append(errors, "Fetch error: "+err.Error())
	} else {
		if unknown := c.Catalog.CheckColumns(table, page.Columns); len(unknown) > 0 {
			log.Warn("fetched columns missing from table definition", zap.Strings("columns", unknown))
		}
		res := database.UpsertPage(ctx, dst, ts, page, database.UpsertOptions{BatchSize: c.WriteBatch})
		state.CurrentTableRows += len(page.Rows)
		state.CurrentTableInserted += res.Written
		errors = append(errors, res.Errors...)
		exhausted = page.Last()
		log.Info("page synced",
			zap.Int("rows", len(page.Rows)),
			zap.Int("written", res.Written),
			zap.Int("errors", len(res.Errors)),
		)
	}
	state.CurrentTableErrors = errors

	if !exhausted {
		state.BatchOffset += pageSize
		return &StepResult{
			State: &state,
			Progress: &Progress{
				Table:         table,
				TableNum:      state.TableIndex + 1,
				TotalTables:   len(tables),
				RowsProcessed: state.CurrentTableRows,
			},
		}, nil
	}

	results := make(map[string]TableResult, len(state.AccumulatedResults)+1)
	for k, v := range state.AccumulatedResults {
		results[k] = v
	}
	results[table] = TableResult{
		Rows:     state.CurrentTableRows,
		Inserted: state.CurrentTableInserted,
		Errors:   errors,
	}
	log.Info("table finished",
		zap.Int("rows", state.CurrentTableRows),
		zap.Int("inserted", state.CurrentTableInserted),
		zap.Int("errors", len(errors)),
	)

	next := State{
		TableIndex:         state.TableIndex + 1,
		AccumulatedResults: results,
		CurrentTableErrors: []string{},
	}
	if next.TableIndex < len(tables) {
		return &StepResult{
			State: &next,
			Progress: &Progress{
				Table:       tables[next.TableIndex],
				TableNum:    next.TableIndex + 1,
				TotalTables: len(tables),
			},
		}, nil
	}
	return &StepResult{Done: true, Outcome: summarize(job.Direction, results)}, nil
}

// Run steps the job until it finishes or ctx is cancelled. onStep, when
// set, sees every intermediate result.
func (c *Controller) Run(ctx context.Context, job Job, external database.Endpoint, state State, onStep func(*StepResult)) (*Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.Step(ctx, job, external, state)
		if err != nil {
			return nil, err
		}
		if onStep != nil {
			onStep(res)
		}
		if res.Done {
			return res.Outcome, nil
		}
		state = *res.State
	}
}
