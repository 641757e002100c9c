package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"go.uber.org/zap"

	"github.com/robmartinson/tablesync/internal/database"
	"github.com/robmartinson/tablesync/internal/errs"
	"github.com/robmartinson/tablesync/internal/jobstore"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = jobstore.ErrNotFound

// Manager keeps job state on the server so callers only hold a job id.
// Endpoint credentials are never stored; they are supplied on every resume.
type Manager struct {
	Controller *Controller
	Store      jobstore.Store
	Logger     *zap.Logger

	mu      sync.Mutex
	entropy io.Reader
	// running guards against two resumes of one job at the same time
	running map[string]bool
}

func NewManager(c *Controller, store jobstore.Store, logger *zap.Logger) *Manager {
	return &Manager{
		Controller: c,
		Store:      store,
		Logger:     logger,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		running:    map[string]bool{},
	}
}

func (m *Manager) newID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Now(), m.entropy).String()
}

// Start validates job and stores a new record positioned at its beginning.
func (m *Manager) Start(ctx context.Context, job Job) (*Record, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	tables, err := m.Controller.Catalog.Resolve(job.Tables)
	if err != nil {
		return nil, err
	}
	job.Tables = tables

	now := time.Now().UTC()
	rec := &Record{
		ID:  m.newID(),
		Job: job,
		State: State{
			AccumulatedResults: map[string]TableResult{},
			CurrentTableErrors: []string{},
		},
		Progress: &Progress{
			Table:       tables[0],
			TableNum:    1,
			TotalTables: len(tables),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.save(ctx, rec); err != nil {
		return nil, err
	}
	m.Logger.Info("job created", zap.String("job", rec.ID), zap.String("direction", string(job.Direction)), zap.Int("tables", len(tables)))
	return rec, nil
}

// Resume runs one step of the stored job and persists the new position.
func (m *Manager) Resume(ctx context.Context, id string, external database.Endpoint) (*StepResult, error) {
	if !m.acquire(id) {
		return nil, errs.Validation("job %s is already running", id)
	}
	defer m.release(id)

	rec, err := m.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Done {
		return &StepResult{Done: true, Outcome: rec.Outcome}, nil
	}

	res, err := m.Controller.Step(ctx, rec.Job, external, rec.State)
	if err != nil {
		return nil, err
	}

	rec.Done = res.Done
	rec.Progress = res.Progress
	if res.Done {
		rec.Outcome = res.Outcome
		rec.State = State{TableIndex: len(rec.Job.Tables), AccumulatedResults: res.Details, CurrentTableErrors: []string{}}
	} else {
		rec.State = *res.State
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, rec); err != nil {
		return nil, err
	}
	return res, nil
}

// Status loads a record.
func (m *Manager) Status(ctx context.Context, id string) (*Record, error) {
	data, err := m.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return rec, nil
}

// Discard deletes a record.
func (m *Manager) Discard(ctx context.Context, id string) error {
	if err := m.Store.Delete(ctx, id); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return err
	}
	m.Logger.Info("job discarded", zap.String("job", id))
	return nil
}

func (m *Manager) save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := m.Store.Put(ctx, rec.ID, data); err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

func (m *Manager) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] {
		return false
	}
	m.running[id] = true
	return true
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}
