package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobsTableDDL = `
CREATE TABLE IF NOT EXISTS public.sync_jobs (
  id          text PRIMARY KEY,
  record      jsonb NOT NULL,
  updated_at  timestamptz NOT NULL DEFAULT now()
);
`

// PGStore keeps records in the sync_jobs table of a Postgres database.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPG connects to dsn and makes sure the sync_jobs table exists.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect job store: %w", err)
	}
	if _, err := pool.Exec(ctx, jobsTableDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure sync_jobs table: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Put(ctx context.Context, id string, data []byte) error {
	const q = `
INSERT INTO public.sync_jobs(id, record)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record, updated_at = now();
`
	_, err := s.pool.Exec(ctx, q, id, data)
	return err
}

func (s *PGStore) Get(ctx context.Context, id string) ([]byte, error) {
	const q = `SELECT record FROM public.sync_jobs WHERE id = $1;`
	var data []byte
	if err := s.pool.QueryRow(ctx, q, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM public.sync_jobs WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
