package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// BasemapRun is one recorded assembly run. Outcomes is the per-source
// result list stored as jsonb.
type BasemapRun struct {
	ID          string
	CommuneName string
	INSEECode   string
	Department  string
	State       string
	SavedTo     *string
	DurationMs  int64
	Outcomes    []map[string]any
	CreatedAt   time.Time
}

const insertBasemapRun = `-- name: InsertBasemapRun :one
INSERT INTO basemap_runs (
  commune_name,
  insee_code,
  department,
  state,
  saved_to,
  duration_ms,
  outcomes
)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, '[]'::jsonb))
RETURNING id, commune_name, insee_code, department, state, saved_to, duration_ms, outcomes, created_at
`

type InsertBasemapRunParams struct {
	CommuneName string
	INSEECode   string
	Department  string
	State       string
	SavedTo     *string
	DurationMs  int64
	Outcomes    []map[string]any
}

func (q *Queries) InsertBasemapRun(ctx context.Context, arg InsertBasemapRunParams) (BasemapRun, error) {
	row := q.db.QueryRow(
		ctx,
		insertBasemapRun,
		arg.CommuneName,
		arg.INSEECode,
		arg.Department,
		arg.State,
		arg.SavedTo,
		arg.DurationMs,
		arg.Outcomes,
	)
	var i BasemapRun
	err := row.Scan(
		&i.ID,
		&i.CommuneName,
		&i.INSEECode,
		&i.Department,
		&i.State,
		&i.SavedTo,
		&i.DurationMs,
		&i.Outcomes,
		&i.CreatedAt,
	)
	return i, err
}

const getBasemapRun = `-- name: GetBasemapRun :one
SELECT id, commune_name, insee_code, department, state, saved_to, duration_ms, outcomes, created_at
FROM basemap_runs
WHERE id = $1
`

func (q *Queries) GetBasemapRun(ctx context.Context, id string) (BasemapRun, error) {
	row := q.db.QueryRow(ctx, getBasemapRun, id)
	var i BasemapRun
	err := row.Scan(
		&i.ID,
		&i.CommuneName,
		&i.INSEECode,
		&i.Department,
		&i.State,
		&i.SavedTo,
		&i.DurationMs,
		&i.Outcomes,
		&i.CreatedAt,
	)
	return i, err
}

const listBasemapRuns = `-- name: ListBasemapRuns :many
SELECT id, commune_name, insee_code, department, state, saved_to, duration_ms, outcomes, created_at
FROM basemap_runs
WHERE
	($1 IS NULL OR (created_at < $1 OR (created_at = $1 AND id < $2)))
ORDER BY created_at DESC, id DESC
LIMIT $3
`

type ListBasemapRunsParams struct {
	BeforeCreatedAt *time.Time
	BeforeID        *string
	Limit           int32
}

func (q *Queries) ListBasemapRuns(ctx context.Context, arg ListBasemapRunsParams) ([]BasemapRun, error) {
	rows, err := q.db.Query(ctx, listBasemapRuns, arg.BeforeCreatedAt, arg.BeforeID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BasemapRun
	for rows.Next() {
		var i BasemapRun
		if err := rows.Scan(
			&i.ID,
			&i.CommuneName,
			&i.INSEECode,
			&i.Department,
			&i.State,
			&i.SavedTo,
			&i.DurationMs,
			&i.Outcomes,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
