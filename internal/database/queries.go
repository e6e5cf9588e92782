package database

import (
	"context"
	"fmt"

	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

const insertRun = `-- name: InsertRun :one
INSERT INTO removal_runs (run_id, certname, group_name, status, kind, message, removed_classes, noop)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at
`

type InsertRunParams struct {
	RunID          uuid.UUID
	Certname       string
	GroupName      string
	Status         string
	Kind           string
	Message        string
	RemovedClasses []string
	Noop           bool
}

// NewRunParams describes one task run. Exactly one of result and err is expected to be set.
func NewRunParams(certname, group string, noop bool, result *models.TaskResult, err error) InsertRunParams {
	if err != nil {
		result = models.NewFailure(err)
	}
	arg := InsertRunParams{
		RunID:          uuid.New(),
		Certname:       certname,
		GroupName:      group,
		Status:         result.Status,
		Message:        result.Message,
		RemovedClasses: result.RemovedClasses,
		Noop:           noop,
	}
	if err != nil {
		arg.Kind = models.KindOf(err).String()
	}
	if arg.RemovedClasses == nil {
		arg.RemovedClasses = []string{}
	}
	return arg
}

func (q *Queries) InsertRun(ctx context.Context, arg InsertRunParams) (models.RemovalRun, error) {
	run := models.RemovalRun{
		RunID:          arg.RunID,
		Certname:       arg.Certname,
		GroupName:      arg.GroupName,
		Status:         arg.Status,
		Kind:           arg.Kind,
		Message:        arg.Message,
		RemovedClasses: arg.RemovedClasses,
		Noop:           arg.Noop,
	}
	row := q.db.QueryRow(ctx, insertRun,
		arg.RunID.String(),
		arg.Certname,
		arg.GroupName,
		arg.Status,
		arg.Kind,
		arg.Message,
		arg.RemovedClasses,
		arg.Noop,
	)
	err := row.Scan(&run.ID, &run.CreatedAt)
	return run, err
}

const getRecentRuns = `-- name: GetRecentRuns :many
SELECT id, run_id::text, certname, group_name, status, kind, message, removed_classes, noop, created_at
FROM removal_runs
ORDER BY created_at DESC, id DESC
LIMIT $1
`

func (q *Queries) GetRecentRuns(ctx context.Context, limit int32) ([]models.RemovalRun, error) {
	rows, err := q.db.Query(ctx, getRecentRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.RemovalRun{}
	for rows.Next() {
		var i models.RemovalRun
		var runID string
		if err := rows.Scan(
			&i.ID,
			&runID,
			&i.Certname,
			&i.GroupName,
			&i.Status,
			&i.Kind,
			&i.Message,
			&i.RemovedClasses,
			&i.Noop,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		if i.RemovedClasses == nil {
			i.RemovedClasses = []string{}
		}
		if i.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteAllRuns = `-- name: DeleteAllRuns :exec
DELETE FROM removal_runs
`

func (q *Queries) DeleteAllRuns(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteAllRuns)
	return err
}
