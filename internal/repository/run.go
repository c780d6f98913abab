package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

var runColumns = []string{"id", "site", "status", "planned", "total", "valid", "invalid", "failed", "started_at", "finished_at"}

type RunRepository interface {
	Create(ctx context.Context, run entity.Run) error
	UpdateCounts(ctx context.Context, id uuid.UUID, summary entity.Summary) error
	Finish(ctx context.Context, id uuid.UUID, status constants.RunStatus, summary entity.Summary) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Run, error)
	ListBySite(ctx context.Context, site string, limit int) ([]*entity.Run, error)
}

type runRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRunRepository(db *DB, logger *slog.Logger) RunRepository {
	return &runRepository{db: db, logger: logger}
}

func (r *runRepository) Create(ctx context.Context, run entity.Run) error {
	if run.Status == "" {
		run.Status = constants.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	q, args := r.db.builder().Insert("runs").
		Columns("id", "site", "status", "planned", "started_at").
		Values(run.ID, run.Site, string(run.Status), run.Planned, run.StartedAt.UTC()).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create run", "run_id", run.ID, "site", run.Site, "error", err)
		return dbErr(err, "failed to create run")
	}
	return nil
}

// UpdateCounts records progress of a run that is still going.
func (r *runRepository) UpdateCounts(ctx context.Context, id uuid.UUID, s entity.Summary) error {
	q, args := r.db.builder().Update("runs").
		Set("planned", s.Planned).
		Set("total", s.Total).
		Set("valid", s.Valid).
		Set("invalid", s.Invalid).
		Set("failed", s.Failed).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to update run counts", "run_id", id, "error", err)
		return dbErr(err, "failed to update run counts")
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, id uuid.UUID, status constants.RunStatus, s entity.Summary) error {
	q, args := r.db.builder().Update("runs").
		Set("status", string(status)).
		Set("planned", s.Planned).
		Set("total", s.Total).
		Set("valid", s.Valid).
		Set("invalid", s.Invalid).
		Set("failed", s.Failed).
		Set("finished_at", time.Now().UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to finish run", "run_id", id, "status", status, "error", err)
		return dbErr(err, "failed to finish run")
	}
	return nil
}

func (r *runRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Run, error) {
	q, args := r.db.builder().Select(runColumns...).From(entsql.Table("runs")).
		Where(entsql.EQ("id", id)).
		Query()
	runs, err := r.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("run %s: %w", id, common.ErrNotFound)
	}
	return runs[0], nil
}

func (r *runRepository) ListBySite(ctx context.Context, site string, limit int) ([]*entity.Run, error) {
	sel := r.db.builder().Select(runColumns...).From(entsql.Table("runs")).
		Where(entsql.EQ("site", site)).
		OrderBy(entsql.Desc("started_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	return r.query(ctx, q, args)
}

func (r *runRepository) query(ctx context.Context, q string, args []any) ([]*entity.Run, error) {
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		r.logger.Error("failed to query runs", "error", err)
		return nil, dbErr(err, "failed to query runs")
	}
	defer rows.Close()

	var out []*entity.Run
	for rows.Next() {
		var (
			run      entity.Run
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Site, &status, &run.Planned, &run.Total, &run.Valid,
			&run.Invalid, &run.Failed, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		run.Status = constants.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
