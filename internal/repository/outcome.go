package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// OutcomeRepository stores one row per resolved task, including failures.
type OutcomeRepository interface {
	Record(ctx context.Context, o entity.TaskOutcome) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]entity.TaskOutcome, error)
}

type outcomeRepository struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewOutcomeRepository(db *DB, logger *slog.Logger) OutcomeRepository {
	return &outcomeRepository{db: db, logger: logger, now: time.Now}
}

func (r *outcomeRepository) Record(ctx context.Context, o entity.TaskOutcome) error {
	logs, err := json.Marshal(nonNil(o.Outcome.Logs))
	if err != nil {
		return err
	}
	observed := o.Outcome.Timestamp
	if observed.IsZero() {
		observed = r.now()
	}
	q, args := r.db.builder().Insert("task_outcomes").
		Columns("run_id", "task_id", "batch_index", "position", "code", "status", "reason",
			"detail", "exit_code", "duration_ms", "logs", "observed_at").
		Values(o.RunID, o.TaskID, o.BatchIndex, o.Position, o.Code, string(o.Outcome.Status),
			string(o.Outcome.Reason), o.Outcome.Detail, o.Outcome.ExitCode,
			o.Outcome.Duration.Milliseconds(), string(logs), observed.UTC()).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to record task outcome", "run_id", o.RunID, "task_id", o.TaskID, "error", err)
		return dbErr(err, "failed to record task outcome")
	}
	return nil
}

func (r *outcomeRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]entity.TaskOutcome, error) {
	q, args := r.db.builder().
		Select("run_id", "task_id", "batch_index", "position", "code", "status", "reason",
			"detail", "exit_code", "duration_ms", "logs", "observed_at").
		From(entsql.Table("task_outcomes")).
		Where(entsql.EQ("run_id", runID)).
		OrderBy("position").
		Query()
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, dbErr(err, "failed to list task outcomes")
	}
	defer rows.Close()

	var out []entity.TaskOutcome
	for rows.Next() {
		var (
			o                    entity.TaskOutcome
			status, reason, logs string
			durationMS           int64
			observed             time.Time
		)
		if err := rows.Scan(&o.RunID, &o.TaskID, &o.BatchIndex, &o.Position, &o.Code, &status, &reason,
			&o.Outcome.Detail, &o.Outcome.ExitCode, &durationMS, &logs, &observed); err != nil {
			return nil, err
		}
		o.Outcome.Status = constants.OutcomeStatus(status)
		o.Outcome.Reason = constants.FailureReason(reason)
		o.Outcome.Duration = time.Duration(durationMS) * time.Millisecond
		if o.Outcome.IsValid() {
			o.Outcome.Timestamp = observed.UTC()
		}
		if err := json.Unmarshal([]byte(logs), &o.Outcome.Logs); err != nil {
			r.logger.Warn("task outcome logs unreadable", "task_id", o.TaskID, "error", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
