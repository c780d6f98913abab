package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// CandidateRepository caches the last candidate list found for a site.
type CandidateRepository interface {
	Save(ctx context.Context, list entity.CandidateList) error
	Load(ctx context.Context, site string) (*entity.CandidateList, error)
}

type candidateRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCandidateRepository(db *DB, logger *slog.Logger) CandidateRepository {
	return &candidateRepository{db: db, logger: logger}
}

func (r *candidateRepository) Save(ctx context.Context, list entity.CandidateList) error {
	codes, err := json.Marshal(nonNil(list.Codes))
	if err != nil {
		return err
	}
	if list.UpdatedAt.IsZero() {
		list.UpdatedAt = time.Now()
	}
	q, args := r.db.builder().Insert("candidate_cache").
		Columns("site", "codes_json", "source", "updated_at").
		Values(list.Site, string(codes), list.Source, list.UpdatedAt.UTC()).
		OnConflict(
			entsql.ConflictColumns("site"),
			entsql.ResolveWithNewValues(),
		).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to save candidates", "site", list.Site, "error", err)
		return dbErr(err, "failed to save candidates")
	}
	r.logger.Debug("candidates cached", "site", list.Site, "count", len(list.Codes), "source", list.Source)
	return nil
}

func (r *candidateRepository) Load(ctx context.Context, site string) (*entity.CandidateList, error) {
	q, args := r.db.builder().Select("site", "codes_json", "source", "updated_at").
		From(entsql.Table("candidate_cache")).
		Where(entsql.EQ("site", site)).
		Query()
	var rows entsql.Rows
	if err := r.db.drv.Query(ctx, q, args, &rows); err != nil {
		return nil, dbErr(err, "failed to load candidates")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("candidates for %s: %w", site, common.ErrNotFound)
	}
	var (
		list  entity.CandidateList
		codes string
	)
	if err := rows.Scan(&list.Site, &codes, &list.Source, &list.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(codes), &list.Codes); err != nil {
		return nil, fmt.Errorf("decode cached candidates for %s: %w", site, err)
	}
	list.UpdatedAt = list.UpdatedAt.UTC()
	return &list, nil
}
