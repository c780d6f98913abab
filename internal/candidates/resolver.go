package candidates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// Cache stores the last good candidate list per site. Load returns an error wrapping
// common.ErrNotFound when nothing is cached.
type Cache interface {
	Save(ctx context.Context, list entity.CandidateList) error
	Load(ctx context.Context, site string) (*entity.CandidateList, error)
}

// Source finds candidates for a site from a live source.
type Source interface {
	Find(ctx context.Context, site string) ([]string, error)
	Name() string
}

// Resolver picks the candidate list for a run.
type Resolver struct {
	live   Source
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Resolver)

func WithLiveSource(s Source) Option { return func(r *Resolver) { r.live = s } }
func WithCache(c Cache) Option       { return func(r *Resolver) { r.cache = c } }
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns explicit when it is non-empty, duplicates included. Otherwise it
// asks the live source and caches a non-empty answer; when the live source is absent,
// fails or finds nothing, the cached list is used. If the live source failed and
// nothing is cached the result is common.ErrNoCandidates. An empty list without error
// means there is simply nothing to validate.
func (r *Resolver) Resolve(ctx context.Context, site string, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		return explicit, nil
	}
	log := r.logger.With("site", site)

	var liveErr error
	if r.live != nil {
		codes, err := r.live.Find(ctx, site)
		switch {
		case err != nil:
			liveErr = err
			log.Warn("candidates.live_failed", "source", r.live.Name(), "error", err)
		case len(codes) > 0:
			log.Info("candidates.live", "source", r.live.Name(), "count", len(codes))
			r.save(ctx, entity.CandidateList{Site: site, Codes: codes, Source: r.live.Name(), UpdatedAt: r.now()})
			return codes, nil
		default:
			log.Info("candidates.live_empty", "source", r.live.Name())
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if r.cache != nil {
		list, err := r.cache.Load(ctx, site)
		switch {
		case err == nil && len(list.Codes) > 0:
			log.Info("candidates.cached", "count", len(list.Codes), "source", list.Source, "updated_at", list.UpdatedAt)
			return list.Codes, nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			log.Warn("candidates.cache_load_failed", "error", err)
		}
	}

	if liveErr != nil {
		return nil, fmt.Errorf("%w for %s: %w", common.ErrNoCandidates, site, liveErr)
	}
	log.Info("candidates.none")
	return nil, nil
}

// Candidates resolves with no explicit list.
func (r *Resolver) Candidates(ctx context.Context, site string) ([]string, error) {
	return r.Resolve(ctx, site, nil)
}

func (r *Resolver) save(ctx context.Context, list entity.CandidateList) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Save(context.WithoutCancel(ctx), list); err != nil {
		r.logger.Warn("candidates.cache_save_failed", "site", list.Site, "error", err)
	}
}
