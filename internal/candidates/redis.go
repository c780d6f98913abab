package candidates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

// RedisCache keeps one hash per site with the codes as a JSON field.
type RedisCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func candidatesKey(site string) string { return "coupons:candidates:" + site }

func (c *RedisCache) Save(ctx context.Context, list entity.CandidateList) error {
	codes, err := json.Marshal(list.Codes)
	if err != nil {
		return err
	}
	if list.UpdatedAt.IsZero() {
		list.UpdatedAt = time.Now()
	}
	key := candidatesKey(list.Site)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"codes":      string(codes),
		"source":     list.Source,
		"updated_at": list.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save candidates: %w", err)
	}
	return nil
}

func (c *RedisCache) Load(ctx context.Context, site string) (*entity.CandidateList, error) {
	fields, err := c.rdb.HGetAll(ctx, candidatesKey(site)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis load candidates: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("candidates for %s: %w", site, common.ErrNotFound)
	}

	list := &entity.CandidateList{Site: site, Source: fields["source"]}
	if err := json.Unmarshal([]byte(fields["codes"]), &list.Codes); err != nil {
		return nil, fmt.Errorf("decode cached candidates for %s: %w", site, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		list.UpdatedAt = ts
	}
	return list, nil
}
