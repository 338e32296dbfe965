package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/mmk-jobqueue/internal/core"
	"github.com/target/mmk-jobqueue/internal/domain/model"
)

const (
	idempotencyCachePrefix     = "idem:"
	defaultIdempotencyCacheTTL = 24 * time.Hour
)

// IdempotencyIndexOptions groups dependencies for IdempotencyIndex.
type IdempotencyIndexOptions struct {
	Store  core.JobStore        // Required: authoritative key lookup
	Cache  core.CacheRepository // Optional: key → job id read-through cache
	TTL    time.Duration        // Optional: cache entry lifetime, defaults to 24h
	Logger *slog.Logger         // Optional: structured logger
}

// IdempotencyIndex resolves idempotency keys to existing jobs.
// The store's unique key constraint is the source of truth; the cache only saves a query.
type IdempotencyIndex struct {
	store  core.JobStore
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewIdempotencyIndex constructs a new IdempotencyIndex.
func NewIdempotencyIndex(opts IdempotencyIndexOptions) (*IdempotencyIndex, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultIdempotencyCacheTTL
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "idempotency_index")
	}

	return &IdempotencyIndex{
		store:  opts.Store,
		cache:  opts.Cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Lookup returns the job carrying key, whatever its status, or (nil, nil) when there is none.
// A blank key never matches.
func (x *IdempotencyIndex) Lookup(ctx context.Context, key string) (*model.Job, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	if job := x.lookupCached(ctx, key); job != nil {
		return job, nil
	}

	job, err := x.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find by idempotency key: %w", err)
	}
	if job != nil {
		x.Remember(ctx, key, job.ID)
	}
	return job, nil
}

// Remember caches key → jobID. It is a no-op without a cache, and cache failures are only logged.
func (x *IdempotencyIndex) Remember(ctx context.Context, key, jobID string) {
	key = strings.TrimSpace(key)
	if x.cache == nil || key == "" || jobID == "" {
		return
	}
	if err := x.cache.Set(ctx, idempotencyCachePrefix+key, []byte(jobID), x.ttl); err != nil {
		x.warn(ctx, "idempotency cache write failed", key, err)
	}
}

// lookupCached resolves key through the cache. Stale or unreadable entries yield nil so the
// caller falls through to the store.
func (x *IdempotencyIndex) lookupCached(ctx context.Context, key string) *model.Job {
	if x.cache == nil {
		return nil
	}

	raw, err := x.cache.Get(ctx, idempotencyCachePrefix+key)
	if err != nil {
		x.warn(ctx, "idempotency cache read failed", key, err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	job, err := x.store.GetByID(ctx, string(raw))
	switch {
	case err == nil && job.IdempotencyKey != nil && *job.IdempotencyKey == key:
		return job
	case err == nil, errors.Is(err, core.ErrJobNotFound):
		if _, delErr := x.cache.Delete(ctx, idempotencyCachePrefix+key); delErr != nil {
			x.warn(ctx, "idempotency cache evict failed", key, delErr)
		}
		return nil
	default:
		x.warn(ctx, "idempotency cache resolve failed", key, err)
		return nil
	}
}

func (x *IdempotencyIndex) warn(ctx context.Context, msg, key string, err error) {
	if x.logger == nil {
		return
	}
	x.logger.WarnContext(ctx, msg, "idempotency_key", key, "error", err)
}
