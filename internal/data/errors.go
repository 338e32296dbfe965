package data

import (
	"errors"

	"github.com/target/mmk-jobqueue/internal/core"
)

// Store sentinels re-exported so data-layer callers and tests need not import core.
var (
	ErrJobNotFound             = core.ErrJobNotFound
	ErrJobNotRunning           = core.ErrJobNotRunning
	ErrRetryBudgetExhausted    = core.ErrRetryBudgetExhausted
	ErrDuplicateIdempotencyKey = core.ErrDuplicateIdempotencyKey
	// ErrJobRequired is returned when a nil job is passed to Create.
	ErrJobRequired = errors.New("job is required")
)

// List bounds shared by all stores.
const (
	defaultListLimit      = 50
	maxListLimit          = 1000
	defaultCandidateLimit = 50
)

func normalizeListWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, max(offset, 0)
}

func normalizeCandidateLimit(limit int) int {
	if limit <= 0 {
		return defaultCandidateLimit
	}
	return min(limit, maxListLimit)
}
