package trustkit

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
)

// ============================================================================
// INTERNAL HELPERS
// ============================================================================

func sortByPriorityDesc(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SeedWithRetry runs Seed, retrying transient store errors with exponential
// backoff. It is meant for process startup, when the database may still be
// coming up; request paths never retry.
func (s *Service) SeedWithRetry(ctx context.Context, maxAttempts int) (*SeedResult, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := s.Seed(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Don't retry on non-transient errors
		if !isTransientError(err) || attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(backoff) * 0.1 * (0.5 + rand.Float64()))
		s.log.WithError(err).WithField("attempt", attempt+1).Warn("seed failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, lastErr
}

// isTransientError checks if an error is transient and can be retried
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadlock",
		"broken pipe",
		"temporary failure",
		"the database system is starting up",
	} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}
