package trustkit

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGuardCleanContent tests that clean content passes without side effects
func TestGuardCleanContent(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewTestDataHelper(t, WithMetrics(metrics))

	res := h.service.Guard(h.ctx, "user-1", "the lore archive is lovely today", "chat.message", RequestMeta{})
	assert.Equal(t, GuardResult{}, res)
	assert.NoError(t, res.Err())

	entries, err := h.service.ListShadowLog(h.ctx, NewShadowLogFilter())
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec, err := h.service.GetTrust(h.ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialScore, rec.TrustScore)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("allowed")))
}

// TestGuardHarmfulContent tests blocking, shadow logging and penalties
func TestGuardHarmfulContent(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewTestDataHelper(t, WithMetrics(metrics))
	content := "I am going to kill you all"
	meta := RequestMeta{IPAddress: "192.0.2.1", UserAgent: "client/1.0", RequestID: "req-42"}

	res := h.service.Guard(h.ctx, "user-1", content, "chat.message", meta)
	assert.True(t, res.Blocked)
	assert.Equal(t, BlockedReason, res.Reason)
	assert.True(t, IsBlocked(res.Err()))

	entries, err := h.service.ListShadowLog(h.ctx, NewShadowLogFilter().WithUser("user-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, CategoryViolence, entry.Category)
	assert.Equal(t, 3, entry.Severity)
	assert.Equal(t, 30, entry.Penalty)
	assert.Equal(t, "chat.message", entry.Context)
	assert.Equal(t, "req-42", entry.RequestID)
	assert.Equal(t, HashContent(content), entry.ContentHash)
	assert.NotContains(t, entry.Preview, "kill")

	rec, err := h.service.GetTrust(h.ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 70, rec.TrustScore)
	assert.Equal(t, 1, rec.ViolationCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViolationsTotal.WithLabelValues(CategoryViolence)))
}

// TestGuardReasonIsGeneric tests that the response never reveals classification
func TestGuardReasonIsGeneric(t *testing.T) {
	h := NewTestDataHelper(t)

	for _, content := range []string{"hurt the kids", "torture that cat", "shoot them"} {
		res := h.service.Guard(h.ctx, h.CreateTestUser("u"), content, "post", RequestMeta{})
		require.True(t, res.Blocked, content)
		assert.Equal(t, BlockedReason, res.Reason)
	}
}

// TestGuardContainedUser tests that walled accounts are blocked without screening
func TestGuardContainedUser(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewTestDataHelper(t, WithMetrics(metrics))
	user := "walled"

	res := h.service.Guard(h.ctx, user, "I will hurt those kids", "chat.message", RequestMeta{})
	require.True(t, res.Blocked)
	rec, err := h.service.GetTrust(h.ctx, user)
	require.NoError(t, err)
	require.Equal(t, StatusWalled, rec.ContainmentStatus)

	res = h.service.Guard(h.ctx, user, "good morning everyone", "chat.message", RequestMeta{})
	assert.True(t, res.Blocked)
	assert.Equal(t, BlockedReason, res.Reason)

	entries, err := h.service.ListShadowLog(h.ctx, NewShadowLogFilter().WithUser(user))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "contained users are not screened or logged again")

	after, err := h.service.GetTrust(h.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, after.ViolationCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("contained")))
}

// TestGuardWatchedUserStillScreened tests that watched accounts may post clean content
func TestGuardWatchedUserStillScreened(t *testing.T) {
	h := NewTestDataHelper(t)
	user := "watched"

	_, err := h.service.ApplyViolation(h.ctx, user, CategoryCruelty, 4)
	require.NoError(t, err)
	_, err = h.service.ApplyViolation(h.ctx, user, CategoryViolence, 3)
	require.NoError(t, err)
	rec, err := h.service.GetTrust(h.ctx, user)
	require.NoError(t, err)
	require.Equal(t, StatusWatched, rec.ContainmentStatus)

	res := h.service.Guard(h.ctx, user, "hello there", "chat.message", RequestMeta{})
	assert.False(t, res.Blocked)
}

// TestGuardFailsClosed tests that store failures block
func TestGuardFailsClosed(t *testing.T) {
	t.Run("containment check error", func(t *testing.T) {
		service, store := newFaultyService(t)
		store.Fail("GetTrust", errors.New("connection refused"))

		res := service.Guard(t.Context(), "user-1", "hello there", "chat.message", RequestMeta{})
		assert.True(t, res.Blocked)
		assert.Equal(t, BlockedReason, res.Reason)
	})

	t.Run("penalty error", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		service, store := newFaultyService(t, WithMetrics(metrics))
		store.Fail("DecrementTrust", errors.New("deadlock detected"))

		res := service.Guard(t.Context(), "user-1", "kill them", "chat.message", RequestMeta{})
		assert.True(t, res.Blocked)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GuardDecisionsTotal.WithLabelValues("error")))
	})

	t.Run("shadow write error still penalizes", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		service, store := newFaultyService(t, WithMetrics(metrics))
		store.Fail("InsertShadowEntry", errors.New("disk full"))

		res := service.Guard(t.Context(), "user-1", "kill them", "chat.message", RequestMeta{})
		assert.True(t, res.Blocked)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LogWriteFailuresTotal.WithLabelValues("shadow")))

		rec, err := service.GetTrust(t.Context(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, 70, rec.TrustScore)
	})
}

// TestGuardResultErr tests the error form of a result
func TestGuardResultErr(t *testing.T) {
	assert.NoError(t, GuardResult{}.Err())
	assert.Equal(t, ErrBlocked, GuardResult{Blocked: true, Reason: BlockedReason}.Err())
}
