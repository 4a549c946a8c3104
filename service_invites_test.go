package trustkit

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateInviteCode tests code length and alphabet
func TestGenerateInviteCode(t *testing.T) {
	code, err := GenerateInviteCode(0)
	require.NoError(t, err)
	assert.Len(t, code, DefaultInviteCodeLength)

	code, err = GenerateInviteCode(20)
	require.NoError(t, err)
	assert.Len(t, code, 20)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(inviteAlphabet, r), "unexpected rune %q", r)
	}

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		c, err := GenerateInviteCode(12)
		require.NoError(t, err)
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
}

// TestCreateInvite tests invite creation and validation
func TestCreateInvite(t *testing.T) {
	h := NewTestDataHelper(t, WithInviteCodeLength(16))
	admin := h.Actor("admin-actor")
	memberID := h.RoleID(RoleMember)

	t.Run("defaults", func(t *testing.T) {
		invite, err := h.service.CreateInvite(admin, InviteSpec{
			RoleID: memberID,
			Email:  " New.Member@Example.com ",
		})
		require.NoError(t, err)
		assert.Len(t, invite.Code, 16)
		assert.Equal(t, DefaultInviteMaxUses, invite.MaxUses)
		assert.Equal(t, 0, invite.UsedCount)
		assert.Equal(t, "new.member@example.com", invite.Email)
		assert.Equal(t, "admin-actor", invite.CreatedBy)
		assert.True(t, invite.IsActive)
		assert.Equal(t, 1, h.AuditCount(AuditActionInviteCreated))
	})

	tests := []struct {
		name string
		spec InviteSpec
		want error
	}{
		{"negative max uses", InviteSpec{MaxUses: -1}, ErrInvalidInput},
		{"expiry in the past", InviteSpec{ExpiresAt: timePtr(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))}, ErrInvalidInput},
		{"unknown role", InviteSpec{RoleID: "missing"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.CreateInvite(admin, tt.spec)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("requires actor", func(t *testing.T) {
		_, err := h.service.CreateInvite(h.ctx, InviteSpec{})
		assert.True(t, errors.Is(err, ErrNoActorID))
	})
}

func timePtr(t time.Time) *time.Time { return &t }

// TestRedeemInvite tests the successful redemption path
func TestRedeemInvite(t *testing.T) {
	h := NewTestDataHelper(t)
	admin := h.Actor("admin-actor")

	invite, err := h.service.CreateInvite(admin, InviteSpec{
		RoleID:         h.RoleID(RoleMember),
		Email:          "new.member@example.com",
		WelcomeMessage: "Welcome aboard",
	})
	require.NoError(t, err)

	user := h.CreateTestUser("newcomer")
	result, err := h.service.RedeemInvite(h.ctx, invite.Code, user, "NEW.member@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Invite.UsedCount)
	assert.False(t, result.Invite.IsActive, "exhausted invites are deactivated")
	assert.Equal(t, "Welcome aboard", result.Invite.WelcomeMessage)
	require.NotNil(t, result.Grant)
	assert.Equal(t, "admin-actor", result.Grant.GrantedBy)
	assert.Equal(t, "invite:"+invite.Code, result.Grant.Context)

	h.AssertPermissionGranted(user, ResourceChat, ActionCreate)

	entries, err := h.service.GetAuditLog(h.ctx, NewAuditLogFilter().WithAction(AuditActionInviteRedeemed))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, user, entries[0].PerformedBy)
	assert.Equal(t, user, entries[0].TargetUserID)

	t.Run("second use is exhausted", func(t *testing.T) {
		_, err := h.service.RedeemInvite(h.ctx, invite.Code, h.CreateTestUser("late"), "new.member@example.com")
		assert.True(t, errors.Is(err, ErrInviteExhausted))
	})
}

// TestRedeemInviteWithoutRole tests invites that only admit
func TestRedeemInviteWithoutRole(t *testing.T) {
	h := NewTestDataHelper(t)
	invite, err := h.service.CreateInvite(h.Actor("admin-actor"), InviteSpec{MaxUses: 3})
	require.NoError(t, err)

	result, err := h.service.RedeemInvite(h.ctx, invite.Code, "guest", "")
	require.NoError(t, err)
	assert.Nil(t, result.Grant)
	assert.True(t, result.Invite.IsActive)
	assert.Equal(t, 2, result.Invite.Remaining())
}

// TestRedeemInviteFailures tests each refusal reason
func TestRedeemInviteFailures(t *testing.T) {
	h := NewTestDataHelper(t)
	admin := h.Actor("admin-actor")
	memberID := h.RoleID(RoleMember)

	t.Run("unknown code", func(t *testing.T) {
		_, err := h.service.RedeemInvite(h.ctx, "NOPE", "user", "")
		assert.True(t, errors.Is(err, ErrInviteNotFound))
		assert.True(t, IsNotFound(err))
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := h.service.RedeemInvite(h.ctx, "ANY", "", "")
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("email mismatch", func(t *testing.T) {
		invite, err := h.service.CreateInvite(admin, InviteSpec{RoleID: memberID, Email: "alice@example.com"})
		require.NoError(t, err)

		_, err = h.service.RedeemInvite(h.ctx, invite.Code, "mallory", "mallory@example.com")
		assert.True(t, errors.Is(err, ErrInviteEmailMismatch))

		stored, err := h.store.GetInvite(h.ctx, invite.Code)
		require.NoError(t, err)
		assert.Equal(t, 0, stored.UsedCount, "a refused redemption consumes nothing")
		h.AssertPermissionDenied("mallory", ResourceChat, ActionCreate)
	})

	t.Run("email-bound without verified email", func(t *testing.T) {
		invite, err := h.service.CreateInvite(admin, InviteSpec{RoleID: memberID, Email: "alice@example.com"})
		require.NoError(t, err)

		_, err = h.service.RedeemInvite(h.ctx, invite.Code, "anonymous", "")
		assert.True(t, errors.Is(err, ErrInviteEmailMismatch))
	})

	t.Run("role deleted", func(t *testing.T) {
		role, err := h.service.CreateRole(admin, RoleSpec{Name: "temporary", Priority: 15})
		require.NoError(t, err)
		invite, err := h.service.CreateInvite(admin, InviteSpec{RoleID: role.ID, MaxUses: 2})
		require.NoError(t, err)

		require.NoError(t, h.service.DeleteRole(admin, role.ID))

		_, err = h.service.RedeemInvite(h.ctx, invite.Code, "orphan", "")
		assert.True(t, errors.Is(err, ErrInviteNotFound))

		stored, err := h.store.GetInvite(h.ctx, invite.Code)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Equal(t, 0, stored.UsedCount)

		entries, err := h.service.GetAuditLog(h.ctx, NewAuditLogFilter().WithAction(AuditActionRoleDeleted).WithTargetRole(role.ID))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, []string{invite.Code}, entries[0].NewValue["deactivated_invites"])
	})

	t.Run("expired", func(t *testing.T) {
		expires := h.clock.Now().Add(time.Hour)
		invite, err := h.service.CreateInvite(admin, InviteSpec{RoleID: memberID, ExpiresAt: &expires})
		require.NoError(t, err)

		h.clock.Advance(2 * time.Hour)
		_, err = h.service.RedeemInvite(h.ctx, invite.Code, "latecomer", "")
		assert.True(t, errors.Is(err, ErrInviteExpired))
	})

	t.Run("deactivated", func(t *testing.T) {
		invite, err := h.service.CreateInvite(admin, InviteSpec{RoleID: memberID, MaxUses: 5})
		require.NoError(t, err)
		require.NoError(t, h.service.DeactivateInvite(admin, invite.Code))

		_, err = h.service.RedeemInvite(h.ctx, invite.Code, "someone", "")
		assert.True(t, errors.Is(err, ErrInviteNotFound))
	})

	t.Run("no audit for failures", func(t *testing.T) {
		assert.Equal(t, 0, h.AuditCount(AuditActionInviteRedeemed))
	})
}

// TestRedeemInviteConcurrent tests that concurrent redemptions never exceed max uses
func TestRedeemInviteConcurrent(t *testing.T) {
	for _, maxUses := range []int{1, 3} {
		h := NewTestDataHelper(t)
		invite, err := h.service.CreateInvite(h.Actor("admin-actor"), InviteSpec{
			RoleID:  h.RoleID(RoleMember),
			MaxUses: maxUses,
		})
		require.NoError(t, err)

		const workers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			exhausted int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := h.service.RedeemInvite(t.Context(), invite.Code, h.CreateTestUser("racer")+string(rune('a'+i)), "")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ErrInviteExhausted):
					exhausted++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, maxUses, succeeded)
		assert.Equal(t, workers-maxUses, exhausted)

		stored, err := h.store.GetInvite(h.ctx, invite.Code)
		require.NoError(t, err)
		assert.Equal(t, maxUses, stored.UsedCount)
		assert.False(t, stored.IsActive)
		assert.Equal(t, maxUses, h.AuditCount(AuditActionInviteRedeemed))
	}
}

// TestDeactivateInvite tests deactivation and listing
func TestDeactivateInvite(t *testing.T) {
	h := NewTestDataHelper(t)
	admin := h.Actor("admin-actor")

	a, err := h.service.CreateInvite(admin, InviteSpec{})
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	b, err := h.service.CreateInvite(admin, InviteSpec{})
	require.NoError(t, err)

	require.NoError(t, h.service.DeactivateInvite(admin, a.Code))
	assert.True(t, errors.Is(h.service.DeactivateInvite(admin, "MISSING"), ErrInviteNotFound))
	assert.True(t, errors.Is(h.service.DeactivateInvite(h.ctx, b.Code), ErrNoActorID))

	all, err := h.service.ListInvites(h.ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.Code, all[0].Code, "newest first")

	active, err := h.service.ListInvites(h.ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.Code, active[0].Code)
}
