package trustkit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Error Scenario Tests
// ============================================================================

// TestErrorScenarios tests various error conditions
func TestErrorScenarios(t *testing.T) {
	h := NewTestDataHelper(t)
	ctx := h.Actor("admin")
	memberID := h.RoleID(RoleMember)

	t.Run("assign with blank user ID", func(t *testing.T) {
		_, err := h.service.AssignRole(ctx, "   ", memberID, "")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("assign unknown role", func(t *testing.T) {
		_, err := h.service.AssignRole(ctx, "u1", "missing", "")
		assert.True(t, IsNotFound(err))
	})

	t.Run("revoke a role never held", func(t *testing.T) {
		err := h.service.RevokeRole(ctx, "u1", memberID)
		assert.True(t, IsNotFound(err))
	})

	t.Run("mutations without an actor", func(t *testing.T) {
		_, err := h.service.AssignRole(h.ctx, "u1", memberID, "")
		assert.ErrorIs(t, err, ErrNoActorID)
		_, err = h.service.CreateRole(h.ctx, RoleSpec{Name: "orphan"})
		assert.ErrorIs(t, err, ErrNoActorID)
		_, err = h.service.CreateInvite(h.ctx, InviteSpec{})
		assert.ErrorIs(t, err, ErrNoActorID)
	})

	t.Run("unknown user has no permissions", func(t *testing.T) {
		m, err := h.service.GetUserPermissions(h.ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, m)
		h.AssertPermissionDenied("", ResourceLore, ActionView)
	})
}

// ============================================================================
// Merge Edge Cases
// ============================================================================

// TestOverlappingRoles tests resolution across several held roles
func TestOverlappingRoles(t *testing.T) {
	h := NewTestDataHelper(t)
	ctx := h.Actor("admin")
	user := h.CreateTestUser("overlap")
	h.Grant(user, RoleMember)
	h.Grant(user, RoleModerator)

	h.AssertPermissionGranted(user, ResourceChat, ActionCreate)
	h.AssertPermissionGranted(user, ResourceChat, ActionModerate)
	h.AssertPermissionDenied(user, ResourceRoles, ActionManage)

	t.Run("lower priority allow loses to a higher deny", func(t *testing.T) {
		low, err := h.service.CreateRole(ctx, RoleSpec{
			Name:        "auditor",
			Priority:    20,
			Permissions: NewPermissionMatrix().Set(Perm(ResourceAudit, ActionView), true),
		})
		require.NoError(t, err)
		_, err = h.service.AssignRole(ctx, user, low.ID, "")
		require.NoError(t, err)

		h.AssertPermissionDenied(user, ResourceAudit, ActionView)
	})

	t.Run("higher priority allow wins", func(t *testing.T) {
		high, err := h.service.CreateRole(ctx, RoleSpec{
			Name:        "steward",
			Priority:    70,
			Permissions: NewPermissionMatrix().Set(Perm(ResourceRoles, ActionManage), true),
		})
		require.NoError(t, err)
		_, err = h.service.AssignRole(ctx, user, high.ID, "")
		require.NoError(t, err)

		h.AssertPermissionGranted(user, ResourceRoles, ActionManage)
	})

	t.Run("duplicate grants revoke together", func(t *testing.T) {
		other := h.CreateTestUser("dup")
		h.Grant(other, RoleMember)
		h.Grant(other, RoleMember)

		grants, err := h.service.ListUserGrants(h.ctx, other, true)
		require.NoError(t, err)
		assert.Len(t, grants, 2)

		roles, err := h.service.GetUserRoles(h.ctx, other)
		require.NoError(t, err)
		assert.Len(t, roles, 1)

		require.NoError(t, h.service.RevokeRole(ctx, other, h.RoleID(RoleMember)))
		h.AssertPermissionDenied(other, ResourceChat, ActionCreate)
	})
}

// TestInactiveRole tests that a deactivated role contributes nothing
func TestInactiveRole(t *testing.T) {
	h := NewTestDataHelper(t)
	ctx := h.Actor("admin")
	role, err := h.service.CreateRole(ctx, RoleSpec{
		Name:        "seasonal",
		Priority:    15,
		Permissions: NewPermissionMatrix().Set(Perm(ResourceEvents, ActionCreate), true),
	})
	require.NoError(t, err)
	h.Grant("u1", "seasonal")
	h.AssertPermissionGranted("u1", ResourceEvents, ActionCreate)

	_, err = h.service.UpdateRole(ctx, role.ID, RoleUpdate{IsActive: boolPtr(false)})
	require.NoError(t, err)
	h.AssertPermissionDenied("u1", ResourceEvents, ActionCreate)

	_, err = h.service.UpdateRole(ctx, role.ID, RoleUpdate{IsActive: boolPtr(true)})
	require.NoError(t, err)
	h.AssertPermissionGranted("u1", ResourceEvents, ActionCreate)
}

// ============================================================================
// Input Edge Cases
// ============================================================================

// TestInviteEmailNormalization tests case and whitespace insensitive matching
func TestInviteEmailNormalization(t *testing.T) {
	h := NewTestDataHelper(t)
	invite, err := h.service.CreateInvite(h.Actor("admin"), InviteSpec{
		RoleID: h.RoleID(RoleMember),
		Email:  " New.Member@Example.COM ",
	})
	require.NoError(t, err)
	assert.Equal(t, "new.member@example.com", invite.Email)

	_, err = h.service.RedeemInvite(h.ctx, invite.Code, "newbie", "new.member@EXAMPLE.com  ")
	require.NoError(t, err)
}

// TestGuardEdgeInputs tests content the gate must let through untouched
func TestGuardEdgeInputs(t *testing.T) {
	h := NewTestDataHelper(t)

	for _, content := range []string{
		"",
		"   ",
		strings.Repeat("a", 10000),
		"我们明天见",
		"the killer whale ate them",
	} {
		res := h.service.Guard(h.ctx, "poster", content, "chat", RequestMeta{})
		assert.False(t, res.Blocked, "%.30q", content)
	}

	_, err := h.store.GetTrust(h.ctx, "poster")
	assert.True(t, IsNotFound(err), "clean content creates no trust record")

	res := h.service.Guard(h.ctx, "shouter", "KILL   THEM", "chat", RequestMeta{})
	assert.True(t, res.Blocked, "matching ignores case and spacing")
}
