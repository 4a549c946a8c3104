package trustkit

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRole(id string, priority int, perms PermissionMatrix) Role {
	return Role{ID: id, Name: id, Priority: priority, IsActive: true, Permissions: perms}
}

// TestMergeRoles tests priority merging of role matrices
func TestMergeRoles(t *testing.T) {
	view := Perm(ResourceLore, ActionView)
	edit := Perm(ResourceLore, ActionEdit)
	del := Perm(ResourceLore, ActionDelete)

	t.Run("higher priority overrides", func(t *testing.T) {
		low := testRole("low", 10, NewPermissionMatrix().Set(view, true).Set(edit, true))
		high := testRole("high", 50, NewPermissionMatrix().Set(edit, false))

		m := MergeRoles([]Role{high, low})
		assert.True(t, m[view], "entries the higher role does not mention survive")
		assert.False(t, m[edit])
	})

	t.Run("absent stays denied", func(t *testing.T) {
		m := MergeRoles([]Role{testRole("a", 1, NewPermissionMatrix().Set(view, true))})
		_, present := m[del]
		assert.False(t, present)
		assert.False(t, m.Allows(ResourceLore, ActionDelete))
	})

	t.Run("ties broken by id", func(t *testing.T) {
		a := testRole("a", 20, NewPermissionMatrix().Set(edit, true))
		b := testRole("b", 20, NewPermissionMatrix().Set(edit, false))

		assert.False(t, MergeRoles([]Role{a, b})[edit])
		assert.False(t, MergeRoles([]Role{b, a})[edit], "input order does not matter")
	})

	t.Run("inactive roles ignored", func(t *testing.T) {
		active := testRole("active", 10, NewPermissionMatrix().Set(view, true))
		inactive := testRole("inactive", 90, NewPermissionMatrix().Set(view, false).Set(del, true))
		inactive.IsActive = false

		m := MergeRoles([]Role{active, inactive})
		assert.True(t, m[view])
		assert.False(t, m[del])
	})

	t.Run("no roles", func(t *testing.T) {
		m := MergeRoles(nil)
		assert.NotNil(t, m)
		assert.Empty(t, m)
	})

	t.Run("deterministic", func(t *testing.T) {
		roles := []Role{
			testRole("c", 5, NewPermissionMatrix().Set(view, false)),
			testRole("a", 5, NewPermissionMatrix().Set(view, true)),
			testRole("b", 5, NewPermissionMatrix().Set(edit, true)),
		}
		first := MergeRoles(roles)
		for i := 0; i < 20; i++ {
			roles[0], roles[2] = roles[2], roles[0]
			assert.Equal(t, first, MergeRoles(roles))
		}
	})
}

// TestHasPermission tests permission checks through granted roles
func TestHasPermission(t *testing.T) {
	h := NewTestDataHelper(t)
	member := h.CreateTestUser("member")
	moderator := h.CreateTestUser("moderator")
	nobody := h.CreateTestUser("nobody")

	h.Grant(member, RoleMember)
	h.Grant(moderator, RoleMember)
	h.Grant(moderator, RoleModerator)

	h.AssertPermissionGranted(member, ResourceChat, ActionCreate)
	h.AssertPermissionDenied(member, ResourceShadowLog, ActionView)

	h.AssertPermissionGranted(moderator, ResourceChat, ActionCreate)
	h.AssertPermissionGranted(moderator, ResourceShadowLog, ActionView)
	h.AssertPermissionDenied(moderator, ResourceRoles, ActionManage)

	for _, p := range AllPermissions() {
		h.AssertPermissionDenied(nobody, p.Resource, p.Action)
	}
}

// TestHasPermissionResolutionFailureDenies tests that store errors deny
func TestHasPermissionResolutionFailureDenies(t *testing.T) {
	service, store := newFaultyService(t, WithSuperusers("owner"))
	ctx := t.Context()
	require.True(t, service.HasPermission(ctx, "owner", ResourceRoles, ActionManage))

	store.Fail("ListActiveGrants", errors.New("connection reset"))
	assert.False(t, service.HasPermission(ctx, "owner", ResourceRoles, ActionManage))

	err := service.RequirePermission(ctx, "owner", ResourceRoles, ActionManage)
	assert.True(t, IsPermissionDenied(err))
}

// TestRequirePermission tests the error form of HasPermission
func TestRequirePermission(t *testing.T) {
	h := NewTestDataHelper(t)
	user := h.CreateTestUser("u")
	h.Grant(user, RoleMember)

	assert.NoError(t, h.service.RequirePermission(h.ctx, user, ResourceLore, ActionView))

	err := h.service.RequirePermission(h.ctx, user, ResourceLore, ActionDelete)
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, user, e.UserID)

	assert.True(t, IsPermissionDenied(h.service.RequirePermission(h.ctx, "", ResourceLore, ActionView)))
}

// TestGetUserPermissions tests that the returned matrix is a copy
func TestGetUserPermissions(t *testing.T) {
	h := NewTestDataHelper(t, WithCache(NewLRUCache(10, time.Minute)))
	user := h.CreateTestUser("u")
	h.Grant(user, RoleMember)

	m, err := h.service.GetUserPermissions(h.ctx, user)
	require.NoError(t, err)
	assert.True(t, m.Allows(ResourceChat, ActionCreate))

	m.Set(Perm(ResourceRoles, ActionManage), true)
	h.AssertPermissionDenied(user, ResourceRoles, ActionManage)
}

// TestPermissionCacheInvalidation tests cache behaviour across grant and role changes
func TestPermissionCacheInvalidation(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	cache := NewLRUCache(100, time.Hour)
	h := NewTestDataHelper(t, WithCache(cache), WithMetrics(metrics))
	user := h.CreateTestUser("u")
	admin := h.Actor("admin-actor")

	h.AssertPermissionDenied(user, ResourceChat, ActionCreate)
	h.AssertPermissionDenied(user, ResourceChat, ActionCreate)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal))

	t.Run("grant invalidates the user", func(t *testing.T) {
		h.Grant(user, RoleMember)
		h.AssertPermissionGranted(user, ResourceChat, ActionCreate)
	})

	t.Run("role update purges", func(t *testing.T) {
		other := h.CreateTestUser("other")
		h.Grant(other, RoleMember)
		h.AssertPermissionGranted(other, ResourceChat, ActionCreate)
		require.Equal(t, 2, cache.Len())

		member, err := h.service.GetRoleByName(h.ctx, RoleMember)
		require.NoError(t, err)
		perms := member.Permissions.Clone().Set(Perm(ResourceChat, ActionCreate), false)
		_, err = h.service.UpdateRole(admin, member.ID, RoleUpdate{Permissions: &perms})
		require.NoError(t, err)
		assert.Equal(t, 0, cache.Len())

		h.AssertPermissionDenied(user, ResourceChat, ActionCreate)
		h.AssertPermissionDenied(other, ResourceChat, ActionCreate)
	})

	t.Run("revoke invalidates the user", func(t *testing.T) {
		h.Grant(user, RoleModerator)
		h.AssertPermissionGranted(user, ResourceShadowLog, ActionView)

		require.NoError(t, h.service.RevokeRole(admin, user, h.RoleID(RoleModerator)))
		h.AssertPermissionDenied(user, ResourceShadowLog, ActionView)
	})
}

// TestPermissionCacheTTL tests that entries expire
func TestPermissionCacheTTL(t *testing.T) {
	cache := NewLRUCache(10, 250*time.Millisecond)
	h := NewTestDataHelper(t, WithCache(cache))
	user := h.CreateTestUser("u")

	h.AssertPermissionDenied(user, ResourceChat, ActionCreate)
	require.Equal(t, 1, cache.Len())

	// A write behind the service's back is only visible once the entry expires.
	require.NoError(t, h.store.InsertGrant(h.ctx, &UserRoleGrant{
		ID: newRecordID(), UserID: user, RoleID: h.RoleID(RoleMember), GrantedBy: "test", IsActive: true,
	}))
	h.AssertPermissionDenied(user, ResourceChat, ActionCreate)

	assert.Eventually(t, func() bool {
		return h.service.HasPermission(h.ctx, user, ResourceChat, ActionCreate)
	}, 2*time.Second, 20*time.Millisecond)
}

// TestGetChecker tests checker construction from the service
func TestGetChecker(t *testing.T) {
	h := NewTestDataHelper(t)
	user := h.CreateTestUser("u")
	h.Grant(user, RoleModerator)

	checker, err := h.service.GetChecker(h.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user, checker.UserID())
	assert.True(t, checker.Can(ResourceChat, ActionModerate))

	_, err = h.service.GetCheckerFromContext(h.ctx)
	assert.True(t, IsPermissionDenied(err))

	checker, err = h.service.GetCheckerFromContext(WithUserID(h.ctx, user))
	require.NoError(t, err)
	assert.Equal(t, user, checker.UserID())
}
