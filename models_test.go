package trustkit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoleInvite_Remaining tests remaining use accounting
func TestRoleInvite_Remaining(t *testing.T) {
	assert.Equal(t, 3, (&RoleInvite{MaxUses: 3}).Remaining())
	assert.Equal(t, 1, (&RoleInvite{MaxUses: 3, UsedCount: 2}).Remaining())
	assert.Equal(t, 0, (&RoleInvite{MaxUses: 3, UsedCount: 3}).Remaining())
	assert.Equal(t, 0, (&RoleInvite{MaxUses: 1, UsedCount: 4}).Remaining())
}

// TestRoleInvite_Expired tests expiry at the boundary
func TestRoleInvite_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&RoleInvite{}).Expired(now), "no expiry never expires")

	future := now.Add(time.Second)
	assert.False(t, (&RoleInvite{ExpiresAt: &future}).Expired(now))

	assert.True(t, (&RoleInvite{ExpiresAt: &now}).Expired(now), "expiry instant is already expired")

	past := now.Add(-time.Second)
	assert.True(t, (&RoleInvite{ExpiresAt: &past}).Expired(now))
}

// TestContainmentStatus tests status ordering
func TestContainmentStatus(t *testing.T) {
	assert.True(t, StatusWalled.AtLeast(StatusWatched))
	assert.True(t, StatusWatched.AtLeast(StatusWatched))
	assert.False(t, StatusClear.AtLeast(StatusWatched))
	assert.True(t, StatusClear.AtLeast(""))

	assert.True(t, (&TrustRecord{ContainmentStatus: StatusWalled}).IsContained())
	assert.False(t, (&TrustRecord{ContainmentStatus: StatusWatched}).IsContained())
}

// TestAuditAction tests action names
func TestAuditAction(t *testing.T) {
	assert.Equal(t, AuditAction("role.created"), AuditActionRoleCreated)
	assert.Equal(t, AuditAction("role.assigned"), AuditActionRoleAssigned)
	assert.Equal(t, AuditAction("invite.redeemed"), AuditActionInviteRedeemed)
	assert.Equal(t, AuditAction("trust.reset"), AuditActionTrustReset)
}

// TestAuditEntry_ToModel tests conversion to the stored row
func TestAuditEntry_ToModel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &AuditEntry{
		Action:        AuditActionRoleUpdated,
		EntityType:    EntityRole,
		EntityID:      "role-1",
		PerformedBy:   "admin",
		TargetRoleID:  "role-1",
		PreviousValue: map[string]any{"priority": 10},
		NewValue:      map[string]any{"priority": 20},
		IPAddress:     "10.0.0.1",
		RequestID:     "req-1",
	}

	model := entry.ToModel("01J0000000000000000000000", now)
	assert.Equal(t, "01J0000000000000000000000", model.ID)
	assert.Equal(t, now, model.Timestamp)
	assert.Equal(t, "role.updated", model.Action)
	assert.Equal(t, "role-1", model.TargetRoleID)
	assert.Equal(t, 10, model.PreviousValue["priority"])
	assert.Equal(t, 20, model.NewValue["priority"])
	assert.Equal(t, "10.0.0.1", model.IPAddress)
	assert.Equal(t, "req-1", model.RequestID)
}

// TestRoleSnapshot tests the audit representation of a role
func TestRoleSnapshot(t *testing.T) {
	assert.Nil(t, roleSnapshot(nil))

	role := &Role{
		Name:        "scribe",
		DisplayName: "Scribe",
		Priority:    20,
		IsActive:    true,
		Permissions: NewPermissionMatrix().Set(Perm(ResourceLore, ActionCreate), true),
	}
	snap := roleSnapshot(role)
	assert.Equal(t, "scribe", snap["name"])
	assert.Equal(t, 20, snap["priority"])

	data, err := json.Marshal(snap["permissions"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"lore":{"create":true}}`, string(data))
}

// TestRoleJSON tests the wire form of a role
func TestRoleJSON(t *testing.T) {
	role := Role{
		ID:          "id-1",
		Name:        "scribe",
		Priority:    20,
		IsActive:    true,
		Permissions: NewPermissionMatrix().Set(Perm(ResourceLore, ActionView), true),
	}
	data, err := json.Marshal(role)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "scribe", decoded["name"])
	assert.Equal(t, map[string]any{"lore": map[string]any{"view": true}}, decoded["permissions"])
}

// TestRoleUpdateJSON tests that absent fields stay nil
func TestRoleUpdateJSON(t *testing.T) {
	var update RoleUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"priority": 7}`), &update))
	require.NotNil(t, update.Priority)
	assert.Equal(t, 7, *update.Priority)
	assert.Nil(t, update.Name)
	assert.Nil(t, update.Permissions)

	require.NoError(t, json.Unmarshal([]byte(`{"permissions": {"chat": {"create": false}}}`), &update))
	require.NotNil(t, update.Permissions)
	assert.False(t, (*update.Permissions).Allows(ResourceChat, ActionCreate))
}
