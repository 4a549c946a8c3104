package trustkit

import (
	"context"
	"fmt"
	"strings"
)

// ============================================================================
// ROLE ASSIGNMENT OPERATIONS
// ============================================================================

// AssignRole grants a role to a user. It does not check for an existing
// active grant; a repeated assignment records a second history row and
// RevokeRole deactivates all of them.
//
// Example:
//
//	ctx = trustkit.WithActorID(ctx, adminID)
//	grant, err := service.AssignRole(ctx, targetUserID, moderatorRoleID, "community vote")
func (s *Service) AssignRole(ctx context.Context, userID, roleID, reason string) (*UserRoleGrant, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for role assignment")
	}

	grant, err := s.assignRole(ctx, userID, roleID, actorID, reason)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, &AuditEntry{
		Action:       AuditActionRoleAssigned,
		EntityType:   EntityGrant,
		EntityID:     grant.ID,
		PerformedBy:  actorID,
		TargetUserID: userID,
		TargetRoleID: roleID,
		NewValue:     map[string]any{"context": reason},
	})
	return grant, nil
}

// assignRole inserts the grant row and invalidates the user's cached
// permissions. It writes no audit entry.
func (s *Service) assignRole(ctx context.Context, userID, roleID, grantedBy, reason string) (*UserRoleGrant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, NewError(ErrInvalidInput, "user ID is required").WithRole(roleID)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	grant := &UserRoleGrant{
		ID:        newRecordID(),
		UserID:    userID,
		RoleID:    roleID,
		GrantedBy: grantedBy,
		GrantedAt: s.now(),
		Context:   reason,
		IsActive:  true,
	}
	if err := s.store.InsertGrant(ctx, grant); err != nil {
		return nil, NewError(ErrDatabaseError, "failed to create role grant: "+err.Error()).
			WithRole(roleID).
			WithUser(userID)
	}
	s.invalidateUser(ctx, userID)
	return grant, nil
}

// RevokeRole deactivates every active grant of the role held by the user.
// It returns ErrNotFound when there is none.
//
// Example:
//
//	err := service.RevokeRole(ctx, targetUserID, moderatorRoleID)
func (s *Service) RevokeRole(ctx context.Context, userID, roleID string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required for role revocation")
	}

	n, err := s.store.DeactivateGrants(ctx, userID, roleID, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return NewError(ErrNotFound, "user does not hold this role").
			WithRole(roleID).
			WithUser(userID)
	}
	s.invalidateUser(ctx, userID)

	s.logAudit(ctx, &AuditEntry{
		Action:        AuditActionRoleRevoked,
		EntityType:    EntityGrant,
		EntityID:      userID + ":" + roleID,
		PerformedBy:   actorID,
		TargetUserID:  userID,
		TargetRoleID:  roleID,
		PreviousValue: map[string]any{"active_grants": n},
		NewValue:      map[string]any{"active_grants": 0},
	})
	return nil
}

// BulkResult reports the outcome of BulkAssign.
type BulkResult struct {
	Granted int               `json:"granted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// BulkAssign grants a role to each user. A failure for one user does not
// abort the batch; failures are collected by user ID. One audit entry
// summarizes the batch.
func (s *Service) BulkAssign(ctx context.Context, userIDs []string, roleID, reason string) (*BulkResult, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for bulk assignment")
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}

	result := &BulkResult{Failed: make(map[string]string)}
	var granted []string
	for _, userID := range userIDs {
		if _, err := s.assignRole(ctx, userID, roleID, actorID, reason); err != nil {
			result.Failed[userID] = err.Error()
			continue
		}
		result.Granted++
		granted = append(granted, userID)
	}

	if len(result.Failed) > 0 {
		s.log.WithField("role_id", roleID).
			WithField("failed", len(result.Failed)).
			Warn("bulk assignment partially failed")
	}

	s.logAudit(ctx, &AuditEntry{
		Action:       AuditActionRoleBulkAssigned,
		EntityType:   EntityRole,
		EntityID:     roleID,
		PerformedBy:  actorID,
		TargetRoleID: roleID,
		NewValue: map[string]any{
			"context":   reason,
			"requested": len(userIDs),
			"granted":   granted,
			"failed":    result.Failed,
		},
	})
	return result, nil
}

// ListUserGrants returns the user's grant history, active and revoked.
func (s *Service) ListUserGrants(ctx context.Context, userID string, activeOnly bool) ([]UserRoleGrant, error) {
	if activeOnly {
		return s.store.ListActiveGrants(ctx, userID)
	}
	return s.store.ListGrants(ctx, userID)
}

// GetUserRoles returns the active roles held by the user, highest priority first.
func (s *Service) GetUserRoles(ctx context.Context, userID string) ([]Role, error) {
	grants, err := s.store.ListActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.RoleID)
	}
	roles, err := s.store.GetRolesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load roles for %s: %w", userID, err)
	}
	sortByPriorityDesc(roles)
	return roles, nil
}
