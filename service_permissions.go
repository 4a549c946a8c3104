package trustkit

import (
	"context"
	"fmt"
	"sort"
)

// MergeRoles folds the matrices of the active roles into one effective
// matrix. Roles are applied in ascending priority (ties by ascending ID),
// each overwriting the explicit entries of the ones before it, so the
// highest-priority role that mentions a pair decides it. Pairs no role
// mentions stay absent, which means denied.
func MergeRoles(roles []Role) PermissionMatrix {
	ordered := make([]Role, 0, len(roles))
	for _, r := range roles {
		if r.IsActive {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	merged := NewPermissionMatrix()
	for _, r := range ordered {
		merged.Overlay(r.Permissions)
	}
	return merged
}

// ============================================================================
// PERMISSION CHECKING
// ============================================================================

// ResolvePermissions computes the user's effective matrix from their active
// grants. A cached matrix is used when present; the cache is bounded by its
// TTL and invalidated on grant and role changes.
func (s *Service) ResolvePermissions(ctx context.Context, userID string) (PermissionMatrix, error) {
	if s.cache != nil {
		if m, ok := s.cache.Get(ctx, userID); ok {
			s.metrics.cacheLookup(true)
			return m, nil
		}
		s.metrics.cacheLookup(false)
	}

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
		return nil, err
	}

	m := MergeRoles(roles)
	if s.cache != nil {
		s.cache.Set(ctx, userID, m)
	}
	return m, nil
}

// HasPermission checks if a user holds a resource/action permission.
// Any resolution failure denies.
//
// Example:
//
//	if service.HasPermission(ctx, userID, trustkit.ResourceRoles, trustkit.ActionManage) {
//	    // User may edit roles
//	}
func (s *Service) HasPermission(ctx context.Context, userID string, resource Resource, action Action) bool {
	m, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Error("permission resolution failed")
		s.metrics.permissionCheck(false)
		return false
	}
	allowed := m.Allows(resource, action)
	s.metrics.permissionCheck(allowed)
	return allowed
}

// RequirePermission returns ErrPermissionDenied unless the user holds the permission.
func (s *Service) RequirePermission(ctx context.Context, userID string, resource Resource, action Action) error {
	if userID == "" {
		return NewError(ErrPermissionDenied, "no authenticated user")
	}
	if !s.HasPermission(ctx, userID, resource, action) {
		return NewError(ErrPermissionDenied, fmt.Sprintf("%s.%s required", resource, action)).WithUser(userID)
	}
	return nil
}

// GetUserPermissions returns the effective matrix for UI rendering. Callers
// must not use it as an authorization decision; use HasPermission.
func (s *Service) GetUserPermissions(ctx context.Context, userID string) (PermissionMatrix, error) {
	m, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// GetChecker resolves the user's permissions once and wraps them for
// repeated checks within a request.
func (s *Service) GetChecker(ctx context.Context, userID string) (*Checker, error) {
	m, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewChecker(userID, m), nil
}

// GetCheckerFromContext creates a Checker using the user ID from context.
func (s *Service) GetCheckerFromContext(ctx context.Context) (*Checker, error) {
	userID := GetUserID(ctx)
	if userID == "" {
		return nil, NewError(ErrPermissionDenied, "no authenticated user")
	}
	return s.GetChecker(ctx, userID)
}

func (s *Service) invalidateUser(ctx context.Context, userIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range userIDs {
		s.cache.Invalidate(ctx, id)
	}
}

func (s *Service) purgeCache(ctx context.Context) {
	if s.cache != nil {
		s.cache.Purge(ctx)
	}
}
