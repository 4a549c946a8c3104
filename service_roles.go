package trustkit

import (
	"context"
	"strings"
)

// ============================================================================
// ROLE REGISTRY OPERATIONS
// ============================================================================

// ListRoles returns every role, highest priority first.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole returns a role by ID.
func (s *Service) GetRole(ctx context.Context, id string) (*Role, error) {
	return s.store.GetRole(ctx, id)
}

// GetRoleByName returns a role by its unique name.
func (s *Service) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return s.store.GetRoleByName(ctx, name)
}

// CreateRole creates a custom role. It fails with ErrConflict when the name
// is taken and ErrInvalidInput when the priority reaches SuperuserPriority.
//
// Example:
//
//	role, err := service.CreateRole(ctx, trustkit.RoleSpec{
//	    Name:     "lorekeeper",
//	    Priority: 40,
//	    Permissions: trustkit.NewPermissionMatrix().
//	        Set(trustkit.Perm(trustkit.ResourceLore, trustkit.ActionEdit), true),
//	})
func (s *Service) CreateRole(ctx context.Context, spec RoleSpec) (*Role, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for role creation")
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, NewError(ErrInvalidInput, "role name is required")
	}
	if reservedPriority(spec.Priority) {
		return nil, NewError(ErrInvalidInput, reservedPriorityMsg).WithActor(actorID)
	}
	if err := validateMatrix(spec.Permissions); err != nil {
		return nil, err
	}
	if existing, err := s.store.GetRoleByName(ctx, name); err == nil && existing != nil {
		return nil, NewError(ErrConflict, "role name already exists: "+name).WithActor(actorID)
	} else if err != nil && !IsNotFound(err) {
		return nil, err
	}

	displayName := spec.DisplayName
	if displayName == "" {
		displayName = name
	}
	now := s.now()
	role := &Role{
		ID:          newRecordID(),
		Name:        name,
		DisplayName: displayName,
		Description: spec.Description,
		Priority:    spec.Priority,
		IsActive:    true,
		Permissions: spec.Permissions.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertRole(ctx, role); err != nil {
		return nil, err
	}

	s.logAudit(ctx, &AuditEntry{
		Action:       AuditActionRoleCreated,
		EntityType:   EntityRole,
		EntityID:     role.ID,
		PerformedBy:  actorID,
		TargetRoleID: role.ID,
		NewValue:     roleSnapshot(role),
	})
	return role, nil
}

// UpdateRole applies a partial update. System roles keep their name; their
// permission matrix and other fields may still change, except on the
// superuser role whose priority, status and matrix are fixed. No other role
// may reach SuperuserPriority.
func (s *Service) UpdateRole(ctx context.Context, id string, update RoleUpdate) (*Role, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for role update")
	}

	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := roleSnapshot(role)
	if isSuperuserRole(role) {
		changed := (update.Priority != nil && *update.Priority != role.Priority) ||
			(update.IsActive != nil && !*update.IsActive) ||
			update.Permissions != nil
		if changed {
			return nil, NewError(ErrSystemRoleProtected, "superuser priority, status and permissions are fixed").WithRole(id).WithActor(actorID)
		}
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, NewError(ErrInvalidInput, "role name is required").WithRole(id)
		}
		if name != role.Name {
			if role.IsSystem {
				return nil, NewError(ErrSystemRoleProtected, "system roles cannot be renamed").WithRole(id).WithActor(actorID)
			}
			role.Name = name
		}
	}
	if update.DisplayName != nil {
		role.DisplayName = *update.DisplayName
	}
	if update.Description != nil {
		role.Description = *update.Description
	}
	if update.Priority != nil {
		role.Priority = *update.Priority
	}
	if update.IsActive != nil {
		role.IsActive = *update.IsActive
	}
	if !isSuperuserRole(role) && reservedPriority(role.Priority) {
		return nil, NewError(ErrInvalidInput, reservedPriorityMsg).WithRole(id).WithActor(actorID)
	}
	if update.Permissions != nil {
		if err := validateMatrix(*update.Permissions); err != nil {
			return nil, err
		}
		role.Permissions = update.Permissions.Clone()
	}
	role.UpdatedAt = s.now()

	if err := s.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	s.purgeCache(ctx)

	s.logAudit(ctx, &AuditEntry{
		Action:        AuditActionRoleUpdated,
		EntityType:    EntityRole,
		EntityID:      role.ID,
		PerformedBy:   actorID,
		TargetRoleID:  role.ID,
		PreviousValue: previous,
		NewValue:      roleSnapshot(role),
	})
	return role, nil
}

// DeleteRole removes a custom role and deactivates every active grant of it.
// System roles are refused with ErrSystemRoleProtected.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required for role deletion")
	}

	var (
		role     *Role
		affected []string
		invites  []string
	)
	err := s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		var err error
		role, err = tx.store.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if role.IsSystem {
			return NewError(ErrSystemRoleProtected, "system roles cannot be deleted").WithRole(id).WithActor(actorID)
		}
		affected, err = tx.store.DeactivateRoleGrants(ctx, id, tx.now())
		if err != nil {
			return err
		}
		invites, err = tx.store.DeactivateRoleInvites(ctx, id)
		if err != nil {
			return err
		}
		return tx.store.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.purgeCache(ctx)

	s.logAudit(ctx, &AuditEntry{
		Action:        AuditActionRoleDeleted,
		EntityType:    EntityRole,
		EntityID:      id,
		PerformedBy:   actorID,
		TargetRoleID:  id,
		PreviousValue: roleSnapshot(role),
		NewValue:      map[string]any{"revoked_users": affected, "deactivated_invites": invites},
	})
	return nil
}

func isSuperuserRole(role *Role) bool {
	return role.IsSystem && role.Name == RoleSuperuser
}

func validateMatrix(m PermissionMatrix) error {
	for p := range m {
		if !p.Valid() {
			return NewError(ErrInvalidPermission, "unknown permission "+p.String())
		}
	}
	return nil
}

// ============================================================================
// SEEDING
// ============================================================================

// SeedResult reports what Seed changed.
type SeedResult struct {
	RolesCreated      []string
	SuperusersGranted []string
}

// Seed creates any missing registry role as a system role and grants the
// superuser role to each configured principal lacking an active grant.
// Existing roles are left as they are. Seed is idempotent.
func (s *Service) Seed(ctx context.Context) (*SeedResult, error) {
	if err := s.registry.Validate(); err != nil {
		return nil, err
	}
	ctx = WithActorID(ctx, SystemActor)
	result := &SeedResult{}

	for _, def := range s.registry.Roles() {
		_, err := s.store.GetRoleByName(ctx, def.Name)
		if err == nil {
			continue
		}
		if !IsNotFound(err) {
			return nil, err
		}
		role := def
		now := s.now()
		role.ID = newRecordID()
		role.CreatedAt = now
		role.UpdatedAt = now
		if err := s.store.InsertRole(ctx, &role); err != nil {
			if IsConflict(err) {
				continue
			}
			return nil, err
		}
		result.RolesCreated = append(result.RolesCreated, role.Name)
		s.logAudit(ctx, &AuditEntry{
			Action:       AuditActionRoleCreated,
			EntityType:   EntityRole,
			EntityID:     role.ID,
			PerformedBy:  SystemActor,
			TargetRoleID: role.ID,
			NewValue:     roleSnapshot(&role),
		})
	}

	if len(s.superusers) == 0 {
		return result, nil
	}
	super, err := s.store.GetRoleByName(ctx, RoleSuperuser)
	if err != nil {
		return nil, err
	}
	for _, userID := range s.superusers {
		has, err := s.store.HasActiveGrant(ctx, userID, super.ID)
		if err != nil {
			return nil, err
		}
		if has {
			continue
		}
		if _, err := s.AssignRole(ctx, userID, super.ID, "configured superuser"); err != nil {
			return nil, err
		}
		result.SuperusersGranted = append(result.SuperusersGranted, userID)
	}

	s.log.WithField("roles_created", len(result.RolesCreated)).
		WithField("superusers_granted", len(result.SuperusersGranted)).
		Info("seed complete")
	return result, nil
}

// SystemActor is recorded as the performer of seed operations.
const SystemActor = "system"
