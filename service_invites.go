package trustkit

import (
	"context"
	"time"
)

// DefaultInviteMaxUses is used when an invite spec leaves MaxUses unset.
const DefaultInviteMaxUses = 1

// ============================================================================
// INVITE OPERATIONS
// ============================================================================

// CreateInvite issues a new invite with a random code.
//
// Example:
//
//	invite, err := service.CreateInvite(ctx, trustkit.InviteSpec{
//	    RoleID:  memberRoleID,
//	    Email:   "new.member@example.com",
//	    MaxUses: 1,
//	})
func (s *Service) CreateInvite(ctx context.Context, spec InviteSpec) (*RoleInvite, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for invite creation")
	}

	if spec.MaxUses < 0 {
		return nil, NewError(ErrInvalidInput, "max_uses must be positive")
	}
	if spec.MaxUses == 0 {
		spec.MaxUses = DefaultInviteMaxUses
	}
	now := s.now()
	if spec.ExpiresAt != nil && !spec.ExpiresAt.After(now) {
		return nil, NewError(ErrInvalidInput, "expires_at must be in the future")
	}
	if spec.RoleID != "" {
		if _, err := s.store.GetRole(ctx, spec.RoleID); err != nil {
			return nil, err
		}
	}

	code, err := GenerateInviteCode(s.inviteCodeLength)
	if err != nil {
		return nil, err
	}
	invite := &RoleInvite{
		ID:             newRecordID(),
		Code:           code,
		RoleID:         spec.RoleID,
		Email:          normalizeEmail(spec.Email),
		MaxUses:        spec.MaxUses,
		ExpiresAt:      spec.ExpiresAt,
		IsActive:       true,
		WelcomeMessage: spec.WelcomeMessage,
		CreatedBy:      actorID,
		CreatedAt:      now,
	}
	if err := s.store.InsertInvite(ctx, invite); err != nil {
		return nil, err
	}

	s.logAudit(ctx, &AuditEntry{
		Action:       AuditActionInviteCreated,
		EntityType:   EntityInvite,
		EntityID:     invite.ID,
		PerformedBy:  actorID,
		TargetRoleID: invite.RoleID,
		NewValue: map[string]any{
			"role_id":    invite.RoleID,
			"email":      invite.Email,
			"max_uses":   invite.MaxUses,
			"expires_at": invite.ExpiresAt,
		},
	})
	return invite, nil
}

// RedemptionResult is returned by a successful RedeemInvite.
type RedemptionResult struct {
	Invite *RoleInvite    `json:"invite"`
	Grant  *UserRoleGrant `json:"grant,omitempty"`
}

// RedeemInvite consumes one use of an invite for userID and grants its role.
// email must be the principal's verified address; an email-bound invite
// refuses an empty or different one.
// The use count is incremented by a single conditional update so concurrent
// redemptions can never exceed MaxUses.
//
// Errors: ErrInviteNotFound (absent or deactivated), ErrInviteExpired,
// ErrInviteExhausted, ErrInviteEmailMismatch.
func (s *Service) RedeemInvite(ctx context.Context, code, userID, email string) (*RedemptionResult, error) {
	if userID == "" {
		return nil, NewError(ErrInvalidInput, "user ID is required").WithCode(code)
	}

	var result *RedemptionResult
	err := s.Transaction(ctx, func(ctx context.Context, tx *Service) error {
		invite, err := tx.store.GetInvite(ctx, code)
		if err != nil {
			return err
		}
		if invite.Email != "" && invite.Email != normalizeEmail(email) {
			return NewError(ErrInviteEmailMismatch, "invite is bound to another email").WithCode(code).WithUser(userID)
		}

		now := tx.now()
		consumed, err := tx.store.ConsumeInvite(ctx, code, now)
		if err != nil {
			return err
		}
		if consumed == nil {
			return tx.classifyUnredeemable(ctx, code, now)
		}

		result = &RedemptionResult{Invite: consumed}
		if consumed.RoleID != "" {
			grant, err := tx.assignRole(ctx, userID, consumed.RoleID, consumed.CreatedBy, "invite:"+code)
			if err != nil {
				return err
			}
			result.Grant = grant
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Grant != nil {
		s.invalidateUser(ctx, userID)
	}

	entry := &AuditEntry{
		Action:       AuditActionInviteRedeemed,
		EntityType:   EntityInvite,
		EntityID:     result.Invite.ID,
		PerformedBy:  userID,
		TargetUserID: userID,
		TargetRoleID: result.Invite.RoleID,
		PreviousValue: map[string]any{
			"used_count": result.Invite.UsedCount - 1,
		},
		NewValue: map[string]any{
			"used_count": result.Invite.UsedCount,
			"is_active":  result.Invite.IsActive,
		},
	}
	s.logAudit(WithActorID(ctx, userID), entry)
	return result, nil
}

// classifyUnredeemable explains why a conditional consume matched no row.
// Exhaustion is checked before the active flag because an exhausted invite
// is also deactivated.
func (s *Service) classifyUnredeemable(ctx context.Context, code string, now time.Time) error {
	invite, err := s.store.GetInvite(ctx, code)
	if err != nil {
		return err
	}
	switch {
	case invite.UsedCount >= invite.MaxUses:
		return NewError(ErrInviteExhausted, "invite has no remaining uses").WithCode(code)
	case !invite.IsActive:
		return NewError(ErrInviteNotFound, "invite is inactive").WithCode(code)
	case invite.Expired(now):
		return NewError(ErrInviteExpired, "invite has expired").WithCode(code)
	default:
		return NewError(ErrInviteNotFound, "invite is not redeemable").WithCode(code)
	}
}

// DeactivateInvite disables an invite. The row is kept for audit.
func (s *Service) DeactivateInvite(ctx context.Context, code string) error {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return NewError(ErrNoActorID, "actor ID required for invite deactivation")
	}

	invite, err := s.store.GetInvite(ctx, code)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateInvite(ctx, code); err != nil {
		return err
	}

	s.logAudit(ctx, &AuditEntry{
		Action:        AuditActionInviteDisabled,
		EntityType:    EntityInvite,
		EntityID:      invite.ID,
		PerformedBy:   actorID,
		TargetRoleID:  invite.RoleID,
		PreviousValue: map[string]any{"is_active": invite.IsActive},
		NewValue:      map[string]any{"is_active": false},
	})
	return nil
}

// ListInvites returns invites newest first.
func (s *Service) ListInvites(ctx context.Context, activeOnly bool) ([]RoleInvite, error) {
	return s.store.ListInvites(ctx, activeOnly)
}
