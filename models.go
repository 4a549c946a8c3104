package trustkit

import (
	"time"

	"github.com/uptrace/bun"
)

// Role is a named bundle of permissions with a merge priority.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          string           `bun:"id,pk,type:uuid" json:"id"`
	Name        string           `bun:"name,notnull,unique" json:"name"`
	DisplayName string           `bun:"display_name,notnull" json:"display_name"`
	Description string           `bun:"description" json:"description"`
	Priority    int              `bun:"priority,notnull" json:"priority"`
	IsSystem    bool             `bun:"is_system,notnull" json:"is_system"`
	IsActive    bool             `bun:"is_active,notnull" json:"is_active"`
	Permissions PermissionMatrix `bun:"permissions,type:jsonb,notnull" json:"permissions"`
	CreatedAt   time.Time        `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time        `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// UserRoleGrant records that a user holds a role.
// Revocation flips IsActive; rows are never deleted.
type UserRoleGrant struct {
	bun.BaseModel `bun:"table:user_role_grants,alias:g"`

	ID        string     `bun:"id,pk,type:uuid" json:"id"`
	UserID    string     `bun:"user_id,notnull" json:"user_id"`
	RoleID    string     `bun:"role_id,notnull,type:uuid" json:"role_id"`
	GrantedBy string     `bun:"granted_by,notnull" json:"granted_by"`
	GrantedAt time.Time  `bun:"granted_at,notnull,default:current_timestamp" json:"granted_at"`
	Context   string     `bun:"context" json:"context,omitempty"`
	IsActive  bool       `bun:"is_active,notnull" json:"is_active"`
	RevokedAt *time.Time `bun:"revoked_at" json:"revoked_at,omitempty"`
}

// RoleInvite is a redeemable code that optionally grants a role.
type RoleInvite struct {
	bun.BaseModel `bun:"table:role_invites,alias:i"`

	ID             string     `bun:"id,pk,type:uuid" json:"id"`
	Code           string     `bun:"code,notnull,unique" json:"code"`
	RoleID         string     `bun:"role_id,nullzero,type:uuid" json:"role_id,omitempty"`
	Email          string     `bun:"email,nullzero" json:"email,omitempty"`
	MaxUses        int        `bun:"max_uses,notnull" json:"max_uses"`
	UsedCount      int        `bun:"used_count,notnull" json:"used_count"`
	ExpiresAt      *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	IsActive       bool       `bun:"is_active,notnull" json:"is_active"`
	WelcomeMessage string     `bun:"welcome_message" json:"welcome_message,omitempty"`
	CreatedBy      string     `bun:"created_by,notnull" json:"created_by"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	LastUsedAt     *time.Time `bun:"last_used_at" json:"last_used_at,omitempty"`
}

// Remaining returns how many redemptions are left.
func (i *RoleInvite) Remaining() int {
	if i.UsedCount >= i.MaxUses {
		return 0
	}
	return i.MaxUses - i.UsedCount
}

// Expired reports whether the invite is past its expiry at now.
func (i *RoleInvite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// ContainmentStatus is the three-state account standing.
type ContainmentStatus string

const (
	StatusClear   ContainmentStatus = "clear"
	StatusWatched ContainmentStatus = "watched"
	StatusWalled  ContainmentStatus = "walled"
)

// rank orders statuses by severity.
func (s ContainmentStatus) rank() int {
	switch s {
	case StatusWatched:
		return 1
	case StatusWalled:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s ContainmentStatus) AtLeast(other ContainmentStatus) bool {
	return s.rank() >= other.rank()
}

// TrustRecord is the per-user trust score and containment status.
type TrustRecord struct {
	bun.BaseModel `bun:"table:trust_records,alias:t"`

	UserID            string            `bun:"user_id,pk" json:"user_id"`
	TrustScore        int               `bun:"trust_score,notnull" json:"trust_score"`
	ContainmentStatus ContainmentStatus `bun:"containment_status,notnull" json:"containment_status"`
	ViolationCount    int               `bun:"violation_count,notnull" json:"violation_count"`
	CreatedAt         time.Time         `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time         `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	// PreviousStatus is the status before the decrement that returned this
	// record. Not stored.
	PreviousStatus ContainmentStatus `bun:"-" json:"-"`
}

// IsContained reports whether the account is walled.
func (t *TrustRecord) IsContained() bool {
	return t.ContainmentStatus == StatusWalled
}

// ShadowLogEntry is a privacy-preserving record of a content violation.
// It holds a keyed hash and a masked preview, never the original content.
type ShadowLogEntry struct {
	bun.BaseModel `bun:"table:shadow_log,alias:sl"`

	ID          string    `bun:"id,pk" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	Category    string    `bun:"category,notnull" json:"category"`
	ContentHash string    `bun:"content_hash,notnull" json:"content_hash"`
	Preview     string    `bun:"preview,notnull" json:"preview"`
	Context     string    `bun:"context" json:"context"`
	Severity    int       `bun:"severity,notnull" json:"severity"`
	Penalty     int       `bun:"penalty,notnull" json:"penalty"`
	IPAddress   string    `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string    `bun:"user_agent" json:"user_agent,omitempty"`
	RequestID   string    `bun:"request_id" json:"request_id,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// AuditLogEntry records one administrative mutation for compliance and debugging.
type AuditLogEntry struct {
	bun.BaseModel `bun:"table:audit_log,alias:al"`

	ID         string    `bun:"id,pk" json:"id"`
	Timestamp  time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`
	Action     string    `bun:"action,notnull" json:"action"`
	EntityType string    `bun:"entity_type,notnull" json:"entity_type"`
	EntityID   string    `bun:"entity_id,notnull" json:"entity_id"`

	// Who performed the action
	PerformedBy string `bun:"performed_by,notnull" json:"performed_by"`

	// Optional targets
	TargetUserID string `bun:"target_user_id" json:"target_user_id,omitempty"`
	TargetRoleID string `bun:"target_role_id" json:"target_role_id,omitempty"`

	// Snapshots before and after the change
	PreviousValue map[string]any `bun:"previous_value,type:jsonb" json:"previous_value,omitempty"`
	NewValue      map[string]any `bun:"new_value,type:jsonb" json:"new_value,omitempty"`

	// Request metadata for forensics
	IPAddress string `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent string `bun:"user_agent" json:"user_agent,omitempty"`
	RequestID string `bun:"request_id" json:"request_id,omitempty"`
}

// AuditAction represents the type of action in the audit log.
type AuditAction string

const (
	AuditActionRoleCreated      AuditAction = "role.created"
	AuditActionRoleUpdated      AuditAction = "role.updated"
	AuditActionRoleDeleted      AuditAction = "role.deleted"
	AuditActionRoleAssigned     AuditAction = "role.assigned"
	AuditActionRoleRevoked      AuditAction = "role.revoked"
	AuditActionRoleBulkAssigned AuditAction = "role.bulk_assigned"
	AuditActionInviteCreated    AuditAction = "invite.created"
	AuditActionInviteDisabled   AuditAction = "invite.deactivated"
	AuditActionInviteRedeemed   AuditAction = "invite.redeemed"
	AuditActionTrustReset       AuditAction = "trust.reset"
)

// Entity types recorded in the audit log.
const (
	EntityRole   = "role"
	EntityGrant  = "grant"
	EntityInvite = "invite"
	EntityTrust  = "trust"
)

// AuditEntry is used to create new audit log entries.
type AuditEntry struct {
	Action        AuditAction
	EntityType    string
	EntityID      string
	PerformedBy   string
	TargetUserID  string
	TargetRoleID  string
	PreviousValue map[string]any
	NewValue      map[string]any
	IPAddress     string
	UserAgent     string
	RequestID     string
}

// ToModel converts an AuditEntry to an AuditLogEntry model stamped at now.
func (e *AuditEntry) ToModel(id string, now time.Time) *AuditLogEntry {
	return &AuditLogEntry{
		ID:            id,
		Timestamp:     now,
		Action:        string(e.Action),
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		PerformedBy:   e.PerformedBy,
		TargetUserID:  e.TargetUserID,
		TargetRoleID:  e.TargetRoleID,
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		RequestID:     e.RequestID,
	}
}

// RoleSpec describes a role to create.
type RoleSpec struct {
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Priority    int              `json:"priority"`
	Permissions PermissionMatrix `json:"permissions"`
}

// RoleUpdate is a partial role update; nil fields are left unchanged.
type RoleUpdate struct {
	Name        *string           `json:"name,omitempty"`
	DisplayName *string           `json:"display_name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Priority    *int              `json:"priority,omitempty"`
	IsActive    *bool             `json:"is_active,omitempty"`
	Permissions *PermissionMatrix `json:"permissions,omitempty"`
}

// InviteSpec describes an invite to create.
type InviteSpec struct {
	RoleID         string     `json:"role_id,omitempty"`
	Email          string     `json:"email,omitempty"`
	MaxUses        int        `json:"max_uses"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	WelcomeMessage string     `json:"welcome_message,omitempty"`
}

// RequestMeta carries optional request metadata for the shadow and audit logs.
type RequestMeta struct {
	IPAddress string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// roleSnapshot is the audit representation of a role.
func roleSnapshot(r *Role) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"name":         r.Name,
		"display_name": r.DisplayName,
		"description":  r.Description,
		"priority":     r.Priority,
		"is_active":    r.IsActive,
		"permissions":  r.Permissions.Nested(),
	}
}
