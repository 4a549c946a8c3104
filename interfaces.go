package trustkit

import (
	"context"
	"time"

	"github.com/fernandezvara/dbkit"
)

// RoleStore persists roles.
type RoleStore interface {
	// ListRoles returns every role ordered by descending priority.
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	GetRolesByIDs(ctx context.Context, ids []string) ([]Role, error)
	// InsertRole fails with ErrConflict when the name is taken.
	InsertRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
}

// GrantStore persists user role grants.
type GrantStore interface {
	InsertGrant(ctx context.Context, grant *UserRoleGrant) error
	// DeactivateGrants flips every active (user, role) grant and returns how many changed.
	DeactivateGrants(ctx context.Context, userID, roleID string, at time.Time) (int, error)
	// DeactivateRoleGrants flips every active grant of a role and returns the affected users.
	DeactivateRoleGrants(ctx context.Context, roleID string, at time.Time) ([]string, error)
	ListActiveGrants(ctx context.Context, userID string) ([]UserRoleGrant, error)
	ListGrants(ctx context.Context, userID string) ([]UserRoleGrant, error)
	HasActiveGrant(ctx context.Context, userID, roleID string) (bool, error)
}

// InviteStore persists invites.
type InviteStore interface {
	InsertInvite(ctx context.Context, invite *RoleInvite) error
	GetInvite(ctx context.Context, code string) (*RoleInvite, error)
	ListInvites(ctx context.Context, activeOnly bool) ([]RoleInvite, error)
	// ConsumeInvite atomically increments the use count of a redeemable invite
	// and deactivates it when exhausted. It returns nil without error when
	// the invite is absent, inactive, expired or exhausted.
	ConsumeInvite(ctx context.Context, code string, now time.Time) (*RoleInvite, error)
	DeactivateInvite(ctx context.Context, code string) error
	// DeactivateRoleInvites disables every active invite granting roleID and
	// returns their codes.
	DeactivateRoleInvites(ctx context.Context, roleID string) ([]string, error)
}

// TrustPolicy holds the thresholds used by the trust ledger.
type TrustPolicy struct {
	InitialScore   int
	WatchThreshold int
}

// TrustStore persists trust records.
type TrustStore interface {
	// GetTrust returns ErrNotFound when the user has no record yet.
	GetTrust(ctx context.Context, userID string) (*TrustRecord, error)
	// DecrementTrust atomically subtracts penalty, clamps at zero and escalates
	// containment, creating the record from policy defaults if needed. The
	// returned record carries the status the decrement started from.
	DecrementTrust(ctx context.Context, userID string, penalty int, policy TrustPolicy, now time.Time) (*TrustRecord, error)
	// ResetTrust sets the score and clears containment.
	ResetTrust(ctx context.Context, userID string, score int, now time.Time) (*TrustRecord, error)
}

// ShadowLogStore persists shadow log entries. Append-only.
type ShadowLogStore interface {
	InsertShadowEntry(ctx context.Context, entry *ShadowLogEntry) error
	ListShadowEntries(ctx context.Context, filter ShadowLogFilter) ([]ShadowLogEntry, error)
}

// AuditStore persists audit log entries. Append-only.
type AuditStore interface {
	InsertAudit(ctx context.Context, entry *AuditLogEntry) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error)
}

// Store is the full persistence contract used by Service.
type Store interface {
	RoleStore
	GrantStore
	InviteStore
	TrustStore
	ShadowLogStore
	AuditStore

	// InTx runs fn against a store bound to a single transaction.
	// Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// HealthMonitor defines the health monitoring interface
type HealthMonitor interface {
	Health(ctx context.Context) dbkit.HealthStatus
	IsHealthy(ctx context.Context) bool
	Ping(ctx context.Context) error
	GetPoolStats() dbkit.PoolStats
}

// PoolManager defines the connection pool management interface
type PoolManager interface {
	ConfigureConnectionPool(config PoolConfig) error
	GetConnectionPoolConfig() (*PoolConfig, error)
}

// PermissionCache stores resolved matrices for a bounded time.
// A miss always recomputes from the ledger.
type PermissionCache interface {
	Get(ctx context.Context, userID string) (PermissionMatrix, bool)
	Set(ctx context.Context, userID string, m PermissionMatrix)
	Invalidate(ctx context.Context, userID string)
	Purge(ctx context.Context)
}
