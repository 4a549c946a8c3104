package trustkit

import (
	"github.com/fernandezvara/dbkit"
)

// Migrations returns all database migrations required by PostgresStore.
// Use kit.Migrate(ctx, trustkit.Migrations()) to run them.
//
// Grant and invite rows keep their role_id after the role is deleted, so
// role_id carries no foreign key. Revoked grants and the audit log remain
// the history of who held what.
func Migrations() []dbkit.Migration {
	return []dbkit.Migration{
		{
			ID:          "trustkit-001",
			Description: "Create roles table",
			SQL: `
                CREATE TABLE IF NOT EXISTS roles (
                    id UUID PRIMARY KEY,
                    name TEXT NOT NULL UNIQUE,
                    display_name TEXT NOT NULL,
                    description TEXT NOT NULL DEFAULT '',
                    priority INTEGER NOT NULL DEFAULT 0,
                    is_system BOOLEAN NOT NULL DEFAULT FALSE,
                    is_active BOOLEAN NOT NULL DEFAULT TRUE,
                    permissions JSONB NOT NULL DEFAULT '{}'::jsonb,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "trustkit-002",
			Description: "Create user_role_grants table",
			SQL: `
                CREATE TABLE IF NOT EXISTS user_role_grants (
                    id UUID PRIMARY KEY,
                    user_id TEXT NOT NULL,
                    role_id UUID NOT NULL,
                    granted_by TEXT NOT NULL,
                    granted_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    context TEXT NOT NULL DEFAULT '',
                    is_active BOOLEAN NOT NULL DEFAULT TRUE,
                    revoked_at TIMESTAMPTZ
                )`,
		},
		{
			ID:          "trustkit-003",
			Description: "Create role_invites table",
			SQL: `
                CREATE TABLE IF NOT EXISTS role_invites (
                    id UUID PRIMARY KEY,
                    code TEXT NOT NULL UNIQUE,
                    role_id UUID,
                    email TEXT,
                    max_uses INTEGER NOT NULL CHECK (max_uses > 0),
                    used_count INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0 AND used_count <= max_uses),
                    expires_at TIMESTAMPTZ,
                    is_active BOOLEAN NOT NULL DEFAULT TRUE,
                    welcome_message TEXT NOT NULL DEFAULT '',
                    created_by TEXT NOT NULL,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    last_used_at TIMESTAMPTZ
                )`,
		},
		{
			ID:          "trustkit-004",
			Description: "Create trust_records table",
			SQL: `
                CREATE TABLE IF NOT EXISTS trust_records (
                    user_id TEXT PRIMARY KEY,
                    trust_score INTEGER NOT NULL CHECK (trust_score >= 0),
                    containment_status TEXT NOT NULL DEFAULT 'clear'
                        CHECK (containment_status IN ('clear', 'watched', 'walled')),
                    violation_count INTEGER NOT NULL DEFAULT 0,
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    updated_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "trustkit-005",
			Description: "Create shadow_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS shadow_log (
                    id TEXT PRIMARY KEY,
                    user_id TEXT NOT NULL,
                    category TEXT NOT NULL,
                    content_hash TEXT NOT NULL,
                    preview TEXT NOT NULL,
                    context TEXT NOT NULL DEFAULT '',
                    severity INTEGER NOT NULL,
                    penalty INTEGER NOT NULL,
                    ip_address TEXT NOT NULL DEFAULT '',
                    user_agent TEXT NOT NULL DEFAULT '',
                    request_id TEXT NOT NULL DEFAULT '',
                    created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp
                )`,
		},
		{
			ID:          "trustkit-006",
			Description: "Create audit_log table",
			SQL: `
                CREATE TABLE IF NOT EXISTS audit_log (
                    id TEXT PRIMARY KEY,
                    timestamp TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
                    action TEXT NOT NULL,
                    entity_type TEXT NOT NULL,
                    entity_id TEXT NOT NULL,
                    performed_by TEXT NOT NULL,
                    target_user_id TEXT NOT NULL DEFAULT '',
                    target_role_id TEXT NOT NULL DEFAULT '',
                    previous_value JSONB,
                    new_value JSONB,
                    ip_address TEXT NOT NULL DEFAULT '',
                    user_agent TEXT NOT NULL DEFAULT '',
                    request_id TEXT NOT NULL DEFAULT ''
                )`,
		},
		{
			ID:          "trustkit-007",
			Description: "Create grant and invite indexes",
			SQL: `
                CREATE INDEX IF NOT EXISTS idx_user_role_grants_user_active
                    ON user_role_grants(user_id) WHERE is_active;
                CREATE INDEX IF NOT EXISTS idx_user_role_grants_role_active
                    ON user_role_grants(role_id) WHERE is_active;
                CREATE INDEX IF NOT EXISTS idx_role_invites_active
                    ON role_invites(created_at DESC) WHERE is_active;
            `,
		},
		{
			ID:          "trustkit-008",
			Description: "Create log indexes",
			SQL: `
                CREATE INDEX IF NOT EXISTS idx_shadow_log_user ON shadow_log(user_id, id DESC);
                CREATE INDEX IF NOT EXISTS idx_shadow_log_category ON shadow_log(category, id DESC);
                CREATE INDEX IF NOT EXISTS idx_audit_log_performed_by ON audit_log(performed_by, id DESC);
                CREATE INDEX IF NOT EXISTS idx_audit_log_target_user ON audit_log(target_user_id, id DESC);
                CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id);
                CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp DESC);
            `,
		},
	}
}
