package trustkit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/uptrace/bun"
)

// PostgresStore implements Store with bun queries over a dbkit connection.
//
// Error Handling:
// All database operations use dbkit's chainable error wrapping so failures
// carry the operation name. Missing rows map to ErrNotFound and unique
// violations map to ErrConflict.
type PostgresStore struct {
	db   bun.IDB
	kit  *dbkit.DBKit
	pool PoolConfig
}

// NewPostgresStore creates a store backed by a dbkit connection.
//
// Example:
//
//	kit, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	store := trustkit.NewPostgresStore(kit)
func NewPostgresStore(kit *dbkit.DBKit) *PostgresStore {
	return &PostgresStore{db: kit.Bun(), kit: kit}
}

// newPostgresStoreWithDB binds a store to any bun handle.
func newPostgresStoreWithDB(db bun.IDB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// InTx executes fn within a database transaction with automatic commit/rollback.
// If fn returns an error, the transaction is rolled back. When the store is
// already bound to a transaction, fn runs inside it.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, ok := s.db.(*bun.Tx); ok {
		return fn(ctx, s)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &PostgresStore{db: &tx, kit: s.kit})
	})
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || dbkit.IsNotFound(err)
}

// ============================================================================
// ROLES
// ============================================================================

func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	err := s.db.NewSelect().Model(&roles).Order("priority DESC", "name ASC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListRoles").Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *PostgresStore) GetRole(ctx context.Context, id string) (*Role, error) {
	var role Role
	err := s.db.NewSelect().Model(&role).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "role not found").WithRole(id)
		}
		return nil, dbkit.WithErr1(err, "GetRole").Err()
	}
	return &role, nil
}

func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.NewSelect().Model(&role).Where("name = ?", name).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "role not found: "+name)
		}
		return nil, dbkit.WithErr1(err, "GetRoleByName").Err()
	}
	return &role, nil
}

func (s *PostgresStore) GetRolesByIDs(ctx context.Context, ids []string) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var roles []Role
	err := s.db.NewSelect().Model(&roles).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	if err := dbkit.WithErr1(err, "GetRolesByIDs").Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *PostgresStore) InsertRole(ctx context.Context, role *Role) error {
	_, err := s.db.NewInsert().Model(role).Exec(ctx)
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrConflict, "role name already exists: "+role.Name)
		}
		return dbkit.WithErr1(err, "InsertRole").Err()
	}
	return nil
}

func (s *PostgresStore) UpdateRole(ctx context.Context, role *Role) error {
	result, err := s.db.NewUpdate().Model(role).
		Column("name", "display_name", "description", "priority", "is_active", "permissions", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrConflict, "role name already exists: "+role.Name)
		}
		return dbkit.WithErr(result, err, "UpdateRole").Err()
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrNotFound, "role not found").WithRole(role.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	result, err := s.db.NewDelete().Model((*Role)(nil)).Where("id = ?", id).Exec(ctx)
	if err := dbkit.WithErr(result, err, "DeleteRole").Err(); err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrNotFound, "role not found").WithRole(id)
	}
	return nil
}

// ============================================================================
// GRANTS
// ============================================================================

func (s *PostgresStore) InsertGrant(ctx context.Context, grant *UserRoleGrant) error {
	result, err := s.db.NewInsert().Model(grant).Exec(ctx)
	return dbkit.WithErr(result, err, "InsertGrant").Err()
}

func (s *PostgresStore) DeactivateGrants(ctx context.Context, userID, roleID string, at time.Time) (int, error) {
	result, err := s.db.NewUpdate().Model((*UserRoleGrant)(nil)).
		Set("is_active = FALSE").
		Set("revoked_at = ?", at).
		Where("user_id = ? AND role_id = ? AND is_active", userID, roleID).
		Exec(ctx)
	if err := dbkit.WithErr(result, err, "DeactivateGrants").Err(); err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) DeactivateRoleGrants(ctx context.Context, roleID string, at time.Time) ([]string, error) {
	var users []string
	err := s.db.NewUpdate().Model((*UserRoleGrant)(nil)).
		Set("is_active = FALSE").
		Set("revoked_at = ?", at).
		Where("role_id = ? AND is_active", roleID).
		Returning("user_id").
		Scan(ctx, &users)
	if err != nil && !isNoRows(err) {
		return nil, dbkit.WithErr1(err, "DeactivateRoleGrants").Err()
	}
	return dedupe(users), nil
}

func (s *PostgresStore) ListActiveGrants(ctx context.Context, userID string) ([]UserRoleGrant, error) {
	var grants []UserRoleGrant
	err := s.db.NewSelect().Model(&grants).
		Where("user_id = ? AND is_active", userID).
		Order("granted_at ASC").
		Scan(ctx)
	if err := dbkit.WithErr1(err, "ListActiveGrants").Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, userID string) ([]UserRoleGrant, error) {
	var grants []UserRoleGrant
	err := s.db.NewSelect().Model(&grants).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Scan(ctx)
	if err := dbkit.WithErr1(err, "ListGrants").Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

func (s *PostgresStore) HasActiveGrant(ctx context.Context, userID, roleID string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*UserRoleGrant)(nil)).
		Where("user_id = ? AND role_id = ? AND is_active", userID, roleID).
		Exists(ctx)
	if err := dbkit.WithErr1(err, "HasActiveGrant").Err(); err != nil {
		return false, err
	}
	return exists, nil
}

// ============================================================================
// INVITES
// ============================================================================

func (s *PostgresStore) InsertInvite(ctx context.Context, invite *RoleInvite) error {
	_, err := s.db.NewInsert().Model(invite).Exec(ctx)
	if err != nil {
		if dbkit.IsDuplicate(err) {
			return NewError(ErrConflict, "invite code already exists").WithCode(invite.Code)
		}
		return dbkit.WithErr1(err, "InsertInvite").Err()
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, code string) (*RoleInvite, error) {
	var invite RoleInvite
	err := s.db.NewSelect().Model(&invite).Where("code = ?", code).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrInviteNotFound, "invite not found").WithCode(code)
		}
		return nil, dbkit.WithErr1(err, "GetInvite").Err()
	}
	return &invite, nil
}

func (s *PostgresStore) ListInvites(ctx context.Context, activeOnly bool) ([]RoleInvite, error) {
	var invites []RoleInvite
	q := s.db.NewSelect().Model(&invites)
	if activeOnly {
		q = q.Where("is_active")
	}
	err := q.Order("created_at DESC", "code ASC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListInvites").Err(); err != nil {
		return nil, err
	}
	return invites, nil
}

// ConsumeInvite is a single conditional UPDATE so concurrent redemptions
// cannot push used_count past max_uses.
func (s *PostgresStore) ConsumeInvite(ctx context.Context, code string, now time.Time) (*RoleInvite, error) {
	var invite RoleInvite
	err := s.db.NewUpdate().Model(&invite).
		Set("used_count = used_count + 1").
		Set("last_used_at = ?", now).
		Set("is_active = (used_count + 1 < max_uses)").
		Where("code = ?", code).
		Where("is_active").
		Where("used_count < max_uses").
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, dbkit.WithErr1(err, "ConsumeInvite").Err()
	}
	return &invite, nil
}

func (s *PostgresStore) DeactivateInvite(ctx context.Context, code string) error {
	result, err := s.db.NewUpdate().Model((*RoleInvite)(nil)).
		Set("is_active = FALSE").
		Where("code = ?", code).
		Exec(ctx)
	if err := dbkit.WithErr(result, err, "DeactivateInvite").Err(); err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewError(ErrInviteNotFound, "invite not found").WithCode(code)
	}
	return nil
}

func (s *PostgresStore) DeactivateRoleInvites(ctx context.Context, roleID string) ([]string, error) {
	var codes []string
	err := s.db.NewUpdate().Model((*RoleInvite)(nil)).
		Set("is_active = FALSE").
		Where("role_id = ? AND is_active", roleID).
		Returning("code").
		Scan(ctx, &codes)
	if err != nil && !isNoRows(err) {
		return nil, dbkit.WithErr1(err, "DeactivateRoleInvites").Err()
	}
	return codes, nil
}

// ============================================================================
// TRUST
// ============================================================================

func (s *PostgresStore) GetTrust(ctx context.Context, userID string) (*TrustRecord, error) {
	var rec TrustRecord
	err := s.db.NewSelect().Model(&rec).Where("user_id = ?", userID).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, NewError(ErrNotFound, "trust record not found").WithUser(userID)
		}
		return nil, dbkit.WithErr1(err, "GetTrust").Err()
	}
	return &rec, nil
}

const ensureTrustSQL = `
INSERT INTO trust_records (user_id, trust_score, containment_status, violation_count, created_at, updated_at)
VALUES (?, ?, 'clear', 0, ?, ?)
ON CONFLICT (user_id) DO NOTHING`

const lockTrustSQL = `
SELECT user_id, trust_score, containment_status, violation_count, created_at, updated_at
FROM trust_records WHERE user_id = ? FOR UPDATE`

const updateTrustSQL = `
UPDATE trust_records
SET trust_score = ?, containment_status = ?, violation_count = violation_count + 1, updated_at = ?
WHERE user_id = ?`

// DecrementTrust creates the record if missing, then locks the row so the
// previous status and the new values come from the same serialized step.
func (s *PostgresStore) DecrementTrust(ctx context.Context, userID string, penalty int, policy TrustPolicy, now time.Time) (*TrustRecord, error) {
	var rec TrustRecord
	err := s.InTx(ctx, func(ctx context.Context, tx Store) error {
		db := tx.(*PostgresStore).db
		if _, err := db.NewRaw(ensureTrustSQL, userID, policy.InitialScore, now, now).Exec(ctx); err != nil {
			return dbkit.WithErr1(err, "DecrementTrust").Err()
		}
		if err := db.NewRaw(lockTrustSQL, userID).Scan(ctx, &rec); err != nil {
			return dbkit.WithErr1(err, "DecrementTrust").Err()
		}

		rec.PreviousStatus = rec.ContainmentStatus
		rec.TrustScore = ClampScore(rec.TrustScore - penalty)
		rec.ContainmentStatus = NextStatus(rec.ContainmentStatus, rec.TrustScore, policy.WatchThreshold)
		rec.ViolationCount++
		rec.UpdatedAt = now

		_, err := db.NewRaw(updateTrustSQL, rec.TrustScore, string(rec.ContainmentStatus), now, userID).Exec(ctx)
		return dbkit.WithErr1(err, "DecrementTrust").Err()
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ResetTrust(ctx context.Context, userID string, score int, now time.Time) (*TrustRecord, error) {
	rec := &TrustRecord{
		UserID:            userID,
		TrustScore:        score,
		ContainmentStatus: StatusClear,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := s.db.NewInsert().Model(rec).
		On("CONFLICT (user_id) DO UPDATE").
		Set("trust_score = EXCLUDED.trust_score").
		Set("containment_status = EXCLUDED.containment_status").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, dbkit.WithErr1(err, "ResetTrust").Err()
	}
	return rec, nil
}

// ============================================================================
// LOGS
// ============================================================================

func (s *PostgresStore) InsertShadowEntry(ctx context.Context, entry *ShadowLogEntry) error {
	result, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return dbkit.WithErr(result, err, "InsertShadowEntry").Err()
}

func (s *PostgresStore) ListShadowEntries(ctx context.Context, filter ShadowLogFilter) ([]ShadowLogEntry, error) {
	var entries []ShadowLogEntry
	q := s.db.NewSelect().Model(&entries)
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if filter.MinSeverity > 0 {
		q = q.Where("severity >= ?", filter.MinSeverity)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("created_at <= ?", filter.Until)
	}
	q = q.Limit(limitOrDefault(filter.Limit))
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	err := q.Order("id DESC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListShadowEntries").Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, entry *AuditLogEntry) error {
	result, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return dbkit.WithErr(result, err, "InsertAudit").Err()
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	var logs []AuditLogEntry
	q := s.db.NewSelect().Model(&logs)
	if filter.PerformedBy != "" {
		q = q.Where("performed_by = ?", filter.PerformedBy)
	}
	if filter.TargetUserID != "" {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.TargetRoleID != "" {
		q = q.Where("target_role_id = ?", filter.TargetRoleID)
	}
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}
	q = q.Limit(limitOrDefault(filter.Limit))
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	err := q.Order("id DESC").Scan(ctx)
	if err := dbkit.WithErr1(err, "ListAudit").Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
