package trustkit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Every method holds a single mutex, so
// the conditional updates behind ConsumeInvite and DecrementTrust are atomic
// in the same way their SQL counterparts are.
//
// InTx does not roll back: when a step inside a Service transaction fails,
// writes made by earlier steps remain. Use PostgresStore where that matters.
type MemoryStore struct {
	mu      sync.Mutex
	roles   map[string]*Role
	grants  []*UserRoleGrant
	invites map[string]*RoleInvite
	trust   map[string]*TrustRecord
	shadow  []*ShadowLogEntry
	audit   []*AuditLogEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:   make(map[string]*Role),
		invites: make(map[string]*RoleInvite),
		trust:   make(map[string]*TrustRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

// InTx runs fn directly. Individual methods are atomic; multi-step sequences
// are neither isolated from concurrent callers nor rolled back on error.
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

// ============================================================================
// ROLES
// ============================================================================

func (m *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) GetRole(ctx context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[id]
	if !ok {
		return nil, NewError(ErrNotFound, "role not found").WithRole(id)
	}
	c := cloneRole(r)
	return &c, nil
}

func (m *MemoryStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == name {
			c := cloneRole(r)
			return &c, nil
		}
	}
	return nil, NewError(ErrNotFound, "role not found: "+name)
}

func (m *MemoryStore) GetRolesByIDs(ctx context.Context, ids []string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Role, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r, ok := m.roles[id]; ok {
			out = append(out, cloneRole(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == role.Name {
			return NewError(ErrConflict, "role name already exists: "+role.Name)
		}
	}
	c := cloneRole(role)
	m.roles[role.ID] = &c
	return nil
}

func (m *MemoryStore) UpdateRole(ctx context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[role.ID]; !ok {
		return NewError(ErrNotFound, "role not found").WithRole(role.ID)
	}
	for id, r := range m.roles {
		if id != role.ID && r.Name == role.Name {
			return NewError(ErrConflict, "role name already exists: "+role.Name)
		}
	}
	c := cloneRole(role)
	m.roles[role.ID] = &c
	return nil
}

func (m *MemoryStore) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[id]; !ok {
		return NewError(ErrNotFound, "role not found").WithRole(id)
	}
	delete(m.roles, id)
	return nil
}

func cloneRole(r *Role) Role {
	c := *r
	c.Permissions = r.Permissions.Clone()
	return c
}

// ============================================================================
// GRANTS
// ============================================================================

func (m *MemoryStore) InsertGrant(ctx context.Context, grant *UserRoleGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *grant
	m.grants = append(m.grants, &c)
	return nil
}

func (m *MemoryStore) DeactivateGrants(ctx context.Context, userID, roleID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, g := range m.grants {
		if g.IsActive && g.UserID == userID && g.RoleID == roleID {
			g.IsActive = false
			revoked := at
			g.RevokedAt = &revoked
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeactivateRoleGrants(ctx context.Context, roleID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []string
	seen := make(map[string]bool)
	for _, g := range m.grants {
		if g.IsActive && g.RoleID == roleID {
			g.IsActive = false
			revoked := at
			g.RevokedAt = &revoked
			if !seen[g.UserID] {
				seen[g.UserID] = true
				users = append(users, g.UserID)
			}
		}
	}
	return users, nil
}

func (m *MemoryStore) ListActiveGrants(ctx context.Context, userID string) ([]UserRoleGrant, error) {
	return m.listGrants(userID, true), nil
}

func (m *MemoryStore) ListGrants(ctx context.Context, userID string) ([]UserRoleGrant, error) {
	return m.listGrants(userID, false), nil
}

func (m *MemoryStore) listGrants(userID string, activeOnly bool) []UserRoleGrant {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []UserRoleGrant
	for _, g := range m.grants {
		if g.UserID != userID || (activeOnly && !g.IsActive) {
			continue
		}
		out = append(out, *g)
	}
	return out
}

func (m *MemoryStore) HasActiveGrant(ctx context.Context, userID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.grants {
		if g.IsActive && g.UserID == userID && g.RoleID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// ============================================================================
// INVITES
// ============================================================================

func (m *MemoryStore) InsertInvite(ctx context.Context, invite *RoleInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.invites[invite.Code]; exists {
		return NewError(ErrConflict, "invite code already exists").WithCode(invite.Code)
	}
	c := *invite
	m.invites[invite.Code] = &c
	return nil
}

func (m *MemoryStore) GetInvite(ctx context.Context, code string) (*RoleInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[code]
	if !ok {
		return nil, NewError(ErrInviteNotFound, "invite not found").WithCode(code)
	}
	c := *inv
	return &c, nil
}

func (m *MemoryStore) ListInvites(ctx context.Context, activeOnly bool) ([]RoleInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RoleInvite, 0, len(m.invites))
	for _, inv := range m.invites {
		if activeOnly && !inv.IsActive {
			continue
		}
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *MemoryStore) ConsumeInvite(ctx context.Context, code string, now time.Time) (*RoleInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[code]
	if !ok || !inv.IsActive || inv.UsedCount >= inv.MaxUses || inv.Expired(now) {
		return nil, nil
	}
	inv.UsedCount++
	used := now
	inv.LastUsedAt = &used
	inv.IsActive = inv.UsedCount < inv.MaxUses
	c := *inv
	return &c, nil
}

func (m *MemoryStore) DeactivateInvite(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[code]
	if !ok {
		return NewError(ErrInviteNotFound, "invite not found").WithCode(code)
	}
	inv.IsActive = false
	return nil
}

func (m *MemoryStore) DeactivateRoleInvites(ctx context.Context, roleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var codes []string
	for code, inv := range m.invites {
		if inv.IsActive && inv.RoleID == roleID {
			inv.IsActive = false
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// ============================================================================
// TRUST
// ============================================================================

func (m *MemoryStore) GetTrust(ctx context.Context, userID string) (*TrustRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.trust[userID]
	if !ok {
		return nil, NewError(ErrNotFound, "trust record not found").WithUser(userID)
	}
	c := *rec
	return &c, nil
}

func (m *MemoryStore) DecrementTrust(ctx context.Context, userID string, penalty int, policy TrustPolicy, now time.Time) (*TrustRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.trust[userID]
	if !ok {
		rec = &TrustRecord{
			UserID:            userID,
			TrustScore:        policy.InitialScore,
			ContainmentStatus: StatusClear,
			CreatedAt:         now,
		}
		m.trust[userID] = rec
	}
	prev := rec.ContainmentStatus
	rec.TrustScore = ClampScore(rec.TrustScore - penalty)
	rec.ContainmentStatus = NextStatus(rec.ContainmentStatus, rec.TrustScore, policy.WatchThreshold)
	rec.ViolationCount++
	rec.UpdatedAt = now
	c := *rec
	c.PreviousStatus = prev
	return &c, nil
}

func (m *MemoryStore) ResetTrust(ctx context.Context, userID string, score int, now time.Time) (*TrustRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.trust[userID]
	if !ok {
		rec = &TrustRecord{UserID: userID, CreatedAt: now}
		m.trust[userID] = rec
	}
	rec.TrustScore = score
	rec.ContainmentStatus = StatusClear
	rec.UpdatedAt = now
	c := *rec
	return &c, nil
}

// ============================================================================
// LOGS
// ============================================================================

func (m *MemoryStore) InsertShadowEntry(ctx context.Context, entry *ShadowLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	m.shadow = append(m.shadow, &c)
	return nil
}

func (m *MemoryStore) ListShadowEntries(ctx context.Context, filter ShadowLogFilter) ([]ShadowLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []ShadowLogEntry
	for i := len(m.shadow) - 1; i >= 0; i-- {
		if filter.matches(m.shadow[i]) {
			matched = append(matched, *m.shadow[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return strings.Compare(matched[i].ID, matched[j].ID) > 0
	})
	start, end := page(len(matched), filter.Limit, filter.Offset)
	return matched[start:end], nil
}

func (m *MemoryStore) InsertAudit(ctx context.Context, entry *AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	m.audit = append(m.audit, &c)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []AuditLogEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if filter.matches(m.audit[i]) {
			matched = append(matched, *m.audit[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return strings.Compare(matched[i].ID, matched[j].ID) > 0
	})
	start, end := page(len(matched), filter.Limit, filter.Offset)
	return matched[start:end], nil
}
