package trustkit

import "time"

// DefaultListLimit caps log queries that do not set a limit.
const DefaultListLimit = 100

// AuditLogFilter provides options for filtering audit log queries.
type AuditLogFilter struct {
	// Filter by who performed the action
	PerformedBy string

	// Filter by target user or role of the action
	TargetUserID string
	TargetRoleID string

	// Filter by entity
	EntityType string
	EntityID   string

	// Filter by action type ("role.created", "invite.redeemed", ...)
	Action string

	// Filter by time range
	Since time.Time
	Until time.Time

	// Pagination
	Limit  int
	Offset int
}

// NewAuditLogFilter creates a new AuditLogFilter with default values.
func NewAuditLogFilter() AuditLogFilter {
	return AuditLogFilter{
		Limit: DefaultListLimit,
	}
}

// WithPerformer sets the performer filter.
func (f AuditLogFilter) WithPerformer(actorID string) AuditLogFilter {
	f.PerformedBy = actorID
	return f
}

// WithTargetUser sets the target user ID filter.
func (f AuditLogFilter) WithTargetUser(userID string) AuditLogFilter {
	f.TargetUserID = userID
	return f
}

// WithTargetRole sets the target role ID filter.
func (f AuditLogFilter) WithTargetRole(roleID string) AuditLogFilter {
	f.TargetRoleID = roleID
	return f
}

// WithEntity sets the entity filter.
func (f AuditLogFilter) WithEntity(entityType, entityID string) AuditLogFilter {
	f.EntityType = entityType
	f.EntityID = entityID
	return f
}

// WithAction sets the action filter.
func (f AuditLogFilter) WithAction(action AuditAction) AuditLogFilter {
	f.Action = string(action)
	return f
}

// WithTimeRange sets the time range filter.
func (f AuditLogFilter) WithTimeRange(since, until time.Time) AuditLogFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithPagination sets both limit and offset.
func (f AuditLogFilter) WithPagination(limit, offset int) AuditLogFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

// matches reports whether e passes every set filter field.
func (f AuditLogFilter) matches(e *AuditLogEntry) bool {
	switch {
	case f.PerformedBy != "" && e.PerformedBy != f.PerformedBy:
		return false
	case f.TargetUserID != "" && e.TargetUserID != f.TargetUserID:
		return false
	case f.TargetRoleID != "" && e.TargetRoleID != f.TargetRoleID:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && e.EntityID != f.EntityID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}

// ShadowLogFilter provides options for filtering shadow log queries.
type ShadowLogFilter struct {
	UserID      string
	Category    string
	MinSeverity int

	Since time.Time
	Until time.Time

	Limit  int
	Offset int
}

// NewShadowLogFilter creates a new ShadowLogFilter with default values.
func NewShadowLogFilter() ShadowLogFilter {
	return ShadowLogFilter{
		Limit: DefaultListLimit,
	}
}

// WithUser sets the user filter.
func (f ShadowLogFilter) WithUser(userID string) ShadowLogFilter {
	f.UserID = userID
	return f
}

// WithCategory sets the category filter.
func (f ShadowLogFilter) WithCategory(category string) ShadowLogFilter {
	f.Category = category
	return f
}

// WithMinSeverity keeps entries at or above severity.
func (f ShadowLogFilter) WithMinSeverity(severity int) ShadowLogFilter {
	f.MinSeverity = severity
	return f
}

// WithTimeRange sets the time range filter.
func (f ShadowLogFilter) WithTimeRange(since, until time.Time) ShadowLogFilter {
	f.Since = since
	f.Until = until
	return f
}

// WithPagination sets both limit and offset.
func (f ShadowLogFilter) WithPagination(limit, offset int) ShadowLogFilter {
	f.Limit = limit
	f.Offset = offset
	return f
}

func (f ShadowLogFilter) matches(e *ShadowLogEntry) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.Category != "" && e.Category != f.Category:
		return false
	case f.MinSeverity > 0 && e.Severity < f.MinSeverity:
		return false
	case !f.Since.IsZero() && e.CreatedAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.CreatedAt.After(f.Until):
		return false
	}
	return true
}

// limitOrDefault returns limit, or DefaultListLimit when unset.
func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// page applies offset and limit to n items and returns the slice bounds.
func page(n, limit, offset int) (int, int) {
	limit = limitOrDefault(limit)
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
