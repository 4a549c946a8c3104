package trustkit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// AUDIT LOG
// ============================================================================

// GetAuditLog retrieves audit log entries with optional filters, newest first.
//
// Example:
//
//	entries, err := service.GetAuditLog(ctx, trustkit.NewAuditLogFilter().
//	    WithTargetUser(userID).
//	    WithAction(trustkit.AuditActionRoleAssigned))
func (s *Service) GetAuditLog(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error) {
	return s.store.ListAudit(ctx, filter)
}

// logAudit appends one audit entry enriched with request metadata from ctx.
// Failures are logged and counted but never returned: a lost audit write is
// an operational incident, not a failure of the audited call.
func (s *Service) logAudit(ctx context.Context, entry *AuditEntry) {
	GetAuditContext(ctx).apply(entry)
	now := s.now()
	if err := s.store.InsertAudit(ctx, entry.ToModel(newLogID(now), now)); err != nil {
		s.metrics.logWriteFailure("audit")
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":      entry.Action,
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"actor_id":    entry.PerformedBy,
		}).Error("audit log write failed")
	}
}
