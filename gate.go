package trustkit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// BlockedReason is the only reason ever reported to a blocked user.
const BlockedReason = "content not permitted"

// GuardResult is the outcome of Guard. Reason never reveals category,
// severity or trust score.
type GuardResult struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// Err returns ErrBlocked for a blocked result.
func (r GuardResult) Err() error {
	if r.Blocked {
		return ErrBlocked
	}
	return nil
}

var (
	allowed = GuardResult{}
	blocked = GuardResult{Blocked: true, Reason: BlockedReason}
)

// Guard gates user-submitted content. A contained account is blocked without
// screening. Clean content passes. Harmful content is recorded in the shadow
// log, penalized on the trust ledger and blocked. Guard fails closed: any
// error while checking containment or applying the penalty blocks.
//
// Example:
//
//	res := service.Guard(ctx, userID, message, "chat.message", trustkit.RequestMetaFromContext(ctx))
//	if res.Blocked {
//	    http.Error(w, res.Reason, http.StatusUnprocessableEntity)
//	    return
//	}
func (s *Service) Guard(ctx context.Context, userID, content, label string, meta RequestMeta) GuardResult {
	fields := logrus.Fields{"user_id": userID, "context": label, "request_id": meta.RequestID}

	contained, err := s.IsContained(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithFields(fields).Error("containment check failed, blocking")
		s.metrics.guardDecision("error")
		return blocked
	}
	if contained {
		s.metrics.guardDecision("contained")
		return blocked
	}

	verdict := s.screen.Screen(content)
	if !verdict.IsHarmful {
		s.metrics.guardDecision("allowed")
		return allowed
	}

	fields["category"] = verdict.Category
	fields["severity"] = verdict.Severity
	penalty := s.trust.Penalty(verdict.Category)

	if _, err := s.RecordShadowEntry(ctx, ShadowRecord{
		UserID:   userID,
		Content:  content,
		Category: verdict.Category,
		Context:  label,
		Severity: verdict.Severity,
		Penalty:  penalty,
		Meta:     meta,
	}); err != nil {
		s.metrics.logWriteFailure("shadow")
		s.log.WithError(err).WithFields(fields).Error("shadow log write failed")
	}

	if _, err := s.ApplyViolation(ctx, userID, verdict.Category, verdict.Severity); err != nil {
		s.log.WithError(err).WithFields(fields).Error("trust ledger write failed, blocking")
		s.metrics.guardDecision("error")
		return blocked
	}

	s.log.WithFields(fields).Warn("content blocked")
	s.metrics.guardDecision("blocked")
	return blocked
}
