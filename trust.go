package trustkit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Default trust ledger parameters.
const (
	DefaultInitialScore   = 100
	DefaultWatchThreshold = 30
	DefaultPenalty        = 25
)

// TrustConfig holds the score thresholds and penalty table.
type TrustConfig struct {
	InitialScore   int            `yaml:"initial_score"`
	WatchThreshold int            `yaml:"watch_threshold"`
	DefaultPenalty int            `yaml:"default_penalty"`
	Penalties      map[string]int `yaml:"penalties"`
}

// DefaultTrustConfig returns the built-in thresholds and penalties.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		InitialScore:   DefaultInitialScore,
		WatchThreshold: DefaultWatchThreshold,
		DefaultPenalty: DefaultPenalty,
		Penalties: map[string]int{
			CategoryChildSafety: 100,
			CategoryCruelty:     50,
			CategoryViolence:    30,
		},
	}
}

// Penalty returns the configured penalty for category, or the default.
func (c TrustConfig) Penalty(category string) int {
	if p, ok := c.Penalties[category]; ok {
		return p
	}
	return c.DefaultPenalty
}

// Policy returns the thresholds used by the store.
func (c TrustConfig) Policy() TrustPolicy {
	return TrustPolicy{InitialScore: c.InitialScore, WatchThreshold: c.WatchThreshold}
}

// Validate checks the thresholds are usable.
func (c TrustConfig) Validate() error {
	if c.InitialScore <= 0 {
		return NewError(ErrInvalidInput, "trust.initial_score must be positive")
	}
	if c.WatchThreshold < 0 || c.WatchThreshold >= c.InitialScore {
		return NewError(ErrInvalidInput, "trust.watch_threshold must be in [0, initial_score)")
	}
	if c.DefaultPenalty <= 0 {
		return NewError(ErrInvalidInput, "trust.default_penalty must be positive")
	}
	for category, p := range c.Penalties {
		if p <= 0 {
			return NewError(ErrInvalidInput, fmt.Sprintf("trust.penalties.%s must be positive", category))
		}
	}
	return nil
}

// ClampScore applies the zero floor.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	return score
}

// NextStatus returns the containment status after a violation leaves the
// score at newScore. Status only escalates: walled at or below zero, watched
// at or below the threshold when currently clear, otherwise unchanged.
func NextStatus(current ContainmentStatus, newScore, watchThreshold int) ContainmentStatus {
	if current == "" {
		current = StatusClear
	}
	switch {
	case newScore <= 0:
		return StatusWalled
	case newScore <= watchThreshold && current == StatusClear:
		return StatusWatched
	default:
		return current
	}
}

// ============================================================================
// TRUST LEDGER
// ============================================================================

// GetTrust returns the user's record, or the implicit default record when
// none has been written yet.
func (s *Service) GetTrust(ctx context.Context, userID string) (*TrustRecord, error) {
	rec, err := s.store.GetTrust(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return &TrustRecord{
				UserID:            userID,
				TrustScore:        s.trust.InitialScore,
				ContainmentStatus: StatusClear,
			}, nil
		}
		return nil, err
	}
	return rec, nil
}

// IsContained reports whether the user is walled.
func (s *Service) IsContained(ctx context.Context, userID string) (bool, error) {
	rec, err := s.GetTrust(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.IsContained(), nil
}

// ApplyViolation subtracts the category penalty from the user's score and
// escalates containment. The subtraction is evaluated by the store so
// concurrent violations are never lost. The severity hint is not used to
// size the penalty.
func (s *Service) ApplyViolation(ctx context.Context, userID, category string, severityHint int) (*TrustRecord, error) {
	penalty := s.trust.Penalty(category)
	rec, err := s.store.DecrementTrust(ctx, userID, penalty, s.trust.Policy(), s.now())
	if err != nil {
		return nil, err
	}

	s.metrics.violation(category)
	if rec.PreviousStatus != rec.ContainmentStatus {
		s.metrics.containment(rec.PreviousStatus, rec.ContainmentStatus)
		s.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"category": category,
			"severity": severityHint,
			"from":     rec.PreviousStatus,
			"status":   rec.ContainmentStatus,
		}).Warn("containment status escalated")
	}
	return rec, nil
}

// ResetTrust restores a user's score to the initial value and clears
// containment. This is the only path back from watched or walled.
func (s *Service) ResetTrust(ctx context.Context, userID, reason string) (*TrustRecord, error) {
	actorID := GetActorID(ctx)
	if actorID == "" {
		return nil, NewError(ErrNoActorID, "actor ID required for trust reset")
	}

	before, err := s.GetTrust(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.ResetTrust(ctx, userID, s.trust.InitialScore, s.now())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, &AuditEntry{
		Action:       AuditActionTrustReset,
		EntityType:   EntityTrust,
		EntityID:     userID,
		PerformedBy:  actorID,
		TargetUserID: userID,
		PreviousValue: map[string]any{
			"trust_score":        before.TrustScore,
			"containment_status": before.ContainmentStatus,
		},
		NewValue: map[string]any{
			"trust_score":        rec.TrustScore,
			"containment_status": rec.ContainmentStatus,
			"reason":             reason,
		},
	})
	return rec, nil
}
