package trustkit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Service provides role management, permission resolution and the content
// trust gate on top of a Store.
//
// Error Handling:
// Store failures are returned wrapped with the operation name (see dbkit's
// chainable error wrapping in PostgresStore). Domain failures use the
// sentinels in errors.go and can be classified with errors.Is:
//
//	err := service.RedeemInvite(ctx, code, userID, email)
//	switch {
//	case errors.Is(err, trustkit.ErrInviteExhausted):
//	    // no uses left
//	case trustkit.IsNotFound(err):
//	    // unknown, inactive or expired code
//	}
type Service struct {
	store    Store
	registry *Registry
	cache    PermissionCache
	screen   *Screen
	metrics  *Metrics
	log      *logrus.Logger
	now      func() time.Time

	trust            TrustConfig
	superusers       []string
	inviteCodeLength int
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry sets the seed role definitions. Defaults to DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithCache sets the permission cache. Defaults to no caching.
func WithCache(c PermissionCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithScreen sets the content screen. Defaults to DefaultRules in most-severe mode.
func WithScreen(screen *Screen) Option {
	return func(s *Service) { s.screen = screen }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to logrus.New().
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTrustConfig sets the score thresholds and penalty table.
func WithTrustConfig(cfg TrustConfig) Option {
	return func(s *Service) { s.trust = cfg }
}

// WithSuperusers sets the principals granted the superuser role by Seed.
func WithSuperusers(userIDs ...string) Option {
	return func(s *Service) { s.superusers = append([]string(nil), userIDs...) }
}

// WithInviteCodeLength sets the generated invite code length.
func WithInviteCodeLength(n int) Option {
	return func(s *Service) { s.inviteCodeLength = n }
}

// NewService creates a new TrustKit service.
//
// Example:
//
//	kit, _ := dbkit.New(dbkit.Config{URL: "postgres://..."})
//	service := trustkit.NewService(trustkit.NewPostgresStore(kit),
//	    trustkit.WithSuperusers("root-user-id"),
//	    trustkit.WithCache(trustkit.NewLRUCache(10000, 30*time.Second)),
//	)
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:            store,
		registry:         DefaultRegistry(),
		screen:           NewScreen(ScreenModeMostSevere, nil),
		now:              time.Now,
		trust:            DefaultTrustConfig(),
		inviteCodeLength: DefaultInviteCodeLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	return s
}

// Registry returns the seed role registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// Transaction runs fn with a Service bound to one store transaction.
// If fn returns an error, the transaction is rolled back.
//
// Example:
//
//	err := service.Transaction(ctx, func(ctx context.Context, tx *trustkit.Service) error {
//	    if _, err := tx.AssignRole(ctx, "user1", adminID, "promotion"); err != nil {
//	        return err // This will cause a rollback
//	    }
//	    return tx.RevokeRole(ctx, "user1", memberID)
//	})
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Service) error) error {
	start := time.Now()
	err := s.store.InTx(ctx, func(ctx context.Context, store Store) error {
		return fn(ctx, s.withStore(store))
	})
	s.metrics.recordTransaction(time.Since(start), err == nil)
	return err
}

// withStore returns a shallow copy of s bound to store.
func (s *Service) withStore(store Store) *Service {
	c := *s
	c.store = store
	return &c
}
