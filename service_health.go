package trustkit

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

var _ HealthMonitor = (*PostgresStore)(nil)

// Health performs a comprehensive health check of the database connection.
// Returns detailed status including latency, connection pool statistics, and error information.
func (s *PostgresStore) Health(ctx context.Context) dbkit.HealthStatus {
	if s.kit != nil {
		return s.kit.Health(ctx)
	}
	return dbkit.HealthStatus{
		Healthy: s.IsHealthy(ctx),
		Error:   "limited health check: store not bound to a dbkit instance",
	}
}

// IsHealthy reports whether the database is reachable.
func (s *PostgresStore) IsHealthy(ctx context.Context) bool {
	if s.kit != nil {
		return s.kit.IsHealthy(ctx)
	}
	return s.Ping(ctx) == nil
}

// GetPoolStats returns connection pool statistics for monitoring.
// Returns zero values when the store is not bound to a dbkit instance.
func (s *PostgresStore) GetPoolStats() dbkit.PoolStats {
	if s.kit == nil {
		return dbkit.PoolStats{}
	}
	return dbkit.PoolStatsFromSQL(s.kit.Stats())
}

// Ping runs a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var result int
	return s.db.NewRaw("SELECT 1").Scan(ctx, &result)
}

// Health reports the backing store's health. Stores that cannot report it,
// such as MemoryStore, are always healthy.
func (s *Service) Health(ctx context.Context) dbkit.HealthStatus {
	if hm, ok := s.store.(HealthMonitor); ok {
		return hm.Health(ctx)
	}
	return dbkit.HealthStatus{Healthy: true}
}
