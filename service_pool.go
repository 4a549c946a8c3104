package trustkit

import (
	"fmt"
	"time"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConnections    int           `yaml:"max_open"`
	MaxIdleConnections    int           `yaml:"max_idle"`
	ConnectionMaxLifetime time.Duration `yaml:"max_lifetime"`
	ConnectionMaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// DefaultPoolConfig returns conservative settings for a single service instance.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections:    25,
		MaxIdleConnections:    5,
		ConnectionMaxLifetime: 30 * time.Minute,
		ConnectionMaxIdleTime: 5 * time.Minute,
	}
}

// Validate rejects settings the driver would silently misinterpret.
func (c PoolConfig) Validate() error {
	if c.MaxOpenConnections < 0 || c.MaxIdleConnections < 0 {
		return NewError(ErrInvalidInput, "pool sizes must not be negative")
	}
	if c.MaxOpenConnections > 0 && c.MaxIdleConnections > c.MaxOpenConnections {
		return NewError(ErrInvalidInput, "max idle connections exceeds max open connections")
	}
	return nil
}

var _ PoolManager = (*PostgresStore)(nil)

// ConfigureConnectionPool updates the database connection pool settings.
func (s *PostgresStore) ConfigureConnectionPool(config PoolConfig) error {
	if s.kit == nil {
		return fmt.Errorf("connection pool configuration requires a dbkit.DBKit instance")
	}
	if err := config.Validate(); err != nil {
		return err
	}
	bunDB := s.kit.Bun()
	if bunDB == nil {
		return fmt.Errorf("database instance not available")
	}

	bunDB.SetMaxOpenConns(config.MaxOpenConnections)
	bunDB.SetMaxIdleConns(config.MaxIdleConnections)
	bunDB.SetConnMaxLifetime(config.ConnectionMaxLifetime)
	bunDB.SetConnMaxIdleTime(config.ConnectionMaxIdleTime)
	s.pool = config
	return nil
}

// GetConnectionPoolConfig returns the settings last applied with
// ConfigureConnectionPool. MaxOpenConnections reflects the live pool.
func (s *PostgresStore) GetConnectionPoolConfig() (*PoolConfig, error) {
	if s.kit == nil {
		return nil, fmt.Errorf("connection pool configuration requires a dbkit.DBKit instance")
	}
	bunDB := s.kit.Bun()
	if bunDB == nil {
		return nil, fmt.Errorf("database instance not available")
	}

	config := s.pool
	config.MaxOpenConnections = bunDB.Stats().MaxOpenConnections
	return &config, nil
}
