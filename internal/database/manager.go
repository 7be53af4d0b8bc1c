// Package database coordinates the relayer's stores: the PostgreSQL
// verification ledger, the Redis result cache, and InfluxDB metrics.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"time"

	"github.com/bardlex/gospv/internal/database/influx"
	"github.com/bardlex/gospv/internal/database/postgres"
	"github.com/bardlex/gospv/internal/database/redis"
	"github.com/bardlex/gospv/pkg/circuit"
	"github.com/bardlex/gospv/pkg/errors"
	"github.com/bardlex/gospv/pkg/log"
	"github.com/bardlex/gospv/pkg/retry"
)

const (
	counterTTL        = 48 * time.Hour
	influxFlushPeriod = 10 * time.Second
	statsPeriod       = time.Minute
	prunePeriod       = time.Hour
)

type verificationStore interface {
	CreateVerification(ctx context.Context, v *postgres.ProofVerification) error
	CountByStatus(ctx context.Context, since time.Time) (*postgres.VerificationStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type resultCache interface {
	SetCache(ctx context.Context, key string, data any, expiration time.Duration) error
	GetCache(ctx context.Context, key string, dest any) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

type metricsWriter interface {
	WriteVerificationMetric(status, errorType string, required, confirmations int, duration time.Duration)
	WritePendingMetric(pending int, expired int64)
	WriteSystemMetric(service string, memoryUsage float64, goroutines int64)
	GetVerificationStats(ctx context.Context, duration time.Duration) (*influx.VerificationStats, error)
	Flush()
}

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Verifications *postgres.VerificationRepository

	store   verificationStore
	cache   resultCache
	metrics metricsWriter
	logger  *log.Logger

	// Ledger rows older than this are pruned; zero keeps everything.
	retention time.Duration

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Postgres  *postgres.Config
	Redis     *redis.Config
	Influx    *influx.Config
	Retention time.Duration
}

// NewManager creates a new database manager with all connections and applies
// the ledger schema.
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pgClient.Migrate(ctx); err != nil {
		_ = pgClient.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migrate",
			"failed to apply verification ledger schema")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
		if closeErr := pgClient.Close(); closeErr != nil {
			return nil, origErr.WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, origErr
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	verifications := postgres.NewVerificationRepository(pgClient.DB())

	m := newManager(verifications, redisClient, influxClient, logger)
	m.Postgres = pgClient
	m.Redis = redisClient
	m.Influx = influxClient
	m.Verifications = verifications
	m.retention = cfg.Retention
	return m, nil
}

func newManager(store verificationStore, cache resultCache, metrics metricsWriter, logger *log.Logger) *Manager {
	logger = logger.WithComponent("database")

	cbConfig := &circuit.Config{
		Name:            "postgres",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Manager{
		store:          store,
		cache:          cache,
		metrics:        metrics,
		logger:         logger,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	return stderrors.Join(errs...)
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RecordVerification stores a terminal outcome in the ledger, then records
// metrics and counters. Only the ledger write can fail the call.
func (m *Manager) RecordVerification(ctx context.Context, v *postgres.ProofVerification) error {
	err := m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.store.CreateVerification(ctx, v); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_verification",
					"failed to store verification in PostgreSQL").
					WithContext("request_id", v.RequestID).
					WithContext("tx_hash", v.TxHash).
					WithContext("status", v.Status)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	errorType := ""
	if v.ErrorType != nil {
		errorType = *v.ErrorType
	}
	duration := time.Duration(v.ProcessingTimeMs * float64(time.Millisecond))
	m.metrics.WriteVerificationMetric(v.Status, errorType, v.RequiredConfirmations, v.Confirmations, duration)

	if _, err := m.cache.IncrementCounter(ctx, redis.CounterKey(v.Status, v.CreatedAt), counterTTL); err != nil {
		m.logger.WithError(err).Warn("failed to update verification counter (non-critical)",
			"status", v.Status)
	}

	return nil
}

// CacheResult stores a result under key for ttl. Failures are logged, never
// returned: the cache only saves work.
func (m *Manager) CacheResult(ctx context.Context, key string, result any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := m.cache.SetCache(ctx, key, result, ttl); err != nil {
		m.logger.WithError(err).Warn("failed to cache result (non-critical)", "key", key)
	}
}

// CachedResult loads a cached result into dest and reports whether one was
// found. Cache errors are treated as a miss.
func (m *Manager) CachedResult(ctx context.Context, key string, dest any) bool {
	err := m.cache.GetCache(ctx, key, dest)
	switch {
	case err == nil:
		return true
	case stderrors.Is(err, redis.ErrCacheMiss):
		return false
	default:
		m.logger.WithError(err).Warn("cache lookup failed, treating as miss", "key", key)
		return false
	}
}

// ClaimRequest marks key as in flight. It reports false when another worker
// already holds it. A cache outage never blocks verification.
func (m *Manager) ClaimRequest(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := m.cache.TryLock(ctx, key, ttl)
	if err != nil {
		m.logger.WithError(err).Warn("failed to claim request, proceeding unclaimed", "key", key)
		return true
	}
	return ok
}

// ReleaseRequest releases a claim taken with ClaimRequest.
func (m *Manager) ReleaseRequest(ctx context.Context, key string) {
	if err := m.cache.Unlock(ctx, key); err != nil {
		m.logger.WithError(err).Warn("failed to release request claim", "key", key)
	}
}

// RecordPending records the size of the pending set and expirations so far.
func (m *Manager) RecordPending(pending int, expired int64) {
	m.metrics.WritePendingMetric(pending, expired)
}

// Stats returns ledger outcome counts since the given time.
func (m *Manager) Stats(ctx context.Context, since time.Time) (*postgres.VerificationStats, error) {
	stats, err := m.store.CountByStatus(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "verification_stats",
			"failed to count verifications")
	}
	return stats, nil
}

// Prune deletes ledger rows older than the retention window.
func (m *Manager) Prune(ctx context.Context, now time.Time) (int64, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	removed, err := m.store.DeleteOlderThan(ctx, now.Add(-m.retention))
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeDatabase, "prune_verifications",
			"failed to prune verification ledger")
	}
	return removed, nil
}

func (m *Manager) reportStats(ctx context.Context, now time.Time) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.metrics.WriteSystemMetric(m.logger.Service(), float64(mem.Alloc)/(1<<20), int64(runtime.NumGoroutine()))

	stats, err := m.Stats(ctx, now.Add(-time.Hour))
	if err != nil {
		m.logger.WithError(err).Warn("failed to get verification stats")
		return
	}

	fields := []any{"window", "1h", "total", stats.Total, "by_status", stats.ByStatus}
	if series, err := m.metrics.GetVerificationStats(ctx, time.Hour); err == nil {
		fields = append(fields, "verified_percent", series.VerifiedPercent)
	} else {
		m.logger.WithError(err).Debug("failed to query verification metrics")
	}
	m.logger.Info("verification stats", fields...)
}

// StartPeriodicTasks starts background tasks for database maintenance
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(influxFlushPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.metrics.Flush()
			}
		}
	}()

	// Log hourly outcome totals and write system metrics every minute
	go func() {
		ticker := time.NewTicker(statsPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.reportStats(ctx, now)
			}
		}
	}()

	if m.retention <= 0 {
		return
	}

	// Prune the ledger every hour
	go func() {
		ticker := time.NewTicker(prunePeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := m.Prune(ctx, now)
				if err != nil {
					m.logger.WithError(err).Warn("failed to prune verification ledger")
					continue
				}
				if removed > 0 {
					m.logger.Info("pruned verification ledger", "removed", removed)
				}
			}
		}
	}()
}
