// Package database coordinates solution and verification storage across
// PostgreSQL, Redis and InfluxDB.
package database

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/bardlex/lifpow/internal/database/influx"
	"github.com/bardlex/lifpow/internal/database/postgres"
	"github.com/bardlex/lifpow/internal/database/redis"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/pkg/circuit"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
	"github.com/bardlex/lifpow/pkg/retry"
)

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Solutions     *postgres.SolutionRepository
	Verifications *postgres.VerificationRepository

	logger *log.Logger

	breaker *circuit.Breaker
	retrier *retry.Retrier
}

// Config holds configuration for all database systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections and
// applies the PostgreSQL schema.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}
	if err := pgClient.Migrate(ctx); err != nil {
		_ = pgClient.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_migrate",
			"failed to apply PostgreSQL schema")
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
		if closeErr := pgClient.Close(); closeErr != nil {
			return nil, origErr.WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, origErr
	}

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

	logger = logger.WithComponent("database")
	breaker := circuit.New(circuit.Config{
		Name:            "postgres",
		MaxFailures:     3,
		SuccessRequired: 2,
		Cooldown:        30 * time.Second,
		FailureWindow:   60 * time.Second,
	}, logger)

	return &Manager{
		Postgres:      pgClient,
		Redis:         redisClient,
		Influx:        influxClient,
		Solutions:     postgres.NewSolutionRepository(pgClient.DB()),
		Verifications: postgres.NewVerificationRepository(pgClient.DB()),
		logger:        logger,
		breaker:       breaker,
		retrier:       retry.New(retry.StorePolicy, logger),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RecordSolution stores a found solution. PostgreSQL is authoritative; the
// Influx metric and Redis counters are best effort.
func (m *Manager) RecordSolution(ctx context.Context, s *postgres.Solution) error {
	return m.breaker.Execute(ctx, func() error {
		return m.retrier.Do(ctx, "record_solution", func() error {
			if err := m.Solutions.CreateSolution(ctx, s); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_solution",
					"failed to store solution in PostgreSQL").
					WithContext("network", s.Network).
					WithContext("job_id", s.JobID).
					WithContext("nonce", s.Nonce)
			}

			m.Influx.WriteSolutionMetric(s.Network, s.Height, s.Hash, s.Difficulty, s.Status)

			if _, err := m.Redis.IncrementCounter(ctx, s.Network, "solutions", 24*time.Hour); err != nil {
				m.bestEffort("redis_solution_counter", err)
			}
			if err := m.Redis.SetCache(ctx, solutionCacheKey(s.Hash), s, 24*time.Hour); err != nil {
				m.bestEffort("redis_solution_cache", err)
			}

			return nil
		})
	})
}

// UpdateSolutionStatus records what the node said about a submitted solution
func (m *Manager) UpdateSolutionStatus(ctx context.Context, s *postgres.Solution, status, reason string) error {
	err := m.breaker.Execute(ctx, func() error {
		return m.retrier.Do(ctx, "update_solution", func() error {
			return m.Solutions.UpdateSolutionStatus(ctx, s.ID, status, reason)
		})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "update_solution", "failed to update solution status").
			WithContext("solution_id", s.ID)
	}

	s.Status = status
	s.Reason = reason
	m.Influx.WriteSolutionMetric(s.Network, s.Height, s.Hash, s.Difficulty, status)
	if status == postgres.StatusAccepted {
		if _, err := m.Redis.IncrementCounter(ctx, s.Network, "accepted", 24*time.Hour); err != nil {
			m.bestEffort("redis_accepted_counter", err)
		}
	}
	return nil
}

// RecordVerification stores a genesis verification outcome. report is the
// full report cached in Redis for quick lookup.
func (m *Manager) RecordVerification(ctx context.Context, v *postgres.Verification, report any) error {
	err := m.breaker.Execute(ctx, func() error {
		return m.retrier.Do(ctx, "record_verification", func() error {
			return m.Verifications.CreateVerification(ctx, v)
		})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "record_verification", "failed to store verification").
			WithContext("network", v.Network)
	}

	failed := 0
	if v.FailedChecks != "" {
		failed = len(strings.Split(v.FailedChecks, ","))
	}
	m.Influx.WriteVerificationMetric(v.Network, v.Pipeline, failed)

	if err := m.Redis.SetVerificationReport(ctx, v.Network, report, 24*time.Hour); err != nil {
		m.bestEffort("redis_verification_report", err)
	}
	return nil
}

// RecordSearch writes metrics for one finished search.
func (m *Manager) RecordSearch(ctx context.Context, job *mining.Job, pipeline string, res mining.Result) {
	m.Influx.WriteSearchMetric(job.NetworkID, pipeline, job.ID, res.Hashes, res.Elapsed, res.Found, res.Interrupted)
	if _, err := m.Redis.IncrementCounter(ctx, job.NetworkID, "jobs", 24*time.Hour); err != nil {
		m.bestEffort("redis_job_counter", err)
	}
}

// GetNetworkStats combines stored solutions with the recent hash rate
func (m *Manager) GetNetworkStats(ctx context.Context, network string) (*NetworkStats, error) {
	stored, err := m.Solutions.GetNetworkStats(ctx, network)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "network_stats", "failed to get network stats").
			WithContext("network", network)
	}

	hashrate, err := m.Redis.GetAverageHashrate(ctx, network, 10*time.Minute)
	if err != nil {
		hashrate = 0
	}
	jobs, _ := m.Redis.GetCounter(ctx, network, "jobs")

	return &NetworkStats{
		NetworkStats: stored,
		Hashrate:     hashrate,
		Jobs:         jobs,
		LastUpdated:  time.Now(),
	}, nil
}

// StartPeriodicTasks flushes Influx and, every interval until ctx is done,
// samples meter and the state of the storage breaker and of breakers.
func (m *Manager) StartPeriodicTasks(ctx context.Context, network string, meter *mining.HashRateMeter, interval time.Duration, breakers ...*circuit.Breaker) {
	breakers = append([]*circuit.Breaker{m.breaker}, breakers...)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := meter.Snapshot()
				m.Influx.WriteHashrateMetric(network, -1, snap.HashRate)
				if err := m.Redis.SetHashrate(ctx, network, snap.HashRate, 10*time.Minute); err != nil {
					m.bestEffort("redis_hashrate_update", err)
				}

				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				m.Influx.WriteSystemMetric("minerd", float64(mem.Alloc), int64(runtime.NumGoroutine()))
				for _, b := range breakers {
					m.Influx.WriteCircuitMetric("minerd", b.Stats())
				}
			}
		}
	}()
}

func (m *Manager) bestEffort(operation string, err error) {
	m.logger.Warn("non-critical storage operation failed", "operation", operation, "error", err)
}

func solutionCacheKey(hash string) string {
	return "solution:" + hash
}

// NetworkStats is the per-network view served to operators
type NetworkStats struct {
	*postgres.NetworkStats
	Hashrate    float64
	Jobs        int64
	LastUpdated time.Time
}
