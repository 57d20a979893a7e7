package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SolutionRepository handles solution-related database operations
type SolutionRepository struct {
	db *sql.DB
}

// NewSolutionRepository creates a new solution repository
func NewSolutionRepository(db *sql.DB) *SolutionRepository {
	return &SolutionRepository{db: db}
}

// CreateSolution records a new solution
func (r *SolutionRepository) CreateSolution(ctx context.Context, s *Solution) error {
	query := `
		INSERT INTO solutions (job_id, network, pipeline, height, nonce, hash, bits, difficulty,
		                       hashes, elapsed_ms, status, reason, found_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	if s.Status == "" {
		s.Status = StatusFound
	}
	if s.FoundAt.IsZero() {
		s.FoundAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		s.JobID, s.Network, s.Pipeline, s.Height, s.Nonce, s.Hash, s.Bits, s.Difficulty,
		s.Hashes, s.ElapsedMS, s.Status, s.Reason, s.FoundAt,
	).Scan(&s.ID)

	if err != nil {
		return fmt.Errorf("failed to create solution: %w", err)
	}

	return nil
}

// UpdateSolutionStatus records the node's verdict on a submitted solution
func (r *SolutionRepository) UpdateSolutionStatus(ctx context.Context, id int64, status, reason string) error {
	query := `UPDATE solutions SET status = $1, reason = $2`
	args := []any{status, reason}

	if status != StatusFound {
		query += `, submitted_at = COALESCE(submitted_at, $3)`
		args = append(args, time.Now())
	}

	query += ` WHERE id = $` + fmt.Sprintf("%d", len(args)+1)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update solution status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("solution %d not found", id)
	}

	return nil
}

// GetRecentSolutions retrieves the newest solutions for a network
func (r *SolutionRepository) GetRecentSolutions(ctx context.Context, network string, limit int) ([]*Solution, error) {
	query := `
		SELECT id, job_id, network, pipeline, height, nonce, hash, bits, difficulty,
		       hashes, elapsed_ms, status, reason, found_at, submitted_at
		FROM solutions
		WHERE network = $1
		ORDER BY found_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query solutions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var solutions []*Solution
	for rows.Next() {
		s := &Solution{}
		err := rows.Scan(
			&s.ID, &s.JobID, &s.Network, &s.Pipeline, &s.Height, &s.Nonce, &s.Hash,
			&s.Bits, &s.Difficulty, &s.Hashes, &s.ElapsedMS, &s.Status, &s.Reason,
			&s.FoundAt, &s.SubmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan solution: %w", err)
		}
		solutions = append(solutions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating solutions: %w", err)
	}

	return solutions, nil
}

// GetNetworkStats aggregates solutions for a network
func (r *SolutionRepository) GetNetworkStats(ctx context.Context, network string) (*NetworkStats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'accepted'),
		       COUNT(*) FILTER (WHERE status = 'rejected'),
		       COALESCE(SUM(hashes), 0),
		       MAX(found_at)
		FROM solutions WHERE network = $1`

	stats := &NetworkStats{Network: network}
	err := r.db.QueryRowContext(ctx, query, network).Scan(
		&stats.Solutions, &stats.Accepted, &stats.Rejected, &stats.TotalHashes, &stats.LastFoundAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get network stats: %w", err)
	}

	return stats, nil
}

// VerificationRepository stores genesis verification outcomes
type VerificationRepository struct {
	db *sql.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *sql.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// CreateVerification records one verification run
func (r *VerificationRepository) CreateVerification(ctx context.Context, v *Verification) error {
	query := `
		INSERT INTO genesis_verifications (network, pipeline, hash, ok, failed_checks, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if v.CheckedAt.IsZero() {
		v.CheckedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		v.Network, v.Pipeline, v.Hash, v.OK, v.FailedChecks, v.CheckedAt,
	).Scan(&v.ID)

	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}

	return nil
}

// GetLatestVerification returns the most recent run for a network
func (r *VerificationRepository) GetLatestVerification(ctx context.Context, network string) (*Verification, error) {
	query := `
		SELECT id, network, pipeline, hash, ok, failed_checks, checked_at
		FROM genesis_verifications
		WHERE network = $1
		ORDER BY checked_at DESC
		LIMIT 1`

	v := &Verification{}
	err := r.db.QueryRowContext(ctx, query, network).Scan(
		&v.ID, &v.Network, &v.Pipeline, &v.Hash, &v.OK, &v.FailedChecks, &v.CheckedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no verification for network %s", network)
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	return v, nil
}
