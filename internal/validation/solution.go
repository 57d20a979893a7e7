// Package validation re-checks solutions reported by the search before they
// are submitted to a node.
package validation

import (
	"time"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

// SolutionValidator recomputes a solution's digest with the network's own
// pipeline and checks it against the job.
type SolutionValidator struct {
	registry    *hashing.Registry
	maxJobAge   time.Duration
	maxTimeSkew time.Duration
	now         func() time.Time
}

// NewSolutionValidator creates a validator. A zero maxJobAge disables the
// staleness check.
func NewSolutionValidator(registry *hashing.Registry, maxJobAge, maxTimeSkew time.Duration) *SolutionValidator {
	return &SolutionValidator{
		registry:    registry,
		maxJobAge:   maxJobAge,
		maxTimeSkew: maxTimeSkew,
		now:         time.Now,
	}
}

// Validate performs every check on sol. It reports whether the digest also
// meets the header's own bits, which matters for jobs given an easier
// target with WithTarget.
func (v *SolutionValidator) Validate(sol *Solution, job *mining.Job) (bool, error) {
	if err := v.validateBasicFields(sol); err != nil {
		return false, err
	}

	if err := v.validateJob(sol, job); err != nil {
		return false, err
	}

	if err := v.validateTime(job); err != nil {
		return false, err
	}

	return v.validateProofOfWork(sol, job)
}

func (v *SolutionValidator) validateBasicFields(sol *Solution) error {
	if sol == nil {
		return reject(ReasonMissingField, "solution is required")
	}
	if sol.JobID == "" {
		return reject(ReasonMissingField, "job ID is required")
	}
	if sol.Network == "" {
		return reject(ReasonMissingField, "network is required")
	}
	return nil
}

func (v *SolutionValidator) validateJob(sol *Solution, job *mining.Job) error {
	if job == nil {
		return reject(ReasonJobMismatch, "job not found").WithContext("job_id", sol.JobID)
	}

	if sol.JobID != job.ID || sol.Network != job.NetworkID {
		return reject(ReasonJobMismatch, "solution does not belong to job").
			WithContext("job_id", job.ID).
			WithContext("solution_job_id", sol.JobID)
	}

	if v.maxJobAge > 0 && v.now().Sub(job.CreatedAt) > v.maxJobAge {
		return reject(ReasonStale, "job has expired").
			WithContext("job_id", job.ID).
			WithContext("age", v.now().Sub(job.CreatedAt).String())
	}

	if sol.Nonce < job.MinNonce || sol.Nonce > job.MaxNonce {
		return reject(ReasonNonceRange, "nonce outside job range").
			WithContext("nonce", sol.Nonce).
			WithContext("min_nonce", job.MinNonce).
			WithContext("max_nonce", job.MaxNonce)
	}

	return nil
}

// validateTime rejects headers timestamped too far ahead of the local clock.
func (v *SolutionValidator) validateTime(job *mining.Job) error {
	headerTime := time.Unix(int64(job.Header.Time()), 0)
	if headerTime.After(v.now().Add(v.maxTimeSkew)) {
		return reject(ReasonTimeTooNew, "header time too far in future").
			WithContext("header_time", headerTime.Unix())
	}
	return nil
}

func (v *SolutionValidator) validateProofOfWork(sol *Solution, job *mining.Job) (bool, error) {
	fn, err := v.registry.Resolve(job.NetworkID)
	if err != nil {
		return false, err
	}

	header := job.Header
	header.SetNonce(sol.Nonce)
	hash := fn(header[:])

	if hash != sol.Hash {
		return false, reject(ReasonHashMismatch, "reported hash does not match header").
			WithContext("reported", sol.Hash.String()).
			WithContext("computed", hash.String())
	}

	if !pow.HashMeetsTarget(hash, job.Target) {
		return false, reject(ReasonHighHash, "hash does not meet target").
			WithContext("hash", hash.String()).
			WithContext("target", job.Target.String())
	}

	return pow.HashMeetsTarget(hash, job.Header.Target()), nil
}

func reject(reason, msg string) *errors.ServiceError {
	return errors.New(errors.ErrorTypeValidation, "validate_solution", msg).
		WithContext("reason", reason)
}

// RejectReason returns the rejection reason carried by err, or "" when err
// did not come from Validate.
func RejectReason(err error) string {
	if reason, ok := errors.GetContext(err)["reason"].(string); ok {
		return reason
	}
	return ""
}
