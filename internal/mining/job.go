package mining

import (
	"math"
	"time"

	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

// Job is a unit of search work. It must not be modified after it is handed
// to a Coordinator.
type Job struct {
	ID        string
	NetworkID string
	Height    int64
	Header    pow.Header
	Target    pow.Target
	MinNonce  uint32
	MaxNonce  uint32
	CreatedAt time.Time
}

// CreateJob builds a job whose target is decoded from the header's own bits.
// Negative or oversized compact encodings are rejected.
func CreateJob(id, networkID string, height int64, header pow.Header, minNonce, maxNonce uint32) (*Job, error) {
	if minNonce > maxNonce {
		return nil, errors.New(errors.ErrorTypeValidation, "create_job", "empty nonce range").
			WithContext("min_nonce", minNonce).
			WithContext("max_nonce", maxNonce)
	}

	target, err := pow.ParseCompact(header.Bits())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "create_job", "header carries an unusable target").
			WithContext("job_id", id)
	}

	return &Job{
		ID:        id,
		NetworkID: networkID,
		Height:    height,
		Header:    header,
		Target:    target,
		MinNonce:  minNonce,
		MaxNonce:  maxNonce,
		CreatedAt: time.Now(),
	}, nil
}

// CreateFullRangeJob is CreateJob over the whole 32-bit nonce space.
func CreateFullRangeJob(id, networkID string, height int64, header pow.Header) (*Job, error) {
	return CreateJob(id, networkID, height, header, 0, math.MaxUint32)
}

// WithTarget returns a copy of j searching against target instead of the
// header bits, used for share-style targets easier than the network's.
func (j *Job) WithTarget(target pow.Target) *Job {
	c := *j
	c.Target = target
	return &c
}

// Difficulty is the job target's difficulty ratio.
func (j *Job) Difficulty() float64 {
	return pow.DifficultyRatio(pow.TargetToCompact(j.Target))
}
