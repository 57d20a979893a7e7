package validation

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

var fixedNow = time.Unix(1700000600, 0)

func newValidator(t testing.TB) *SolutionValidator {
	t.Helper()
	registry := hashing.NewRegistry(log.Nop())
	if err := registry.Bind("regtest", hashing.SHA256d, false); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := registry.Bind("liftest", hashing.SHA256Lif, false); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	v := NewSolutionValidator(registry, time.Minute, 2*time.Hour)
	v.now = func() time.Time { return fixedNow }
	return v
}

func newJob(t testing.TB, network string, bits uint32, ts int64) *mining.Job {
	t.Helper()
	header, err := pow.HeaderFromWire(&wire.BlockHeader{
		Version:    0x20000000,
		PrevBlock:  chainhash.Hash{0x11},
		MerkleRoot: chainhash.Hash{0x22},
		Timestamp:  time.Unix(ts, 0),
		Bits:       bits,
	})
	if err != nil {
		t.Fatalf("HeaderFromWire() error = %v", err)
	}
	job, err := mining.CreateJob("job-1", network, 101, header, 0, 1<<20)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	job.CreatedAt = fixedNow.Add(-10 * time.Second)
	return job
}

// solve finds a nonce for job with fn.
func solve(t testing.TB, job *mining.Job, fn hashing.HashFunc) *Solution {
	t.Helper()
	res := mining.Search(job.Header, job.Target, job.MinNonce, job.MaxNonce, fn)
	if !res.Found {
		t.Fatal("no solution in range")
	}
	return &Solution{JobID: job.ID, Network: job.NetworkID, Nonce: res.Nonce, Hash: res.Hash, FoundAt: fixedNow}
}

func TestValidate(t *testing.T) {
	v := newValidator(t)

	t.Run("valid regtest solution", func(t *testing.T) {
		job := newJob(t, "regtest", 0x207fffff, 1700000000)
		candidate, err := v.Validate(solve(t, job, hashing.DoubleSHA256), job)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if !candidate {
			t.Error("solution meeting header bits should be a block candidate")
		}
	})

	t.Run("valid liftest solution", func(t *testing.T) {
		job := newJob(t, "liftest", 0x207fffff, 1700000000)
		if _, err := v.Validate(solve(t, job, hashing.SumLif), job); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	})

	t.Run("share below network target", func(t *testing.T) {
		// Header bits are hard; the job searches an easier target.
		job := newJob(t, "regtest", 0x1d00ffff, 1700000000).WithTarget(pow.DecodeTarget(0x207fffff))
		candidate, err := v.Validate(solve(t, job, hashing.DoubleSHA256), job)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if candidate {
			t.Error("share-level solution should not be a block candidate")
		}
	})
}

func TestValidateRejections(t *testing.T) {
	v := newValidator(t)
	job := newJob(t, "regtest", 0x207fffff, 1700000000)
	good := solve(t, job, hashing.DoubleSHA256)

	// A nonce whose sha256d digest misses the regtest target.
	var highNonce uint32
	var highHash chainhash.Hash
	for n := uint32(0); ; n++ {
		h := job.Header
		h.SetNonce(n)
		hash := hashing.DoubleSHA256(h[:])
		if !pow.HashMeetsTarget(hash, job.Target) {
			highNonce, highHash = n, hash
			break
		}
	}

	tests := []struct {
		name       string
		sol        *Solution
		job        *mining.Job
		wantReason string
	}{
		{
			name:       "nil solution",
			sol:        nil,
			job:        job,
			wantReason: ReasonMissingField,
		},
		{
			name:       "missing job id",
			sol:        &Solution{Network: "regtest"},
			job:        job,
			wantReason: ReasonMissingField,
		},
		{
			name:       "unknown job",
			sol:        good,
			job:        nil,
			wantReason: ReasonJobMismatch,
		},
		{
			name:       "other network",
			sol:        &Solution{JobID: good.JobID, Network: "liftest", Nonce: good.Nonce, Hash: good.Hash},
			job:        job,
			wantReason: ReasonJobMismatch,
		},
		{
			name: "stale job",
			sol:  good,
			job: func() *mining.Job {
				old := *job
				old.CreatedAt = fixedNow.Add(-time.Hour)
				return &old
			}(),
			wantReason: ReasonStale,
		},
		{
			name:       "nonce outside range",
			sol:        &Solution{JobID: good.JobID, Network: good.Network, Nonce: 1 << 21, Hash: good.Hash},
			job:        job,
			wantReason: ReasonNonceRange,
		},
		{
			name:       "header from the future",
			sol:        good,
			job:        newJob(t, "regtest", 0x207fffff, fixedNow.Add(3*time.Hour).Unix()),
			wantReason: ReasonTimeTooNew,
		},
		{
			name:       "hash mismatch",
			sol:        &Solution{JobID: good.JobID, Network: good.Network, Nonce: good.Nonce, Hash: chainhash.Hash{1}},
			job:        job,
			wantReason: ReasonHashMismatch,
		},
		{
			name:       "high hash",
			sol:        &Solution{JobID: good.JobID, Network: good.Network, Nonce: highNonce, Hash: highHash},
			job:        job,
			wantReason: ReasonHighHash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.sol, tt.job)
			if err == nil {
				t.Fatal("Validate() expected error")
			}
			if !errors.IsType(err, errors.ErrorTypeValidation) {
				t.Errorf("Validate() error type = %v", err)
			}
			if got := RejectReason(err); got != tt.wantReason {
				t.Errorf("RejectReason() = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

func TestValidateUnregisteredNetwork(t *testing.T) {
	v := newValidator(t)
	job := newJob(t, "simnet", 0x207fffff, 1700000000)
	sol := &Solution{JobID: job.ID, Network: "simnet"}

	_, err := v.Validate(sol, job)
	if !errors.IsType(err, errors.ErrorTypeContract) {
		t.Errorf("Validate() error = %v, want contract error", err)
	}
	if RejectReason(err) != "" {
		t.Errorf("RejectReason() = %q, want empty", RejectReason(err))
	}
}

func TestValidateNoAgeLimit(t *testing.T) {
	v := newValidator(t)
	v.maxJobAge = 0
	job := newJob(t, "regtest", 0x207fffff, 1700000000)
	job.CreatedAt = fixedNow.Add(-24 * time.Hour)

	if _, err := v.Validate(solve(t, job, hashing.DoubleSHA256), job); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func BenchmarkValidate(b *testing.B) {
	v := newValidator(b)
	job := newJob(b, "regtest", 0x207fffff, 1700000000)
	sol := solve(b, job, hashing.DoubleSHA256)

	b.ReportAllocs()
	for b.Loop() {
		if _, err := v.Validate(sol, job); err != nil {
			b.Fatal(err)
		}
	}
}
