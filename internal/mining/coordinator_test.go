package mining

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/internal/pow"
	lerrors "github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

func testJob(t *testing.T, header pow.Header, target pow.Target, minNonce, maxNonce uint32) *Job {
	t.Helper()
	job, err := CreateJob("job-1", network.Regtest, 1, header, minNonce, maxNonce)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job.WithTarget(target)
}

func regtestHeader() pow.Header {
	var h pow.Header
	h[pow.BitsOffset] = 0xff
	h[pow.BitsOffset+1] = 0xff
	h[pow.BitsOffset+2] = 0x7f
	h[pow.BitsOffset+3] = 0x20
	return h
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint32
		n        int
		want     []Range
	}{
		{
			name: "even split",
			min:  0, max: 99, n: 4,
			want: []Range{{0, 24}, {25, 49}, {50, 74}, {75, 99}},
		},
		{
			name: "remainder goes to last",
			min:  0, max: 9, n: 3,
			want: []Range{{0, 2}, {3, 5}, {6, 9}},
		},
		{
			name: "more workers than nonces",
			min:  5, max: 6, n: 8,
			want: []Range{{5, 5}, {6, 6}},
		},
		{
			name: "single worker",
			min:  0, max: math.MaxUint32, n: 1,
			want: []Range{{0, math.MaxUint32}},
		},
		{
			name: "non-positive worker count",
			min:  1, max: 3, n: 0,
			want: []Range{{1, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.min, tt.max, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Partition() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if got := Partition(10, 9, 2); got != nil {
		t.Errorf("Partition() of an empty interval = %v, want nil", got)
	}
}

func TestPartitionCoversFullNonceSpace(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 64, 1000} {
		ranges := Partition(0, math.MaxUint32, n)
		if len(ranges) != n {
			t.Fatalf("n=%d: got %d ranges", n, len(ranges))
		}

		var total uint64
		next := uint64(0)
		for i, r := range ranges {
			if uint64(r.Min) != next {
				t.Errorf("n=%d: range %d starts at %d, want %d", n, i, r.Min, next)
			}
			total += r.Size()
			next = uint64(r.Max) + 1
		}
		if total != 1<<32 {
			t.Errorf("n=%d: ranges cover %d nonces, want %d", n, total, uint64(1)<<32)
		}
		if ranges[n-1].Max != math.MaxUint32 {
			t.Errorf("n=%d: last range ends at %d", n, ranges[n-1].Max)
		}
		for i := 1; i < n-1; i++ {
			if ranges[i].Size() != ranges[0].Size() {
				t.Errorf("n=%d: range %d has size %d, want %d", n, i, ranges[i].Size(), ranges[0].Size())
			}
		}
	}
}

func TestCreateJob(t *testing.T) {
	header := regtestHeader()

	job, err := CreateFullRangeJob("a", network.Regtest, 7, header)
	if err != nil {
		t.Fatalf("CreateFullRangeJob() error = %v", err)
	}
	if job.MinNonce != 0 || job.MaxNonce != math.MaxUint32 {
		t.Errorf("range = [%d, %d]", job.MinNonce, job.MaxNonce)
	}
	if job.Target != pow.DecodeTarget(0x207fffff) {
		t.Errorf("Target = %s", job.Target)
	}

	if _, err := CreateJob("b", network.Regtest, 7, header, 5, 4); !lerrors.IsType(err, lerrors.ErrorTypeValidation) {
		t.Errorf("inverted range error = %v", err)
	}

	header.SetNonce(0)
	header[pow.BitsOffset+2] = 0x80
	if _, err := CreateFullRangeJob("c", network.Regtest, 7, header); err == nil {
		t.Error("expected error for negative compact target")
	}
}

func TestCoordinatorAllAcceptingTarget(t *testing.T) {
	c := NewCoordinator(Config{Workers: 4, BatchSize: 1 << 20}, log.Nop())
	job := testJob(t, regtestHeader(), easiest, 0, math.MaxUint32)

	for range 3 {
		res, err := c.Run(context.Background(), job, solutionsAt())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !res.Found || res.Nonce != 0 {
			t.Errorf("Run() = %+v, want nonce 0", res)
		}
	}
}

func TestCoordinatorLowestSolutionWins(t *testing.T) {
	c := NewCoordinator(Config{Workers: 4, BatchSize: 1 << 20}, log.Nop())
	job := testJob(t, regtestHeader(), pow.Target{}, 0, 99_999)

	res, err := c.Run(context.Background(), job, solutionsAt(80_000, 30_000, 55_000))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Found || res.Nonce != 30_000 {
		t.Errorf("Run() nonce = %d found = %v, want 30000", res.Nonce, res.Found)
	}
	if res.Worker != 1 {
		t.Errorf("Worker = %d, want 1", res.Worker)
	}
}

func TestCoordinatorStopsSiblings(t *testing.T) {
	const span = 40_000_000
	c := NewCoordinator(Config{Workers: 4, BatchSize: 1000}, log.Nop())
	job := testJob(t, regtestHeader(), pow.Target{}, 0, span-1)

	res, err := c.Run(context.Background(), job, solutionsAt(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Found || res.Nonce != 10 {
		t.Fatalf("Run() = %+v, want nonce 10", res)
	}
	if res.Hashes >= span {
		t.Errorf("Hashes = %d, siblings were not stopped", res.Hashes)
	}
}

func TestCoordinatorAllNotFound(t *testing.T) {
	c := NewCoordinator(Config{Workers: 3, BatchSize: 500}, log.Nop())
	job := testJob(t, regtestHeader(), pow.Target{}, 0, 9_999)

	res, err := c.Run(context.Background(), job, solutionsAt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Found || res.Interrupted {
		t.Errorf("Run() = %+v, want plain NotFound", res)
	}
	if res.Hashes != 10_000 {
		t.Errorf("Hashes = %d, want 10000", res.Hashes)
	}
}

func TestCoordinatorCancellation(t *testing.T) {
	c := NewCoordinator(Config{Workers: 4, BatchSize: 1000}, log.Nop())
	job := testJob(t, regtestHeader(), pow.Target{}, 0, 100_000_000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Run(ctx, job, solutionsAt())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !res.Interrupted {
		t.Error("expected Interrupted")
	}
	if res.Hashes != 4*1000 {
		t.Errorf("Hashes = %d, want one batch per worker", res.Hashes)
	}
}

func TestCoordinatorProgressCallback(t *testing.T) {
	var mu sync.Mutex
	workers := make(map[int]bool)

	c := NewCoordinator(Config{
		Workers:   2,
		BatchSize: 100,
		Progress: func(p Progress) {
			mu.Lock()
			workers[p.Worker] = true
			mu.Unlock()
		},
	}, log.Nop())
	job := testJob(t, regtestHeader(), pow.Target{}, 0, 999)

	if _, err := c.Run(context.Background(), job, solutionsAt()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !workers[0] || !workers[1] {
		t.Errorf("progress reported for workers %v, want both", workers)
	}

	snap := c.Meter().Snapshot()
	if snap.Jobs != 1 || snap.TotalHashes != 1000 || snap.Solved != 0 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestCoordinatorLifGenesis(t *testing.T) {
	profile, err := network.Lookup(network.Lif)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	header, err := pow.ParseHeaderHex(profile.Reference.BlockHex[:pow.HeaderSize*2])
	if err != nil {
		t.Fatalf("ParseHeaderHex() error = %v", err)
	}

	job, err := CreateJob("lif-genesis", network.Lif, 0, header, 0, 40_000)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	c := NewCoordinator(Config{Workers: 4, BatchSize: 1024}, log.Nop())
	res, err := c.Run(context.Background(), job, hashing.Hash256LifSum)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Found || res.Nonce != profile.Genesis.Nonce {
		t.Fatalf("Run() = %+v, want nonce %d", res, profile.Genesis.Nonce)
	}
	if res.Hash.String() != profile.Reference.Hash {
		t.Errorf("Hash = %s, want %s", res.Hash, profile.Reference.Hash)
	}
}

func TestCoordinatorRejectsNilJob(t *testing.T) {
	c := NewCoordinator(Config{}, log.Nop())
	if c.Workers() < 1 {
		t.Errorf("Workers() = %d", c.Workers())
	}
	if _, err := c.Run(context.Background(), nil, solutionsAt()); !lerrors.IsType(err, lerrors.ErrorTypeContract) {
		t.Errorf("Run(nil) error = %v", err)
	}
}
