// Package mining implements the nonce search and the worker pool that
// spreads one job's nonce space across goroutines.
package mining

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/pow"
)

// DefaultBatchSize is the number of attempts between progress reports and
// stop checks.
const DefaultBatchSize = 1 << 16

// Result is the outcome of scanning a nonce range.
type Result struct {
	Found  bool
	Nonce  uint32
	Hash   chainhash.Hash
	Worker int
	Hashes uint64
	// Interrupted is set when the scan stopped early without a solution.
	Interrupted bool
	Elapsed     time.Duration
}

// HashRate is the average hashes per second over the scan.
func (r Result) HashRate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Hashes) / r.Elapsed.Seconds()
}

// Progress is reported once per batch.
type Progress struct {
	Worker   int
	Nonce    uint32
	Hashes   uint64
	Elapsed  time.Duration
	HashRate float64
}

// ProgressFunc receives batch progress. It runs on the searching goroutine.
type ProgressFunc func(Progress)

// SearchOptions tune a scan without changing which nonce it reports.
type SearchOptions struct {
	BatchSize uint32
	Worker    int
	// Stop is polled after every completed batch, never before the first.
	Stop     func() bool
	Progress ProgressFunc
}

// Search scans [min, max] in increasing order and returns the first nonce
// whose digest meets target. header is copied; the caller's value is never
// modified.
func Search(header pow.Header, target pow.Target, min, max uint32, fn hashing.HashFunc) Result {
	return SearchWithOptions(header, target, min, max, fn, SearchOptions{})
}

// SearchWithOptions is Search with batching, cancellation and progress.
func SearchWithOptions(header pow.Header, target pow.Target, min, max uint32, fn hashing.HashFunc, opts SearchOptions) Result {
	res := Result{Worker: opts.Worker}
	if min > max {
		return res
	}

	batch := uint64(opts.BatchSize)
	if batch == 0 {
		batch = DefaultBatchSize
	}

	start := time.Now()
	nonce := min
	for {
		header.SetNonce(nonce)
		digest := fn(header[:])
		res.Hashes++

		if pow.CompareReversed(digest[:], target[:]) <= 0 {
			res.Found = true
			res.Nonce = nonce
			res.Hash = digest
			break
		}
		if nonce == max {
			break
		}
		nonce++

		if res.Hashes%batch == 0 {
			if opts.Progress != nil {
				elapsed := time.Since(start)
				opts.Progress(Progress{
					Worker:   opts.Worker,
					Nonce:    nonce,
					Hashes:   res.Hashes,
					Elapsed:  elapsed,
					HashRate: float64(res.Hashes) / elapsed.Seconds(),
				})
			}
			if opts.Stop != nil && opts.Stop() {
				res.Interrupted = true
				break
			}
		}
	}

	res.Elapsed = time.Since(start)
	return res
}
