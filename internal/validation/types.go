package validation

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Solution is a nonce a worker claims solves a job.
type Solution struct {
	JobID   string
	Network string
	Nonce   uint32
	Hash    chainhash.Hash
	FoundAt time.Time
}

// Rejection reasons, carried in the "reason" error context. They follow the
// node's submitblock vocabulary where one exists.
const (
	ReasonMissingField = "missing-field"
	ReasonJobMismatch  = "job-mismatch"
	ReasonStale        = "stale"
	ReasonNonceRange   = "nonce-out-of-range"
	ReasonTimeTooNew   = "time-too-new"
	ReasonHashMismatch = "hash-mismatch"
	ReasonHighHash     = "high-hash"
)
