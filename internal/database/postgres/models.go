package postgres

import (
	"time"
)

// Solution statuses.
const (
	StatusFound     = "found"
	StatusSubmitted = "submitted"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
)

// Solution is a nonce that met its job's target.
type Solution struct {
	ID          int64      `db:"id"`
	JobID       string     `db:"job_id"`
	Network     string     `db:"network"`
	Pipeline    string     `db:"pipeline"`
	Height      int64      `db:"height"`
	Nonce       int64      `db:"nonce"`
	Hash        string     `db:"hash"`
	Bits        int64      `db:"bits"`
	Difficulty  float64    `db:"difficulty"`
	Hashes      int64      `db:"hashes"`
	ElapsedMS   int64      `db:"elapsed_ms"`
	Status      string     `db:"status"`
	Reason      string     `db:"reason"`
	FoundAt     time.Time  `db:"found_at"`
	SubmittedAt *time.Time `db:"submitted_at"`
}

// Verification is the stored outcome of one genesis verification run.
type Verification struct {
	ID           int64     `db:"id"`
	Network      string    `db:"network"`
	Pipeline     string    `db:"pipeline"`
	Hash         string    `db:"hash"`
	OK           bool      `db:"ok"`
	FailedChecks string    `db:"failed_checks"`
	CheckedAt    time.Time `db:"checked_at"`
}

// NetworkStats aggregates the solutions recorded for one network.
type NetworkStats struct {
	Network     string     `json:"network"`
	Solutions   int64      `json:"solutions"`
	Accepted    int64      `json:"accepted"`
	Rejected    int64      `json:"rejected"`
	TotalHashes int64      `json:"total_hashes"`
	LastFoundAt *time.Time `json:"last_found_at"`
}
