package genesis

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// Check names one comparison performed by Verify.
type Check string

const (
	// CheckSerialization compares the assembled block with the reference hex.
	CheckSerialization Check = "serialization"
	// CheckHash compares the assembled header's digest with the reference hash.
	CheckHash Check = "hash"
	// CheckReferenceHash re-hashes the reference header bytes and compares the
	// digest with the reference hash, catching a stale reference record.
	CheckReferenceHash Check = "reference_hash"
	// CheckTarget requires the configured nonce to meet the configured bits.
	CheckTarget Check = "target"
)

// Discrepancy is a single failed check. Position is the first differing hex
// character, or -1 when the check is not a string comparison.
type Discrepancy struct {
	Network  string
	Check    Check
	Expected string
	Actual   string
	Position int
}

func (d Discrepancy) String() string {
	if d.Position >= 0 {
		return fmt.Sprintf("%s: %s mismatch at %d: expected %s, got %s",
			d.Network, d.Check, d.Position, abbreviate(d.Expected, d.Position), abbreviate(d.Actual, d.Position))
	}
	return fmt.Sprintf("%s: %s failed: expected %s, got %s", d.Network, d.Check, d.Expected, d.Actual)
}

// Report is the outcome of verifying one network.
type Report struct {
	Network       string
	Pipeline      hashing.Name
	BlockHex      string
	Hash          string
	Discrepancies []Discrepancy
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return len(r.Discrepancies) == 0
}

// Err converts a failed report into a configuration error.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	checks := make([]string, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		checks[i] = string(d.Check)
	}
	return errors.New(errors.ErrorTypeConfiguration, "verify_genesis", "genesis block disagrees with reference").
		WithContext("network", r.Network).
		WithContext("checks", strings.Join(checks, ","))
}

func (r *Report) add(check Check, expected, actual string, positional bool) {
	pos := -1
	if positional {
		pos = FirstDifference(expected, actual)
	}
	r.Discrepancies = append(r.Discrepancies, Discrepancy{
		Network:  r.Network,
		Check:    check,
		Expected: expected,
		Actual:   actual,
		Position: pos,
	})
}

// Verify assembles profile's genesis block and runs every check. All checks
// run even after one fails. The error is reserved for blocks that cannot be
// assembled at all.
func Verify(profile network.Profile, fn hashing.HashFunc) (*Report, error) {
	block, err := Build(profile.Genesis)
	if err != nil {
		return nil, err
	}
	blockHex, err := Serialize(block)
	if err != nil {
		return nil, err
	}
	header, err := Header(block)
	if err != nil {
		return nil, err
	}

	digest := fn(header[:])
	report := &Report{
		Network:  profile.ID,
		Pipeline: profile.Pipeline,
		BlockHex: blockHex,
		Hash:     digest.String(),
	}
	ref := profile.Reference

	if blockHex != ref.BlockHex {
		report.add(CheckSerialization, ref.BlockHex, blockHex, true)
	}

	if report.Hash != ref.Hash {
		report.add(CheckHash, ref.Hash, report.Hash, true)
	}

	if refDigest, err := referenceDigest(ref, fn); err != nil {
		report.add(CheckReferenceHash, ref.Hash, err.Error(), false)
	} else if refDigest.String() != ref.Hash {
		report.add(CheckReferenceHash, ref.Hash, refDigest.String(), true)
	}

	target := pow.DecodeTarget(profile.Genesis.Bits)
	if !pow.HashMeetsTarget(digest, target) {
		report.add(CheckTarget, "hash <= "+target.String(), report.Hash, false)
	}

	return report, nil
}

func referenceDigest(ref network.Reference, fn hashing.HashFunc) (chainhash.Hash, error) {
	if len(ref.BlockHex) < pow.HeaderSize*2 {
		return chainhash.Hash{}, errors.New(errors.ErrorTypeValidation, "verify_genesis", "reference block shorter than a header")
	}
	header, err := pow.ParseHeaderHex(ref.BlockHex[:pow.HeaderSize*2])
	if err != nil {
		return chainhash.Hash{}, err
	}
	return fn(header[:]), nil
}

// FirstDifference returns the index of the first differing character of a
// and b, the shorter length when one is a prefix of the other, or -1 when
// they are equal.
func FirstDifference(a, b string) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}

// abbreviate trims long hex around pos so log lines stay readable.
func abbreviate(s string, pos int) string {
	const window = 16
	if len(s) <= 2*window+6 {
		return s
	}
	start := max(pos-window, 0)
	end := min(pos+window, len(s))
	out := s[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(s) {
		out += "..."
	}
	return out
}

// Verifier checks genesis blocks using the pipelines bound in a registry.
type Verifier struct {
	registry *hashing.Registry
	logger   *log.Logger
}

// NewVerifier creates a verifier
func NewVerifier(registry *hashing.Registry, logger *log.Logger) *Verifier {
	return &Verifier{
		registry: registry,
		logger:   logger.WithComponent("genesis_verifier"),
	}
}

// VerifyGenesis verifies one network and logs each discrepancy.
func (v *Verifier) VerifyGenesis(networkID string) (*Report, error) {
	profile, err := network.Lookup(networkID)
	if err != nil {
		return nil, err
	}
	fn, err := v.registry.Resolve(networkID)
	if err != nil {
		return nil, err
	}

	report, err := Verify(profile, fn)
	if err != nil {
		return nil, err
	}

	for _, d := range report.Discrepancies {
		v.logger.LogDiscrepancy(d.Network, string(d.Check),
			abbreviate(d.Expected, d.Position), abbreviate(d.Actual, d.Position), d.Position)
	}
	if report.OK() {
		v.logger.Info("genesis verified", "network", networkID, "pipeline", string(report.Pipeline), "hash", report.Hash)
	}
	return report, nil
}

// VerifyAll verifies every network bound in the registry. The returned error
// is non-nil if any network failed; the reports are returned either way.
func (v *Verifier) VerifyAll() ([]*Report, error) {
	var reports []*Report
	var failed []string

	for _, id := range v.registry.Networks() {
		report, err := v.VerifyGenesis(id)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
		if !report.OK() {
			failed = append(failed, id)
		}
	}

	if len(failed) > 0 {
		return reports, errors.New(errors.ErrorTypeConfiguration, "verify_genesis", "networks failed genesis verification").
			WithContext("networks", strings.Join(failed, ","))
	}
	return reports, nil
}
