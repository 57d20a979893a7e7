// Package hashing holds the proof-of-work hash pipelines and the registry
// that binds each network to exactly one of them.
package hashing

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/minio/sha256-simd"

	"github.com/bardlex/lifpow/pkg/errors"
)

// HashFunc maps a serialized header to its proof-of-work digest. The digest
// is in internal byte order, the same order CompareReversed expects.
type HashFunc func(data []byte) chainhash.Hash

// Name identifies a pipeline.
type Name string

const (
	SHA256d    Name = "sha256d"
	SHA256Lif  Name = "sha256lif"
	Hash256Lif Name = "hash256lif"
	Branchy    Name = "branchy"
)

// Pipeline describes one registered hash function.
type Pipeline struct {
	Name        Name
	Func        HashFunc
	Description string
	// Weak pipelines are not vetted cryptographic primitives and may only be
	// bound to networks that opt in explicitly.
	Weak bool
}

var pipelines = map[Name]Pipeline{
	SHA256d: {
		Name:        SHA256d,
		Func:        DoubleSHA256,
		Description: "double SHA-256",
	},
	SHA256Lif: {
		Name:        SHA256Lif,
		Func:        SumLif,
		Description: "single pass of the lif SHA-256 variant",
	},
	Hash256Lif: {
		Name:        Hash256Lif,
		Func:        Hash256LifSum,
		Description: "SHA-256 followed by the lif SHA-256 variant",
	},
	Branchy: {
		Name:        Branchy,
		Func:        SumBranchy,
		Description: "experimental lif variant with data-dependent multiplication",
		Weak:        true,
	},
}

// Lookup returns the pipeline registered under name.
func Lookup(name Name) (Pipeline, error) {
	p, ok := pipelines[name]
	if !ok {
		return Pipeline{}, errors.New(errors.ErrorTypeContract, "lookup_pipeline", "unknown hash pipeline").
			WithContext("pipeline", string(name))
	}
	return p, nil
}

// Names lists every known pipeline in sorted order.
func Names() []Name {
	names := make([]Name, 0, len(pipelines))
	for n := range pipelines {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DoubleSHA256 is the conventional Bitcoin proof-of-work hash.
func DoubleSHA256(data []byte) chainhash.Hash {
	first := sha256.Sum256(data)
	return chainhash.Hash(sha256.Sum256(first[:]))
}

// SumLif applies the lif compression once.
func SumLif(data []byte) chainhash.Hash {
	return chainhash.Hash(lifSum(data, variantLif))
}

// Hash256LifSum applies standard SHA-256 and then the lif compression.
func Hash256LifSum(data []byte) chainhash.Hash {
	inner := sha256.Sum256(data)
	return chainhash.Hash(lifSum(inner[:], variantLif))
}

// SumBranchy applies the experimental branching variant once.
func SumBranchy(data []byte) chainhash.Hash {
	return chainhash.Hash(lifSum(data, variantBranchy))
}
