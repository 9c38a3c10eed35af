package rhst

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === RunKey ===

// RunKey uniquely identifies a reproducible evaluation run.
// Two runs with the same RunKey, dataset and configuration
// MUST draw bit-for-bit identical splits and model seeds.
type RunKey int64

// NewRunKey creates a RunKey from a seed value.
func NewRunKey(seed int64) RunKey {
	return RunKey(seed)
}

// === Subsystem names ===

// SubsystemSplit returns the subsystem name for the split of repetition i.
func SubsystemSplit(i int) string {
	return fmt.Sprintf("split_%d", i)
}

// SubsystemModel returns the subsystem name for the estimator seed of
// repetition i on the named feature set.
func SubsystemModel(i int, featureSet string) string {
	return fmt.Sprintf("model_%d_%s", i, featureSet)
}

// SeedFor derives the seed of the named subsystem.
//
// Derivation formula: key XOR fnv1a64(subsystemName).
//
// Pure function of (key, name): safe to call from any goroutine, and the
// result does not depend on the order in which subsystems are requested.
func (k RunKey) SeedFor(name string) int64 {
	return int64(k) ^ fnv1a64(name)
}

// RandFor returns a fresh, deterministically-seeded RNG for the named subsystem.
// Every call returns a new *rand.Rand positioned at the start of its sequence.
func (k RunKey) RandFor(name string) *rand.Rand {
	return rand.New(rand.NewSource(k.SeedFor(name)))
}

// === PartitionedRNG ===

// PartitionedRNG caches one RNG per subsystem for a single owner.
// Used inside estimators that draw many values from several
// independent streams (bootstrap rows, feature subsets).
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        RunKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a RunKey.
func NewPartitionedRNG(key RunKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := p.key.RandFor(name)
	p.subsystems[name] = rng
	return rng
}

// Key returns the RunKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() RunKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
