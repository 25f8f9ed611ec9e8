// Package detrand holds the deterministic hash and generator every process
// uses to derive the same shuffles, odds and scores from the same strings.
//
// The constants below are part of the wire contract: settled wagers were
// resolved with them, so they must never change.
package detrand

import "hash/fnv"

const (
	// FNV-1a 32-bit parameters.
	fnvOffset32 uint32 = 2166136261
	fnvPrime32  uint32 = 16777619

	// Numerical Recipes LCG, modulus 2^32 (implicit in uint32 overflow).
	lcgMultiplier uint32 = 1664525
	lcgIncrement  uint32 = 1013904223
)

// Hash32 is FNV-1a over the bytes of s: xor each byte in, then multiply.
// Order-sensitive, so strings differing anywhere give unrelated seeds.
func Hash32(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// Hash64Hex is a hex FNV-1a 64 digest, used for fixture week fingerprints
// where 32 bits would collide too often across many cycles.
func Hash64Hex(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	const digits = "0123456789abcdef"
	sum := h.Sum64()
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = digits[sum&0xf]
		sum >>= 4
	}
	return string(out)
}

// LCG is a 32-bit linear congruential generator. The zero value is seeded
// with 0; use New for anything else.
type LCG struct {
	state uint32
}

func New(seed uint32) *LCG {
	return &LCG{state: seed}
}

// NewFromString seeds a generator with Hash32(s).
func NewFromString(s string) *LCG {
	return New(Hash32(s))
}

// Next advances the generator and returns the new state.
func (g *LCG) Next() uint32 {
	g.state = g.state*lcgMultiplier + lcgIncrement
	return g.state
}

// Float returns the next value normalised to [0, 1).
func (g *LCG) Float() float64 {
	return float64(g.Next()) / 4294967296.0
}

// Intn returns the next value scaled into [0, n). n must be positive.
func (g *LCG) Intn(n int) int {
	return int(g.Float() * float64(n))
}

// Shuffle permutes xs in place with Fisher–Yates, drawing from g.
func Shuffle[T any](g *LCG, xs []T) {
	for i := len(xs) - 1; i > 0; i-- {
		j := g.Intn(i + 1)
		xs[i], xs[j] = xs[j], xs[i]
	}
}
