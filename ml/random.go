// random.go - Rauschquellen fuer Gauss-Rauschen
// Dieses Modul enthaelt die NoiseSource-Abstraktion, SplitSeed und RandN.
package ml

import (
	"math/rand/v2"
	"time"
)

// NoiseSource draws standard normal variates. *rand.Rand satisfies it.
type NoiseSource interface {
	NormFloat64() float64
}

// NewNoiseSource returns a PCG backed source. A zero seed draws one from the clock.
func NewNoiseSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SplitSeed derives n non-zero seeds for independent consumers of one user
// supplied seed. A zero seed draws the root from the clock.
func SplitSeed(seed uint64, n int) []uint64 {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := rand.New(rand.NewPCG(seed, 0x6a09e667f3bcc909))

	seeds := make([]uint64, n)
	for i := range seeds {
		for seeds[i] == 0 {
			seeds[i] = r.Uint64()
		}
	}
	return seeds
}

// ZeroNoise is a NoiseSource that always returns 0. Sampling with it removes
// all stochasticity from ancestral update rules.
type ZeroNoise struct{}

func (ZeroNoise) NormFloat64() float64 { return 0 }

// RandN returns a tensor of independent N(0, 1) draws.
func RandN(dev Device, src NoiseSource, shape ...int) *Tensor {
	t := Zeros(dev, shape...)
	for i := range t.data {
		t.data[i] = src.NormFloat64()
	}
	return t
}
