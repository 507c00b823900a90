package simulator

import (
	"math/rand"
	"time"
)

// RandomSource is every random draw the generator makes. Tests substitute a scripted
// source to force individual branches.
type RandomSource interface {
	// UniformFloat returns a value in [lo, hi).
	UniformFloat(lo, hi float64) float64
	// UniformInt returns a value in [lo, hi], both inclusive.
	UniformInt(lo, hi int) int
	Choice(options []string) string
}

type randSource struct {
	rng *rand.Rand
}

// NewRandomSource seeds a math/rand source. A zero seed uses the current time.
func NewRandomSource(seed int64) RandomSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &randSource{rng: rand.New(rand.NewSource(seed))}
}

func (r *randSource) UniformFloat(lo, hi float64) float64 {
	return lo + r.rng.Float64()*(hi-lo)
}

func (r *randSource) UniformInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.rng.Intn(hi-lo+1)
}

func (r *randSource) Choice(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[r.rng.Intn(len(options))]
}
