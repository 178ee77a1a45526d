package engine

import (
	"math/rand/v2"
	"time"
)

// Clock abstracts wall-clock time so transitions are reproducible in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Uniform is the pluggable variate source behind the price walk. Draw
// returns a value in [-0.5, 0.5). Tests substitute fixed sequences to make
// ticks deterministic.
type Uniform interface {
	Draw() float64
}

type pcgSource struct {
	r *rand.Rand
}

// NewUniform returns a seeded uniform variate source.
func NewUniform(seed uint64) Uniform {
	return &pcgSource{r: rand.New(rand.NewPCG(seed, seed))}
}

func (s *pcgSource) Draw() float64 { return s.r.Float64() - 0.5 }
