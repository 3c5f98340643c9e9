package orchestrator

import (
	"math/rand/v2"
	"sync"
	"time"
)

// MaxSeed is the largest seed handed to providers; several reject anything
// wider than a signed 32-bit integer.
const MaxSeed int64 = 1<<31 - 1

type SeedSource interface {
	// Seeds returns n distinct seeds in [1, MaxSeed].
	Seeds(n int) []int64
}

type randSeeds struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeedSource returns a reproducible source for a fixed state.
func NewSeedSource(state uint64) SeedSource {
	return &randSeeds{r: rand.New(rand.NewPCG(state, state^0x9e3779b97f4a7c15))}
}

func defaultSeedSource() SeedSource {
	return NewSeedSource(uint64(time.Now().UnixNano()) ^ rand.Uint64())
}

func (s *randSeeds) Seeds(n int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, n)
	seen := make(map[int64]struct{}, n)
	for len(out) < n {
		v := 1 + s.r.Int64N(MaxSeed)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
