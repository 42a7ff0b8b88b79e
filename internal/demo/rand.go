package demo

import (
	"math/rand"
	"time"
)

// Rand is the slice of randomness the engine needs. The default
// implementation delegates to math/rand's shared source, which is
// safe for concurrent invocations; tests inject a deterministic one.
type Rand interface {
	Intn(n int) int
}

type globalRand struct{}

func (globalRand) Intn(n int) int { return rand.Intn(n) }

// DefaultRand is process-wide shared randomness.
var DefaultRand Rand = globalRand{}

// weightedIndex picks an index from weights proportionally. Returns
// 0 when the weights are empty or sum to zero.
func weightedIndex(r Rand, weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	roll := r.Intn(total)
	cumulative := 0
	for i, w := range weights {
		cumulative += w
		if roll < cumulative {
			return i
		}
	}
	return 0
}

// DelayRange bounds a randomised scheduling delay.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Pick returns a duration in [Min, Max].
func (d DelayRange) Pick(r Rand) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	spread := int(d.Max-d.Min)/int(time.Second) + 1
	return d.Min + time.Duration(r.Intn(spread))*time.Second
}
