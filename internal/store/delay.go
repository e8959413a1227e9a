package store

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultMinDelay = 1000 * time.Millisecond
	DefaultMaxDelay = 3000 * time.Millisecond
)

// DelayFunc picks how long a simulated reply takes.
type DelayFunc func() time.Duration

// UniformDelay draws uniformly from [min, max). max <= min always yields min.
func UniformDelay(min, max time.Duration) DelayFunc {
	return func() time.Duration {
		if max <= min {
			return min
		}
		return min + rand.N(max-min)
	}
}

func FixedDelay(d time.Duration) DelayFunc {
	return func() time.Duration { return d }
}
