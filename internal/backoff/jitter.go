package backoff

import (
	"math/rand/v2"
	"time"
)

// JitterType selects how a computed interval is randomized before use,
// per spec §7's "bounded exponential backoff + jitter".
type JitterType int

const (
	// NoJitter returns the interval unchanged.
	NoJitter JitterType = iota
	// FullJitter returns a random duration in [0, interval], the
	// "full jitter" strategy from the AWS architecture blog's backoff
	// survey: maximizes spread at the cost of sometimes retrying almost
	// immediately.
	FullJitter
	// Jitter returns a random duration in [interval/2, interval*1.5],
	// a narrower spread around the computed interval ("equal jitter"
	// widened to a symmetric band) for callers that still want most
	// retries to land near the computed backoff.
	Jitter
)

// JitterFunc randomizes interval according to a JitterType. Zero and
// negative intervals always return zero.
type JitterFunc func(interval time.Duration) time.Duration

// NewJitterFunc returns the JitterFunc for the given JitterType.
func NewJitterFunc(jt JitterType) JitterFunc {
	switch jt {
	case FullJitter:
		return func(interval time.Duration) time.Duration {
			if interval <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(interval) + 1))
		}
	case Jitter:
		return func(interval time.Duration) time.Duration {
			if interval <= 0 {
				return 0
			}
			half := int64(interval) / 2
			span := int64(interval) // [half, half+span] == [0.5x, 1.5x]
			return time.Duration(half + rand.Int64N(span+1))
		}
	default:
		return func(interval time.Duration) time.Duration {
			if interval <= 0 {
				return 0
			}
			return interval
		}
	}
}

// jitteredPolicy wraps a RetryPolicy, applying a JitterFunc to the
// interval it computes. Exhaustion/error results pass through unchanged.
type jitteredPolicy struct {
	base   RetryPolicy
	jitter JitterFunc
}

// WithJitter wraps policy so every computed interval is randomized by jt
// before use, without changing the policy's retry-count/exhaustion logic.
func WithJitter(policy RetryPolicy, jt JitterType) RetryPolicy {
	return &jitteredPolicy{base: policy, jitter: NewJitterFunc(jt)}
}

func (p *jitteredPolicy) ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.base.ComputeNextInterval(retryCount, elapsedTime, err)
	if computeErr != nil {
		return 0, computeErr
	}
	return p.jitter(interval), nil
}
