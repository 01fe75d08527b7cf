package data

import (
	"fmt"
	"math/rand"
)

type samplingKind int

const (
	samplingAll samplingKind = iota
	samplingFraction
	samplingCount
)

// Sampling is a policy for selecting points from an available set: every
// point, a uniform random fraction, or an explicit count. Selection is
// uniform without replacement.
type Sampling struct {
	kind     samplingKind
	fraction float64
	count    int
}

// SampleAll includes every available point.
func SampleAll() Sampling {
	return Sampling{kind: samplingAll}
}

// SampleFraction samples a fraction in [0, 1] of the available points.
// Fraction 0 selects an empty set.
func SampleFraction(f float64) Sampling {
	return Sampling{kind: samplingFraction, fraction: f}
}

// SampleCount samples exactly n points.
func SampleCount(n int) Sampling {
	return Sampling{kind: samplingCount, count: n}
}

// size resolves the policy against n available points.
func (s Sampling) size(n int) (int, error) {
	switch s.kind {
	case samplingAll:
		return n, nil
	case samplingFraction:
		if s.fraction < 0 || s.fraction > 1 {
			return 0, fmt.Errorf("sampling fraction %v outside [0, 1]", s.fraction)
		}
		return int(s.fraction * float64(n)), nil
	case samplingCount:
		if s.count < 0 {
			return 0, fmt.Errorf("sampling count %d is negative", s.count)
		}
		if s.count > n {
			return 0, fmt.Errorf("sampling count %d exceeds %d available points", s.count, n)
		}
		return s.count, nil
	default:
		return 0, fmt.Errorf("unknown sampling kind %d", s.kind)
	}
}

// pick selects indices into [0, n) per the policy.
func (s Sampling) pick(n int, rng *rand.Rand) ([]int, error) {
	k, err := s.size(n)
	if err != nil {
		return nil, err
	}
	if k == n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	perm := rng.Perm(n)
	return perm[:k], nil
}

// String renders the policy for cache keys and logs.
func (s Sampling) String() string {
	switch s.kind {
	case samplingAll:
		return "all"
	case samplingFraction:
		return fmt.Sprintf("frac=%g", s.fraction)
	case samplingCount:
		return fmt.Sprintf("count=%d", s.count)
	default:
		return "unknown"
	}
}
