package cafe

import (
	"fmt"
	"math"
	"strings"
)

// RatePair holds birth (Lambda) and death (Mu) rates.
type RatePair struct {
	Lambda float64 `toml:"lambda" json:"lambda"`
	Mu     float64 `toml:"mu" json:"mu"`
}

// RateMode is the kind of rate assignment.
type RateMode int

const (
	// RateGlobal uses one pair for the whole tree.
	RateGlobal RateMode = iota
	// RateClustered uses one pair per lambda-cluster tag.
	RateClustered
	// RateMixture uses K sets of pairs mixed with weights.
	RateMixture
)

func (mode RateMode) String() string {
	switch mode {
	case RateGlobal:
		return "global"
	case RateClustered:
		return "clustered"
	case RateMixture:
		return "mixture"
	}
	return fmt.Sprintf("RateMode(%d)", int(mode))
}

// RateAssignment maps tree branches to rates. Pairs are indexed by
// mixture component and then by cluster tag. A negative Mu means the
// death rate is tied to the birth rate.
type RateAssignment struct {
	Tags    int          `json:"tags"`
	K       int          `json:"k"`
	Pairs   [][]RatePair `json:"pairs"`
	Weights []float64    `json:"weights,omitempty"`
}

// GlobalRates creates a single pair assignment.
func GlobalRates(lambda, mu float64) RateAssignment {
	return RateAssignment{
		Tags:    1,
		K:       1,
		Pairs:   [][]RatePair{{{lambda, mu}}},
		Weights: []float64{1},
	}
}

// ClusteredRates creates an assignment with one pair per tag.
func ClusteredRates(pairs []RatePair) RateAssignment {
	p := make([]RatePair, len(pairs))
	copy(p, pairs)
	return RateAssignment{
		Tags:    len(pairs),
		K:       1,
		Pairs:   [][]RatePair{p},
		Weights: []float64{1},
	}
}

// MixtureRates creates a K-component assignment, pairs[k][tag].
// Nil weights mean equal weights.
func MixtureRates(pairs [][]RatePair, weights []float64) RateAssignment {
	ra := RateAssignment{K: len(pairs)}
	if len(pairs) > 0 {
		ra.Tags = len(pairs[0])
	}
	ra.Pairs = make([][]RatePair, len(pairs))
	for k := range pairs {
		ra.Pairs[k] = make([]RatePair, len(pairs[k]))
		copy(ra.Pairs[k], pairs[k])
	}
	if weights == nil && ra.K > 0 {
		weights = make([]float64, ra.K)
		for k := range weights {
			weights[k] = 1 / float64(ra.K)
		}
	}
	ra.Weights = append([]float64(nil), weights...)
	return ra
}

// Mode returns the kind of the assignment.
func (ra RateAssignment) Mode() RateMode {
	switch {
	case ra.K > 1:
		return RateMixture
	case ra.Tags > 1:
		return RateClustered
	}
	return RateGlobal
}

// Copy returns a deep copy.
func (ra RateAssignment) Copy() RateAssignment {
	res := MixtureRates(ra.Pairs, ra.Weights)
	res.K = ra.K
	res.Tags = ra.Tags
	return res
}

// Pair returns rates for component k and tag.
func (ra RateAssignment) Pair(k, tag int) RatePair {
	return ra.Pairs[k][tag]
}

// Resolve returns a copy with tied death rates replaced by the birth
// rates.
func (ra RateAssignment) Resolve() RateAssignment {
	res := ra.Copy()
	for k := range res.Pairs {
		for t := range res.Pairs[k] {
			if res.Pairs[k][t].Mu < 0 {
				res.Pairs[k][t].Mu = res.Pairs[k][t].Lambda
			}
		}
	}
	return res
}

// Validate checks the shape of the assignment and the rates. It should
// be called after Resolve.
func (ra RateAssignment) Validate() error {
	if ra.K <= 0 {
		return fmt.Errorf("%w: number of components must be positive, got %d", ErrInvalidParameter, ra.K)
	}
	if ra.Tags <= 0 {
		return fmt.Errorf("%w: number of tags must be positive, got %d", ErrInvalidParameter, ra.Tags)
	}
	if len(ra.Pairs) != ra.K {
		return fmt.Errorf("%w: %d rate sets for %d components", ErrInvalidParameter, len(ra.Pairs), ra.K)
	}
	for k, pairs := range ra.Pairs {
		if len(pairs) != ra.Tags {
			return fmt.Errorf("%w: component %d has %d pairs, expected %d", ErrInvalidParameter, k, len(pairs), ra.Tags)
		}
		for t, p := range pairs {
			if p.Lambda < 0 || p.Mu < 0 || math.IsNaN(p.Lambda) || math.IsNaN(p.Mu) ||
				math.IsInf(p.Lambda, 0) || math.IsInf(p.Mu, 0) {
				return fmt.Errorf("%w: component %d, tag %d: lambda=%v, mu=%v", ErrInvalidParameter, k, t, p.Lambda, p.Mu)
			}
		}
	}
	if len(ra.Weights) != ra.K {
		return fmt.Errorf("%w: %d weights for %d components", ErrInvalidParameter, len(ra.Weights), ra.K)
	}
	sum := 0.0
	for _, w := range ra.Weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidParameter, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: weights sum to %v", ErrInvalidParameter, sum)
	}
	return nil
}

// NParameters returns the number of free rates. Weights are not
// counted.
func (ra RateAssignment) NParameters(estimateMu bool) int {
	n := ra.K * ra.Tags
	if estimateMu {
		n *= 2
	}
	return n
}

func (ra RateAssignment) String() string {
	var b strings.Builder
	for k, pairs := range ra.Pairs {
		if ra.K > 1 {
			fmt.Fprintf(&b, "[%d w=%.4f]", k, ra.Weights[k])
		}
		for t, p := range pairs {
			fmt.Fprintf(&b, " #%d lambda=%g mu=%g", t, p.Lambda, p.Mu)
		}
	}
	return strings.TrimSpace(b.String())
}
