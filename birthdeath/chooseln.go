package birthdeath

import (
	"math"
)

// ChooseLnCache keeps log-factorials up to a fixed maximum. It is
// filled once and only read afterwards, so it can be shared between
// goroutines.
type ChooseLnCache struct {
	lnFact []float64
}

// NewChooseLnCache creates a table covering binomial coefficients
// C(n, k) for n <= maxN.
func NewChooseLnCache(maxN int) *ChooseLnCache {
	if maxN < 1 {
		maxN = 1
	}
	c := &ChooseLnCache{lnFact: make([]float64, maxN+1)}
	for i := 2; i <= maxN; i++ {
		c.lnFact[i] = c.lnFact[i-1] + math.Log(float64(i))
	}
	return c
}

// MaxN returns the largest n the table covers.
func (c *ChooseLnCache) MaxN() int {
	return len(c.lnFact) - 1
}

// ChooseLn returns ln C(n, k). Out of range k gives -Inf (coefficient 0).
func (c *ChooseLnCache) ChooseLn(n, k int) float64 {
	if k < 0 || k > n || n < 0 {
		return math.Inf(-1)
	}
	if n >= len(c.lnFact) {
		lg := func(x int) float64 {
			v, _ := math.Lgamma(float64(x) + 1)
			return v
		}
		return lg(n) - lg(k) - lg(n-k)
	}
	return c.lnFact[n] - c.lnFact[k] - c.lnFact[n-k]
}
