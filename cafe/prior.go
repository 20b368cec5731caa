package cafe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mrrlab/gofam/family"
)

// Prior holds weights of root sizes starting from Range.MinRoot.
type Prior []float64

// UniformPrior gives equal weight to all root sizes.
func UniformPrior(r family.Range) Prior {
	p := make(Prior, r.NRoot())
	for i := range p {
		p[i] = 1 / float64(len(p))
	}
	return p
}

// PoissonPrior uses a Poisson distribution with the given mean,
// renormalized over the root range.
func PoissonPrior(r family.Range, mean float64) (Prior, error) {
	if mean <= 0 || math.IsNaN(mean) {
		return nil, fmt.Errorf("%w: Poisson mean %v", ErrInvalidParameter, mean)
	}
	d := distuv.Poisson{Lambda: mean}
	p := make(Prior, r.NRoot())
	for i := range p {
		p[i] = d.Prob(float64(r.MinRoot + i))
	}
	return p.normalize()
}

// EmpiricalPrior uses frequencies of root sizes, e.g. maximum
// likelihood sizes from a previous sweep. Sizes outside the root range
// are ignored.
func EmpiricalPrior(r family.Range, sizes []int) (Prior, error) {
	p := make(Prior, r.NRoot())
	for _, s := range sizes {
		if s >= r.MinRoot && s <= r.MaxRoot {
			p[s-r.MinRoot]++
		}
	}
	return p.normalize()
}

// FitPoissonMean returns the maximum likelihood Poisson mean of the
// root sizes of fam. Cached MaxLH values are used when available,
// otherwise the leaf counts.
func FitPoissonMean(fam *family.Family) float64 {
	sum, n := 0.0, 0
	for _, item := range fam.Items {
		if item.MaxLH >= 0 {
			sum += float64(item.MaxLH)
			n++
		}
	}
	if n == 0 {
		for _, item := range fam.Items {
			for _, c := range item.Count {
				sum += float64(c)
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (p Prior) normalize() (Prior, error) {
	sum := floats.Sum(p)
	if sum <= 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w: prior has no mass in the root range", ErrInvalidParameter)
	}
	floats.Scale(1/sum, p)
	return p, nil
}

// checkPrior returns a uniform prior for nil, or validates p.
func (m *Model) checkPrior(p Prior) (Prior, error) {
	if p == nil {
		return UniformPrior(m.Range), nil
	}
	if len(p) != m.Range.NRoot() {
		return nil, fmt.Errorf("%w: prior has %d sizes, root range has %d",
			ErrInvalidParameter, len(p), m.Range.NRoot())
	}
	for _, v := range p {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: negative prior weight %v", ErrInvalidParameter, v)
		}
	}
	return p, nil
}
