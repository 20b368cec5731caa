package estimate

import (
	"fmt"
	"math"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/optimize"
)

// evaluator maps parameter vectors to rate assignments and computes
// their likelihood. Values are laid out as rates per component and
// tag (lambda, then mu if estimated) followed by K-1 free weights.
type evaluator struct {
	e        *Estimator
	base     cafe.RateAssignment
	perPair  int
	nRates   int
	nWeights int
	calls    int
}

func newEvaluator(e *Estimator, base cafe.RateAssignment, searchWeights bool) *evaluator {
	ev := &evaluator{e: e, base: base.Copy(), perPair: 1}
	if e.EstimateMu {
		ev.perPair = 2
	}
	ev.nRates = base.K * base.Tags * ev.perPair
	if searchWeights && base.K > 1 {
		ev.nWeights = base.K - 1
	}
	return ev
}

func (ev *evaluator) names() []string {
	names := make([]string, 0, ev.nRates+ev.nWeights)
	for k := 0; k < ev.base.K; k++ {
		for t := 0; t < ev.base.Tags; t++ {
			suffix := ""
			if ev.base.Tags > 1 {
				suffix += fmt.Sprintf("#%d", t)
			}
			if ev.base.K > 1 {
				suffix += fmt.Sprintf("_k%d", k)
			}
			names = append(names, "lambda"+suffix)
			if ev.perPair == 2 {
				names = append(names, "mu"+suffix)
			}
		}
	}
	for k := 0; k < ev.nWeights; k++ {
		names = append(names, fmt.Sprintf("w%d", k))
	}
	return names
}

// values converts rates into a parameter vector.
func (ev *evaluator) values(ra cafe.RateAssignment) []float64 {
	v := make([]float64, 0, ev.nRates+ev.nWeights)
	for k := 0; k < ev.base.K; k++ {
		for t := 0; t < ev.base.Tags; t++ {
			p := ra.Pair(k, t)
			v = append(v, p.Lambda)
			if ev.perPair == 2 {
				v = append(v, p.Mu)
			}
		}
	}
	for k := 0; k < ev.nWeights; k++ {
		v = append(v, ra.Weights[k])
	}
	return v
}

// rates converts a parameter vector into rates.
func (ev *evaluator) rates(v []float64) (cafe.RateAssignment, error) {
	if len(v) != ev.nRates+ev.nWeights {
		return cafe.RateAssignment{}, fmt.Errorf("%w: %d parameters, expected %d",
			cafe.ErrInvalidParameter, len(v), ev.nRates+ev.nWeights)
	}
	ra := ev.base.Copy()
	i := 0
	for k := 0; k < ra.K; k++ {
		for t := 0; t < ra.Tags; t++ {
			ra.Pairs[k][t].Lambda = v[i]
			ra.Pairs[k][t].Mu = v[i]
			if ev.perPair == 2 {
				ra.Pairs[k][t].Mu = v[i+1]
			}
			i += ev.perPair
		}
	}
	if ev.nWeights > 0 {
		last := 1.0
		for k := 0; k < ev.nWeights; k++ {
			ra.Weights[k] = v[i+k]
			last -= v[i+k]
		}
		if last < -1e-12 {
			return cafe.RateAssignment{}, fmt.Errorf("%w: weights sum above one", cafe.ErrInvalidParameter)
		}
		ra.Weights[ra.K-1] = math.Max(last, 0)
	}
	return ra, nil
}

// likelihood returns the total log-likelihood or -Inf for invalid
// points.
func (ev *evaluator) likelihood(v []float64) float64 {
	ev.calls++
	ra, err := ev.rates(v)
	if err != nil {
		return math.Inf(-1)
	}
	if err := ev.e.Model.SetRates(ra); err != nil {
		return math.Inf(-1)
	}
	res, err := ev.e.Model.Sweep(ev.e.Family, ev.e.Prior)
	if err != nil || math.IsNaN(res.LnL) {
		return math.Inf(-1)
	}
	return res.LnL
}

// point is a parameter vector of an evaluator.
type point struct {
	ev         *evaluator
	v          []float64
	parameters optimize.FloatParameters
}

func (ev *evaluator) newPoint(v []float64) *point {
	p := &point{ev: ev, v: append([]float64(nil), v...)}
	names := ev.names()
	for i := range p.v {
		par := optimize.NewBasicFloatParameter(&p.v[i], names[i])
		par.SetMin(0)
		if i < ev.nRates {
			par.SetMax(ev.e.MaxRate())
		} else {
			par.SetMax(1)
		}
		p.parameters.Append(par)
	}
	return p
}

func (p *point) GetFloatParameters() optimize.FloatParameters {
	return p.parameters
}

func (p *point) Copy() optimize.Optimizable {
	return p.ev.newPoint(p.v)
}

func (p *point) Likelihood() float64 {
	return p.ev.likelihood(p.v)
}
