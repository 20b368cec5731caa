package optimize

import (
	"errors"
	"math"

	gopt "gonum.org/v1/gonum/optimize"
)

// BFGS is an unbounded quasi-Newton optimizer with a numerical
// gradient. Points outside of the parameter bounds have zero
// likelihood.
type BFGS struct {
	BaseOptimizer
	dH float64
}

func NewBFGS() (b *BFGS) {
	b = &BFGS{dH: 1e-6}
	b.repPeriod = 10
	return
}

// Init implements the gonum Recorder.
func (b *BFGS) Init() error {
	return nil
}

// Record implements the gonum Recorder.
func (b *BFGS) Record(loc *gopt.Location, op gopt.Operation, s *gopt.Stats) error {
	if op == gopt.MajorIteration {
		b.i = s.MajorIterations
		if b.i%b.repPeriod == 0 {
			b.report(b.parameters, -loc.F)
		}
	}
	if b.signaled() {
		return errors.New("exiting by signal")
	}
	return nil
}

func (b *BFGS) f(x []float64) float64 {
	if !b.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	b.parameters.SetValues(x)
	l := b.Likelihood()
	b.calls++
	b.update(b.parameters, l)
	return -l
}

func (b *BFGS) grad(grad, x []float64) {
	no := b.Optimizable.Copy()
	par := no.GetFloatParameters()
	for i := range x {
		par.SetValues(x)
		lo, hi := x[i]-b.dH, x[i]+b.dH
		if !par[i].ValueInRange(lo) {
			lo = x[i]
		}
		if !par[i].ValueInRange(hi) {
			hi = x[i]
		}
		par[i].Set(lo)
		l1 := -no.Likelihood()
		par[i].Set(hi)
		l2 := -no.Likelihood()
		b.calls += 2
		grad[i] = (l2 - l1) / (hi - lo)
		if math.IsNaN(grad[i]) || math.IsInf(grad[i], 0) {
			grad[i] = 0
		}
	}
}

func (b *BFGS) Run(iterations int) {
	b.maxL = math.Inf(-1)
	b.maxLPar = nil
	b.converged = false
	b.PrintHeader(b.parameters)

	p := gopt.Problem{
		Func: b.f,
		Grad: b.grad,
	}
	settings := &gopt.Settings{
		MajorIterations: iterations,
		Recorder:        b,
	}
	result, err := gopt.Minimize(p, b.parameters.Values(nil), settings, &gopt.BFGS{})
	switch {
	case err != nil:
		log.Warningf("BFGS error: %v", err)
	case result.Status == gopt.IterationLimit:
		log.Warningf("Iterations exceeded (%d)", iterations)
	default:
		b.converged = true
	}
	if b.maxLPar != nil {
		b.parameters.SetValues(b.maxLPar)
	}
	log.Info("Finished BFGS")
	log.Infof("Maximum likelihood: %v", b.maxL)
	b.report(b.parameters, b.maxL)
	b.PrintFinal(b.parameters)
}
