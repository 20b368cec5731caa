package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is a bounded quasi-Newton optimizer with a numerical
// gradient.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
	stop bool
}

func NewLBFGSB() (l *LBFGSB) {
	l = &LBFGSB{dH: 1e-6}
	l.repPeriod = 10
	return
}

func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.parameters.SetValues(info.X)
	if l.i%l.repPeriod == 0 {
		l.report(l.parameters, -info.F)
	}
	if l.signaled() {
		l.stop = true
	}
}

func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if l.stop || !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}

	l.parameters.SetValues(x)

	L := l.Likelihood()
	l.calls++
	l.update(l.parameters, L)
	return -L
}

func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	for i := range x {
		no := l.Optimizable.Copy()
		par := no.GetFloatParameters()
		par.SetValues(x)

		// one-sided differences at the bounds
		lo, hi := x[i]-l.dH, x[i]+l.dH
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
		l.calls += 2

		grad[i] = (l2 - l1) / (hi - lo)
		if math.IsNaN(grad[i]) || math.IsInf(grad[i], 0) {
			grad[i] = 0
		}
	}
	return
}

func (l *LBFGSB) Run(iterations int) {
	l.maxL = math.Inf(-1)
	l.maxLPar = nil
	l.stop = false
	l.PrintHeader(l.parameters)
	bounds := make([][2]float64, len(l.parameters))

	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin()
		bounds[i][1] = par.GetMax()
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))
	l.converged = exitStatus.Code == lbfgsb.SUCCESS && !l.stop && l.i <= iterations
	if !l.converged {
		log.Warningf("L-BFGS-B did not converge: %v", exitStatus)
	}
	if l.maxLPar != nil {
		l.parameters.SetValues(l.maxLPar)
	}

	log.Info("Finished LBFGSB")
	log.Infof("Maximum likelihood: %v", l.maxL)
	log.Infof("Likelihood function calls: %v", l.calls)
	l.report(l.parameters, l.maxL)
	l.PrintFinal(l.parameters)
}
