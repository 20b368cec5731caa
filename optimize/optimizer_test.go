package optimize

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/op/go-logging"
)

func init() {
	logging.SetLevel(logging.WARNING, "optimize")
}

type quadratic struct {
	x, y       float64
	parameters FloatParameters
}

func newQuadratic(x, y float64) *quadratic {
	q := &quadratic{x: x, y: y}
	for _, par := range []*BasicFloatParameter{
		NewBasicFloatParameter(&q.x, "x"),
		NewBasicFloatParameter(&q.y, "y"),
	} {
		par.SetMin(-10)
		par.SetMax(10)
		q.parameters.Append(par)
	}
	return q
}

func (q *quadratic) GetFloatParameters() FloatParameters {
	return q.parameters
}

func (q *quadratic) Copy() Optimizable {
	return newQuadratic(q.x, q.y)
}

func (q *quadratic) Likelihood() float64 {
	return -(q.x-1)*(q.x-1) - 2*(q.y+0.5)*(q.y+0.5) - 5
}

type saves struct {
	n int
	l float64
}

func (s *saves) Save(values []float64, l float64, iter int) error {
	s.n++
	s.l = l
	return nil
}

func checkOptimum(tst *testing.T, sum Summary) {
	if math.Abs(sum.MaxLPar[0]-1) > 1e-3 || math.Abs(sum.MaxLPar[1]+0.5) > 1e-3 {
		tst.Error("Wrong optimum:", sum.MaxLPar)
	}
	if math.Abs(sum.MaxL+5) > 1e-5 {
		tst.Error("Wrong maximum:", sum.MaxL)
	}
}

func TestSimplex(tst *testing.T) {
	ds := NewDS()
	var out bytes.Buffer
	ds.Output = &out
	cp := &saves{}
	ds.SetCheckpointer(cp)
	ds.SetOptimizable(newQuadratic(3, 3))
	ds.Run(1000)
	sum := ds.Summary()
	checkOptimum(tst, sum)
	if !sum.Converged {
		tst.Error("Simplex did not converge")
	}
	if sum.Iterations >= 1000 || sum.Calls == 0 {
		tst.Error("Wrong iteration count:", sum.Iterations, sum.Calls)
	}
	if cp.n == 0 || cp.l != sum.MaxL {
		tst.Error("Checkpoint not saved:", cp.n, cp.l)
	}
	if !strings.HasPrefix(out.String(), "iteration\tlikelihood\tx\ty\n") {
		tst.Error("Wrong trace header:", out.String())
	}
}

func TestSimplexIterations(tst *testing.T) {
	ds := NewDS()
	ds.SetOptimizable(newQuadratic(3, 3))
	ds.Run(5)
	sum := ds.Summary()
	if sum.Converged {
		tst.Error("Simplex should not converge in 5 iterations")
	}
	if sum.Iterations != 5 {
		tst.Error("Expected 5 iterations, got", sum.Iterations)
	}
	if sum.MaxL < newQuadratic(3, 3).Likelihood() {
		tst.Error("Best point worse than the start")
	}
}

// impossible has no point with a finite likelihood.
type impossible struct {
	*quadratic
}

func (q impossible) Copy() Optimizable {
	return impossible{newQuadratic(q.x, q.y)}
}

func (q impossible) Likelihood() float64 {
	return math.Inf(-1)
}

func TestSimplexImpossible(tst *testing.T) {
	ds := NewDS()
	ds.SetOptimizable(impossible{newQuadratic(3, 3)})
	ds.Run(1000)
	sum := ds.Summary()
	if sum.Converged {
		tst.Error("Simplex without a finite likelihood reported convergence")
	}
	if !math.IsInf(sum.MaxL, -1) {
		tst.Error("Expected -Inf maximum, got", sum.MaxL)
	}
	if sum.Iterations >= 1000 {
		tst.Error("Simplex did not stop after the retry:", sum.Iterations)
	}
}

func TestSimplexBounds(tst *testing.T) {
	ds := NewDS()
	q := newQuadratic(9.5, 0)
	ds.SetOptimizable(q)
	ds.Run(1000)
	checkOptimum(tst, ds.Summary())
}

func TestBFGS(tst *testing.T) {
	b := NewBFGS()
	b.SetOptimizable(newQuadratic(3, 3))
	b.Run(100)
	checkOptimum(tst, b.Summary())
}

func TestLBFGSB(tst *testing.T) {
	if testing.Short() {
		tst.Skip("skipping L-BFGS-B in short mode")
	}
	l := NewLBFGSB()
	l.SetOptimizable(newQuadratic(3, 3))
	l.Run(100)
	checkOptimum(tst, l.Summary())
}

func TestNone(tst *testing.T) {
	n := NewNone()
	n.SetOptimizable(newQuadratic(1, -0.5))
	n.Run(0)
	sum := n.Summary()
	if sum.MaxL != -5 || !sum.Converged || sum.Calls != 1 {
		tst.Error("Wrong summary:", sum)
	}
}
