// Package optimize implements numerical maximizers of likelihood
// functions over bounded float parameters.
package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("optimize")

// Optimizable is a point in the parameter space with a likelihood.
type Optimizable interface {
	GetFloatParameters() FloatParameters
	Copy() Optimizable
	Likelihood() float64
}

// Checkpointer stores the best parameters found so far.
type Checkpointer interface {
	Save(values []float64, l float64, iter int) error
}

// Optimizer maximizes the likelihood of an Optimizable.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetCheckpointer(Checkpointer)
	SetOutput(io.Writer)
	Run(iterations int)
	Summary() Summary
}

// Summary is the outcome of an optimizer run.
type Summary struct {
	MaxL       float64   `json:"maxLnL"`
	MaxLPar    []float64 `json:"maxLParameters"`
	Names      []string  `json:"parameterNames"`
	Iterations int       `json:"iterations"`
	Calls      int       `json:"likelihoodCalls"`
	Converged  bool      `json:"converged"`
}

// BaseOptimizer holds the state common to all the optimizers.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	calls      int
	l          float64
	maxL       float64
	maxLPar    []float64
	converged  bool
	repPeriod  int
	sig        chan os.Signal
	checkpoint Checkpointer
	// Output receives a tab separated trace of the likelihood.
	// No trace is written if it is nil.
	Output io.Writer
}

func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
}

func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

func (o *BaseOptimizer) SetCheckpointer(c Checkpointer) {
	o.checkpoint = c
}

func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.Output = w
}

// signaled returns true if a watched signal was received.
func (o *BaseOptimizer) signaled() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
	}
	return false
}

// update records the best point.
func (o *BaseOptimizer) update(par FloatParameters, l float64) {
	o.l = l
	if l > o.maxL || o.maxLPar == nil {
		o.maxL = l
		o.maxLPar = par.Values(o.maxLPar)
	}
}

// report writes the trace line and the checkpoint.
func (o *BaseOptimizer) report(par FloatParameters, l float64) {
	o.PrintLine(par, l)
	if o.checkpoint != nil && o.maxLPar != nil && !math.IsInf(o.maxL, -1) {
		if err := o.checkpoint.Save(o.maxLPar, o.maxL, o.i); err != nil {
			log.Errorf("Error saving checkpoint: %v", err)
		}
	}
}

func (o *BaseOptimizer) PrintHeader(par FloatParameters) {
	if o.Output != nil {
		fmt.Fprintf(o.Output, "iteration\tlikelihood\t%s\n", par.NamesString())
	}
}

func (o *BaseOptimizer) PrintLine(par FloatParameters, l float64) {
	if o.Output != nil {
		fmt.Fprintf(o.Output, "%d\t%f\t%s\n", o.i, l, par.ValuesString())
	}
}

func (o *BaseOptimizer) PrintFinal(par FloatParameters) {
	for i, p := range par {
		log.Infof("%s=%v", p.Name(), o.maxLPar[i])
	}
}

func (o *BaseOptimizer) Summary() Summary {
	return Summary{
		MaxL:       o.maxL,
		MaxLPar:    append([]float64(nil), o.maxLPar...),
		Names:      o.parameters.Names(nil),
		Iterations: o.i,
		Calls:      o.calls,
		Converged:  o.converged,
	}
}
