// Package estimate fits birth and death rates by maximum likelihood and
// compares fitted models with likelihood ratio tests.
package estimate

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/checkpoint"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/optimize"
)

var log = logging.MustGetLogger("estimate")

// Result is a fitted model.
type Result struct {
	Rates       cafe.RateAssignment `json:"rates"`
	LnL         float64             `json:"lnL"`
	Converged   bool                `json:"converged"`
	Iterations  int                 `json:"iterations"`
	NParameters int                 `json:"nParameters"`
	Restarts    int                 `json:"restarts"`
	Calls       int                 `json:"likelihoodCalls"`
	// Sweep holds per family results at the fitted rates.
	Sweep *cafe.SweepResult `json:"-"`
}

// Estimator fits rates of a model to families.
type Estimator struct {
	Model  *cafe.Model
	Family *family.Family
	Prior  cafe.Prior
	Settings

	rng    *rand.Rand
	maxBL  float64
	db     *bolt.DB
	ckey   []byte
	noCkpt bool
}

// New creates an estimator.
func New(m *cafe.Model, fam *family.Family, prior cafe.Prior, s Settings) *Estimator {
	return &Estimator{
		Model:    m,
		Family:   fam,
		Prior:    prior,
		Settings: s,
		rng:      rand.New(rand.NewSource(s.Seed)),
		maxBL:    m.Tree.MaxBranchLength(),
	}
}

// SetCheckpoint enables checkpoints under key in db.
func (e *Estimator) SetCheckpoint(db *bolt.DB, key []byte) {
	e.db = db
	e.ckey = key
}

// MaxRate returns the upper bound of the rates.
func (e *Estimator) MaxRate() float64 {
	if e.maxBL <= 0 {
		return e.RateScale
	}
	return e.RateScale / e.maxBL
}

func checkMethod(method string) error {
	if method == "" {
		return nil
	}
	for _, m := range Methods {
		if m == method {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown optimizer %q", cafe.ErrInvalidParameter, method)
}

func (e *Estimator) newOptimizer() (optimize.Optimizer, error) {
	var opt optimize.Optimizer
	switch e.Method {
	case "simplex", "":
		ds := optimize.NewDS()
		ds.Ftol = e.Ftol
		ds.Delta = e.MaxRate() / e.RateScale / 2
		opt = ds
	case "lbfgsb":
		opt = optimize.NewLBFGSB()
	case "bfgs":
		opt = optimize.NewBFGS()
	case "none":
		opt = optimize.NewNone()
	default:
		return nil, checkMethod(e.Method)
	}
	if e.ReportPeriod > 0 {
		opt.SetReportPeriod(e.ReportPeriod)
	}
	opt.SetOutput(e.Trace)
	if len(e.Signals) > 0 {
		opt.WatchSignals(e.Signals...)
	}
	return opt, nil
}

// Fit maximizes the likelihood starting from initial. The structure of
// initial (number of tags and components) defines the model.
func (e *Estimator) Fit(initial cafe.RateAssignment) (*Result, error) {
	initial = initial.Resolve()
	if err := e.Model.SetRates(initial); err != nil {
		return nil, err
	}
	if err := e.Model.CheckFamily(e.Family); err != nil {
		return nil, err
	}
	if err := checkMethod(e.Method); err != nil {
		return nil, err
	}
	log.Infof("Fitting %v rates (K=%d, tags=%d, weights %v)",
		initial.Mode(), initial.K, initial.Tags, e.Weights)

	if e.Weights == WeightsEM && initial.K > 1 {
		return e.fitEM(initial)
	}
	return e.fitRates(initial, e.Weights == WeightsSimplex, e.Restarts)
}

// randomStart draws rates uniformly in (0, 1/maxBranchLength) and
// weights from a flat Dirichlet distribution.
func (e *Estimator) randomStart(ev *evaluator) []float64 {
	v := make([]float64, ev.nRates+ev.nWeights)
	lim := 1 / e.maxBL
	if e.maxBL <= 0 {
		lim = 1
	}
	for i := 0; i < ev.nRates; i++ {
		for v[i] == 0 {
			v[i] = e.rng.Float64() * lim
		}
	}
	if ev.nWeights > 0 {
		w := make([]float64, ev.nWeights+1)
		sum := 0.0
		for i := range w {
			w[i] = e.rng.ExpFloat64()
			sum += w[i]
		}
		for i := 0; i < ev.nWeights; i++ {
			v[ev.nRates+i] = w[i] / sum
		}
	}
	return v
}

func (e *Estimator) fitRates(initial cafe.RateAssignment, searchWeights bool, restarts int) (*Result, error) {
	ev := newEvaluator(e, initial, searchWeights)
	starts := [][]float64{ev.values(initial)}
	for i := 0; i < restarts; i++ {
		starts = append(starts, e.randomStart(ev))
	}

	var ckpt *checkpoint.IO
	if e.db != nil && !e.noCkpt {
		ckpt = checkpoint.NewIO(e.db, e.ckey, ev.names(), e.CheckpointSeconds)
		data, err := ckpt.Load()
		if err != nil {
			log.Warningf("Ignoring checkpoint: %v", err)
		} else if data != nil {
			starts[0] = data.Values
		}
	}

	res := &Result{
		LnL:         math.Inf(-1),
		NParameters: ev.nRates + ev.nWeights,
		Restarts:    restarts,
	}
	if !searchWeights && e.Weights == WeightsEM && initial.K > 1 {
		res.NParameters += initial.K - 1
	}
	var best []float64
	for i, start := range starts {
		opt, err := e.newOptimizer()
		if err != nil {
			return nil, err
		}
		if ckpt != nil {
			opt.SetCheckpointer(ckpt)
		}
		opt.SetOptimizable(ev.newPoint(start))
		opt.Run(e.Iterations)
		sum := opt.Summary()
		log.Infof("Start %d: lnL=%v, converged=%v, iterations=%d", i, sum.MaxL, sum.Converged, sum.Iterations)
		res.Iterations += sum.Iterations
		res.Calls += sum.Calls
		if best == nil || sum.MaxL > res.LnL {
			res.LnL = sum.MaxL
			res.Converged = sum.Converged
			best = sum.MaxLPar
		}
	}

	rates, err := ev.rates(best)
	if err != nil {
		return nil, err
	}
	if err := e.Model.SetRates(rates); err != nil {
		return nil, err
	}
	sweep, err := e.Model.Sweep(e.Family, e.Prior)
	if err != nil {
		return nil, err
	}
	res.Rates = e.Model.Rates()
	res.LnL = sweep.LnL
	res.Sweep = sweep
	if !res.Converged {
		log.Warningf("Optimization did not converge in %d iterations", e.Iterations)
	}
	if len(sweep.Degenerate) > 0 {
		log.Warningf("%d families have zero likelihood at the fitted rates", len(sweep.Degenerate))
	}
	if ckpt != nil {
		if err := ckpt.Finalize(best, res.LnL, res.Iterations); err != nil {
			log.Warningf("Error saving final checkpoint: %v", err)
		}
	}
	log.Noticef("lnL=%v, %v", res.LnL, res.Rates)
	return res, nil
}

// fitEM alternates rate fits with fixed weights and weight updates
// from posterior memberships.
func (e *Estimator) fitEM(initial cafe.RateAssignment) (*Result, error) {
	current := initial
	restarts := e.Restarts
	var res *Result
	calls, iterations := 0, 0
	converged := false
	for it := 0; it < e.EMIterations; it++ {
		r, err := e.fitRates(current, false, restarts)
		if err != nil {
			return nil, err
		}
		restarts = 0
		calls += r.Calls
		iterations += r.Iterations
		res = r
		if _, err := e.Model.ComputePosteriors(e.Family, e.Prior); err != nil {
			return nil, err
		}
		weights := cafe.MeanMembership(e.Family)
		delta := 0.0
		for k, w := range weights {
			delta = math.Max(delta, math.Abs(w-r.Rates.Weights[k]))
		}
		current = r.Rates.Copy()
		current.Weights = weights
		log.Infof("EM iteration %d: lnL=%v, weights=%v", it+1, r.LnL, weights)
		if delta < e.EMTolerance {
			converged = r.Converged
			break
		}
	}
	if err := e.Model.SetRates(current); err != nil {
		return nil, err
	}
	sweep, err := e.Model.ComputePosteriors(e.Family, e.Prior)
	if err != nil {
		return nil, err
	}
	if !converged {
		log.Warningf("EM did not converge in %d iterations", e.EMIterations)
	}
	res.Rates = e.Model.Rates()
	res.LnL = sweep.LnL
	res.Sweep = sweep
	res.Converged = converged
	res.Calls = calls
	res.Iterations = iterations
	res.Restarts = e.Restarts
	return res, nil
}

// EachFamily fits global rates to every family separately and stores
// them as family rate overrides. The model rates are restored.
func (e *Estimator) EachFamily(initial cafe.RateAssignment) ([]*Result, error) {
	if initial.K != 1 {
		return nil, fmt.Errorf("%w: per family fits need a single component", cafe.ErrInvalidParameter)
	}
	saved := e.Model.Rates()
	if err := e.Model.CheckFamily(e.Family); err != nil {
		return nil, err
	}
	results := make([]*Result, e.Family.Len())
	for i, item := range e.Family.Items {
		single := *item
		single.Lambda, single.Mu, single.Ref = nil, nil, -1
		sub := family.New(e.Family.Species)
		if err := sub.Add(&single); err != nil {
			return nil, err
		}
		fe := New(e.Model, sub, e.Prior, e.Settings)
		fe.Weights = WeightsFixed
		fe.noCkpt = true
		res, err := fe.Fit(initial)
		if err != nil {
			return nil, fmt.Errorf("family %s: %w", item.ID, err)
		}
		results[i] = res
		item.Lambda = make([]float64, res.Rates.Tags)
		item.Mu = make([]float64, res.Rates.Tags)
		for t := range item.Lambda {
			p := res.Rates.Pair(0, t)
			item.Lambda[t], item.Mu[t] = p.Lambda, p.Mu
		}
		item.MaxLH = single.MaxLH
		log.Infof("Family %s: lnL=%v, %v", item.ID, res.LnL, res.Rates)
	}
	if err := e.Model.SetRates(saved); err != nil {
		return nil, err
	}
	return results, nil
}
