package main

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"syscall"

	bolt "go.etcd.io/bbolt"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/checkpoint"
	"github.com/mrrlab/gofam/estimate"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/tree"
)

// runner executes gofam commands.
type runner struct {
	conf  Config
	trace io.Writer
	db    *bolt.DB
}

func readTree(fn string) (*tree.Tree, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := tree.ParseNewick(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	log.Infof("Tree with %d species and %d cluster tags", t.NLeaves(), t.NClasses())
	log.Debugf("intree=%s", t.ClassString())
	return t, nil
}

// readFamilies reads families, binds them to the tree and removes the
// ones that do not fit the range. A nil range is computed from the
// largest count.
func readFamilies(fn string, t *tree.Tree, r *family.Range) (*family.Family, family.Range, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, family.Range{}, err
	}
	defer f.Close()

	fam, err := family.Read(f)
	if err != nil {
		return nil, family.Range{}, fmt.Errorf("%s: %w", fn, err)
	}
	if err := fam.BindTree(t); err != nil {
		return nil, family.Range{}, err
	}
	var rng family.Range
	if r != nil {
		rng = *r
	} else {
		rng = family.RangeFor(fam.MaxCount())
	}
	if n := fam.Filter(rng); n > 0 {
		log.Warningf("Removed %d families with counts above %d", n, rng.Max)
	}
	if fam.Len() == 0 {
		return nil, rng, fmt.Errorf("%w: no families left", family.ErrDataShape)
	}
	log.Infof("Range: %v", rng)
	return fam, rng, nil
}

// load reads the input and creates a model with the starting rates.
func (r *runner) load(summary *RunSummary) (*cafe.Model, *family.Family, cafe.RateAssignment, error) {
	var rates cafe.RateAssignment
	t, err := readTree(r.conf.Tree)
	if err != nil {
		return nil, nil, rates, err
	}
	fam, rng, err := readFamilies(r.conf.Families, t, r.conf.Range)
	if err != nil {
		return nil, nil, rates, err
	}
	summary.Tree = t.ClassString()
	summary.Range = &rng

	rates, err = r.conf.initialRates(t.NClasses())
	if err != nil {
		return nil, nil, rates, err
	}
	m, err := r.newModel(t, rng, rates)
	if err != nil {
		return nil, nil, rates, err
	}
	return m, fam, rates, nil
}

func (r *runner) newModel(t *tree.Tree, rng family.Range, rates cafe.RateAssignment) (*cafe.Model, error) {
	m, err := cafe.NewModel(t, rng, rates)
	if err != nil {
		return nil, err
	}
	if r.conf.ErrorRate > 0 {
		log.Infof("Miscount error rate: %v", r.conf.ErrorRate)
		m.ErrorModel = cafe.MiscountError{Rate: r.conf.ErrorRate}
	}
	return m, nil
}

// prior creates the root size prior. The empirical prior uses the
// maximum likelihood root sizes under the starting rates.
func (r *runner) prior(m *cafe.Model, fam *family.Family) (cafe.Prior, error) {
	switch r.conf.Prior {
	case "poisson":
		mean := cafe.FitPoissonMean(fam)
		log.Infof("Poisson root prior, mean=%v", mean)
		return cafe.PoissonPrior(m.Range, mean)
	case "empirical":
		sweep, err := m.Sweep(fam, nil)
		if err != nil {
			return nil, err
		}
		sizes := make([]int, 0, len(sweep.Families))
		for _, fr := range sweep.Families {
			sizes = append(sizes, fr.ML)
		}
		log.Info("Empirical root prior")
		return cafe.EmpiricalPrior(m.Range, sizes)
	}
	log.Info("Uniform root prior")
	return cafe.UniformPrior(m.Range), nil
}

func (r *runner) estimator(m *cafe.Model, fam *family.Family, prior cafe.Prior, s estimate.Settings, hyp string) *estimate.Estimator {
	s.Trace = r.trace
	s.ReportPeriod = *report
	s.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	e := estimate.New(m, fam, prior, s)
	if r.db != nil {
		e.SetCheckpoint(r.db, checkpoint.Key(r.conf.Tree, r.conf.Families, hyp,
			m.Rates().String(), fmt.Sprint(s.EstimateMu, s.Weights)))
	}
	return e
}

// finish computes the ancestral sizes and the per family summaries
// at the model rates.
func (r *runner) finish(summary *RunSummary, m *cafe.Model, fam *family.Family, prior cafe.Prior, sweep *cafe.SweepResult) error {
	vit, err := m.ViterbiAll(fam, prior)
	if err != nil {
		return err
	}
	summary.Families, err = familySummaries(m, fam, sweep, vit)
	if err != nil {
		return err
	}
	for i, fs := range summary.Families {
		log.Infof("%s\tlnL=%v\tML=%d\tMAP=%d\t%s", fs.ID, sweep.Families[i].LnL, fs.ML, fs.MAP, fs.Viterbi)
	}
	return nil
}

func (r *runner) lambda(summary *RunSummary, each, branches bool) error {
	m, fam, rates, err := r.load(summary)
	if err != nil {
		return err
	}
	prior, err := r.prior(m, fam)
	if err != nil {
		return err
	}

	e := r.estimator(m, fam, prior, r.conf.settings(), "lambda")
	res, err := e.Fit(rates)
	if err != nil {
		return err
	}
	summary.Fit = newFitSummary(res, fam)
	log.Noticef("lnL=%v", res.LnL)
	log.Noticef("rates=%v", res.Rates)

	if err := r.finish(summary, m, fam, prior, res.Sweep); err != nil {
		return err
	}
	if err := r.significance(summary, m, fam, prior, res.Rates, branches); err != nil {
		return err
	}

	if each {
		if res.Rates.K != 1 {
			return fmt.Errorf("%w: per family fits need a single component", cafe.ErrInvalidParameter)
		}
		p := res.Rates.Pair(0, 0)
		start := cafe.GlobalRates(p.Lambda, p.Mu)
		s := r.conf.settings()
		s.Restarts = 0
		if _, err := r.estimator(m, fam, prior, s, "each").EachFamily(start); err != nil {
			return err
		}
		for i, item := range fam.Items {
			summary.Families[i].Lambda = item.Lambda
			summary.Families[i].Mu = item.Mu
		}
	}
	return nil
}

// significance computes family p-values if simulations are
// configured. With branches set, separate rates on every branch are
// tested for the families significant at alpha, or for all the
// families without p-values.
func (r *runner) significance(summary *RunSummary, m *cafe.Model, fam *family.Family, prior cafe.Prior, rates cafe.RateAssignment, branches bool) error {
	alpha := r.conf.Alpha
	var pv []float64
	if r.conf.PValues > 0 {
		var err error
		pv, err = m.PValues(fam, prior, r.conf.PValues, rand.New(rand.NewSource(r.conf.Seed)))
		if err != nil {
			return err
		}
		n := 0
		for i, p := range pv {
			v := jsonFloat(p)
			summary.Families[i].PValue = &v
			if p < alpha {
				n++
				log.Infof("Family %s: p-value=%v", fam.Items[i].ID, p)
			}
		}
		log.Noticef("%d of %d families significant at %v", n, fam.Len(), alpha)
	}
	if !branches {
		return nil
	}
	if rates.K != 1 {
		return fmt.Errorf("%w: branch tests need a single component", cafe.ErrInvalidParameter)
	}
	s := r.conf.settings()
	s.Restarts = 0
	e := r.estimator(m, fam, prior, s, "branches")
	start := rates.Pair(0, 0)
	for i, item := range fam.Items {
		if pv != nil && pv[i] >= alpha {
			continue
		}
		_, tests, err := e.BranchLRT(item, start)
		if err != nil {
			return err
		}
		summary.Families[i].Branches = newBranchSummaries(tests, alpha)
		for _, bt := range tests {
			if bt.Significant(alpha) {
				log.Noticef("Family %s: branch %d (%s) lambda=%v, p-value=%v",
					item.ID, bt.NodeID, bt.Name, bt.Rates.Lambda, bt.PValue)
			}
		}
	}
	return nil
}

// lrt compares global rates with the configured model. If the model
// has neither cluster tags nor mixture components, tied death rates
// are compared with separately estimated ones.
func (r *runner) lrt(summary *RunSummary) error {
	m, fam, rates1, err := r.load(summary)
	if err != nil {
		return err
	}
	prior, err := r.prior(m, fam)
	if err != nil {
		return err
	}

	p := rates1.Pair(0, 0)
	rates0 := cafe.GlobalRates(p.Lambda, p.Mu)
	s0, s1 := r.conf.settings(), r.conf.settings()
	if rates1.Tags == 1 && rates1.K == 1 {
		log.Notice("Testing separate death rates")
		s0.EstimateMu, s1.EstimateMu = false, true
	}

	log.Notice("H0")
	h0, err := r.estimator(m, fam, prior, s0, "H0").Fit(rates0)
	if err != nil {
		return err
	}
	summary.H0 = newFitSummary(h0, fam)

	log.Notice("H1")
	h1, err := r.estimator(m, fam, prior, s1, "H1").Fit(rates1)
	if err != nil {
		return err
	}
	summary.H1 = newFitSummary(h1, fam)

	lrt := estimate.LikelihoodRatio(h0, h1)
	summary.LRT = newLRTSummary(lrt, r.conf.Alpha)
	log.Noticef("lnL0=%v, lnL1=%v", h0.LnL, h1.LnL)
	log.Noticef("LRT=%v, df=%d, p-value=%v, critical value=%v (alpha=%v)",
		lrt.Statistic, lrt.DF, lrt.PValue, lrt.Critical(r.conf.Alpha), r.conf.Alpha)
	if lrt.Boundary {
		log.Notice("H1 has a rate on the boundary, mixture null distribution used")
	}
	if h1.LnL < h0.LnL {
		log.Warning("H1 likelihood is lower than H0, optimization might have failed")
	}

	return r.finish(summary, m, fam, prior, h1.Sweep)
}

// lhtest computes the likelihood on a log-spaced grid of birth rates.
func (r *runner) lhtest(summary *RunSummary, lo, hi float64, steps int, plotFn string) error {
	if lo <= 0 || hi < lo || steps < 1 {
		return fmt.Errorf("%w: grid %v..%v with %d steps", cafe.ErrInvalidParameter, lo, hi, steps)
	}
	m, fam, rates, err := r.load(summary)
	if err != nil {
		return err
	}
	if rates.Tags != 1 || rates.K != 1 {
		log.Warning("Likelihood scan uses a single global rate")
	}
	prior, err := r.prior(m, fam)
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintln(out, "lambda\tmu\tlnL")
	for i := 0; i < steps; i++ {
		lambda := lo
		if steps > 1 {
			lambda = lo * math.Pow(hi/lo, float64(i)/float64(steps-1))
		}
		mu := r.conf.Mu
		if mu < 0 {
			mu = lambda
		}
		if err := m.SetRates(cafe.GlobalRates(lambda, mu)); err != nil {
			return err
		}
		sweep, err := m.Sweep(fam, prior)
		if err != nil {
			return err
		}
		summary.Scan = append(summary.Scan, ScanPoint{Lambda: lambda, Mu: mu, LnL: jsonFloat(sweep.LnL)})
		fmt.Fprintf(out, "%g\t%g\t%v\n", lambda, mu, sweep.LnL)
	}

	if plotFn != "" {
		if err := plotScan(summary.Scan, plotFn); err != nil {
			return fmt.Errorf("error plotting: %w", err)
		}
		log.Infof("Saved plot to %s", plotFn)
	}
	return nil
}

// simulate draws families with Poisson distributed root sizes.
func (r *runner) simulate(summary *RunSummary, n int, mean float64, outFn string) error {
	t, err := readTree(r.conf.Tree)
	if err != nil {
		return err
	}
	summary.Tree = t.ClassString()
	var rng family.Range
	if r.conf.Range != nil {
		rng = *r.conf.Range
	} else {
		rng = family.RangeFor(int(math.Ceil(3 * mean)))
	}
	summary.Range = &rng

	rates, err := r.conf.initialRates(t.NClasses())
	if err != nil {
		return err
	}
	m, err := r.newModel(t, rng, rates)
	if err != nil {
		return err
	}
	prior, err := cafe.PoissonPrior(rng, mean)
	if err != nil {
		return err
	}
	fam, err := m.SimulateFamilies(n, prior, rand.New(rand.NewSource(r.conf.Seed)))
	if err != nil {
		return err
	}
	log.Infof("Simulated %d families", fam.Len())

	var out io.Writer = os.Stdout
	if outFn != "" {
		f, err := os.Create(outFn)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return fam.Write(out)
}
