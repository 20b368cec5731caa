package estimate

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/op/go-logging"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/checkpoint"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/tree"
)

const smallDiff = 1e-6

func init() {
	logging.SetLevel(logging.WARNING, "estimate")
	logging.SetLevel(logging.WARNING, "optimize")
	logging.SetLevel(logging.WARNING, "cafe")
	logging.SetLevel(logging.WARNING, "birthdeath")
	logging.SetLevel(logging.WARNING, "checkpoint")
}

var testRange = family.Range{MinRoot: 1, MaxRoot: 10, Min: 0, Max: 12}

func newTestData(tst *testing.T, rates cafe.RateAssignment) (*cafe.Model, *family.Family) {
	t, err := tree.ParseNewick(strings.NewReader("((A:1,B:1):1,C:2);"))
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	m, err := cafe.NewModel(t, testRange, rates)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	fam := family.New(t.LeafNames())
	for i, c := range [][]int{
		{2, 3, 2},
		{1, 1, 1},
		{4, 2, 3},
		{1, 2, 5},
		{3, 3, 0},
		{2, 2, 2},
	} {
		fam.Add(family.NewItem(string(rune('a'+i)), "", c))
	}
	return m, fam
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Iterations = 200
	s.Restarts = 1
	return s
}

func TestFitGlobal(tst *testing.T) {
	initial := cafe.GlobalRates(0.01, 0.01)
	m, fam := newTestData(tst, initial)
	before, err := m.Sweep(fam, nil)
	if err != nil {
		tst.Fatal(err)
	}

	e := New(m, fam, nil, testSettings())
	res, err := e.Fit(initial)
	if err != nil {
		tst.Fatal("Error fitting:", err)
	}
	if math.IsInf(res.LnL, 0) || math.IsNaN(res.LnL) {
		tst.Fatal("Likelihood is not finite:", res.LnL)
	}
	if res.LnL < before.LnL-smallDiff {
		tst.Errorf("Fit decreased likelihood: %v < %v", res.LnL, before.LnL)
	}
	if res.NParameters != 1 || res.Restarts != 1 {
		tst.Errorf("Wrong parameter or restart count: %d, %d", res.NParameters, res.Restarts)
	}
	p := res.Rates.Pair(0, 0)
	if p.Lambda <= 0 || p.Lambda > e.MaxRate() || p.Lambda != p.Mu {
		tst.Error("Wrong fitted rates:", res.Rates)
	}
	if res.Sweep == nil || math.Abs(res.Sweep.LnL-res.LnL) > smallDiff {
		tst.Error("Sweep does not match the fitted likelihood")
	}
	if got := m.Rates().Pair(0, 0); got != p {
		tst.Error("Model rates are not set to the fit:", got, p)
	}
}

func TestFitNone(tst *testing.T) {
	initial := cafe.GlobalRates(0.05, 0.05)
	m, fam := newTestData(tst, initial)
	want, err := m.Sweep(fam, nil)
	if err != nil {
		tst.Fatal(err)
	}
	s := testSettings()
	s.Method = "none"
	s.Restarts = 0
	res, err := New(m, fam, nil, s).Fit(initial)
	if err != nil {
		tst.Fatal(err)
	}
	if math.Abs(res.LnL-want.LnL) > smallDiff {
		tst.Errorf("Wrong likelihood: %v, expected %v", res.LnL, want.LnL)
	}
	if res.Rates.Pair(0, 0).Lambda != 0.05 {
		tst.Error("Rates changed:", res.Rates)
	}
}

func TestFitIterationLimit(tst *testing.T) {
	initial := cafe.GlobalRates(0.001, 0.001)
	m, fam := newTestData(tst, initial)
	s := testSettings()
	s.Iterations = 2
	s.Restarts = 2
	res, err := New(m, fam, nil, s).Fit(initial)
	if err != nil {
		tst.Fatal(err)
	}
	if res.Converged {
		tst.Error("Fit reported convergence after", res.Iterations, "iterations")
	}
	if res.Restarts != 2 || res.Iterations > 3*s.Iterations {
		tst.Error("Wrong restarts or iterations:", res.Restarts, res.Iterations)
	}
}

func TestEstimateMu(tst *testing.T) {
	initial := cafe.GlobalRates(0.02, 0.02)
	m, fam := newTestData(tst, initial)
	s := testSettings()
	s.EstimateMu = true
	h1, err := New(m, fam, nil, s).Fit(initial)
	if err != nil {
		tst.Fatal(err)
	}
	if h1.NParameters != 2 {
		tst.Error("Wrong number of parameters:", h1.NParameters)
	}

	s.EstimateMu = false
	h0, err := New(m, fam, nil, s).Fit(initial)
	if err != nil {
		tst.Fatal(err)
	}
	lrt := LikelihoodRatio(h0, h1)
	if lrt.DF != 1 {
		tst.Error("Wrong degrees of freedom:", lrt.DF)
	}
	if lrt.PValue < 0 || lrt.PValue > 1 {
		tst.Error("Wrong p-value:", lrt.PValue)
	}
}

func TestLRT(tst *testing.T) {
	if r := LRT(-10, -10, 0); r.Statistic != 0 || r.PValue != 1 {
		tst.Error("Self comparison:", r)
	}
	if r := LRT(-10, -9, 2); math.Abs(r.PValue-math.Exp(-1)) > smallDiff {
		tst.Error("Wrong p-value:", r)
	}
	if r := LRT(-10, -10.5, 1); r.Statistic >= 0 || r.PValue != 1 {
		tst.Error("Negative statistic:", r)
	}
	if r := LRT(-10, -9, 0); !math.IsNaN(r.PValue) {
		tst.Error("Expected NaN without extra parameters:", r)
	}
	if !LRT(-10, -5, 1).Significant(0.05) {
		tst.Error("Expected a significant result")
	}
}

func TestLRTBoundary(tst *testing.T) {
	h0 := &Result{LnL: -12, NParameters: 1, Rates: cafe.GlobalRates(0.1, -1)}
	h1 := &Result{LnL: -10, NParameters: 2, Rates: cafe.GlobalRates(0.1, 0.2)}
	free := LikelihoodRatio(h0, h1)
	if free.Boundary {
		tst.Error("Interior rates tested on the boundary:", free)
	}

	h1.Rates = cafe.GlobalRates(0.1, 0)
	r := LikelihoodRatio(h0, h1)
	if !r.Boundary || r.DF != 1 {
		tst.Error("Expected a boundary test with one degree of freedom:", r)
	}
	if math.Abs(r.PValue-free.PValue/2) > smallDiff {
		tst.Error("Wrong boundary p-value:", r.PValue, free.PValue)
	}
	if r := LRTBoundary(-10, -10.5, 1); r.PValue != 1 {
		tst.Error("Worse alternative on the boundary:", r)
	}

	if c := LRT(-10, -9, 1).Critical(0.05); math.Abs(c-3.841458820694124) > 1e-4 {
		tst.Error("Wrong critical value:", c)
	}
	if c := r.Critical(0.05); math.Abs(c-2.705543454095404) > 1e-4 {
		tst.Error("Wrong boundary critical value:", c)
	}
	if c := LRTBoundary(-10, -9, 2).Critical(0.05); !math.IsNaN(c) {
		tst.Error("Expected NaN critical value, got", c)
	}
}

func mixture() cafe.RateAssignment {
	return cafe.MixtureRates([][]cafe.RatePair{
		{{Lambda: 0.01, Mu: 0.01}},
		{{Lambda: 0.2, Mu: 0.2}},
	}, nil)
}

func checkWeights(tst *testing.T, ra cafe.RateAssignment) {
	sum := 0.0
	for _, w := range ra.Weights {
		if w < 0 {
			tst.Error("Negative weight:", ra.Weights)
		}
		sum += w
	}
	if math.Abs(sum-1) > smallDiff {
		tst.Error("Weights do not sum to one:", ra.Weights)
	}
}

func TestWeightsSimplex(tst *testing.T) {
	m, fam := newTestData(tst, mixture())
	s := testSettings()
	s.Weights = WeightsSimplex
	res, err := New(m, fam, nil, s).Fit(mixture())
	if err != nil {
		tst.Fatal(err)
	}
	checkWeights(tst, res.Rates)
	if res.NParameters != 3 {
		tst.Error("Wrong number of parameters:", res.NParameters)
	}
}

func TestWeightsEM(tst *testing.T) {
	m, fam := newTestData(tst, mixture())
	s := testSettings()
	s.Weights = WeightsEM
	s.EMIterations = 3
	res, err := New(m, fam, nil, s).Fit(mixture())
	if err != nil {
		tst.Fatal(err)
	}
	checkWeights(tst, res.Rates)
	if res.NParameters != 3 {
		tst.Error("Wrong number of parameters:", res.NParameters)
	}
	for _, item := range fam.Items {
		if len(item.Membership) != 2 {
			tst.Fatal("Memberships are not computed")
		}
	}
}

func TestEachFamily(tst *testing.T) {
	initial := cafe.GlobalRates(0.03, 0.03)
	m, fam := newTestData(tst, initial)
	s := testSettings()
	s.Restarts = 0
	results, err := New(m, fam, nil, s).EachFamily(initial)
	if err != nil {
		tst.Fatal(err)
	}
	if len(results) != fam.Len() {
		tst.Fatal("Wrong number of results:", len(results))
	}
	for i, item := range fam.Items {
		if !item.HasOverride() || item.Lambda[0] != results[i].Rates.Pair(0, 0).Lambda {
			tst.Error("Override not stored for", item.ID)
		}
	}
	if m.Rates().Pair(0, 0).Lambda != 0.03 {
		tst.Error("Model rates not restored:", m.Rates())
	}
	if _, err := New(m, fam, nil, s).EachFamily(mixture()); !errors.Is(err, cafe.ErrInvalidParameter) {
		tst.Error("Expected an error for a mixture:", err)
	}
}

func TestBranchLRT(tst *testing.T) {
	initial := cafe.GlobalRates(0.01, -1)
	m, fam := newTestData(tst, initial)
	item := family.NewItem("x", "", []int{2, 2, 9})
	e := New(m, fam, nil, testSettings())
	h0, tests, err := e.BranchLRT(item, initial.Pair(0, 0))
	if err != nil {
		tst.Fatal(err)
	}
	if h0.NParameters != 1 || math.IsInf(h0.LnL, 0) {
		tst.Error("Wrong global fit:", h0.NParameters, h0.LnL)
	}
	if len(tests) != m.NNodes()-1 {
		tst.Fatal("Expected a test per branch, got", len(tests))
	}
	best := tests[0]
	for _, bt := range tests {
		if bt.DF != 1 {
			tst.Error("Wrong degrees of freedom for branch", bt.NodeID, bt.DF)
		}
		if bt.LnL < h0.LnL-smallDiff {
			tst.Error("Branch fit worse than the global fit:", bt.NodeID, bt.LnL, h0.LnL)
		}
		if bt.PValue < 0 || bt.PValue > 1 {
			tst.Error("Wrong p-value for branch", bt.NodeID, bt.PValue)
		}
		if bt.PValue < best.PValue {
			best = bt
		}
	}
	if best.Name != "C" || best.Statistic <= 0 {
		tst.Error("Expected the expanded branch to stand out, got", best)
	}
	if m.Rates().Pair(0, 0).Lambda != 0.01 {
		tst.Error("Model rates changed:", m.Rates())
	}
}

func TestCheckpoint(tst *testing.T) {
	db, err := checkpoint.Open(filepath.Join(tst.TempDir(), "checkpoint.db"))
	if err != nil {
		tst.Fatal(err)
	}
	defer db.Close()
	key := checkpoint.Key("test")

	initial := cafe.GlobalRates(0.01, 0.01)
	m, fam := newTestData(tst, initial)
	s := testSettings()
	s.CheckpointSeconds = 0
	e := New(m, fam, nil, s)
	e.SetCheckpoint(db, key)
	res, err := e.Fit(initial)
	if err != nil {
		tst.Fatal(err)
	}

	data, err := checkpoint.NewIO(db, key, []string{"lambda"}, 0).Load()
	if err != nil || data == nil {
		tst.Fatal("Checkpoint not stored:", err)
	}
	if !data.Final || data.Values[0] != res.Rates.Pair(0, 0).Lambda {
		tst.Error("Wrong checkpoint:", data)
	}

	s.Method = "none"
	s.Restarts = 0
	e = New(m, fam, nil, s)
	e.SetCheckpoint(db, key)
	resumed, err := e.Fit(cafe.GlobalRates(0.5, 0.5))
	if err != nil {
		tst.Fatal(err)
	}
	if math.Abs(resumed.LnL-res.LnL) > smallDiff {
		tst.Errorf("Resumed likelihood %v, expected %v", resumed.LnL, res.LnL)
	}
}

func TestFitErrors(tst *testing.T) {
	initial := cafe.GlobalRates(0.01, 0.01)
	m, fam := newTestData(tst, initial)

	s := testSettings()
	s.Method = "annealing"
	if _, err := New(m, fam, nil, s).Fit(initial); !errors.Is(err, cafe.ErrInvalidParameter) {
		tst.Error("Expected an error for an unknown method:", err)
	}
	if _, err := New(m, fam, nil, testSettings()).Fit(cafe.GlobalRates(-1, 0.1)); !errors.Is(err, cafe.ErrInvalidParameter) {
		tst.Error("Expected an error for a negative rate:", err)
	}

	other := family.New([]string{"A", "B"})
	other.Add(family.NewItem("x", "", []int{1, 2}))
	if _, err := New(m, other, nil, testSettings()).Fit(initial); !errors.Is(err, cafe.ErrDataShape) {
		tst.Error("Expected a data shape error:", err)
	}
}

func TestEvaluator(tst *testing.T) {
	m, fam := newTestData(tst, mixture())
	s := testSettings()
	s.EstimateMu = true
	ev := newEvaluator(New(m, fam, nil, s), mixture(), true)
	names := ev.names()
	if strings.Join(names, ",") != "lambda_k0,mu_k0,lambda_k1,mu_k1,w0" {
		tst.Error("Wrong names:", names)
	}
	v := ev.values(mixture())
	ra, err := ev.rates(v)
	if err != nil {
		tst.Fatal(err)
	}
	if ra.Pair(1, 0).Lambda != 0.2 || math.Abs(ra.Weights[1]-0.5) > smallDiff {
		tst.Error("Wrong rates:", ra)
	}
	v[len(v)-1] = 1.5
	if _, err := ev.rates(v); err == nil {
		tst.Error("Expected an error for weights above one")
	}
	if l := ev.likelihood(v); !math.IsInf(l, -1) {
		tst.Error("Expected -Inf, got", l)
	}
}

func TestSingleFamilyScenario(tst *testing.T) {
	t, err := tree.ParseNewick(strings.NewReader("(A:1,B:1,C:2);"))
	if err != nil {
		tst.Fatal(err)
	}
	r := family.Range{MinRoot: 1, MaxRoot: 10, Min: 0, Max: 10}
	m, err := cafe.NewModel(t, r, cafe.GlobalRates(0, 0))
	if err != nil {
		tst.Fatal(err)
	}
	fam := family.New(t.LeafNames())
	fam.Add(family.NewItem("f", "", []int{2, 3, 2}))

	zero, err := m.Sweep(fam, nil)
	if err != nil {
		tst.Fatal(err)
	}
	if !math.IsInf(zero.LnL, -1) {
		tst.Error("Expected zero likelihood without changes, got", zero.LnL)
	}

	res, err := New(m, fam, nil, testSettings()).Fit(cafe.GlobalRates(0.01, 0.01))
	if err != nil {
		tst.Fatal(err)
	}
	if !(res.LnL > zero.LnL) || math.IsInf(res.LnL, 0) {
		tst.Error("Fitted likelihood is not larger than at zero rates:", res.LnL)
	}
}
