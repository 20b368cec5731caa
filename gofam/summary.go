package main

import (
	"encoding/json"
	"math"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/estimate"
	"github.com/mrrlab/gofam/family"
)

// jsonFloat is written as null if it is not finite.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	x := float64(f)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(x)
}

// RunSummary is storing gofam run summary information.
type RunSummary struct {
	// RunID identifies the run.
	RunID string `json:"runID"`
	// Version stores gofam version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Command is the gofam command.
	Command string `json:"command"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`

	// Tree is the input tree with cluster tags.
	Tree  string        `json:"tree,omitempty"`
	Range *family.Range `json:"range,omitempty"`

	// Fit is the result of the lambda command.
	Fit *FitSummary `json:"fit,omitempty"`
	// H0 and H1 are the fits compared by the lrt command.
	H0  *FitSummary `json:"h0,omitempty"`
	H1  *FitSummary `json:"h1,omitempty"`
	LRT *LRTSummary `json:"lrt,omitempty"`
	// Families holds per family results of the final fit.
	Families []FamilySummary `json:"families,omitempty"`
	// Scan is the likelihood over a grid of rates.
	Scan []ScanPoint `json:"scan,omitempty"`
}

// FitSummary stores a fitted model.
type FitSummary struct {
	Rates       cafe.RateAssignment `json:"rates"`
	LnL         jsonFloat           `json:"lnL"`
	Converged   bool                `json:"converged"`
	Iterations  int                 `json:"iterations"`
	Calls       int                 `json:"likelihoodCalls"`
	NParameters int                 `json:"nParameters"`
	Restarts    int                 `json:"restarts"`
	// Degenerate lists families with zero likelihood.
	Degenerate []string `json:"degenerate,omitempty"`
}

func newFitSummary(res *estimate.Result, fam *family.Family) *FitSummary {
	s := &FitSummary{
		Rates:       res.Rates,
		LnL:         jsonFloat(res.LnL),
		Converged:   res.Converged,
		Iterations:  res.Iterations,
		Calls:       res.Calls,
		NParameters: res.NParameters,
		Restarts:    res.Restarts,
	}
	if res.Sweep != nil {
		for _, i := range res.Sweep.Degenerate {
			s.Degenerate = append(s.Degenerate, fam.Items[i].ID)
		}
	}
	return s
}

// LRTSummary stores a likelihood ratio test.
type LRTSummary struct {
	Statistic jsonFloat `json:"statistic"`
	DF        int       `json:"df"`
	PValue    jsonFloat `json:"pValue"`
	Boundary  bool      `json:"boundary,omitempty"`
	// Critical is the smallest significant statistic.
	Critical jsonFloat `json:"critical"`
}

func newLRTSummary(r estimate.LRTResult, alpha float64) *LRTSummary {
	return &LRTSummary{
		Statistic: jsonFloat(r.Statistic),
		DF:        r.DF,
		PValue:    jsonFloat(r.PValue),
		Boundary:  r.Boundary,
		Critical:  jsonFloat(r.Critical(alpha)),
	}
}

// BranchSummary stores the test of separate rates on one branch.
type BranchSummary struct {
	Node   int         `json:"node"`
	Name   string      `json:"name,omitempty"`
	Lambda float64     `json:"lambda"`
	Mu     float64     `json:"mu"`
	LnL    jsonFloat   `json:"lnL"`
	LRT    *LRTSummary `json:"lrt"`
}

func newBranchSummaries(tests []estimate.BranchTest, alpha float64) []BranchSummary {
	res := make([]BranchSummary, len(tests))
	for i, bt := range tests {
		res[i] = BranchSummary{
			Node:   bt.NodeID,
			Name:   bt.Name,
			Lambda: bt.Rates.Lambda,
			Mu:     bt.Rates.Mu,
			LnL:    jsonFloat(bt.LnL),
			LRT:    newLRTSummary(bt.LRTResult, alpha),
		}
	}
	return res
}

// FamilySummary stores results for a single family.
type FamilySummary struct {
	ID   string    `json:"id"`
	Desc string    `json:"desc,omitempty"`
	LnL  jsonFloat `json:"lnL"`
	// ML and MAP are the root sizes with maximum likelihood and
	// maximum posterior.
	ML  int `json:"ml"`
	MAP int `json:"map"`
	// Viterbi is the tree with the most probable ancestral sizes.
	Viterbi    string    `json:"viterbi,omitempty"`
	Membership []float64 `json:"membership,omitempty"`
	// BranchPValues are indexed by node ID, the root has none.
	BranchPValues []jsonFloat `json:"branchPValues,omitempty"`
	// Lambda and Mu are per family rates (-each).
	Lambda []float64 `json:"lambda,omitempty"`
	Mu     []float64 `json:"mu,omitempty"`
	// PValue is the probability of a family at most as likely under
	// the fitted rates (-pvalues).
	PValue *jsonFloat `json:"pValue,omitempty"`
	// Branches are the tests of separate branch rates (-branches).
	Branches []BranchSummary `json:"branches,omitempty"`
}

func familySummaries(m *cafe.Model, fam *family.Family, sweep *cafe.SweepResult, vit []cafe.ViterbiResult) ([]FamilySummary, error) {
	fs := make([]FamilySummary, fam.Len())
	for i, item := range fam.Items {
		fs[i] = FamilySummary{
			ID:         item.ID,
			Desc:       item.Desc,
			ML:         -1,
			MAP:        -1,
			Membership: item.Membership,
			Lambda:     item.Lambda,
			Mu:         item.Mu,
		}
		if sweep != nil {
			r := sweep.Families[i]
			fs[i].LnL = jsonFloat(r.LnL)
			fs[i].ML, fs[i].MAP = r.ML, r.MAP
		}
		if i < len(vit) && vit[i].Sizes != nil {
			fs[i].Viterbi = m.SizesString(vit[i].Sizes)
			pv, err := m.BranchPValues(item, vit[i])
			if err != nil {
				return nil, err
			}
			fs[i].BranchPValues = make([]jsonFloat, len(pv))
			for j, p := range pv {
				fs[i].BranchPValues[j] = jsonFloat(p)
			}
		}
	}
	return fs, nil
}

// ScanPoint is the likelihood at a single rate.
type ScanPoint struct {
	Lambda float64   `json:"lambda"`
	Mu     float64   `json:"mu"`
	LnL    jsonFloat `json:"lnL"`
}
