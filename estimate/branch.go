package estimate

import (
	"fmt"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/tree"
)

// BranchTest compares a single family fit with separate rates on one
// branch against the fit with global rates.
type BranchTest struct {
	NodeID int    `json:"node"`
	Name   string `json:"name,omitempty"`
	// Rates are the rates fitted for the branch.
	Rates cafe.RatePair `json:"rates"`
	LnL   float64       `json:"lnL"`
	LRTResult
}

// BranchLRT fits global rates to a single family and then, for every
// branch in turn, a model where the branch has its own rates. Every
// branch model is tested against the global fit. Branch tags of the
// model tree are ignored and the model itself is not changed.
func (e *Estimator) BranchLRT(item *family.Item, initial cafe.RatePair) (*Result, []BranchTest, error) {
	single := *item
	single.Lambda, single.Mu, single.Ref, single.Membership = nil, nil, -1, nil
	sub := family.New(e.Family.Species)
	if err := sub.Add(&single); err != nil {
		return nil, nil, err
	}
	if err := e.Model.CheckFamily(sub); err != nil {
		return nil, nil, err
	}
	s := e.Settings
	s.Weights = WeightsFixed

	flat := e.Model.Tree.Copy()
	for _, node := range flat.NodeIDArray() {
		node.Class = 0
	}
	m0, err := e.branchModel(flat)
	if err != nil {
		return nil, nil, err
	}
	h0e := New(m0, sub, e.Prior, s)
	h0e.noCkpt = true
	h0, err := h0e.Fit(cafe.GlobalRates(initial.Lambda, initial.Mu))
	if err != nil {
		return nil, nil, fmt.Errorf("family %s: %w", item.ID, err)
	}
	start := h0.Rates.Pair(0, 0)

	var tests []BranchTest
	for _, node := range e.Model.Tree.NodeIDArray() {
		if node.IsRoot() {
			continue
		}
		t := flat.Copy()
		t.NodeIDArray()[node.ID].Class = 1
		m, err := e.branchModel(t)
		if err != nil {
			return nil, nil, err
		}
		be := New(m, sub, e.Prior, s)
		be.noCkpt = true
		h1, err := be.Fit(cafe.ClusteredRates([]cafe.RatePair{start, start}))
		if err != nil {
			return nil, nil, fmt.Errorf("family %s, branch %d: %w", item.ID, node.ID, err)
		}
		bt := BranchTest{
			NodeID:    node.ID,
			Name:      node.Name,
			Rates:     h1.Rates.Pair(0, 1),
			LnL:       h1.LnL,
			LRTResult: LikelihoodRatio(h0, h1),
		}
		log.Infof("Family %s, branch %d (%s): lnL=%v, p=%v", item.ID, node.ID, node.Name, bt.LnL, bt.PValue)
		tests = append(tests, bt)
	}
	return h0, tests, nil
}

// branchModel creates a model on t sharing the range and the error
// model of the estimator model.
func (e *Estimator) branchModel(t *tree.Tree) (*cafe.Model, error) {
	m, err := cafe.NewModel(t, e.Model.Range, cafe.GlobalRates(0, 0))
	if err != nil {
		return nil, err
	}
	m.ErrorModel = e.Model.ErrorModel
	return m, nil
}
