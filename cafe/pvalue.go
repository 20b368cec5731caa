package cafe

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/mrrlab/gofam/birthdeath"
	"github.com/mrrlab/gofam/family"
)

// conditionalLnL returns the log-likelihood of leaf counts given the
// root size.
func (m *Model) conditionalLnL(ws *workspace, qs []*birthdeath.Matrix, count []int, rootSize int) float64 {
	root, sc := m.prune(ws, qs, count)
	return sc + math.Log(root[rootSize-m.Range.MinRoot])
}

// PValues returns for every family the fraction of n families
// simulated from its maximum likelihood root size with a conditional
// likelihood not larger than the observed one. Small values mean the
// family changed size more than the rates explain. Simulations are
// shared by families with the same root size and rates. Degenerate
// families get 0.
func (m *Model) PValues(fam *family.Family, prior Prior, n int, rng *rand.Rand) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: number of simulations must be positive, got %d", ErrInvalidParameter, n)
	}
	prior, err := m.checkPrior(prior)
	if err != nil {
		return nil, err
	}
	sweep, err := m.Sweep(fam, prior)
	if err != nil {
		return nil, err
	}

	type nullKey struct {
		item *family.Item // nil unless the family has its own rates
		k    int
		root int
	}
	nulls := make(map[nullKey][]float64)
	ws := m.newWorkspace()
	sizes := make([]int, len(m.nodes))
	count := make([]int, len(m.leaves))
	res := make([]float64, fam.Len())
	for i, item := range fam.Items {
		fr := sweep.Families[i]
		if fr.Degenerate {
			continue
		}
		k := m.bestComponent(ws, item, prior)
		qs := m.componentMatrices(item)[k]
		key := nullKey{k: k, root: fr.ML}
		if _, ok := m.overrides[item]; ok {
			key.item = item
		}
		obs := m.conditionalLnL(ws, qs, item.Count, fr.ML)

		null, ok := nulls[key]
		if !ok {
			null = make([]float64, n)
			for j := range null {
				m.simulate(qs, fr.ML, rng, sizes)
				for _, leaf := range m.leaves {
					count[leaf.LeafID] = sizes[leaf.ID]
				}
				null[j] = m.conditionalLnL(ws, qs, count, fr.ML)
			}
			sort.Float64s(null)
			nulls[key] = null
		}
		below := sort.Search(n, func(j int) bool { return null[j] > obs })
		res[i] = float64(below) / float64(n)
	}
	log.Debugf("Simulated %d null distributions of %d families", len(nulls), n)
	return res, nil
}

// BranchPValues returns for every branch of a reconstruction the
// probability of a size change at most as probable as the
// reconstructed one, given the parent size. Values are indexed by
// node ID and the root gets NaN. A reconstruction without sizes gives
// nil.
func (m *Model) BranchPValues(item *family.Item, vit ViterbiResult) ([]float64, error) {
	if vit.Sizes == nil {
		return nil, nil
	}
	if len(vit.Sizes) != len(m.nodes) {
		return nil, fmt.Errorf("%w: %d sizes for %d nodes", ErrDataShape, len(vit.Sizes), len(m.nodes))
	}
	if _, ok := m.overrides[item]; m.qs == nil || (item.HasOverride() && !ok) {
		if err := m.prepare([]*family.Item{item}); err != nil {
			return nil, err
		}
	}
	all := m.componentMatrices(item)
	if vit.Component < 0 || vit.Component >= len(all) {
		return nil, fmt.Errorf("%w: component %d of %d", ErrInvalidParameter, vit.Component, len(all))
	}
	qs := all[vit.Component]

	res := make([]float64, len(m.nodes))
	for _, node := range m.nodes {
		if node.ID == m.root {
			res[node.ID] = math.NaN()
			continue
		}
		row := qs[node.ID].Row(vit.Sizes[node.Parent.ID])
		pc := row[vit.Sizes[node.ID]]
		sum, tail := 0.0, 0.0
		for _, p := range row {
			sum += p
			if p <= pc {
				tail += p
			}
		}
		if sum > 0 {
			res[node.ID] = tail / sum
		}
	}
	return res, nil
}
