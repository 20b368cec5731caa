package cafe

import (
	"fmt"
	"math/rand"

	"github.com/mrrlab/gofam/birthdeath"
	"github.com/mrrlab/gofam/family"
)

// draw samples a child size from a transition matrix row. The row is
// renormalized since it is truncated at the maximum size.
func draw(q *birthdeath.Matrix, parent int, rng *rand.Rand) int {
	row := q.Row(parent)
	sum := 0.0
	for _, p := range row {
		sum += p
	}
	if sum <= 0 {
		return parent
	}
	u := rng.Float64() * sum
	for i, p := range row {
		u -= p
		if u < 0 {
			return i
		}
	}
	return len(row) - 1
}

// Simulate draws family sizes for all nodes under component k, starting
// from rootSize. The result is indexed by node ID.
func (m *Model) Simulate(k, rootSize int, rng *rand.Rand) ([]int, error) {
	if err := m.checkComponent(k); err != nil {
		return nil, err
	}
	if rootSize < 0 || rootSize >= m.cache.Size() {
		return nil, fmt.Errorf("%w: root size %d outside of 0..%d", ErrInvalidParameter, rootSize, m.cache.Size()-1)
	}
	if m.qs == nil {
		if err := m.Prepare(nil); err != nil {
			return nil, err
		}
	}
	sizes := make([]int, len(m.nodes))
	m.simulate(m.qs[k], rootSize, rng, sizes)
	return sizes, nil
}

// simulate fills sizes indexed by node ID using branch matrices qs.
func (m *Model) simulate(qs []*birthdeath.Matrix, rootSize int, rng *rand.Rand, sizes []int) {
	for _, node := range m.Tree.PreOrder() {
		if node.ID == m.root {
			sizes[node.ID] = rootSize
			continue
		}
		sizes[node.ID] = draw(qs[node.ID], sizes[node.Parent.ID], rng)
	}
}

// SimulateFamilies creates n families. Root sizes are drawn from the
// prior and components from the mixture weights.
func (m *Model) SimulateFamilies(n int, prior Prior, rng *rand.Rand) (*family.Family, error) {
	prior, err := m.checkPrior(prior)
	if err != nil {
		return nil, err
	}
	fam := family.New(m.Tree.LeafNames())
	for i := 0; i < n; i++ {
		rootSize := m.Range.MinRoot + sample(prior, rng)
		k := sample(m.rates.Weights, rng)
		sizes, err := m.Simulate(k, rootSize, rng)
		if err != nil {
			return nil, err
		}
		count := make([]int, len(m.leaves))
		for _, leaf := range m.leaves {
			count[leaf.LeafID] = sizes[leaf.ID]
		}
		id := fmt.Sprintf("sim%d", i+1)
		if err := fam.Add(family.NewItem(id, fmt.Sprintf("k=%d root=%d", k, rootSize), count)); err != nil {
			return nil, err
		}
	}
	return fam, nil
}

// sample draws an index proportionally to weights.
func sample(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	u := rng.Float64() * sum
	for i, w := range weights {
		u -= w
		if u < 0 {
			return i
		}
	}
	return len(weights) - 1
}
