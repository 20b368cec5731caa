// Package cafe implements the birth-death model of gene family size
// evolution on a phylogenetic tree: likelihood, Viterbi
// reconstruction of ancestral sizes and mixture posteriors.
package cafe

import (
	"errors"
	"fmt"

	"github.com/op/go-logging"

	"github.com/mrrlab/gofam/birthdeath"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/tree"
)

var log = logging.MustGetLogger("cafe")

// ErrorModel gives the probability to observe count genes if the true
// family size is size. It replaces unit leaf vectors.
type ErrorModel interface {
	Prob(count, size int) float64
}

// Model is a tree with a rate assignment and the matrices resolved for
// the current rates. A Model is not safe for concurrent use; the
// parallelism is inside Sweep and ViterbiAll.
type Model struct {
	Tree       *tree.Tree
	Range      family.Range
	ErrorModel ErrorModel

	rates  RateAssignment
	tags   []int // rate tag per node ID
	cache  *birthdeath.Cache
	nodes  []*tree.Node
	order  []*tree.Node
	leaves []*tree.Node
	root   int

	// qs[k][nodeID] is the matrix of the branch leading to the node.
	qs        [][]*birthdeath.Matrix
	overrides map[*family.Item][]*birthdeath.Matrix
	// per worker buffers
	workspaces []*workspace
}

// NewModel creates a model and validates the tree, the range and the
// rates. No matrices are computed until Prepare.
func NewModel(t *tree.Tree, r family.Range, rates RateAssignment) (*Model, error) {
	if err := t.Validate(); err != nil {
		if errors.Is(err, tree.ErrNegativeBranch) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	order := t.NodeOrder()
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: tree has no internal nodes", ErrDataShape)
	}
	m := &Model{
		Tree:   t,
		Range:  r,
		cache:  birthdeath.NewCache(r.Size()),
		nodes:  t.NodeIDArray(),
		order:  order,
		leaves: t.Leaves(),
		root:   t.Node.ID,
	}
	if err := m.SetRates(rates); err != nil {
		return nil, err
	}
	return m, nil
}

// Cache returns the matrix cache owned by the model.
func (m *Model) Cache() *birthdeath.Cache {
	return m.cache
}

// Rates returns the current rate assignment.
func (m *Model) Rates() RateAssignment {
	return m.rates
}

// K returns the number of mixture components.
func (m *Model) K() int {
	return m.rates.K
}

// NNodes returns the number of tree nodes.
func (m *Model) NNodes() int {
	return len(m.nodes)
}

// SetRates changes the rates. The matrix cache is invalidated.
func (m *Model) SetRates(rates RateAssignment) error {
	rates = rates.Resolve()
	if err := rates.Validate(); err != nil {
		return err
	}
	if rates.Tags > 1 && rates.Tags < m.Tree.NClasses() {
		return fmt.Errorf("%w: tree has %d lambda clusters, %d rate pairs given",
			ErrInvalidParameter, m.Tree.NClasses(), rates.Tags)
	}
	tags := make([]int, len(m.nodes))
	if rates.Tags > 1 {
		for i, node := range m.nodes {
			tags[i] = node.Class
		}
	}
	m.rates = rates
	m.tags = tags
	m.qs = nil
	m.overrides = nil
	m.cache.Invalidate()
	return nil
}

// SetWeights changes mixture weights only; matrices are kept.
func (m *Model) SetWeights(weights []float64) error {
	rates := m.rates.Copy()
	rates.Weights = append([]float64(nil), weights...)
	if err := rates.Validate(); err != nil {
		return err
	}
	m.rates = rates
	return nil
}

// overridePair returns the rates of an item override for a tag.
func overridePair(item *family.Item, tag int) RatePair {
	if tag >= len(item.Lambda) {
		tag = len(item.Lambda) - 1
	}
	p := RatePair{Lambda: item.Lambda[tag], Mu: item.Lambda[tag]}
	if tag < len(item.Mu) && item.Mu[tag] >= 0 {
		p.Mu = item.Mu[tag]
	}
	return p
}

func (m *Model) keys(pair func(node *tree.Node) RatePair, keys []birthdeath.Key) []birthdeath.Key {
	for _, node := range m.nodes {
		if node.ID == m.root {
			continue
		}
		p := pair(node)
		keys = append(keys, birthdeath.Key{
			BranchLength: node.BranchLength,
			Lambda:       p.Lambda,
			Mu:           p.Mu,
		})
	}
	return keys
}

func (m *Model) resolve(pair func(node *tree.Node) RatePair) []*birthdeath.Matrix {
	qs := make([]*birthdeath.Matrix, len(m.nodes))
	for _, node := range m.nodes {
		if node.ID == m.root {
			continue
		}
		p := pair(node)
		qs[node.ID] = m.cache.Get(node.BranchLength, p.Lambda, p.Mu)
	}
	return qs
}

// Prepare computes all the matrices needed for the current rates and
// for the rate overrides of fam (which can be nil). After Prepare the
// likelihood code reads matrices without touching the cache.
func (m *Model) Prepare(fam *family.Family) error {
	if fam == nil {
		return m.prepare(nil)
	}
	return m.prepare(fam.Items)
}

func (m *Model) prepare(all []*family.Item) error {
	var keys []birthdeath.Key
	for k := 0; k < m.rates.K; k++ {
		k := k
		keys = m.keys(func(node *tree.Node) RatePair {
			return m.rates.Pair(k, m.tags[node.ID])
		}, keys)
	}
	var items []*family.Item
	for _, item := range all {
		if !item.HasOverride() {
			continue
		}
		for _, l := range item.Lambda {
			if l < 0 {
				return fmt.Errorf("%w: family %s has negative rates", ErrInvalidParameter, item.ID)
			}
		}
		item := item
		items = append(items, item)
		keys = m.keys(func(node *tree.Node) RatePair {
			return overridePair(item, m.tags[node.ID])
		}, keys)
	}
	m.cache.Warm(keys)

	if m.qs == nil {
		m.qs = make([][]*birthdeath.Matrix, m.rates.K)
		for k := range m.qs {
			k := k
			m.qs[k] = m.resolve(func(node *tree.Node) RatePair {
				return m.rates.Pair(k, m.tags[node.ID])
			})
		}
	}
	m.overrides = make(map[*family.Item][]*birthdeath.Matrix, len(items))
	for _, item := range items {
		item := item
		m.overrides[item] = m.resolve(func(node *tree.Node) RatePair {
			return overridePair(item, m.tags[node.ID])
		})
	}
	log.Debugf("Prepared %d matrices", m.cache.Len())
	return nil
}

// componentMatrices returns matrices per component for an item.
func (m *Model) componentMatrices(item *family.Item) [][]*birthdeath.Matrix {
	if qs, ok := m.overrides[item]; ok {
		return [][]*birthdeath.Matrix{qs}
	}
	return m.qs
}

// componentWeights returns mixture weights used for an item.
func (m *Model) componentWeights(item *family.Item) []float64 {
	if _, ok := m.overrides[item]; ok {
		return []float64{1}
	}
	return m.rates.Weights
}

// checkItem validates the counts of an item against the tree.
func (m *Model) checkItem(item *family.Item) error {
	if len(item.Count) != len(m.leaves) {
		return fmt.Errorf("%w: family %s has %d counts, tree has %d leaves",
			ErrDataShape, item.ID, len(item.Count), len(m.leaves))
	}
	for _, c := range item.Count {
		if c < 0 {
			return fmt.Errorf("%w: family %s has a negative count", ErrInvalidParameter, item.ID)
		}
	}
	return nil
}

// CheckFamily validates all the items against the tree.
func (m *Model) CheckFamily(fam *family.Family) error {
	if len(fam.Species) != len(m.leaves) {
		return fmt.Errorf("%w: %d species, tree has %d leaves", ErrDataShape, len(fam.Species), len(m.leaves))
	}
	for _, item := range fam.Items {
		if err := m.checkItem(item); err != nil {
			return err
		}
	}
	return nil
}

// SizesString formats sizes indexed by node ID as a Newick tree,
// e.g. "((A_2:1,B_3:1)_2:1,C_2:2)_2".
func (m *Model) SizesString(sizes []int) string {
	var format func(node *tree.Node) string
	format = func(node *tree.Node) (s string) {
		if !node.IsTerminal() {
			s += "("
			for i, child := range node.ChildNodes() {
				if i > 0 {
					s += ","
				}
				s += format(child)
			}
			s += ")"
		}
		s += fmt.Sprintf("%s_%d", node.Name, sizes[node.ID])
		if !node.IsRoot() {
			s += fmt.Sprintf(":%g", node.BranchLength)
		}
		return
	}
	return format(m.Tree.Node)
}
