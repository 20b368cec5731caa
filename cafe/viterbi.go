package cafe

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/mrrlab/gofam/birthdeath"
	"github.com/mrrlab/gofam/family"
)

// ViterbiResult is the most probable joint assignment of family sizes.
type ViterbiResult struct {
	// Sizes are indexed by node ID. They are nil if no assignment has
	// a positive probability.
	Sizes []int
	// Component is the mixture component used.
	Component int
	// LnL is the log-probability of the assignment including the prior.
	LnL float64
}

type viterbiSpace struct {
	*workspace
	scores [][]float64
	// args[nodeID][j] is the best size of the node if its parent has
	// size j.
	args [][]int
}

func (m *Model) newViterbiSpace() *viterbiSpace {
	size := m.cache.Size()
	vs := &viterbiSpace{
		workspace: m.newWorkspace(),
		scores:    make([][]float64, len(m.nodes)),
		args:      make([][]int, len(m.nodes)),
	}
	for i := range vs.scores {
		vs.scores[i] = make([]float64, size)
		vs.args[i] = make([]int, size)
	}
	return vs
}

// bestComponent returns the component with the largest membership, or
// with the largest weighted likelihood if memberships are not set.
func (m *Model) bestComponent(ws *workspace, item *family.Item, prior Prior) int {
	qs := m.componentMatrices(item)
	if len(qs) == 1 {
		return 0
	}
	if len(item.Membership) == len(qs) {
		return floats.MaxIdx(item.Membership)
	}
	res := m.familyLikelihood(ws, item, prior)
	weights := m.componentWeights(item)
	best, bestK := math.Inf(-1), 0
	for k, l := range res.Components {
		if v := math.Log(weights[k]) + l; v > best {
			best, bestK = v, k
		}
	}
	return bestK
}

// viterbi runs max-product pruning and decoding for one item.
func (m *Model) viterbi(vs *viterbiSpace, item *family.Item, prior Prior) ViterbiResult {
	k := m.bestComponent(vs.workspace, item, prior)
	qs := m.componentMatrices(item)[k]
	res := ViterbiResult{
		Component: k,
		LnL:       math.Inf(-1),
	}
	size := m.cache.Size()
	if m.ErrorModel == nil {
		for _, c := range item.Count {
			if c >= size {
				return res
			}
		}
	}

	for _, leaf := range m.leaves {
		buf := vs.bufs[leaf.ID]
		m.setLeaf(buf, item.Count[leaf.LeafID])
		for i, v := range buf {
			vs.scores[leaf.ID][i] = math.Log(v)
		}
	}
	for _, node := range m.order {
		lo, hi := m.nodeRange(node)
		score := vs.scores[node.ID]
		for j := range score {
			if j >= lo && j <= hi {
				score[j] = 0
			} else {
				score[j] = math.Inf(-1)
			}
		}
		for _, child := range node.ChildNodes() {
			clo, chi := m.nodeRange(child)
			if child.IsTerminal() && m.ErrorModel == nil {
				c := item.Count[child.LeafID]
				clo, chi = c, c
			}
			m.maxChild(vs, qs[child.ID], child.ID, score, lo, hi, clo, chi)
		}
	}

	rootScore := vs.scores[m.root]
	best := m.Range.MinRoot
	for s := m.Range.MinRoot; s <= m.Range.MaxRoot; s++ {
		if v := rootScore[s] + math.Log(prior[s-m.Range.MinRoot]); v > res.LnL {
			res.LnL, best = v, s
		}
	}
	if math.IsInf(res.LnL, -1) {
		return res
	}
	res.Sizes = make([]int, len(m.nodes))
	res.Sizes[m.root] = best
	for _, node := range m.Tree.PreOrder() {
		if node.ID == m.root {
			continue
		}
		res.Sizes[node.ID] = vs.args[node.ID][res.Sizes[node.Parent.ID]]
	}
	return res
}

// maxChild adds the best child score for every parent size and
// records the argmax. Ties are resolved to the smallest child size.
func (m *Model) maxChild(vs *viterbiSpace, q *birthdeath.Matrix, childID int, score []float64, lo, hi, clo, chi int) {
	cscore := vs.scores[childID]
	args := vs.args[childID]
	for j := lo; j <= hi; j++ {
		row := q.Row(j)
		best, arg := math.Inf(-1), clo
		for i := clo; i <= chi; i++ {
			if v := math.Log(row[i]) + cscore[i]; v > best {
				best, arg = v, i
			}
		}
		args[j] = arg
		score[j] += best
	}
}

// Viterbi reconstructs the most probable family sizes at all nodes.
func (m *Model) Viterbi(item *family.Item, prior Prior) (ViterbiResult, error) {
	prior, err := m.checkPrior(prior)
	if err != nil {
		return ViterbiResult{}, err
	}
	if err := m.checkItem(item); err != nil {
		return ViterbiResult{}, err
	}
	if err := m.prepare([]*family.Item{item}); err != nil {
		return ViterbiResult{}, err
	}
	return m.viterbi(m.newViterbiSpace(), item, prior), nil
}

// ViterbiAll reconstructs all the families in parallel.
func (m *Model) ViterbiAll(fam *family.Family, prior Prior) ([]ViterbiResult, error) {
	prior, err := m.checkPrior(prior)
	if err != nil {
		return nil, err
	}
	if err := m.CheckFamily(fam); err != nil {
		return nil, err
	}
	if err := m.Prepare(fam); err != nil {
		return nil, err
	}
	n := fam.Len()
	res := make([]ViterbiResult, n)
	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > n {
		nWorkers = n
	}
	tasks := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vs := m.newViterbiSpace()
			for i := range tasks {
				res[i] = m.viterbi(vs, fam.Items[i], prior)
			}
		}()
	}
	for i := range fam.Items {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	log.Debugf("Reconstructed %d families", n)
	return res, nil
}

// checkComponent validates a component index.
func (m *Model) checkComponent(k int) error {
	if k < 0 || k >= m.rates.K {
		return fmt.Errorf("%w: component %d of %d", ErrInvalidParameter, k, m.rates.K)
	}
	return nil
}
