package cafe

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/mrrlab/gofam/birthdeath"
	"github.com/mrrlab/gofam/family"
	"github.com/mrrlab/gofam/tree"
)

// FamilyResult holds the likelihood of a single family.
type FamilyResult struct {
	LnL float64
	// ML is the root size with maximum likelihood, MAP the root size
	// with maximum posterior. Both are -1 for degenerate families.
	ML  int
	MAP int
	// Components is the log-likelihood under every mixture component.
	Components []float64
	// Degenerate is set when the likelihood is zero for all root sizes.
	Degenerate bool
}

// SweepResult holds likelihoods of all the families.
type SweepResult struct {
	Families []FamilyResult
	// LnL is the total log-likelihood.
	LnL float64
	// Degenerate lists indices of families with zero likelihood.
	Degenerate []int
}

// workspace holds per worker buffers indexed by node ID.
type workspace struct {
	bufs   [][]float64
	roots  [][]float64
	scales []float64
	comb   []float64
}

func (m *Model) newWorkspace() *workspace {
	size := m.cache.Size()
	ws := &workspace{
		bufs: make([][]float64, len(m.nodes)),
		comb: make([]float64, m.Range.NRoot()),
	}
	for i := range ws.bufs {
		ws.bufs[i] = make([]float64, size)
	}
	return ws
}

func (ws *workspace) grow(k, nRoot int) {
	for len(ws.roots) < k {
		ws.roots = append(ws.roots, make([]float64, nRoot))
		ws.scales = append(ws.scales, 0)
	}
}

func (m *Model) ensureWorkspaces(n int) {
	for len(m.workspaces) < n {
		m.workspaces = append(m.workspaces, m.newWorkspace())
	}
}

// nodeRange returns the range of sizes computed for a node.
func (m *Model) nodeRange(node *tree.Node) (lo, hi int) {
	switch {
	case node.ID == m.root:
		return m.Range.MinRoot, m.Range.MaxRoot
	case node.IsTerminal():
		return 0, m.cache.Size() - 1
	}
	return m.Range.Min, m.Range.Max
}

// setLeaf fills a leaf buffer for an observed count.
func (m *Model) setLeaf(buf []float64, count int) {
	if m.ErrorModel == nil {
		for i := range buf {
			buf[i] = 0
		}
		if count < len(buf) {
			buf[count] = 1
		}
		return
	}
	for i := range buf {
		buf[i] = m.ErrorModel.Prob(count, i)
	}
}

// prune runs the pruning algorithm. The returned root buffer is scaled
// by exp(-lnScale) and indexed from MinRoot.
func (m *Model) prune(ws *workspace, qs []*birthdeath.Matrix, count []int) (root []float64, lnScale float64) {
	size := m.cache.Size()
	for _, leaf := range m.leaves {
		m.setLeaf(ws.bufs[leaf.ID], count[leaf.LeafID])
	}
	for _, node := range m.order {
		lo, hi := m.nodeRange(node)
		buf := ws.bufs[node.ID]
		for j := range buf {
			if j >= lo && j <= hi {
				buf[j] = 1
			} else {
				buf[j] = 0
			}
		}
		for _, child := range node.ChildNodes() {
			q := qs[child.ID]
			cbuf := ws.bufs[child.ID]
			if child.IsTerminal() && m.ErrorModel == nil {
				c := count[child.LeafID]
				for j := lo; j <= hi; j++ {
					if c < size {
						buf[j] *= q.Row(j)[c]
					} else {
						buf[j] = 0
					}
				}
				continue
			}
			clo, chi := m.nodeRange(child)
			for j := lo; j <= hi; j++ {
				if buf[j] == 0 {
					continue
				}
				row := q.Row(j)
				buf[j] *= floats.Dot(row[clo:chi+1], cbuf[clo:chi+1])
			}
		}
		if max := floats.Max(buf[lo : hi+1]); max > 0 {
			floats.Scale(1/max, buf[lo:hi+1])
			lnScale += math.Log(max)
		}
	}
	root = ws.bufs[m.root][m.Range.MinRoot : m.Range.MaxRoot+1]
	return
}

// familyLikelihood computes the likelihood of one item.
func (m *Model) familyLikelihood(ws *workspace, item *family.Item, prior Prior) FamilyResult {
	qs := m.componentMatrices(item)
	weights := m.componentWeights(item)
	nRoot := m.Range.NRoot()
	ws.grow(len(qs), nRoot)

	res := FamilyResult{
		Components: make([]float64, len(qs)),
		ML:         -1,
		MAP:        -1,
	}
	lw := make([]float64, len(qs))
	for k := range qs {
		root, sc := m.prune(ws, qs[k], item.Count)
		copy(ws.roots[k], root)
		ws.scales[k] = sc
		res.Components[k] = sc + math.Log(floats.Dot(root, prior))
		lw[k] = math.Log(weights[k]) + res.Components[k]
	}
	res.LnL = floats.LogSumExp(lw)
	if math.IsInf(res.LnL, -1) || math.IsNaN(res.LnL) {
		res.LnL = math.Inf(-1)
		res.Degenerate = true
		return res
	}

	// combined root likelihood relative to the best component
	ref := math.Inf(-1)
	for k := range qs {
		if weights[k] > 0 && ws.scales[k] > ref {
			ref = ws.scales[k]
		}
	}
	comb := ws.comb
	for s := range comb {
		comb[s] = 0
	}
	for k := range qs {
		if weights[k] == 0 {
			continue
		}
		floats.AddScaled(comb, weights[k]*math.Exp(ws.scales[k]-ref), ws.roots[k])
	}
	res.ML = floats.MaxIdx(comb) + m.Range.MinRoot
	floats.Mul(comb, prior)
	res.MAP = floats.MaxIdx(comb) + m.Range.MinRoot
	return res
}

// ComputeTreeLikelihood returns the root likelihoods under component k
// for the given counts, indexed from MinRoot, and their log scale:
// the likelihood of root size s is exp(lnScale)*root[s-MinRoot].
func (m *Model) ComputeTreeLikelihood(k int, count []int) (root []float64, lnScale float64, err error) {
	if err := m.checkComponent(k); err != nil {
		return nil, 0, err
	}
	if len(count) != len(m.leaves) {
		return nil, 0, fmt.Errorf("%w: %d counts, tree has %d leaves", ErrDataShape, len(count), len(m.leaves))
	}
	if m.qs == nil {
		if err := m.Prepare(nil); err != nil {
			return nil, 0, err
		}
	}
	ws := m.newWorkspace()
	r, lnScale := m.prune(ws, m.qs[k], count)
	root = make([]float64, len(r))
	copy(root, r)
	return root, lnScale, nil
}

// FamilyLikelihood returns the log-likelihood of a single family and
// caches its maximum likelihood root size in item.MaxLH.
func (m *Model) FamilyLikelihood(item *family.Item, prior Prior) (float64, error) {
	prior, err := m.checkPrior(prior)
	if err != nil {
		return 0, err
	}
	if err := m.checkItem(item); err != nil {
		return 0, err
	}
	if err := m.prepare([]*family.Item{item}); err != nil {
		return 0, err
	}
	res := m.familyLikelihood(m.newWorkspace(), item, prior)
	item.MaxLH = res.ML
	return res.LnL, nil
}

// reference returns the index of an earlier family with the same counts
// and rates, or -1.
func reference(fam *family.Family, i int) int {
	item := fam.Items[i]
	ref := item.Ref
	if ref < 0 || ref >= i || item.HasOverride() || fam.Items[ref].HasOverride() {
		return -1
	}
	return ref
}

// Sweep computes likelihoods of all the families in parallel. Data shape
// errors are reported before any likelihood is computed. Degenerate
// families get -Inf and do not stop the sweep.
func (m *Model) Sweep(fam *family.Family, prior Prior) (*SweepResult, error) {
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
	res := &SweepResult{Families: make([]FamilyResult, n)}
	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > n {
		nWorkers = n
	}
	m.ensureWorkspaces(nWorkers)

	tasks := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func(ws *workspace) {
			defer wg.Done()
			for i := range tasks {
				res.Families[i] = m.familyLikelihood(ws, fam.Items[i], prior)
			}
		}(m.workspaces[w])
	}
	for i := range fam.Items {
		if reference(fam, i) < 0 {
			tasks <- i
		}
	}
	close(tasks)
	wg.Wait()

	for i, item := range fam.Items {
		if ref := reference(fam, i); ref >= 0 {
			fr := res.Families[ref]
			fr.Components = append([]float64(nil), fr.Components...)
			res.Families[i] = fr
		}
		fr := res.Families[i]
		item.MaxLH = fr.ML
		res.LnL += fr.LnL
		if fr.Degenerate {
			res.Degenerate = append(res.Degenerate, i)
		}
	}
	if len(res.Degenerate) > 0 {
		log.Debugf("%d families with zero likelihood", len(res.Degenerate))
	}
	return res, nil
}
