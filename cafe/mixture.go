package cafe

import (
	"math"

	"github.com/mrrlab/gofam/family"
)

// ComputePosteriors sweeps the families and stores the posterior
// membership of every mixture component in item.Membership.
// Families with zero likelihood get uniform membership.
func (m *Model) ComputePosteriors(fam *family.Family, prior Prior) (*SweepResult, error) {
	res, err := m.Sweep(fam, prior)
	if err != nil {
		return nil, err
	}
	K := m.rates.K
	for i, item := range fam.Items {
		fr := res.Families[i]
		memb := make([]float64, K)
		switch {
		case K == 1:
			memb[0] = 1
		case len(fr.Components) != K:
			// rate override, keep the model weights
			copy(memb, m.rates.Weights)
		case fr.Degenerate:
			for k := range memb {
				memb[k] = 1 / float64(K)
			}
		default:
			for k := range memb {
				memb[k] = math.Exp(math.Log(m.rates.Weights[k]) + fr.Components[k] - fr.LnL)
			}
		}
		item.Membership = memb
	}
	return res, nil
}

// MeanMembership averages memberships over families. Families without
// memberships are skipped.
func MeanMembership(fam *family.Family) []float64 {
	var mean []float64
	n := 0
	for _, item := range fam.Items {
		if len(item.Membership) == 0 {
			continue
		}
		if mean == nil {
			mean = make([]float64, len(item.Membership))
		}
		if len(item.Membership) != len(mean) {
			continue
		}
		for k, v := range item.Membership {
			mean[k] += v
		}
		n++
	}
	for k := range mean {
		mean[k] /= float64(n)
	}
	return mean
}
