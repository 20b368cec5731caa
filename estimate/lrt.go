package estimate

import (
	"math"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/dist"
)

// LRTResult is a likelihood ratio test of two nested models.
type LRTResult struct {
	Statistic float64 `json:"statistic"`
	DF        int     `json:"df"`
	PValue    float64 `json:"pValue"`
	// Boundary is set if the alternative has a rate fitted to zero and
	// the p-value uses the boundary mixture distribution.
	Boundary bool `json:"boundary,omitempty"`
}

// LRT compares log-likelihoods l0 of the null model and l1 of the
// alternative with df more parameters. Negative statistics are treated
// as zero for the p-value. Without extra parameters the p-value is 1
// if the alternative is not better and NaN otherwise.
func LRT(l0, l1 float64, df int) LRTResult {
	res := LRTResult{
		Statistic: 2 * (l1 - l0),
		DF:        df,
	}
	stat := math.Max(res.Statistic, 0)
	switch {
	case math.IsNaN(res.Statistic):
		res.PValue = math.NaN()
	case df <= 0 && stat == 0:
		res.PValue = 1
	case df <= 0:
		res.PValue = math.NaN()
	default:
		res.PValue = dist.SurvivalChi2(stat, float64(df))
	}
	return res
}

// LRTBoundary is LRT for an alternative with a parameter on the
// boundary of its space. The statistic follows an equal mixture of
// chi-square distributions with df-1 and df degrees of freedom.
func LRTBoundary(l0, l1 float64, df int) LRTResult {
	res := LRT(l0, l1, df)
	if df <= 0 || math.IsNaN(res.Statistic) {
		return res
	}
	res.PValue = dist.SurvivalChi2Boundary(math.Max(res.Statistic, 0), float64(df))
	res.Boundary = true
	return res
}

// LikelihoodRatio tests h1 against the nested model h0. Nothing is
// refitted.
func LikelihoodRatio(h0, h1 *Result) LRTResult {
	df := h1.NParameters - h0.NParameters
	if onBoundary(h1.Rates) {
		return LRTBoundary(h0.LnL, h1.LnL, df)
	}
	return LRT(h0.LnL, h1.LnL, df)
}

// onBoundary returns true if any birth or death rate is zero.
func onBoundary(ra cafe.RateAssignment) bool {
	for _, pairs := range ra.Resolve().Pairs {
		for _, p := range pairs {
			if p.Lambda == 0 || p.Mu == 0 {
				return true
			}
		}
	}
	return false
}

// Significant returns true if the null model is rejected at level
// alpha.
func (r LRTResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// Critical returns the smallest statistic significant at level alpha.
// It is NaN for a boundary test with more than one degree of freedom.
func (r LRTResult) Critical(alpha float64) float64 {
	switch {
	case r.DF <= 0:
		return math.NaN()
	case r.Boundary && r.DF == 1:
		return dist.QuantileChi2(1-2*alpha, 1)
	case r.Boundary:
		return math.NaN()
	}
	return dist.QuantileChi2(1-alpha, float64(r.DF))
}
