// Package dist implements the chi-square distribution functions used
// by likelihood ratio tests.
package dist

import (
	"math"

	"github.com/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// IncompleteGamma returns the regularized lower incomplete gamma
// function P(alpha, x).
func IncompleteGamma(x, alpha float64) float64 {
	return mathext.GammaInc(alpha, x)
}

// CDFChi2 returns Prob{X<x} for X chi-square distributed with df
// degrees of freedom.
func CDFChi2(x, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	if x <= 0 {
		return 0
	}
	return IncompleteGamma(x/2, df/2)
}

// SurvivalChi2 returns Prob{X>x}, i.e. the p-value of statistic x.
func SurvivalChi2(x, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	return 1 - CDFChi2(x, df)
}

// QuantileChi2 returns z so that Prob{X<z}=prob.
func QuantileChi2(prob, df float64) float64 {
	if df <= 0 || prob < 0 || prob > 1 {
		return math.NaN()
	}
	return distuv.ChiSquared{K: df}.Quantile(prob)
}

// SurvivalChi2Boundary returns the p-value for a parameter tested on
// the boundary of its space, using an equal mixture of chi-square
// distributions with df-1 and df degrees of freedom.
func SurvivalChi2Boundary(x, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	p := SurvivalChi2(x, df)
	if df == 1 {
		if x <= 0 {
			return 1
		}
		return p / 2
	}
	return (p + SurvivalChi2(x, df-1)) / 2
}
