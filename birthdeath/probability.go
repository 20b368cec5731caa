// Package birthdeath computes transition probabilities of the linear
// birth-death process and caches transition matrices by branch length
// and rates.
package birthdeath

import (
	"math"
)

// Coefficients returns alpha and beta of the generating function of
// the birth-death process after time t.
func Coefficients(t, lambda, mu float64) (alpha, beta float64) {
	if t == 0 || (lambda == 0 && mu == 0) {
		return 0, 0
	}
	if lambda == mu {
		lt := lambda * t
		alpha = lt / (1 + lt)
		return alpha, alpha
	}
	e := math.Exp((lambda - mu) * t)
	d := lambda*e - mu
	alpha = mu * (e - 1) / d
	beta = lambda * (e - 1) / d
	return
}

// lnPow returns n*ln(x) with the convention 0^0 = 1.
func lnPow(x float64, n int) float64 {
	if n == 0 {
		return 0
	}
	if x <= 0 {
		return math.Inf(-1)
	}
	return float64(n) * math.Log(x)
}

// Probability returns the probability that a family of size s becomes
// a family of size c after time t.
func Probability(s, c int, t, lambda, mu float64, cache *ChooseLnCache) float64 {
	if s == 0 {
		if c == 0 {
			return 1
		}
		return 0
	}
	alpha, beta := Coefficients(t, lambda, mu)
	return probability(s, c, alpha, beta, cache)
}

func probability(s, c int, alpha, beta float64, cache *ChooseLnCache) float64 {
	if s == 0 {
		if c == 0 {
			return 1
		}
		return 0
	}
	gamma := 1 - alpha - beta
	if gamma < 0 {
		return convolution(alpha, beta, s+1, c+1)[s][c]
	}
	m := s
	if c < m {
		m = c
	}
	sum := 0.0
	for j := 0; j <= m; j++ {
		ln := cache.ChooseLn(s, j) + cache.ChooseLn(s+c-j-1, s-1) +
			lnPow(alpha, s-j) + lnPow(beta, c-j) + lnPow(gamma, j)
		if !math.IsInf(ln, -1) {
			sum += math.Exp(ln)
		}
	}
	if sum > 1 {
		return 1
	}
	return sum
}

// convolution returns P(i -> j) for i < nRows, j < nCols. Starting
// from i genes is the i-fold convolution of the one gene distribution
// P(1 -> 0) = alpha, P(1 -> j) = (1-alpha)(1-beta)beta^(j-1).
// All the terms are positive, so it is used when 1-alpha-beta < 0 and
// the alternating sum would cancel.
func convolution(alpha, beta float64, nRows, nCols int) [][]float64 {
	one := make([]float64, nCols)
	one[0] = alpha
	if nCols > 1 {
		one[1] = (1 - alpha) * (1 - beta)
		for j := 2; j < nCols; j++ {
			one[j] = one[j-1] * beta
		}
	}
	rows := make([][]float64, nRows)
	rows[0] = make([]float64, nCols)
	rows[0][0] = 1
	for i := 1; i < nRows; i++ {
		prev := rows[i-1]
		row := make([]float64, nCols)
		for j := 0; j < nCols; j++ {
			if prev[j] == 0 {
				continue
			}
			for k := 0; j+k < nCols; k++ {
				row[j+k] += prev[j] * one[k]
			}
		}
		for j, v := range row {
			if v > 1 {
				row[j] = 1
			}
		}
		rows[i] = row
	}
	return rows
}
