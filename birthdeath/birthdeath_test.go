package birthdeath

import (
	"math"
	"testing"

	"github.com/op/go-logging"
)

const smallDiff = 1e-9

func init() {
	logging.SetLevel(logging.WARNING, "birthdeath")
}

func TestChooseLn(tst *testing.T) {
	c := NewChooseLnCache(20)
	if v := math.Exp(c.ChooseLn(5, 2)); math.Abs(v-10) > smallDiff {
		tst.Error("C(5,2) should be 10, got", v)
	}
	if v := math.Exp(c.ChooseLn(10, 0)); math.Abs(v-1) > smallDiff {
		tst.Error("C(10,0) should be 1, got", v)
	}
	if !math.IsInf(c.ChooseLn(3, 4), -1) {
		tst.Error("C(3,4) should be zero")
	}
	// beyond the table
	if v := math.Exp(c.ChooseLn(30, 3)); math.Abs(v-4060) > 1e-6 {
		tst.Error("C(30,3) should be 4060, got", v)
	}
}

func TestZeroSize(tst *testing.T) {
	c := NewChooseLnCache(10)
	if p := Probability(0, 0, 1, 0.3, 0.2, c); p != 1 {
		tst.Error("P(0->0) should be 1, got", p)
	}
	if p := Probability(0, 3, 1, 0.3, 0.2, c); p != 0 {
		tst.Error("P(0->3) should be 0, got", p)
	}
}

func TestDeathOnly(tst *testing.T) {
	c := NewChooseLnCache(10)
	t, mu := 1.5, 0.4
	q := 1 - math.Exp(-mu*t)
	// single gene extinction
	if p := Probability(1, 0, t, 0, mu, c); math.Abs(p-q) > smallDiff {
		tst.Error("Wrong extinction probability:", p, q)
	}
	// binomial survival
	want := 3 * math.Exp(-2*mu*t) * q
	if p := Probability(3, 2, t, 0, mu, c); math.Abs(p-want) > smallDiff {
		tst.Error("Wrong survival probability:", p, want)
	}
}

func TestBirthOnly(tst *testing.T) {
	c := NewChooseLnCache(10)
	t, lambda := 0.7, 0.5
	b := 1 - math.Exp(-lambda*t)
	// Yule process from one gene is geometric
	want := math.Exp(-lambda*t) * b * b
	if p := Probability(1, 3, t, lambda, 0, c); math.Abs(p-want) > smallDiff {
		tst.Error("Wrong Yule probability:", p, want)
	}
}

func TestOneToOne(tst *testing.T) {
	c := NewChooseLnCache(10)
	for _, r := range [][3]float64{{1, 0.3, 0.2}, {10, 0.5, 0.1}, {2, 0.2, 0.2}, {5, 0.05, 0.4}} {
		alpha, beta := Coefficients(r[0], r[1], r[2])
		want := (1 - alpha) * (1 - beta)
		if p := Probability(1, 1, r[0], r[1], r[2], c); math.Abs(p-want) > smallDiff {
			tst.Error("Wrong P(1->1) for", r, ":", p, want)
		}
	}
}

func TestMatrixProperties(tst *testing.T) {
	cache := NewCache(30)
	for _, r := range [][3]float64{{1, 0.01, 0.01}, {2, 0.3, 0.1}, {0.5, 0.1, 0.7}, {4, 0.2, 0.2}, {20, 0.2, 0.2}} {
		m := cache.Get(r[0], r[1], r[2])
		for i := 0; i < m.Size(); i++ {
			sum := 0.0
			for _, p := range m.Row(i) {
				if p < 0 || p > 1 {
					tst.Fatal("Probability out of range:", p)
				}
				sum += p
			}
			if sum > 1+1e-8 {
				tst.Error("Row sum above 1:", r, i, sum)
			}
		}
		// small sizes are fully covered
		sum := 0.0
		for _, p := range m.Row(1) {
			sum += p
		}
		if r[1] == 0.01 && math.Abs(sum-1) > 1e-6 {
			tst.Error("Row 1 should sum to 1, got", sum)
		}
	}
}

func TestIdentity(tst *testing.T) {
	cache := NewCache(10)
	for _, m := range []*Matrix{cache.Get(0, 0.3, 0.2), cache.Get(2, 0, 0)} {
		for i := 0; i < m.Size(); i++ {
			for j := 0; j < m.Size(); j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if math.Abs(m.At(i, j)-want) > smallDiff {
					tst.Error("Not an identity at", i, j, m.At(i, j))
				}
			}
		}
	}
}

func TestCacheReuse(tst *testing.T) {
	cache := NewCache(10)
	m1 := cache.Get(1, 0.1, 0.1)
	m2 := cache.Get(1, 0.1, 0.1)
	if m1 != m2 {
		tst.Error("Cache returned a different matrix for the same key")
	}
	if cache.Computed() != 1 {
		tst.Error("Expected a single computation, got", cache.Computed())
	}
	cache.Warm([]Key{{1, 0.1, 0.1}, {2, 0.1, 0.1}, {2, 0.1, 0.1}, {3, 0.1, 0.2}})
	if cache.Computed() != 3 || cache.Len() != 3 {
		tst.Error("Expected 3 matrices after warm, got", cache.Computed(), cache.Len())
	}
	cache.Get(3, 0.1, 0.2)
	if cache.Computed() != 3 {
		tst.Error("Warm matrix recomputed")
	}
	cache.Invalidate()
	if cache.Len() != 0 {
		tst.Error("Cache not empty after invalidation")
	}
	if m3 := cache.Get(1, 0.1, 0.1); m3 == m1 {
		tst.Error("Matrix survived invalidation")
	}
}

func TestConvolution(tst *testing.T) {
	c := NewChooseLnCache(100)
	alpha, beta := Coefficients(1, 0.3, 0.2)
	rows := convolution(alpha, beta, 15, 15)
	for s := 0; s < 15; s++ {
		for j := 0; j < 15; j++ {
			if p := probability(s, j, alpha, beta, c); math.Abs(p-rows[s][j]) > smallDiff {
				tst.Error("Convolution differs from sum at", s, j, ":", rows[s][j], p)
			}
		}
	}
}

func TestLargeSizes(tst *testing.T) {
	// 1-alpha-beta is negative here
	m := NewMatrix(10, 0.3, 0.3, 100, NewChooseLnCache(201))
	for i := 0; i < m.Size(); i++ {
		sum := 0.0
		for _, p := range m.Row(i) {
			if p < 0 || p > 1 || math.IsNaN(p) {
				tst.Fatal("Probability out of range:", i, p)
			}
			sum += p
		}
		if sum > 1+1e-8 {
			tst.Error("Row sum above 1:", i, sum)
		}
	}
	if p := m.At(80, 80); p <= 0 {
		tst.Error("Expected positive probability, got", p)
	}
}
