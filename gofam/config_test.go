package main

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/op/go-logging"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/estimate"
)

const smallDiff = 1e-6

func init() {
	logging.SetLevel(logging.WARNING, "gofam")
}

func TestReadConfig(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "run.toml")
	err := os.WriteFile(fn, []byte(`
tree = "tree.nwk"
families = "families.txt"
prior = "poisson"
lambda = 0.02
k = 2
weights = "em"

[range]
min_root = 1
max_root = 30
min = 0
max = 40

alpha = 0.01
pvalues = 100

[optimizer]
method = "bfgs"
restarts = 5
`), 0666)
	if err != nil {
		tst.Fatal(err)
	}

	c := defaultConfig()
	if err := readConfig(fn, &c); err != nil {
		tst.Fatal("Error reading config:", err)
	}
	if c.Tree != "tree.nwk" || c.Families != "families.txt" || c.Prior != "poisson" {
		tst.Error("Wrong files or prior:", c)
	}
	if c.Range == nil || c.Range.MaxRoot != 30 || c.Range.Max != 40 {
		tst.Error("Wrong range:", c.Range)
	}
	if err := c.validate(true); err != nil {
		tst.Error("Unexpected validation error:", err)
	}
	if c.Alpha != 0.01 || c.PValues != 100 {
		tst.Error("Wrong test settings:", c.Alpha, c.PValues)
	}
	c.Alpha = 1
	if err := c.validate(true); !errors.Is(err, cafe.ErrInvalidParameter) {
		tst.Error("Expected an error for alpha=1:", err)
	}
	c.Alpha = 0.01

	s := c.settings()
	if s.Method != "bfgs" || s.Restarts != 5 || s.Weights != estimate.WeightsEM {
		tst.Error("Wrong settings:", s)
	}
	// Not in the file, defaults are kept.
	if s.Iterations != estimate.DefaultSettings().Iterations || c.Mu != -1 {
		tst.Error("Defaults are overwritten:", s.Iterations, c.Mu)
	}
}

func TestParseRange(tst *testing.T) {
	r, err := parseRange("1, 60,0,70")
	if err != nil {
		tst.Fatal(err)
	}
	if r.MinRoot != 1 || r.MaxRoot != 60 || r.Min != 0 || r.Max != 70 {
		tst.Error("Wrong range:", r)
	}
	for _, s := range []string{"1,60,0", "1,x,0,70", "10,5,0,70"} {
		if _, err := parseRange(s); !errors.Is(err, cafe.ErrInvalidParameter) {
			tst.Errorf("Expected an error for %q, got %v", s, err)
		}
	}
}

func TestInitialRates(tst *testing.T) {
	c := defaultConfig()
	ra, err := c.initialRates(1)
	if err != nil {
		tst.Fatal(err)
	}
	if ra.Mode() != cafe.RateGlobal || ra.Pair(0, 0).Lambda != c.Lambda {
		tst.Error("Wrong global rates:", ra)
	}

	ra, err = c.initialRates(2)
	if err != nil {
		tst.Fatal(err)
	}
	if ra.Mode() != cafe.RateClustered || ra.Tags != 2 {
		tst.Error("Wrong clustered rates:", ra)
	}

	c.K = 3
	ra, err = c.initialRates(1)
	if err != nil {
		tst.Fatal(err)
	}
	if ra.Mode() != cafe.RateMixture || ra.K != 3 {
		tst.Fatal("Wrong mixture rates:", ra)
	}
	if l := ra.Pair(2, 0).Lambda; math.Abs(l-4*c.Lambda) > smallDiff {
		tst.Error("Wrong third component rate:", l)
	}
	if err := ra.Resolve().Validate(); err != nil {
		tst.Error("Invalid mixture:", err)
	}

	c.Rates = []cafe.RatePair{{Lambda: 0.1, Mu: -1}}
	if _, err := c.initialRates(2); !errors.Is(err, cafe.ErrInvalidParameter) {
		tst.Error("Expected an error for a rate count mismatch:", err)
	}
}

func TestJSONFloat(tst *testing.T) {
	for _, s := range []struct {
		x    float64
		want string
	}{
		{1.5, "1.5"},
		{math.Inf(-1), "null"},
		{math.NaN(), "null"},
	} {
		b, err := jsonFloat(s.x).MarshalJSON()
		if err != nil || string(b) != s.want {
			tst.Errorf("jsonFloat(%v) = %s, expected %s", s.x, b, s.want)
		}
	}
}
