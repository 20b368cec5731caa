package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mrrlab/gofam/cafe"
	"github.com/mrrlab/gofam/estimate"
	"github.com/mrrlab/gofam/family"
)

// Config stores run settings. It can be read from a TOML file, e.g.:
//
//	tree = "tree.nwk"
//	families = "families.txt"
//	prior = "poisson"
//	lambda = 0.01
//	k = 2
//	weights = "em"
//
//	[range]
//	min_root = 1
//	max_root = 60
//	min = 0
//	max = 70
//
//	[optimizer]
//	method = "simplex"
//	restarts = 5
type Config struct {
	Tree     string        `toml:"tree"`
	Families string        `toml:"families"`
	Range    *family.Range `toml:"range"`
	Prior    string        `toml:"prior"`

	Lambda     float64 `toml:"lambda"`
	Mu         float64 `toml:"mu"`
	EstimateMu bool    `toml:"estimate_mu"`
	// Rates are the starting rates per cluster tag.
	Rates     []cafe.RatePair `toml:"rates"`
	K         int             `toml:"k"`
	Weights   string          `toml:"weights"`
	ErrorRate float64         `toml:"error_rate"`

	Optimizer OptimizerConfig `toml:"optimizer"`

	// Alpha is the significance level of the tests.
	Alpha float64 `toml:"alpha"`
	// PValues is the number of simulated families per family p-value,
	// zero disables them.
	PValues int `toml:"pvalues"`

	Seed       int64  `toml:"seed"`
	Checkpoint string `toml:"checkpoint"`
}

// OptimizerConfig stores optimizer settings.
type OptimizerConfig struct {
	Method     string  `toml:"method"`
	Iterations int     `toml:"iterations"`
	Restarts   int     `toml:"restarts"`
	Ftol       float64 `toml:"ftol"`
	// CheckpointSeconds is the minimum time between checkpoints.
	CheckpointSeconds float64 `toml:"checkpoint_seconds"`
}

func defaultConfig() Config {
	s := estimate.DefaultSettings()
	return Config{
		Prior:   "uniform",
		Lambda:  0.01,
		Mu:      -1,
		K:       1,
		Weights: s.Weights.String(),
		Optimizer: OptimizerConfig{
			Method:            s.Method,
			Iterations:        s.Iterations,
			Restarts:          s.Restarts,
			Ftol:              s.Ftol,
			CheckpointSeconds: s.CheckpointSeconds,
		},
		Alpha: 0.05,
		Seed:  -1,
	}
}

// readConfig updates c with the values from a TOML file.
func readConfig(fn string, c *Config) error {
	md, err := toml.DecodeFile(fn, c)
	if err != nil {
		return err
	}
	for _, key := range md.Undecoded() {
		log.Warningf("Unknown config key: %s", key)
	}
	return nil
}

// override sets the values given on the command line.
func (c *Config) override(command string) error {
	var treeF, famF string
	switch command {
	case lambdaCmd.FullCommand():
		treeF, famF = *lambdaTree, *lambdaFam
	case lrtCmd.FullCommand():
		treeF, famF = *lrtTree, *lrtFam
	case lhtestCmd.FullCommand():
		treeF, famF = *lhTree, *lhFam
	case simCmd.FullCommand():
		treeF = *simTree
	}
	if treeF != "" {
		c.Tree = treeF
	}
	if famF != "" {
		c.Families = famF
	}
	if *rangeS != "" {
		r, err := parseRange(*rangeS)
		if err != nil {
			return err
		}
		c.Range = &r
	}
	if *priorS != "" {
		c.Prior = *priorS
	}
	if *lambda0 > 0 {
		c.Lambda = *lambda0
	}
	if !math.IsNaN(*mu0) {
		c.Mu = *mu0
	}
	if *estMu {
		c.EstimateMu = true
	}
	if *ncomp > 0 {
		c.K = *ncomp
	}
	if *weightsS != "" {
		c.Weights = *weightsS
	}
	if *errRate > 0 {
		c.ErrorRate = *errRate
	}
	if *alpha > 0 {
		c.Alpha = *alpha
	}
	if *pvalues > 0 {
		c.PValues = *pvalues
	}
	if *method != "" {
		c.Optimizer.Method = *method
	}
	if *iterations > 0 {
		c.Optimizer.Iterations = *iterations
	}
	if *restarts >= 0 {
		c.Optimizer.Restarts = *restarts
	}
	if *seed != -1 {
		c.Seed = *seed
	}
	if *checkpointF != "" {
		c.Checkpoint = *checkpointF
		c.Optimizer.CheckpointSeconds = *ckptSeconds
	}
	return c.validate(command != simCmd.FullCommand())
}

func (c *Config) validate(needFamilies bool) error {
	if c.Tree == "" {
		return fmt.Errorf("no tree file given")
	}
	if needFamilies && c.Families == "" {
		return fmt.Errorf("no families file given")
	}
	if c.K < 1 {
		return fmt.Errorf("%w: number of components %d", cafe.ErrInvalidParameter, c.K)
	}
	if c.Lambda <= 0 {
		return fmt.Errorf("%w: starting birth rate %v", cafe.ErrInvalidParameter, c.Lambda)
	}
	if c.ErrorRate < 0 || c.ErrorRate >= 0.5 {
		return fmt.Errorf("%w: error rate %v", cafe.ErrInvalidParameter, c.ErrorRate)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("%w: significance level %v", cafe.ErrInvalidParameter, c.Alpha)
	}
	if c.PValues < 0 {
		return fmt.Errorf("%w: number of simulations %d", cafe.ErrInvalidParameter, c.PValues)
	}
	if _, err := estimate.ParseWeightsMode(c.Weights); err != nil {
		return err
	}
	switch c.Prior {
	case "uniform", "poisson", "empirical":
	default:
		return fmt.Errorf("unknown prior %q", c.Prior)
	}
	if c.Range != nil {
		return c.Range.Validate()
	}
	return nil
}

// settings converts the config into estimator settings.
func (c *Config) settings() estimate.Settings {
	s := estimate.DefaultSettings()
	s.Method = c.Optimizer.Method
	s.Iterations = c.Optimizer.Iterations
	s.Restarts = c.Optimizer.Restarts
	if c.Optimizer.Ftol > 0 {
		s.Ftol = c.Optimizer.Ftol
	}
	s.EstimateMu = c.EstimateMu
	s.Weights, _ = estimate.ParseWeightsMode(c.Weights)
	s.Seed = c.Seed
	s.CheckpointSeconds = c.Optimizer.CheckpointSeconds
	return s
}

// initialRates builds starting rates for a tree with nTags cluster
// tags. Mixture components start at rates increasing by a factor of
// two.
func (c *Config) initialRates(nTags int) (cafe.RateAssignment, error) {
	if nTags < 1 {
		nTags = 1
	}
	pairs := make([]cafe.RatePair, nTags)
	switch {
	case len(c.Rates) == nTags:
		copy(pairs, c.Rates)
	case len(c.Rates) == 0:
		for t := range pairs {
			pairs[t] = cafe.RatePair{Lambda: c.Lambda, Mu: c.Mu}
		}
	default:
		return cafe.RateAssignment{}, fmt.Errorf("%w: %d starting rates for %d cluster tags",
			cafe.ErrInvalidParameter, len(c.Rates), nTags)
	}

	if c.K == 1 {
		if nTags == 1 {
			return cafe.GlobalRates(pairs[0].Lambda, pairs[0].Mu), nil
		}
		return cafe.ClusteredRates(pairs), nil
	}
	comps := make([][]cafe.RatePair, c.K)
	for k := range comps {
		comps[k] = make([]cafe.RatePair, nTags)
		scale := math.Pow(2, float64(k))
		for t, p := range pairs {
			comps[k][t] = cafe.RatePair{Lambda: p.Lambda * scale, Mu: p.Mu}
			if p.Mu >= 0 {
				comps[k][t].Mu = p.Mu * scale
			}
		}
	}
	return cafe.MixtureRates(comps, nil), nil
}

// parseRange parses "minRoot,maxRoot,min,max".
func parseRange(s string) (r family.Range, err error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return r, fmt.Errorf("%w: range %q needs four values", cafe.ErrInvalidParameter, s)
	}
	vals := make([]int, 4)
	for i, f := range fields {
		vals[i], err = strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return r, fmt.Errorf("%w: range %q: %v", cafe.ErrInvalidParameter, s, err)
		}
	}
	r = family.Range{MinRoot: vals[0], MaxRoot: vals[1], Min: vals[2], Max: vals[3]}
	return r, r.Validate()
}
