package estimate

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// WeightsMode defines how mixture weights are estimated.
type WeightsMode int

const (
	// WeightsFixed keeps the initial weights.
	WeightsFixed WeightsMode = iota
	// WeightsSimplex searches weights together with the rates.
	WeightsSimplex
	// WeightsEM alternates rate fits and posterior weight updates.
	WeightsEM
)

var weightsModes = []string{"fixed", "simplex", "em"}

func (w WeightsMode) String() string {
	if int(w) < len(weightsModes) {
		return weightsModes[w]
	}
	return fmt.Sprintf("WeightsMode(%d)", int(w))
}

// ParseWeightsMode converts a name into a WeightsMode.
func ParseWeightsMode(s string) (WeightsMode, error) {
	for i, name := range weightsModes {
		if strings.EqualFold(s, name) {
			return WeightsMode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weights mode %q", s)
}

// Methods lists the optimizers.
var Methods = []string{"simplex", "lbfgsb", "bfgs", "none"}

// Settings controls the search.
type Settings struct {
	Method     string
	Iterations int
	// Restarts is the number of random starting points tried in
	// addition to the initial one.
	Restarts   int
	Ftol       float64
	EstimateMu bool
	Weights    WeightsMode
	// EMIterations and EMTolerance bound the outer weight loop.
	EMIterations int
	EMTolerance  float64
	// Rates are searched in [0, RateScale/maxBranchLength].
	RateScale    float64
	Seed         int64
	ReportPeriod int
	// CheckpointSeconds is the minimum time between checkpoints.
	CheckpointSeconds float64
	// Trace receives the optimizer trace if not nil.
	Trace   io.Writer
	Signals []os.Signal
}

// DefaultSettings returns the settings used by the command line tool.
func DefaultSettings() Settings {
	return Settings{
		Method:            "simplex",
		Iterations:        1000,
		Restarts:          3,
		Ftol:              1e-10,
		Weights:           WeightsFixed,
		EMIterations:      20,
		EMTolerance:       1e-4,
		RateScale:         10,
		Seed:              1,
		ReportPeriod:      10,
		CheckpointSeconds: 60,
	}
}
