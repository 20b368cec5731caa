package main

import (
	"errors"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotScan saves the likelihood curve. Rates are shown on a log scale.
func plotScan(scan []ScanPoint, fn string) error {
	p := plot.New()
	p.Title.Text = "Likelihood scan"
	p.X.Label.Text = "log10(lambda)"
	p.Y.Label.Text = "lnL"

	pts := make(plotter.XYs, 0, len(scan))
	for _, sp := range scan {
		l := float64(sp.LnL)
		if math.IsInf(l, 0) || math.IsNaN(l) || sp.Lambda <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: math.Log10(sp.Lambda), Y: l})
	}
	if len(pts) == 0 {
		return errors.New("no finite likelihood values to plot")
	}

	if err := plotutil.AddLinePoints(p, "lnL", pts); err != nil {
		return err
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, fn)
}
