package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestPlotScan(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "scan.png")
	scan := []ScanPoint{
		{Lambda: 0.001, LnL: -20},
		{Lambda: 0.01, LnL: -12},
		{Lambda: 0.1, LnL: jsonFloat(math.Inf(-1))},
	}
	if err := plotScan(scan, fn); err != nil {
		tst.Fatal("Error plotting:", err)
	}
	if st, err := os.Stat(fn); err != nil || st.Size() == 0 {
		tst.Error("Plot not written:", err)
	}

	if err := plotScan(scan[2:], fn); err == nil {
		tst.Error("Expected an error without finite points")
	}
}
