package model

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neuropredict/neuropredict/rhst"
)

// imputer fills NaN feature values with per-column statistics learned on
// the training partition. With rhst.ImputeRaise any NaN is an error.
type imputer struct {
	strategy string
	fill     []float64
}

func newImputer(strategy string) (*imputer, error) {
	switch strategy {
	case rhst.ImputeRaise, rhst.ImputeMean, rhst.ImputeMedian, rhst.ImputeMostFrequent:
		return &imputer{strategy: strategy}, nil
	}
	return nil, rhst.NewConfigurationError("Pipeline.ImputeStrategy", "unknown impute strategy %q", strategy)
}

func (im *imputer) fit(x [][]float64) error {
	nf := len(x[0])
	im.fill = make([]float64, nf)
	if im.strategy == rhst.ImputeRaise {
		return checkMissing(x, im.strategy)
	}
	for j := 0; j < nf; j++ {
		var col []float64
		for _, row := range x {
			if !math.IsNaN(row[j]) {
				col = append(col, row[j])
			}
		}
		if len(col) == 0 {
			// column entirely missing on this partition
			continue
		}
		switch im.strategy {
		case rhst.ImputeMean:
			im.fill[j] = stat.Mean(col, nil)
		case rhst.ImputeMedian:
			sort.Float64s(col)
			im.fill[j] = stat.Quantile(0.5, stat.Empirical, col, nil)
		case rhst.ImputeMostFrequent:
			sort.Float64s(col)
			im.fill[j], _ = stat.Mode(col, nil)
		}
	}
	return nil
}

// transform returns x with NaNs replaced. Rows without NaN are shared, not copied.
func (im *imputer) transform(x [][]float64) ([][]float64, error) {
	if im.strategy == rhst.ImputeRaise {
		return x, checkMissing(x, im.strategy)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = row
		copied := false
		for j, v := range row {
			if !math.IsNaN(v) {
				continue
			}
			if !copied {
				out[i] = append([]float64(nil), row...)
				copied = true
			}
			out[i][j] = im.fill[j]
		}
	}
	return out, nil
}

func checkMissing(x [][]float64, strategy string) error {
	for i, row := range x {
		for j, v := range row {
			if math.IsNaN(v) {
				return fmt.Errorf("row %d feature %d is missing and impute strategy is %q", i, j, strategy)
			}
		}
	}
	return nil
}
