package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuropredict/neuropredict/rhst"
)

var errSearchFit = errors.New("candidate cannot fit")

// constEstimator predicts one value; fail makes Fit error.
type constEstimator struct {
	value float64
	fail  bool
}

func (c constEstimator) Fit([][]float64, []float64) error {
	if c.fail {
		return errSearchFit
	}
	return nil
}

func (c constEstimator) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = c.value
	}
	return out, nil
}

// searchBuilder maps {"fail": 1} to a failing estimator, {"tree": 1} to a
// decision tree and anything else to a constant predictor of class 0.
func searchBuilder(p Params, _ int) Estimator {
	switch {
	case p.Get("fail", 0) == 1:
		return constEstimator{fail: true}
	case p.Get("tree", 0) == 1:
		return NewDecisionTree(rhst.TaskClassification, 2, TreeConfig{}, 1)
	}
	return constEstimator{}
}

func TestGridSearch(t *testing.T) {
	x, y := blobs(20, 2, 2, 8, 31)

	tests := []struct {
		name       string
		candidates []Params
		want       Params
		wantErr    bool
	}{
		{"best score wins", []Params{{"const": 1}, {"tree": 1}}, Params{"tree": 1}, false},
		{"ties keep the earlier candidate", []Params{{"const": 1}, {"const": 2}}, Params{"const": 1}, false},
		{"failed candidates are skipped", []Params{{"fail": 1}, {"const": 1}}, Params{"const": 1}, false},
		{"single candidate is not scored", []Params{{"fail": 1}}, Params{"fail": 1}, false},
		{"every candidate failed", []Params{{"fail": 1}, {"fail": 1}}, nil, true},
		{"no candidates", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gridSearch(x, y, searchSpec{
				task:       rhst.TaskClassification,
				numClasses: 2,
				candidates: tt.candidates,
				build:      searchBuilder,
				key:        rhst.NewRunKey(3),
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGridSearch_EveryFailureWrapsCause(t *testing.T) {
	x, y := blobs(10, 2, 1, 8, 32)
	_, err := gridSearch(x, y, searchSpec{
		task:       rhst.TaskClassification,
		numClasses: 2,
		candidates: []Params{{"fail": 1}, {"fail": 1}},
		build:      searchBuilder,
		key:        rhst.NewRunKey(1),
	})
	assert.ErrorIs(t, err, errSearchFit)
}

func TestGridSearch_SmallPartitionFallsBack(t *testing.T) {
	// GIVEN a partition whose minority class has a single row
	x := [][]float64{{0}, {1}, {2}, {3}}
	y := []float64{0, 1, 1, 1}

	got, err := gridSearch(x, y, searchSpec{
		task:       rhst.TaskClassification,
		numClasses: 2,
		candidates: []Params{{"const": 1}, {"tree": 1}},
		build:      searchBuilder,
		key:        rhst.NewRunKey(1),
	})

	// THEN the first candidate is used without an inner holdout
	require.NoError(t, err)
	assert.Equal(t, Params{"const": 1}, got)
}

func TestGridSearch_Regression(t *testing.T) {
	x, y := linear(60, 2, 0.1, 33)
	build := func(p Params, _ int) Estimator { return NewRidge(p.Get("alpha", 1)) }

	got, err := gridSearch(x, y, searchSpec{
		task:       rhst.TaskRegression,
		candidates: []Params{{"alpha": 1e6}, {"alpha": 0.01}},
		build:      build,
		key:        rhst.NewRunKey(2),
	})
	require.NoError(t, err)
	assert.Equal(t, Params{"alpha": 0.01}, got)
}
