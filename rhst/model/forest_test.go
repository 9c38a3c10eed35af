package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/neuropredict/neuropredict/rhst"
)

func TestForest_Classification(t *testing.T) {
	// GIVEN three well separated classes
	xTrain, yTrain := blobs(30, 3, 4, 5, 1)
	xTest, yTest := blobs(10, 3, 4, 5, 2)

	for _, tt := range []struct {
		name      string
		bootstrap bool
		random    bool
	}{
		{"random forest", true, false},
		{"extra trees", false, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := NewForest(rhst.TaskClassification, 3, ForestConfig{
				NumTrees:  25,
				Bootstrap: tt.bootstrap,
				Tree:      TreeConfig{MaxFeatures: 2, RandomThresholds: tt.random},
			}, 7)

			// WHEN fitted
			require.NoError(t, f.Fit(xTrain, yTrain))

			// THEN held-out rows are classified well
			pred, err := f.Predict(xTest)
			require.NoError(t, err)
			assert.Greater(t, accuracy(yTest, pred), 0.9)

			// THEN the shifted feature carries the most importance
			imp := f.Importances()
			require.Len(t, imp, 4)
			assert.InDelta(t, 1, floats.Sum(imp), 1e-9)
			assert.Equal(t, 0, floats.MaxIdx(imp))
		})
	}
}

func TestForest_IndependentOfWorkers(t *testing.T) {
	x, y := blobs(20, 2, 5, 1, 3)
	cfg := ForestConfig{NumTrees: 16, Bootstrap: true, Tree: TreeConfig{MaxFeatures: 2}}

	seqCfg, parCfg := cfg, cfg
	seqCfg.Workers, parCfg.Workers = 1, 4
	seq := NewForest(rhst.TaskClassification, 2, seqCfg, 11)
	par := NewForest(rhst.TaskClassification, 2, parCfg, 11)
	require.NoError(t, seq.Fit(x, y))
	require.NoError(t, par.Fit(x, y))

	ps, err := seq.Predict(x)
	require.NoError(t, err)
	pp, err := par.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, ps, pp)
	assert.Equal(t, seq.Importances(), par.Importances())
}

func TestForest_Regression(t *testing.T) {
	xTrain, yTrain := linear(120, 3, 0.1, 4)
	xTest, yTest := linear(40, 3, 0.1, 5)
	f := NewForest(rhst.TaskRegression, 0, ForestConfig{NumTrees: 30, Bootstrap: true, Tree: TreeConfig{MaxFeatures: 1}}, 2)
	require.NoError(t, f.Fit(xTrain, yTrain))

	pred, err := f.Predict(xTest)
	require.NoError(t, err)

	// a constant predictor would be off by about 2.9 on average
	assert.Less(t, meanAbs(yTest, pred), 1.5)
}

func TestForest_NotFitted(t *testing.T) {
	f := NewForest(rhst.TaskClassification, 2, ForestConfig{}, 1)
	_, err := f.Predict([][]float64{{1}})
	assert.Error(t, err)
	assert.Nil(t, f.Importances())
}

func TestForest_TreePanicBecomesError(t *testing.T) {
	// GIVEN ragged rows, which make a tree index past the short row
	x := [][]float64{{1, 2}, {3}}
	y := []float64{0, 1}
	f := NewForest(rhst.TaskClassification, 2, ForestConfig{NumTrees: 4, Workers: 2}, 1)

	// WHEN fitted
	err := f.Fit(x, y)

	// THEN the panic is returned as an error and the forest stays unfitted
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	_, err = f.Predict([][]float64{{1, 2}})
	assert.Error(t, err)
}
