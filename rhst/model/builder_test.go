package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/neuropredict/neuropredict/rhst"
)

func pipelineConfig(estimator, selection, reducedDim string) rhst.PipelineConfig {
	return rhst.PipelineConfig{
		Estimator:        estimator,
		FeatureSelection: selection,
		ReducedDim:       reducedDim,
		GridSearchLevel:  rhst.GridSearchNone,
		ImputeStrategy:   rhst.ImputeRaise,
	}
}

func classificationSpec(numFeatures, trainSamples int) rhst.BuildSpec {
	return rhst.BuildSpec{
		Task:         rhst.TaskClassification,
		NumClasses:   2,
		NumFeatures:  numFeatures,
		TrainSamples: trainSamples,
		Seed:         5,
	}
}

func TestBuilder_EveryEstimatorFitsAndPredicts(t *testing.T) {
	xc, yc := blobs(25, 2, 4, 6, 41)
	xcTest, ycTest := blobs(10, 2, 4, 6, 42)
	xr, yr := linear(60, 4, 0.1, 43)
	xrTest, yrTest := linear(20, 4, 0.1, 44)

	b := NewBuilder(WithTreeWorkers(2))
	for _, task := range []rhst.Task{rhst.TaskClassification, rhst.TaskRegression} {
		for _, name := range Estimators(task) {
			t.Run(name, func(t *testing.T) {
				spec := classificationSpec(4, 50)
				spec.Task = task
				p, err := b.Build(pipelineConfig(name, SelectNone, rhst.ReducedDimAll), spec)
				require.NoError(t, err)

				if task == rhst.TaskClassification {
					require.NoError(t, p.Fit(xc, yc))
					pred, err := p.Predict(xcTest)
					require.NoError(t, err)
					assert.Greater(t, accuracy(ycTest, pred), 0.85)
					return
				}
				require.NoError(t, p.Fit(xr, yr))
				pred, err := p.Predict(xrTest)
				require.NoError(t, err)
				assert.Less(t, meanAbs(yrTest, pred), 2.2, "a constant predictor is off by about 2.9")
			})
		}
	}
}

func TestBuilder_Registry(t *testing.T) {
	assert.Equal(t, []string{
		"decisiontreeclassifier", "extratreesclassifier", "gaussiannb",
		"kneighborsclassifier", "randomforestclassifier",
	}, Estimators(rhst.TaskClassification))
	assert.Equal(t, []string{
		"decisiontreeregressor", "extratreesregressor", "kneighborsregressor",
		"randomforestregressor", "ridge",
	}, Estimators(rhst.TaskRegression))
}

func TestBuilder_RejectsConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		cfg   rhst.PipelineConfig
		spec  rhst.BuildSpec
		field string
	}{
		{
			name:  "unknown estimator",
			cfg:   pipelineConfig("svm", SelectNone, rhst.ReducedDimAll),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.Estimator",
		},
		{
			name:  "regressor in a classification run",
			cfg:   pipelineConfig("ridge", SelectNone, rhst.ReducedDimAll),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.Estimator",
		},
		{
			name:  "unknown selection",
			cfg:   pipelineConfig("gaussiannb", "pca", rhst.ReducedDimAll),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.FeatureSelection",
		},
		{
			name:  "regression selection in a classification run",
			cfg:   pipelineConfig("gaussiannb", SelectKBestFRegression, rhst.ReducedDimAll),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.FeatureSelection",
		},
		{
			name:  "more features requested than available",
			cfg:   pipelineConfig("gaussiannb", SelectVarianceThreshold, "10"),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.ReducedDim",
		},
		{
			name: "unknown grid level",
			cfg: func() rhst.PipelineConfig {
				c := pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll)
				c.GridSearchLevel = "huge"
				return c
			}(),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.GridSearchLevel",
		},
		{
			name: "unknown imputation",
			cfg: func() rhst.PipelineConfig {
				c := pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll)
				c.ImputeStrategy = "zero"
				return c
			}(),
			spec:  classificationSpec(4, 20),
			field: "Pipeline.ImputeStrategy",
		},
		{
			name: "single class",
			cfg:  pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll),
			spec: func() rhst.BuildSpec {
				s := classificationSpec(4, 20)
				s.NumClasses = 1
				return s
			}(),
			field: "Pipeline",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder().Build(tt.cfg, tt.spec)
			var cfgErr *rhst.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestBuilder_EstimatorNameIsCaseInsensitive(t *testing.T) {
	_, err := NewBuilder().Build(pipelineConfig("RandomForestClassifier", SelectNone, rhst.ReducedDimAll), classificationSpec(4, 20))
	assert.NoError(t, err)
}

func TestBuilder_KeywordSettingsAreCaseInsensitive(t *testing.T) {
	cfg := pipelineConfig("gaussiannb", SelectNone, "ALL")
	cfg.GridSearchLevel = "Light"
	cfg.ImputeStrategy = " Mean"

	p, err := NewBuilder().Build(cfg, classificationSpec(4, 20))
	require.NoError(t, err)
	assert.Equal(t, rhst.ImputeMean, p.(*pipeline).imputer.strategy)
}

func TestPipeline_SelectionMapsImportancesBack(t *testing.T) {
	// GIVEN six features of which only feature 0 separates the classes
	x, y := blobs(30, 2, 6, 6, 45)
	p, err := NewBuilder().Build(pipelineConfig("randomforestclassifier", SelectKBestFClassif, "2"), classificationSpec(6, len(x)))
	require.NoError(t, err)

	// WHEN fitted
	require.NoError(t, p.Fit(x, y))

	// THEN two features are kept, feature 0 among them
	mp := p.(*pipeline)
	sel := mp.SelectedFeatures()
	require.Len(t, sel, 2)
	assert.Equal(t, 0, sel[0])

	// THEN importances cover every input feature and vanish on dropped ones
	imp := mp.FeatureImportances()
	require.Len(t, imp, 6)
	assert.InDelta(t, 1, floats.Sum(imp), 1e-9)
	for j := range imp {
		if j != sel[0] && j != sel[1] {
			assert.Zero(t, imp[j])
		}
	}
	assert.Equal(t, 0, floats.MaxIdx(imp))

	pred, err := p.Predict(x[:3])
	require.NoError(t, err)
	assert.Len(t, pred, 3)
}

func TestPipeline_NoSelection(t *testing.T) {
	x, y := blobs(20, 2, 3, 6, 46)
	p, err := NewBuilder().Build(pipelineConfig("kneighborsclassifier", SelectNone, rhst.ReducedDimAll), classificationSpec(3, len(x)))
	require.NoError(t, err)
	require.NoError(t, p.Fit(x, y))

	mp := p.(*pipeline)
	assert.Nil(t, mp.SelectedFeatures())
	assert.Nil(t, mp.FeatureImportances(), "knn has no importances")
	assert.Equal(t, Params{"k": 5}, mp.Params())
}

func TestPipeline_GridSearchChoosesFromGrid(t *testing.T) {
	x, y := blobs(30, 2, 3, 4, 47)
	cfg := pipelineConfig("kneighborsclassifier", SelectNone, rhst.ReducedDimAll)
	cfg.GridSearchLevel = rhst.GridSearchLight
	p, err := NewBuilder().Build(cfg, classificationSpec(3, len(x)))
	require.NoError(t, err)
	require.NoError(t, p.Fit(x, y))

	k := p.(*pipeline).Params()["k"]
	assert.Contains(t, []float64{3, 5, 9}, k)
}

func TestPipeline_MissingValues(t *testing.T) {
	x, y := blobs(20, 2, 3, 6, 48)
	x[3][1] = math.NaN()

	t.Run("raise fails the fit", func(t *testing.T) {
		p, err := NewBuilder().Build(pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll), classificationSpec(3, len(x)))
		require.NoError(t, err)
		err = p.Fit(x, y)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "imputation")
	})

	t.Run("mean imputation fits", func(t *testing.T) {
		cfg := pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll)
		cfg.ImputeStrategy = rhst.ImputeMean
		p, err := NewBuilder().Build(cfg, classificationSpec(3, len(x)))
		require.NoError(t, err)
		require.NoError(t, p.Fit(x, y))

		pred, err := p.Predict([][]float64{{0, math.NaN(), 0}})
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, pred)
	})
}

func TestPipeline_PredictErrors(t *testing.T) {
	p, err := NewBuilder().Build(pipelineConfig("gaussiannb", SelectNone, rhst.ReducedDimAll), classificationSpec(2, 10))
	require.NoError(t, err)

	_, err = p.Predict([][]float64{{1, 2}})
	assert.Error(t, err, "not fitted")

	x, y := blobs(5, 2, 2, 6, 49)
	require.NoError(t, p.Fit(x, y))
	_, err = p.Predict([][]float64{{1, 2, 3}})
	assert.Error(t, err, "wrong width")
}

func TestPipeline_Reproducible(t *testing.T) {
	x, y := blobs(20, 2, 4, 1, 50)
	cfg := pipelineConfig("extratreesclassifier", SelectVarianceThreshold, "3")
	cfg.GridSearchLevel = rhst.GridSearchLight

	fit := func() []float64 {
		p, err := NewBuilder(WithTreeWorkers(3)).Build(cfg, classificationSpec(4, len(x)))
		require.NoError(t, err)
		require.NoError(t, p.Fit(x, y))
		pred, err := p.Predict(x)
		require.NoError(t, err)
		return pred
	}
	assert.Equal(t, fit(), fit())
}
