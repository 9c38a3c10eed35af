package rhst

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classificationOutcome(fs string, cm ConfusionMatrix, imp []float64, sel []int) FeatureSetOutcome {
	return FeatureSetOutcome{
		FeatureSet:       fs,
		ConfusionMatrix:  cm,
		Importances:      imp,
		SelectedFeatures: sel,
		Scores:           ClassificationScores(cm),
	}
}

// fixtureRun is three successful repetitions over two feature sets, plus one failure.
func fixtureRun() (RunMeta, []RepetitionResult, RepetitionFailure) {
	meta := RunMeta{
		Task:    TaskClassification,
		Classes: []string{"A", "B"},
		FeatureSets: []FeatureSetInfo{
			{Name: "fs1", FeatureNames: []string{"x", "y"}},
			{Name: "fs2", FeatureNames: []string{"p", "q", "r"}},
		},
	}
	results := []RepetitionResult{
		{Index: 2, Outcomes: []FeatureSetOutcome{
			classificationOutcome("fs1", ConfusionMatrix{{3, 2}, {2, 3}}, nil, nil),
			classificationOutcome("fs2", ConfusionMatrix{{5, 0}, {0, 5}}, nil, []int{1, 2}),
		}},
		{Index: 0, Outcomes: []FeatureSetOutcome{
			classificationOutcome("fs1", ConfusionMatrix{{5, 0}, {0, 5}}, []float64{0.5, 0.5}, nil),
			classificationOutcome("fs2", ConfusionMatrix{{5, 0}, {1, 4}}, []float64{0.2, 0.4, 0.4}, []int{1, 2}),
		}},
		{Index: 1, Outcomes: []FeatureSetOutcome{
			classificationOutcome("fs1", ConfusionMatrix{{4, 1}, {1, 4}}, []float64{0.7, 0.3}, nil),
			classificationOutcome("fs2", ConfusionMatrix{{4, 1}, {0, 5}}, []float64{0.2, 0.4, 0.4}, []int{2}),
		}},
	}
	failure := RepetitionFailure{Index: 3, Cause: CauseFit, FeatureSet: "fs2", Message: "boom"}
	return meta, results, failure
}

func TestNewDistribution(t *testing.T) {
	d := NewDistribution([]float64{1, 0.8, math.NaN(), 0.6})
	assert.Equal(t, []float64{1, 0.8, 0.6}, d.Values)
	assert.InDelta(t, 0.8, d.Mean, 1e-12)
	assert.InDelta(t, 0.2, d.Std, 1e-12, "sample standard deviation")

	single := NewDistribution([]float64{0.7})
	assert.Equal(t, 0.7, single.Mean)
	assert.Equal(t, 0.0, single.Std)

	empty := NewDistribution(nil)
	assert.NotNil(t, empty.Values)
	assert.Equal(t, 0.0, empty.Mean)
}

func TestAggregator_Finalize(t *testing.T) {
	// GIVEN results added out of order and one failure
	meta, results, failure := fixtureRun()
	agg := NewAggregator(meta)
	for _, r := range results {
		agg.Add(r)
	}
	agg.AddFailure(failure)
	assert.Equal(t, 3, agg.Successful())
	assert.Equal(t, 1, agg.Failed())

	// WHEN finalized
	ordered, failures, s := agg.Finalize()

	// THEN results are in index order and failures are kept
	require.Len(t, ordered, 3)
	for i, r := range ordered {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, []RepetitionFailure{failure}, failures)
	assert.Equal(t, 3, s.Successful)
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.FeatureSets, 2)

	// THEN metric distributions follow index order
	fs1 := s.FeatureSets[0]
	assert.Equal(t, "fs1", fs1.FeatureSet)
	ba := fs1.Metrics[MetricBalancedAccuracy]
	assert.InDeltaSlice(t, []float64{1, 0.8, 0.6}, ba.Values, 1e-12)
	assert.InDelta(t, 0.8, ba.Mean, 1e-12)
	assert.InDelta(t, 0.2, ba.Std, 1e-12)
	assert.Contains(t, fs1.Metrics, MetricMacroF1)
	assert.Contains(t, fs1.Metrics, MetricAccuracy)

	// THEN confusion matrices are pooled and recall is tracked per class
	assert.Equal(t, ConfusionMatrix{{12, 3}, {3, 12}}, fs1.PooledConfusion)
	assert.InDeltaSlice(t, []float64{1, 0.8, 0.6}, fs1.PerClassRecall["A"].Values, 1e-12)

	// THEN importance is averaged over the repetitions that reported it
	require.NotNil(t, fs1.Importance)
	assert.Equal(t, 2, fs1.Importance.Repetitions)
	assert.InDeltaSlice(t, []float64{0.6, 0.4}, fs1.Importance.Mean, 1e-12)
	assert.Equal(t, []int{0, 1}, fs1.Importance.Ranking)
	assert.Nil(t, fs1.SelectionFrequency)

	// THEN importance ties rank by ascending feature index
	fs2 := s.FeatureSets[1]
	require.NotNil(t, fs2.Importance)
	assert.Equal(t, []int{1, 2, 0}, fs2.Importance.Ranking)
	assert.InDeltaSlice(t, []float64{0, 2.0 / 3, 1}, fs2.SelectionFrequency, 1e-12)
}

func TestSummarize_NoImportances(t *testing.T) {
	meta, results, _ := fixtureRun()
	for i := range results {
		for j := range results[i].Outcomes {
			results[i].Outcomes[j].Importances = nil
		}
	}
	s := Summarize(meta, results, nil)
	for _, fs := range s.FeatureSets {
		assert.Nil(t, fs.Importance, fs.FeatureSet)
	}
}

func TestSummarize_Regression(t *testing.T) {
	meta := RunMeta{Task: TaskRegression, FeatureSets: []FeatureSetInfo{{Name: "fs", FeatureNames: []string{"a"}}}}
	mk := func(i int, targets, residuals []float64) RepetitionResult {
		return RepetitionResult{Index: i, Outcomes: []FeatureSetOutcome{{
			FeatureSet: "fs", Targets: targets, Residuals: residuals,
			Scores: RegressionScores(targets, residuals),
		}}}
	}
	results := []RepetitionResult{
		mk(0, []float64{1, 2}, []float64{1, -1}),
		mk(1, []float64{3, 4}, []float64{0.5, 0.5}),
	}

	s := Summarize(meta, results, nil)

	fs := s.FeatureSets[0]
	assert.Equal(t, []float64{1, -1, 0.5, 0.5}, fs.PooledResiduals)
	assert.InDeltaSlice(t, []float64{1, 0.5}, fs.Metrics[MetricMAE].Values, 1e-12)
	assert.Nil(t, fs.PooledConfusion)
	assert.Nil(t, fs.PerClassRecall)
	assert.Len(t, fs.Metrics, len(RegressionMetrics))
}

func TestResultSet_RecomputeIsIdempotent(t *testing.T) {
	// GIVEN a finalized result set
	meta, results, failure := fixtureRun()
	agg := NewAggregator(meta)
	for _, r := range results {
		agg.Add(r)
	}
	agg.AddFailure(failure)
	ordered, failures, summary := agg.Finalize()
	rs := &ResultSet{
		RunID: "r", State: StatePartiallyFailed, Task: meta.Task, Classes: meta.Classes,
		FeatureSets: meta.FeatureSets, NumRepetitions: 4, Repetitions: ordered,
		Failures: failures, FailureFraction: 0.25, Summary: summary,
	}

	// THEN recomputing from the stored values reproduces the summary, repeatedly
	assert.Equal(t, rs.Summary, rs.Recompute())
	assert.Equal(t, rs.Recompute(), rs.Recompute())

	// AND the same holds after a JSON round trip
	var buf bytes.Buffer
	require.NoError(t, rs.WriteJSON(&buf))
	decoded, err := ReadResultSet(&buf)
	require.NoError(t, err)
	assert.Equal(t, rs.Summary, decoded.Summary)
	assert.Equal(t, decoded.Summary, decoded.Recompute())
	assert.Equal(t, []int{3}, decoded.FailedIndices())
}
