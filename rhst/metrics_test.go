package rhst

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat"
)

func TestBalancedAccuracy_RandomClassCounts(t *testing.T) {
	rng := rand.New(rand.NewSource(2024))
	for trial := 0; trial < 10; trial++ {
		k := 2 + rng.Intn(99)

		// GIVEN a perfect classifier with imbalanced class sizes
		perfect := NewConfusionMatrix(k)
		for i := range perfect {
			perfect[i][i] = float64(10 + rng.Intn(90))
		}
		// THEN balanced accuracy is exactly 1
		assert.Equal(t, 1.0, BalancedAccuracy(perfect), "k=%d perfect", k)

		// GIVEN a classifier that is always wrong
		wrong := NewConfusionMatrix(k)
		for i := range wrong {
			for j := range wrong[i] {
				if i != j {
					wrong[i][j] = float64(10 + rng.Intn(90))
				}
			}
		}
		// THEN balanced accuracy is exactly 0
		assert.Equal(t, 0.0, BalancedAccuracy(wrong), "k=%d all wrong", k)

		// GIVEN off-diagonal mass and a diagonal chosen to hit a recall per class
		cm := NewConfusionMatrix(k)
		chosen := make([]float64, k)
		for i := range cm {
			offSum := 0.0
			for j := range cm[i] {
				if i != j {
					cm[i][j] = float64(10 + rng.Intn(90))
					offSum += cm[i][j]
				}
			}
			chosen[i] = 0.05 + 0.9*rng.Float64()
			cm[i][i] = offSum * chosen[i] / (1 - chosen[i])
		}
		// THEN balanced accuracy is the mean chosen recall
		assert.InDelta(t, stat.Mean(chosen, nil), BalancedAccuracy(cm), 1e-4, "k=%d chosen accuracy", k)
	}
}

func TestBalancedAccuracy_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		cm   ConfusionMatrix
		want float64
	}{
		{"empty", ConfusionMatrix{}, 0},
		{"all zero", NewConfusionMatrix(3), 0},
		{"absent class ignored", ConfusionMatrix{{3, 1}, {0, 0}}, 0.75},
		{"two classes", ConfusionMatrix{{8, 2}, {1, 9}}, 0.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BalancedAccuracy(tt.cm), 1e-12)
		})
	}
}

func TestTally_IgnoresOutOfRange(t *testing.T) {
	cm := Tally([]int{0, 0, 1, 1, 2}, []int{0, 1, 1, 5, -1}, 3)
	assert.Equal(t, ConfusionMatrix{{1, 1, 0}, {0, 1, 0}, {0, 0, 0}}, cm)
}

func TestClassificationScores(t *testing.T) {
	// GIVEN 10 samples of class 0 (8 right) and 10 of class 1 (all right)
	cm := ConfusionMatrix{{8, 2}, {0, 10}}

	scores := ClassificationScores(cm)

	assert.InDelta(t, 0.9, scores[MetricBalancedAccuracy], 1e-12)
	assert.InDelta(t, 0.9, scores[MetricAccuracy], 1e-12)
	// F1 class 0: p=1, r=0.8 → 8/9; class 1: p=10/12, r=1 → 10/11
	assert.InDelta(t, (8.0/9+10.0/11)/2, scores[MetricMacroF1], 1e-12)
}

func TestPerClassPrecision_NeverPredictedIsNaN(t *testing.T) {
	p := PerClassPrecision(ConfusionMatrix{{4, 0}, {2, 0}})
	assert.InDelta(t, 4.0/6, p[0], 1e-12)
	assert.True(t, math.IsNaN(p[1]))
}

func TestRegressionScores(t *testing.T) {
	targets := []float64{1, 2, 3, 4}
	residuals := []float64{0.5, -0.5, 0.5, -0.5}

	scores := RegressionScores(targets, residuals)

	assert.InDelta(t, 0.5, scores[MetricRMSE], 1e-12)
	assert.InDelta(t, 0.5, scores[MetricMAE], 1e-12)
	// SS_tot = 5, SS_res = 1
	assert.InDelta(t, 0.8, scores[MetricR2], 1e-12)
	// Var(res) = 0.25, Var(target) = 1.25
	assert.InDelta(t, 0.8, scores[MetricExplainedVariance], 1e-12)
}

func TestRegressionScores_ConstantTargets(t *testing.T) {
	scores := RegressionScores([]float64{2, 2, 2}, []float64{1, 0, -1})
	assert.Equal(t, 0.0, scores[MetricR2])
	assert.Equal(t, 0.0, scores[MetricExplainedVariance])
	assert.Equal(t, 0.0, RMSE(nil))
}
