package rhst

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric names used in summaries.
const (
	MetricBalancedAccuracy  = "balanced_accuracy"
	MetricAccuracy          = "accuracy"
	MetricMacroF1           = "macro_f1"
	MetricRMSE              = "rmse"
	MetricMAE               = "mae"
	MetricR2                = "r2"
	MetricExplainedVariance = "explained_variance"
)

// ClassificationMetrics lists the per-repetition classification metrics, in report order.
var ClassificationMetrics = []string{MetricBalancedAccuracy, MetricAccuracy, MetricMacroF1}

// RegressionMetrics lists the per-repetition regression metrics, in report order.
var RegressionMetrics = []string{MetricRMSE, MetricMAE, MetricR2, MetricExplainedVariance}

// ConfusionMatrix tallies true class (rows) against predicted class (columns).
type ConfusionMatrix [][]float64

// NewConfusionMatrix returns a zeroed k×k matrix.
func NewConfusionMatrix(k int) ConfusionMatrix {
	cm := make(ConfusionMatrix, k)
	for i := range cm {
		cm[i] = make([]float64, k)
	}
	return cm
}

// Tally builds a confusion matrix from class indices in [0, k).
// Pairs outside that range are ignored.
func Tally(trueIdx, predIdx []int, k int) ConfusionMatrix {
	cm := NewConfusionMatrix(k)
	for i := range trueIdx {
		t, p := trueIdx[i], predIdx[i]
		if t >= 0 && t < k && p >= 0 && p < k {
			cm[t][p]++
		}
	}
	return cm
}

// Add accumulates other into cm. Both must have the same size.
func (cm ConfusionMatrix) Add(other ConfusionMatrix) {
	for i := range cm {
		floats.Add(cm[i], other[i])
	}
}

func (cm ConfusionMatrix) masses() (diag, off float64) {
	for i, row := range cm {
		for j, v := range row {
			if i == j {
				diag += v
			} else {
				off += v
			}
		}
	}
	return diag, off
}

// PerClassRecall returns diag[i]/rowSum[i]; NaN for rows with no samples.
func PerClassRecall(cm ConfusionMatrix) []float64 {
	out := make([]float64, len(cm))
	for i, row := range cm {
		total := floats.Sum(row)
		if total == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = row[i] / total
	}
	return out
}

// PerClassPrecision returns diag[j]/colSum[j]; NaN for never-predicted classes.
func PerClassPrecision(cm ConfusionMatrix) []float64 {
	out := make([]float64, len(cm))
	for j := range cm {
		col := 0.0
		for i := range cm {
			col += cm[i][j]
		}
		if col == 0 {
			out[j] = math.NaN()
			continue
		}
		out[j] = cm[j][j] / col
	}
	return out
}

// BalancedAccuracy is the mean per-class recall over classes present in the
// matrix (rows with nonzero total). Returns exactly 1 when there is no
// off-diagonal mass and exactly 0 when there is no diagonal mass.
func BalancedAccuracy(cm ConfusionMatrix) float64 {
	diag, off := cm.masses()
	switch {
	case diag == 0:
		return 0
	case off == 0:
		return 1
	}
	sum, n := 0.0, 0
	for _, r := range PerClassRecall(cm) {
		if math.IsNaN(r) {
			continue
		}
		sum += r
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Accuracy is the fraction of samples on the diagonal.
func Accuracy(cm ConfusionMatrix) float64 {
	diag, off := cm.masses()
	if diag+off == 0 {
		return 0
	}
	return diag / (diag + off)
}

// MacroF1 is the unweighted mean F1 over classes present in the matrix.
// Classes never predicted contribute an F1 of 0.
func MacroF1(cm ConfusionMatrix) float64 {
	recall := PerClassRecall(cm)
	precision := PerClassPrecision(cm)
	sum, n := 0.0, 0
	for i := range cm {
		if math.IsNaN(recall[i]) {
			continue
		}
		n++
		p := precision[i]
		if math.IsNaN(p) || p+recall[i] == 0 {
			continue
		}
		sum += 2 * p * recall[i] / (p + recall[i])
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// RMSE is the root mean squared residual.
func RMSE(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(residuals, residuals) / float64(len(residuals)))
}

// MAE is the mean absolute residual.
func MAE(residuals []float64) float64 {
	if len(residuals) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range residuals {
		sum += math.Abs(r)
	}
	return sum / float64(len(residuals))
}

// R2 is the coefficient of determination of predictions target+residual.
// Returns 0 when the targets have no variance.
func R2(targets, residuals []float64) float64 {
	if len(targets) == 0 || len(targets) != len(residuals) {
		return 0
	}
	mean := stat.Mean(targets, nil)
	ssTot := 0.0
	for _, t := range targets {
		ssTot += (t - mean) * (t - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - floats.Dot(residuals, residuals)/ssTot
}

// ExplainedVariance is 1 - Var(residual)/Var(target), population variances.
// Returns 0 when the targets have no variance.
func ExplainedVariance(targets, residuals []float64) float64 {
	if len(targets) < 2 || len(targets) != len(residuals) {
		return 0
	}
	_, vt := stat.PopMeanVariance(targets, nil)
	if vt == 0 {
		return 0
	}
	_, vr := stat.PopMeanVariance(residuals, nil)
	return 1 - vr/vt
}

// ClassificationScores computes every classification metric of one matrix.
func ClassificationScores(cm ConfusionMatrix) map[string]float64 {
	return map[string]float64{
		MetricBalancedAccuracy: BalancedAccuracy(cm),
		MetricAccuracy:         Accuracy(cm),
		MetricMacroF1:          MacroF1(cm),
	}
}

// RegressionScores computes every regression metric of one residual vector.
func RegressionScores(targets, residuals []float64) map[string]float64 {
	return map[string]float64{
		MetricRMSE:              RMSE(residuals),
		MetricMAE:               MAE(residuals),
		MetricR2:                R2(targets, residuals),
		MetricExplainedVariance: ExplainedVariance(targets, residuals),
	}
}
