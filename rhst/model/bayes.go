package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GaussianNB is a Gaussian naive Bayes classifier. VarSmoothing times the
// largest feature variance is added to every class variance.
type GaussianNB struct {
	numClasses   int
	varSmoothing float64

	logPrior  []float64
	means     [][]float64
	variances [][]float64
}

// NewGaussianNB returns an unfitted classifier.
func NewGaussianNB(numClasses int, varSmoothing float64) *GaussianNB {
	return &GaussianNB{numClasses: numClasses, varSmoothing: varSmoothing}
}

// Fit estimates per-class priors, means and variances.
func (nb *GaussianNB) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	if nb.numClasses < 2 {
		return fmt.Errorf("gaussian nb: need at least 2 classes, got %d", nb.numClasses)
	}
	nf := len(x[0])
	byClass := make([][][]float64, nb.numClasses)
	for i, row := range x {
		c := int(y[i])
		if c < 0 || c >= nb.numClasses {
			return fmt.Errorf("gaussian nb: label %v is not a class index in [0, %d)", y[i], nb.numClasses)
		}
		byClass[c] = append(byClass[c], row)
	}

	col := make([]float64, len(x))
	maxVar := 0.0
	for j := 0; j < nf; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		if len(col) > 1 {
			maxVar = math.Max(maxVar, stat.Variance(col, nil))
		}
	}
	eps := nb.varSmoothing * maxVar
	if eps <= 0 {
		eps = nb.varSmoothing
	}
	if eps <= 0 {
		eps = 1e-9
	}

	nb.logPrior = make([]float64, nb.numClasses)
	nb.means = make([][]float64, nb.numClasses)
	nb.variances = make([][]float64, nb.numClasses)
	for c, rows := range byClass {
		nb.means[c] = make([]float64, nf)
		nb.variances[c] = make([]float64, nf)
		if len(rows) == 0 {
			nb.logPrior[c] = math.Inf(-1)
			continue
		}
		nb.logPrior[c] = math.Log(float64(len(rows)) / float64(len(x)))
		vals := make([]float64, len(rows))
		for j := 0; j < nf; j++ {
			for i, row := range rows {
				vals[i] = row[j]
			}
			mu, v := stat.PopMeanVariance(vals, nil)
			nb.means[c][j] = mu
			nb.variances[c][j] = v + eps
		}
	}
	return nil
}

// Predict returns the class with the highest posterior.
func (nb *GaussianNB) Predict(x [][]float64) ([]float64, error) {
	if nb.logPrior == nil {
		return nil, errors.New("gaussian nb: not fitted")
	}
	out := make([]float64, len(x))
	logPost := make([]float64, nb.numClasses)
	for r, row := range x {
		if len(row) != len(nb.means[0]) {
			return nil, fmt.Errorf("gaussian nb: row %d has %d features, fitted on %d", r, len(row), len(nb.means[0]))
		}
		for c := range logPost {
			lp := nb.logPrior[c]
			if !math.IsInf(lp, -1) {
				for j, v := range row {
					d := v - nb.means[c][j]
					lp -= 0.5 * (math.Log(2*math.Pi*nb.variances[c][j]) + d*d/nb.variances[c][j])
				}
			}
			logPost[c] = lp
		}
		out[r] = float64(floats.MaxIdx(logPost))
	}
	return out, nil
}
