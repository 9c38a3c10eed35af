package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/neuropredict/neuropredict/rhst"
)

// innerTrainFraction is the share of a training partition used to fit
// grid-search candidates; the rest scores them.
const innerTrainFraction = 0.75

// searchSpec is what a grid search needs to build and score candidates.
type searchSpec struct {
	task       rhst.Task
	numClasses int
	candidates []Params
	build      func(p Params, numFeatures int) Estimator
	key        rhst.RunKey
}

// gridSearch picks the best candidate on one inner stratified holdout of
// (x, y). Higher scores win: balanced accuracy for classification, negative
// MAE for regression; ties keep the earlier candidate. When the partition
// is too small to hold out, the first candidate is returned.
func gridSearch(x [][]float64, y []float64, s searchSpec) (Params, error) {
	if len(s.candidates) == 0 {
		return nil, errors.New("grid search: no candidates")
	}
	if len(s.candidates) == 1 {
		return s.candidates[0], nil
	}

	var strata rhst.Strata
	if s.task == rhst.TaskClassification {
		strata = rhst.Strata{Labels: make([]int, len(y))}
		for i, v := range y {
			strata.Labels[i] = int(v)
		}
	} else {
		strata = rhst.QuantileStrata(y, rhst.DefaultRegressionBins)
	}
	seq, err := rhst.GenerateSplits(strata, innerTrainFraction, 1, s.key)
	if err != nil {
		logrus.Debugf("grid search skipped, using first candidate: %v", err)
		return s.candidates[0], nil
	}
	inner := seq.At(0)
	xTrain, yTrain := gather(x, y, inner.Train)
	xTest, yTest := gather(x, y, inner.Test)

	best, bestScore := -1, math.Inf(-1)
	var lastErr error
	for c, p := range s.candidates {
		score, err := scoreCandidate(s, p, xTrain, yTrain, xTest, yTest)
		if err != nil {
			logrus.Debugf("grid search candidate {%v} failed: %v", p, err)
			lastErr = err
			continue
		}
		if best < 0 || score > bestScore {
			best, bestScore = c, score
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("grid search: every candidate failed: %w", lastErr)
	}
	logrus.Debugf("grid search chose {%v} with score %.4f over %d candidates", s.candidates[best], bestScore, len(s.candidates))
	return s.candidates[best], nil
}

func scoreCandidate(s searchSpec, p Params, xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (float64, error) {
	est := s.build(p, len(xTrain[0]))
	if err := est.Fit(xTrain, yTrain); err != nil {
		return 0, err
	}
	pred, err := est.Predict(xTest)
	if err != nil {
		return 0, err
	}
	if s.task == rhst.TaskClassification {
		trueIdx := make([]int, len(yTest))
		predIdx := make([]int, len(pred))
		for i := range pred {
			trueIdx[i], predIdx[i] = int(yTest[i]), int(pred[i])
		}
		return rhst.BalancedAccuracy(rhst.Tally(trueIdx, predIdx, s.numClasses)), nil
	}
	residuals := make([]float64, len(pred))
	for i := range pred {
		residuals[i] = pred[i] - yTest[i]
	}
	return -rhst.MAE(residuals), nil
}

func gather(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	xs := make([][]float64, len(idx))
	ys := make([]float64, len(idx))
	for k, i := range idx {
		xs[k], ys[k] = x[i], y[i]
	}
	return xs, ys
}
