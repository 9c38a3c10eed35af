package rhst

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// RunRepetition executes one repetition on every feature set of the view.
//
// Exactly one of the three results is non-nil. A *RepetitionFailure is a
// contained, per-repetition failure (fit/predict errors, panics, invalid
// predictions, cancellation). A non-nil error is fatal to the run: an
// infeasible configuration surfacing in Build.
//
// The view and cfg are only read; the returned result shares no memory
// with them.
func RunRepetition(ctx context.Context, split Split, view *DatasetView, cfg PipelineConfig,
	builder PipelineBuilder, key RunKey) (res *RepetitionResult, fail *RepetitionFailure, err error) {

	res = &RepetitionResult{
		Index: split.Index,
		Split: Split{
			Index: split.Index,
			Train: append([]int(nil), split.Train...),
			Test:  append([]int(nil), split.Test...),
		},
	}
	for fi := range view.Features {
		if ctx.Err() != nil {
			return nil, &RepetitionFailure{Index: split.Index, Cause: CauseCancelled, Message: ctx.Err().Error()}, nil
		}
		outcome, f, e := runFeatureSet(split, view, fi, cfg, builder, key)
		if e != nil {
			return nil, nil, e
		}
		if f != nil {
			return nil, f, nil
		}
		res.Outcomes = append(res.Outcomes, *outcome)
	}
	return res, nil, nil
}

func runFeatureSet(split Split, view *DatasetView, fi int, cfg PipelineConfig,
	builder PipelineBuilder, key RunKey) (outcome *FeatureSetOutcome, fail *RepetitionFailure, err error) {

	name := view.Features[fi].Name
	failure := func(cause FailureCause, format string, args ...any) *RepetitionFailure {
		return &RepetitionFailure{Index: split.Index, Cause: cause, FeatureSet: name, Message: fmt.Sprintf(format, args...)}
	}
	stage := CauseFit
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("repetition %d (%s): recovered panic during %s: %v", split.Index, name, stage, r)
			outcome, err = nil, nil
			fail = failure(CausePanic, "%s: %v", stage, r)
		}
	}()

	xTrain, yTrain := view.Rows(fi, split.Train)
	xTest, yTest := view.Rows(fi, split.Test)
	numFeatures := len(view.Features[fi].FeatureNames)

	pipe, err := builder.Build(cfg, BuildSpec{
		Task:         view.Task,
		NumClasses:   len(view.Classes),
		NumFeatures:  numFeatures,
		TrainSamples: len(split.Train),
		Seed:         key.SeedFor(SubsystemModel(split.Index, name)),
		Repetition:   split.Index,
		FeatureSet:   name,
	})
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			return nil, nil, fmt.Errorf("building pipeline for %q: %w", name, err)
		}
		return nil, failure(CauseFit, "build: %v", err), nil
	}

	if err := pipe.Fit(xTrain, yTrain); err != nil {
		return nil, failure(CauseFit, "%v", err), nil
	}
	stage = CausePredict
	pred, err := pipe.Predict(xTest)
	if err != nil {
		return nil, failure(CausePredict, "%v", err), nil
	}
	if len(pred) != len(yTest) {
		return nil, failure(CauseInvalidOutput, "got %d predictions for %d test samples", len(pred), len(yTest)), nil
	}

	outcome = &FeatureSetOutcome{FeatureSet: name}
	switch view.Task {
	case TaskClassification:
		k := len(view.Classes)
		trueIdx := make([]int, len(yTest))
		predIdx := make([]int, len(pred))
		for i := range pred {
			trueIdx[i] = int(yTest[i])
			p := pred[i]
			if math.IsNaN(p) || p < 0 || int(math.Round(p)) >= k {
				return nil, failure(CauseInvalidOutput, "prediction %v is not a class index in [0, %d)", p, k), nil
			}
			predIdx[i] = int(math.Round(p))
		}
		outcome.ConfusionMatrix = Tally(trueIdx, predIdx, k)
		outcome.Scores = ClassificationScores(outcome.ConfusionMatrix)
	case TaskRegression:
		outcome.Residuals = make([]float64, len(pred))
		for i := range pred {
			if math.IsNaN(pred[i]) || math.IsInf(pred[i], 0) {
				return nil, failure(CauseInvalidOutput, "prediction %d is not finite", i), nil
			}
			outcome.Residuals[i] = pred[i] - yTest[i]
		}
		outcome.Targets = append([]float64(nil), yTest...)
		outcome.Scores = RegressionScores(outcome.Targets, outcome.Residuals)
	}

	if ir, ok := pipe.(ImportanceReporter); ok {
		if imp := ir.FeatureImportances(); len(imp) == numFeatures {
			outcome.Importances = sanitize(imp)
		}
	}
	if sr, ok := pipe.(SelectionReporter); ok {
		if sel := sr.SelectedFeatures(); sel != nil {
			outcome.SelectedFeatures = append([]int{}, sel...)
		}
	}
	return outcome, nil, nil
}

// sanitize copies v, replacing non-finite entries with 0 so results stay serializable.
func sanitize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out[i] = x
		}
	}
	return out
}
