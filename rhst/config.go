package rhst

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Grid-search intensity levels.
const (
	GridSearchNone       = "none"
	GridSearchLight      = "light"
	GridSearchExhaustive = "exhaustive"
)

// Imputation strategies for missing (NaN) feature values.
const (
	ImputeRaise        = "raise"
	ImputeMean         = "mean"
	ImputeMedian       = "median"
	ImputeMostFrequent = "most_frequent"
)

// Reduced-dimensionality keywords.
const (
	ReducedDimAll   = "all"
	ReducedDimTenth = "tenth"
	ReducedDimSqrt  = "sqrt"
	ReducedDimLog2  = "log2"
)

// Defaults mirror the command-line defaults.
const (
	DefaultTrainFraction    = 0.8
	DefaultNumRepetitions   = 200
	DefaultNumProcs         = 1
	DefaultSeed             = 42
	DefaultClassifier       = "randomforestclassifier"
	DefaultRegressor        = "randomforestregressor"
	DefaultFeatureSelection = "variancethreshold"
	DefaultReducedDim       = ReducedDimTenth
	DefaultGridSearchLevel  = GridSearchLight
	DefaultImputeStrategy   = ImputeRaise
)

// RecommendedMinRepetitions is the smallest repetition count that runs without a warning.
const RecommendedMinRepetitions = 10

// PipelineConfig names the estimator and the steps in front of it.
// Immutable per run; shared read-only by every repetition.
type PipelineConfig struct {
	Estimator        string `json:"estimator" yaml:"estimator" validate:"required"`
	FeatureSelection string `json:"feature_selection" yaml:"feature_selection" validate:"required"`
	ReducedDim       string `json:"reduced_dim" yaml:"reduced_dim" validate:"required"`
	GridSearchLevel  string `json:"grid_search_level" yaml:"grid_search_level" validate:"oneof=none light exhaustive"`
	ImputeStrategy   string `json:"impute_strategy" yaml:"impute_strategy" validate:"oneof=raise mean median most_frequent"`
}

// Config is the frozen run configuration.
type Config struct {
	TrainFraction  float64        `json:"train_fraction" yaml:"train_fraction" validate:"gte=0.01,lte=0.99"`
	NumRepetitions int            `json:"num_repetitions" yaml:"num_repetitions" validate:"gte=1"`
	NumProcs       int            `json:"num_procs" yaml:"num_procs" validate:"gte=1"`
	Seed           int64          `json:"seed" yaml:"seed"`
	Pipeline       PipelineConfig `json:"pipeline" yaml:"pipeline"`
	// SubGroups lists class subsets to evaluate as separate runs. Empty means all classes.
	SubGroups [][]string `json:"sub_groups,omitempty" yaml:"sub_groups,omitempty" validate:"omitempty,dive,min=2,dive,required"`
}

// DefaultConfig returns the defaults for the given task.
func DefaultConfig(task Task) Config {
	est := DefaultClassifier
	if task == TaskRegression {
		est = DefaultRegressor
	}
	return Config{
		TrainFraction:  DefaultTrainFraction,
		NumRepetitions: DefaultNumRepetitions,
		NumProcs:       DefaultNumProcs,
		Seed:           DefaultSeed,
		Pipeline: PipelineConfig{
			Estimator:        est,
			FeatureSelection: DefaultFeatureSelection,
			ReducedDim:       DefaultReducedDim,
			GridSearchLevel:  DefaultGridSearchLevel,
			ImputeStrategy:   DefaultImputeStrategy,
		},
	}
}

var configValidate = validator.New()

// Normalized returns p with its keyword settings trimmed and lowercased.
func (p PipelineConfig) Normalized() PipelineConfig {
	p.Estimator = strings.ToLower(strings.TrimSpace(p.Estimator))
	p.FeatureSelection = strings.ToLower(strings.TrimSpace(p.FeatureSelection))
	p.ReducedDim = strings.ToLower(strings.TrimSpace(p.ReducedDim))
	p.GridSearchLevel = strings.ToLower(strings.TrimSpace(p.GridSearchLevel))
	p.ImputeStrategy = strings.ToLower(strings.TrimSpace(p.ImputeStrategy))
	return p
}

// Normalized returns c with a normalized pipeline.
func (c Config) Normalized() Config {
	c.Pipeline = c.Pipeline.Normalized()
	return c
}

// Validate checks every field of the normalized configuration.
// Returns *ConfigurationError naming the first bad field.
func (c Config) Validate() error {
	c = c.Normalized()
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigurationError{
				Field:  fe.Namespace(),
				Reason: fmt.Sprintf("failed %q (param %q), got %v", fe.Tag(), fe.Param(), fe.Value()),
			}
		}
		return &ConfigurationError{Err: err}
	}
	if _, _, err := ParseReducedDim(c.Pipeline.ReducedDim); err != nil {
		return err
	}
	if c.NumRepetitions < RecommendedMinRepetitions {
		logrus.Warnf("num_repetitions=%d; at least %d repetitions are recommended", c.NumRepetitions, RecommendedMinRepetitions)
	}
	return nil
}

// ParseReducedDim splits a reduced-dimensionality setting into a keyword or
// an explicit count. Exactly one of the results is meaningful.
func ParseReducedDim(s string) (keyword string, count int, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case ReducedDimAll, ReducedDimTenth, ReducedDimSqrt, ReducedDimLog2:
		return s, 0, nil
	}
	n, convErr := strconv.Atoi(s)
	if convErr != nil || n < 1 {
		return "", 0, NewConfigurationError("Pipeline.ReducedDim",
			"must be all, tenth, sqrt, log2 or a positive integer, got %q", s)
	}
	return "", n, nil
}

// ResolveReducedDim turns a reduced-dimensionality setting into a feature
// count for a set of numFeatures features and trainSamples training rows.
// An explicit count above numFeatures is infeasible; any value above
// trainSamples-1 is clamped.
func ResolveReducedDim(s string, numFeatures, trainSamples int) (int, error) {
	keyword, n, err := ParseReducedDim(s)
	if err != nil {
		return 0, err
	}
	switch keyword {
	case ReducedDimAll:
		n = numFeatures
	case ReducedDimTenth:
		n = int(math.Ceil(float64(numFeatures) / 10))
	case ReducedDimSqrt:
		n = int(math.Ceil(math.Sqrt(float64(numFeatures))))
	case ReducedDimLog2:
		n = int(math.Ceil(math.Log2(float64(numFeatures))))
	default:
		if n > numFeatures {
			return 0, NewConfigurationError("Pipeline.ReducedDim",
				"requested %d features but only %d are available", n, numFeatures)
		}
	}
	n = max(n, 1)
	if limit := trainSamples - 1; limit >= 1 && n > limit {
		logrus.Debugf("reduced dimensionality %d clamped to %d (training samples - 1)", n, limit)
		n = limit
	}
	return n, nil
}

// SubGroupName joins the classes of a sub-group into a run name, e.g. "AD_vs_CN".
func SubGroupName(classes []string) string {
	return strings.Join(classes, "_vs_")
}
