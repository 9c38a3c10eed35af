package rhst

// Pipeline is a freshly built, unfitted selection+search+estimator chain.
//
// For classification, y holds class indices (as float64) into the run-global
// class list and Predict returns class indices in the same encoding. For
// regression, y holds raw targets.
type Pipeline interface {
	Fit(x [][]float64, y []float64) error
	Predict(x [][]float64) ([]float64, error)
}

// ImportanceReporter is implemented by fitted pipelines whose estimator
// produces per-feature importances. The vector is indexed by the input
// features of the feature set, before selection.
type ImportanceReporter interface {
	FeatureImportances() []float64
}

// SelectionReporter is implemented by fitted pipelines with a feature
// selection step. Indices refer to the input features of the feature set.
type SelectionReporter interface {
	SelectedFeatures() []int
}

// BuildSpec describes the data a pipeline will be fitted on.
type BuildSpec struct {
	Task         Task
	NumClasses   int
	NumFeatures  int
	TrainSamples int
	Seed         int64
	// Repetition is the repetition index, or -1 for the preflight build.
	Repetition int
	FeatureSet string
}

// PipelineBuilder constructs a new Pipeline per (repetition, feature set).
// Implementations must not share fitted state between returned pipelines.
// An infeasible configuration is reported as *ConfigurationError.
type PipelineBuilder interface {
	Build(cfg PipelineConfig, spec BuildSpec) (Pipeline, error)
}

// PipelineBuilderFunc adapts a function to PipelineBuilder.
type PipelineBuilderFunc func(cfg PipelineConfig, spec BuildSpec) (Pipeline, error)

// Build calls f.
func (f PipelineBuilderFunc) Build(cfg PipelineConfig, spec BuildSpec) (Pipeline, error) {
	return f(cfg, spec)
}
