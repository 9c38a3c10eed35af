// Package model provides the estimators, feature selection, imputation and
// grid search behind rhst.PipelineBuilder.
//
// Estimators are resolved by name through a registry; every Build returns a
// new, unfitted pipeline so no fitted state crosses repetitions.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neuropredict/neuropredict/rhst"
)

// Estimator is a supervised learner over dense rows. Classification
// responses are class indices encoded as float64.
type Estimator interface {
	Fit(x [][]float64, y []float64) error
	Predict(x [][]float64) ([]float64, error)
}

// importancer is implemented by estimators with per-feature importances.
type importancer interface {
	Importances() []float64
}

// estimatorEnv is what an estimator constructor may depend on.
type estimatorEnv struct {
	numClasses  int
	numFeatures int
	seed        int64
	treeWorkers int
}

type estimatorDef struct {
	task       rhst.Task
	defaults   Params
	light      Grid
	exhaustive Grid
	build      func(p Params, env estimatorEnv) Estimator
}

func (d estimatorDef) candidates(level string) []Params {
	switch level {
	case rhst.GridSearchLight:
		return d.light.Candidates(d.defaults)
	case rhst.GridSearchExhaustive:
		return d.exhaustive.Candidates(d.defaults)
	}
	return []Params{d.defaults.With(nil)}
}

var (
	forestDefaults = Params{"n_trees": 100, "max_depth": 0, "min_samples_leaf": 1}
	forestLight    = Grid{"min_samples_leaf": {1, 5}}
	forestFull     = Grid{
		"n_trees":          {50, 100, 250},
		"max_depth":        {0, 5, 10},
		"min_samples_leaf": {1, 3, 5, 10},
	}
	treeDefaults = Params{"max_depth": 0, "min_samples_leaf": 1}
	treeLight    = Grid{"max_depth": {0, 5}}
	treeFull     = Grid{
		"max_depth":        {0, 3, 5, 10},
		"min_samples_leaf": {1, 3, 5, 10},
	}
	knnDefaults = Params{"k": 5}
	knnLight    = Grid{"k": {3, 5, 9}}
	knnFull     = Grid{"k": {1, 3, 5, 7, 9, 15, 25}}
)

func forestBuilder(task rhst.Task, bootstrap, randomThresholds bool) func(Params, estimatorEnv) Estimator {
	return func(p Params, env estimatorEnv) Estimator {
		maxFeatures := int(math.Ceil(math.Sqrt(float64(env.numFeatures))))
		if task == rhst.TaskRegression {
			maxFeatures = int(math.Ceil(float64(env.numFeatures) / 3))
		}
		return NewForest(task, env.numClasses, ForestConfig{
			NumTrees:  p.Int("n_trees", 100),
			Bootstrap: bootstrap,
			Workers:   env.treeWorkers,
			Tree: TreeConfig{
				MaxDepth:         p.Int("max_depth", 0),
				MinSamplesLeaf:   p.Int("min_samples_leaf", 1),
				MaxFeatures:      maxFeatures,
				RandomThresholds: randomThresholds,
			},
		}, env.seed)
	}
}

func treeBuilder(task rhst.Task) func(Params, estimatorEnv) Estimator {
	return func(p Params, env estimatorEnv) Estimator {
		return NewDecisionTree(task, env.numClasses, TreeConfig{
			MaxDepth:       p.Int("max_depth", 0),
			MinSamplesLeaf: p.Int("min_samples_leaf", 1),
		}, env.seed)
	}
}

func knnBuilder(task rhst.Task) func(Params, estimatorEnv) Estimator {
	return func(p Params, env estimatorEnv) Estimator {
		return NewKNN(task, env.numClasses, p.Int("k", 5))
	}
}

var registry = map[string]estimatorDef{
	"randomforestclassifier": {
		task: rhst.TaskClassification, defaults: forestDefaults, light: forestLight, exhaustive: forestFull,
		build: forestBuilder(rhst.TaskClassification, true, false),
	},
	"extratreesclassifier": {
		task: rhst.TaskClassification, defaults: forestDefaults, light: forestLight, exhaustive: forestFull,
		build: forestBuilder(rhst.TaskClassification, false, true),
	},
	"decisiontreeclassifier": {
		task: rhst.TaskClassification, defaults: treeDefaults, light: treeLight, exhaustive: treeFull,
		build: treeBuilder(rhst.TaskClassification),
	},
	"kneighborsclassifier": {
		task: rhst.TaskClassification, defaults: knnDefaults, light: knnLight, exhaustive: knnFull,
		build: knnBuilder(rhst.TaskClassification),
	},
	"gaussiannb": {
		task:       rhst.TaskClassification,
		defaults:   Params{"var_smoothing": 1e-9},
		exhaustive: Grid{"var_smoothing": {1e-9, 1e-7, 1e-5, 1e-3}},
		build: func(p Params, env estimatorEnv) Estimator {
			return NewGaussianNB(env.numClasses, p.Get("var_smoothing", 1e-9))
		},
	},
	"randomforestregressor": {
		task: rhst.TaskRegression, defaults: forestDefaults, light: forestLight, exhaustive: forestFull,
		build: forestBuilder(rhst.TaskRegression, true, false),
	},
	"extratreesregressor": {
		task: rhst.TaskRegression, defaults: forestDefaults, light: forestLight, exhaustive: forestFull,
		build: forestBuilder(rhst.TaskRegression, false, true),
	},
	"decisiontreeregressor": {
		task: rhst.TaskRegression, defaults: treeDefaults, light: treeLight, exhaustive: treeFull,
		build: treeBuilder(rhst.TaskRegression),
	},
	"kneighborsregressor": {
		task: rhst.TaskRegression, defaults: knnDefaults, light: knnLight, exhaustive: knnFull,
		build: knnBuilder(rhst.TaskRegression),
	},
	"ridge": {
		task:       rhst.TaskRegression,
		defaults:   Params{"alpha": 1},
		light:      Grid{"alpha": {0.1, 1, 10}},
		exhaustive: Grid{"alpha": {1e-3, 1e-2, 0.1, 1, 10, 100}},
		build: func(p Params, _ estimatorEnv) Estimator {
			return NewRidge(p.Get("alpha", 1))
		},
	},
}

// Estimators returns the registered estimator names for task, sorted.
func Estimators(task rhst.Task) []string {
	var names []string
	for name, def := range registry {
		if def.task == task {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Builder implements rhst.PipelineBuilder over the estimator registry.
type Builder struct {
	treeWorkers int
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithTreeWorkers bounds concurrent tree fitting inside one forest.
func WithTreeWorkers(n int) BuilderOption {
	return func(b *Builder) { b.treeWorkers = max(n, 1) }
}

// NewBuilder returns a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{treeWorkers: 1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build resolves cfg into a fresh pipeline. Unknown names, task mismatches
// and infeasible dimensionality are reported as *rhst.ConfigurationError.
func (b *Builder) Build(cfg rhst.PipelineConfig, spec rhst.BuildSpec) (rhst.Pipeline, error) {
	cfg = cfg.Normalized()
	estName := cfg.Estimator
	def, ok := registry[estName]
	if !ok {
		return nil, rhst.NewConfigurationError("Pipeline.Estimator", "unknown estimator %q (known: %s)",
			cfg.Estimator, strings.Join(Estimators(spec.Task), ", "))
	}
	if def.task != spec.Task {
		return nil, rhst.NewConfigurationError("Pipeline.Estimator", "%q is a %s estimator but the run is %s",
			estName, def.task, spec.Task)
	}
	if spec.Task == rhst.TaskClassification && spec.NumClasses < 2 {
		return nil, rhst.NewConfigurationError("Pipeline", "classification needs at least 2 classes, got %d", spec.NumClasses)
	}

	selName := cfg.FeatureSelection
	sel, ok := selectors[selName]
	if !ok {
		return nil, rhst.NewConfigurationError("Pipeline.FeatureSelection", "unknown feature selection %q (known: %s)",
			cfg.FeatureSelection, strings.Join(SelectionMethods(spec.Task), ", "))
	}
	if sel.task != "" && sel.task != spec.Task {
		return nil, rhst.NewConfigurationError("Pipeline.FeatureSelection", "%q applies to %s only", selName, sel.task)
	}

	switch cfg.GridSearchLevel {
	case rhst.GridSearchNone, rhst.GridSearchLight, rhst.GridSearchExhaustive:
	default:
		return nil, rhst.NewConfigurationError("Pipeline.GridSearchLevel", "unknown grid search level %q", cfg.GridSearchLevel)
	}
	imp, err := newImputer(cfg.ImputeStrategy)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		task:        spec.Task,
		numClasses:  spec.NumClasses,
		def:         def,
		candidates:  def.candidates(cfg.GridSearchLevel),
		imputer:     imp,
		key:         rhst.NewRunKey(spec.Seed),
		treeWorkers: b.treeWorkers,
	}
	if sel.new != nil {
		k, err := rhst.ResolveReducedDim(cfg.ReducedDim, spec.NumFeatures, spec.TrainSamples)
		if err != nil {
			return nil, err
		}
		p.selector, p.k = sel.new(), k
	}
	return p, nil
}

// pipeline chains imputation, feature selection, grid search and the
// estimator. One instance serves a single (repetition, feature set).
type pipeline struct {
	task        rhst.Task
	numClasses  int
	def         estimatorDef
	candidates  []Params
	imputer     *imputer
	selector    selector
	k           int
	key         rhst.RunKey
	treeWorkers int

	numFeatures int
	selected    []int
	params      Params
	est         Estimator
}

func (p *pipeline) env(numFeatures int) estimatorEnv {
	return estimatorEnv{
		numClasses:  p.numClasses,
		numFeatures: numFeatures,
		seed:        p.key.SeedFor("estimator"),
		treeWorkers: p.treeWorkers,
	}
}

// Fit learns imputation statistics, selects features, searches the grid and
// fits the chosen estimator on the whole training partition.
func (p *pipeline) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	p.numFeatures = len(x[0])
	if err := p.imputer.fit(x); err != nil {
		return fmt.Errorf("imputation: %w", err)
	}
	xi, err := p.imputer.transform(x)
	if err != nil {
		return fmt.Errorf("imputation: %w", err)
	}

	if p.selector != nil {
		sel, err := selectTopK(p.selector.scores(xi, y, p.numClasses), p.k)
		if err != nil {
			return err
		}
		p.selected = sel
		xi = project(xi, sel)
	}

	params, err := gridSearch(xi, y, searchSpec{
		task:       p.task,
		numClasses: p.numClasses,
		candidates: p.candidates,
		key:        rhst.NewRunKey(p.key.SeedFor("search")),
		build: func(c Params, nf int) Estimator {
			return p.def.build(c, p.env(nf))
		},
	})
	if err != nil {
		return err
	}
	p.params = params
	est := p.def.build(params, p.env(len(xi[0])))
	if err := est.Fit(xi, y); err != nil {
		return err
	}
	p.est = est
	return nil
}

// Predict applies the fitted chain to x.
func (p *pipeline) Predict(x [][]float64) ([]float64, error) {
	if p.est == nil {
		return nil, errors.New("pipeline: not fitted")
	}
	for i, row := range x {
		if len(row) != p.numFeatures {
			return nil, fmt.Errorf("pipeline: row %d has %d features, fitted on %d", i, len(row), p.numFeatures)
		}
	}
	xi, err := p.imputer.transform(x)
	if err != nil {
		return nil, fmt.Errorf("imputation: %w", err)
	}
	if p.selected != nil {
		xi = project(xi, p.selected)
	}
	return p.est.Predict(xi)
}

// FeatureImportances maps the estimator's importances back onto the input
// features; unselected features get 0. Nil when the estimator has none.
func (p *pipeline) FeatureImportances() []float64 {
	ie, ok := p.est.(importancer)
	if !ok {
		return nil
	}
	imp := ie.Importances()
	if p.selected == nil {
		return imp
	}
	if len(imp) != len(p.selected) {
		logrus.Debugf("pipeline: %d importances for %d selected features", len(imp), len(p.selected))
		return nil
	}
	out := make([]float64, p.numFeatures)
	for k, j := range p.selected {
		out[j] = imp[k]
	}
	return out
}

// SelectedFeatures returns the kept input feature indices, or nil without selection.
func (p *pipeline) SelectedFeatures() []int {
	return append([]int(nil), p.selected...)
}

// Params returns the hyper-parameters chosen by the grid search.
func (p *pipeline) Params() Params { return p.params }

func project(x [][]float64, cols []int) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(cols))
		for k, j := range cols {
			r[k] = row[j]
		}
		out[i] = r
	}
	return out
}
