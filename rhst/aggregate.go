package rhst

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Distribution summarizes one metric across repetitions.
// Values are in repetition-index order.
type Distribution struct {
	Mean   float64   `json:"mean" yaml:"mean"`
	Std    float64   `json:"std" yaml:"std"`
	Values []float64 `json:"values" yaml:"values"`
}

// NewDistribution computes mean and sample standard deviation of values,
// skipping NaNs. Std is 0 for fewer than two values.
func NewDistribution(values []float64) Distribution {
	d := Distribution{Values: make([]float64, 0, len(values))}
	for _, v := range values {
		if !math.IsNaN(v) {
			d.Values = append(d.Values, v)
		}
	}
	switch len(d.Values) {
	case 0:
	case 1:
		d.Mean = d.Values[0]
	default:
		d.Mean, d.Std = stat.MeanStdDev(d.Values, nil)
	}
	return d
}

// ImportanceSummary is the mean feature importance of one feature set.
type ImportanceSummary struct {
	Repetitions int       `json:"repetitions" yaml:"repetitions"`
	Mean        []float64 `json:"mean" yaml:"mean"`
	Std         []float64 `json:"std" yaml:"std"`
	// Ranking lists feature indices by descending mean importance; ties by ascending index.
	Ranking []int `json:"ranking" yaml:"ranking"`
}

// FeatureSetSummary aggregates all successful repetitions of one feature set.
type FeatureSetSummary struct {
	FeatureSet string                  `json:"feature_set" yaml:"feature_set"`
	Metrics    map[string]Distribution `json:"metrics" yaml:"metrics"`
	// PerClassRecall is keyed by class name (classification only).
	PerClassRecall map[string]Distribution `json:"per_class_recall,omitempty" yaml:"per_class_recall,omitempty"`
	// PooledConfusion is the element-wise sum of every repetition's matrix.
	PooledConfusion ConfusionMatrix `json:"pooled_confusion,omitempty" yaml:"pooled_confusion,omitempty"`
	// PooledResiduals concatenates every repetition's residuals in index order.
	PooledResiduals []float64          `json:"pooled_residuals,omitempty" yaml:"pooled_residuals,omitempty"`
	Importance      *ImportanceSummary `json:"importance,omitempty" yaml:"importance,omitempty"`
	// SelectionFrequency[j] is the fraction of repetitions that selected feature j.
	SelectionFrequency []float64 `json:"selection_frequency,omitempty" yaml:"selection_frequency,omitempty"`
}

// Summary is the reduced view of a run.
type Summary struct {
	Successful  int                 `json:"successful" yaml:"successful"`
	Failed      int                 `json:"failed" yaml:"failed"`
	FeatureSets []FeatureSetSummary `json:"feature_sets" yaml:"feature_sets"`
	Failures    []RepetitionFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// RunMeta is the run-level context an Aggregator needs.
type RunMeta struct {
	Task        Task
	Classes     []string
	FeatureSets []FeatureSetInfo
}

// Aggregator collects repetition outcomes as they complete, in any order.
// Not safe for concurrent use: owned by the engine's collecting goroutine.
type Aggregator struct {
	meta     RunMeta
	results  []RepetitionResult
	failures []RepetitionFailure
}

// NewAggregator returns an empty aggregator for a run.
func NewAggregator(meta RunMeta) *Aggregator {
	return &Aggregator{meta: meta}
}

// Add records a successful repetition.
func (a *Aggregator) Add(r RepetitionResult) {
	a.results = append(a.results, r)
}

// AddFailure records a failed repetition.
func (a *Aggregator) AddFailure(f RepetitionFailure) {
	a.failures = append(a.failures, f)
}

// Successful returns the number of successful repetitions recorded so far.
func (a *Aggregator) Successful() int { return len(a.results) }

// Failed returns the number of failures recorded so far.
func (a *Aggregator) Failed() int { return len(a.failures) }

// Finalize orders everything by repetition index and reduces it.
// The returned slices are owned by the caller.
func (a *Aggregator) Finalize() ([]RepetitionResult, []RepetitionFailure, Summary) {
	results := append([]RepetitionResult(nil), a.results...)
	failures := append([]RepetitionFailure(nil), a.failures...)
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
	return results, failures, Summarize(a.meta, results, failures)
}

// Summarize reduces index-ordered results. Failures are carried through
// for diagnostics and excluded from every statistic.
func Summarize(meta RunMeta, results []RepetitionResult, failures []RepetitionFailure) Summary {
	s := Summary{
		Successful: len(results),
		Failed:     len(failures),
		Failures:   append([]RepetitionFailure(nil), failures...),
	}
	for fi, info := range meta.FeatureSets {
		s.FeatureSets = append(s.FeatureSets, summarizeFeatureSet(meta, fi, info, results))
	}
	return s
}

// Recompute re-derives the summary from the stored repetitions.
func (rs *ResultSet) Recompute() Summary {
	return Summarize(rs.Meta(), rs.Repetitions, rs.Failures)
}

func summarizeFeatureSet(meta RunMeta, fi int, info FeatureSetInfo, results []RepetitionResult) FeatureSetSummary {
	fs := FeatureSetSummary{FeatureSet: info.Name, Metrics: make(map[string]Distribution)}

	names := RegressionMetrics
	if meta.Task == TaskClassification {
		names = ClassificationMetrics
	}
	outcomes := make([]FeatureSetOutcome, 0, len(results))
	for _, r := range results {
		if fi < len(r.Outcomes) {
			outcomes = append(outcomes, r.Outcomes[fi])
		}
	}

	for _, name := range names {
		values := make([]float64, len(outcomes))
		for i, o := range outcomes {
			values[i] = o.Scores[name]
		}
		fs.Metrics[name] = NewDistribution(values)
	}

	if meta.Task == TaskClassification {
		k := len(meta.Classes)
		fs.PooledConfusion = NewConfusionMatrix(k)
		perClass := make([][]float64, k)
		for _, o := range outcomes {
			if len(o.ConfusionMatrix) != k {
				continue
			}
			fs.PooledConfusion.Add(o.ConfusionMatrix)
			for c, r := range PerClassRecall(o.ConfusionMatrix) {
				perClass[c] = append(perClass[c], r)
			}
		}
		fs.PerClassRecall = make(map[string]Distribution, k)
		for c, name := range meta.Classes {
			fs.PerClassRecall[name] = NewDistribution(perClass[c])
		}
	} else {
		for _, o := range outcomes {
			fs.PooledResiduals = append(fs.PooledResiduals, o.Residuals...)
		}
	}

	fs.Importance = summarizeImportance(len(info.FeatureNames), outcomes)
	fs.SelectionFrequency = selectionFrequency(len(info.FeatureNames), outcomes)
	return fs
}

func summarizeImportance(numFeatures int, outcomes []FeatureSetOutcome) *ImportanceSummary {
	var vectors [][]float64
	for _, o := range outcomes {
		if len(o.Importances) == numFeatures && numFeatures > 0 {
			vectors = append(vectors, o.Importances)
		}
	}
	if len(vectors) == 0 {
		return nil
	}
	imp := &ImportanceSummary{
		Repetitions: len(vectors),
		Mean:        make([]float64, numFeatures),
		Std:         make([]float64, numFeatures),
		Ranking:     make([]int, numFeatures),
	}
	column := make([]float64, len(vectors))
	for j := 0; j < numFeatures; j++ {
		for i, v := range vectors {
			column[i] = v[j]
		}
		d := NewDistribution(column)
		imp.Mean[j], imp.Std[j] = d.Mean, d.Std
		imp.Ranking[j] = j
	}
	sort.SliceStable(imp.Ranking, func(a, b int) bool {
		return imp.Mean[imp.Ranking[a]] > imp.Mean[imp.Ranking[b]]
	})
	return imp
}

func selectionFrequency(numFeatures int, outcomes []FeatureSetOutcome) []float64 {
	freq := make([]float64, numFeatures)
	n := 0
	for _, o := range outcomes {
		if o.SelectedFeatures == nil {
			continue
		}
		n++
		for _, j := range o.SelectedFeatures {
			if j >= 0 && j < numFeatures {
				freq[j]++
			}
		}
	}
	if n == 0 {
		return nil
	}
	floats.Scale(1/float64(n), freq)
	return freq
}
