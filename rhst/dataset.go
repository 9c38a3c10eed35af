package rhst

import (
	"fmt"
	"math"
	"sort"
)

// Task selects between classification and regression.
type Task string

const (
	TaskClassification Task = "classification"
	TaskRegression     Task = "regression"
)

// FeatureSet is one named view of the cohort: a fixed-length numeric vector
// per sample. Missing values are NaN.
type FeatureSet struct {
	Name         string
	FeatureNames []string
	Rows         map[string][]float64
}

// Dataset is the in-memory cohort handed to the engine by a loader.
// Labels is used for classification, Targets for regression; both are
// aligned with SampleIDs.
type Dataset struct {
	Task        Task
	SampleIDs   []string
	Labels      []string
	Targets     []float64
	FeatureSets []FeatureSet
}

// Validate checks alignment and label consistency. Feature values may be
// NaN (missing) but not infinite.
// Returns *DataIntegrityError on any inconsistency.
func (d *Dataset) Validate() error {
	if d == nil {
		return &DataIntegrityError{Reason: "dataset is nil"}
	}
	if len(d.SampleIDs) == 0 {
		return &DataIntegrityError{Reason: "no samples"}
	}
	if len(d.FeatureSets) == 0 {
		return &DataIntegrityError{Reason: "no feature sets"}
	}
	seen := make(map[string]bool, len(d.SampleIDs))
	for _, id := range d.SampleIDs {
		if seen[id] {
			return &DataIntegrityError{SampleID: id, Reason: "duplicate sample id"}
		}
		seen[id] = true
	}

	switch d.Task {
	case TaskClassification:
		if len(d.Labels) != len(d.SampleIDs) {
			return &DataIntegrityError{Reason: fmt.Sprintf("%d labels for %d samples", len(d.Labels), len(d.SampleIDs))}
		}
		classes := make(map[string]bool)
		for i, l := range d.Labels {
			if l == "" {
				return &DataIntegrityError{SampleID: d.SampleIDs[i], Reason: "missing class label"}
			}
			classes[l] = true
		}
		if len(classes) < 2 {
			return &DataIntegrityError{Reason: fmt.Sprintf("classification needs at least 2 classes, got %d", len(classes))}
		}
	case TaskRegression:
		if len(d.Targets) != len(d.SampleIDs) {
			return &DataIntegrityError{Reason: fmt.Sprintf("%d targets for %d samples", len(d.Targets), len(d.SampleIDs))}
		}
		for i, v := range d.Targets {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &DataIntegrityError{SampleID: d.SampleIDs[i], Reason: "target is not finite"}
			}
		}
	default:
		return &DataIntegrityError{Reason: fmt.Sprintf("unknown task %q", d.Task)}
	}

	names := make(map[string]bool, len(d.FeatureSets))
	for _, fs := range d.FeatureSets {
		if fs.Name == "" {
			return &DataIntegrityError{Reason: "feature set without a name"}
		}
		if names[fs.Name] {
			return &DataIntegrityError{FeatureSet: fs.Name, Reason: "duplicate feature set name"}
		}
		names[fs.Name] = true
		dim := len(fs.FeatureNames)
		for _, id := range d.SampleIDs {
			row, ok := fs.Rows[id]
			if !ok {
				return &DataIntegrityError{FeatureSet: fs.Name, SampleID: id, Reason: "sample missing from feature set"}
			}
			if dim == 0 {
				dim = len(row)
			}
			if len(row) != dim || dim == 0 {
				return &DataIntegrityError{FeatureSet: fs.Name, SampleID: id,
					Reason: fmt.Sprintf("feature vector has %d values, expected %d", len(row), dim)}
			}
			for j, v := range row {
				if math.IsInf(v, 0) {
					return &DataIntegrityError{FeatureSet: fs.Name, SampleID: id,
						Reason: fmt.Sprintf("feature %d is infinite", j)}
				}
			}
		}
	}
	return nil
}

// Subset returns a dataset restricted to samples whose label is in classes.
// Feature rows are shared with the receiver, not copied.
func (d *Dataset) Subset(classes []string) *Dataset {
	keep := make(map[string]bool, len(classes))
	for _, c := range classes {
		keep[c] = true
	}
	out := &Dataset{Task: d.Task, FeatureSets: d.FeatureSets}
	for i, id := range d.SampleIDs {
		if i < len(d.Labels) && keep[d.Labels[i]] {
			out.SampleIDs = append(out.SampleIDs, id)
			out.Labels = append(out.Labels, d.Labels[i])
		}
	}
	return out
}

// FeatureMatrix is a dense, sample-aligned matrix for one feature set.
type FeatureMatrix struct {
	Name         string
	FeatureNames []string
	X            [][]float64
}

// DatasetView is the aligned, read-only form of a Dataset shared by all workers.
// Nothing in the view is mutated after construction.
type DatasetView struct {
	Task      Task
	SampleIDs []string
	// Classes is the run-global class list, sorted lexicographically.
	Classes []string
	// ClassIndex[i] is the index into Classes of sample i (classification only).
	ClassIndex []int
	Targets    []float64
	Features   []FeatureMatrix
}

// View validates the dataset and builds its aligned view.
func (d *Dataset) View() (*DatasetView, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	v := &DatasetView{
		Task:      d.Task,
		SampleIDs: append([]string(nil), d.SampleIDs...),
	}
	if d.Task == TaskClassification {
		set := make(map[string]bool)
		for _, l := range d.Labels {
			set[l] = true
		}
		for c := range set {
			v.Classes = append(v.Classes, c)
		}
		sort.Strings(v.Classes)
		pos := make(map[string]int, len(v.Classes))
		for i, c := range v.Classes {
			pos[c] = i
		}
		v.ClassIndex = make([]int, len(d.Labels))
		for i, l := range d.Labels {
			v.ClassIndex[i] = pos[l]
		}
	} else {
		v.Targets = append([]float64(nil), d.Targets...)
	}

	for _, fs := range d.FeatureSets {
		m := FeatureMatrix{Name: fs.Name, X: make([][]float64, len(d.SampleIDs))}
		for i, id := range d.SampleIDs {
			m.X[i] = append([]float64(nil), fs.Rows[id]...)
		}
		m.FeatureNames = append([]string(nil), fs.FeatureNames...)
		if len(m.FeatureNames) == 0 {
			m.FeatureNames = make([]string, len(m.X[0]))
			for j := range m.FeatureNames {
				m.FeatureNames[j] = fmt.Sprintf("f%d", j)
			}
		}
		v.Features = append(v.Features, m)
	}
	return v, nil
}

// NumSamples returns the cohort size.
func (v *DatasetView) NumSamples() int { return len(v.SampleIDs) }

// FeatureSetNames returns the feature set names in run order.
func (v *DatasetView) FeatureSetNames() []string {
	names := make([]string, len(v.Features))
	for i, f := range v.Features {
		names[i] = f.Name
	}
	return names
}

// Response returns the value each estimator is fitted against: the class
// index for classification, the raw target for regression.
func (v *DatasetView) Response(i int) float64 {
	if v.Task == TaskClassification {
		return float64(v.ClassIndex[i])
	}
	return v.Targets[i]
}

// Rows gathers rows of the named matrix and responses at the given positions.
// The returned rows alias the view; callers must not modify them.
func (v *DatasetView) Rows(fs int, idx []int) ([][]float64, []float64) {
	x := make([][]float64, len(idx))
	y := make([]float64, len(idx))
	for k, i := range idx {
		x[k] = v.Features[fs].X[i]
		y[k] = v.Response(i)
	}
	return x, y
}
