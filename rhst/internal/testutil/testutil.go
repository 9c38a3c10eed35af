// Package testutil provides shared test fixtures for rhst and its
// sub-packages: synthetic cohorts, a scripted pipeline builder and float
// assertion helpers.
package testutil

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/neuropredict/neuropredict/rhst"
)

// AssertFloat64Near compares two float64 values with relative tolerance.
func AssertFloat64Near(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// ClassificationDataset builds a cohort with classes "c0", "c1", ... of the
// given sizes. Every feature set has numFeatures features; in each feature
// set, feature 0 is shifted by separation times the class index and the
// rest is unit Gaussian noise.
func ClassificationDataset(classSizes []int, numFeatures int, separation float64, seed int64, featureSets ...string) *rhst.Dataset {
	if len(featureSets) == 0 {
		featureSets = []string{"fs"}
	}
	rng := rand.New(rand.NewSource(seed))
	d := &rhst.Dataset{Task: rhst.TaskClassification}
	var classOf []int
	for c, n := range classSizes {
		for i := 0; i < n; i++ {
			d.SampleIDs = append(d.SampleIDs, fmt.Sprintf("s%03d_c%d", len(d.SampleIDs), c))
			d.Labels = append(d.Labels, fmt.Sprintf("c%d", c))
			classOf = append(classOf, c)
		}
	}
	for _, name := range featureSets {
		fs := rhst.FeatureSet{Name: name, Rows: make(map[string][]float64, len(d.SampleIDs))}
		for j := 0; j < numFeatures; j++ {
			fs.FeatureNames = append(fs.FeatureNames, fmt.Sprintf("%s_%d", name, j))
		}
		for i, id := range d.SampleIDs {
			row := make([]float64, numFeatures)
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			row[0] += separation * float64(classOf[i])
			fs.Rows[id] = row
		}
		d.FeatureSets = append(d.FeatureSets, fs)
	}
	return d
}

// RegressionDataset builds n samples with target 3*x0 - 2*x1 + noise*N(0,1).
// numFeatures must be at least 2.
func RegressionDataset(n, numFeatures int, noise float64, seed int64, featureSets ...string) *rhst.Dataset {
	if len(featureSets) == 0 {
		featureSets = []string{"fs"}
	}
	rng := rand.New(rand.NewSource(seed))
	d := &rhst.Dataset{Task: rhst.TaskRegression}
	for i := 0; i < n; i++ {
		d.SampleIDs = append(d.SampleIDs, fmt.Sprintf("s%03d", i))
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, numFeatures)
		for j := range rows[i] {
			rows[i][j] = rng.NormFloat64()
		}
		d.Targets = append(d.Targets, 3*rows[i][0]-2*rows[i][1]+noise*rng.NormFloat64())
	}
	for _, name := range featureSets {
		fs := rhst.FeatureSet{Name: name, Rows: make(map[string][]float64, n)}
		for i, id := range d.SampleIDs {
			fs.Rows[id] = append([]float64(nil), rows[i]...)
		}
		d.FeatureSets = append(d.FeatureSets, fs)
	}
	return d
}

// ErrScripted is the fit error returned for scripted failures.
var ErrScripted = errors.New("scripted fit failure")

// ScriptedBuilder builds pipelines with scripted behaviour per repetition.
// Fitted pipelines predict the most frequent training class (classification)
// or the mean training response (regression) and report Importances when set.
type ScriptedBuilder struct {
	FailOn      map[int]bool
	PanicOn     map[int]bool
	Importances []float64
	// BuildErr, when set, is returned by every Build call.
	BuildErr error
	// Block, when set, is waited on by every Fit.
	Block <-chan struct{}

	mu     sync.Mutex
	builds []rhst.BuildSpec
}

// Build implements rhst.PipelineBuilder.
func (b *ScriptedBuilder) Build(_ rhst.PipelineConfig, spec rhst.BuildSpec) (rhst.Pipeline, error) {
	b.mu.Lock()
	b.builds = append(b.builds, spec)
	b.mu.Unlock()
	if b.BuildErr != nil {
		return nil, b.BuildErr
	}
	return &scriptedPipeline{b: b, spec: spec}, nil
}

// Builds returns every spec passed to Build so far.
func (b *ScriptedBuilder) Builds() []rhst.BuildSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]rhst.BuildSpec(nil), b.builds...)
}

type scriptedPipeline struct {
	b     *ScriptedBuilder
	spec  rhst.BuildSpec
	guess float64
}

func (p *scriptedPipeline) Fit(_ [][]float64, y []float64) error {
	if p.b.Block != nil {
		<-p.b.Block
	}
	rep := p.spec.Repetition
	if p.b.PanicOn[rep] {
		panic(fmt.Sprintf("scripted panic in repetition %d", rep))
	}
	if p.b.FailOn[rep] {
		return fmt.Errorf("repetition %d: %w", rep, ErrScripted)
	}
	if p.spec.Task == rhst.TaskRegression {
		var sum float64
		for _, v := range y {
			sum += v
		}
		p.guess = sum / float64(len(y))
		return nil
	}
	counts := make([]int, p.spec.NumClasses)
	for _, v := range y {
		counts[int(v)]++
	}
	best := 0
	for c, n := range counts {
		if n > counts[best] {
			best = c
		}
	}
	p.guess = float64(best)
	return nil
}

func (p *scriptedPipeline) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = p.guess
	}
	return out, nil
}

func (p *scriptedPipeline) FeatureImportances() []float64 {
	return append([]float64(nil), p.b.Importances...)
}
