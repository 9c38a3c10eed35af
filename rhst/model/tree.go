package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/neuropredict/neuropredict/rhst"
)

// minGain is the smallest impurity decrease that justifies a split.
const minGain = 1e-12

// TreeConfig holds the growth limits of a decision tree.
type TreeConfig struct {
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	// MaxFeatures is the number of features considered per node; 0 means all.
	MaxFeatures int
	// RandomThresholds draws one uniform threshold per candidate feature
	// instead of searching every cut point (extremely randomized trees).
	RandomThresholds bool
}

func (c TreeConfig) normalized() TreeConfig {
	c.MinSamplesSplit = max(c.MinSamplesSplit, 2)
	c.MinSamplesLeaf = max(c.MinSamplesLeaf, 1)
	return c
}

type treeNode struct {
	leaf      bool
	value     float64 // class index or mean target
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

// DecisionTree is a CART tree: gini impurity for classification, variance
// for regression. Samples with x[feature] <= threshold go left.
type DecisionTree struct {
	task       rhst.Task
	numClasses int
	cfg        TreeConfig
	// rngs keeps feature sampling and threshold draws on separate streams.
	rngs       *rhst.PartitionedRNG

	root        *treeNode
	numFeatures int
	importances []float64
}

// NewDecisionTree returns an unfitted tree. numClasses is ignored for regression.
func NewDecisionTree(task rhst.Task, numClasses int, cfg TreeConfig, seed int64) *DecisionTree {
	return &DecisionTree{
		task:       task,
		numClasses: numClasses,
		cfg:        cfg.normalized(),
		rngs:       rhst.NewPartitionedRNG(rhst.NewRunKey(seed)),
	}
}

// Fit grows the tree on every row of x.
func (t *DecisionTree) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	return t.fitIndices(x, y, idx)
}

// fitIndices grows the tree on the rows named by idx; duplicates are allowed
// (bootstrap samples).
func (t *DecisionTree) fitIndices(x [][]float64, y []float64, idx []int) error {
	if len(idx) == 0 {
		return errors.New("decision tree: empty training sample")
	}
	if t.task == rhst.TaskClassification {
		if t.numClasses < 2 {
			return fmt.Errorf("decision tree: need at least 2 classes, got %d", t.numClasses)
		}
		for _, i := range idx {
			if c := int(y[i]); c < 0 || c >= t.numClasses {
				return fmt.Errorf("decision tree: label %v is not a class index in [0, %d)", y[i], t.numClasses)
			}
		}
	}
	t.numFeatures = len(x[idx[0]])
	t.importances = make([]float64, t.numFeatures)
	t.root = t.grow(x, y, idx, 0)
	if total := floats.Sum(t.importances); total > 0 {
		floats.Scale(1/total, t.importances)
	}
	return nil
}

// Predict routes every row to a leaf.
func (t *DecisionTree) Predict(x [][]float64) ([]float64, error) {
	if t.root == nil {
		return nil, errors.New("decision tree: not fitted")
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != t.numFeatures {
			return nil, fmt.Errorf("decision tree: row %d has %d features, fitted on %d", i, len(row), t.numFeatures)
		}
		out[i] = t.predictRow(row)
	}
	return out, nil
}

func (t *DecisionTree) predictRow(row []float64) float64 {
	n := t.root
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// Importances returns the normalized total impurity decrease per feature.
func (t *DecisionTree) Importances() []float64 {
	return append([]float64(nil), t.importances...)
}

func (t *DecisionTree) grow(x [][]float64, y []float64, idx []int, depth int) *treeNode {
	stats := t.newStats()
	for _, i := range idx {
		stats.add(y[i])
	}
	node := &treeNode{leaf: true, value: stats.value()}

	impurity := stats.impurity()
	if impurity <= 0 ||
		len(idx) < t.cfg.MinSamplesSplit ||
		(t.cfg.MaxDepth > 0 && depth >= t.cfg.MaxDepth) {
		return node
	}

	s, ok := t.bestSplit(x, y, idx, stats)
	if !ok {
		return node
	}
	var left, right []int
	for _, i := range idx {
		if x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return node
	}
	t.importances[s.feature] += s.gain

	node.leaf = false
	node.feature = s.feature
	node.threshold = s.threshold
	node.left = t.grow(x, y, left, depth+1)
	node.right = t.grow(x, y, right, depth+1)
	return node
}

type split struct {
	feature   int
	threshold float64
	gain      float64 // weighted impurity decrease, in samples
}

func (t *DecisionTree) candidateFeatures() []int {
	nf := t.numFeatures
	if t.cfg.MaxFeatures <= 0 || t.cfg.MaxFeatures >= nf {
		all := make([]int, nf)
		for j := range all {
			all[j] = j
		}
		return all
	}
	return t.rngs.ForSubsystem("features").Perm(nf)[:t.cfg.MaxFeatures]
}

func (t *DecisionTree) bestSplit(x [][]float64, y []float64, idx []int, parent *splitStats) (split, bool) {
	n := float64(len(idx))
	parentCost := parent.impurity() * n
	best := split{gain: minGain}
	found := false

	consider := func(f int, thr float64, left, right *splitStats) {
		if math.IsNaN(thr) || math.IsInf(thr, 0) {
			return
		}
		if left.n < float64(t.cfg.MinSamplesLeaf) || right.n < float64(t.cfg.MinSamplesLeaf) {
			return
		}
		gain := parentCost - left.impurity()*left.n - right.impurity()*right.n
		if gain > best.gain {
			best = split{feature: f, threshold: thr, gain: gain}
			found = true
		}
	}

	sorted := make([]int, len(idx))
	for _, f := range t.candidateFeatures() {
		if t.cfg.RandomThresholds {
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, i := range idx {
				lo = math.Min(lo, x[i][f])
				hi = math.Max(hi, x[i][f])
			}
			if !(hi > lo) {
				continue
			}
			thr := lo + t.rngs.ForSubsystem("thresholds").Float64()*(hi-lo)
			left, right := t.newStats(), t.newStats()
			for _, i := range idx {
				if x[i][f] <= thr {
					left.add(y[i])
				} else {
					right.add(y[i])
				}
			}
			consider(f, thr, left, right)
			continue
		}

		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })
		left, right := t.newStats(), parent.clone()
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			left.add(y[i])
			right.remove(y[i])
			v, next := x[i][f], x[sorted[k+1]][f]
			if v == next {
				continue
			}
			thr := v + (next-v)/2
			if thr >= next {
				thr = v
			}
			consider(f, thr, left, right)
		}
	}
	return best, found
}

// splitStats accumulates the response of a node: class counts for
// classification, sums for regression.
type splitStats struct {
	counts []float64
	sum    float64
	sumSq  float64
	n      float64
}

func (t *DecisionTree) newStats() *splitStats {
	s := &splitStats{}
	if t.task == rhst.TaskClassification {
		s.counts = make([]float64, t.numClasses)
	}
	return s
}

func (s *splitStats) clone() *splitStats {
	c := *s
	if s.counts != nil {
		c.counts = append([]float64(nil), s.counts...)
	}
	return &c
}

func (s *splitStats) add(v float64) {
	s.n++
	if s.counts != nil {
		s.counts[int(v)]++
		return
	}
	s.sum += v
	s.sumSq += v * v
}

func (s *splitStats) remove(v float64) {
	s.n--
	if s.counts != nil {
		s.counts[int(v)]--
		return
	}
	s.sum -= v
	s.sumSq -= v * v
}

func (s *splitStats) impurity() float64 {
	if s.n <= 0 {
		return 0
	}
	if s.counts != nil {
		g := 1.0
		for _, c := range s.counts {
			p := c / s.n
			g -= p * p
		}
		return math.Max(g, 0)
	}
	mean := s.sum / s.n
	return math.Max(s.sumSq/s.n-mean*mean, 0)
}

// value is the leaf prediction: majority class (lowest index on ties) or mean.
func (s *splitStats) value() float64 {
	if s.counts != nil {
		return float64(floats.MaxIdx(s.counts))
	}
	if s.n == 0 {
		return 0
	}
	return s.sum / s.n
}

func checkTrainingData(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("no training samples")
	}
	if len(x) != len(y) {
		return fmt.Errorf("%d rows but %d responses", len(x), len(y))
	}
	if len(x[0]) == 0 {
		return errors.New("no features")
	}
	return nil
}
