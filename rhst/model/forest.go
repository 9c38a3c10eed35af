package model

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/neuropredict/neuropredict/rhst"
)

// ForestConfig configures a tree ensemble.
type ForestConfig struct {
	NumTrees  int
	Tree      TreeConfig
	Bootstrap bool
	// Workers bounds concurrent tree fitting; values below 1 mean 1.
	Workers int
}

// Forest is a bagged ensemble of decision trees: a random forest with
// bootstrap sampling, or extremely randomized trees without it.
// Classification predicts the majority vote, regression the mean.
type Forest struct {
	task       rhst.Task
	numClasses int
	cfg        ForestConfig
	key        rhst.RunKey

	trees []*DecisionTree
}

// NewForest returns an unfitted ensemble. Tree i draws its randomness from
// seed and i only, so the fit does not depend on Workers.
func NewForest(task rhst.Task, numClasses int, cfg ForestConfig, seed int64) *Forest {
	cfg.NumTrees = max(cfg.NumTrees, 1)
	cfg.Workers = max(cfg.Workers, 1)
	return &Forest{task: task, numClasses: numClasses, cfg: cfg, key: rhst.NewRunKey(seed)}
}

// Fit grows every tree.
func (f *Forest) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	n := len(x)
	trees := make([]*DecisionTree, f.cfg.NumTrees)

	var g errgroup.Group
	g.SetLimit(f.cfg.Workers)
	for i := range trees {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("tree %d panicked: %v", i, r)
				}
			}()
			name := fmt.Sprintf("tree_%d", i)
			rng := f.key.RandFor(name)
			idx := make([]int, n)
			for k := range idx {
				if f.cfg.Bootstrap {
					idx[k] = rng.Intn(n)
				} else {
					idx[k] = k
				}
			}
			tree := NewDecisionTree(f.task, f.numClasses, f.cfg.Tree, rng.Int63())
			if err := tree.fitIndices(x, y, idx); err != nil {
				return fmt.Errorf("tree %d training failed: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	return nil
}

// Predict aggregates the trees' predictions.
func (f *Forest) Predict(x [][]float64) ([]float64, error) {
	if len(f.trees) == 0 {
		return nil, errors.New("forest: not fitted")
	}
	perTree := make([][]float64, len(f.trees))
	for i, tree := range f.trees {
		p, err := tree.Predict(x)
		if err != nil {
			return nil, err
		}
		perTree[i] = p
	}

	out := make([]float64, len(x))
	if f.task == rhst.TaskClassification {
		votes := make([]float64, f.numClasses)
		for r := range x {
			for c := range votes {
				votes[c] = 0
			}
			for _, p := range perTree {
				votes[int(p[r])]++
			}
			out[r] = float64(floats.MaxIdx(votes))
		}
		return out, nil
	}
	for r := range x {
		var sum float64
		for _, p := range perTree {
			sum += p[r]
		}
		out[r] = sum / float64(len(perTree))
	}
	return out, nil
}

// Importances averages the per-tree normalized importances.
func (f *Forest) Importances() []float64 {
	if len(f.trees) == 0 {
		return nil
	}
	imp := make([]float64, f.trees[0].numFeatures)
	for _, tree := range f.trees {
		floats.Add(imp, tree.importances)
	}
	if total := floats.Sum(imp); total > 0 {
		floats.Scale(1/total, imp)
	}
	return imp
}
