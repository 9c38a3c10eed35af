package model

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/neuropredict/neuropredict/rhst"
)

// Feature selection method names.
const (
	SelectVarianceThreshold = "variancethreshold"
	SelectKBestFClassif     = "selectkbest_f_classif"
	SelectKBestFRegression  = "selectkbest_f_regression"
	SelectNone              = "none"
)

// selector scores every feature on the training partition; the k highest
// scores are kept.
type selector interface {
	scores(x [][]float64, y []float64, numClasses int) []float64
}

type selectorDef struct {
	// task restricts the method to one task; empty means both.
	task rhst.Task
	new  func() selector
}

var selectors = map[string]selectorDef{
	SelectVarianceThreshold: {new: func() selector { return varianceThreshold{} }},
	SelectKBestFClassif:     {task: rhst.TaskClassification, new: func() selector { return fClassif{} }},
	SelectKBestFRegression:  {task: rhst.TaskRegression, new: func() selector { return fRegression{} }},
	SelectNone:              {},
}

// SelectionMethods returns the selection methods usable for task, sorted.
func SelectionMethods(task rhst.Task) []string {
	var names []string
	for name, def := range selectors {
		if def.task == "" || def.task == task {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// selectTopK returns the ascending indices of the k best-scoring features,
// ties broken by lower index. Features with a zero score are never kept.
func selectTopK(scores []float64, k int) ([]int, error) {
	order := make([]int, 0, len(scores))
	for j, s := range scores {
		if s > 0 {
			order = append(order, j)
		}
	}
	if len(order) == 0 {
		return nil, errors.New("feature selection: no feature is informative on the training partition")
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	keep := append([]int(nil), order[:min(k, len(order))]...)
	sort.Ints(keep)
	return keep, nil
}

func column(x [][]float64, j int, buf []float64) []float64 {
	buf = buf[:0]
	for _, row := range x {
		buf = append(buf, row[j])
	}
	return buf
}

// varianceThreshold ranks features by training variance, dropping constants.
type varianceThreshold struct{}

func (varianceThreshold) scores(x [][]float64, _ []float64, _ int) []float64 {
	out := make([]float64, len(x[0]))
	if len(x) < 2 {
		return out
	}
	var buf []float64
	for j := range out {
		buf = column(x, j, buf)
		_, v := stat.PopMeanVariance(buf, nil)
		if v > 0 && !math.IsNaN(v) {
			out[j] = v
		}
	}
	return out
}

// fClassif scores features by the one-way ANOVA F statistic across classes.
type fClassif struct{}

func (fClassif) scores(x [][]float64, y []float64, numClasses int) []float64 {
	n := len(x)
	out := make([]float64, len(x[0]))
	counts := make([]float64, numClasses)
	for _, c := range y {
		counts[int(c)]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	if present < 2 || n <= present {
		return out
	}
	dfBetween, dfWithin := float64(present-1), float64(n-present)

	var buf []float64
	sums := make([]float64, numClasses)
	for j := range out {
		buf = column(x, j, buf)
		grand := stat.Mean(buf, nil)
		for c := range sums {
			sums[c] = 0
		}
		for i, v := range buf {
			sums[int(y[i])] += v
		}
		var ssb, ssw float64
		for c, cnt := range counts {
			if cnt > 0 {
				d := sums[c]/cnt - grand
				ssb += cnt * d * d
			}
		}
		for i, v := range buf {
			c := int(y[i])
			d := v - sums[c]/counts[c]
			ssw += d * d
		}
		var f float64
		switch {
		case ssw > 0:
			f = (ssb / dfBetween) / (ssw / dfWithin)
		case ssb > 0:
			f = math.MaxFloat64
		}
		if !math.IsNaN(f) {
			out[j] = f
		}
	}
	return out
}

// fRegression scores features by the F statistic of a univariate linear fit.
type fRegression struct{}

func (fRegression) scores(x [][]float64, y []float64, _ int) []float64 {
	n := len(x)
	out := make([]float64, len(x[0]))
	if n < 3 {
		return out
	}
	var buf []float64
	for j := range out {
		buf = column(x, j, buf)
		r := stat.Correlation(buf, y, nil)
		if math.IsNaN(r) {
			continue
		}
		r2 := r * r
		if r2 >= 1 {
			out[j] = math.MaxFloat64
			continue
		}
		out[j] = r2 / (1 - r2) * float64(n-2)
	}
	return out
}
