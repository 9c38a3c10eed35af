package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/neuropredict/neuropredict/rhst"
)

// KNN is a k-nearest-neighbours estimator on standardized features with
// Euclidean distance. Classification takes the majority class of the
// neighbours (lowest index on ties), regression their mean response.
type KNN struct {
	task       rhst.Task
	numClasses int
	k          int

	mean, scale []float64
	xTrain      [][]float64
	yTrain      []float64
}

// NewKNN returns an unfitted estimator.
func NewKNN(task rhst.Task, numClasses, k int) *KNN {
	return &KNN{task: task, numClasses: numClasses, k: max(k, 1)}
}

// Fit stores the standardized training rows.
func (m *KNN) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	nf := len(x[0])
	m.mean = make([]float64, nf)
	m.scale = make([]float64, nf)
	col := make([]float64, len(x))
	for j := 0; j < nf; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mu, sd := stat.MeanStdDev(col, nil)
		if len(col) < 2 || sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		m.mean[j], m.scale[j] = mu, sd
	}
	m.xTrain = make([][]float64, len(x))
	for i, row := range x {
		m.xTrain[i] = m.standardize(row)
	}
	m.yTrain = append([]float64(nil), y...)
	return nil
}

func (m *KNN) standardize(row []float64) []float64 {
	z := make([]float64, len(row))
	for j, v := range row {
		z[j] = (v - m.mean[j]) / m.scale[j]
	}
	return z
}

type neighbor struct {
	index    int
	distance float64
}

// Predict answers from the k nearest training rows.
func (m *KNN) Predict(x [][]float64) ([]float64, error) {
	if m.xTrain == nil {
		return nil, errors.New("knn: not fitted")
	}
	k := min(m.k, len(m.xTrain))
	out := make([]float64, len(x))
	neighbors := make([]neighbor, len(m.xTrain))
	for r, row := range x {
		if len(row) != len(m.mean) {
			return nil, fmt.Errorf("knn: row %d has %d features, fitted on %d", r, len(row), len(m.mean))
		}
		z := m.standardize(row)
		for i, t := range m.xTrain {
			neighbors[i] = neighbor{index: i, distance: floats.Distance(z, t, 2)}
		}
		sort.SliceStable(neighbors, func(a, b int) bool { return neighbors[a].distance < neighbors[b].distance })

		if m.task == rhst.TaskClassification {
			votes := make([]float64, m.numClasses)
			for _, nb := range neighbors[:k] {
				votes[int(m.yTrain[nb.index])]++
			}
			out[r] = float64(floats.MaxIdx(votes))
			continue
		}
		var sum float64
		for _, nb := range neighbors[:k] {
			sum += m.yTrain[nb.index]
		}
		out[r] = sum / float64(k)
	}
	return out, nil
}
