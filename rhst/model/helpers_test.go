package model

import (
	"math/rand"
)

// blobs draws perClass rows for each of numClasses classes; feature 0 is
// centred on sep times the class index, the other features are noise.
func blobs(perClass, numClasses, numFeatures int, sep float64, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	var x [][]float64
	var y []float64
	for c := 0; c < numClasses; c++ {
		for i := 0; i < perClass; i++ {
			row := make([]float64, numFeatures)
			for j := range row {
				row[j] = rng.NormFloat64()
			}
			row[0] += sep * float64(c)
			x = append(x, row)
			y = append(y, float64(c))
		}
	}
	return x, y
}

// linear draws n rows with y = 3*x0 - 2*x1 + noise.
func linear(n, numFeatures int, noise float64, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = make([]float64, numFeatures)
		for j := range x[i] {
			x[i][j] = rng.NormFloat64()
		}
		y[i] = 3*x[i][0] - 2*x[i][1] + noise*rng.NormFloat64()
	}
	return x, y
}

func accuracy(want, got []float64) float64 {
	hit := 0
	for i := range want {
		if want[i] == got[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func meanAbs(want, got []float64) float64 {
	var sum float64
	for i := range want {
		d := want[i] - got[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(len(want))
}
