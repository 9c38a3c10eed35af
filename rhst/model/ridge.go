package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Ridge is L2-regularized least squares on standardized features with an
// unpenalized intercept.
type Ridge struct {
	alpha float64

	mean, scale []float64
	coef        []float64
	intercept   float64
}

// NewRidge returns an unfitted regressor with penalty alpha.
func NewRidge(alpha float64) *Ridge {
	return &Ridge{alpha: alpha}
}

// Fit solves (ZᵀZ + αI)w = Zᵀ(y - ȳ) where Z is the standardized design.
func (r *Ridge) Fit(x [][]float64, y []float64) error {
	if err := checkTrainingData(x, y); err != nil {
		return err
	}
	if r.alpha < 0 {
		return fmt.Errorf("ridge: alpha must be non-negative, got %v", r.alpha)
	}
	n, nf := len(x), len(x[0])
	r.mean = make([]float64, nf)
	r.scale = make([]float64, nf)
	col := make([]float64, n)
	for j := 0; j < nf; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mu, v := stat.PopMeanVariance(col, nil)
		sd := math.Sqrt(v)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		r.mean[j], r.scale[j] = mu, sd
	}

	z := mat.NewDense(n, nf, nil)
	for i, row := range x {
		for j, v := range row {
			z.Set(i, j, (v-r.mean[j])/r.scale[j])
		}
	}
	r.intercept = stat.Mean(y, nil)
	yc := make([]float64, n)
	for i, v := range y {
		yc[i] = v - r.intercept
	}

	var gram mat.Dense
	gram.Mul(z.T(), z)
	for j := 0; j < nf; j++ {
		gram.Set(j, j, gram.At(j, j)+r.alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(z.T(), mat.NewVecDense(n, yc))

	var w mat.VecDense
	if err := w.SolveVec(&gram, &rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("ridge: solving normal equations: %w", err)
		}
	}
	r.coef = make([]float64, nf)
	for j := range r.coef {
		r.coef[j] = w.AtVec(j)
	}
	return nil
}

// Predict evaluates the linear model.
func (r *Ridge) Predict(x [][]float64) ([]float64, error) {
	if r.coef == nil {
		return nil, errors.New("ridge: not fitted")
	}
	out := make([]float64, len(x))
	z := make([]float64, len(r.coef))
	for i, row := range x {
		if len(row) != len(r.coef) {
			return nil, fmt.Errorf("ridge: row %d has %d features, fitted on %d", i, len(row), len(r.coef))
		}
		for j, v := range row {
			z[j] = (v - r.mean[j]) / r.scale[j]
		}
		out[i] = floats.Dot(z, r.coef) + r.intercept
	}
	return out, nil
}

// Importances is the normalized magnitude of the standardized coefficients.
func (r *Ridge) Importances() []float64 {
	if r.coef == nil {
		return nil
	}
	imp := make([]float64, len(r.coef))
	for j, c := range r.coef {
		imp[j] = math.Abs(c)
	}
	if total := floats.Sum(imp); total > 0 {
		floats.Scale(1/total, imp)
	}
	return imp
}

// Coefficients returns the weights on the original feature scale.
func (r *Ridge) Coefficients() (coef []float64, intercept float64) {
	coef = make([]float64, len(r.coef))
	intercept = r.intercept
	for j, c := range r.coef {
		coef[j] = c / r.scale[j]
		intercept -= coef[j] * r.mean[j]
	}
	return coef, intercept
}
