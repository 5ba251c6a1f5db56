package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const DefaultRidgeLambda = 1.0

var ErrRidgeSolve = errors.New("unable to solve ridge normal equations")

// RidgeOptions represents input options to run the Ridge Regression
type RidgeOptions struct {
	// Lambda represents the L2 multiplier, controlling the regularization. Must be non-negative.
	// 0.0 converges to Ordinary Least Squares (OLS).
	Lambda float64

	// FitIntercept centers the features and target before solving and derives a constant term
	FitIntercept bool
}

// NewDefaultRidgeOptions returns a default set of Ridge Regression options
func NewDefaultRidgeOptions() *RidgeOptions {
	return &RidgeOptions{
		Lambda:       DefaultRidgeLambda,
		FitIntercept: true,
	}
}

// Validate runs basic validation on Ridge options
func (r *RidgeOptions) Validate() (*RidgeOptions, error) {
	if r == nil {
		r = NewDefaultRidgeOptions()
	}
	if r.Lambda < 0 {
		return nil, ErrNegativeLambda
	}
	return r, nil
}

// RidgeRegression computes an L2 regularized linear fit by solving the normal equations
// (X'X + lambda*I) beta = X'y. The intercept term is never penalized.
type RidgeRegression struct {
	opt       *RidgeOptions
	coef      []float64
	intercept float64
}

// NewRidgeRegression initializes a Ridge model ready for fitting
func NewRidgeRegression(opt *RidgeOptions) (*RidgeRegression, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &RidgeRegression{
		opt: opt,
	}, nil
}

// Fit the model according to the given training data
func (r *RidgeRegression) Fit(x, y mat.Matrix) error {
	if r.opt == nil {
		return ErrNoOptions
	}
	if x == nil {
		return ErrNoTrainingMatrix
	}
	if y == nil {
		return ErrNoTargetMatrix
	}
	m, n := x.Dims()

	ym, _ := y.Dims()
	if ym != m {
		return fmt.Errorf("training data has %d rows and target has %d row, %w", m, ym, ErrTargetLenMismatch)
	}

	xd := mat.DenseCopyOf(x)
	yCol := mat.Col(nil, 0, y)

	xMeans := make([]float64, n)
	var yMean float64
	if r.opt.FitIntercept {
		// center features and target so the intercept falls out of the solve unpenalized
		for j := 0; j < n; j++ {
			xMeans[j] = stat.Mean(mat.Col(nil, j, xd), nil)
		}
		yMean = stat.Mean(yCol, nil)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				xd.Set(i, j, xd.At(i, j)-xMeans[j])
			}
			yCol[i] -= yMean
		}
	}

	var gram mat.Dense
	gram.Mul(xd.T(), xd)
	for j := 0; j < n; j++ {
		gram.Set(j, j, gram.At(j, j)+r.opt.Lambda)
	}

	var xty mat.Dense
	yc := mat.NewDense(m, 1, yCol)
	xty.Mul(xd.T(), yc)

	var beta mat.Dense
	if err := beta.Solve(&gram, &xty); err != nil {
		return fmt.Errorf("%v, %w", err, ErrRidgeSolve)
	}

	r.coef = mat.Col(nil, 0, &beta)
	if r.opt.FitIntercept {
		r.intercept = yMean
		for j := 0; j < n; j++ {
			r.intercept -= xMeans[j] * r.coef[j]
		}
	}

	return nil
}

// Predict using the Ridge model
func (r *RidgeRegression) Predict(x mat.Matrix) ([]float64, error) {
	if r.opt == nil {
		return nil, ErrNoOptions
	}
	if x == nil {
		return nil, ErrNoDesignMatrix
	}

	m, n := x.Dims()
	if n != len(r.coef) {
		return nil, fmt.Errorf("got %d features in design matrix, but expected %d, %w", n, len(r.coef), ErrFeatureLenMismatch)
	}

	coefMx := mat.NewDense(1, n, r.coef)

	var res mat.Dense
	res.Mul(coefMx, x.T())
	out := make([]float64, m)
	copy(out, res.RawRowView(0))
	for i := range out {
		out[i] += r.intercept
	}
	return out, nil
}

// Score computes the coefficient of determination of the prediction
func (r *RidgeRegression) Score(x, y mat.Matrix) (float64, error) {
	if r.opt == nil {
		return 0.0, ErrNoOptions
	}
	if x == nil {
		return 0.0, ErrNoDesignMatrix
	}
	if y == nil {
		return 0.0, ErrNoTargetMatrix
	}

	m, _ := x.Dims()

	ym, _ := y.Dims()
	if m != ym {
		return 0.0, fmt.Errorf("design matrix has %d rows and target has %d rows, %w", m, ym, ErrTargetLenMismatch)
	}

	res, err := r.Predict(x)
	if err != nil {
		return 0.0, err
	}

	ySlice := mat.Col(nil, 0, y)

	return stat.RSquaredFrom(res, ySlice, nil), nil
}

// Intercept returns the computed intercept if FitIntercept is set to true. Defaults to 0.0 if not set.
func (r *RidgeRegression) Intercept() float64 {
	return r.intercept
}

// Coef returns a slice of the trained coefficients in the same order of the training feature Matrix by column.
func (r *RidgeRegression) Coef() []float64 {
	c := make([]float64, len(r.coef))
	copy(c, r.coef)
	return c
}

// Clone returns an untrained Ridge model with the same options
func (r *RidgeRegression) Clone() Model {
	opt := *r.opt
	return &RidgeRegression{opt: &opt}
}
