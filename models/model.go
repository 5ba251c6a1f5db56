// Package models is a collection of linear regression fitting implementations that satisfy the
// regressor contract of the autoregressive forecaster.
package models

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoOptions          = errors.New("no initialized model options")
	ErrTargetLenMismatch  = errors.New("target length does not match target rows")
	ErrNoTrainingMatrix   = errors.New("no training matrix")
	ErrNoTargetMatrix     = errors.New("no target matrix")
	ErrNoDesignMatrix     = errors.New("no design matrix for inference")
	ErrFeatureLenMismatch = errors.New("number of features does not match number of model coefficients")
)

// Model is the full capability surface of the regressions implemented in this package. Clone
// returns an untrained instance carrying the same options so that concurrent evaluations can
// each fit a private copy without sharing mutable state.
type Model interface {
	Fit(x, y mat.Matrix) error
	Predict(x mat.Matrix) ([]float64, error)
	Score(x, y mat.Matrix) (float64, error)
	Intercept() float64
	Coef() []float64
	Clone() Model
}
