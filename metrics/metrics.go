// Package metrics provides the evaluation functions used to score backtest predictions and a
// registry resolving metric names to implementations. Every function receives the training
// series since the scale dependent metrics need the training distribution.
package metrics

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownMetric  = errors.New("unknown metric name")
	ErrLenMismatch    = errors.New("actual and predicted have different lengths")
	ErrNoObservations = errors.New("no observations to score")
	ErrNoTrainSeries  = errors.New("metric requires the training series")
	ErrNegativeValue  = errors.New("mean squared log error requires non-negative values")
)

// Func scores predictions against actuals. yTrain may be nil for metrics that do not use the
// training distribution.
type Func func(yTrue, yPred, yTrain []float64) (float64, error)

// Metric pairs a metric function with its identifying name used as the column name of the
// backtest metric table
type Metric struct {
	Name string
	Fn   Func
}

var registry = map[string]Func{
	"mean_squared_error":             MeanSquaredError,
	"mean_absolute_error":            MeanAbsoluteError,
	"mean_absolute_percentage_error": MeanAbsolutePercentageError,
	"mean_squared_log_error":         MeanSquaredLogError,
	"mean_absolute_scaled_error":     MeanAbsoluteScaledError,
	"root_mean_squared_scaled_error": RootMeanSquaredScaledError,
}

// Get resolves a metric name to its implementation
func Get(name string) (Metric, error) {
	fn, exists := registry[name]
	if !exists {
		return Metric{}, fmt.Errorf("%q, %w", name, ErrUnknownMetric)
	}
	return Metric{Name: name, Fn: fn}, nil
}

// Resolve maps a list of metric names to implementations
func Resolve(names []string) ([]Metric, error) {
	ms := make([]Metric, 0, len(names))
	for _, name := range names {
		m, err := Get(name)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, nil
}

// WithoutTrain adapts a two argument metric callable to the registry signature by discarding
// the training series
func WithoutTrain(name string, fn func(yTrue, yPred []float64) (float64, error)) Metric {
	return Metric{
		Name: name,
		Fn: func(yTrue, yPred, _ []float64) (float64, error) {
			return fn(yTrue, yPred)
		},
	}
}

func validate(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("expected %d, but got %d, %w", len(yTrue), len(yPred), ErrLenMismatch)
	}
	if len(yTrue) == 0 {
		return ErrNoObservations
	}
	return nil
}

// MeanSquaredError computes sum((y-yhat)^2)/n. A score of 0 means a perfect match with no errors.
func MeanSquaredError(yTrue, yPred, _ []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	mse := 0.0
	for i := 0; i < len(yTrue); i++ {
		diff := yTrue[i] - yPred[i]
		mse += diff * diff
	}
	return mse / float64(len(yTrue)), nil
}

// MeanAbsoluteError computes sum(|y-yhat|)/n
func MeanAbsoluteError(yTrue, yPred, _ []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	mae := 0.0
	for i := 0; i < len(yTrue); i++ {
		mae += math.Abs(yTrue[i] - yPred[i])
	}
	return mae / float64(len(yTrue)), nil
}

// MeanAbsolutePercentageError computes sum(|(y-yhat)/y|)/m over the m observations with a
// non-zero actual. Zero actuals are excluded from both the sum and the divisor so a series
// with zeros is not systematically deflated. All-zero actuals cannot be scored.
func MeanAbsolutePercentageError(yTrue, yPred, _ []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	mape := 0.0
	m := 0
	for i := 0; i < len(yTrue); i++ {
		if yTrue[i] == 0 {
			continue
		}
		mape += math.Abs((yTrue[i] - yPred[i]) / yTrue[i])
		m++
	}
	if m == 0 {
		return 0, ErrNoObservations
	}
	return mape / float64(m), nil
}

// MeanSquaredLogError computes sum((log1p(y)-log1p(yhat))^2)/n. Requires non-negative values.
func MeanSquaredLogError(yTrue, yPred, _ []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	msle := 0.0
	for i := 0; i < len(yTrue); i++ {
		if yTrue[i] < 0 || yPred[i] < 0 {
			return 0, ErrNegativeValue
		}
		diff := math.Log1p(yTrue[i]) - math.Log1p(yPred[i])
		msle += diff * diff
	}
	return msle / float64(len(yTrue)), nil
}

// MeanAbsoluteScaledError computes the mean absolute error scaled by the mean absolute error
// of the naive one step forecast over the training series
func MeanAbsoluteScaledError(yTrue, yPred, yTrain []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	if len(yTrain) < 2 {
		return 0, ErrNoTrainSeries
	}

	mae, err := MeanAbsoluteError(yTrue, yPred, nil)
	if err != nil {
		return 0, err
	}

	naive := 0.0
	for i := 1; i < len(yTrain); i++ {
		naive += math.Abs(yTrain[i] - yTrain[i-1])
	}
	naive /= float64(len(yTrain) - 1)

	return mae / naive, nil
}

// RootMeanSquaredScaledError computes the root mean squared error scaled by the root mean
// squared error of the naive one step forecast over the training series
func RootMeanSquaredScaledError(yTrue, yPred, yTrain []float64) (float64, error) {
	if err := validate(yTrue, yPred); err != nil {
		return 0, err
	}
	if len(yTrain) < 2 {
		return 0, ErrNoTrainSeries
	}

	mse, err := MeanSquaredError(yTrue, yPred, nil)
	if err != nil {
		return 0, err
	}

	naive := 0.0
	for i := 1; i < len(yTrain); i++ {
		diff := yTrain[i] - yTrain[i-1]
		naive += diff * diff
	}
	naive /= float64(len(yTrain) - 1)

	return math.Sqrt(mse / naive), nil
}
