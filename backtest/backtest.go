// Package backtest evaluates forecasters by simulating sequential prediction over the
// historical series. A fold plan produced by the split package drives which observations
// each round may train on and which it must predict.
package backtest

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/userbox020/skforecast"
	"github.com/userbox020/skforecast/metrics"
	"github.com/userbox020/skforecast/split"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoForecaster      = errors.New("no forecaster provided")
	ErrNoSeries          = errors.New("no series provided")
	ErrNoFoldPolicy      = errors.New("no fold policy provided")
	ErrNoMetrics         = errors.New("no metrics provided")
	ErrExogRowMismatch   = errors.New("exogenous rows do not match the series length")
	ErrNonMonotonicIndex = errors.New("stitched prediction index is not strictly increasing")
)

// longTrainingThreshold is the number of fits beyond which a warning is emitted before
// starting the run
const longTrainingThreshold = 50

// Options configures a backtesting run
type Options struct {
	// Metrics are evaluated over the stitched out of sample predictions
	Metrics []metrics.Metric

	// Exog holds one exogenous row per series observation
	Exog *mat.Dense

	// Interval enables bootstrap interval predictions for every fold
	Interval *skforecast.IntervalOptions

	// NJobs bounds the number of folds evaluated concurrently. Values below 1 use one
	// worker per CPU.
	NJobs int

	Verbose bool
}

// NewDefaultOptions returns a default set of backtesting options evaluating mean squared
// error
func NewDefaultOptions() *Options {
	return &Options{
		Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
	}
}

// MetricValue is one evaluated metric over the stitched predictions
type MetricValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Summary holds the evaluated metrics of a backtesting run
type Summary struct {
	Metrics []MetricValue `json:"metrics"`
}

// Predictions holds the stitched out of sample predictions. Index maps each prediction back
// to its position in the input series. Lower and Upper are only set on interval runs.
type Predictions struct {
	Index []int     `json:"index"`
	Pred  []float64 `json:"pred"`
	Lower []float64 `json:"lower_bound,omitempty"`
	Upper []float64 `json:"upper_bound,omitempty"`
}

type foldResult struct {
	pred  []float64
	lower []float64
	upper []float64
	err   error
}

// Backtesting evaluates the forecaster over the fold plan derived from cv. The caller's
// forecaster is never mutated, each fit happens on a private copy. Folds not marked for
// refit reuse an earlier fit and prime their predictors with the window immediately
// preceding their test range.
func Backtesting(f *skforecast.Forecaster, y []float64, cv *split.TimeSeriesFold, opt *Options) (*Summary, *Predictions, error) {
	if f == nil {
		return nil, nil, ErrNoForecaster
	}
	if len(y) == 0 {
		return nil, nil, ErrNoSeries
	}
	if cv == nil {
		return nil, nil, ErrNoFoldPolicy
	}
	if opt == nil {
		opt = NewDefaultOptions()
	}
	if len(opt.Metrics) == 0 {
		return nil, nil, ErrNoMetrics
	}
	if opt.Exog != nil {
		rows, _ := opt.Exog.Dims()
		if rows != len(y) {
			return nil, nil, fmt.Errorf("got %d exogenous rows for %d samples, %w", rows, len(y), ErrExogRowMismatch)
		}
	}

	fc, err := f.Copy()
	if err != nil {
		return nil, nil, err
	}

	// the caller's policy is never mutated
	plan := *cv
	plan.WindowSize = fc.WindowSize()
	folds, err := plan.Split(len(y))
	if err != nil {
		return nil, nil, err
	}

	if n := split.NumRefits(folds); n > longTrainingThreshold {
		log.Warn().
			Int("fits", n).
			Int("folds", len(folds)).
			Msg("backtest requires many model fits and may take a long time")
	}

	njobs := opt.NJobs
	if njobs < 1 {
		njobs = runtime.GOMAXPROCS(0)
	}
	if plan.Refit > 1 && njobs != 1 {
		log.Warn().
			Int("refit", plan.Refit).
			Msg("intermittent refit carries model state between folds, running serially")
		njobs = 1
	}

	// eager initial fit so the first fold and every non-refit fold can reuse it
	if err := fitFold(fc, y, opt.Exog, folds[0]); err != nil {
		return nil, nil, err
	}
	folds[0].Refit = false

	if opt.Verbose {
		log.Info().
			Int("folds", len(folds)).
			Int("steps", plan.Steps).
			Int("initial_train_size", plan.InitialTrainSize).
			Int("gap", plan.Gap).
			Int("refit", plan.Refit).
			Msg("backtesting fold plan")
	}

	results := make([]foldResult, len(folds))
	if njobs == 1 {
		// serial path carries the most recent fit forward so intermittent refit folds see
		// the model state their plan expects
		current := fc
		for i, fold := range folds {
			if fold.Refit {
				current, err = f.Copy()
				if err != nil {
					results[i] = foldResult{err: err}
					break
				}
				if err := fitFold(current, y, opt.Exog, fold); err != nil {
					results[i] = foldResult{err: err}
					break
				}
			}
			results[i] = predictFold(current, y, fold, opt)
		}
	} else {
		sem := make(chan struct{}, njobs)
		var wg sync.WaitGroup
		for i, fold := range folds {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, fold split.Fold) {
				defer func() {
					<-sem
					wg.Done()
				}()

				current := fc
				if fold.Refit {
					var err error
					current, err = f.Copy()
					if err != nil {
						results[i] = foldResult{err: err}
						return
					}
					if err := fitFold(current, y, opt.Exog, fold); err != nil {
						results[i] = foldResult{err: err}
						return
					}
				}
				results[i] = predictFold(current, y, fold, opt)
			}(i, fold)
		}
		wg.Wait()
	}

	for i, res := range results {
		if res.err != nil {
			return nil, nil, fmt.Errorf("fold %d failed, %w", i, res.err)
		}
	}

	preds, err := stitch(folds, results, opt.Interval != nil)
	if err != nil {
		return nil, nil, err
	}

	summary, err := evaluate(y, preds, folds, fc.WindowSize(), opt.Metrics)
	if err != nil {
		return nil, nil, err
	}
	return summary, preds, nil
}

// fitFold fits the forecaster on the fold's training range
func fitFold(fc *skforecast.Forecaster, y []float64, exog *mat.Dense, fold split.Fold) error {
	var trainExog mat.Matrix
	if exog != nil {
		trainExog = exog.Slice(fold.TrainStart, fold.TrainEnd, 0, exogCols(exog))
	}
	if err := fc.Fit(y[fold.TrainStart:fold.TrainEnd], trainExog); err != nil {
		return fmt.Errorf("unable to fit on train range [%d, %d), %w", fold.TrainStart, fold.TrainEnd, err)
	}
	return nil
}

// predictFold predicts the fold's full test range and trims the gap steps from the front.
// Refit folds predict from the forecaster's stored last window, other folds prime it with
// the observations immediately preceding the test range.
func predictFold(fc *skforecast.Forecaster, y []float64, fold split.Fold, opt *Options) foldResult {
	steps := fold.TestEnd - fold.TestStart
	trim := fold.TestNoGapStart - fold.TestStart

	var lastWindow []float64
	if !fold.Refit {
		lastWindow = y[fold.LastWindowStart:fold.LastWindowEnd]
	}

	var predExog mat.Matrix
	if opt.Exog != nil {
		predExog = opt.Exog.Slice(fold.TestStart, fold.TestEnd, 0, exogCols(opt.Exog))
	}

	if opt.Interval != nil {
		res, err := fc.PredictInterval(steps, lastWindow, predExog, opt.Interval)
		if err != nil {
			return foldResult{err: err}
		}
		return foldResult{
			pred:  res.Pred[trim:],
			lower: res.Lower[trim:],
			upper: res.Upper[trim:],
		}
	}

	pred, err := fc.Predict(steps, lastWindow, predExog)
	if err != nil {
		return foldResult{err: err}
	}
	return foldResult{pred: pred[trim:]}
}

// stitch concatenates per fold predictions into one series ordered by index
func stitch(folds []split.Fold, results []foldResult, interval bool) (*Predictions, error) {
	preds := &Predictions{}
	last := -1
	for i, fold := range folds {
		for j, p := range results[i].pred {
			idx := fold.TestNoGapStart + j
			if idx <= last {
				return nil, fmt.Errorf("fold %d index %d after %d, %w", i, idx, last, ErrNonMonotonicIndex)
			}
			last = idx
			preds.Index = append(preds.Index, idx)
			preds.Pred = append(preds.Pred, p)
			if interval {
				preds.Lower = append(preds.Lower, results[i].lower[j])
				preds.Upper = append(preds.Upper, results[i].upper[j])
			}
		}
	}
	return preds, nil
}

// evaluate computes every metric over the stitched predictions. The train series passed to
// scaled metrics is the union of the target ranges of the folds that were fit, excluding
// each range's window prefix which never appears as a regression target. Overlapping fold
// ranges are merged so no observation is counted twice and no artificial jump appears at a
// concatenation boundary.
func evaluate(y []float64, preds *Predictions, folds []split.Fold, windowSize int, ms []metrics.Metric) (*Summary, error) {
	yTrue := make([]float64, len(preds.Index))
	for i, idx := range preds.Index {
		yTrue[i] = y[idx]
	}

	yTrain := trainUnion(y, folds, windowSize)

	summary := &Summary{Metrics: make([]MetricValue, 0, len(ms))}
	for _, m := range ms {
		v, err := m.Fn(yTrue, preds.Pred, yTrain)
		if err != nil {
			return nil, fmt.Errorf("unable to evaluate %s, %w", m.Name, err)
		}
		summary.Metrics = append(summary.Metrics, MetricValue{Name: m.Name, Value: v})
	}
	return summary, nil
}

// trainUnion merges the fitted folds' target ranges into disjoint intervals and indexes the
// series once. Fold ranges arrive ordered by start, so a single merge walk suffices.
func trainUnion(y []float64, folds []split.Fold, windowSize int) []float64 {
	var yTrain []float64
	start, end := -1, -1
	for i, fold := range folds {
		if i > 0 && !fold.Refit {
			continue
		}
		s, e := fold.TrainStart+windowSize, fold.TrainEnd
		if end < 0 {
			start, end = s, e
			continue
		}
		if s <= end {
			if e > end {
				end = e
			}
			continue
		}
		yTrain = append(yTrain, y[start:end]...)
		start, end = s, e
	}
	if end >= 0 {
		yTrain = append(yTrain, y[start:end]...)
	}
	return yTrain
}

func exogCols(exog *mat.Dense) int {
	_, c := exog.Dims()
	return c
}
