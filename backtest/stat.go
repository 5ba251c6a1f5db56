package backtest

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/userbox020/skforecast/metrics"
	"github.com/userbox020/skforecast/split"
	"gonum.org/v1/gonum/mat"
)

var ErrBadAlpha = errors.New("alpha must be in (0, 1)")

// StatForecaster is a forecaster that carries its training state forward instead of priming
// a lag window, e.g. statistical state space models. Append extends the fitted state with
// newer observations without refitting, and Clone must copy the fitted state so appended
// observations on the clone never leak back.
type StatForecaster interface {
	Fit(y []float64, exog mat.Matrix) error
	Append(y []float64, exog mat.Matrix) error
	Predict(steps int, exog mat.Matrix) ([]float64, error)
	PredictInterval(steps int, exog mat.Matrix, alpha float64) (pred, lower, upper []float64, err error)
	Clone() StatForecaster
}

// StatOptions configures a backtesting run over a StatForecaster
type StatOptions struct {
	Metrics []metrics.Metric

	// Exog holds one exogenous row per series observation
	Exog *mat.Dense

	// Alpha enables interval predictions at significance level alpha when set, e.g. 0.05
	// for a 95% interval
	Alpha float64

	// NJobs bounds the number of folds evaluated concurrently. Values below 1 use one
	// worker per CPU.
	NJobs int

	Verbose bool
}

// NewDefaultStatOptions returns a default set of options evaluating mean squared error
func NewDefaultStatOptions() *StatOptions {
	return &StatOptions{
		Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
	}
}

// BacktestingStat evaluates a state carrying forecaster over the fold plan derived from cv.
// Folds not marked for refit clone the most recent fit and append the observations between
// that fit's training range and their own test range, so predictions always start from the
// step right before the test range.
func BacktestingStat(f StatForecaster, y []float64, cv *split.TimeSeriesFold, opt *StatOptions) (*Summary, *Predictions, error) {
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
		opt = NewDefaultStatOptions()
	}
	if len(opt.Metrics) == 0 {
		return nil, nil, ErrNoMetrics
	}
	if opt.Alpha < 0 || opt.Alpha >= 1 {
		return nil, nil, fmt.Errorf("got %g, %w", opt.Alpha, ErrBadAlpha)
	}
	if opt.Exog != nil {
		rows, _ := opt.Exog.Dims()
		if rows != len(y) {
			return nil, nil, fmt.Errorf("got %d exogenous rows for %d samples, %w", rows, len(y), ErrExogRowMismatch)
		}
	}

	folds, err := cv.Split(len(y))
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
	if cv.Refit > 1 && njobs != 1 {
		log.Warn().
			Int("refit", cv.Refit).
			Msg("intermittent refit carries model state between folds, running serially")
		njobs = 1
	}

	initial := f.Clone()
	if err := fitStatFold(initial, y, opt.Exog, folds[0]); err != nil {
		return nil, nil, err
	}
	folds[0].Refit = false

	if opt.Verbose {
		log.Info().
			Int("folds", len(folds)).
			Int("steps", cv.Steps).
			Int("initial_train_size", cv.InitialTrainSize).
			Int("gap", cv.Gap).
			Int("refit", cv.Refit).
			Msg("backtesting fold plan")
	}

	results := make([]foldResult, len(folds))
	if njobs == 1 {
		current := initial
		fittedThrough := folds[0].TrainEnd
		for i, fold := range folds {
			if fold.Refit {
				current = f.Clone()
				if err := fitStatFold(current, y, opt.Exog, fold); err != nil {
					results[i] = foldResult{err: err}
					break
				}
				fittedThrough = fold.TrainEnd
			} else if fold.TestStart > fittedThrough {
				if err := appendRange(current, y, opt.Exog, fittedThrough, fold.TestStart); err != nil {
					results[i] = foldResult{err: err}
					break
				}
				fittedThrough = fold.TestStart
			}
			results[i] = predictStatFold(current, fold, opt)
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

				var current StatForecaster
				if fold.Refit {
					current = f.Clone()
					if err := fitStatFold(current, y, opt.Exog, fold); err != nil {
						results[i] = foldResult{err: err}
						return
					}
				} else {
					current = initial.Clone()
					if fold.TestStart > folds[0].TrainEnd {
						if err := appendRange(current, y, opt.Exog, folds[0].TrainEnd, fold.TestStart); err != nil {
							results[i] = foldResult{err: err}
							return
						}
					}
				}
				results[i] = predictStatFold(current, fold, opt)
			}(i, fold)
		}
		wg.Wait()
	}

	for i, res := range results {
		if res.err != nil {
			return nil, nil, fmt.Errorf("fold %d failed, %w", i, res.err)
		}
	}

	preds, err := stitch(folds, results, opt.Alpha > 0)
	if err != nil {
		return nil, nil, err
	}

	summary, err := evaluate(y, preds, folds, cv.WindowSize, opt.Metrics)
	if err != nil {
		return nil, nil, err
	}
	return summary, preds, nil
}

func fitStatFold(f StatForecaster, y []float64, exog *mat.Dense, fold split.Fold) error {
	var trainExog mat.Matrix
	if exog != nil {
		trainExog = exog.Slice(fold.TrainStart, fold.TrainEnd, 0, exogCols(exog))
	}
	if err := f.Fit(y[fold.TrainStart:fold.TrainEnd], trainExog); err != nil {
		return fmt.Errorf("unable to fit on train range [%d, %d), %w", fold.TrainStart, fold.TrainEnd, err)
	}
	return nil
}

func appendRange(f StatForecaster, y []float64, exog *mat.Dense, from, to int) error {
	var appendExog mat.Matrix
	if exog != nil {
		appendExog = exog.Slice(from, to, 0, exogCols(exog))
	}
	if err := f.Append(y[from:to], appendExog); err != nil {
		return fmt.Errorf("unable to append range [%d, %d), %w", from, to, err)
	}
	return nil
}

func predictStatFold(f StatForecaster, fold split.Fold, opt *StatOptions) foldResult {
	steps := fold.TestEnd - fold.TestStart
	trim := fold.TestNoGapStart - fold.TestStart

	var predExog mat.Matrix
	if opt.Exog != nil {
		predExog = opt.Exog.Slice(fold.TestStart, fold.TestEnd, 0, exogCols(opt.Exog))
	}

	if opt.Alpha > 0 {
		pred, lower, upper, err := f.PredictInterval(steps, predExog, opt.Alpha)
		if err != nil {
			return foldResult{err: err}
		}
		return foldResult{
			pred:  pred[trim:],
			lower: lower[trim:],
			upper: upper[trim:],
		}
	}

	pred, err := f.Predict(steps, predExog)
	if err != nil {
		return foldResult{err: err}
	}
	return foldResult{pred: pred[trim:]}
}
