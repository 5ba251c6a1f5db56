// Package skforecast wraps an arbitrary regression model into an autoregressive forecaster.
// Forecasts are produced recursively, each predicted value is fed back into the rolling
// window to compute the predictors of the following step.
package skforecast

import (
	"errors"
	"fmt"

	"github.com/userbox020/skforecast/models"
	"github.com/userbox020/skforecast/residuals"
	"github.com/userbox020/skforecast/window"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoRegressor              = errors.New("no regressor provided")
	ErrUntrainedForecaster      = errors.New("forecaster has not been trained yet")
	ErrInsufficientTrainingData = errors.New("training series is not longer than the window size")
	ErrNegativeSteps            = errors.New("negative number of steps")
	ErrExogRowMismatch          = errors.New("exogenous rows do not match the expected length")
	ErrExogColMismatch          = errors.New("exogenous columns do not match the columns seen during fit")
	ErrMissingExog              = errors.New("forecaster was fit with exogenous values but none were provided")
	ErrUnexpectedExog           = errors.New("forecaster was fit without exogenous values")
	ErrShortLastWindow          = errors.New("last window is shorter than the required window size")
	ErrNoResidualPool           = errors.New("no residual pool available")
	ErrRegressorNotCloneable    = errors.New("regressor does not expose a Clone capability")
)

// Regressor is the capability contract required of the underlying regression model. Any
// implementation satisfying these two operations can back a forecaster.
type Regressor interface {
	Fit(x, y mat.Matrix) error
	Predict(x mat.Matrix) ([]float64, error)
}

// Forecaster fits a regressor on lag and rolling window predictors of a series and generates
// recursive multi-step forecasts
type Forecaster struct {
	opt       *Options
	regressor Regressor

	windowSize int
	exogCols   int
	trained    bool

	// lastWindow holds the final windowSize raw observations of the training series
	lastWindow []float64
	trainSize  int

	binner *residuals.Binner

	inSampleResiduals       []float64
	inSampleResidualsByBin  map[int][]float64
	outSampleResiduals      []float64
	outSampleResidualsByBin map[int][]float64
}

// New creates a forecaster wrapping the provided regressor. If no options are provided a
// default is used.
func New(regressor Regressor, opt *Options) (*Forecaster, error) {
	if regressor == nil {
		return nil, ErrNoRegressor
	}
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	binner, err := residuals.NewBinner(opt.ResidualBins)
	if err != nil {
		return nil, err
	}
	return &Forecaster{
		opt:        opt,
		regressor:  regressor,
		windowSize: opt.baseWindowSize() + opt.Differentiation,
		binner:     binner,
	}, nil
}

// WindowSize returns the number of trailing observations needed to prime a prediction
func (f *Forecaster) WindowSize() int {
	return f.windowSize
}

// Differentiation returns the configured differencing order
func (f *Forecaster) Differentiation() int {
	return f.opt.Differentiation
}

// Regressor returns the wrapped regression model
func (f *Forecaster) Regressor() Regressor {
	return f.regressor
}

// FeatureNames returns the predictor names in design matrix column order: lags, rolling
// window statistics, then exogenous columns. Exogenous columns are only known after Fit.
func (f *Forecaster) FeatureNames() []string {
	names := make([]string, 0, len(f.opt.Lags)+len(f.opt.WindowFeatures)+f.exogCols)
	for _, lag := range f.opt.Lags {
		names = append(names, fmt.Sprintf("lag_%d", lag))
	}
	for _, wf := range f.opt.WindowFeatures {
		names = append(names, wf.Label())
	}
	for c := 0; c < f.exogCols; c++ {
		names = append(names, fmt.Sprintf("exog_%d", c))
	}
	return names
}

// Copy returns an untrained forecaster with the same configuration backed by a fresh clone
// of the regressor. Used by the backtester so parallel fold fits never share mutable state.
func (f *Forecaster) Copy() (*Forecaster, error) {
	var reg Regressor
	switch c := f.regressor.(type) {
	case interface{ Clone() Regressor }:
		reg = c.Clone()
	case interface{ Clone() models.Model }:
		reg = c.Clone()
	default:
		return nil, ErrRegressorNotCloneable
	}
	return New(reg, f.opt.copy())
}

// Fit trains the regressor on the lag, rolling window, and exogenous predictors of the
// series, storing the last window, the in-sample residuals, and the residual pools binned by
// prediction magnitude
func (f *Forecaster) Fit(y []float64, exog mat.Matrix) error {
	if len(y) <= f.windowSize {
		return fmt.Errorf("got %d samples for window size %d, %w", len(y), f.windowSize, ErrInsufficientTrainingData)
	}
	if exog != nil {
		rows, _ := exog.Dims()
		if rows != len(y) {
			return fmt.Errorf("got %d exogenous rows for %d samples, %w", rows, len(y), ErrExogRowMismatch)
		}
	}

	d := f.opt.Differentiation
	ys := differentiate(y, d)
	base := f.windowSize - d

	nRows := len(ys) - base
	exogCols := 0
	if exog != nil {
		_, exogCols = exog.Dims()
	}
	nFeat := len(f.opt.Lags) + len(f.opt.WindowFeatures) + exogCols

	x := mat.NewDense(nRows, nFeat, nil)
	targets := make([]float64, nRows)
	row := make([]float64, nFeat)
	for i := 0; i < nRows; i++ {
		t := base + i
		buf, err := window.NewBuffer(ys[t-base : t])
		if err != nil {
			return err
		}
		if err := f.featureRow(row, buf, exog, t+d); err != nil {
			return err
		}
		x.SetRow(i, row)
		targets[i] = ys[t]
	}

	if err := f.regressor.Fit(x, mat.NewDense(nRows, 1, targets)); err != nil {
		return fmt.Errorf("unable to fit regressor, %w", err)
	}

	f.exogCols = exogCols
	f.trainSize = len(y)
	f.lastWindow = make([]float64, f.windowSize)
	copy(f.lastWindow, y[len(y)-f.windowSize:])

	fitted, err := f.regressor.Predict(x)
	if err != nil {
		return fmt.Errorf("unable to compute in-sample predictions, %w", err)
	}
	res := make([]float64, nRows)
	for i := range res {
		res[i] = targets[i] - fitted[i]
	}
	f.inSampleResiduals = res

	if err := f.binner.Fit(fitted); err != nil {
		return err
	}
	byBin, err := f.binner.Partition(fitted, res)
	if err != nil {
		return err
	}
	f.inSampleResidualsByBin = byBin

	f.trained = true
	return nil
}

// Predict generates a point forecast of the requested steps. lastWindow may be nil to
// forecast from the end of the training series; otherwise its trailing values prime the
// window. exog must hold exactly one row per step when the forecaster was fit with
// exogenous values.
func (f *Forecaster) Predict(steps int, lastWindow []float64, exog mat.Matrix) ([]float64, error) {
	win, lastVals, err := f.predictInputs(lastWindow)
	if err != nil {
		return nil, err
	}
	preds, err := f.recursivePredict(steps, win, exog, nil, false)
	if err != nil {
		return nil, err
	}
	return integrate(preds, lastVals), nil
}

// Residuals returns a copy of the stored in-sample residuals
func (f *Forecaster) Residuals() []float64 {
	res := make([]float64, len(f.inSampleResiduals))
	copy(res, f.inSampleResiduals)
	return res
}

// LastWindow returns a copy of the stored trailing training observations
func (f *Forecaster) LastWindow() []float64 {
	lw := make([]float64, len(f.lastWindow))
	copy(lw, f.lastWindow)
	return lw
}

// SetOutSampleResiduals stores residuals observed outside the training set, both as a flat
// pool and binned by the magnitude of the originating prediction. These are used by interval
// predictions when UseInSampleResiduals is disabled.
func (f *Forecaster) SetOutSampleResiduals(yTrue, yPred []float64) error {
	if !f.trained {
		return ErrUntrainedForecaster
	}
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("got %d actuals and %d predictions, %w", len(yTrue), len(yPred), residuals.ErrLenMismatch)
	}

	res := make([]float64, len(yTrue))
	for i := range res {
		res[i] = yTrue[i] - yPred[i]
	}
	byBin, err := f.binner.Partition(yPred, res)
	if err != nil {
		return err
	}
	f.outSampleResiduals = res
	f.outSampleResidualsByBin = byBin
	return nil
}

// predictInputs validates the last window, applies differencing, and returns the window
// values in model space with the trailing values of each differencing order needed to
// integrate predictions back to the original scale
func (f *Forecaster) predictInputs(lastWindow []float64) ([]float64, []float64, error) {
	if !f.trained {
		return nil, nil, ErrUntrainedForecaster
	}
	if lastWindow == nil {
		lastWindow = f.lastWindow
	}
	if len(lastWindow) < f.windowSize {
		return nil, nil, fmt.Errorf("got %d values for window size %d, %w", len(lastWindow), f.windowSize, ErrShortLastWindow)
	}

	cur := make([]float64, f.windowSize)
	copy(cur, lastWindow[len(lastWindow)-f.windowSize:])

	d := f.opt.Differentiation
	lastVals := make([]float64, d)
	for k := 0; k < d; k++ {
		lastVals[k] = cur[len(cur)-1]
		cur = differentiate(cur, 1)
	}
	return cur, lastVals, nil
}

// recursivePredict is the autoregressive step loop. The window values are copied into a
// private buffer, each step assembles a feature row, asks the regressor for a point
// prediction, optionally perturbs it with a residual, and pushes the perturbed value back
// into the buffer so it feeds the predictors of later steps.
func (f *Forecaster) recursivePredict(steps int, win []float64, exog mat.Matrix, res *residuals.Source, useBinned bool) ([]float64, error) {
	if steps < 0 {
		return nil, fmt.Errorf("got %d, %w", steps, ErrNegativeSteps)
	}
	if steps == 0 {
		return []float64{}, nil
	}
	if err := f.validateExog(exog, steps); err != nil {
		return nil, err
	}

	buf, err := window.NewBuffer(win)
	if err != nil {
		return nil, err
	}

	nFeat := len(f.opt.Lags) + len(f.opt.WindowFeatures) + f.exogCols
	row := make([]float64, nFeat)
	preds := make([]float64, steps)
	for i := 0; i < steps; i++ {
		if err := f.featureRow(row, buf, exog, i); err != nil {
			return nil, err
		}
		out, err := f.regressor.Predict(mat.NewDense(1, nFeat, row))
		if err != nil {
			return nil, fmt.Errorf("regressor prediction failed at step %d, %w", i, err)
		}
		pred := out[0]

		if res != nil {
			var r float64
			if useBinned && res.Binned() {
				// the bin depends on this step's own raw prediction, so it can only be
				// resolved here inside the loop
				bin, err := f.binner.BinFor(pred)
				if err != nil {
					return nil, err
				}
				r, err = res.AtBin(bin, i)
				if err != nil {
					return nil, err
				}
			} else {
				r, err = res.At(i)
				if err != nil {
					return nil, err
				}
			}
			pred += r
		}

		preds[i] = pred
		buf.Push(pred)
	}
	return preds, nil
}

// featureRow fills row with the lag values, rolling statistics, and the exogenous values of
// the given exog row index
func (f *Forecaster) featureRow(row []float64, buf *window.Buffer, exog mat.Matrix, exogRow int) error {
	j := 0
	for _, lag := range f.opt.Lags {
		v, err := buf.Lag(lag)
		if err != nil {
			return err
		}
		row[j] = v
		j++
	}
	for _, wf := range f.opt.WindowFeatures {
		v, err := wf.Apply(buf)
		if err != nil {
			return err
		}
		row[j] = v
		j++
	}
	if exog != nil {
		_, cols := exog.Dims()
		for c := 0; c < cols; c++ {
			row[j] = exog.At(exogRow, c)
			j++
		}
	}
	return nil
}

func (f *Forecaster) validateExog(exog mat.Matrix, steps int) error {
	if exog == nil {
		if f.exogCols > 0 {
			return ErrMissingExog
		}
		return nil
	}
	if f.exogCols == 0 {
		return ErrUnexpectedExog
	}
	rows, cols := exog.Dims()
	if rows != steps {
		return fmt.Errorf("got %d exogenous rows for %d steps, %w", rows, steps, ErrExogRowMismatch)
	}
	if cols != f.exogCols {
		return fmt.Errorf("got %d exogenous columns, but fit with %d, %w", cols, f.exogCols, ErrExogColMismatch)
	}
	return nil
}

// differentiate applies d first order differences to the series
func differentiate(y []float64, d int) []float64 {
	cur := make([]float64, len(y))
	copy(cur, y)
	for k := 0; k < d; k++ {
		next := make([]float64, len(cur)-1)
		for i := 1; i < len(cur); i++ {
			next[i-1] = cur[i] - cur[i-1]
		}
		cur = next
	}
	return cur
}

// integrate undoes the differencing applied at fit time. lastVals holds the trailing value
// of each differencing order, most recent order last.
func integrate(preds []float64, lastVals []float64) []float64 {
	for k := len(lastVals) - 1; k >= 0; k-- {
		run := lastVals[k]
		for i := range preds {
			run += preds[i]
			preds[i] = run
		}
	}
	return preds
}
