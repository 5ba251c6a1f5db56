package backtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userbox020/skforecast/metrics"
	"github.com/userbox020/skforecast/split"
	"gonum.org/v1/gonum/mat"
)

var errNoHistory = errors.New("no history to forecast from")

// naiveForecaster repeats the most recently observed value. Its state is the observed
// history, extended by Append, which makes every stat backtest output computable by hand.
type naiveForecaster struct {
	hist []float64
}

func (n *naiveForecaster) Fit(y []float64, exog mat.Matrix) error {
	if len(y) == 0 {
		return errNoHistory
	}
	n.hist = append([]float64(nil), y...)
	return nil
}

func (n *naiveForecaster) Append(y []float64, exog mat.Matrix) error {
	n.hist = append(n.hist, y...)
	return nil
}

func (n *naiveForecaster) Predict(steps int, exog mat.Matrix) ([]float64, error) {
	if len(n.hist) == 0 {
		return nil, errNoHistory
	}
	last := n.hist[len(n.hist)-1]
	out := make([]float64, steps)
	for i := range out {
		out[i] = last
	}
	return out, nil
}

func (n *naiveForecaster) PredictInterval(steps int, exog mat.Matrix, alpha float64) ([]float64, []float64, []float64, error) {
	pred, err := n.Predict(steps, exog)
	if err != nil {
		return nil, nil, nil, err
	}
	lower := make([]float64, steps)
	upper := make([]float64, steps)
	for i := range pred {
		lower[i] = pred[i] - 1
		upper[i] = pred[i] + 1
	}
	return pred, lower, upper, nil
}

func (n *naiveForecaster) Clone() StatForecaster {
	return &naiveForecaster{hist: append([]float64(nil), n.hist...)}
}

func TestBacktestingStatNaive(t *testing.T) {
	// each fold repeats the value right before its test range, so the errors against the
	// ramp are exactly 1, 2, 3 per fold
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 38)

	summary, preds, err := BacktestingStat(f, arange(50), cv, nil)
	require.Nil(t, err)

	expected := []float64{37, 37, 37, 40, 40, 40, 43, 43, 43, 46, 46, 46}
	assert.Equal(t, expected, preds.Pred)
	require.Len(t, preds.Index, 12)
	assert.Equal(t, 38, preds.Index[0])
	assert.Equal(t, 49, preds.Index[11])

	require.Len(t, summary.Metrics, 1)
	assert.InDelta(t, 14.0/3.0, summary.Metrics[0].Value, 1e-10)
}

func TestBacktestingStatRefitEveryFold(t *testing.T) {
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 38)
	cv.Refit = 1

	_, preds, err := BacktestingStat(f, arange(50), cv, nil)
	require.Nil(t, err)
	assert.Equal(t, []float64{37, 37, 37, 40, 40, 40, 43, 43, 43, 46, 46, 46}, preds.Pred)
}

func TestBacktestingStatIntermittentRefit(t *testing.T) {
	// appended state between refits must line up with what a full refit would observe
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 38)
	cv.Refit = 2

	_, preds, err := BacktestingStat(f, arange(50), cv, &StatOptions{
		Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
		NJobs:   4,
	})
	require.Nil(t, err)
	assert.Equal(t, []float64{37, 37, 37, 40, 40, 40, 43, 43, 43, 46, 46, 46}, preds.Pred)
}

func TestBacktestingStatInterval(t *testing.T) {
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 38)

	_, preds, err := BacktestingStat(f, arange(50), cv, &StatOptions{
		Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
		Alpha:   0.05,
	})
	require.Nil(t, err)
	require.Len(t, preds.Lower, len(preds.Pred))
	for i := range preds.Pred {
		assert.InDelta(t, preds.Pred[i]-1, preds.Lower[i], 1e-10)
		assert.InDelta(t, preds.Pred[i]+1, preds.Upper[i], 1e-10)
	}
}

func TestBacktestingStatGap(t *testing.T) {
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 30)
	cv.Gap = 2

	_, preds, err := BacktestingStat(f, arange(44), cv, nil)
	require.Nil(t, err)
	require.NotEmpty(t, preds.Index)
	assert.Equal(t, 32, preds.Index[0])
	assert.Equal(t, 29.0, preds.Pred[0])
}

func TestBacktestingStatSerialMatchesParallel(t *testing.T) {
	run := func(njobs int) *Predictions {
		cv := split.NewTimeSeriesFold(4, 40)
		_, preds, err := BacktestingStat(&naiveForecaster{}, arange(60), cv, &StatOptions{
			Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
			NJobs:   njobs,
		})
		require.Nil(t, err)
		return preds
	}

	serial := run(1)
	parallel := run(4)
	assert.Equal(t, serial.Index, parallel.Index)
	assert.Equal(t, serial.Pred, parallel.Pred)
}

func TestBacktestingStatNeverMutatesInput(t *testing.T) {
	f := &naiveForecaster{}
	cv := split.NewTimeSeriesFold(3, 38)

	_, _, err := BacktestingStat(f, arange(50), cv, nil)
	require.Nil(t, err)
	// all fitting happened on clones
	assert.Nil(t, f.hist)
}

func TestBacktestingStatValidation(t *testing.T) {
	f := &naiveForecaster{}
	y := arange(50)
	cv := split.NewTimeSeriesFold(3, 38)

	testData := map[string]struct {
		f        StatForecaster
		y        []float64
		cv       *split.TimeSeriesFold
		opt      *StatOptions
		expected error
	}{
		"no forecaster":  {nil, y, cv, nil, ErrNoForecaster},
		"no series":      {f, nil, cv, nil, ErrNoSeries},
		"no fold policy": {f, y, nil, nil, ErrNoFoldPolicy},
		"no metrics":     {f, y, cv, &StatOptions{}, ErrNoMetrics},
		"bad alpha": {
			f, y, cv,
			&StatOptions{
				Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
				Alpha:   1.5,
			},
			ErrBadAlpha,
		},
		"exog row mismatch": {
			f, y, cv,
			&StatOptions{
				Metrics: []metrics.Metric{{Name: "mean_squared_error", Fn: metrics.MeanSquaredError}},
				Exog:    mat.NewDense(10, 1, nil),
			},
			ErrExogRowMismatch,
		},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			_, _, err := BacktestingStat(td.f, td.y, td.cv, td.opt)
			assert.ErrorIs(t, err, td.expected)
		})
	}
}
