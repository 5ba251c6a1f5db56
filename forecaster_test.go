package skforecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/userbox020/skforecast/models"
	"github.com/userbox020/skforecast/residuals"
	"github.com/userbox020/skforecast/window"
	"gonum.org/v1/gonum/mat"
)

// fixedRegressor predicts with preset coefficients regardless of what it was fit on. Lets
// tests pin exact recursive outputs without depending on a particular solver.
type fixedRegressor struct {
	intercept float64
	coef      []float64
}

func (f *fixedRegressor) Fit(x, y mat.Matrix) error {
	return nil
}

func (f *fixedRegressor) Predict(x mat.Matrix) ([]float64, error) {
	rows, cols := x.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		v := f.intercept
		for j := 0; j < cols; j++ {
			v += f.coef[j] * x.At(i, j)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedRegressor) Clone() Regressor {
	coef := make([]float64, len(f.coef))
	copy(coef, f.coef)
	return &fixedRegressor{intercept: f.intercept, coef: coef}
}

func arange(n int) []float64 {
	y := make([]float64, n)
	for i := range y {
		y[i] = float64(i)
	}
	return y
}

// rampForecaster is fit on 0..49 with three lags. The fixed coefficients are the minimum
// norm least squares solution for that series, so the forecast continues the ramp exactly.
func rampForecaster(t *testing.T) *Forecaster {
	reg := &fixedRegressor{intercept: 2, coef: []float64{1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0}}
	f, err := New(reg, &Options{Lags: []int{1, 2, 3}})
	require.Nil(t, err)
	require.Nil(t, f.Fit(arange(50), nil))
	return f
}

func TestPredictRamp(t *testing.T) {
	f := rampForecaster(t)
	preds, err := f.Predict(5, nil, nil)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{50, 51, 52, 53, 54}, preds, 1e-8)

	// repeated predictions from stored state must not drift
	preds, err = f.Predict(5, nil, nil)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{50, 51, 52, 53, 54}, preds, 1e-8)
}

func TestPredictZeroSteps(t *testing.T) {
	f := rampForecaster(t)
	preds, err := f.Predict(0, nil, nil)
	require.Nil(t, err)
	assert.Len(t, preds, 0)
}

func TestPredictExplicitLastWindow(t *testing.T) {
	f := rampForecaster(t)

	// longer windows use only the trailing values
	preds, err := f.Predict(2, []float64{0, 0, 47, 48, 49}, nil)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{50, 51}, preds, 1e-8)

	_, err = f.Predict(2, []float64{48, 49}, nil)
	assert.ErrorIs(t, err, ErrShortLastWindow)
}

func TestRecursivePredictWithResiduals(t *testing.T) {
	f := rampForecaster(t)
	win, _, err := f.predictInputs(nil)
	require.Nil(t, err)

	testData := map[string]struct {
		residuals []float64
		expected  []float64
	}{
		"all zero": {
			residuals: []float64{0, 0, 0, 0, 0},
			expected:  []float64{50, 51, 52, 53, 54},
		},
		"last step only": {
			residuals: []float64{0, 0, 0, 0, 100},
			expected:  []float64{50, 51, 52, 53, 154},
		},
		"every step feeds back": {
			residuals: []float64{10, 20, 30, 40, 50},
			expected:  []float64{60, 74.333333, 93.111111, 117.814815, 147.08642},
		},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			preds, err := f.recursivePredict(5, win, nil, residuals.NewFlat(td.residuals), false)
			require.Nil(t, err)
			assert.InDeltaSlice(t, td.expected, preds, 1e-5)
		})
	}
}

func TestRecursivePredictBinnedResiduals(t *testing.T) {
	reg := &fixedRegressor{intercept: 1, coef: []float64{1}}
	f, err := New(reg, &Options{Lags: []int{1}})
	require.Nil(t, err)
	require.Nil(t, f.Fit(arange(50), nil))

	win, _, err := f.predictInputs(nil)
	require.Nil(t, err)

	// every raw prediction exceeds the in-sample fitted values, so each step resolves to the
	// top bin and draws its residual there
	src := residuals.NewBinned(map[int][]float64{
		0: {-100, -100, -100},
		9: {5, 5, 5},
	})
	preds, err := f.recursivePredict(3, win, nil, src, true)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{55, 61, 67}, preds, 1e-8)
}

func TestPredictWithExog(t *testing.T) {
	reg := &fixedRegressor{intercept: 0, coef: []float64{1, 2}}
	f, err := New(reg, &Options{Lags: []int{1}})
	require.Nil(t, err)

	y := arange(10)
	exog := mat.NewDense(10, 1, []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	require.Nil(t, f.Fit(y, exog))

	futureExog := mat.NewDense(3, 1, []float64{1, 2, 3})
	preds, err := f.Predict(3, nil, futureExog)
	require.Nil(t, err)
	// p1 = 9 + 2*1, p2 = p1 + 2*2, p3 = p2 + 2*3
	assert.InDeltaSlice(t, []float64{11, 15, 21}, preds, 1e-8)
}

func TestPredictExogValidation(t *testing.T) {
	y := arange(20)
	exog := mat.NewDense(20, 2, nil)

	noExog, err := New(&fixedRegressor{coef: []float64{1}}, &Options{Lags: []int{1}})
	require.Nil(t, err)
	require.Nil(t, noExog.Fit(y, nil))

	withExog, err := New(&fixedRegressor{coef: []float64{1, 0, 0}}, &Options{Lags: []int{1}})
	require.Nil(t, err)
	require.Nil(t, withExog.Fit(y, exog))

	testData := map[string]struct {
		f        *Forecaster
		exog     mat.Matrix
		expected error
	}{
		"exog without fit exog": {noExog, mat.NewDense(3, 2, nil), ErrUnexpectedExog},
		"missing exog":          {withExog, nil, ErrMissingExog},
		"row count mismatch":    {withExog, mat.NewDense(2, 2, nil), ErrExogRowMismatch},
		"column count mismatch": {withExog, mat.NewDense(3, 1, nil), ErrExogColMismatch},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			_, err := td.f.Predict(3, nil, td.exog)
			assert.ErrorIs(t, err, td.expected)
		})
	}
}

func TestPredictWindowFeatures(t *testing.T) {
	reg := &fixedRegressor{intercept: 0, coef: []float64{0, 1}}
	opt := &Options{
		Lags: []int{1},
		WindowFeatures: []window.RollingFeature{
			{Stat: window.StatMean, WindowSize: 3},
		},
	}
	f, err := New(reg, opt)
	require.Nil(t, err)
	assert.Equal(t, 3, f.WindowSize())

	require.Nil(t, f.Fit([]float64{1, 2, 3, 4, 5, 6}, nil))
	preds, err := f.Predict(2, nil, nil)
	require.Nil(t, err)
	// p1 = mean(4,5,6), p2 = mean(5,6,p1)
	assert.InDeltaSlice(t, []float64{5, 16.0 / 3.0}, preds, 1e-8)
}

func TestPredictDifferentiation(t *testing.T) {
	reg := &fixedRegressor{intercept: 0, coef: []float64{1}}
	f, err := New(reg, &Options{Lags: []int{1}, Differentiation: 1})
	require.Nil(t, err)
	assert.Equal(t, 2, f.WindowSize())

	require.Nil(t, f.Fit(arange(20), nil))
	preds, err := f.Predict(3, nil, nil)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{20, 21, 22}, preds, 1e-8)
}

func TestFitWithOLS(t *testing.T) {
	// y follows y_t = 2 + 0.5*y_{t-1} exactly, so OLS recovers the recursion and the
	// forecast continues it
	y := make([]float64, 12)
	for i := 1; i < len(y); i++ {
		y[i] = 2 + 0.5*y[i-1]
	}

	model, err := models.NewOLSRegression(models.NewDefaultOLSOptions())
	require.Nil(t, err)
	f, err := New(model, &Options{Lags: []int{1}})
	require.Nil(t, err)
	require.Nil(t, f.Fit(y, nil))

	preds, err := f.Predict(2, nil, nil)
	require.Nil(t, err)
	p1 := 2 + 0.5*y[len(y)-1]
	assert.InDeltaSlice(t, []float64{p1, 2 + 0.5*p1}, preds, 1e-6)

	for _, r := range f.Residuals() {
		assert.InDelta(t, 0.0, r, 1e-8)
	}
}

func TestFitValidation(t *testing.T) {
	f, err := New(&fixedRegressor{coef: []float64{1, 1, 1}}, &Options{Lags: []int{1, 2, 3}})
	require.Nil(t, err)

	assert.ErrorIs(t, f.Fit([]float64{1, 2, 3}, nil), ErrInsufficientTrainingData)
	assert.ErrorIs(t, f.Fit(arange(20), mat.NewDense(19, 1, nil)), ErrExogRowMismatch)

	_, err = f.Predict(3, nil, nil)
	assert.ErrorIs(t, err, ErrUntrainedForecaster)
}

func TestPredictNegativeSteps(t *testing.T) {
	f := rampForecaster(t)
	_, err := f.Predict(-1, nil, nil)
	assert.ErrorIs(t, err, ErrNegativeSteps)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNoRegressor)

	_, err = New(&fixedRegressor{coef: []float64{1}}, &Options{Lags: []int{0}})
	assert.ErrorIs(t, err, ErrBadLag)
}

func TestCopy(t *testing.T) {
	f := rampForecaster(t)
	cp, err := f.Copy()
	require.Nil(t, err)

	// the copy starts untrained
	_, err = cp.Predict(3, nil, nil)
	assert.ErrorIs(t, err, ErrUntrainedForecaster)

	require.Nil(t, cp.Fit(arange(50), nil))
	preds, err := cp.Predict(5, nil, nil)
	require.Nil(t, err)
	assert.InDeltaSlice(t, []float64{50, 51, 52, 53, 54}, preds, 1e-8)
}

func TestCopyModelClone(t *testing.T) {
	model, err := models.NewOLSRegression(nil)
	require.Nil(t, err)
	f, err := New(model, nil)
	require.Nil(t, err)

	cp, err := f.Copy()
	require.Nil(t, err)
	_, ok := cp.Regressor().(*models.OLSRegression)
	assert.True(t, ok)
}

type opaqueRegressor struct{}

func (o *opaqueRegressor) Fit(x, y mat.Matrix) error               { return nil }
func (o *opaqueRegressor) Predict(x mat.Matrix) ([]float64, error) { return nil, nil }

func TestCopyNotCloneable(t *testing.T) {
	f, err := New(&opaqueRegressor{}, nil)
	require.Nil(t, err)
	_, err = f.Copy()
	assert.ErrorIs(t, err, ErrRegressorNotCloneable)
}

func TestSetOutSampleResiduals(t *testing.T) {
	f := rampForecaster(t)

	err := f.SetOutSampleResiduals([]float64{50, 52}, []float64{50, 51, 52})
	assert.ErrorIs(t, err, residuals.ErrLenMismatch)

	require.Nil(t, f.SetOutSampleResiduals([]float64{51, 53, 52}, []float64{50, 51, 52}))
	assert.Equal(t, []float64{1, 2, 0}, f.outSampleResiduals)

	untrained, err := New(&fixedRegressor{coef: []float64{1}}, nil)
	require.Nil(t, err)
	err = untrained.SetOutSampleResiduals([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, ErrUntrainedForecaster)
}

func TestFeatureNames(t *testing.T) {
	reg := &fixedRegressor{intercept: 0, coef: []float64{1, 0, 0, 0}}
	opt := &Options{
		Lags: []int{3, 1},
		WindowFeatures: []window.RollingFeature{
			{Stat: window.StatMean, WindowSize: 4},
		},
	}
	f, err := New(reg, opt)
	require.Nil(t, err)
	assert.Equal(t, []string{"lag_1", "lag_3", "roll_mean_4"}, f.FeatureNames())

	// exogenous columns appear once fit has seen them
	require.Nil(t, f.Fit(arange(20), mat.NewDense(20, 1, nil)))
	assert.Equal(t, []string{"lag_1", "lag_3", "roll_mean_4", "exog_0"}, f.FeatureNames())
}

func TestLastWindow(t *testing.T) {
	f := rampForecaster(t)
	lw := f.LastWindow()
	assert.Equal(t, []float64{47, 48, 49}, lw)

	// mutating the returned slice must not affect stored state
	lw[0] = -1
	assert.Equal(t, []float64{47, 48, 49}, f.LastWindow())
}
