package skforecast

import (
	"errors"
	"fmt"
	"sort"

	"github.com/userbox020/skforecast/residuals"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrBadInterval = errors.New("interval percentiles must satisfy 0 <= lower < upper <= 100")
	ErrBadNumBoot  = errors.New("number of bootstrap iterations must be positive")
)

// IntervalOptions configures bootstrap interval predictions
type IntervalOptions struct {
	// Interval holds the lower and upper percentiles of the bootstrap distribution
	Interval [2]float64

	// NBoot is the number of bootstrapped prediction runs
	NBoot int

	// RandomState seeds the residual sampler so repeated calls return identical intervals
	RandomState uint64

	// UseInSampleResiduals selects the training residual pools. When false the pools stored
	// with SetOutSampleResiduals are used instead.
	UseInSampleResiduals bool

	// UseBinnedResiduals conditions sampled residuals on the magnitude bin of each step's
	// own prediction
	UseBinnedResiduals bool
}

// NewDefaultIntervalOptions returns a default set of interval options
func NewDefaultIntervalOptions() *IntervalOptions {
	return &IntervalOptions{
		Interval:             [2]float64{2.5, 97.5},
		NBoot:                250,
		RandomState:          123,
		UseInSampleResiduals: true,
	}
}

// Validate runs basic validation on interval options
func (o *IntervalOptions) Validate() (*IntervalOptions, error) {
	if o == nil {
		o = NewDefaultIntervalOptions()
	}
	if o.Interval[0] < 0 || o.Interval[1] > 100 || o.Interval[0] >= o.Interval[1] {
		return nil, fmt.Errorf("got [%g, %g], %w", o.Interval[0], o.Interval[1], ErrBadInterval)
	}
	if o.NBoot < 1 {
		return nil, fmt.Errorf("got %d, %w", o.NBoot, ErrBadNumBoot)
	}
	return o, nil
}

// PredictInterval generates a point forecast along with lower and upper bounds estimated by
// re-running the recursive prediction NBoot times with residuals sampled into each run. The
// bounds at each step are percentiles of the bootstrap distribution at that step. The point
// forecast itself is never perturbed.
func (f *Forecaster) PredictInterval(steps int, lastWindow []float64, exog mat.Matrix, opt *IntervalOptions) (*Results, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	win, lastVals, err := f.predictInputs(lastWindow)
	if err != nil {
		return nil, err
	}

	point, err := f.recursivePredict(steps, win, exog, nil, false)
	if err != nil {
		return nil, err
	}
	point = integrate(point, lastVals)
	if steps == 0 {
		return &Results{Pred: point, Lower: []float64{}, Upper: []float64{}}, nil
	}

	flat, byBin, err := f.residualPools(opt)
	if err != nil {
		return nil, err
	}

	sampler := residuals.NewSampler(opt.RandomState)
	boots := make([][]float64, opt.NBoot)
	for b := 0; b < opt.NBoot; b++ {
		var src *residuals.Source
		if opt.UseBinnedResiduals {
			src, err = sampler.SampleBinned(byBin, steps)
		} else {
			src, err = sampler.SampleFlat(flat, steps)
		}
		if err != nil {
			return nil, err
		}

		run, err := f.recursivePredict(steps, win, exog, src, opt.UseBinnedResiduals)
		if err != nil {
			return nil, err
		}
		boots[b] = integrate(run, lastVals)
	}

	lower := make([]float64, steps)
	upper := make([]float64, steps)
	col := make([]float64, opt.NBoot)
	for i := 0; i < steps; i++ {
		for b := range boots {
			col[b] = boots[b][i]
		}
		sort.Float64s(col)
		lower[i] = stat.Quantile(opt.Interval[0]/100.0, stat.Empirical, col, nil)
		upper[i] = stat.Quantile(opt.Interval[1]/100.0, stat.Empirical, col, nil)
	}

	return &Results{Pred: point, Lower: lower, Upper: upper}, nil
}

func (f *Forecaster) residualPools(opt *IntervalOptions) ([]float64, map[int][]float64, error) {
	flat := f.inSampleResiduals
	byBin := f.inSampleResidualsByBin
	if !opt.UseInSampleResiduals {
		flat = f.outSampleResiduals
		byBin = f.outSampleResidualsByBin
	}
	if opt.UseBinnedResiduals {
		if len(byBin) == 0 {
			return nil, nil, ErrNoResidualPool
		}
		return nil, byBin, nil
	}
	if len(flat) == 0 {
		return nil, nil, ErrNoResidualPool
	}
	return flat, nil, nil
}
