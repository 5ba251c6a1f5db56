package skforecast

import (
	"errors"
	"fmt"
	"sort"

	"github.com/userbox020/skforecast/residuals"
	"github.com/userbox020/skforecast/window"
)

var (
	ErrNoLags       = errors.New("no lags configured")
	ErrBadLag       = errors.New("lags must be positive")
	ErrDuplicateLag = errors.New("duplicate lag")
	ErrBadDiffOrder = errors.New("differentiation order must be non-negative")
)

// Options configures an autoregressive forecaster. Lags are offsets from the window's tail,
// so lag 1 is the most recent observation. WindowFeatures add rolling statistics over
// trailing sub-windows of the same history.
type Options struct {
	Lags            []int
	WindowFeatures  []window.RollingFeature
	Differentiation int

	// ResidualBins is the number of quantile bins used to condition residual pools on
	// prediction magnitude
	ResidualBins int
}

// NewDefaultOptions returns a default set of forecaster options
func NewDefaultOptions() *Options {
	return &Options{
		Lags:         []int{1, 2, 3},
		ResidualBins: residuals.DefaultBins,
	}
}

// Validate runs basic validation on forecaster options
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		o = NewDefaultOptions()
	}
	if len(o.Lags) == 0 {
		return nil, ErrNoLags
	}

	seen := make(map[int]struct{}, len(o.Lags))
	for _, lag := range o.Lags {
		if lag < 1 {
			return nil, fmt.Errorf("got lag %d, %w", lag, ErrBadLag)
		}
		if _, exists := seen[lag]; exists {
			return nil, fmt.Errorf("got lag %d, %w", lag, ErrDuplicateLag)
		}
		seen[lag] = struct{}{}
	}

	lags := make([]int, len(o.Lags))
	copy(lags, o.Lags)
	sort.Ints(lags)
	o.Lags = lags

	for _, wf := range o.WindowFeatures {
		if err := wf.Validate(); err != nil {
			return nil, err
		}
	}

	if o.Differentiation < 0 {
		return nil, fmt.Errorf("got %d, %w", o.Differentiation, ErrBadDiffOrder)
	}
	if o.ResidualBins == 0 {
		o.ResidualBins = residuals.DefaultBins
	}
	return o, nil
}

// baseWindowSize is the history length required to compute one feature row, the larger of
// the max lag and the max rolling sub-window
func (o *Options) baseWindowSize() int {
	m := o.Lags[len(o.Lags)-1]
	if wm := window.MaxWindowSize(o.WindowFeatures); wm > m {
		m = wm
	}
	return m
}

// copy returns an independent copy of the options
func (o *Options) copy() *Options {
	c := &Options{
		Differentiation: o.Differentiation,
		ResidualBins:    o.ResidualBins,
	}
	c.Lags = make([]int, len(o.Lags))
	copy(c.Lags, o.Lags)
	if o.WindowFeatures != nil {
		c.WindowFeatures = make([]window.RollingFeature, len(o.WindowFeatures))
		copy(c.WindowFeatures, o.WindowFeatures)
	}
	return c
}
