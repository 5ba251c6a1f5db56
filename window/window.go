// Package window maintains the rolling history of an autoregressive forecast and computes
// lag and rolling statistic predictors from it.
package window

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrEmptyBuffer       = errors.New("empty window buffer")
	ErrLagOutOfRange     = errors.New("lag exceeds window buffer length")
	ErrSubWindowTooLarge = errors.New("rolling sub-window exceeds window buffer length")
	ErrUnknownStat       = errors.New("unknown rolling statistic")
	ErrNoCustomFunc      = errors.New("no function set for custom rolling statistic")
	ErrBadWindowSize     = errors.New("rolling window size must be positive")
)

// Buffer is an ordered fixed-length window of the most recent target values. Each recursive
// prediction step pushes the newest value dropping the oldest. A Buffer is owned by a single
// prediction run and is never shared.
type Buffer struct {
	vals []float64
}

// NewBuffer copies the input values into a fresh buffer so the caller's slice is never mutated
func NewBuffer(vals []float64) (*Buffer, error) {
	if len(vals) == 0 {
		return nil, ErrEmptyBuffer
	}
	v := make([]float64, len(vals))
	copy(v, vals)
	return &Buffer{vals: v}, nil
}

// Len returns the fixed length of the buffer
func (b *Buffer) Len() int {
	return len(b.vals)
}

// Push appends the newest value dropping the oldest keeping the buffer length fixed
func (b *Buffer) Push(v float64) {
	copy(b.vals, b.vals[1:])
	b.vals[len(b.vals)-1] = v
}

// Lag returns the value k steps back from the newest value. Lag 1 is the most recent value.
func (b *Buffer) Lag(k int) (float64, error) {
	if k < 1 || k > len(b.vals) {
		return 0, fmt.Errorf("lag %d on buffer of length %d, %w", k, len(b.vals), ErrLagOutOfRange)
	}
	return b.vals[len(b.vals)-k], nil
}

// Tail returns a view of the m most recent values in time order
func (b *Buffer) Tail(m int) ([]float64, error) {
	if m < 1 || m > len(b.vals) {
		return nil, fmt.Errorf("sub-window %d on buffer of length %d, %w", m, len(b.vals), ErrSubWindowTooLarge)
	}
	return b.vals[len(b.vals)-m:], nil
}

// Values returns a copy of the full buffer in time order
func (b *Buffer) Values() []float64 {
	v := make([]float64, len(b.vals))
	copy(v, b.vals)
	return v
}

// Stat identifies a rolling statistic computed over a trailing sub-window
type Stat string

const (
	StatMean   Stat = "mean"
	StatMedian Stat = "median"
	StatMin    Stat = "min"
	StatMax    Stat = "max"
	StatSum    Stat = "sum"
	StatCustom Stat = "custom"
)

// RollingFeature computes one statistic over its own trailing sub-window of the buffer and is
// used as an additional predictor next to the lag values
type RollingFeature struct {
	Stat       Stat
	WindowSize int

	// Fn is only consulted when Stat is StatCustom
	Fn func([]float64) float64
}

// Validate runs basic validation on the rolling feature configuration
func (r RollingFeature) Validate() error {
	if r.WindowSize < 1 {
		return fmt.Errorf("got window size %d, %w", r.WindowSize, ErrBadWindowSize)
	}
	switch r.Stat {
	case StatMean, StatMedian, StatMin, StatMax, StatSum:
		return nil
	case StatCustom:
		if r.Fn == nil {
			return ErrNoCustomFunc
		}
		return nil
	default:
		return fmt.Errorf("got %q, %w", r.Stat, ErrUnknownStat)
	}
}

// Apply computes the configured statistic over the feature's trailing sub-window of the buffer
func (r RollingFeature) Apply(b *Buffer) (float64, error) {
	w, err := b.Tail(r.WindowSize)
	if err != nil {
		return 0, err
	}

	switch r.Stat {
	case StatMean:
		return stat.Mean(w, nil), nil
	case StatMedian:
		return median(w), nil
	case StatMin:
		return floats.Min(w), nil
	case StatMax:
		return floats.Max(w), nil
	case StatSum:
		return floats.Sum(w), nil
	case StatCustom:
		if r.Fn == nil {
			return 0, ErrNoCustomFunc
		}
		return r.Fn(w), nil
	default:
		return 0, fmt.Errorf("got %q, %w", r.Stat, ErrUnknownStat)
	}
}

// Label returns the predictor name of this rolling feature, e.g. roll_mean_4
func (r RollingFeature) Label() string {
	return fmt.Sprintf("roll_%s_%d", r.Stat, r.WindowSize)
}

func median(w []float64) float64 {
	s := make([]float64, len(w))
	copy(s, w)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2.0
}

// MaxWindowSize returns the largest sub-window length of the provided rolling features
func MaxWindowSize(feats []RollingFeature) int {
	var m int
	for _, f := range feats {
		if f.WindowSize > m {
			m = f.WindowSize
		}
	}
	return m
}
