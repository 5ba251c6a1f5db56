// Package exog derives exogenous indicator columns from timestamps so calendar effects can
// be fed to a forecaster next to the autoregressive predictors.
package exog

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoColumns      = errors.New("no columns to bind")
	ErrColLenMismatch = errors.New("columns have different lengths")
)

// Weekend returns a 0/1 column marking Saturdays and Sundays
func Weekend(ts []time.Time) []float64 {
	col := make([]float64, len(ts))
	for i, t := range ts {
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			col[i] = 1.0
		}
	}
	return col
}

// Holiday returns a 0/1 column marking the observed day of the holiday in each timestamp's
// year
func Holiday(hol *cal.Holiday, ts []time.Time) []float64 {
	col := make([]float64, len(ts))
	for i, t := range ts {
		_, observed := hol.Calc(t.Year())
		if sameDay(t, observed) {
			col[i] = 1.0
		}
	}
	return col
}

// DayOfWeek returns a column of weekday ordinals with Sunday as 0
func DayOfWeek(ts []time.Time) []float64 {
	col := make([]float64, len(ts))
	for i, t := range ts {
		col[i] = float64(t.Weekday())
	}
	return col
}

// HourOfDay returns a column of hour ordinals in the timestamp's location
func HourOfDay(ts []time.Time) []float64 {
	col := make([]float64, len(ts))
	for i, t := range ts {
		col[i] = float64(t.Hour())
	}
	return col
}

// Bind concatenates equal length columns into the row-major matrix expected by forecaster
// fit and predict calls
func Bind(cols ...[]float64) (*mat.Dense, error) {
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}
	n := len(cols[0])
	for i, col := range cols {
		if len(col) != n {
			return nil, fmt.Errorf("column 0 has %d rows and column %d has %d, %w", n, i, len(col), ErrColLenMismatch)
		}
	}

	m := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		for i, v := range col {
			m.Set(i, j, v)
		}
	}
	return m, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
