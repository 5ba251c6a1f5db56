// Package split partitions a single time series into ordered train/validation folds for
// backtesting. All ranges are half-open integer index ranges over the series.
package split

import (
	"errors"
	"fmt"
)

var (
	ErrBadSteps            = errors.New("steps must be positive")
	ErrNegativeGap         = errors.New("gap must be non-negative")
	ErrNegativeRefit       = errors.New("refit must be non-negative")
	ErrBadInitialTrainSize = errors.New("initial train size must exceed the window size")
	ErrSeriesTooShort      = errors.New("series too short to produce a single fold")
)

// Fold describes one evaluation window. TrainStart/TrainEnd is the training range when the
// fold refits, LastWindowStart/LastWindowEnd the window priming range used when it does not,
// TestStart/TestEnd the full prediction range including gap steps, and
// TestNoGapStart/TestNoGapEnd the range kept after trimming the gap.
type Fold struct {
	TrainStart      int
	TrainEnd        int
	LastWindowStart int
	LastWindowEnd   int
	TestStart       int
	TestEnd         int
	TestNoGapStart  int
	TestNoGapEnd    int

	// Refit marks the fold as requiring a fresh fit on its training range
	Refit bool
}

// TimeSeriesFold generates an ordered fold plan for a series. Refit values: 0 never refits
// after the initial fit, 1 refits every fold, k > 1 refits every k folds (intermittent).
type TimeSeriesFold struct {
	Steps            int
	InitialTrainSize int
	Refit            int
	FixedTrainSize   bool
	Gap              int
	AllowIncomplete  bool

	// WindowSize is the number of observations needed to prime the forecaster's predictors.
	// The orchestrator overwrites it with the forecaster's requirement before splitting.
	WindowSize int
}

// NewTimeSeriesFold returns a fold policy with the required steps and initial training size
func NewTimeSeriesFold(steps, initialTrainSize int) *TimeSeriesFold {
	return &TimeSeriesFold{
		Steps:            steps,
		InitialTrainSize: initialTrainSize,
		AllowIncomplete:  true,
	}
}

// Validate runs basic validation on the fold policy
func (cv *TimeSeriesFold) Validate() error {
	if cv.Steps < 1 {
		return fmt.Errorf("got %d, %w", cv.Steps, ErrBadSteps)
	}
	if cv.Gap < 0 {
		return fmt.Errorf("got %d, %w", cv.Gap, ErrNegativeGap)
	}
	if cv.Refit < 0 {
		return fmt.Errorf("got %d, %w", cv.Refit, ErrNegativeRefit)
	}
	if cv.InitialTrainSize <= cv.WindowSize {
		return fmt.Errorf("initial train size %d with window size %d, %w",
			cv.InitialTrainSize, cv.WindowSize, ErrBadInitialTrainSize)
	}
	return nil
}

// Split produces the ordered fold plan for a series of length n. Fold test ranges advance by
// Steps so post-trim ranges never overlap. The first fold is always marked for fitting; the
// orchestrator clears it after its eager initial fit.
func (cv *TimeSeriesFold) Split(n int) ([]Fold, error) {
	if err := cv.Validate(); err != nil {
		return nil, err
	}
	if cv.InitialTrainSize+cv.Gap >= n {
		return nil, fmt.Errorf("initial train size %d and gap %d with %d samples, %w",
			cv.InitialTrainSize, cv.Gap, n, ErrSeriesTooShort)
	}

	var folds []Fold
	for i := 0; ; i++ {
		trainEnd := cv.InitialTrainSize + i*cv.Steps
		trainStart := 0
		if cv.FixedTrainSize {
			trainStart = i * cv.Steps
		}

		testStart := trainEnd
		testEnd := trainEnd + cv.Gap + cv.Steps
		testNoGapStart := trainEnd + cv.Gap
		if testNoGapStart >= n {
			break
		}
		if testEnd > n {
			if !cv.AllowIncomplete {
				break
			}
			testEnd = n
		}

		refit := i == 0
		if i > 0 && cv.Refit > 0 {
			refit = i%cv.Refit == 0
		}

		folds = append(folds, Fold{
			TrainStart:      trainStart,
			TrainEnd:        trainEnd,
			LastWindowStart: trainEnd - cv.WindowSize,
			LastWindowEnd:   trainEnd,
			TestStart:       testStart,
			TestEnd:         testEnd,
			TestNoGapStart:  testNoGapStart,
			TestNoGapEnd:    testEnd,
			Refit:           refit,
		})
	}
	if len(folds) == 0 {
		return nil, ErrSeriesTooShort
	}
	return folds, nil
}

// NumRefits counts the folds marked for fitting, including the initial fit
func NumRefits(folds []Fold) int {
	var n int
	for _, fold := range folds {
		if fold.Refit {
			n++
		}
	}
	return n
}
