// Package residuals stores historical forecast errors and resamples them to perturb
// recursive predictions into probabilistic intervals. Pools are either flat or keyed by the
// magnitude bin of the prediction that produced each residual.
package residuals

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoResiduals    = errors.New("no residuals in pool")
	ErrEmptyBin       = errors.New("no residuals stored for bin")
	ErrStepOutOfRange = errors.New("step exceeds sampled residual length")
	ErrUnfittedBinner = errors.New("binner has not been fit")
	ErrBadNumBins     = errors.New("number of bins must be at least 2")
	ErrLenMismatch    = errors.New("predictions and residuals have different lengths")
)

// Source is the tagged residual store consumed by the recursive predictor. It is either a
// flat ordered sequence with one residual per step, or a per-bin mapping where each bin holds
// one pre-sampled residual per step. Read-only during prediction.
type Source struct {
	flat   []float64
	binned map[int][]float64
}

// NewFlat wraps a flat per-step residual vector
func NewFlat(res []float64) *Source {
	return &Source{flat: res}
}

// NewBinned wraps a per-bin residual mapping where each entry holds one residual per step
func NewBinned(byBin map[int][]float64) *Source {
	return &Source{binned: byBin}
}

// Binned reports whether the source is still keyed by bin at call time
func (s *Source) Binned() bool {
	return s.binned != nil
}

// At returns the residual for the given step from a flat source
func (s *Source) At(step int) (float64, error) {
	if step < 0 || step >= len(s.flat) {
		return 0, fmt.Errorf("step %d for %d sampled residuals, %w", step, len(s.flat), ErrStepOutOfRange)
	}
	return s.flat[step], nil
}

// AtBin returns the residual for the given step from the pool belonging to the bin
func (s *Source) AtBin(bin, step int) (float64, error) {
	pool, ok := s.binned[bin]
	if !ok || len(pool) == 0 {
		return 0, fmt.Errorf("bin %d, %w", bin, ErrEmptyBin)
	}
	if step < 0 || step >= len(pool) {
		return 0, fmt.Errorf("step %d for %d sampled residuals in bin %d, %w", step, len(pool), bin, ErrStepOutOfRange)
	}
	return pool[step], nil
}

// Sampler draws residuals with replacement using an explicitly seeded generator so interval
// estimates are reproducible. A process wide generator is never used.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler seeded with the given value
func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed))}
}

// SampleFlat draws one residual per step uniformly with replacement from the pool
func (s *Sampler) SampleFlat(pool []float64, steps int) (*Source, error) {
	if len(pool) == 0 {
		return nil, ErrNoResiduals
	}
	res := make([]float64, steps)
	for i := 0; i < steps; i++ {
		res[i] = pool[s.rng.IntN(len(pool))]
	}
	return NewFlat(res), nil
}

// SampleBinned draws one residual per step from every bin's pool keeping the result keyed by
// bin. Bins are visited in ascending order so a fixed seed yields a fixed sample.
func (s *Sampler) SampleBinned(pools map[int][]float64, steps int) (*Source, error) {
	if len(pools) == 0 {
		return nil, ErrNoResiduals
	}

	bins := make([]int, 0, len(pools))
	for bin := range pools {
		bins = append(bins, bin)
	}
	sort.Ints(bins)

	byBin := make(map[int][]float64, len(pools))
	for _, bin := range bins {
		pool := pools[bin]
		if len(pool) == 0 {
			return nil, fmt.Errorf("bin %d, %w", bin, ErrEmptyBin)
		}
		res := make([]float64, steps)
		for i := 0; i < steps; i++ {
			res[i] = pool[s.rng.IntN(len(pool))]
		}
		byBin[bin] = res
	}
	return NewBinned(byBin), nil
}

const DefaultBins = 10

// Binner assigns predictions to magnitude bins using quantile edges fit once on in-sample
// predictions
type Binner struct {
	nBins int
	edges []float64
}

// NewBinner creates a quantile binner with the requested number of bins
func NewBinner(nBins int) (*Binner, error) {
	if nBins < 2 {
		return nil, fmt.Errorf("got %d, %w", nBins, ErrBadNumBins)
	}
	return &Binner{nBins: nBins}, nil
}

// Fit computes the quantile bin edges from the given values
func (b *Binner) Fit(vals []float64) error {
	if len(vals) == 0 {
		return ErrNoResiduals
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	edges := make([]float64, 0, b.nBins-1)
	for i := 1; i < b.nBins; i++ {
		p := float64(i) / float64(b.nBins)
		edges = append(edges, stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	b.edges = edges
	return nil
}

// NumBins returns the configured number of bins
func (b *Binner) NumBins() int {
	return b.nBins
}

// BinFor returns the bin index the value falls into
func (b *Binner) BinFor(v float64) (int, error) {
	if b.edges == nil {
		return 0, ErrUnfittedBinner
	}
	return sort.SearchFloat64s(b.edges, v), nil
}

// Partition groups residuals by the bin of the prediction that originated each one
func (b *Binner) Partition(preds, res []float64) (map[int][]float64, error) {
	if len(preds) != len(res) {
		return nil, fmt.Errorf("%d predictions and %d residuals, %w", len(preds), len(res), ErrLenMismatch)
	}
	byBin := make(map[int][]float64)
	for i, p := range preds {
		bin, err := b.BinFor(p)
		if err != nil {
			return nil, err
		}
		byBin[bin] = append(byBin[bin], res[i])
	}
	return byBin, nil
}

// Copy returns an independent copy of a fitted binner
func (b *Binner) Copy() *Binner {
	c := &Binner{nBins: b.nBins}
	if b.edges != nil {
		c.edges = make([]float64, len(b.edges))
		copy(c.edges, b.edges)
	}
	return c
}
