// Package field holds gridded (time, y, x) model output and the reductions
// applied to it: cosine-latitude weighted spatial means, windowed temporal
// means and baseline differencing.
package field

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/rtm0/cmip6/internal/cftime"
)

var (
	// ErrZeroWeight is returned by weighted means whose weights sum to zero,
	// either because no cells were selected or every cell is missing.
	ErrZeroWeight = errors.New("weights sum to zero")
	// ErrEmptyWindow is returned when reducing a field with no time steps.
	ErrEmptyWindow = errors.New("no time steps in window")
	// ErrDuplicateTime is returned when two time steps share a timestamp.
	ErrDuplicateTime = errors.New("duplicate timestamp")
)

// Slice is a single 2-D map on a grid. Missing cells are NaN.
type Slice struct {
	Grid Grid
	Data []float64
}

// NewSlice returns a slice of NaN cells.
func NewSlice(g Grid) Slice {
	d := make([]float64, g.Size())
	for i := range d {
		d[i] = math.NaN()
	}
	return Slice{Grid: g, Data: d}
}

// Value returns the cell at row y and column x.
func (s Slice) Value(y, x int) float64 {
	return s.Data[y*s.Grid.NX()+x]
}

// WeightedMean returns the cos(latitude) weighted mean over all non-missing
// cells.
func (s Slice) WeightedMean() (float64, error) {
	return weightedMean(s.Data, s.Grid.Weights())
}

func weightedMean(data, weights []float64) (float64, error) {
	vals := make([]float64, 0, len(data))
	ws := make([]float64, 0, len(data))
	for i, v := range data {
		if math.IsNaN(v) {
			continue
		}
		vals = append(vals, v)
		ws = append(ws, weights[i])
	}
	if len(ws) == 0 || floats.Sum(ws) == 0 {
		return math.NaN(), ErrZeroWeight
	}
	return stat.Mean(vals, ws), nil
}

// Sub returns s - base cell by cell.
func (s Slice) Sub(base Slice) (Slice, error) {
	if len(s.Data) != len(base.Data) {
		return Slice{}, errors.Wrapf(ErrGridMismatch, "%d cells != %d cells", len(s.Data), len(base.Data))
	}
	if err := s.Grid.Check(base.Grid, 0); err != nil {
		return Slice{}, err
	}
	d := make([]float64, len(s.Data))
	floats.SubTo(d, s.Data, base.Data)
	return Slice{Grid: s.Grid, Data: d}, nil
}

// Range returns the smallest and largest non-missing values. Both are NaN if
// every cell is missing.
func (s Slice) Range() (lo, hi float64) {
	lo, hi = math.NaN(), math.NaN()
	for _, v := range s.Data {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(lo) || v < lo {
			lo = v
		}
		if math.IsNaN(hi) || v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Field is a variable on a grid over a sequence of time steps. Data is laid
// out (time, y, x).
type Field struct {
	Variable string
	Units    string
	Calendar cftime.Calendar
	Times    []cftime.Date
	Grid     Grid
	Data     []float64
}

// Len returns the number of time steps.
func (f *Field) Len() int { return len(f.Times) }

// At returns time step t. The returned slice shares memory with f.
func (f *Field) At(t int) Slice {
	n := f.Grid.Size()
	return Slice{Grid: f.Grid, Data: f.Data[t*n : (t+1)*n]}
}

// Validate checks that the data length matches the time and grid sizes.
func (f *Field) Validate() error {
	if want := len(f.Times) * f.Grid.Size(); len(f.Data) != want {
		return errors.Errorf("%s: %d values, want %d (%d steps x %dx%d)",
			f.Variable, len(f.Data), want, len(f.Times), f.Grid.NY(), f.Grid.NX())
	}
	return nil
}

// WeightedMean returns the area-weighted global mean of every time step.
func (f *Field) WeightedMean() ([]float64, error) {
	w := f.Grid.Weights()
	out := make([]float64, f.Len())
	for t := range out {
		m, err := weightedMean(f.At(t).Data, w)
		if err != nil {
			return nil, errors.Wrapf(err, "%s at %v", f.Variable, f.Times[t])
		}
		out[t] = m
	}
	return out, nil
}

// Select returns the time steps inside w as a new field. The result is empty,
// not an error, when w lies outside the field's coverage.
func (f *Field) Select(w Window) *Field {
	out := f.empty()
	for t, d := range f.Times {
		if w.Contains(d) {
			out.Times = append(out.Times, d)
			out.Data = append(out.Data, f.At(t).Data...)
		}
	}
	return out
}

func (f *Field) empty() *Field {
	return &Field{Variable: f.Variable, Units: f.Units, Calendar: f.Calendar, Grid: f.Grid}
}

// TemporalMean returns the per-cell mean over all time steps, skipping
// missing values. Cells missing at every step stay missing.
func (f *Field) TemporalMean() (Slice, error) {
	if f.Len() == 0 {
		return Slice{}, ErrEmptyWindow
	}
	return meanOf(f, 0, f.Len()), nil
}

func meanOf(f *Field, begin, end int) Slice {
	n := f.Grid.Size()
	sum := make([]float64, n)
	count := make([]float64, n)
	for t := begin; t < end; t++ {
		for i, v := range f.At(t).Data {
			if math.IsNaN(v) {
				continue
			}
			sum[i] += v
			count[i]++
		}
	}
	for i := range sum {
		if count[i] == 0 {
			sum[i] = math.NaN()
		}
	}
	floats.Div(sum, count)
	return Slice{Grid: f.Grid, Data: sum}
}

// Sorted reports whether the time axis is strictly increasing.
func (f *Field) Sorted() bool {
	for i := 1; i < len(f.Times); i++ {
		if !f.Times[i-1].Before(f.Times[i]) {
			return false
		}
	}
	return true
}

// SortByTime reorders the time steps chronologically. Equal timestamps, as
// produced by overlapping granules, are an error.
func (f *Field) SortByTime() error {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return f.Times[a].Compare(f.Times[b])
	})
	for i := 1; i < len(idx); i++ {
		if f.Times[idx[i-1]].Equal(f.Times[idx[i]]) {
			return errors.Wrapf(ErrDuplicateTime, "%s at %v", f.Variable, f.Times[idx[i]])
		}
	}

	times := make([]cftime.Date, 0, len(idx))
	data := make([]float64, 0, len(f.Data))
	for _, t := range idx {
		times = append(times, f.Times[t])
		data = append(data, f.At(t).Data...)
	}
	f.Times, f.Data = times, data
	return nil
}

// Concat joins fields along time in argument order. Every field must carry
// the first field's variable, units, calendar and grid (coordinates within
// tol); the result is not sorted.
func Concat(tol float64, fields ...*Field) (*Field, error) {
	if len(fields) == 0 {
		return nil, errors.New("concat: no fields")
	}
	first := fields[0]
	out := first.empty()
	for i, f := range fields {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if i > 0 {
			if err := Compatible(first, f, tol); err != nil {
				return nil, errors.Wrapf(err, "field %d", i)
			}
		}
		out.Times = append(out.Times, f.Times...)
		out.Data = append(out.Data, f.Data...)
	}
	return out, nil
}

// Compatible returns ErrGridMismatch, with the offending property, unless f
// has ref's variable, units, calendar and grid (coordinates within tol).
func Compatible(ref, f *Field, tol float64) error {
	switch {
	case f.Variable != ref.Variable:
		return errors.Wrapf(ErrGridMismatch, "variable %q != %q", f.Variable, ref.Variable)
	case f.Units != ref.Units:
		return errors.Wrapf(ErrGridMismatch, "units %q != %q", f.Units, ref.Units)
	case f.Calendar != ref.Calendar:
		return errors.Wrapf(ErrGridMismatch, "calendar %v != %v", f.Calendar, ref.Calendar)
	}
	return ref.Grid.Check(f.Grid, tol)
}

// Resample averages consecutive blocks of the given number of calendar years.
// Blocks start at years divisible by years; each output step is stamped with
// January 1 of its block. f must be sorted.
func (f *Field) Resample(years int) (*Field, error) {
	if years < 1 {
		return nil, errors.Errorf("resample: block of %d years", years)
	}
	if !f.Sorted() {
		return nil, errors.New("resample: time axis is not sorted")
	}
	out := f.empty()
	for begin := 0; begin < f.Len(); {
		block := blockStart(f.Times[begin].Year, years)
		end := begin + 1
		for end < f.Len() && blockStart(f.Times[end].Year, years) == block {
			end++
		}
		out.Times = append(out.Times, cftime.NewDate(block, 1, 1))
		out.Data = append(out.Data, meanOf(f, begin, end).Data...)
		begin = end
	}
	return out, nil
}

func blockStart(year, years int) int {
	b := year - year%years
	if year < 0 && year%years != 0 {
		b -= years
	}
	return b
}
