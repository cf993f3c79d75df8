// Package anomaly computes decade means of a field and their differences from
// a baseline decade.
package anomaly

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/rtm0/cmip6/internal/field"
)

// Decade is the outcome for one window.
type Decade struct {
	Window  field.Window
	Steps   int
	Mean    field.Slice
	Anomaly field.Slice
	// GlobalAnomaly is the area-weighted mean of Anomaly.
	GlobalAnomaly float64
}

// Result holds the baseline and every processed decade.
type Result struct {
	BaselineWindow field.Window
	Baseline       field.Slice
	// BaselineGlobal is the area-weighted mean of Baseline.
	BaselineGlobal float64
	Decades        []Decade
	// Skipped lists windows with no time steps or with every cell missing.
	Skipped []field.Window
}

// FirstAvailable returns the first window holding at least one time step.
func FirstAvailable(f *field.Field, windows []field.Window) (field.Window, bool) {
	for _, w := range windows {
		for _, d := range f.Times {
			if w.Contains(d) {
				return w, true
			}
		}
	}
	return field.Window{}, false
}

// Baseline returns the temporal mean of f over w.
func Baseline(f *field.Field, w field.Window) (field.Slice, error) {
	m, err := f.Select(w).TemporalMean()
	if err != nil {
		return field.Slice{}, errors.Wrapf(err, "baseline %v of %s", w, f.Variable)
	}
	return m, nil
}

// Process computes the baseline mean once and, for every decade, the decade
// mean and its anomaly. Decades without data are logged and skipped. An
// unsorted time axis is processed in sorted order; f itself is not modified.
func Process(logger *slog.Logger, f *field.Field, baseline field.Window, decades []field.Window) (*Result, error) {
	if !f.Sorted() {
		logger.Warn("time axis not monotonic, sorting", "variable", f.Variable)
		var err error
		if f, err = sorted(f); err != nil {
			return nil, err
		}
	}

	base, err := Baseline(f, baseline)
	if err != nil {
		return nil, err
	}
	res := &Result{BaselineWindow: baseline, Baseline: base}
	if res.BaselineGlobal, err = base.WeightedMean(); err != nil {
		return nil, errors.Wrapf(err, "baseline %v of %s", baseline, f.Variable)
	}
	logger.Info("baseline", "variable", f.Variable, "window", baseline.String(), "globalMean", res.BaselineGlobal, "units", f.Units)

	for _, w := range decades {
		sel := f.Select(w)
		if sel.Len() == 0 {
			logger.Warn("no data in window, skipping", "variable", f.Variable, "window", w.String())
			res.Skipped = append(res.Skipped, w)
			continue
		}
		mean, err := sel.TemporalMean()
		if err != nil {
			return nil, errors.Wrapf(err, "%s %v", f.Variable, w)
		}
		anom, err := mean.Sub(base)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %v", f.Variable, w)
		}
		global, err := anom.WeightedMean()
		if errors.Is(err, field.ErrZeroWeight) {
			logger.Warn("every cell missing in window, skipping", "variable", f.Variable, "window", w.String(), "steps", sel.Len())
			res.Skipped = append(res.Skipped, w)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s %v", f.Variable, w)
		}
		res.Decades = append(res.Decades, Decade{
			Window:        w,
			Steps:         sel.Len(),
			Mean:          mean,
			Anomaly:       anom,
			GlobalAnomaly: global,
		})
		logger.Info("processed decade", "variable", f.Variable, "window", w.String(), "steps", sel.Len(), "globalAnomaly", global)
	}
	return res, nil
}

// TrendPoint is one decade of the global-mean anomaly trend.
type TrendPoint struct {
	Start int
	Value float64
}

// Trend averages f to annual and then decadal means, subtracts base from each
// decade and returns the area-weighted global mean of every difference.
// Decades with every cell missing are left out. f is not modified.
func Trend(logger *slog.Logger, f *field.Field, base field.Slice) ([]TrendPoint, error) {
	if !f.Sorted() {
		var err error
		if f, err = sorted(f); err != nil {
			return nil, err
		}
	}
	annual, err := f.Resample(1)
	if err != nil {
		return nil, err
	}
	decadal, err := annual.Resample(10)
	if err != nil {
		return nil, err
	}
	pts := make([]TrendPoint, 0, decadal.Len())
	for t := 0; t < decadal.Len(); t++ {
		d, err := decadal.At(t).Sub(base)
		if err != nil {
			return nil, err
		}
		v, err := d.WeightedMean()
		if errors.Is(err, field.ErrZeroWeight) {
			logger.Warn("every cell missing in decade, skipping", "variable", f.Variable, "decade", decadal.Times[t].Year)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s decade %d", f.Variable, decadal.Times[t].Year)
		}
		pts = append(pts, TrendPoint{Start: decadal.Times[t].Year, Value: v})
		logger.Debug("trend", "variable", f.Variable, "decade", decadal.Times[t].Year, "anomaly", v)
	}
	return pts, nil
}

// sorted returns a chronologically ordered copy of f. SortByTime replaces the
// copy's slices, so f's own are never written.
func sorted(f *field.Field) (*field.Field, error) {
	c := *f
	if err := c.SortByTime(); err != nil {
		return nil, err
	}
	return &c, nil
}
