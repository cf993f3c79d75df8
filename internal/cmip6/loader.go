package cmip6

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rtm0/cmip6/internal/field"
)

// LoadOptions controls how granules are combined.
type LoadOptions struct {
	// Concurrency bounds the number of granules read at once. Zero means
	// runtime.NumCPU().
	Concurrency int
	// Tolerance is the largest coordinate difference accepted between a
	// granule and the first granule.
	Tolerance float64
}

// Load reads granules of one variable and joins them into a single field with
// a strictly increasing time axis. The order of granules does not matter.
// Every granule must share the first granule's grid, units and calendar.
func Load(ctx context.Context, logger *slog.Logger, variable string, granules []Granule, opts LoadOptions) (*field.Field, error) {
	if len(granules) == 0 {
		return nil, errors.Wrapf(ErrNoFiles, "loading %s", variable)
	}
	n := opts.Concurrency
	if n <= 0 {
		n = runtime.NumCPU()
	}

	fields := make([]*field.Field, len(granules))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(n)
	for i := range granules {
		i := i
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := NewScanner(granules[i].Path, variable)
			if err != nil {
				return err
			}
			defer s.Close()
			logger.Debug("granule summary", append([]any{"file", filepath.Base(granules[i].Path)}, s.Summary()...)...)
			fields[i], err = s.ReadAll()
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i := range granules {
		g := &granules[i]
		if !g.StartKnown && fields[i].Len() > 0 {
			g.Start = fields[i].Times[0]
			g.StartKnown = true
		}
		logger.Debug("read granule", "file", filepath.Base(g.Path), "start", g.Start.String(), "steps", fields[i].Len())
	}

	// Concatenate in start order; the sort below makes the result
	// independent of it anyway.
	order := make([]int, len(granules))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return granules[order[a]].Start.Before(granules[order[b]].Start)
	})
	ordered := make([]*field.Field, len(order))
	for i, j := range order {
		ordered[i] = fields[j]
	}

	ref := granules[order[0]].Path
	for i := 1; i < len(ordered); i++ {
		if err := field.Compatible(ordered[0], ordered[i], opts.Tolerance); err != nil {
			return nil, errors.Wrapf(err, "%s does not match %s",
				filepath.Base(granules[order[i]].Path), filepath.Base(ref))
		}
	}
	f, err := field.Concat(opts.Tolerance, ordered...)
	if err != nil {
		return nil, errors.Wrapf(err, "combining %d %s granules", len(granules), variable)
	}
	if err := f.SortByTime(); err != nil {
		return nil, err
	}
	if f.Len() > 0 {
		logger.Info("loaded", "variable", variable, "granules", len(granules), "steps", f.Len(),
			"first", f.Times[0].String(), "last", f.Times[f.Len()-1].String(), "units", f.Units)
	}
	return f, nil
}
