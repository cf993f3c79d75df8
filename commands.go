package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rtm0/cmip6/internal/anomaly"
	"github.com/rtm0/cmip6/internal/cmip6"
	"github.com/rtm0/cmip6/internal/esgf"
	"github.com/rtm0/cmip6/internal/field"
	"github.com/rtm0/cmip6/internal/figure"
)

// mapRanges are the fixed colour ranges of decade-mean maps.
var mapRanges = map[string][2]float64{
	"tas":  {230, 310},
	"rsds": {100, 300},
}

// load finds and reads every granule of variable below the data root.
func (a *app) load(ctx context.Context, variable string) (*field.Field, error) {
	table, err := a.cfg.Table(variable)
	if err != nil {
		return nil, err
	}
	granules, err := cmip6.Locate(a.logger, a.cfg.DataRoot, variable, table)
	if err != nil {
		return nil, err
	}
	return cmip6.Load(ctx, a.logger, variable, granules, cmip6.LoadOptions{
		Concurrency: a.cfg.Concurrency,
		Tolerance:   a.cfg.Tolerance,
	})
}

func (a *app) renderer() *figure.Renderer {
	return figure.New(a.logger, a.cfg.FiguresRoot, a.cfg.DPI)
}

// baseline returns the configured baseline window, or the first decade
// window holding data when none is configured.
func (a *app) baseline(f *field.Field) (field.Window, error) {
	if !a.cfg.BaselineWindow.IsZero() {
		return a.cfg.BaselineWindow, nil
	}
	w, ok := anomaly.FirstAvailable(f, a.cfg.DecadeWindows)
	if !ok {
		return w, errors.Wrapf(field.ErrEmptyWindow, "no decade window holds %s data", f.Variable)
	}
	a.logger.Info("using first available decade as baseline", "variable", f.Variable, "window", w.String())
	return w, nil
}

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [variable...]",
		Short: "Download granules from ESGF",
		Long: `fetch searches the ESGF index for the configured model, experiment and
member, removes leftovers of interrupted downloads, downloads every file
not yet present below the data root and verifies the result. Without
arguments every configured variable is fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for v := range a.cfg.Variables {
					args = append(args, v)
				}
				sort.Strings(args)
			}
			client, err := esgf.NewClient(a.logger, a.cfg.IndexURL, a.cfg.Concurrency, a.cfg.SearchRate)
			if err != nil {
				return err
			}
			for _, v := range args {
				if err := a.fetch(cmd.Context(), client, v); err != nil {
					return errors.Wrapf(err, "fetching %s", v)
				}
			}
			return nil
		},
	}
}

func (a *app) fetch(ctx context.Context, client *esgf.Client, variable string) error {
	table, err := a.cfg.Table(variable)
	if err != nil {
		return err
	}
	q := esgf.Query{
		Project:    a.cfg.Project,
		Activity:   a.cfg.Activity,
		Source:     a.cfg.Source,
		Experiment: a.cfg.Experiment,
		Member:     a.cfg.Member,
		Grid:       a.cfg.Grid,
		Table:      table,
		Variable:   variable,
	}
	ds, err := client.Datasets(ctx, q)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		return errors.Wrap(esgf.ErrNoDatasets, q.String())
	}
	files, err := client.Files(ctx, q)
	if err != nil {
		return err
	}
	removed, err := esgf.CleanStale(a.cfg.TmpDir, files)
	if err != nil {
		return errors.Wrap(err, "cleaning stale downloads")
	}
	a.logger.Info("cleaned stale downloads", "variable", variable, "removed", removed)

	stats, err := client.Download(ctx, files, a.cfg.DataRoot, a.cfg.TmpDir, a.cfg.Concurrency)
	if err != nil {
		return err
	}
	present := esgf.Verify(a.cfg.DataRoot, files)
	a.logger.Info("fetched", "variable", variable, "downloaded", stats.Fetched, "skipped", stats.Skipped,
		"present", fmt.Sprintf("%d/%d", present, len(files)))
	if present != len(files) {
		return errors.Errorf("%d of %d files missing after download", len(files)-present, len(files))
	}
	return nil
}

func (a *app) seriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "series",
		Short: "Plot global-mean time series of tas and rsds",
		Long: `series plots the area-weighted global mean of tas at every time step and,
when rsds granules are present, of rsds in a second panel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var panels []figure.Series
			for _, v := range []string{"tas", "rsds"} {
				f, err := a.load(cmd.Context(), v)
				if v == "rsds" && errors.Is(err, cmip6.ErrNoFiles) {
					a.logger.Warn("rsds not found, skipping its panel", "root", a.cfg.DataRoot)
					continue
				}
				if err != nil {
					return err
				}
				gm, err := f.WeightedMean()
				if err != nil {
					return err
				}
				s := figure.Series{Name: v, Units: f.Units, Y: gm}
				for _, d := range f.Times {
					s.X = append(s.X, d.DecimalYear(f.Calendar))
				}
				a.logger.Info("time range", "variable", v, "first", f.Times[0].String(), "last", f.Times[f.Len()-1].String())
				panels = append(panels, s)
			}
			var marker *float64
			if a.cfg.Marker != 0 {
				marker = &a.cfg.Marker
			}
			title := fmt.Sprintf("%s %s global mean", a.cfg.Experiment, a.cfg.Member)
			_, err := a.renderer().TimeSeries("global_mean_timeseries.png", title, panels, marker)
			return err
		},
	}
}

func (a *app) mapsCmd() *cobra.Command {
	var lo, hi float64
	cmd := &cobra.Command{
		Use:   "maps variable...",
		Short: "Map the mean of the first decade window",
		Long: `maps draws the temporal mean of each variable over the first decade
window holding data.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.renderer()
			for _, v := range args {
				f, err := a.load(cmd.Context(), v)
				if err != nil {
					return err
				}
				w, ok := anomaly.FirstAvailable(f, a.cfg.DecadeWindows)
				if !ok {
					return errors.Wrapf(field.ErrEmptyWindow, "no decade window holds %s data", v)
				}
				mean, err := f.Select(w).TemporalMean()
				if err != nil {
					return err
				}
				o := figure.MapOptions{
					Title:    fmt.Sprintf("%s %v (%s)", v, w, f.Units),
					Label:    f.Units,
					Levels:   a.cfg.Levels,
					Contours: true,
				}
				if rng, ok := mapRanges[v]; ok {
					o.Min, o.Max = rng[0], rng[1]
				}
				if cmd.Flags().Changed("min") || cmd.Flags().Changed("max") {
					o.Min, o.Max = lo, hi
				}
				if _, err := r.Map(fmt.Sprintf("%s_%v.png", v, w), mean, o); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lo, "min", 0, "low end of the colour range; the data range is used when min and max are both 0")
	cmd.Flags().Float64Var(&hi, "max", 0, "high end of the colour range")
	return cmd
}

func (a *app) anomalyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anomaly variable...",
		Short: "Map each decade's anomaly against the baseline",
		Long: `anomaly averages each decade window, subtracts the baseline window mean and
maps the difference. Windows without data are logged and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.renderer()
			for _, v := range args {
				f, err := a.load(cmd.Context(), v)
				if err != nil {
					return err
				}
				base, err := a.baseline(f)
				if err != nil {
					return err
				}
				res, err := anomaly.Process(a.logger, f, base, a.cfg.DecadeWindows)
				if err != nil {
					return err
				}
				for _, d := range res.Decades {
					o := figure.MapOptions{
						Title:     fmt.Sprintf("%s %s anomaly %v", a.cfg.Experiment, v, d.Window),
						Label:     fmt.Sprintf("Δ%s vs %v (%s)", v, base, f.Units),
						Min:       a.cfg.AnomalyMin,
						Max:       a.cfg.AnomalyMax,
						Levels:    a.cfg.Levels,
						Diverging: true,
						Contours:  true,
					}
					if _, err := r.Map(fmt.Sprintf("%s_anomaly_%d.png", v, d.Window.Start.Year), d.Anomaly, o); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func (a *app) trendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trend variable...",
		Short: "Plot the global-mean decadal anomaly trend",
		Long: `trend averages each variable to annual and then decadal means and plots the
area-weighted global mean of every decade minus the baseline.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.renderer()
			for _, v := range args {
				f, err := a.load(cmd.Context(), v)
				if err != nil {
					return err
				}
				w, err := a.baseline(f)
				if err != nil {
					return err
				}
				base, err := anomaly.Baseline(f, w)
				if err != nil {
					return err
				}
				pts, err := anomaly.Trend(a.logger, f, base)
				if err != nil {
					return err
				}
				tp := make([]figure.TrendPoint, len(pts))
				for i, p := range pts {
					tp[i] = figure.TrendPoint{X: float64(p.Start), Y: p.Value}
				}
				title := fmt.Sprintf("%s global-mean %s anomaly vs %v", a.cfg.Experiment, v, w)
				if _, err := r.Trend(v+"_global_trend.png", title, fmt.Sprintf("Δ%s (%s)", v, f.Units), tp); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) illustrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "illustrate",
		Short: "Draw the conceptual growth curves and the illustrative forest plot",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			r := a.renderer()
			if _, err := r.GrowthCurves("figure_conceptual_growth.png", figure.DefaultSpecies); err != nil {
				return err
			}
			_, err := r.ForestPlot("figure_forest_plot.png", figure.DefaultForest)
			return err
		},
	}
}
