// Package config holds the settings every command runs with.
package config

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/rtm0/cmip6/internal/field"
)

// Config is the run configuration.
type Config struct {
	DataRoot    string
	FiguresRoot string
	TmpDir      string

	// BaselineWindow is zero when the first decade window holding data
	// should be used.
	BaselineWindow field.Window
	DecadeWindows  []field.Window

	// Variables maps a variable to its table id.
	Variables map[string]string

	Project, Activity, Source, Experiment, Member, Grid string

	IndexURL    string
	SearchRate  float64
	Concurrency int
	Tolerance   float64

	DPI                    int
	Marker                 float64
	AnomalyMin, AnomalyMax float64
	Levels                 int

	LogLevel string
	LogFile  string
}

// ReadFile reads the file named by the config option into v, if any.
func ReadFile(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrap(err, "problem reading configuration file")
		}
	}
	return nil
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		DataRoot:    v.GetString("data-root"),
		FiguresRoot: v.GetString("figures-root"),
		TmpDir:      v.GetString("tmp-dir"),
		Project:     v.GetString("project"),
		Activity:    v.GetString("activity"),
		Source:      v.GetString("source"),
		Experiment:  v.GetString("experiment"),
		Member:      v.GetString("member"),
		Grid:        v.GetString("grid"),
		IndexURL:    v.GetString("index-url"),
		LogLevel:    v.GetString("log-level"),
		LogFile:     v.GetString("log-file"),
	}
	var err error
	if c.SearchRate, err = cast.ToFloat64E(v.Get("search-rate")); err != nil {
		return nil, errors.Wrap(err, "search-rate")
	}
	if c.Concurrency, err = cast.ToIntE(v.Get("concurrency")); err != nil {
		return nil, errors.Wrap(err, "concurrency")
	}
	if c.Tolerance, err = cast.ToFloat64E(v.Get("tolerance")); err != nil {
		return nil, errors.Wrap(err, "tolerance")
	}
	if c.DPI, err = cast.ToIntE(v.Get("dpi")); err != nil {
		return nil, errors.Wrap(err, "dpi")
	}
	if c.Marker, err = cast.ToFloat64E(v.Get("marker")); err != nil {
		return nil, errors.Wrap(err, "marker")
	}
	if c.AnomalyMin, err = cast.ToFloat64E(v.Get("anomaly-min")); err != nil {
		return nil, errors.Wrap(err, "anomaly-min")
	}
	if c.AnomalyMax, err = cast.ToFloat64E(v.Get("anomaly-max")); err != nil {
		return nil, errors.Wrap(err, "anomaly-max")
	}
	if c.Levels, err = cast.ToIntE(v.Get("levels")); err != nil {
		return nil, errors.Wrap(err, "levels")
	}

	if s := strings.TrimSpace(v.GetString("baseline-window")); s != "" {
		if c.BaselineWindow, err = field.ParseWindow(s); err != nil {
			return nil, errors.Wrap(err, "baseline-window")
		}
	}
	windows, err := stringSlice(v.Get("decade-windows"))
	if err != nil {
		return nil, errors.Wrap(err, "decade-windows")
	}
	for _, s := range windows {
		w, err := field.ParseWindow(s)
		if err != nil {
			return nil, errors.Wrap(err, "decade-windows")
		}
		c.DecadeWindows = append(c.DecadeWindows, w)
	}
	if c.Variables, err = stringMap(v.Get("variables")); err != nil {
		return nil, errors.Wrap(err, "variables")
	}

	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.DataRoot == "" {
		c.DataRoot = "."
	}
	if c.FiguresRoot == "" {
		c.FiguresRoot = filepath.Join(filepath.Dir(filepath.Clean(c.DataRoot)), "figures")
	}
	if c.TmpDir == "" {
		c.TmpDir = filepath.Join(c.DataRoot, ".tmp")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.Levels < 2 {
		c.Levels = 20
	}
}

// Validate checks that the windows are usable.
func (c *Config) Validate() error {
	if len(c.DecadeWindows) == 0 {
		return errors.New("no decade windows configured")
	}
	ws := append([]field.Window(nil), c.DecadeWindows...)
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })
	for i := 1; i < len(ws); i++ {
		if ws[i-1].Overlaps(ws[i]) {
			return errors.Errorf("decade windows %v and %v overlap", ws[i-1], ws[i])
		}
	}
	if c.AnomalyMin >= c.AnomalyMax {
		return errors.Errorf("anomaly colour range %v..%v is empty", c.AnomalyMin, c.AnomalyMax)
	}
	if c.Tolerance < 0 {
		return errors.Errorf("negative tolerance %v", c.Tolerance)
	}
	return nil
}

// Table returns the table id of variable.
func (c *Config) Table(variable string) (string, error) {
	t, ok := c.Variables[variable]
	if !ok {
		known := make([]string, 0, len(c.Variables))
		for k := range c.Variables {
			known = append(known, k)
		}
		sort.Strings(known)
		return "", errors.Errorf("unknown variable %q (configured: %s)", variable, strings.Join(known, ", "))
	}
	return t, nil
}

// stringSlice accepts a list or a comma or space separated string, as set
// from an environment variable.
func stringSlice(i any) ([]string, error) {
	if s, ok := i.(string); ok {
		return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }), nil
	}
	return cast.ToStringSliceE(i)
}

// stringMap accepts a map, as read from a configuration file, or a JSON
// object, as set from a flag or an environment variable.
func stringMap(i any) (map[string]string, error) {
	switch v := i.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, errors.Errorf("invalid type %T", i)
	}
}
