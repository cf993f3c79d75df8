package config

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, so data-root is
// read from CMIP6_DATA_ROOT.
const EnvPrefix = "CMIP6"

// Option is a configuration option available as a flag, an environment
// variable and a configuration file key.
type Option struct {
	Name, Usage, Shorthand string
	Default                any
}

// Options are the configuration options of every command.
var Options = []Option{
	{
		Name: "config",
		Usage: `
              config specifies the configuration file location. TOML, YAML
              and JSON are recognised by extension.`,
		Default: "",
	},
	{
		Name: "data-root",
		Usage: `
              data-root is the directory searched recursively for granules
              and below which fetched files are stored.`,
		Shorthand: "d",
		Default:   "data",
	},
	{
		Name: "figures-root",
		Usage: `
              figures-root is the directory figures are written to. Empty
              means a "figures" directory next to data-root.`,
		Default: "",
	},
	{
		Name: "tmp-dir",
		Usage: `
              tmp-dir holds in-progress downloads. Empty means ".tmp"
              below data-root.`,
		Default: "",
	},
	{
		Name: "baseline-window",
		Usage: `
              baseline-window is the window anomalies are taken against,
              written 2020-2029 or 2020-01-01:2029-12-31. Empty means the
              first decade window holding data.`,
		Default: "2020-2029",
	},
	{
		Name: "decade-windows",
		Usage: `
              decade-windows are the closed, non-overlapping windows
              averaged and differenced against the baseline.`,
		Default: []string{
			"2020-2029", "2030-2039", "2040-2049", "2050-2059",
			"2060-2069", "2070-2079", "2080-2089", "2090-2099",
		},
	},
	{
		Name: "variables",
		Usage: `
              variables maps each variable to its CMIP6 table id.`,
		Default: map[string]string{"tas": "Amon", "rsds": "Amon", "tos": "Omon"},
	},
	{
		Name:    "project",
		Usage:   "\n              project is the ESGF project facet.",
		Default: "CMIP6",
	},
	{
		Name:    "activity",
		Usage:   "\n              activity is the CMIP6 activity_id.",
		Default: "GeoMIP",
	},
	{
		Name:    "source",
		Usage:   "\n              source is the CMIP6 source_id (model).",
		Default: "CESM2-WACCM",
	},
	{
		Name:    "experiment",
		Usage:   "\n              experiment is the CMIP6 experiment_id.",
		Default: "G6sulfur",
	},
	{
		Name:    "member",
		Usage:   "\n              member is the CMIP6 member_id (variant label).",
		Default: "r1i1p1f2",
	},
	{
		Name:    "grid",
		Usage:   "\n              grid is the CMIP6 grid_label.",
		Default: "gn",
	},
	{
		Name: "index-url",
		Usage: `
              index-url is the ESGF search endpoint.`,
		Default: "https://esgf-node.llnl.gov/esg-search/search",
	},
	{
		Name: "search-rate",
		Usage: `
              search-rate limits ESGF search requests per second. Zero
              means unlimited.`,
		Default: 2.0,
	},
	{
		Name: "concurrency",
		Usage: `
              concurrency bounds parallel granule reads and downloads.
              Zero means the number of CPUs.`,
		Shorthand: "j",
		Default:   0,
	},
	{
		Name: "tolerance",
		Usage: `
              tolerance is the largest coordinate difference, in degrees,
              accepted between granules of one variable.`,
		Default: 1e-4,
	},
	{
		Name:    "dpi",
		Usage:   "\n              dpi is the resolution of written figures.",
		Default: 150,
	},
	{
		Name: "marker",
		Usage: `
              marker draws a dashed vertical line at this year on the time
              series figure. Zero disables it.`,
		Default: 2070.0,
	},
	{
		Name:    "anomaly-min",
		Usage:   "\n              anomaly-min is the low end of the anomaly colour range.",
		Default: -3.0,
	},
	{
		Name:    "anomaly-max",
		Usage:   "\n              anomaly-max is the high end of the anomaly colour range.",
		Default: 1.0,
	},
	{
		Name:    "levels",
		Usage:   "\n              levels is the number of colour bands on maps.",
		Default: 20,
	},
	{
		Name:    "log-level",
		Usage:   "\n              log-level is one of debug, info, warn and error.",
		Default: "info",
	},
	{
		Name: "log-file",
		Usage: `
              log-file, when set, also writes the log to this rotated file.`,
		Default: "",
	},
}

// NewViper returns a viper instance reading CMIP6_* environment variables
// with every option registered on flags and bound to it.
func NewViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, o := range Options {
		switch d := o.Default.(type) {
		case string:
			flags.StringP(o.Name, o.Shorthand, d, o.Usage)
		case []string:
			flags.StringSliceP(o.Name, o.Shorthand, d, o.Usage)
		case int:
			flags.IntP(o.Name, o.Shorthand, d, o.Usage)
		case float64:
			flags.Float64P(o.Name, o.Shorthand, d, o.Usage)
		case map[string]string:
			b := bytes.NewBuffer(nil)
			json.NewEncoder(b).Encode(d)
			flags.StringP(o.Name, o.Shorthand, strings.TrimSpace(b.String()), o.Usage)
		default:
			panic("invalid option type")
		}
		v.BindPFlag(o.Name, flags.Lookup(o.Name))
	}
	return v
}
