package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/rtm0/cmip6/internal/field"
)

func TestDefaults(t *testing.T) {
	v := NewViper(pflag.NewFlagSet("test", pflag.ContinueOnError))
	c, err := FromViper(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.BaselineWindow != field.Decade(2020) {
		t.Errorf("baseline = %v, want 2020-2029", c.BaselineWindow)
	}
	if len(c.DecadeWindows) != 8 || c.DecadeWindows[7] != field.Decade(2090) {
		t.Errorf("decades = %v", c.DecadeWindows)
	}
	if tbl, err := c.Table("tos"); err != nil || tbl != "Omon" {
		t.Errorf("Table(tos) = %q, %v", tbl, err)
	}
	if _, err := c.Table("pr"); err == nil {
		t.Error("Table(pr) succeeded")
	}
	if c.FiguresRoot != "figures" || c.TmpDir != filepath.Join("data", ".tmp") {
		t.Errorf("figures %q tmp %q", c.FiguresRoot, c.TmpDir)
	}
	if c.Source != "CESM2-WACCM" || c.Experiment != "G6sulfur" || c.Member != "r1i1p1f2" {
		t.Errorf("facets = %s %s %s", c.Source, c.Experiment, c.Member)
	}
	if c.AnomalyMin != -3 || c.AnomalyMax != 1 || c.DPI != 150 || c.Marker != 2070 || c.Concurrency <= 0 {
		t.Errorf("config = %+v", c)
	}
}

func TestFlagsAndEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := NewViper(flags)
	t.Setenv("CMIP6_DATA_ROOT", "/srv/final_project/data")
	t.Setenv("CMIP6_DECADE_WINDOWS", "2030-2039,2040-2049")
	t.Setenv("CMIP6_VARIABLES", `{"tos":"Omon"}`)
	if err := flags.Parse([]string{"--baseline-window", "2030-01-01:2039-12-31", "--dpi", "300"}); err != nil {
		t.Fatal(err)
	}
	c, err := FromViper(v)
	if err != nil {
		t.Fatal(err)
	}
	if c.FiguresRoot != "/srv/final_project/figures" {
		t.Errorf("figures root = %q", c.FiguresRoot)
	}
	if len(c.DecadeWindows) != 2 || c.BaselineWindow != field.Decade(2030) || c.DPI != 300 {
		t.Errorf("windows %v baseline %v dpi %d", c.DecadeWindows, c.BaselineWindow, c.DPI)
	}
	if len(c.Variables) != 1 {
		t.Errorf("variables = %v", c.Variables)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmip6.toml")
	err := os.WriteFile(path, []byte(`
data-root = "/tmp/cmip"
baseline-window = ""
decade-windows = ["2050-2059", "2060-2069"]

[variables]
tas = "Amon"
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := NewViper(flags)
	if err := flags.Parse([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}
	if err := ReadFile(v); err != nil {
		t.Fatal(err)
	}
	c, err := FromViper(v)
	if err != nil {
		t.Fatal(err)
	}
	if !c.BaselineWindow.IsZero() {
		t.Errorf("baseline = %v, want unset", c.BaselineWindow)
	}
	if c.DataRoot != "/tmp/cmip" || len(c.DecadeWindows) != 2 || c.Variables["tas"] != "Amon" {
		t.Errorf("config = %+v", c)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"overlap", []string{"--decade-windows", "2020-2029,2025-2034"}},
		{"bad window", []string{"--decade-windows", "2029-2020"}},
		{"empty colour range", []string{"--anomaly-min", "1", "--anomaly-max", "1"}},
		{"bad variables", []string{"--variables", "tas=Amon"}},
	} {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		v := NewViper(flags)
		if err := flags.Parse(tc.args); err != nil {
			t.Fatal(err)
		}
		if _, err := FromViper(v); err == nil {
			t.Errorf("%s: FromViper succeeded", tc.name)
		}
	}
}
