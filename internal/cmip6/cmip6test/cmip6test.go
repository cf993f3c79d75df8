// Package cmip6test writes small CMIP6-style NetCDF granules for tests.
package cmip6test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Granule describes one file. Lat and Lon are 1-D unless Lat2D and Lon2D
// are set, in which case the spatial dimensions are named nlat and nlon.
type Granule struct {
	Variable  string
	Units     string
	Calendar  string
	TimeUnits string
	Times     []float64
	Lat, Lon  []float64
	Lat2D     [][]float64
	Lon2D     [][]float64
	// Fill is written as _FillValue when non-zero.
	Fill   float32
	Values [][][]float32
}

func attrs(kv ...any) api.AttributeMap {
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k := kv[i].(string)
		keys = append(keys, k)
		vals[k] = kv[i+1]
	}
	m, err := util.NewOrderedMap(keys, vals)
	if err != nil {
		panic(err)
	}
	return m
}

// Write writes g to path in NetCDF classic format.
func Write(path string, g Granule) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	calendar := g.Calendar
	if calendar == "" {
		calendar = "noleap"
	}
	timeUnits := g.TimeUnits
	if timeUnits == "" {
		timeUnits = "days since 2000-01-01 00:00:00"
	}
	if err := cw.AddVar("time", api.Variable{
		Values:     g.Times,
		Dimensions: []string{"time"},
		Attributes: attrs("units", timeUnits, "calendar", calendar),
	}); err != nil {
		cw.Close()
		return err
	}

	spatial := []string{"lat", "lon"}
	if g.Lat2D != nil {
		spatial = []string{"nlat", "nlon"}
		for name, v := range map[string][][]float64{"lat": g.Lat2D, "lon": g.Lon2D} {
			if err := cw.AddVar(name, api.Variable{Values: v, Dimensions: spatial, Attributes: attrs("units", "degrees")}); err != nil {
				cw.Close()
				return err
			}
		}
	} else {
		if err := cw.AddVar("lat", api.Variable{Values: g.Lat, Dimensions: []string{"lat"}, Attributes: attrs("units", "degrees_north")}); err != nil {
			cw.Close()
			return err
		}
		if err := cw.AddVar("lon", api.Variable{Values: g.Lon, Dimensions: []string{"lon"}, Attributes: attrs("units", "degrees_east")}); err != nil {
			cw.Close()
			return err
		}
	}

	va := attrs("units", g.Units)
	if g.Fill != 0 {
		va = attrs("units", g.Units, "_FillValue", g.Fill)
	}
	if err := cw.AddVar(g.Variable, api.Variable{
		Values:     g.Values,
		Dimensions: append([]string{"time"}, spatial...),
		Attributes: va,
	}); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// MustWrite writes g under dir/name and returns the full path.
func MustWrite(t testing.TB, dir, name string, g Granule) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := Write(path, g); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// Annual returns noleap offsets (days since 2000-01-01) for mid-January of
// each year from first to last inclusive.
func Annual(first, last int) []float64 {
	var ts []float64
	for y := first; y <= last; y++ {
		ts = append(ts, float64((y-2000)*365+15))
	}
	return ts
}

// Fill returns nt steps of ny x nx values where every value of step t is
// f(t, y, x).
func Fill(nt, ny, nx int, f func(t, y, x int) float32) [][][]float32 {
	v := make([][][]float32, nt)
	for t := range v {
		v[t] = make([][]float32, ny)
		for y := range v[t] {
			v[t][y] = make([]float32, nx)
			for x := range v[t][y] {
				v[t][y][x] = f(t, y, x)
			}
		}
	}
	return v
}
