package cmip6

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/rtm0/cmip6/internal/cftime"
	"github.com/rtm0/cmip6/internal/cmip6/cmip6test"
	"github.com/rtm0/cmip6/internal/field"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func tasGranule(first, last int, lat []float64, base float32) cmip6test.Granule {
	n := last - first + 1
	return cmip6test.Granule{
		Variable: "tas",
		Units:    "K",
		Times:    cmip6test.Annual(first, last),
		Lat:      lat,
		Lon:      []float64{0, 120, 240},
		Values: cmip6test.Fill(n, len(lat), 3, func(t, y, x int) float32 {
			return base + float32(t) + float32(y)*0.5 + float32(x)*0.25
		}),
	}
}

func TestParseFilename(t *testing.T) {
	fn, err := ParseFilename("/data/CMIP6/tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc")
	if err != nil {
		t.Fatal(err)
	}
	if fn.Variable != "tas" || fn.Table != "Amon" || fn.Source != "CESM2-WACCM" ||
		fn.Experiment != "G6sulfur" || fn.Member != "r1i1p1f2" || fn.Grid != "gn" {
		t.Errorf("components = %+v", fn)
	}
	if !fn.HasRange || !fn.Start.Equal(cftime.NewDate(2020, time.January, 1)) || !fn.End.Equal(cftime.NewDate(2029, time.December, 1)) {
		t.Errorf("range = %v..%v", fn.Start, fn.End)
	}

	feb, err := ParseFilename("tas_day_UKESM1-0-LL_G6sulfur_r1i1p1f2_gn_20150230-20241230.nc")
	if err != nil || !feb.Start.Equal(cftime.NewDate(2015, time.February, 30)) {
		t.Errorf("360_day stamp: %v, %v", feb.Start, err)
	}

	fixed, err := ParseFilename("sftlf_fx_CESM2_historical_r1i1p1f1_gn.nc")
	if err != nil || fixed.HasRange {
		t.Errorf("time-invariant name: %+v, %v", fixed, err)
	}

	for _, bad := range []string{
		"tas_Amon_CESM2.nc",
		"tas_Amon_CESM2_G6sulfur_r1i1p1f2_gn_2020-.nc",
		"tas_Amon_CESM2_G6sulfur_r1i1p1f2_gn_20x0-2029.nc",
		"tas_Amon_CESM2_G6sulfur_r1i1p1f2_gn_202013-202912.nc",
		"tas_day_CESM2_G6sulfur_r1i1p1f2_gn_20150231-20201231.nc",
		"tas_day_CESM2_G6sulfur_r1i1p1f2_gn_20150101-20200431.nc",
		"tas_Amon_CESM2_G6sulfur_r1i1p1f2_gn_202001-202912.grb",
	} {
		if _, err := ParseFilename(bad); !errors.Is(err, ErrBadFilename) {
			t.Errorf("ParseFilename(%q) error = %v, want ErrBadFilename", bad, err)
		}
	}
}

func TestLocate(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"CMIP6/GeoMIP/NCAR/CESM2-WACCM/G6sulfur/r1i1p1f2/Amon/tas/gn/v20190920/tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_203001-203912.nc",
		"CMIP6/GeoMIP/NCAR/CESM2-WACCM/G6sulfur/r1i1p1f2/Amon/tas/gn/v20190920/tas_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc",
		"rsds/CMIP6/rsds_Amon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc",
		"tas_Amon_broken.nc",
		"tas_Omon_CESM2-WACCM_G6sulfur_r1i1p1f2_gn_202001-202912.nc",
	} {
		path := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	gs, err := Locate(discard, root, "tas", "Amon")
	if err != nil {
		t.Fatal(err)
	}
	if len(gs) != 3 {
		t.Fatalf("found %d granules, want 3: %v", len(gs), gs)
	}
	var known int
	for _, g := range gs {
		if g.StartKnown {
			known++
		}
	}
	if known != 2 {
		t.Errorf("%d granules with a start from the file name, want 2", known)
	}

	if _, err := Locate(discard, root, "tos", "Omon"); !errors.Is(err, ErrNoFiles) {
		t.Errorf("Locate(tos) error = %v, want ErrNoFiles", err)
	}
	if _, err := Locate(discard, filepath.Join(root, "missing"), "tas", "Amon"); !errors.Is(err, ErrNoFiles) {
		t.Errorf("Locate(missing root) error = %v, want ErrNoFiles", err)
	}
}

func TestReadField(t *testing.T) {
	dir := t.TempDir()
	g := tasGranule(2020, 2021, []float64{-45, 45}, 280)
	g.Fill = 1e20
	g.Values[1][0][2] = 1e20
	path := cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_202001-202112.nc", g)

	f, err := ReadField(path, "tas")
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != 2 || f.Grid.NY() != 2 || f.Grid.NX() != 3 || f.Units != "K" || f.Calendar != cftime.NoLeap {
		t.Fatalf("field = %d steps %dx%d %q %v", f.Len(), f.Grid.NY(), f.Grid.NX(), f.Units, f.Calendar)
	}
	if !f.Times[1].Equal(cftime.NewDate(2021, time.January, 16)) {
		t.Errorf("second step at %v, want 2021-01-16", f.Times[1])
	}
	if got := f.At(0).Value(1, 2); got != 280.5+0.5 {
		t.Errorf("value = %v, want 281", got)
	}
	if got := f.At(1).Value(0, 2); !math.IsNaN(got) {
		t.Errorf("fill value read as %v, want NaN", got)
	}
}

func TestReadFieldCurvilinear(t *testing.T) {
	dir := t.TempDir()
	g := cmip6test.Granule{
		Variable: "tos",
		Units:    "degC",
		Times:    cmip6test.Annual(2020, 2020),
		Lat2D:    [][]float64{{-10, -12}, {10, 12}},
		Lon2D:    [][]float64{{100, 200}, {102, 202}},
		Values:   cmip6test.Fill(1, 2, 2, func(t, y, x int) float32 { return float32(y*2 + x) }),
	}
	path := cmip6test.MustWrite(t, dir, "tos_Omon_M_E_r1_gn_202001-202012.nc", g)

	f, err := ReadField(path, "tos")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Grid.Curvilinear() {
		t.Fatal("grid should be curvilinear")
	}
	if f.Grid.LatAt(1) != -12 || f.Grid.LatAt(3) != 12 {
		t.Errorf("cell latitudes = %v", f.Grid.CellLat)
	}
	if f.Grid.Lat[0] != -11 || f.Grid.Lon[1] != 201 {
		t.Errorf("nominal axes = %v, %v", f.Grid.Lat, f.Grid.Lon)
	}
}

func TestLoadOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	lat := []float64{-30, 30}
	names := []string{
		"tas_Amon_M_E_r1_gn_202001-202912.nc",
		"tas_Amon_M_E_r1_gn_203001-203912.nc",
		"tas_Amon_M_E_r1_gn_204001-204912.nc",
	}
	var fwd []Granule
	for i, name := range names {
		start := 2020 + 10*i
		fwd = append(fwd, NewGranule(cmip6test.MustWrite(t, dir, name, tasGranule(start, start+9, lat, 280+float32(i)))))
	}
	rev := []Granule{fwd[2], fwd[0], fwd[1]}

	a, err := Load(context.Background(), discard, "tas", fwd, LoadOptions{Concurrency: 2, Tolerance: 1e-6})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(context.Background(), discard, "tas", rev, LoadOptions{Tolerance: 1e-6})
	if err != nil {
		t.Fatal(err)
	}
	if a.Len() != 30 || !a.Sorted() || !b.Sorted() {
		t.Fatalf("loaded %d steps, sorted %v/%v", a.Len(), a.Sorted(), b.Sorted())
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("value %d differs: %v != %v", i, a.Data[i], b.Data[i])
		}
	}
	if got := a.Select(field.Decade(2030)).Len(); got != 10 {
		t.Errorf("2030s steps = %d, want 10", got)
	}
}

func TestLoadGridMismatch(t *testing.T) {
	dir := t.TempDir()
	a := NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_202001-202912.nc", tasGranule(2020, 2029, []float64{-30, 30}, 280)))
	b := NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_203001-203912.nc", tasGranule(2030, 2039, []float64{-30, 31}, 280)))

	_, err := Load(context.Background(), discard, "tas", []Granule{b, a}, LoadOptions{Tolerance: 1e-3})
	if !errors.Is(err, field.ErrGridMismatch) {
		t.Fatalf("Load error = %v, want ErrGridMismatch", err)
	}
	if !strings.Contains(err.Error(), "203001-203912") || !strings.Contains(err.Error(), "latitude") {
		t.Errorf("error %q should name the granule and coordinate", err)
	}
}

func TestLoadStartFromTimeAxis(t *testing.T) {
	dir := t.TempDir()
	gs := []Granule{
		NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_broken.nc", tasGranule(2030, 2031, []float64{0}, 280))),
		NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_202001-202112.nc", tasGranule(2020, 2021, []float64{0}, 280))),
	}
	if gs[0].StartKnown {
		t.Fatal("malformed name should leave the start unknown")
	}
	f, err := Load(context.Background(), discard, "tas", gs, LoadOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !gs[0].StartKnown || gs[0].Start.Year != 2030 {
		t.Errorf("start from time axis = %v (known %v), want 2030", gs[0].Start, gs[0].StartKnown)
	}
	if f.Times[0].Year != 2020 {
		t.Errorf("first step %v, want 2020", f.Times[0])
	}
}

func TestLoadOverlap(t *testing.T) {
	dir := t.TempDir()
	gs := []Granule{
		NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_202001-202512.nc", tasGranule(2020, 2025, []float64{0}, 280))),
		NewGranule(cmip6test.MustWrite(t, dir, "tas_Amon_M_E_r1_gn_202501-202912.nc", tasGranule(2025, 2029, []float64{0}, 280))),
	}
	if _, err := Load(context.Background(), discard, "tas", gs, LoadOptions{}); !errors.Is(err, field.ErrDuplicateTime) {
		t.Errorf("Load error = %v, want ErrDuplicateTime", err)
	}
}
