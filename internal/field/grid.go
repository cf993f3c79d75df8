package field

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrGridMismatch is returned when two fields expected to share a spatial
// grid do not.
var ErrGridMismatch = errors.New("grid mismatch")

// Grid is a latitude/longitude grid. Lat and Lon are the nominal row and
// column axes. For curvilinear grids CellLat holds the latitude of every cell
// in row-major order and Lat/Lon are row and column averages.
type Grid struct {
	Lat     []float64
	Lon     []float64
	CellLat []float64
}

// NY returns the number of rows.
func (g Grid) NY() int { return len(g.Lat) }

// NX returns the number of columns.
func (g Grid) NX() int { return len(g.Lon) }

// Size returns the number of cells.
func (g Grid) Size() int { return len(g.Lat) * len(g.Lon) }

// Curvilinear reports whether cell latitudes vary along rows.
func (g Grid) Curvilinear() bool { return g.CellLat != nil }

// LatAt returns the latitude in degrees of cell i (row-major).
func (g Grid) LatAt(i int) float64 {
	if g.CellLat != nil {
		return g.CellLat[i]
	}
	return g.Lat[i/len(g.Lon)]
}

// Weights returns cos(latitude) for every cell.
func (g Grid) Weights() []float64 {
	w := make([]float64, g.Size())
	for i := range w {
		w[i] = math.Cos(g.LatAt(i) * math.Pi / 180)
	}
	return w
}

// Check returns a descriptive ErrGridMismatch if o differs from g by more
// than tol in any coordinate.
func (g Grid) Check(o Grid, tol float64) error {
	if g.NY() != o.NY() || g.NX() != o.NX() {
		return errors.Wrapf(ErrGridMismatch, "shape %dx%d != %dx%d", g.NY(), g.NX(), o.NY(), o.NX())
	}
	if g.Curvilinear() != o.Curvilinear() {
		return errors.Wrap(ErrGridMismatch, "rectilinear vs curvilinear latitude")
	}
	for _, c := range []struct {
		name string
		a, b []float64
	}{
		{"latitude", g.Lat, o.Lat},
		{"longitude", g.Lon, o.Lon},
		{"cell latitude", g.CellLat, o.CellLat},
	} {
		if floats.EqualApprox(c.a, c.b, tol) {
			continue
		}
		if len(c.a) != len(c.b) {
			return errors.Wrapf(ErrGridMismatch, "%s has %d values, want %d", c.name, len(c.b), len(c.a))
		}
		for i := range c.a {
			// Written so that a NaN on either side fails.
			if !(math.Abs(c.a[i]-c.b[i]) <= tol) {
				return errors.Wrapf(ErrGridMismatch, "%s[%d] = %v != %v (tolerance %g)", c.name, i, c.a[i], c.b[i], tol)
			}
		}
		return errors.Wrapf(ErrGridMismatch, "%s differs beyond tolerance %g", c.name, tol)
	}
	return nil
}
