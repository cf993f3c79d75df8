package figure

import (
	"image/color"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/rtm0/cmip6/internal/field"
)

// MapOptions controls a map figure.
type MapOptions struct {
	Title string
	// Label is written along the colour bar.
	Label string
	// Min and Max fix the colour range. When both are zero the range of
	// the data is used. Values outside are drawn in the end colours.
	Min, Max float64
	// Levels is the number of colour bands.
	Levels int
	// Diverging selects a blue-red palette centred on zero.
	Diverging bool
	// Contours overlays lines at the band boundaries.
	Contours bool
}

// grid adapts a field.Slice to plotter.GridXYZ. Axes are sorted ascending;
// an axis that is not strictly monotonic is replaced by its index.
type grid struct {
	s       field.Slice
	xs, ys  []float64
	ix, iy  []int
	indexed bool
}

func newGrid(s field.Slice) *grid {
	g := &grid{s: s}
	var xi, yi bool
	g.xs, g.ix, xi = axis(s.Grid.Lon)
	g.ys, g.iy, yi = axis(s.Grid.Lat)
	g.indexed = xi || yi
	return g
}

func axis(v []float64) (coords []float64, idx []int, indexed bool) {
	idx = make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	coords = make([]float64, len(v))
	for i, j := range idx {
		coords[i] = v[j]
		if i > 0 && coords[i] <= coords[i-1] {
			for k := range coords {
				coords[k] = float64(k)
				idx[k] = k
			}
			return coords, idx, true
		}
	}
	return coords, idx, false
}

func (g *grid) Dims() (c, r int)   { return len(g.xs), len(g.ys) }
func (g *grid) X(c int) float64    { return g.xs[c] }
func (g *grid) Y(r int) float64    { return g.ys[r] }
func (g *grid) Z(c, r int) float64 { return g.s.Value(g.iy[r], g.ix[c]) }

func (g *grid) hasNaN() bool {
	for _, v := range g.s.Data {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func colorMap(o MapOptions) palette.ColorMap {
	if o.Diverging {
		cm := moreland.SmoothBlueRed()
		cm.SetMin(o.Min)
		cm.SetMax(o.Max)
		mid := 0.0
		if o.Min >= 0 || o.Max <= 0 {
			mid = (o.Min + o.Max) / 2
		}
		cm.SetConvergePoint(mid)
		return cm
	}
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(o.Min)
	cm.SetMax(o.Max)
	return cm
}

// Map draws s as a filled map with a colour bar.
func (r *Renderer) Map(name string, s field.Slice, o MapOptions) (string, error) {
	if s.Grid.NX() < 2 || s.Grid.NY() < 2 {
		return "", errors.Errorf("map %s: grid %dx%d too small", name, s.Grid.NY(), s.Grid.NX())
	}
	if o.Min == 0 && o.Max == 0 {
		o.Min, o.Max = s.Range()
		if math.IsNaN(o.Min) {
			return "", errors.Errorf("map %s: every cell is missing", name)
		}
	}
	if o.Min == o.Max {
		o.Min, o.Max = o.Min-0.5, o.Max+0.5
	}
	if o.Min > o.Max {
		return "", errors.Errorf("map %s: colour range %v..%v", name, o.Min, o.Max)
	}
	if o.Levels < 2 {
		o.Levels = 20
	}
	cm := colorMap(o)
	pal := cm.Palette(o.Levels)
	colors := pal.Colors()

	g := newGrid(s)
	p := plot.New()
	p.Title.Text = o.Title
	if g.indexed {
		p.X.Label.Text = "x index"
		p.Y.Label.Text = "y index"
	} else {
		p.X.Label.Text = "Longitude (°E)"
		p.Y.Label.Text = "Latitude (°N)"
	}

	hm := plotter.NewHeatMap(g, pal)
	hm.Min, hm.Max = o.Min, o.Max
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.Rasterized = true
	p.Add(hm)

	if o.Contours && !g.hasNaN() {
		levels := make([]float64, o.Levels-1)
		step := (o.Max - o.Min) / float64(o.Levels)
		for i := range levels {
			levels[i] = o.Min + float64(i+1)*step
		}
		c := plotter.NewContour(g, levels, gray(len(levels)))
		c.LineStyles = []draw.LineStyle{{Color: color.Gray{Y: 0x40}, Width: vg.Points(0.4)}}
		p.Add(c)
	}
	gl := plotter.NewGrid()
	gl.Vertical.Color = color.Gray{Y: 0xa0}
	gl.Vertical.Dashes = dashed
	gl.Horizontal.Color = color.Gray{Y: 0xa0}
	gl.Horizontal.Dashes = dashed
	p.Add(gl)

	cb := plot.New()
	cb.HideX()
	cb.Y.Label.Text = o.Label
	cb.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true, Colors: o.Levels})

	const w, h = 12 * vg.Inch, 6 * vg.Inch
	const barW = 1.2 * vg.Inch
	return r.save(name, w, h, func(dc draw.Canvas) {
		p.Draw(draw.Crop(dc, 0, -barW, 0, 0))
		cb.Draw(draw.Crop(dc, w-barW+vg.Millimeter*4, 0, vg.Inch*0.6, -vg.Inch*0.6))
	})
}

type gray int

func (n gray) Colors() []color.Color {
	c := make([]color.Color, n)
	for i := range c {
		c[i] = color.Gray{Y: 0x40}
	}
	return c
}
