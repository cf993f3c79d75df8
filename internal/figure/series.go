package figure

import (
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Series is one line of a time series figure. X is in decimal years.
type Series struct {
	Name  string
	Units string
	X, Y  []float64
}

// points drops missing values.
func (s Series) points() plotter.XYs {
	xys := make(plotter.XYs, 0, len(s.X))
	for i := range s.X {
		if i >= len(s.Y) || math.IsNaN(s.Y[i]) || math.IsInf(s.Y[i], 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: s.X[i], Y: s.Y[i]})
	}
	return xys
}

var dashed = []vg.Length{vg.Points(4), vg.Points(3)}

// TimeSeries draws one stacked panel per series. A non-nil marker adds a
// dashed vertical line at that decimal year to every panel.
func (r *Renderer) TimeSeries(name, title string, panels []Series, marker *float64) (string, error) {
	if len(panels) == 0 {
		return "", errors.New("time series: no panels")
	}
	plots := make([][]*plot.Plot, len(panels))
	for i, s := range panels {
		xys := s.points()
		if len(xys) == 0 {
			return "", errors.Errorf("time series %s: no finite values", s.Name)
		}
		p := plot.New()
		if i == 0 {
			p.Title.Text = title
		}
		p.Y.Label.Text = s.Name
		if s.Units != "" {
			p.Y.Label.Text += " (" + s.Units + ")"
		}
		if i == len(panels)-1 {
			p.X.Label.Text = "Year"
		}
		p.Add(plotter.NewGrid())

		l, err := plotter.NewLine(xys)
		if err != nil {
			return "", errors.Wrapf(err, "time series %s", s.Name)
		}
		l.LineStyle.Color = plotutil.Color(i)
		l.LineStyle.Width = vg.Points(1)
		p.Add(l)

		if marker != nil {
			_, _, ymin, ymax := plotter.XYRange(xys)
			if ymin == ymax {
				ymin, ymax = ymin-1, ymax+1
			}
			m, err := plotter.NewLine(plotter.XYs{{X: *marker, Y: ymin}, {X: *marker, Y: ymax}})
			if err != nil {
				return "", err
			}
			m.LineStyle.Color = color.Gray{Y: 0x50}
			m.LineStyle.Dashes = dashed
			p.Add(m)
		}
		plots[i] = []*plot.Plot{p}
	}
	return r.saveGrid(name, 10*vg.Inch, vg.Length(3*len(panels))*vg.Inch, plots)
}

// TrendPoint is one value of a trend figure.
type TrendPoint struct {
	X, Y float64
}

// Trend draws points joined by a line, with a dashed zero line.
func (r *Renderer) Trend(name, title, ylabel string, pts []TrendPoint) (string, error) {
	xys := make(plotter.XYs, 0, len(pts))
	for _, pt := range pts {
		if math.IsNaN(pt.Y) {
			continue
		}
		xys = append(xys, plotter.XY{X: pt.X, Y: pt.Y})
	}
	if len(xys) == 0 {
		return "", errors.New("trend: no finite values")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Decade"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	xmin, xmax, _, _ := plotter.XYRange(xys)
	if xmin == xmax {
		xmin, xmax = xmin-5, xmax+5
	}
	zero, err := plotter.NewLine(plotter.XYs{{X: xmin, Y: 0}, {X: xmax, Y: 0}})
	if err != nil {
		return "", err
	}
	zero.LineStyle.Color = color.Gray{Y: 0x80}
	zero.LineStyle.Dashes = dashed

	l, s, err := plotter.NewLinePoints(xys)
	if err != nil {
		return "", err
	}
	l.LineStyle.Color = plotutil.Color(0)
	l.LineStyle.Width = vg.Points(1.5)
	s.GlyphStyle.Color = plotutil.Color(0)
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(3)
	p.Add(zero, l, s)

	return r.save(name, 8*vg.Inch, 5*vg.Inch, p.Draw)
}
