package figure

import (
	"image/color"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Species is a Gaussian thermal growth response.
type Species struct {
	Name  string
	Peak  float64 // °C
	Sigma float64 // °C
}

// DefaultSpecies are the Sargassum groups of the conceptual growth figure.
var DefaultSpecies = []Species{
	{Name: "S. polycystum (benthic)", Peak: 24, Sigma: 3.2},
	{Name: "Tropical benthic Sargassum", Peak: 27, Sigma: 3.5},
	{Name: "Temperate benthic Sargassum", Peak: 22, Sigma: 3.0},
	{Name: "Pelagic S. natans/fluitans", Peak: 27, Sigma: 3.8},
}

// GrowthCurve samples s at n temperatures between lo and hi, normalised so
// the largest sample is 1.
func GrowthCurve(s Species, lo, hi float64, n int) plotter.XYs {
	temps := make([]float64, n)
	floats.Span(temps, lo, hi)
	ys := make([]float64, n)
	for i, t := range temps {
		z := (t - s.Peak) / s.Sigma
		ys[i] = math.Exp(-0.5 * z * z)
	}
	if m := floats.Max(ys); m > 0 {
		floats.Scale(1/m, ys)
	}
	xys := make(plotter.XYs, n)
	for i := range xys {
		xys[i] = plotter.XY{X: temps[i], Y: ys[i]}
	}
	return xys
}

// GrowthCurves draws the relative growth of every species against
// temperature from 10 to 35 °C.
func (r *Renderer) GrowthCurves(name string, species []Species) (string, error) {
	if len(species) == 0 {
		return "", errors.New("growth curves: no species")
	}
	p := plot.New()
	p.Title.Text = "Conceptual Growth Response to Temperature"
	p.X.Label.Text = "Temperature (°C)"
	p.Y.Label.Text = "Relative Growth (normalized)"
	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 0xd0}
	grid.Horizontal.Color = color.Gray{Y: 0xd0}
	p.Add(grid)
	p.Legend.Top = true
	p.Legend.Left = true

	for i, s := range species {
		if s.Sigma <= 0 {
			return "", errors.Errorf("growth curves: %s has sigma %v", s.Name, s.Sigma)
		}
		l, err := plotter.NewLine(GrowthCurve(s, 10, 35, 500))
		if err != nil {
			return "", err
		}
		l.LineStyle.Color = plotutil.Color(i)
		l.LineStyle.Width = vg.Points(2)
		p.Add(l)
		p.Legend.Add(s.Name, l)
	}
	return r.save(name, 12*vg.Inch, 8*vg.Inch, p.Draw)
}

// Study is one row of a forest plot. SE is the standard error of Effect.
type Study struct {
	Label  string
	Effect float64
	SE     float64
}

// CI95 returns the 95% confidence interval of the effect.
func (s Study) CI95() (lo, hi float64) {
	return s.Effect - 1.96*s.SE, s.Effect + 1.96*s.SE
}

// Panel is one column of a forest plot.
type Panel struct {
	Title   string
	Studies []Study
}

var studyLabels = []string{
	"Study A (SSP2)", "Study B (SSP2)", "Study C (SSP5)", "Study D (SSP5)",
	"Agg. Tropical (SSP2)", "Agg. Temperate (SSP2)",
	"Agg. Tropical (SSP5)", "Agg. Temperate (SSP5)",
}

func studies(effects, se []float64) []Study {
	out := make([]Study, len(studyLabels))
	for i, l := range studyLabels {
		out[i] = Study{Label: l, Effect: effects[i], SE: se[i]}
	}
	return out
}

// DefaultForest holds illustrative warming effects on growth rate and Fv/Fm.
var DefaultForest = []Panel{
	{
		Title: "Growth Rate Effects (Illustrative)",
		Studies: studies(
			[]float64{-0.45, -0.60, -0.85, -0.70, -0.80, -0.65, -1.00, -0.75},
			[]float64{0.18, 0.15, 0.20, 0.17, 0.12, 0.13, 0.14, 0.13},
		),
	},
	{
		Title: "Fv/Fm Effects (Illustrative)",
		Studies: studies(
			[]float64{-0.30, -0.40, -0.50, -0.35, -0.55, -0.30, -0.65, -0.45},
			[]float64{0.14, 0.12, 0.16, 0.13, 0.10, 0.11, 0.12, 0.11},
		),
	},
}

// intervals pairs effect points with their confidence intervals.
type intervals struct {
	plotter.XYs
	plotter.XErrors
}

var orange = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}

// ForestPlot draws the panels side by side with the first study at the top.
// Only the first panel carries study labels.
func (r *Renderer) ForestPlot(name string, panels []Panel) (string, error) {
	if len(panels) == 0 {
		return "", errors.New("forest plot: no panels")
	}
	row := make([]*plot.Plot, len(panels))
	for i, pn := range panels {
		n := len(pn.Studies)
		if n == 0 {
			return "", errors.Errorf("forest plot %q: no studies", pn.Title)
		}
		iv := intervals{XYs: make(plotter.XYs, n), XErrors: make(plotter.XErrors, n)}
		names := make([]string, n)
		for j, s := range pn.Studies {
			lo, hi := s.CI95()
			y := float64(n - 1 - j)
			iv.XYs[j] = plotter.XY{X: s.Effect, Y: y}
			iv.XErrors[j].Low = s.Effect - lo
			iv.XErrors[j].High = hi - s.Effect
			if i == 0 {
				names[n-1-j] = s.Label
			}
		}

		p := plot.New()
		p.Title.Text = pn.Title
		p.X.Label.Text = "Effect size (Hedges' g)"
		p.NominalY(names...)

		bars, err := plotter.NewXErrorBars(iv)
		if err != nil {
			return "", err
		}
		bars.LineStyle.Color = orange
		bars.LineStyle.Width = vg.Points(2)
		pts, err := plotter.NewScatter(iv.XYs)
		if err != nil {
			return "", err
		}
		pts.GlyphStyle.Shape = draw.BoxGlyph{}
		pts.GlyphStyle.Color = orange
		pts.GlyphStyle.Radius = vg.Points(3)
		zero, err := plotter.NewLine(plotter.XYs{{X: 0, Y: -1}, {X: 0, Y: float64(n)}})
		if err != nil {
			return "", err
		}
		zero.LineStyle.Color = color.Gray{Y: 0x80}
		zero.LineStyle.Dashes = dashed
		p.Add(zero, bars, pts)
		row[i] = p
	}
	return r.saveGrid(name, vg.Length(8*len(panels))*vg.Inch, 12*vg.Inch, [][]*plot.Plot{row})
}
