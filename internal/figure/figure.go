// Package figure renders PNG figures with gonum/plot.
package figure

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Renderer writes figures below Dir at DPI dots per inch.
type Renderer struct {
	logger *slog.Logger
	Dir    string
	DPI    int
}

// New returns a Renderer writing into dir.
func New(logger *slog.Logger, dir string, dpi int) *Renderer {
	if dpi <= 0 {
		dpi = 150
	}
	return &Renderer{logger: logger, Dir: dir, DPI: dpi}
}

// save draws onto a w x h canvas and writes it as name.png. It returns the
// path written.
func (r *Renderer) save(name string, w, h vg.Length, drawFn func(dc draw.Canvas)) (string, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating figures directory")
	}
	img := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(r.DPI))
	dc := draw.New(img)
	drawFn(dc)

	path := filepath.Join(r.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s", path)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	r.logger.Info("saved figure", "path", path)
	return path, nil
}

// saveGrid lays plots out in rows and columns sharing aligned axes.
func (r *Renderer) saveGrid(name string, w, h vg.Length, plots [][]*plot.Plot) (string, error) {
	rows := len(plots)
	cols := 0
	for _, row := range plots {
		cols = max(cols, len(row))
	}
	return r.save(name, w, h, func(dc draw.Canvas) {
		t := draw.Tiles{
			Rows:      rows,
			Cols:      cols,
			PadX:      vg.Millimeter * 4,
			PadY:      vg.Millimeter * 4,
			PadTop:    vg.Millimeter * 2,
			PadBottom: vg.Millimeter * 2,
			PadLeft:   vg.Millimeter * 2,
			PadRight:  vg.Millimeter * 4,
		}
		canvases := plot.Align(plots, t, dc)
		for i := range plots {
			for j, p := range plots[i] {
				if p != nil {
					p.Draw(canvases[i][j])
				}
			}
		}
	})
}
