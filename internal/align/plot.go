package align

import (
	"fmt"
	"os"
	"path/filepath"

	"gridrun/internal/logging"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// trendPlot draws one parameter of one plane against the iteration number.
func (tr *Trend) trendPlot(param, detector int) (*plot.Plot, error) {
	values := tr.Values[param][detector]
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Detector: %d, Parameter: %d", detector+1, param+1)
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = fmt.Sprintf("parameter %d", param+1)

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	points, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	points.Shape = draw.CrossGlyph{}
	p.Add(line, points, plotter.NewGrid())
	return p, nil
}

// WritePNGs writes one trend plot per parameter and detector into dir and
// returns the file paths.
func (tr *Trend) WritePNGs(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plot directory: %w", err)
	}

	var files []string
	for param := 0; param < NParams; param++ {
		for det := 0; det < NDetectors; det++ {
			p, err := tr.trendPlot(param, det)
			if err != nil {
				return files, fmt.Errorf("plot parameter %d detector %d: %w", param+1, det+1, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("align_par%d_det%02d.png", param+1, det+1))
			if err := p.Save(plotWidth, plotHeight, path); err != nil {
				return files, fmt.Errorf("save %s: %w", path, err)
			}
			files = append(files, path)
		}
	}
	logging.Align("wrote %d trend plots to %s", len(files), dir)
	return files, nil
}

// WritePDF writes all trend plots into one PDF, one page per plot.
func (tr *Trend) WritePDF(path string) error {
	c := vgpdf.New(plotWidth, plotHeight)

	for param := 0; param < NParams; param++ {
		for det := 0; det < NDetectors; det++ {
			if param > 0 || det > 0 {
				c.NextPage()
			}
			p, err := tr.trendPlot(param, det)
			if err != nil {
				return fmt.Errorf("plot parameter %d detector %d: %w", param+1, det+1, err)
			}
			p.Draw(draw.New(c))
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plot directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logging.Align("wrote %d-page trend report to %s", NParams*NDetectors, path)
	return nil
}
