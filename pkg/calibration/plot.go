package calibration

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Plot dimensions for WritePlot.
const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// WritePlot renders observed sample pixels and, when calibrated, the model's
// predictions as a PNG scatter plot.
func (m *Mapper) WritePlot(w io.Writer) error {
	samples := m.Samples()
	residuals := m.Residuals()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Laser calibration (%d samples)", len(samples))
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Add(plotter.NewGrid())

	if len(samples) > 0 {
		observed := make(plotter.XYs, 0, len(samples))
		for _, s := range samples {
			observed = append(observed, plotter.XY{X: s.X, Y: s.Y})
		}
		sc, err := plotter.NewScatter(observed)
		if err != nil {
			return fmt.Errorf("observed scatter: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add("observed", sc)
	}

	if len(residuals) > 0 {
		predicted := make(plotter.XYs, 0, len(residuals))
		for _, r := range residuals {
			predicted = append(predicted, plotter.XY{X: r.Predicted.X, Y: r.Predicted.Y})
		}
		sc, err := plotter.NewScatter(predicted)
		if err != nil {
			return fmt.Errorf("predicted scatter: %w", err)
		}
		sc.GlyphStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(sc)
		p.Legend.Add("predicted", sc)
	}

	// Image coordinates grow downward.
	p.Y.Scale = plot.InvertedScale{Normalizer: p.Y.Scale}

	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render calibration plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write calibration plot: %w", err)
	}
	return nil
}
