package telemetry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoPositiveData is returned when a histogram has nothing to draw on log axes.
var ErrNoPositiveData = errors.New("histogram has no positive buckets")

// logPoints returns the buckets usable on log-log axes (key and count > 0).
func logPoints(h *Histogram) plotter.XYs {
	buckets := h.Buckets()
	pts := make(plotter.XYs, 0, len(buckets))
	for _, b := range buckets {
		if b.Key <= 0 || b.Count <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(b.Key), Y: float64(b.Count)})
	}
	return pts
}

// PlotHistogram saves a log-log scatter of h as a PNG.
func PlotHistogram(h *Histogram, path string) error {
	pts := logPoints(h)
	if len(pts) == 0 {
		return fmt.Errorf("%s: %w", h.Name, ErrNoPositiveData)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s distribution (%d avalanches)", h.Metric, h.Total())
	p.X.Label.Text = h.Metric
	p.Y.Label.Text = "Number Avalanches"
	p.X.Scale = plot.LogScale{}
	p.Y.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("scatter for %s: %w", h.Name, err)
	}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving %s: %w", filepath.Base(path), err)
	}
	return nil
}

// PlotHistograms writes one PNG per histogram into dir and returns the
// paths written. Histograms with nothing to draw are skipped.
func PlotHistograms(h *Histograms, dir string) ([]string, error) {
	var written []string
	for _, hist := range h.All() {
		path := filepath.Join(dir, hist.Name+".png")
		err := PlotHistogram(hist, path)
		if errors.Is(err, ErrNoPositiveData) {
			continue
		}
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// histogramChart builds an interactive log-log scatter for one histogram.
func histogramChart(h *Histogram) *charts.Scatter {
	pts := logPoints(h)
	data := make([]opts.ScatterData, 0, len(pts))
	for _, pt := range pts {
		data = append(data, opts.ScatterData{Value: []interface{}{pt.X, pt.Y}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Avalanche Statistics", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: h.Metric, Subtitle: fmt.Sprintf("avalanches=%d buckets=%d", h.Total(), len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: h.Metric, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "log", Name: "Number Avalanches", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries(h.Name, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
	return scatter
}

// RenderCharts writes a single HTML page with one chart per histogram.
func RenderCharts(h *Histograms, path string) error {
	page := components.NewPage()
	page.PageTitle = "Avalanche Statistics"
	for _, hist := range h.All() {
		page.AddCharts(histogramChart(hist))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("rendering charts: %w", err)
	}
	return f.Close()
}
