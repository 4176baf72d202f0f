package report

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l4weights"
)

// DefaultBins is the histogram bin count used when none is given.
const DefaultBins = 50

// WeightHistogram writes a PNG histogram of the graph's edge weights.
func WeightHistogram(w io.Writer, g *l2graph.Graph, bins int) error {
	weights := l4weights.Weights(g)
	if len(weights) == 0 {
		return segment.Invalidf("graph has no edges to plot")
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	stats := l4weights.Summarize(g)

	p := plot.New()
	p.Title.Text = "Edge weights"
	p.X.Label.Text = fmt.Sprintf("Weight (min %.3g, mean %.3g, max %.3g)", stats.Min, stats.Mean, stats.Max)
	p.Y.Label.Text = "Edges"

	h, err := plotter.NewHist(plotter.Values(weights), bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	h.FillColor = labelColors(1)[1]
	p.Add(h)

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render histogram: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write histogram: %w", err)
	}
	return nil
}

// SaveWeightHistogram writes WeightHistogram to path.
func SaveWeightHistogram(fsys fsutil.FileSystem, path string, g *l2graph.Graph, bins int) error {
	f, err := fsys.Create(path)
	if err != nil {
		return segment.IOError("create", path, err)
	}
	if err := WeightHistogram(f, g, bins); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return segment.IOError("close", path, err)
	}
	return nil
}
