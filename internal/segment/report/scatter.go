package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l5walker"
)

// Plane selects the two coordinates a scatter projects onto.
type Plane string

const (
	PlaneXY Plane = "xy"
	PlaneXZ Plane = "xz"
	PlaneYZ Plane = "yz"
)

// ParsePlane validates a projection name; "" means PlaneXY.
func ParsePlane(s string) (Plane, error) {
	switch p := Plane(s); p {
	case "":
		return PlaneXY, nil
	case PlaneXY, PlaneXZ, PlaneYZ:
		return p, nil
	}
	return "", segment.Invalidf("unknown projection %q (want xy, xz or yz)", s)
}

func (p Plane) project(v l2graph.Vertex) (float64, float64) {
	switch p {
	case PlaneXZ:
		return v.Pos.X, v.Pos.Z
	case PlaneYZ:
		return v.Pos.Y, v.Pos.Z
	}
	return v.Pos.X, v.Pos.Y
}

// ScatterOptions configures the HTML dashboard.
type ScatterOptions struct {
	Title      string
	Plane      Plane
	MaxPoints  int    // vertices drawn per chart; 0 draws every vertex
	AssetsHost string // go-echarts asset prefix; "" uses the library default
}

// DefaultMaxPoints bounds chart size for large clouds.
const DefaultMaxPoints = 20000

func (o ScatterOptions) stride(n int) int {
	max := o.MaxPoints
	if max <= 0 || n <= max {
		return 1
	}
	return (n + max - 1) / max
}

func (o ScatterOptions) initialization(title string) opts.Initialization {
	in := opts.Initialization{PageTitle: title, Width: "900px", Height: "900px"}
	if o.AssetsHost != "" {
		in.AssetsHost = o.AssetsHost
	}
	return in
}

func axisNames(p Plane) (string, string) {
	s := string(p)
	if s == "" {
		s = string(PlaneXY)
	}
	return fmt.Sprintf("%c (m)", s[0]-'a'+'A'), fmt.Sprintf("%c (m)", s[1]-'a'+'A')
}

// LabelChart plots every vertex coloured by label, one series per label.
// Unlabelled vertices form the "unlabelled" series.
func LabelChart(g *l2graph.Graph, res *l5walker.Result, o ScatterOptions) *charts.Scatter {
	k := res.NumLabels
	colors := labelColors(k)
	stride := o.stride(g.NumVertices())
	series := make([][]opts.ScatterData, k+1)
	for v := 0; v < g.NumVertices(); v += stride {
		l := res.Labels[v]
		x, y := o.Plane.project(g.Vertices[v])
		series[l] = append(series[l], opts.ScatterData{Value: []interface{}{x, y}})
	}

	xName, yName := axisNames(o.Plane)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(o.initialization(o.Title+" labels")),
		charts.WithTitleOpts(opts.Title{Title: "Labels", Subtitle: fmt.Sprintf("%s vertices=%d labels=%d stride=%d", o.Title, g.NumVertices(), k, stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
	)
	for l := 1; l <= k; l++ {
		scatter.AddSeries(fmt.Sprintf("label %d", l), series[l],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[l])}),
		)
	}
	if len(series[0]) > 0 {
		scatter.AddSeries("unlabelled", series[0],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[0])}),
		)
	}
	return scatter
}

// PotentialChart plots the potential of label at every labelled vertex. It
// needs a result solved in potential mode.
func PotentialChart(g *l2graph.Graph, res *l5walker.Result, label int, o ScatterOptions) (*charts.Scatter, error) {
	if res.Potentials == nil && !res.Trivial {
		return nil, segment.Invalidf("result has no potentials; solve in potential mode")
	}
	if label < 1 || label > res.NumLabels {
		return nil, segment.Invalidf("label %d out of range 1..%d", label, res.NumLabels)
	}
	stride := o.stride(g.NumVertices())
	data := make([]opts.ScatterData, 0, g.NumVertices()/stride+1)
	for v := 0; v < g.NumVertices(); v += stride {
		if res.Labels[v] == 0 {
			continue
		}
		x, y := o.Plane.project(g.Vertices[v])
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, res.Potential(v, label)}})
	}

	xName, yName := axisNames(o.Plane)
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(o.initialization(o.Title+" potentials")),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Potential of label %d", label), Subtitle: fmt.Sprintf("%s vertices=%d stride=%d", o.Title, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("potential", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	return scatter, nil
}

// Dashboard writes an HTML page with the label chart followed by one
// potential chart per label when potentials are available.
func Dashboard(w io.Writer, g *l2graph.Graph, res *l5walker.Result, o ScatterOptions) error {
	if g.NumVertices() != len(res.Labels) {
		return segment.Invalidf("result has %d labels for %d vertices", len(res.Labels), g.NumVertices())
	}
	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(LabelChart(g, res, o))
	if res.Potentials != nil {
		for l := 1; l <= res.NumLabels; l++ {
			c, err := PotentialChart(g, res, l, o)
			if err != nil {
				return err
			}
			page.AddCharts(c)
		}
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

// SaveDashboard writes Dashboard to path.
func SaveDashboard(fsys fsutil.FileSystem, path string, g *l2graph.Graph, res *l5walker.Result, o ScatterOptions) error {
	f, err := fsys.Create(path)
	if err != nil {
		return segment.IOError("create", path, err)
	}
	if err := Dashboard(f, g, res, o); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return segment.IOError("close", path, err)
	}
	return nil
}
