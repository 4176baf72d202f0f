package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l3features"
	"github.com/banshee-data/pointseg/internal/segment/l4weights"
	"github.com/banshee-data/pointseg/internal/segment/l5walker"
	"github.com/banshee-data/pointseg/internal/timeutil"
)

// SeedSource resolves seeds against a built graph. Labels is called before
// any stage runs and reports the labels the source will produce, failing
// on an empty or gapped label set.
type SeedSource interface {
	Labels() ([]int, error)
	Seeds(g *l2graph.Graph) (*l5walker.SeedSet, error)
}

// PointSeeds are labelled positions snapped to their nearest vertex. Points
// with label 0 are ignored.
type PointSeeds []l1cloud.Point

// Labels implements SeedSource.
func (p PointSeeds) Labels() ([]int, error) {
	seen := make(map[int]struct{})
	for i, pt := range p {
		if pt.Label == 0 {
			continue
		}
		if !pt.Valid() {
			return nil, segment.Invalidf("seed point %d has a non-finite position", i)
		}
		seen[int(pt.Label)] = struct{}{}
	}
	return checkedLabels(seen)
}

// Seeds implements SeedSource.
func (p PointSeeds) Seeds(g *l2graph.Graph) (*l5walker.SeedSet, error) {
	return l5walker.SeedsFromPoints(g, p)
}

// VertexSeeds maps vertex ids directly to labels.
type VertexSeeds map[int]int

// Labels implements SeedSource.
func (v VertexSeeds) Labels() ([]int, error) {
	seen := make(map[int]struct{})
	for vertex, l := range v {
		if vertex < 0 {
			return nil, segment.Invalidf("seed vertex %d is negative", vertex)
		}
		seen[l] = struct{}{}
	}
	return checkedLabels(seen)
}

func checkedLabels(seen map[int]struct{}) ([]int, error) {
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	if err := l5walker.CheckLabels(labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// Seeds implements SeedSource.
func (v VertexSeeds) Seeds(*l2graph.Graph) (*l5walker.SeedSet, error) {
	return l5walker.SeedsFromVertices(v), nil
}

// Options configures Run. A nil Config uses the built-in defaults; a nil
// Clock uses the wall clock.
type Options struct {
	Config *config.SegmentConfig
	Clock  timeutil.Clock

	// Graph, when set, is a graph whose features and weights are already
	// computed (for instance loaded from a cache file). Run then skips the
	// build, feature and weight stages and segments it directly.
	Graph *l2graph.Graph
}

// Timings records the wall time of each stage.
type Timings struct {
	Graph    time.Duration
	Features time.Duration
	Weights  time.Duration
	Seeds    time.Duration
	Solve    time.Duration
	Total    time.Duration
}

// Output is the result of a run.
type Output struct {
	Cloud   *l1cloud.Cloud
	Graph   *l2graph.Graph
	Seeds   *l5walker.SeedSet
	Result  *l5walker.Result
	Weights l4weights.Stats
	Timings Timings
}

// Run segments cloud. ctx is checked between stages; a cancelled run
// returns ctx.Err() and no partial output.
func Run(ctx context.Context, cloud *l1cloud.Cloud, seeds SeedSource, opts Options) (*Output, error) {
	cfg, clock, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	if seeds == nil {
		return nil, fmt.Errorf("%w: no seed source", segment.ErrDegenerateSeeding)
	}
	labels, err := seeds.Labels()
	if err != nil {
		return nil, fmt.Errorf("checking seeds: %w", err)
	}
	diagf("seeding %d labels", len(labels))

	out := &Output{Cloud: cloud}
	start := clock.Now()
	stage := stager(ctx, clock)

	if opts.Graph != nil {
		out.Graph = opts.Graph
		out.Graph.ResetLabels()
		out.Weights = l4weights.Summarize(out.Graph)
		diagf("using precomputed graph: %d vertices, %d edges", out.Graph.NumVertices(), out.Graph.NumEdges())
	} else if err := buildGraph(cloud, cfg, stage, out); err != nil {
		return nil, err
	}

	if err := stage("resolving seeds", &out.Timings.Seeds, func() error {
		var err error
		out.Seeds, err = seeds.Seeds(out.Graph)
		return err
	}); err != nil {
		return nil, err
	}

	if err := stage("solving", &out.Timings.Solve, func() error {
		solverOpts, err := l5walker.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		s, err := l5walker.NewSolver(solverOpts)
		if err != nil {
			return err
		}
		out.Result, err = s.Segment(out.Graph, out.Seeds)
		return err
	}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out.Timings.Total = clock.Since(start)
	if w := out.Result.Warning(); w != nil {
		opsf("segmentation finished with warnings: %v", w)
	}
	diagf("segmentation of %d points into %d labels took %v", cloud.Len(), out.Result.NumLabels, out.Timings.Total)
	return out, nil
}

// BuildGraph runs only the graph, feature and weight stages. The returned
// Output has no Seeds or Result; its Graph can be cached and later passed
// back through Options.Graph.
func BuildGraph(ctx context.Context, cloud *l1cloud.Cloud, opts Options) (*Output, error) {
	cfg, clock, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	out := &Output{Cloud: cloud}
	start := clock.Now()
	if err := buildGraph(cloud, cfg, stager(ctx, clock), out); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.Timings.Total = clock.Since(start)
	return out, nil
}

func (o Options) resolve() (*config.SegmentConfig, timeutil.Clock, error) {
	cfg := o.Config
	if cfg == nil {
		cfg = config.EmptySegmentConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, segment.Invalidf("config: %v", err)
	}
	clock := o.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return cfg, clock, nil
}

type stageFunc func(name string, d *time.Duration, fn func() error) error

// stager returns a function that runs one timed stage after checking ctx.
func stager(ctx context.Context, clock timeutil.Clock) stageFunc {
	return func(name string, d *time.Duration, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		t0 := clock.Now()
		err := fn()
		*d = clock.Since(t0)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		diagf("%s took %v", name, *d)
		return nil
	}
}

func buildGraph(cloud *l1cloud.Cloud, cfg *config.SegmentConfig, stage stageFunc, out *Output) error {
	if err := stage("building graph", &out.Timings.Graph, func() error {
		b, err := l2graph.BuilderFromConfig(cfg)
		if err != nil {
			return err
		}
		out.Graph, err = b.Build(cloud)
		return err
	}); err != nil {
		return err
	}
	if err := stage("computing features", &out.Timings.Features, func() error {
		return l3features.Compute(out.Graph, l3features.OptionsFromConfig(cfg))
	}); err != nil {
		return err
	}
	if err := stage("computing edge weights", &out.Timings.Weights, func() error {
		wc, err := l4weights.FromConfig(cfg)
		if err != nil {
			return err
		}
		out.Weights, err = wc.Compute(out.Graph)
		return err
	}); err != nil {
		return err
	}
	diagf("built a graph with %d vertices and %d edges", out.Graph.NumVertices(), out.Graph.NumEdges())
	return nil
}
