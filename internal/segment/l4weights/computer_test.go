package l4weights

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l3features"
	"github.com/banshee-data/pointseg/internal/testutil"
)

// pathGraph returns vertices at xs on the x axis joined in sequence.
func pathGraph(xs ...float64) *l2graph.Graph {
	g := l2graph.NewGraph(len(xs), len(xs))
	for i, x := range xs {
		g.AddVertex(l2graph.Vertex{Pos: r3.Vec{X: x}})
		if i > 0 {
			g.AddEdge(i-1, i)
		}
	}
	g.Finalize()
	return g
}

func sphereGraph(t *testing.T) *l2graph.Graph {
	t.Helper()
	c := testutil.Sphere(400, r3.Vec{}, 1)
	for i := range c.Points {
		c.Points[i].Color = [3]uint8{uint8(i * 7), uint8(i * 13), uint8(i * 29)}
	}
	c.HasColor = true
	b, err := l2graph.NewBuilder(l2graph.Params{Kind: l2graph.KindKNN, K: 8})
	require.NoError(t, err)
	g, err := b.Build(c)
	require.NoError(t, err)
	require.NoError(t, l3features.Compute(g, l3features.Options{}))
	return g
}

func mustComputer(t *testing.T, threshold float64, terms ...TermConfig) *Computer {
	t.Helper()
	c, err := NewComputer(threshold, 0)
	require.NoError(t, err)
	for _, tc := range terms {
		require.NoError(t, c.AddTerm(tc))
	}
	return c
}

func TestCompute_NoTermsGivesUnitWeights(t *testing.T) {
	t.Parallel()

	g := sphereGraph(t)
	stats, err := mustComputer(t, DefaultSmallWeightThreshold).Compute(g)
	require.NoError(t, err)
	for _, e := range g.Edges {
		assert.Equal(t, 1.0, e.Weight)
	}
	assert.Equal(t, Stats{Edges: g.NumEdges(), Min: 1, Max: 1, Mean: 1}, stats)
}

func TestCompute_XYZRaw(t *testing.T) {
	t.Parallel()

	g := pathGraph(0, 2, 3)
	_, err := mustComputer(t, 1e-9, TermConfig{Name: "xyz", Influence: 0.5, ConcaveMultiplier: 1}).Compute(g)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-0.5*4), g.Edges[0].Weight, 1e-15)
	assert.InDelta(t, math.Exp(-0.5*1), g.Edges[1].Weight, 1e-15)
}

func TestCompute_Normalization(t *testing.T) {
	t.Parallel()

	// Raw squared lengths 1, 4, 1.
	xs := []float64{0, 1, 3, 4}

	g := pathGraph(xs...)
	_, err := mustComputer(t, 1e-9, TermConfig{Name: "xyz", Influence: 1, ConcaveMultiplier: 1, Normalization: NormalizationGlobal}).Compute(g)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-0.5), g.Edges[0].Weight, 1e-12)
	assert.InDelta(t, math.Exp(-2), g.Edges[1].Weight, 1e-12)

	g = pathGraph(xs...)
	_, err = mustComputer(t, 1e-9, TermConfig{Name: "xyz", Influence: 1, ConcaveMultiplier: 1, Normalization: NormalizationLocal}).Compute(g)
	require.NoError(t, err)
	// Edge 0 neighbourhood {1, 4}: mean 2.5. Edge 1 neighbourhood {1, 4, 1}: mean 2.
	assert.InDelta(t, math.Exp(-1/2.5), g.Edges[0].Weight, 1e-12)
	assert.InDelta(t, math.Exp(-4.0/2), g.Edges[1].Weight, 1e-12)
	assert.InDelta(t, g.Edges[0].Weight, g.Edges[2].Weight, 1e-15)
}

func TestCompute_UniformSpacingNormalizesToOne(t *testing.T) {
	t.Parallel()

	for _, norm := range []Normalization{NormalizationLocal, NormalizationGlobal} {
		g := l2graphFromGrid(t)
		_, err := mustComputer(t, 1e-9, TermConfig{Name: "xyz", Influence: 2, ConcaveMultiplier: 1, Normalization: norm}).Compute(g)
		require.NoError(t, err)
		for _, e := range g.Edges {
			assert.InDelta(t, math.Exp(-2), e.Weight, 1e-12, norm.String())
		}
	}
}

func l2graphFromGrid(t *testing.T) *l2graph.Graph {
	t.Helper()
	// 4-connected lattice: every edge has length 0.5.
	b, err := l2graph.NewBuilder(l2graph.Params{Kind: l2graph.KindRadius, Radius: 0.6})
	require.NoError(t, err)
	g, err := b.Build(testutil.PlanarGrid(5, 5, 0.5))
	require.NoError(t, err)
	return g
}

func TestCompute_ThresholdCoercion(t *testing.T) {
	t.Parallel()

	g := sphereGraph(t)
	stats, err := mustComputer(t, 1e-3, TermConfig{Name: "xyz", Influence: 1e6, ConcaveMultiplier: 1}).Compute(g)
	require.NoError(t, err)
	assert.Equal(t, g.NumEdges(), stats.Coerced)
	for _, e := range g.Edges {
		assert.Equal(t, 1e-3, e.Weight)
	}
	require.NoError(t, g.Validate())
}

func TestCompute_WeightsAtLeastThreshold(t *testing.T) {
	t.Parallel()

	g := sphereGraph(t)
	c := mustComputer(t, 1e-5,
		TermConfig{Name: "xyz", Influence: 3, ConcaveMultiplier: 1, Normalization: NormalizationLocal},
		TermConfig{Name: "normal", Influence: 50, ConcaveMultiplier: 1},
		TermConfig{Name: "curvature", Influence: 1, ConcaveMultiplier: 1},
		TermConfig{Name: "rgb", Influence: 20, ConcaveMultiplier: 1, Normalization: NormalizationGlobal},
	)
	stats, err := c.Compute(g)
	require.NoError(t, err)
	for _, e := range g.Edges {
		assert.GreaterOrEqual(t, e.Weight, 1e-5)
		assert.LessOrEqual(t, e.Weight, 1.0)
	}
	assert.GreaterOrEqual(t, stats.Min, 1e-5)
	assert.LessOrEqual(t, stats.Min, stats.Mean)
	assert.LessOrEqual(t, stats.Mean, stats.Max)
}

func TestCompute_TermOrderIndependent(t *testing.T) {
	t.Parallel()

	terms := []TermConfig{
		{Name: "xyz", Influence: 3, ConcaveMultiplier: 1, Normalization: NormalizationLocal},
		{Name: "normal", Influence: 1, ConcaveMultiplier: 0.5},
		{Name: "curvature", Influence: 1, ConcaveMultiplier: 1},
		{Name: "rgb", Influence: 3, ConcaveMultiplier: 1, Normalization: NormalizationGlobal},
	}
	reversed := []TermConfig{terms[3], terms[2], terms[1], terms[0]}

	g1, g2 := sphereGraph(t), sphereGraph(t)
	_, err := mustComputer(t, 1e-5, terms...).Compute(g1)
	require.NoError(t, err)
	_, err = mustComputer(t, 1e-5, reversed...).Compute(g2)
	require.NoError(t, err)
	assert.Equal(t, Weights(g1), Weights(g2))
}

func TestCompute_WorkerCountDoesNotChangeWeights(t *testing.T) {
	t.Parallel()

	tc := TermConfig{Name: "xyz", Influence: 3, ConcaveMultiplier: 1, Normalization: NormalizationLocal}
	g1, g2 := sphereGraph(t), sphereGraph(t)
	c1, err := NewComputer(1e-5, 1)
	require.NoError(t, err)
	require.NoError(t, c1.AddTerm(tc))
	c8, err := NewComputer(1e-5, 8)
	require.NoError(t, err)
	require.NoError(t, c8.AddTerm(tc))

	_, err = c1.Compute(g1)
	require.NoError(t, err)
	_, err = c8.Compute(g2)
	require.NoError(t, err)
	assert.Equal(t, Weights(g1), Weights(g2))
}

func TestCompute_ConcaveMultiplier(t *testing.T) {
	t.Parallel()

	g := l2graph.NewGraph(3, 2)
	g.AddVertex(l2graph.Vertex{Normal: r3.Vec{Z: 1}})
	g.AddVertex(l2graph.Vertex{Normal: r3.Vec{X: 1}})
	g.AddVertex(l2graph.Vertex{Normal: r3.Vec{Z: 1}, Concave: true})
	g.AddEdge(0, 1) // both convex
	g.AddEdge(1, 2) // one concave endpoint
	g.Finalize()

	_, err := mustComputer(t, 1e-9, TermConfig{Name: "normal", Influence: 1, ConcaveMultiplier: 0}).Compute(g)
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.Edges[0].Weight)
	assert.InDelta(t, math.Exp(-1), g.Edges[1].Weight, 1e-15)
}

func TestAddTerm_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]TermConfig{
		"unknown term":        {Name: "sift", Influence: 1, ConcaveMultiplier: 1},
		"negative influence":  {Name: "xyz", Influence: -1, ConcaveMultiplier: 1},
		"NaN influence":       {Name: "xyz", Influence: math.NaN(), ConcaveMultiplier: 1},
		"multiplier above 1":  {Name: "xyz", Influence: 1, ConcaveMultiplier: 1.5},
		"negative multiplier": {Name: "xyz", Influence: 1, ConcaveMultiplier: -0.1},
		"bad normalization":   {Name: "xyz", Influence: 1, ConcaveMultiplier: 1, Normalization: 7},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := mustComputer(t, 1e-5)
			assert.ErrorIs(t, c.AddTerm(tc), segment.ErrInvalidInput)
		})
	}

	c := mustComputer(t, 1e-5, TermConfig{Name: "xyz", Influence: 1, ConcaveMultiplier: 1})
	assert.ErrorIs(t, c.AddTerm(TermConfig{Name: "xyz", Influence: 2, ConcaveMultiplier: 1}), segment.ErrInvalidInput)
}

func TestNewComputer_InvalidThreshold(t *testing.T) {
	t.Parallel()

	for _, th := range []float64{0, -1, 1, math.NaN()} {
		_, err := NewComputer(th, 0)
		assert.ErrorIs(t, err, segment.ErrInvalidInput, "threshold %g", th)
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	c, err := FromConfig(config.EmptySegmentConfig())
	require.NoError(t, err)
	got := c.Terms()
	require.Len(t, got, 3)
	assert.Equal(t, TermConfig{Name: "curvature", Influence: 1, ConcaveMultiplier: 0}, got[0])
	assert.Equal(t, TermConfig{Name: "normal", Influence: 1, ConcaveMultiplier: 0}, got[1])
	assert.Equal(t, TermConfig{Name: "xyz", Influence: 3, ConcaveMultiplier: 1, Normalization: NormalizationLocal}, got[2])
}

func TestParseNormalization(t *testing.T) {
	t.Parallel()

	for s, want := range map[string]Normalization{"": NormalizationNone, "none": NormalizationNone, "Local": NormalizationLocal, "global": NormalizationGlobal} {
		got, err := ParseNormalization(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseNormalization("max")
	assert.ErrorIs(t, err, segment.ErrInvalidInput)
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Stats{}, Summarize(l2graph.NewGraph(0, 0)))
}
