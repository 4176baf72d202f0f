package pipeline

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/testutil"
	"github.com/banshee-data/pointseg/internal/timeutil"
)

// unitVoxels builds on a 1 m voxel grid so that each fixture point is its own
// vertex.
func unitVoxels() *config.SegmentConfig {
	cfg := config.EmptySegmentConfig()
	res := 1.0
	cfg.VoxelResolution = &res
	cfg.Viewpoint = &[3]float64{0, 0, 10}
	return cfg
}

// twoPatchSeeds seeds the far corners of testutil.TwoClusters(5, 1, 3).
func twoPatchSeeds() PointSeeds {
	return PointSeeds{
		{Pos: r3.Vec{X: 0, Y: 0}, Label: 1},
		{Pos: r3.Vec{X: 11, Y: 4}, Label: 2},
	}
}

func TestRun_TwoClusters(t *testing.T) {
	t.Parallel()

	cloud := testutil.TwoClusters(5, 1, 3)
	clock := timeutil.NewStepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)
	out, err := Run(context.Background(), cloud, twoPatchSeeds(), Options{Config: unitVoxels(), Clock: clock})
	require.NoError(t, err)

	assert.Equal(t, 50, out.Graph.NumVertices())
	assert.Empty(t, out.Result.Warnings)
	assert.Equal(t, 2, out.Result.NumLabels)

	labels := out.PointLabels()
	require.Len(t, labels, 50)
	for i, l := range labels {
		want := uint32(1)
		if i >= 25 {
			want = 2
		}
		assert.Equal(t, want, l, "point %d", i)
	}

	clusters := out.Clusters()
	require.Len(t, clusters, 3)
	assert.Len(t, clusters[0], 25)
	assert.Len(t, clusters[1], 25)
	assert.Empty(t, clusters[2])
	assert.Equal(t, 25, clusters[1][0])

	assert.Equal(t, time.Millisecond, out.Timings.Graph)
	assert.Equal(t, time.Millisecond, out.Timings.Features)
	assert.Equal(t, time.Millisecond, out.Timings.Weights)
	assert.Equal(t, time.Millisecond, out.Timings.Solve)
	assert.Greater(t, out.Timings.Total, 5*time.Millisecond)
	assert.Equal(t, out.Graph.NumEdges(), out.Weights.Edges)
}

func TestRun_InvalidPointsStayUnlabelled(t *testing.T) {
	t.Parallel()

	cloud := testutil.TwoClusters(5, 1, 3)
	cloud.Points = append(cloud.Points, l1cloud.Point{Pos: r3.Vec{X: math.NaN()}})
	out, err := Run(context.Background(), cloud, twoPatchSeeds(), Options{Config: unitVoxels()})
	require.NoError(t, err)

	labels := out.PointLabels()
	require.Len(t, labels, 51)
	assert.Zero(t, labels[50])
	clusters := out.Clusters()
	assert.Equal(t, []int{50}, clusters[2])
}

func TestRun_SingleLabel(t *testing.T) {
	t.Parallel()

	out, err := Run(context.Background(), testutil.PlanarGrid(4, 4, 1), PointSeeds{{Pos: r3.Vec{X: 2, Y: 2}, Label: 1}},
		Options{Config: unitVoxels()})
	require.NoError(t, err)
	assert.True(t, out.Result.Trivial)
	for _, l := range out.PointLabels() {
		assert.Equal(t, uint32(1), l)
	}
}

func TestRun_PrecomputedGraph(t *testing.T) {
	t.Parallel()

	b, err := l2graph.NewBuilder(l2graph.Params{Kind: l2graph.KindVoxelGrid, Resolution: 1})
	require.NoError(t, err)
	cloud := testutil.Line(6, 1)
	g, err := b.Build(cloud)
	require.NoError(t, err)
	g.Vertices[3].Label = 7

	out, err := Run(context.Background(), cloud, VertexSeeds{0: 1, 5: 2}, Options{Graph: g})
	require.NoError(t, err)
	assert.Same(t, g, out.Graph)
	assert.Zero(t, out.Timings.Graph)
	assert.Zero(t, out.Timings.Weights)
	assert.Equal(t, []uint32{1, 1, 1, 2, 2, 2}, out.PointLabels())
	assert.Equal(t, 1.0, out.Weights.Mean)
}

func TestRun_SeedErrorsBeforeAnyStage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		seeds SeedSource
		want  error
	}{
		{"only label 0", PointSeeds{{Pos: r3.Vec{X: 1}}, {Pos: r3.Vec{X: 2}}}, segment.ErrDegenerateSeeding},
		{"empty points", PointSeeds{}, segment.ErrDegenerateSeeding},
		{"label gap", PointSeeds{{Pos: r3.Vec{}, Label: 1}, {Pos: r3.Vec{X: 11, Y: 4}, Label: 3}}, segment.ErrInvalidInput},
		{"non-finite seed", PointSeeds{{Pos: r3.Vec{X: math.Inf(1)}, Label: 1}}, segment.ErrInvalidInput},
		{"empty vertices", VertexSeeds{}, segment.ErrDegenerateSeeding},
		{"vertex label gap", VertexSeeds{0: 2}, segment.ErrInvalidInput},
		{"negative vertex", VertexSeeds{-1: 1}, segment.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			clock := timeutil.NewStepClock(start, time.Millisecond)
			out, err := Run(context.Background(), testutil.TwoClusters(5, 1, 3), tt.seeds, Options{Config: unitVoxels(), Clock: clock})
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, out)
			assert.Equal(t, start, clock.Now(), "no stage may run before seeds are checked")
		})
	}
}

func TestPointSeeds_Labels(t *testing.T) {
	t.Parallel()

	labels, err := PointSeeds{{Label: 2}, {Label: 0}, {Label: 1}, {Label: 2}}.Labels()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, labels)

	labels, err = VertexSeeds{4: 1, 9: 2, 3: 1}.Labels()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, labels)
}

func TestBuildGraph_ThenRun(t *testing.T) {
	t.Parallel()

	cloud := testutil.TwoClusters(5, 1, 3)
	built, err := BuildGraph(context.Background(), cloud, Options{Config: unitVoxels()})
	require.NoError(t, err)
	assert.Nil(t, built.Result)
	assert.Nil(t, built.Seeds)
	assert.Equal(t, 50, built.Graph.NumVertices())

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, l2graph.SaveGraph(fsys, "scene.rwg", built.Graph))
	cached, err := l2graph.LoadGraph(fsys, "scene.rwg")
	require.NoError(t, err)

	out, err := Run(context.Background(), cloud, twoPatchSeeds(), Options{Config: unitVoxels(), Graph: cached})
	require.NoError(t, err)
	for i, l := range out.PointLabels() {
		want := uint32(1)
		if i >= 25 {
			want = 2
		}
		assert.Equal(t, want, l, "point %d", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BuildGraph(ctx, cloud, Options{Config: unitVoxels()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	cloud := testutil.TwoClusters(3, 1, 3)

	bad := "octree"
	cfg := config.EmptySegmentConfig()
	cfg.GraphBuilder = &bad
	_, err := Run(context.Background(), cloud, twoPatchSeeds(), Options{Config: cfg})
	assert.ErrorIs(t, err, segment.ErrInvalidInput)

	_, err = Run(context.Background(), cloud, nil, Options{Config: unitVoxels()})
	assert.ErrorIs(t, err, segment.ErrDegenerateSeeding)

	_, err = Run(context.Background(), cloud, PointSeeds{}, Options{Config: unitVoxels()})
	assert.ErrorIs(t, err, segment.ErrDegenerateSeeding)

	_, err = Run(context.Background(), l1cloud.NewCloud(nil), twoPatchSeeds(), Options{Config: unitVoxels()})
	assert.ErrorIs(t, err, segment.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, cloud, twoPatchSeeds(), Options{Config: unitVoxels()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestOutput_WriteSegmentation(t *testing.T) {
	t.Parallel()

	out, err := Run(context.Background(), testutil.TwoClusters(5, 1, 3), twoPatchSeeds(), Options{Config: unitVoxels()})
	require.NoError(t, err)

	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, out.WriteSegmentation(fsys, SegmentationFile))

	back, err := l1cloud.LoadPCD(fsys, SegmentationFile)
	require.NoError(t, err)
	require.Equal(t, 50, back.Len())
	assert.True(t, back.HasLabels)
	for i, p := range back.Points {
		assert.Equal(t, out.PointLabels()[i], p.Label)
	}
}

func TestOutput_WriteClusters(t *testing.T) {
	t.Parallel()

	out, err := Run(context.Background(), testutil.TwoClusters(5, 1, 3), twoPatchSeeds(), Options{Config: unitVoxels()})
	require.NoError(t, err)

	dir := t.TempDir()
	fsys := fsutil.NewMemoryFileSystem()
	paths, err := out.WriteClusters(fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "cluster0.pcd"), filepath.Join(dir, "cluster1.pcd")}, paths)

	c1, err := l1cloud.LoadPCD(fsys, paths[1])
	require.NoError(t, err)
	assert.Equal(t, 25, c1.Len())
	assert.Equal(t, 7.0, c1.Points[0].Pos.X)
}

func TestOutput_NoCloud(t *testing.T) {
	t.Parallel()

	out, err := Run(context.Background(), testutil.Line(3, 1), VertexSeeds{0: 1, 2: 2}, Options{Config: unitVoxels()})
	require.NoError(t, err)
	out.Cloud = nil
	_, err = out.LabeledCloud()
	assert.ErrorIs(t, err, segment.ErrInvalidInput)
	_, err = out.WriteClusters(fsutil.NewMemoryFileSystem(), t.TempDir())
	assert.ErrorIs(t, err, segment.ErrInvalidInput)
}

// Not parallel: log writers are package globals.
func TestSetLogWriters(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	g := l2graph.NewGraph(4, 2)
	for i := 0; i < 4; i++ {
		g.AddVertex(l2graph.Vertex{Pos: r3.Vec{X: float64(i)}})
	}
	g.AddEdge(0, 1)
	g.AddEdge(2, 3)
	g.Finalize()

	_, err := Run(context.Background(), nil, VertexSeeds{0: 1, 1: 2}, Options{Graph: g})
	require.NoError(t, err)

	assert.Contains(t, diag.String(), "[pipeline] ")
	assert.Contains(t, diag.String(), "[l5walker] ")
	assert.Contains(t, ops.String(), "segmentation finished with warnings")
}
