package l2graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/testutil"
)

func TestVertexLocator(t *testing.T) {
	t.Parallel()

	g := mustBuild(t, Params{Kind: KindVoxelGrid, Resolution: 1}, testutil.PlanarGrid(3, 3, 1))
	loc := NewVertexLocator(g)

	v, d := loc.Nearest(r3.Vec{X: 2.1, Y: 0.9, Z: 0.2})
	assert.Equal(t, g.PointToVertex[5], v)
	assert.InDelta(t, 0.01+0.01+0.04, d, 1e-12)

	empty := NewVertexLocator(NewGraph(0, 0))
	v, _ = empty.Nearest(r3.Vec{})
	assert.Equal(t, NoVertex, v)
}
