package l4weights

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

func TestTerms_Evaluate(t *testing.T) {
	t.Parallel()

	a := &l2graph.Vertex{Pos: r3.Vec{X: 1}, Normal: r3.Vec{Z: 1}, Curvature: -0.2, Color: [3]uint8{255, 0, 0}}
	b := &l2graph.Vertex{Pos: r3.Vec{X: 1, Y: 2, Z: 2}, Normal: r3.Vec{X: 1}, Curvature: 0.5, Color: [3]uint8{0, 0, 0}}
	flat := &l2graph.Vertex{}

	cases := []struct {
		term Term
		a, b *l2graph.Vertex
		want float64
	}{
		{XYZTerm{}, a, b, 8},
		{XYZTerm{}, a, a, 0},
		{NormalTerm{}, a, b, 1},
		{NormalTerm{}, a, a, 0},
		{NormalTerm{}, a, flat, 0},
		{CurvatureTerm{}, a, b, 0.1},
		{RGBTerm{}, a, b, 1},
		{RGBTerm{}, b, b, 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, tc.term.Evaluate(tc.a, tc.b), 1e-12, tc.term.Name())
		assert.InDelta(t, tc.want, tc.term.Evaluate(tc.b, tc.a), 1e-12, "%s symmetric", tc.term.Name())
	}
}

func TestNormalTerm_Opposite(t *testing.T) {
	t.Parallel()

	a := &l2graph.Vertex{Normal: r3.Vec{Z: 1}}
	b := &l2graph.Vertex{Normal: r3.Vec{Z: -1}}
	assert.Equal(t, 2.0, NormalTerm{}.Evaluate(a, b))
}

type constTerm struct{}

func (constTerm) Name() string                           { return "const" }
func (constTerm) Evaluate(_, _ *l2graph.Vertex) float64 { return math.Ln2 }

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Subset(t, RegisteredTerms(), []string{"curvature", "normal", "rgb", "xyz"})

	_, err := NewTerm("nope")
	assert.ErrorIs(t, err, segment.ErrInvalidInput)

	Register("const", func() Term { return constTerm{} })
	term, err := NewTerm("const")
	require.NoError(t, err)
	assert.Equal(t, "const", term.Name())

	g := pathGraph(0, 1)
	c := mustComputer(t, 1e-5, TermConfig{Name: "const", Influence: 1, ConcaveMultiplier: 1})
	_, err = c.Compute(g)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, g.Edges[0].Weight, 1e-15)
}

func TestRequirer(t *testing.T) {
	t.Parallel()

	g := l2graph.NewGraph(0, 0)
	assert.False(t, RGBTerm{}.Requires(g))
	assert.False(t, NormalTerm{}.Requires(g))
	g.HasColor, g.HasNormals = true, true
	assert.True(t, RGBTerm{}.Requires(g))
	assert.True(t, CurvatureTerm{}.Requires(g))
}
