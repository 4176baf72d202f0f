package l2graph

import "gonum.org/v1/gonum/spatial/r3"

// VertexLocator finds the vertex nearest to an arbitrary position, used to
// snap picked or loaded seed points onto the graph.
type VertexLocator struct {
	index SpatialIndex
}

// NewVertexLocator indexes the current vertex positions of g.
func NewVertexLocator(g *Graph) *VertexLocator {
	pos := make([]r3.Vec, len(g.Vertices))
	for i, v := range g.Vertices {
		pos[i] = v.Pos
	}
	return &VertexLocator{index: NewKDTreeIndex(pos)}
}

// Nearest returns the id of the vertex closest to q and its squared
// distance, or NoVertex when the graph is empty.
func (l *VertexLocator) Nearest(q r3.Vec) (int, float64) {
	hits := l.index.KNearest(q, 1)
	if len(hits) == 0 {
		return NoVertex, 0
	}
	return hits[0].Index, hits[0].DistSq
}
