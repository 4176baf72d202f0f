package l2graph

import (
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
)

// queryChunk is the number of points handed to one worker at a time.
const queryChunk = 4096

// NearestNeighborsBuilder creates one vertex per valid point and connects it
// to its neighbours as found by a SpatialIndex, either the k nearest
// (KindKNN) or those within a radius (KindRadius, capped at k when k > 0).
type NearestNeighborsBuilder struct {
	mode    Kind
	k       int
	radius  float64
	workers int
	index   IndexFactory
}

// Kind returns KindKNN or KindRadius.
func (b *NearestNeighborsBuilder) Kind() Kind { return b.mode }

// Build queries every point's neighbourhood in parallel, then inserts edges
// sequentially in point order so the edge list is deterministic.
func (b *NearestNeighborsBuilder) Build(c *l1cloud.Cloud) (*Graph, error) {
	if err := checkCloud(c); err != nil {
		return nil, err
	}

	pointToVertex := make([]int, c.Len())
	positions := make([]r3.Vec, 0, c.Len())
	g := NewGraph(c.Len(), c.Len()*max(b.k, 1))
	g.HasColor = c.HasColor
	g.HasNormals = c.HasNormals

	for i, p := range c.Points {
		if !p.Valid() {
			pointToVertex[i] = NoVertex
			continue
		}
		v := Vertex{Pos: p.Pos, Color: p.Color}
		if c.HasNormals {
			v.Normal = p.Normal
			v.Curvature = p.Curvature
		}
		pointToVertex[i] = g.AddVertex(v)
		positions = append(positions, p.Pos)
	}
	g.PointToVertex = pointToVertex
	if dropped := c.Len() - len(positions); dropped > 0 {
		opsf("%s: %d points outside the validity mask map to no vertex", b.mode, dropped)
	}

	// k == 0 in KNN mode is a plain vertex set.
	if b.mode == KindKNN && b.k == 0 {
		g.Finalize()
		diagf("knn (k=0): %d vertices, no edges", g.NumVertices())
		return g, nil
	}

	factory := b.index
	if factory == nil {
		factory = KDTreeFactory
	}
	index := factory(positions)

	found := make([][]Neighbor, len(positions))
	var eg errgroup.Group
	eg.SetLimit(workerCount(b.workers))
	for start := 0; start < len(positions); start += queryChunk {
		start, end := start, min(start+queryChunk, len(positions))
		eg.Go(func() error {
			for v := start; v < end; v++ {
				found[v] = b.query(index, positions[v], v)
			}
			tracef("%s: queried vertices [%d, %d)", b.mode, start, end)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	isolated := 0
	for v, nbrs := range found {
		if len(nbrs) == 0 {
			isolated++
		}
		for _, nb := range nbrs {
			g.AddEdge(v, nb.Index)
		}
	}
	g.Finalize()

	diagf("%s: %d points -> %d vertices, %d edges, %d isolated", b.describe(), c.Len(), g.NumVertices(), g.NumEdges(), isolated)
	return g, nil
}

// query returns the neighbours of vertex self, excluding self.
func (b *NearestNeighborsBuilder) query(index SpatialIndex, q r3.Vec, self int) []Neighbor {
	var hits []Neighbor
	limit := b.k
	switch b.mode {
	case KindKNN:
		hits = index.KNearest(q, b.k+1)
	default:
		if limit > 0 {
			hits = index.WithinRadius(q, b.radius, limit+1)
		} else {
			hits = index.WithinRadius(q, b.radius, 0)
		}
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Index != self {
			out = append(out, h)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (b *NearestNeighborsBuilder) describe() string {
	if b.mode == KindKNN {
		return Params{Kind: KindKNN, K: b.k}.Describe()
	}
	return Params{Kind: KindRadius, Radius: b.radius, MaxNeighbors: b.k}.Describe()
}
