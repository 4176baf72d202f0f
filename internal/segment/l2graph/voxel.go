package l2graph

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
)

// VoxelGridBuilder partitions space into cubic cells of side Resolution.
// Each occupied cell becomes one vertex at the centroid of its points, and
// vertices of face/edge/corner adjacent cells are connected.
type VoxelGridBuilder struct {
	Resolution float64
}

// Kind returns KindVoxelGrid.
func (b *VoxelGridBuilder) Kind() Kind { return KindVoxelGrid }

type cellKey struct{ x, y, z int64 }

// forwardOffsets is half of the 26-neighbourhood; visiting only these from
// every cell tests each adjacent pair exactly once.
var forwardOffsets = func() []cellKey {
	var out []cellKey
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				if dx > 0 || (dx == 0 && dy > 0) || (dx == 0 && dy == 0 && dz > 0) {
					out = append(out, cellKey{dx, dy, dz})
				}
			}
		}
	}
	return out
}()

// maxCell bounds cell indices so neighbour offsets cannot overflow int64.
const maxCell = 1 << 62

// cellOf returns the cell containing pos, or false when the index is not
// representable.
func cellOf(pos r3.Vec, r float64) (cellKey, bool) {
	var idx [3]int64
	for i, x := range [3]float64{pos.X, pos.Y, pos.Z} {
		q := math.Floor(x / r)
		if !(math.Abs(q) < maxCell) {
			return cellKey{}, false
		}
		idx[i] = int64(q)
	}
	return cellKey{idx[0], idx[1], idx[2]}, true
}

type voxelAccum struct {
	key       cellKey
	sum       r3.Vec
	color     [3]float64
	normal    r3.Vec
	curvature float64
	n         int
}

// Build assigns points to cells in input order; vertex ids follow the order
// in which cells are first touched, so output is deterministic.
func (b *VoxelGridBuilder) Build(c *l1cloud.Cloud) (*Graph, error) {
	if err := checkCloud(c); err != nil {
		return nil, err
	}
	r := b.Resolution

	cells := make(map[cellKey]int)
	var acc []voxelAccum
	pointToVertex := make([]int, c.Len())
	dropped := 0

	for i, p := range c.Points {
		if !p.Valid() {
			pointToVertex[i] = NoVertex
			dropped++
			continue
		}
		k, ok := cellOf(p.Pos, r)
		if !ok {
			return nil, segment.Invalidf("point %d (%g, %g, %g) is out of range for voxel resolution %g",
				i, p.Pos.X, p.Pos.Y, p.Pos.Z, r)
		}
		id, seen := cells[k]
		if !seen {
			id = len(acc)
			cells[k] = id
			acc = append(acc, voxelAccum{key: k})
		}
		a := &acc[id]
		a.sum = r3.Add(a.sum, p.Pos)
		a.color[0] += float64(p.Color[0])
		a.color[1] += float64(p.Color[1])
		a.color[2] += float64(p.Color[2])
		a.normal = r3.Add(a.normal, p.Normal)
		a.curvature += p.Curvature
		a.n++
		pointToVertex[i] = id
	}

	g := NewGraph(len(acc), len(acc)*len(forwardOffsets)/2)
	g.PointToVertex = pointToVertex
	g.HasColor = c.HasColor
	g.HasNormals = c.HasNormals

	for _, a := range acc {
		n := float64(a.n)
		v := Vertex{
			Pos: r3.Scale(1/n, a.sum),
			Color: [3]uint8{
				uint8(math.Round(a.color[0] / n)),
				uint8(math.Round(a.color[1] / n)),
				uint8(math.Round(a.color[2] / n)),
			},
			Curvature: a.curvature / n,
		}
		if c.HasNormals {
			if norm := r3.Norm(a.normal); norm > 0 {
				v.Normal = r3.Scale(1/norm, a.normal)
			}
		}
		g.AddVertex(v)
	}

	for id, a := range acc {
		for _, off := range forwardOffsets {
			nk := cellKey{a.key.x + off.x, a.key.y + off.y, a.key.z + off.z}
			if nid, ok := cells[nk]; ok {
				g.AddEdge(id, nid)
			}
		}
	}
	g.Finalize()

	if dropped > 0 {
		opsf("voxel grid: dropped %d non-finite points", dropped)
	}
	diagf("voxel grid (r=%g): %d points -> %d vertices, %d edges", r, c.Len(), g.NumVertices(), g.NumEdges())
	return g, nil
}
