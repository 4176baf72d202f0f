package l2graph

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Neighbor is one spatial query hit: the index of the point in the set the
// index was built from, and its squared distance to the query.
type Neighbor struct {
	Index  int
	DistSq float64
}

// SpatialIndex answers nearest-neighbour and radius queries over a fixed
// point set. Results are sorted by ascending distance, ties by index.
// Implementations must be safe for concurrent queries.
type SpatialIndex interface {
	// KNearest returns up to k points closest to q.
	KNearest(q r3.Vec, k int) []Neighbor

	// WithinRadius returns the points within radius of q, capped at the
	// max closest when max > 0.
	WithinRadius(q r3.Vec, radius float64, max int) []Neighbor

	// Len returns the number of indexed points.
	Len() int
}

// IndexFactory builds a SpatialIndex over points. Builders accept one so
// callers (and tests) can substitute the search structure.
type IndexFactory func(points []r3.Vec) SpatialIndex

// KDTreeIndex is the default SpatialIndex, backed by gonum's k-d tree.
type KDTreeIndex struct {
	tree *kdtree.Tree
	n    int
}

// NewKDTreeIndex builds a k-d tree over points. The points slice is copied.
func NewKDTreeIndex(points []r3.Vec) *KDTreeIndex {
	pts := make(kdPoints, len(points))
	for i, p := range points {
		pts[i] = kdPoint{pos: p, idx: i}
	}
	idx := &KDTreeIndex{n: len(points)}
	if len(pts) > 0 {
		idx.tree = kdtree.New(pts, false)
	}
	return idx
}

// KDTreeFactory adapts NewKDTreeIndex to IndexFactory.
func KDTreeFactory(points []r3.Vec) SpatialIndex {
	return NewKDTreeIndex(points)
}

// Len returns the number of indexed points.
func (t *KDTreeIndex) Len() int { return t.n }

// KNearest returns up to k nearest points to q.
func (t *KDTreeIndex) KNearest(q r3.Vec, k int) []Neighbor {
	if k <= 0 || t.tree == nil {
		return nil
	}
	keep := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keep, kdPoint{pos: q, idx: -1})
	return collect(keep.Heap, 0)
}

// WithinRadius returns all points within radius of q, capped at max.
func (t *KDTreeIndex) WithinRadius(q r3.Vec, radius float64, max int) []Neighbor {
	if radius <= 0 || t.tree == nil {
		return nil
	}
	// kdPoint.Distance is squared, so the keeper bound is too.
	keep := kdtree.NewDistKeeper(radius * radius)
	t.tree.NearestSet(keep, kdPoint{pos: q, idx: -1})
	return collect(keep.Heap, max)
}

// collect drops the keeper sentinel, sorts and truncates.
func collect(h kdtree.Heap, max int) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, cd := range h {
		if cd.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{Index: cd.Comparable.(kdPoint).idx, DistSq: cd.Dist})
	}
	sortNeighbors(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func sortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].DistSq != ns[j].DistSq {
			return ns[i].DistSq < ns[j].DistSq
		}
		return ns[i].Index < ns[j].Index
	})
}

// kdPoint carries its original index through the tree's in-place reordering.
type kdPoint struct {
	pos r3.Vec
	idx int
}

func coord(v r3.Vec, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Compare returns the signed distance of p from c along dimension d.
func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return coord(p.pos, d) - coord(c.(kdPoint).pos, d)
}

// Dims returns the number of dimensions.
func (p kdPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between p and c.
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	d := r3.Sub(p.pos, c.(kdPoint).pos)
	return r3.Dot(d, d)
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable { return p[i] }
func (p kdPoints) Len() int                      { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int        { return kdPlane{Dim: d, kdPoints: p}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

// kdPlane sorts kdPoints along one dimension for median partitioning.
type kdPlane struct {
	kdtree.Dim
	kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return coord(p.kdPoints[i].pos, p.Dim) < coord(p.kdPoints[j].pos, p.Dim)
}
func (p kdPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.kdPoints = p.kdPoints[start:end]
	return p
}
func (p kdPlane) Swap(i, j int) {
	p.kdPoints[i], p.kdPoints[j] = p.kdPoints[j], p.kdPoints[i]
}
