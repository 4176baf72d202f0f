package l2graph

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// NoVertex marks an input point that was not mapped to any vertex.
const NoVertex = -1

// Vertex is one graph node. Position, colour and (optionally) normal come
// from the builder; Normal, Curvature and Concave are overwritten by the
// feature computer; Label is written only by seeding and the solver.
type Vertex struct {
	Pos       r3.Vec
	Color     [3]uint8
	Normal    r3.Vec
	Curvature float64
	Concave   bool
	Label     int
}

// Edge is an undirected edge with U < V. Weight is a positive closeness.
type Edge struct {
	U, V   int
	Weight float64
}

// Graph is an arena: vertices and edges are dense integer-indexed records.
// Adjacency is a compressed index over Edges rebuilt by Finalize.
type Graph struct {
	Vertices []Vertex
	Edges    []Edge

	// PointToVertex maps each input point index to its vertex id or NoVertex.
	PointToVertex []int

	// HasColor / HasNormals record whether the source cloud carried colour or
	// normals, so weight terms and the feature computer can tell a default
	// zero from real data.
	HasColor   bool
	HasNormals bool

	edgeIndex map[uint64]int

	// CSR adjacency: neighbours of v are adj[offsets[v]:offsets[v+1]],
	// with the connecting edge ids at the same positions of adjEdge.
	offsets []int
	adj     []int
	adjEdge []int
}

// NewGraph creates an empty graph with capacity hints.
func NewGraph(vertexHint, edgeHint int) *Graph {
	return &Graph{
		Vertices:  make([]Vertex, 0, vertexHint),
		Edges:     make([]Edge, 0, edgeHint),
		edgeIndex: make(map[uint64]int, edgeHint),
	}
}

// NumVertices returns the vertex count.
func (g *Graph) NumVertices() int { return len(g.Vertices) }

// NumEdges returns the undirected edge count.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// AddVertex appends v and returns its id.
func (g *Graph) AddVertex(v Vertex) int {
	g.Vertices = append(g.Vertices, v)
	g.offsets = nil
	return len(g.Vertices) - 1
}

func edgeKey(u, v int) uint64 {
	return uint64(uint32(u))<<32 | uint64(uint32(v))
}

// AddEdge inserts the undirected edge {u, v} with weight 1 unless it is a
// self-loop or already present. It returns the edge id and whether a new
// edge was created; for a self-loop the id is -1.
func (g *Graph) AddEdge(u, v int) (int, bool) {
	if u == v {
		return -1, false
	}
	if u > v {
		u, v = v, u
	}
	if g.edgeIndex == nil {
		g.rebuildEdgeIndex()
	}
	k := edgeKey(u, v)
	if id, ok := g.edgeIndex[k]; ok {
		return id, false
	}
	id := len(g.Edges)
	g.Edges = append(g.Edges, Edge{U: u, V: v, Weight: 1})
	g.edgeIndex[k] = id
	g.offsets = nil
	return id, true
}

// FindEdge returns the id of edge {u, v}, or -1.
func (g *Graph) FindEdge(u, v int) int {
	if u > v {
		u, v = v, u
	}
	if g.edgeIndex == nil {
		g.rebuildEdgeIndex()
	}
	if id, ok := g.edgeIndex[edgeKey(u, v)]; ok {
		return id
	}
	return -1
}

func (g *Graph) rebuildEdgeIndex() {
	g.edgeIndex = make(map[uint64]int, len(g.Edges))
	for i, e := range g.Edges {
		g.edgeIndex[edgeKey(e.U, e.V)] = i
	}
}

// Finalize builds the adjacency index. It must be called after the last
// AddVertex/AddEdge and before concurrent readers use Neighbors.
func (g *Graph) Finalize() {
	n := len(g.Vertices)
	offsets := make([]int, n+1)
	for _, e := range g.Edges {
		offsets[e.U+1]++
		offsets[e.V+1]++
	}
	for i := 0; i < n; i++ {
		offsets[i+1] += offsets[i]
	}
	adj := make([]int, offsets[n])
	adjEdge := make([]int, offsets[n])
	fill := make([]int, n)
	copy(fill, offsets[:n])
	for id, e := range g.Edges {
		adj[fill[e.U]], adjEdge[fill[e.U]] = e.V, id
		fill[e.U]++
		adj[fill[e.V]], adjEdge[fill[e.V]] = e.U, id
		fill[e.V]++
	}
	g.offsets, g.adj, g.adjEdge = offsets, adj, adjEdge
}

// Finalized reports whether the adjacency index is current.
func (g *Graph) Finalized() bool {
	return g.offsets != nil && len(g.offsets) == len(g.Vertices)+1
}

// Neighbors returns the neighbour vertex ids of v and the ids of the
// connecting edges. The slices alias internal storage and must not be
// modified. Builds the adjacency index on first use if needed; that first
// call is not safe for concurrent use.
func (g *Graph) Neighbors(v int) (nbrs, edges []int) {
	if !g.Finalized() {
		g.Finalize()
	}
	lo, hi := g.offsets[v], g.offsets[v+1]
	return g.adj[lo:hi], g.adjEdge[lo:hi]
}

// Degree returns the number of edges incident to v.
func (g *Graph) Degree(v int) int {
	if !g.Finalized() {
		g.Finalize()
	}
	return g.offsets[v+1] - g.offsets[v]
}

// Validate checks the structural invariants: endpoints in range, U < V
// (hence no self-loops), no parallel edges, positive weights and a point
// map that only references existing vertices.
func (g *Graph) Validate() error {
	n := len(g.Vertices)
	seen := make(map[uint64]struct{}, len(g.Edges))
	for i, e := range g.Edges {
		if e.U < 0 || e.V >= n || e.U >= e.V {
			return fmt.Errorf("edge %d (%d,%d) invalid for %d vertices", i, e.U, e.V, n)
		}
		k := edgeKey(e.U, e.V)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("edge %d (%d,%d) duplicated", i, e.U, e.V)
		}
		seen[k] = struct{}{}
		if !(e.Weight > 0) {
			return fmt.Errorf("edge %d (%d,%d) has non-positive weight %g", i, e.U, e.V, e.Weight)
		}
	}
	for i, v := range g.PointToVertex {
		if v != NoVertex && (v < 0 || v >= n) {
			return fmt.Errorf("point %d maps to vertex %d out of range", i, v)
		}
	}
	return nil
}

// Components labels each vertex with a connected component id in
// [0, count). Ids are assigned in order of the lowest vertex id.
func (g *Graph) Components() (comp []int, count int) {
	n := len(g.Vertices)
	comp = make([]int, n)
	for i := range comp {
		comp[i] = -1
	}
	stack := make([]int, 0, 64)
	for s := 0; s < n; s++ {
		if comp[s] >= 0 {
			continue
		}
		comp[s] = count
		stack = append(stack[:0], s)
		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			nbrs, _ := g.Neighbors(v)
			for _, u := range nbrs {
				if comp[u] < 0 {
					comp[u] = count
					stack = append(stack, u)
				}
			}
		}
		count++
	}
	return comp, count
}

// Labels returns a copy of the per-vertex labels.
func (g *Graph) Labels() []int {
	out := make([]int, len(g.Vertices))
	for i := range g.Vertices {
		out[i] = g.Vertices[i].Label
	}
	return out
}

// ResetLabels sets every vertex label to 0.
func (g *Graph) ResetLabels() {
	for i := range g.Vertices {
		g.Vertices[i].Label = 0
	}
}
