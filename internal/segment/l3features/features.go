package l3features

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// MinNeighbors is the smallest neighbourhood for which a normal is estimated.
const MinNeighbors = 3

// concaveTolerance scales the mean neighbour distance into the offset a
// neighbour centroid must exceed along the normal to count as concave.
const concaveTolerance = 1e-6

const vertexChunk = 2048

// Options controls feature computation.
type Options struct {
	// Viewpoint is the position normals are oriented towards.
	Viewpoint r3.Vec

	// KeepInputNormals skips estimation when the graph already carries
	// normals from the input cloud; only concavity is computed.
	KeepInputNormals bool

	// Workers bounds parallelism; 0 means GOMAXPROCS.
	Workers int
}

// OptionsFromConfig extracts feature options from cfg.
func OptionsFromConfig(cfg *config.SegmentConfig) Options {
	vp := cfg.GetViewpoint()
	return Options{
		Viewpoint:        r3.Vec{X: vp[0], Y: vp[1], Z: vp[2]},
		KeepInputNormals: cfg.GetKeepInputNormals(),
		Workers:          cfg.GetWorkers(),
	}
}

// Compute runs ComputeNormalsAndCurvatures (unless input normals are kept)
// followed by ComputeSignedCurvatures.
func Compute(g *l2graph.Graph, opts Options) error {
	if opts.KeepInputNormals && g.HasNormals {
		diagf("keeping %d input normals", g.NumVertices())
	} else if err := ComputeNormalsAndCurvatures(g, opts); err != nil {
		return err
	}
	return ComputeSignedCurvatures(g, opts.Workers)
}

// ComputeNormalsAndCurvatures estimates each vertex normal and curvature
// from the covariance of the vertex and its graph neighbours. The normal is
// the eigenvector of the smallest eigenvalue, flipped to face
// opts.Viewpoint; curvature is λmin / (λ0 + λ1 + λ2). Vertices with fewer
// than MinNeighbors neighbours get a zero normal and zero curvature.
func ComputeNormalsAndCurvatures(g *l2graph.Graph, opts Options) error {
	if !g.Finalized() {
		g.Finalize()
	}
	degenerate := make([]int, chunks(g.NumVertices()))
	err := forChunks(g.NumVertices(), opts.Workers, func(chunk, lo, hi int) {
		for v := lo; v < hi; v++ {
			vx := &g.Vertices[v]
			nbrs, _ := g.Neighbors(v)
			if len(nbrs) < MinNeighbors {
				vx.Normal, vx.Curvature = r3.Vec{}, 0
				degenerate[chunk]++
				continue
			}
			normal, curvature, ok := pca(g, v, nbrs)
			if !ok {
				vx.Normal, vx.Curvature = r3.Vec{}, 0
				degenerate[chunk]++
				continue
			}
			if r3.Dot(normal, r3.Sub(opts.Viewpoint, vx.Pos)) < 0 {
				normal = r3.Scale(-1, normal)
			}
			vx.Normal, vx.Curvature = normal, curvature
		}
		tracef("normals for vertices [%d, %d)", lo, hi)
	})
	if err != nil {
		return err
	}
	g.HasNormals = true

	total := 0
	for _, n := range degenerate {
		total += n
	}
	if total > 0 {
		opsf("%d of %d vertices have fewer than %d usable neighbours; normal left undefined", total, g.NumVertices(), MinNeighbors)
	}
	diagf("estimated normals for %d vertices", g.NumVertices())
	return nil
}

// pca returns the unit normal and curvature of the neighbourhood of v.
func pca(g *l2graph.Graph, v int, nbrs []int) (r3.Vec, float64, bool) {
	n := float64(len(nbrs) + 1)
	mean := g.Vertices[v].Pos
	for _, u := range nbrs {
		mean = r3.Add(mean, g.Vertices[u].Pos)
	}
	mean = r3.Scale(1/n, mean)

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	accumulate := func(p r3.Vec) {
		d := r3.Sub(p, mean)
		cov[0] += d.X * d.X
		cov[1] += d.X * d.Y
		cov[2] += d.X * d.Z
		cov[3] += d.Y * d.Y
		cov[4] += d.Y * d.Z
		cov[5] += d.Z * d.Z
	}
	accumulate(g.Vertices[v].Pos)
	for _, u := range nbrs {
		accumulate(g.Vertices[u].Pos)
	}
	for i := range cov {
		cov[i] /= n
	}

	sym := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})
	var eigen mat.EigenSym
	if !eigen.Factorize(sym, true) {
		return r3.Vec{}, 0, false
	}
	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	// Eigenvalues are ascending; column 0 is the normal direction.
	normal := r3.Vec{X: vecs.At(0, 0), Y: vecs.At(1, 0), Z: vecs.At(2, 0)}
	norm := r3.Norm(normal)
	if norm == 0 || math.IsNaN(norm) {
		return r3.Vec{}, 0, false
	}
	normal = r3.Scale(1/norm, normal)

	var curvature float64
	if sum := vals[0] + vals[1] + vals[2]; sum > 1e-300 {
		curvature = math.Max(vals[0], 0) / sum
	}
	return normal, curvature, true
}

// ComputeSignedCurvatures classifies every vertex as concave or convex. A
// vertex is concave when the centroid of its neighbours lies on the
// positive side of its tangent plane, i.e. the surface bends towards the
// normal. Concave vertices get a negative curvature. Vertices with a zero
// normal or no neighbours are convex.
func ComputeSignedCurvatures(g *l2graph.Graph, workers int) error {
	if !g.Finalized() {
		g.Finalize()
	}
	concave := make([]int, chunks(g.NumVertices()))
	err := forChunks(g.NumVertices(), workers, func(chunk, lo, hi int) {
		for v := lo; v < hi; v++ {
			vx := &g.Vertices[v]
			nbrs, _ := g.Neighbors(v)
			vx.Concave = isConcave(g, v, nbrs)
			vx.Curvature = math.Abs(vx.Curvature)
			if vx.Concave {
				vx.Curvature = -vx.Curvature
				concave[chunk]++
			}
		}
	})
	if err != nil {
		return err
	}
	total := 0
	for _, n := range concave {
		total += n
	}
	diagf("signed curvature: %d concave, %d convex", total, g.NumVertices()-total)
	return nil
}

func isConcave(g *l2graph.Graph, v int, nbrs []int) bool {
	vx := g.Vertices[v]
	if len(nbrs) == 0 || r3.Norm2(vx.Normal) == 0 {
		return false
	}
	var centroid r3.Vec
	var spread float64
	for _, u := range nbrs {
		d := r3.Sub(g.Vertices[u].Pos, vx.Pos)
		centroid = r3.Add(centroid, d)
		spread += r3.Norm(d)
	}
	k := float64(len(nbrs))
	offset := r3.Dot(r3.Scale(1/k, centroid), vx.Normal)
	return offset > concaveTolerance*spread/k
}

func chunks(n int) int {
	return (n + vertexChunk - 1) / vertexChunk
}

// forChunks calls fn over [0, n) split into vertexChunk ranges on at most
// workers goroutines. Each chunk index is passed so callers can keep
// per-chunk tallies without locking.
func forChunks(n, workers int, fn func(chunk, lo, hi int)) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for c := 0; c < chunks(n); c++ {
		lo, hi := c*vertexChunk, min((c+1)*vertexChunk, n)
		eg.Go(func() error {
			fn(c, lo, hi)
			return nil
		})
	}
	return eg.Wait()
}
