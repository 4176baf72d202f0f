package l5walker

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// State is the lifecycle of a Solver.
type State int

const (
	StateUnsolved State = iota
	StateSolving
	StateSolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSolving:
		return "solving"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	}
	return "unsolved"
}

// Mode selects what a solve returns.
type Mode int

const (
	// ModeLabels returns per-vertex labels only.
	ModeLabels Mode = iota
	// ModePotentials additionally keeps the potential matrix.
	ModePotentials
)

// ParseMode converts "labels" or "potential".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", config.SolverModeLabels:
		return ModeLabels, nil
	case config.SolverModePotential, "potentials":
		return ModePotentials, nil
	}
	return 0, segment.Invalidf("unknown solver mode %q", s)
}

// Options configures a Solver.
type Options struct {
	Mode Mode
	// DirectLimit is the largest unseeded component solved by dense
	// Cholesky; larger ones use conjugate gradient.
	DirectLimit int
	// Tolerance is the relative residual at which conjugate gradient stops.
	Tolerance float64
	// MaxIterations caps conjugate gradient; 0 means 10 × system size.
	MaxIterations int
	// Workers bounds concurrent label solves; 0 means GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{Mode: ModeLabels, DirectLimit: 2000, Tolerance: 1e-8}
}

// OptionsFromConfig extracts solver options from cfg.
func OptionsFromConfig(cfg *config.SegmentConfig) (Options, error) {
	mode, err := ParseMode(cfg.GetSolverMode())
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:          mode,
		DirectLimit:   cfg.GetDirectSolveLimit(),
		Tolerance:     cfg.GetCGTolerance(),
		MaxIterations: cfg.GetCGMaxIterations(),
		Workers:       cfg.GetWorkers(),
	}, nil
}

func (o Options) validate() error {
	if o.Mode != ModeLabels && o.Mode != ModePotentials {
		return segment.Invalidf("unknown solver mode %d", o.Mode)
	}
	if o.DirectLimit < 0 {
		return segment.Invalidf("direct solve limit must be non-negative, got %d", o.DirectLimit)
	}
	if !(o.Tolerance > 0) {
		return segment.Invalidf("solver tolerance must be positive, got %g", o.Tolerance)
	}
	if o.MaxIterations < 0 {
		return segment.Invalidf("max iterations must be non-negative, got %d", o.MaxIterations)
	}
	return nil
}

// Result is the outcome of a solve.
type Result struct {
	// Labels holds the label of every vertex; 0 marks vertices that could
	// not be labelled.
	Labels    []int
	NumLabels int

	// Potentials has one row per vertex and one column per label 1..K-1.
	// The potential of the reference label K is 1 minus the row sum. Only
	// set in ModePotentials with K ≥ 2.
	Potentials *mat.Dense

	// Trivial is set when a single label made the linear solve unnecessary.
	Trivial bool

	Components int // connected components containing a seed
	Unlabeled  int // vertices left at label 0
	Iterations int // total conjugate gradient iterations

	// Warnings collects per-component problems (ErrDisconnectedSeedComponent,
	// ErrSingularSystem) that did not abort the solve.
	Warnings []error
}

// Warning joins all warnings, or returns nil.
func (r *Result) Warning() error {
	return errors.Join(r.Warnings...)
}

// Potential returns the potential of label at vertex v. It requires
// ModePotentials.
func (r *Result) Potential(v, label int) float64 {
	if r.Potentials == nil || label < 1 || label > r.NumLabels {
		if r.Trivial && label == 1 {
			return 1
		}
		return 0
	}
	if label < r.NumLabels {
		return r.Potentials.At(v, label-1)
	}
	if r.Labels[v] == 0 {
		return 0
	}
	return 1 - mat.Sum(r.Potentials.RowView(v))
}

// Solver runs random walker segmentation. A Solver may be reused for
// several graphs but runs one solve at a time.
type Solver struct {
	opts Options

	mu     sync.Mutex
	state  State
	result *Result
}

// NewSolver validates opts and returns an unsolved Solver.
func NewSolver(opts Options) (*Solver, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Solver{opts: opts}, nil
}

// State returns the current lifecycle state.
func (s *Solver) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the result of the last successful solve.
func (s *Solver) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Solver) transition(to State, res *Result) {
	s.mu.Lock()
	s.state = to
	if res != nil {
		s.result = res
	}
	s.mu.Unlock()
}

// Segment labels every vertex of g from seeds. Invalid input and missing
// seeds fail before any work; per-component problems are reported in
// Result.Warnings. On success the labels are also written to
// g.Vertices[i].Label.
func (s *Solver) Segment(g *l2graph.Graph, seeds *SeedSet) (*Result, error) {
	s.mu.Lock()
	if s.state == StateSolving {
		s.mu.Unlock()
		return nil, fmt.Errorf("solver is busy")
	}
	s.state = StateSolving
	s.mu.Unlock()

	res, err := s.segment(g, seeds)
	if err != nil {
		s.transition(StateFailed, nil)
		return nil, err
	}
	for i := range g.Vertices {
		g.Vertices[i].Label = res.Labels[i]
	}
	s.transition(StateSolved, res)
	return res, nil
}

func (s *Solver) segment(g *l2graph.Graph, seeds *SeedSet) (*Result, error) {
	n := g.NumVertices()
	if n == 0 {
		return nil, segment.Invalidf("graph has no vertices")
	}
	if err := g.Validate(); err != nil {
		return nil, segment.Invalidf("graph: %v", err)
	}
	if err := seeds.Validate(n); err != nil {
		return nil, err
	}
	if !g.Finalized() {
		g.Finalize()
	}

	k := seeds.NumLabels()
	res := &Result{Labels: make([]int, n), NumLabels: k}

	assigned := seeds.Assignment(n)
	comp, count := g.Components()

	if k == 1 {
		for i := range res.Labels {
			res.Labels[i] = 1
		}
		res.Trivial = true
		res.Components = seededComponents(comp, count, assigned)
		opsf("single seed label: all %d vertices labelled 1 without solving", n)
		return res, nil
	}
	if s.opts.Mode == ModePotentials {
		res.Potentials = mat.NewDense(n, k-1, nil)
	}

	members := make([][]int, count)
	for v, c := range comp {
		members[c] = append(members[c], v)
	}

	var orphans []int
	orphanVerts := 0
	for c, verts := range members {
		var present []int
		seen := make(map[int]bool)
		unseeded := 0
		for _, v := range verts {
			if l := assigned[v]; l > 0 {
				if !seen[l] {
					seen[l] = true
					present = append(present, l)
				}
			} else {
				unseeded++
			}
		}

		sort.Ints(present)

		if len(present) == 0 {
			res.Unlabeled += len(verts)
			orphans = append(orphans, c)
			orphanVerts += len(verts)
			continue
		}
		res.Components++

		if len(present) == 1 || unseeded == 0 {
			for _, v := range verts {
				l := assigned[v]
				if l == 0 {
					l = present[0]
				}
				res.Labels[v] = l
				res.setUnit(v, l)
			}
			continue
		}

		iters, err := s.solveComponent(g, verts, assigned, present, res)
		res.Iterations += iters
		if err != nil {
			for _, v := range verts {
				res.Labels[v] = 0
				if res.Potentials != nil {
					for j := 0; j < k-1; j++ {
						res.Potentials.Set(v, j, 0)
					}
				}
			}
			res.Unlabeled += len(verts)
			res.Warnings = append(res.Warnings, fmt.Errorf("%w: component %d (%d vertices): %v", segment.ErrSingularSystem, c, len(verts), err))
			opsf("component %d: linear solve failed: %v", c, err)
		}
	}

	if len(orphans) > 0 {
		ids := formatComponentIDs(orphans)
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %d components (%d vertices) have no seed: %s",
			segment.ErrDisconnectedSeedComponent, len(orphans), orphanVerts, ids))
		opsf("%d components with %d vertices have no seed (%s); left unlabelled", len(orphans), orphanVerts, ids)
	}

	diagf("solved %d vertices, %d labels, %d seeded components, %d unlabelled, %d CG iterations",
		n, k, res.Components, res.Unlabeled, res.Iterations)
	return res, nil
}

// maxListedComponents caps the component ids named in a warning.
const maxListedComponents = 5

func formatComponentIDs(ids []int) string {
	var b strings.Builder
	for i, id := range ids {
		if i == maxListedComponents {
			fmt.Fprintf(&b, ", ... %d more", len(ids)-i)
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", id)
	}
	return b.String()
}

// seededComponents counts the components holding at least one seed.
func seededComponents(comp []int, count int, assigned []int) int {
	seeded := make([]bool, count)
	n := 0
	for v, l := range assigned {
		if l > 0 && !seeded[comp[v]] {
			seeded[comp[v]] = true
			n++
		}
	}
	return n
}

// setUnit records potential 1 for label at v when potentials are kept.
func (r *Result) setUnit(v, label int) {
	if r.Potentials != nil && label < r.NumLabels {
		r.Potentials.Set(v, label-1, 1)
	}
}

// solveComponent solves the Dirichlet problem on one connected component
// with at least two seed labels and at least one unseeded vertex.
func (s *Solver) solveComponent(g *l2graph.Graph, verts, assigned, present []int, res *Result) (int, error) {
	local := make(map[int]int, len(verts))
	var unseeded []int
	for _, v := range verts {
		if assigned[v] == 0 {
			local[v] = len(unseeded)
			unseeded = append(unseeded, v)
		}
	}
	m := len(unseeded)

	// The highest label present is the reference and is not solved for.
	solved := present[:len(present)-1]
	ref := present[len(present)-1]
	column := make(map[int]int, len(solved))
	for i, l := range solved {
		column[l] = i
	}

	a := &csr{n: m, rowPtr: make([]int, m+1), diag: make([]float64, m)}
	rhs := make([][]float64, len(solved))
	for i := range rhs {
		rhs[i] = make([]float64, m)
	}
	for i, v := range unseeded {
		nbrs, edges := g.Neighbors(v)
		for j, u := range nbrs {
			w := g.Edges[edges[j]].Weight
			a.diag[i] += w
			if lu, ok := local[u]; ok {
				a.col = append(a.col, lu)
				a.val = append(a.val, -w)
			} else if c, ok := column[assigned[u]]; ok {
				rhs[c][i] += w
			}
		}
		a.rowPtr[i+1] = len(a.col)
	}

	var ls linearSolver
	var err error
	if m <= s.opts.DirectLimit {
		ls, err = newCholeskySolver(a)
	} else {
		ls, err = newCGSolver(a, s.opts.Tolerance, s.opts.MaxIterations)
	}
	if err != nil {
		return 0, err
	}
	diagf("component of %d vertices: %d unseeded, %d labels, %s", len(verts), m, len(present), ls.name())

	x := make([][]float64, len(solved))
	iters := make([]int, len(solved))
	workers := s.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, l := range solved {
		x[i] = make([]float64, m)
		eg.Go(func() error {
			it, err := ls.solve(rhs[i], x[i])
			iters[i] = it
			tracef("label %d: %s finished after %d iterations", l, ls.name(), it)
			if err != nil {
				return fmt.Errorf("label %d: %w", l, err)
			}
			return nil
		})
	}
	err = eg.Wait()
	total := 0
	for _, it := range iters {
		total += it
	}
	if err != nil {
		return total, err
	}

	for _, v := range verts {
		if l := assigned[v]; l > 0 {
			res.Labels[v] = l
			res.setUnit(v, l)
		}
	}
	for i := range unseeded {
		sum := 0.0
		for c := range solved {
			sum += x[c][i]
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return total, errNotPositiveDefinite
		}
	}
	for i, v := range unseeded {
		sum := 0.0
		for c, l := range solved {
			p := x[c][i]
			sum += p
			if res.Potentials != nil {
				res.Potentials.Set(v, l-1, p)
			}
		}
		refP := 1 - sum
		if res.Potentials != nil && ref < res.NumLabels {
			res.Potentials.Set(v, ref-1, refP)
		}
		// Solved labels are ascending and all below ref, so a tie with an
		// earlier candidate keeps the lower label.
		best, bestP := ref, refP
		for c, l := range solved {
			if p := x[c][i]; p > bestP || (p == bestP && l < best) {
				best, bestP = l, p
			}
		}
		res.Labels[v] = best
	}
	return total, nil
}
