package l4weights

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// Normalization selects how raw term values are rescaled before weighting.
type Normalization int

const (
	// NormalizationNone uses raw values.
	NormalizationNone Normalization = iota
	// NormalizationLocal divides by the mean over the edges incident to
	// either endpoint.
	NormalizationLocal
	// NormalizationGlobal divides by the mean over all edges.
	NormalizationGlobal
)

// ParseNormalization converts "none", "local" or "global".
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return NormalizationNone, nil
	case "local":
		return NormalizationLocal, nil
	case "global":
		return NormalizationGlobal, nil
	}
	return 0, segment.Invalidf("unknown normalization %q", s)
}

func (n Normalization) String() string {
	switch n {
	case NormalizationLocal:
		return "local"
	case NormalizationGlobal:
		return "global"
	}
	return "none"
}

// TermConfig binds a registered term to its weighting parameters.
type TermConfig struct {
	Name      string
	Influence float64
	// ConcaveMultiplier scales the term on edges whose endpoints are both
	// convex; 0 restricts the term to concave regions.
	ConcaveMultiplier float64
	Normalization     Normalization
}

type boundTerm struct {
	TermConfig
	term Term
}

// DefaultSmallWeightThreshold is the floor weights are coerced up to.
const DefaultSmallWeightThreshold = 1e-5

const edgeChunk = 8192

// Computer assigns edge weights as exp(-Σ influence·term).
type Computer struct {
	terms     []boundTerm
	threshold float64
	workers   int
}

// NewComputer creates a Computer with no terms. threshold must lie in
// (0, 1) so every weight stays positive; workers 0 means GOMAXPROCS.
func NewComputer(threshold float64, workers int) (*Computer, error) {
	if !(threshold > 0) || threshold >= 1 {
		return nil, segment.Invalidf("small weight threshold must be in (0, 1), got %g", threshold)
	}
	return &Computer{threshold: threshold, workers: workers}, nil
}

// FromConfig creates a Computer with every enabled term of cfg.
func FromConfig(cfg *config.SegmentConfig) (*Computer, error) {
	c, err := NewComputer(cfg.GetSmallWeightThreshold(), cfg.GetWorkers())
	if err != nil {
		return nil, err
	}
	for _, s := range cfg.EnabledTerms() {
		norm, err := ParseNormalization(s.Normalization)
		if err != nil {
			return nil, err
		}
		if err := c.AddTerm(TermConfig{
			Name:              s.Name,
			Influence:         s.Influence,
			ConcaveMultiplier: s.ConcaveMultiplier(),
			Normalization:     norm,
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddTerm adds a registered term. Each name may be added once.
func (c *Computer) AddTerm(tc TermConfig) error {
	if math.IsNaN(tc.Influence) || tc.Influence < 0 {
		return segment.Invalidf("term %s: influence must be non-negative, got %g", tc.Name, tc.Influence)
	}
	if math.IsNaN(tc.ConcaveMultiplier) || tc.ConcaveMultiplier < 0 || tc.ConcaveMultiplier > 1 {
		return segment.Invalidf("term %s: concave multiplier must be in [0, 1], got %g", tc.Name, tc.ConcaveMultiplier)
	}
	if tc.Normalization < NormalizationNone || tc.Normalization > NormalizationGlobal {
		return segment.Invalidf("term %s: unknown normalization %d", tc.Name, tc.Normalization)
	}
	for _, b := range c.terms {
		if b.Name == tc.Name {
			return segment.Invalidf("term %s added twice", tc.Name)
		}
	}
	t, err := NewTerm(tc.Name)
	if err != nil {
		return err
	}
	c.terms = append(c.terms, boundTerm{TermConfig: tc, term: t})
	// Accumulate in name order so the floating point sum does not depend
	// on the order terms were added.
	sort.Slice(c.terms, func(i, j int) bool { return c.terms[i].Name < c.terms[j].Name })
	return nil
}

// Terms returns the configured terms in evaluation order.
func (c *Computer) Terms() []TermConfig {
	out := make([]TermConfig, len(c.terms))
	for i, b := range c.terms {
		out[i] = b.TermConfig
	}
	return out
}

// Stats summarises the weights of a graph.
type Stats struct {
	Edges   int
	Min     float64
	Max     float64
	Mean    float64
	Coerced int // weights raised to the small weight threshold
}

func (s Stats) String() string {
	return fmt.Sprintf("%d edges, weight min=%.3g max=%.3g mean=%.3g, %d coerced", s.Edges, s.Min, s.Max, s.Mean, s.Coerced)
}

// Compute overwrites every edge weight of g. With no terms every weight is 1.
func (c *Computer) Compute(g *l2graph.Graph) (Stats, error) {
	m := g.NumEdges()
	if len(c.terms) == 0 {
		for i := range g.Edges {
			g.Edges[i].Weight = 1
		}
		diagf("no weight terms: %d edges set to 1", m)
		return Summarize(g), nil
	}
	for _, b := range c.terms {
		if r, ok := b.term.(Requirer); ok && !r.Requires(g) {
			opsf("term %s: graph lacks the attributes it reads; values will be 0 or meaningless", b.Name)
		}
		diagf("term %s: influence=%g concave_multiplier=%g normalization=%s", b.Name, b.Influence, b.ConcaveMultiplier, b.Normalization)
	}

	raw, err := c.evaluate(g)
	if err != nil {
		return Stats{}, err
	}
	for i, b := range c.terms {
		switch b.Normalization {
		case NormalizationLocal:
			normalizeLocal(g, raw[i])
		case NormalizationGlobal:
			normalizeGlobal(raw[i])
		}
	}

	coerced := 0
	for e := range g.Edges {
		a, b := &g.Vertices[g.Edges[e].U], &g.Vertices[g.Edges[e].V]
		bothConvex := !a.Concave && !b.Concave
		var dist float64
		for i, t := range c.terms {
			v := raw[i][e]
			if bothConvex {
				v *= t.ConcaveMultiplier
			}
			dist += t.Influence * v
		}
		w := math.Exp(-dist)
		if !(w >= c.threshold) {
			w = c.threshold
			coerced++
		}
		g.Edges[e].Weight = w
	}

	stats := Summarize(g)
	stats.Coerced = coerced
	if coerced > 0 {
		opsf("%d of %d edge weights below %g coerced to the threshold", coerced, m, c.threshold)
	}
	diagf("weights: %s", stats)
	return stats, nil
}

// evaluate returns raw[term][edge], filled in parallel over edge chunks.
func (c *Computer) evaluate(g *l2graph.Graph) ([][]float64, error) {
	m := g.NumEdges()
	raw := make([][]float64, len(c.terms))
	for i := range raw {
		raw[i] = make([]float64, m)
	}
	workers := c.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var eg errgroup.Group
	eg.SetLimit(workers)
	for lo := 0; lo < m; lo += edgeChunk {
		lo, hi := lo, min(lo+edgeChunk, m)
		eg.Go(func() error {
			for e := lo; e < hi; e++ {
				a, b := &g.Vertices[g.Edges[e].U], &g.Vertices[g.Edges[e].V]
				for i, t := range c.terms {
					v := t.term.Evaluate(a, b)
					if v < 0 || math.IsNaN(v) {
						return fmt.Errorf("term %s returned %g for edge (%d,%d)", t.Name, v, g.Edges[e].U, g.Edges[e].V)
					}
					raw[i][e] = v
				}
			}
			tracef("evaluated edges [%d, %d)", lo, hi)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return raw, nil
}

// normalizeLocal divides each value by the mean over the edges incident to
// either endpoint of its edge (the edge itself counted once).
func normalizeLocal(g *l2graph.Graph, vals []float64) {
	n := g.NumVertices()
	sum := make([]float64, n)
	cnt := make([]int, n)
	for e, edge := range g.Edges {
		sum[edge.U] += vals[e]
		sum[edge.V] += vals[e]
		cnt[edge.U]++
		cnt[edge.V]++
	}
	for e, edge := range g.Edges {
		mean := (sum[edge.U] + sum[edge.V] - vals[e]) / float64(cnt[edge.U]+cnt[edge.V]-1)
		if mean > 0 {
			vals[e] /= mean
		}
	}
}

// normalizeGlobal divides every value by the mean over all edges.
func normalizeGlobal(vals []float64) {
	if len(vals) == 0 {
		return
	}
	if mean := stat.Mean(vals, nil); mean > 0 {
		floats.Scale(1/mean, vals)
	}
}

// Summarize returns min, max and mean edge weight. Coerced is left 0.
func Summarize(g *l2graph.Graph) Stats {
	s := Stats{Edges: g.NumEdges()}
	if s.Edges == 0 {
		return s
	}
	w := Weights(g)
	s.Min, s.Max, s.Mean = floats.Min(w), floats.Max(w), stat.Mean(w, nil)
	return s
}

// Weights returns a copy of the edge weights in edge order.
func Weights(g *l2graph.Graph) []float64 {
	w := make([]float64, g.NumEdges())
	for i, e := range g.Edges {
		w[i] = e.Weight
	}
	return w
}
