package l5walker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// SeedSet maps labels 1..K to the vertices fixed to them.
type SeedSet struct {
	byLabel map[int]map[int]struct{}
}

// NewSeedSet returns an empty seed set.
func NewSeedSet() *SeedSet {
	return &SeedSet{byLabel: make(map[int]map[int]struct{})}
}

// Add fixes vertex to label. Adding the same pair twice is a no-op; adding
// a vertex under two labels is reported by Validate.
func (s *SeedSet) Add(label, vertex int) {
	m := s.byLabel[label]
	if m == nil {
		m = make(map[int]struct{})
		s.byLabel[label] = m
	}
	m[vertex] = struct{}{}
}

// Labels returns the labels present, ascending.
func (s *SeedSet) Labels() []int {
	out := make([]int, 0, len(s.byLabel))
	for l, m := range s.byLabel {
		if len(m) > 0 {
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

// NumLabels returns the number of labels with at least one seed.
func (s *SeedSet) NumLabels() int { return len(s.Labels()) }

// Vertices returns the seeds of label, ascending.
func (s *SeedSet) Vertices(label int) []int {
	out := make([]int, 0, len(s.byLabel[label]))
	for v := range s.byLabel[label] {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Len returns the total number of (label, vertex) pairs.
func (s *SeedSet) Len() int {
	n := 0
	for _, m := range s.byLabel {
		n += len(m)
	}
	return n
}

// CheckLabels checks that labels, ascending and distinct, are exactly
// 1..K. An empty slice yields ErrDegenerateSeeding.
func CheckLabels(labels []int) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: no seeds", segment.ErrDegenerateSeeding)
	}
	for i, l := range labels {
		if l != i+1 {
			return segment.Invalidf("seed labels must be 1..%d without gaps, got %v", len(labels), labels)
		}
	}
	return nil
}

// Validate checks s against a graph of numVertices vertices: labels must
// be exactly 1..K, vertices in range, and no vertex may carry two labels.
// An empty set yields ErrDegenerateSeeding.
func (s *SeedSet) Validate(numVertices int) error {
	labels := s.Labels()
	if err := CheckLabels(labels); err != nil {
		return err
	}
	owner := make(map[int]int, s.Len())
	for _, l := range labels {
		for _, v := range s.Vertices(l) {
			if v < 0 || v >= numVertices {
				return segment.Invalidf("seed vertex %d (label %d) out of range [0, %d)", v, l, numVertices)
			}
			if prev, ok := owner[v]; ok {
				return segment.Invalidf("vertex %d seeded with labels %d and %d", v, prev, l)
			}
			owner[v] = l
		}
	}
	return nil
}

// Assignment returns the per-vertex seed label, 0 for unseeded vertices.
// s must be valid for numVertices.
func (s *SeedSet) Assignment(numVertices int) []int {
	out := make([]int, numVertices)
	for l, m := range s.byLabel {
		for v := range m {
			out[v] = l
		}
	}
	return out
}

// SeedsFromVertices builds a seed set from vertex → label pairs.
func SeedsFromVertices(pairs map[int]int) *SeedSet {
	s := NewSeedSet()
	for v, l := range pairs {
		s.Add(l, v)
	}
	return s
}

// SeedsFromPoints snaps every labelled point to its nearest vertex. Points
// with label 0 are ignored. When points with different labels snap to the
// same vertex, the point closest to the vertex keeps it; on a tie the
// earlier point wins.
func SeedsFromPoints(g *l2graph.Graph, points []l1cloud.Point) (*SeedSet, error) {
	if g.NumVertices() == 0 {
		return nil, segment.Invalidf("cannot place seeds on an empty graph")
	}
	type claim struct {
		label  int
		point  int
		distSq float64
	}
	loc := l2graph.NewVertexLocator(g)
	claims := make(map[int]claim)
	dropped := 0
	for i, p := range points {
		if p.Label == 0 {
			continue
		}
		if !p.Valid() {
			return nil, segment.Invalidf("seed point %d has a non-finite position", i)
		}
		v, d := loc.Nearest(p.Pos)
		c, ok := claims[v]
		switch {
		case !ok:
			claims[v] = claim{label: int(p.Label), point: i, distSq: d}
		case c.label == int(p.Label):
			if d < c.distSq {
				claims[v] = claim{label: c.label, point: i, distSq: d}
			}
		case d < c.distSq:
			opsf("seed point %d (label %d) takes vertex %d from farther point %d (label %d)", i, p.Label, v, c.point, c.label)
			claims[v] = claim{label: int(p.Label), point: i, distSq: d}
			dropped++
		default:
			opsf("seed point %d (label %d) dropped: vertex %d already held by closer point %d (label %d)", i, p.Label, v, c.point, c.label)
			dropped++
		}
	}

	s := NewSeedSet()
	for v, c := range claims {
		s.Add(c.label, v)
	}
	diagf("snapped %d seed points to %d seeds over %d labels (%d label conflicts)", len(points), s.Len(), s.NumLabels(), dropped)
	return s, nil
}

// Cloud exports the seeds as labelled points at their vertex positions, in
// label then vertex order.
func (s *SeedSet) Cloud(g *l2graph.Graph) *l1cloud.Cloud {
	var pts []l1cloud.Point
	for _, l := range s.Labels() {
		for _, v := range s.Vertices(l) {
			vx := g.Vertices[v]
			pts = append(pts, l1cloud.Point{Pos: vx.Pos, Color: vx.Color, Label: uint32(l)})
		}
	}
	c := l1cloud.NewCloud(pts)
	c.HasLabels = true
	c.HasColor = g.HasColor
	return c
}

// ParseSeedPoint parses "x,y,z:label" into a labelled point.
func ParseSeedPoint(s string) (l1cloud.Point, error) {
	coords, label, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return l1cloud.Point{}, segment.Invalidf("seed %q: want x,y,z:label", s)
	}
	l, err := strconv.ParseUint(strings.TrimSpace(label), 10, 32)
	if err != nil || l == 0 {
		return l1cloud.Point{}, segment.Invalidf("seed %q: label must be a positive integer", s)
	}
	parts := strings.Split(coords, ",")
	if len(parts) != 3 {
		return l1cloud.Point{}, segment.Invalidf("seed %q: want three coordinates", s)
	}
	var xyz [3]float64
	for i, p := range parts {
		if xyz[i], err = strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
			return l1cloud.Point{}, segment.Invalidf("seed %q: %v", s, err)
		}
	}
	return l1cloud.Point{Pos: r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]}, Label: uint32(l)}, nil
}
