package l4weights

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
)

// Term measures the dissimilarity of two vertices. Implementations must be
// stateless: Evaluate is called concurrently and must return a
// non-negative value.
type Term interface {
	Name() string
	Evaluate(a, b *l2graph.Vertex) float64
}

// Requirer is implemented by terms that need vertex attributes beyond
// position; Compute logs a warning when the graph does not carry them.
type Requirer interface {
	Requires(g *l2graph.Graph) bool
}

// TermFactory creates a Term.
type TermFactory func() Term

var (
	registryMu sync.RWMutex
	registry   = map[string]TermFactory{}
)

// Register makes a term available to NewTerm under name. Registering the
// same name twice replaces the earlier factory.
func Register(name string, f TermFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewTerm creates the term registered under name.
func NewTerm(name string) (Term, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, segment.Invalidf("unknown weight term %q (registered: %v)", name, RegisteredTerms())
	}
	return f(), nil
}

// RegisteredTerms returns the registered term names, sorted.
func RegisteredTerms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("xyz", func() Term { return XYZTerm{} })
	Register("normal", func() Term { return NormalTerm{} })
	Register("curvature", func() Term { return CurvatureTerm{} })
	Register("rgb", func() Term { return RGBTerm{} })
}

// XYZTerm is the squared Euclidean distance between vertex positions.
type XYZTerm struct{}

func (XYZTerm) Name() string { return "xyz" }

func (XYZTerm) Evaluate(a, b *l2graph.Vertex) float64 {
	d := r3.Sub(a.Pos, b.Pos)
	return r3.Dot(d, d)
}

// NormalTerm is 1 - n1·n2, or 0 when either normal is undefined.
type NormalTerm struct{}

func (NormalTerm) Name() string { return "normal" }

func (NormalTerm) Evaluate(a, b *l2graph.Vertex) float64 {
	if r3.Norm2(a.Normal) == 0 || r3.Norm2(b.Normal) == 0 {
		return 0
	}
	return math.Max(0, 1-r3.Dot(a.Normal, b.Normal))
}

func (NormalTerm) Requires(g *l2graph.Graph) bool { return g.HasNormals }

// CurvatureTerm is the product of the absolute curvatures.
type CurvatureTerm struct{}

func (CurvatureTerm) Name() string { return "curvature" }

func (CurvatureTerm) Evaluate(a, b *l2graph.Vertex) float64 {
	return math.Abs(a.Curvature) * math.Abs(b.Curvature)
}

func (CurvatureTerm) Requires(g *l2graph.Graph) bool { return g.HasNormals }

// RGBTerm is the squared distance between colours scaled to [0, 1].
type RGBTerm struct{}

func (RGBTerm) Name() string { return "rgb" }

func (RGBTerm) Evaluate(a, b *l2graph.Vertex) float64 {
	var sum float64
	for i := 0; i < 3; i++ {
		d := (float64(a.Color[i]) - float64(b.Color[i])) / 255
		sum += d * d
	}
	return sum
}

func (RGBTerm) Requires(g *l2graph.Graph) bool { return g.HasColor }
