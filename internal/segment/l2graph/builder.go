package l2graph

import (
	"fmt"
	"runtime"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
)

// Kind selects a graph connectivity policy.
type Kind string

const (
	KindVoxelGrid Kind = "voxel"
	KindKNN       Kind = "knn"
	KindRadius    Kind = "radius"
)

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindVoxelGrid, KindKNN, KindRadius:
		return Kind(s), nil
	}
	return "", segment.Invalidf("unknown graph builder %q (want voxel, knn or radius)", s)
}

// Builder turns a point cloud into a graph. The returned graph carries its
// PointToVertex map and is finalized.
type Builder interface {
	Build(c *l1cloud.Cloud) (*Graph, error)
	Kind() Kind
}

// Params holds the numeric parameters of every builder kind; only those of
// the selected Kind are read.
type Params struct {
	Kind         Kind
	Resolution   float64 // voxel side length
	K            int     // neighbours for KindKNN
	Radius       float64 // search radius for KindRadius
	MaxNeighbors int     // cap for KindRadius, 0 = unbounded
	Workers      int     // parallel query workers, 0 = GOMAXPROCS
	Index        IndexFactory
}

// NewBuilder validates p and returns the matching builder.
func NewBuilder(p Params) (Builder, error) {
	switch p.Kind {
	case KindVoxelGrid:
		if !(p.Resolution > 0) {
			return nil, segment.Invalidf("voxel resolution must be positive, got %g", p.Resolution)
		}
		return &VoxelGridBuilder{Resolution: p.Resolution}, nil
	case KindKNN:
		if p.K < 0 {
			return nil, segment.Invalidf("number of neighbours must be non-negative, got %d", p.K)
		}
		return &NearestNeighborsBuilder{mode: KindKNN, k: p.K, workers: p.Workers, index: p.Index}, nil
	case KindRadius:
		if !(p.Radius > 0) {
			return nil, segment.Invalidf("radius must be positive, got %g", p.Radius)
		}
		if p.MaxNeighbors < 0 {
			return nil, segment.Invalidf("max neighbours must be non-negative, got %d", p.MaxNeighbors)
		}
		return &NearestNeighborsBuilder{mode: KindRadius, radius: p.Radius, k: p.MaxNeighbors, workers: p.Workers, index: p.Index}, nil
	}
	return nil, segment.Invalidf("unknown graph builder %q", p.Kind)
}

// ParamsFromConfig extracts builder parameters from a SegmentConfig.
func ParamsFromConfig(cfg *config.SegmentConfig) (Params, error) {
	kind, err := ParseKind(cfg.GetGraphBuilder())
	if err != nil {
		return Params{}, err
	}
	return Params{
		Kind:         kind,
		Resolution:   cfg.GetVoxelResolution(),
		K:            cfg.GetKNNNeighbors(),
		Radius:       cfg.GetRadius(),
		MaxNeighbors: cfg.GetMaxNeighbors(),
		Workers:      cfg.GetWorkers(),
	}, nil
}

// BuilderFromConfig is ParamsFromConfig followed by NewBuilder.
func BuilderFromConfig(cfg *config.SegmentConfig) (Builder, error) {
	p, err := ParamsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewBuilder(p)
}

// checkCloud rejects clouds that cannot produce a single vertex.
func checkCloud(c *l1cloud.Cloud) error {
	if c.Len() == 0 {
		return segment.Invalidf("input cloud is empty")
	}
	if c.ValidCount() == 0 {
		return segment.Invalidf("input cloud has no finite points")
	}
	return nil
}

func workerCount(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

func (k Kind) String() string { return string(k) }

// Describe renders builder parameters for logging.
func (p Params) Describe() string {
	switch p.Kind {
	case KindVoxelGrid:
		return fmt.Sprintf("voxel(resolution=%g)", p.Resolution)
	case KindKNN:
		return fmt.Sprintf("knn(k=%d)", p.K)
	case KindRadius:
		return fmt.Sprintf("radius(r=%g, max=%d)", p.Radius, p.MaxNeighbors)
	}
	return string(p.Kind)
}
