package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical segmentation defaults file.
const DefaultConfigPath = "config/segment.defaults.json"

// Term names accepted under "terms".
const (
	TermXYZ       = "xyz"
	TermNormal    = "normal"
	TermCurvature = "curvature"
	TermRGB       = "rgb"
)

// TermNames lists the configurable edge weight terms in canonical order.
var TermNames = []string{TermXYZ, TermNormal, TermCurvature, TermRGB}

// Normalisation modes for a term.
const (
	NormalizationNone   = "none"
	NormalizationLocal  = "local"
	NormalizationGlobal = "global"
)

// Solver output modes.
const (
	SolverModeLabels    = "labels"
	SolverModePotential = "potential"
)

// SegmentConfig is the root configuration for a segmentation run. Every
// field is optional; the Get* accessors supply defaults for omitted ones,
// so partial files are safe.
type SegmentConfig struct {
	// Graph construction
	GraphBuilder    *string  `json:"graph_builder,omitempty" yaml:"graph_builder,omitempty"` // voxel | knn | radius
	VoxelResolution *float64 `json:"voxel_resolution,omitempty" yaml:"voxel_resolution,omitempty"`
	KNNNeighbors    *int     `json:"knn_neighbors,omitempty" yaml:"knn_neighbors,omitempty"`
	Radius          *float64 `json:"radius,omitempty" yaml:"radius,omitempty"`
	MaxNeighbors    *int     `json:"max_neighbors,omitempty" yaml:"max_neighbors,omitempty"` // 0 = unbounded

	// Features
	Viewpoint        *[3]float64 `json:"viewpoint,omitempty" yaml:"viewpoint,omitempty"`
	KeepInputNormals *bool       `json:"keep_input_normals,omitempty" yaml:"keep_input_normals,omitempty"`

	// Edge weights
	Terms                map[string]*TermConfig `json:"terms,omitempty" yaml:"terms,omitempty"`
	SmallWeightThreshold *float64               `json:"small_weight_threshold,omitempty" yaml:"small_weight_threshold,omitempty"`

	// Solver
	SolverMode       *string  `json:"solver_mode,omitempty" yaml:"solver_mode,omitempty"` // labels | potential
	DirectSolveLimit *int     `json:"direct_solve_limit,omitempty" yaml:"direct_solve_limit,omitempty"`
	CGTolerance      *float64 `json:"cg_tolerance,omitempty" yaml:"cg_tolerance,omitempty"`
	CGMaxIterations  *int     `json:"cg_max_iterations,omitempty" yaml:"cg_max_iterations,omitempty"` // 0 = 10·n

	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"` // 0 = GOMAXPROCS
}

// TermConfig configures one edge weight term.
type TermConfig struct {
	Enabled       *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Influence     *float64 `json:"influence,omitempty" yaml:"influence,omitempty"`
	OnlyConcave   *bool    `json:"only_concave,omitempty" yaml:"only_concave,omitempty"`
	Normalization *string  `json:"normalization,omitempty" yaml:"normalization,omitempty"`
}

// TermSettings is a TermConfig with defaults applied.
type TermSettings struct {
	Name          string
	Enabled       bool
	Influence     float64
	OnlyConcave   bool
	Normalization string
}

// ConcaveMultiplier is the factor applied to the term on edges whose
// endpoints are both convex: 0 when the term only acts on concave edges.
func (s TermSettings) ConcaveMultiplier() float64 {
	if s.OnlyConcave {
		return 0
	}
	return 1
}

var termDefaults = map[string]TermSettings{
	TermXYZ:       {Name: TermXYZ, Enabled: true, Influence: 3, Normalization: NormalizationLocal},
	TermNormal:    {Name: TermNormal, Enabled: true, Influence: 1, OnlyConcave: true, Normalization: NormalizationNone},
	TermCurvature: {Name: TermCurvature, Enabled: true, Influence: 1, OnlyConcave: true, Normalization: NormalizationNone},
	TermRGB:       {Name: TermRGB, Enabled: false, Influence: 3, Normalization: NormalizationGlobal},
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySegmentConfig returns a SegmentConfig with all fields nil.
func EmptySegmentConfig() *SegmentConfig {
	return &SegmentConfig{}
}

// DefaultSegmentConfig returns a SegmentConfig with every field set to its
// default, suitable for writing out as a template.
func DefaultSegmentConfig() *SegmentConfig {
	c := EmptySegmentConfig()
	vp := c.GetViewpoint()
	cfg := &SegmentConfig{
		GraphBuilder:         ptrString(c.GetGraphBuilder()),
		VoxelResolution:      ptrFloat64(c.GetVoxelResolution()),
		KNNNeighbors:         ptrInt(c.GetKNNNeighbors()),
		Radius:               ptrFloat64(c.GetRadius()),
		MaxNeighbors:         ptrInt(c.GetMaxNeighbors()),
		Viewpoint:            &vp,
		KeepInputNormals:     ptrBool(c.GetKeepInputNormals()),
		Terms:                make(map[string]*TermConfig, len(TermNames)),
		SmallWeightThreshold: ptrFloat64(c.GetSmallWeightThreshold()),
		SolverMode:           ptrString(c.GetSolverMode()),
		DirectSolveLimit:     ptrInt(c.GetDirectSolveLimit()),
		CGTolerance:          ptrFloat64(c.GetCGTolerance()),
		CGMaxIterations:      ptrInt(c.GetCGMaxIterations()),
		Workers:              ptrInt(c.GetWorkers()),
	}
	for _, name := range TermNames {
		d := termDefaults[name]
		cfg.Terms[name] = &TermConfig{
			Enabled:       ptrBool(d.Enabled),
			Influence:     ptrFloat64(d.Influence),
			OnlyConcave:   ptrBool(d.OnlyConcave),
			Normalization: ptrString(d.Normalization),
		}
	}
	return cfg
}

// LoadSegmentConfig loads a SegmentConfig from a .json, .yaml or .yml file
// of at most 1MB. Omitted fields keep their defaults.
func LoadSegmentConfig(path string) (*SegmentConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseSegmentConfig(data, ext)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseSegmentConfig decodes and validates config data. format is a file
// extension: ".json", ".yaml" or ".yml".
func ParseSegmentConfig(data []byte, format string) (*SegmentConfig, error) {
	cfg := EmptySegmentConfig()
	switch format {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *SegmentConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/segment/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSegmentConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *SegmentConfig) Validate() error {
	if c.GraphBuilder != nil {
		switch *c.GraphBuilder {
		case "voxel", "knn", "radius":
		default:
			return fmt.Errorf("graph_builder must be voxel, knn or radius, got %q", *c.GraphBuilder)
		}
	}
	if c.VoxelResolution != nil && !(*c.VoxelResolution > 0) {
		return fmt.Errorf("voxel_resolution must be positive, got %g", *c.VoxelResolution)
	}
	if c.KNNNeighbors != nil && *c.KNNNeighbors < 0 {
		return fmt.Errorf("knn_neighbors must be non-negative, got %d", *c.KNNNeighbors)
	}
	if c.Radius != nil && !(*c.Radius > 0) {
		return fmt.Errorf("radius must be positive, got %g", *c.Radius)
	}
	if c.MaxNeighbors != nil && *c.MaxNeighbors < 0 {
		return fmt.Errorf("max_neighbors must be non-negative, got %d", *c.MaxNeighbors)
	}

	for name, t := range c.Terms {
		if _, ok := termDefaults[name]; !ok {
			return fmt.Errorf("unknown term %q (want one of %s)", name, strings.Join(TermNames, ", "))
		}
		if t == nil {
			continue
		}
		if t.Influence != nil && *t.Influence < 0 {
			return fmt.Errorf("terms.%s.influence must be non-negative, got %g", name, *t.Influence)
		}
		if t.Normalization != nil {
			switch *t.Normalization {
			case NormalizationNone, NormalizationLocal, NormalizationGlobal:
			default:
				return fmt.Errorf("terms.%s.normalization must be none, local or global, got %q", name, *t.Normalization)
			}
		}
	}

	if c.SmallWeightThreshold != nil {
		if v := *c.SmallWeightThreshold; !(v > 0) || v >= 1 {
			return fmt.Errorf("small_weight_threshold must be in (0, 1), got %g", v)
		}
	}
	if c.SolverMode != nil && *c.SolverMode != SolverModeLabels && *c.SolverMode != SolverModePotential {
		return fmt.Errorf("solver_mode must be labels or potential, got %q", *c.SolverMode)
	}
	if c.DirectSolveLimit != nil && *c.DirectSolveLimit < 0 {
		return fmt.Errorf("direct_solve_limit must be non-negative, got %d", *c.DirectSolveLimit)
	}
	if c.CGTolerance != nil && !(*c.CGTolerance > 0) {
		return fmt.Errorf("cg_tolerance must be positive, got %g", *c.CGTolerance)
	}
	if c.CGMaxIterations != nil && *c.CGMaxIterations < 0 {
		return fmt.Errorf("cg_max_iterations must be non-negative, got %d", *c.CGMaxIterations)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetGraphBuilder returns the graph_builder value or the default.
func (c *SegmentConfig) GetGraphBuilder() string {
	if c.GraphBuilder == nil || *c.GraphBuilder == "" {
		return "voxel" // default
	}
	return *c.GraphBuilder
}

// GetVoxelResolution returns the voxel_resolution value or the default.
func (c *SegmentConfig) GetVoxelResolution() float64 {
	if c.VoxelResolution == nil {
		return 0.01 // default
	}
	return *c.VoxelResolution
}

// GetKNNNeighbors returns the knn_neighbors value or the default.
func (c *SegmentConfig) GetKNNNeighbors() int {
	if c.KNNNeighbors == nil {
		return 14 // default
	}
	return *c.KNNNeighbors
}

// GetRadius returns the radius value or the default.
func (c *SegmentConfig) GetRadius() float64 {
	if c.Radius == nil {
		return 0.02 // default
	}
	return *c.Radius
}

// GetMaxNeighbors returns the max_neighbors value or the default.
func (c *SegmentConfig) GetMaxNeighbors() int {
	if c.MaxNeighbors == nil {
		return 14 // default
	}
	return *c.MaxNeighbors
}

// GetViewpoint returns the viewpoint normals are oriented towards, default
// the sensor origin.
func (c *SegmentConfig) GetViewpoint() [3]float64 {
	if c.Viewpoint == nil {
		return [3]float64{}
	}
	return *c.Viewpoint
}

// GetKeepInputNormals returns the keep_input_normals value or the default.
func (c *SegmentConfig) GetKeepInputNormals() bool {
	if c.KeepInputNormals == nil {
		return false // default
	}
	return *c.KeepInputNormals
}

// Term returns the settings for the named term with defaults applied.
// Unknown names yield a disabled term.
func (c *SegmentConfig) Term(name string) TermSettings {
	s, ok := termDefaults[name]
	if !ok {
		return TermSettings{Name: name}
	}
	t := c.Terms[name]
	if t == nil {
		return s
	}
	if t.Enabled != nil {
		s.Enabled = *t.Enabled
	}
	if t.Influence != nil {
		s.Influence = *t.Influence
	}
	if t.OnlyConcave != nil {
		s.OnlyConcave = *t.OnlyConcave
	}
	if t.Normalization != nil && *t.Normalization != "" {
		s.Normalization = *t.Normalization
	}
	return s
}

// EnabledTerms returns the settings of every enabled term in TermNames order.
func (c *SegmentConfig) EnabledTerms() []TermSettings {
	var out []TermSettings
	for _, name := range TermNames {
		if s := c.Term(name); s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// GetSmallWeightThreshold returns the small_weight_threshold value or the default.
func (c *SegmentConfig) GetSmallWeightThreshold() float64 {
	if c.SmallWeightThreshold == nil {
		return 1e-5 // default
	}
	return *c.SmallWeightThreshold
}

// GetSolverMode returns the solver_mode value or the default.
func (c *SegmentConfig) GetSolverMode() string {
	if c.SolverMode == nil || *c.SolverMode == "" {
		return SolverModeLabels // default
	}
	return *c.SolverMode
}

// GetDirectSolveLimit returns the direct_solve_limit value or the default.
func (c *SegmentConfig) GetDirectSolveLimit() int {
	if c.DirectSolveLimit == nil {
		return 2000 // default
	}
	return *c.DirectSolveLimit
}

// GetCGTolerance returns the cg_tolerance value or the default.
func (c *SegmentConfig) GetCGTolerance() float64 {
	if c.CGTolerance == nil {
		return 1e-8 // default
	}
	return *c.CGTolerance
}

// GetCGMaxIterations returns the cg_max_iterations value or the default.
func (c *SegmentConfig) GetCGMaxIterations() int {
	if c.CGMaxIterations == nil {
		return 0 // default: 10 × system size
	}
	return *c.CGMaxIterations
}

// GetWorkers returns the workers value or the default.
func (c *SegmentConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // default: GOMAXPROCS
	}
	return *c.Workers
}
