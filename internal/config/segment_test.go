package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEmptySegmentConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := EmptySegmentConfig()
	if got := cfg.GetGraphBuilder(); got != "voxel" {
		t.Errorf("GetGraphBuilder() = %q, want voxel", got)
	}
	if got := cfg.GetVoxelResolution(); got != 0.01 {
		t.Errorf("GetVoxelResolution() = %g, want 0.01", got)
	}
	if got := cfg.GetKNNNeighbors(); got != 14 {
		t.Errorf("GetKNNNeighbors() = %d, want 14", got)
	}
	if got := cfg.GetRadius(); got != 0.02 {
		t.Errorf("GetRadius() = %g, want 0.02", got)
	}
	if got := cfg.GetMaxNeighbors(); got != 14 {
		t.Errorf("GetMaxNeighbors() = %d, want 14", got)
	}
	if got := cfg.GetSmallWeightThreshold(); got != 1e-5 {
		t.Errorf("GetSmallWeightThreshold() = %g, want 1e-5", got)
	}
	if got := cfg.GetSolverMode(); got != SolverModeLabels {
		t.Errorf("GetSolverMode() = %q, want labels", got)
	}
	if got := cfg.GetDirectSolveLimit(); got != 2000 {
		t.Errorf("GetDirectSolveLimit() = %d, want 2000", got)
	}
	if got := cfg.GetCGTolerance(); got != 1e-8 {
		t.Errorf("GetCGTolerance() = %g, want 1e-8", got)
	}
	if cfg.GetCGMaxIterations() != 0 || cfg.GetWorkers() != 0 {
		t.Errorf("iteration/worker defaults should be 0")
	}
	if cfg.GetViewpoint() != [3]float64{} {
		t.Errorf("GetViewpoint() = %v, want origin", cfg.GetViewpoint())
	}
	if cfg.GetKeepInputNormals() {
		t.Error("GetKeepInputNormals() = true, want false")
	}
}

func TestSegmentConfig_Terms(t *testing.T) {
	t.Parallel()

	cfg := EmptySegmentConfig()
	want := []TermSettings{
		{Name: TermXYZ, Enabled: true, Influence: 3, Normalization: NormalizationLocal},
		{Name: TermNormal, Enabled: true, Influence: 1, OnlyConcave: true, Normalization: NormalizationNone},
		{Name: TermCurvature, Enabled: true, Influence: 1, OnlyConcave: true, Normalization: NormalizationNone},
	}
	if diff := cmp.Diff(want, cfg.EnabledTerms()); diff != "" {
		t.Errorf("EnabledTerms() mismatch (-want +got):\n%s", diff)
	}

	cfg.Terms = map[string]*TermConfig{
		TermRGB:    {Enabled: ptrBool(true), Influence: ptrFloat64(0.5)},
		TermNormal: {Enabled: ptrBool(false)},
	}
	rgb := cfg.Term(TermRGB)
	if !rgb.Enabled || rgb.Influence != 0.5 || rgb.Normalization != NormalizationGlobal {
		t.Errorf("Term(rgb) = %+v, want enabled, influence 0.5, global", rgb)
	}
	if cfg.Term(TermNormal).Enabled {
		t.Error("normal term should be disabled")
	}
	if got := len(cfg.EnabledTerms()); got != 3 {
		t.Errorf("len(EnabledTerms()) = %d, want 3", got)
	}
	if cfg.Term("sift").Enabled {
		t.Error("unknown term should be disabled")
	}
}

func TestTermSettings_ConcaveMultiplier(t *testing.T) {
	t.Parallel()

	if got := (TermSettings{OnlyConcave: true}).ConcaveMultiplier(); got != 0 {
		t.Errorf("only concave multiplier = %g, want 0", got)
	}
	if got := (TermSettings{}).ConcaveMultiplier(); got != 1 {
		t.Errorf("multiplier = %g, want 1", got)
	}
}

func TestLoadSegmentConfig_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seg.json")
	data := `{
  "graph_builder": "knn",
  "knn_neighbors": 8,
  "terms": {"rgb": {"enabled": true}},
  "solver_mode": "potential"
}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadSegmentConfig(path)
	if err != nil {
		t.Fatalf("LoadSegmentConfig: %v", err)
	}
	if cfg.GetGraphBuilder() != "knn" || cfg.GetKNNNeighbors() != 8 {
		t.Errorf("builder = %s/%d, want knn/8", cfg.GetGraphBuilder(), cfg.GetKNNNeighbors())
	}
	if !cfg.Term(TermRGB).Enabled {
		t.Error("rgb term should be enabled")
	}
	if cfg.GetSolverMode() != SolverModePotential {
		t.Errorf("solver mode = %s, want potential", cfg.GetSolverMode())
	}
	// Untouched fields keep defaults.
	if cfg.GetVoxelResolution() != 0.01 {
		t.Errorf("voxel resolution = %g, want default", cfg.GetVoxelResolution())
	}
}

func TestLoadSegmentConfig_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seg.yaml")
	data := `graph_builder: radius
radius: 0.05
max_neighbors: 0
viewpoint: [0, 0, 2]
terms:
  xyz:
    influence: 2
    normalization: global
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadSegmentConfig(path)
	if err != nil {
		t.Fatalf("LoadSegmentConfig: %v", err)
	}
	if cfg.GetRadius() != 0.05 || cfg.GetMaxNeighbors() != 0 {
		t.Errorf("radius = %g/%d, want 0.05/0", cfg.GetRadius(), cfg.GetMaxNeighbors())
	}
	if cfg.GetViewpoint() != [3]float64{0, 0, 2} {
		t.Errorf("viewpoint = %v", cfg.GetViewpoint())
	}
	xyz := cfg.Term(TermXYZ)
	if xyz.Influence != 2 || xyz.Normalization != NormalizationGlobal || !xyz.Enabled {
		t.Errorf("xyz = %+v", xyz)
	}
}

func TestLoadSegmentConfig_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, data string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(data), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	cases := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"bad extension", write("seg.toml", ""), "extension"},
		{"missing", filepath.Join(dir, "nope.json"), "stat"},
		{"bad json", write("bad.json", "{"), "parse config JSON"},
		{"bad yaml", write("bad.yaml", "radius: [1"), "parse config YAML"},
		{"unknown builder", write("b.json", `{"graph_builder": "octree"}`), "graph_builder"},
		{"zero resolution", write("r.json", `{"voxel_resolution": 0}`), "voxel_resolution"},
		{"negative k", write("k.json", `{"knn_neighbors": -1}`), "knn_neighbors"},
		{"unknown term", write("t.json", `{"terms": {"sift": {}}}`), "unknown term"},
		{"negative influence", write("i.json", `{"terms": {"xyz": {"influence": -1}}}`), "influence"},
		{"bad normalization", write("n.json", `{"terms": {"xyz": {"normalization": "max"}}}`), "normalization"},
		{"threshold", write("w.json", `{"small_weight_threshold": 1}`), "small_weight_threshold"},
		{"solver mode", write("s.json", `{"solver_mode": "fast"}`), "solver_mode"},
		{"tolerance", write("c.json", `{"cg_tolerance": 0}`), "cg_tolerance"},
		{"workers", write("p.json", `{"workers": -4}`), "workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSegmentConfig(tc.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadSegmentConfig_TooLarge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(path, make([]byte, 1024*1024+1), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadSegmentConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestMustLoadDefaultConfig_MatchesGetters(t *testing.T) {
	t.Parallel()

	file := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultSegmentConfig(), file); diff != "" {
		t.Errorf("defaults file drifted from Get* defaults (-getters +file):\n%s", diff)
	}
}

func TestDefaultSegmentConfig_RoundTripsJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(DefaultSegmentConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cfg, err := ParseSegmentConfig(data, ".json")
	if err != nil {
		t.Fatalf("ParseSegmentConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultSegmentConfig(), cfg); diff != "" {
		t.Errorf("round trip mismatch:\n%s", diff)
	}
}
