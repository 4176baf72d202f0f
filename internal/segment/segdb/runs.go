package segdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/segment/pipeline"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// Run is one stored segmentation.
type Run struct {
	RunID        string           `json:"run_id"`
	InputPath    string           `json:"input_path"`
	GraphBuilder string           `json:"graph_builder"`
	NumPoints    int              `json:"num_points"`
	NumVertices  int              `json:"num_vertices"`
	NumEdges     int              `json:"num_edges"`
	NumLabels    int              `json:"num_labels"`
	NumSeeds     int              `json:"num_seeds"`
	Components   int              `json:"components"`
	Unlabeled    int              `json:"unlabeled"`
	CGIterations int              `json:"cg_iterations"`
	Trivial      bool             `json:"trivial"`
	WeightMin    float64          `json:"weight_min"`
	WeightMax    float64          `json:"weight_max"`
	WeightMean   float64          `json:"weight_mean"`
	Coerced      int              `json:"weights_coerced"`
	Timings      pipeline.Timings `json:"timings"`
	Warnings     []string         `json:"warnings,omitempty"`
	ConfigJSON   json.RawMessage  `json:"config_json,omitempty"`
	CreatedAt    int64            `json:"created_at"`

	// LabelCounts[l] is the number of input points with label l; index 0
	// counts unlabelled points.
	LabelCounts []int `json:"label_counts"`
}

// NewRun summarises a pipeline output. cfg may be nil.
func NewRun(out *pipeline.Output, inputPath string, cfg *config.SegmentConfig) (*Run, error) {
	if cfg == nil {
		cfg = config.EmptySegmentConfig()
	}
	r := &Run{
		InputPath:    inputPath,
		GraphBuilder: cfg.GetGraphBuilder(),
		NumPoints:    len(out.Graph.PointToVertex),
		NumVertices:  out.Graph.NumVertices(),
		NumEdges:     out.Graph.NumEdges(),
		NumLabels:    out.Result.NumLabels,
		Components:   out.Result.Components,
		Unlabeled:    out.Result.Unlabeled,
		CGIterations: out.Result.Iterations,
		Trivial:      out.Result.Trivial,
		WeightMin:    out.Weights.Min,
		WeightMax:    out.Weights.Max,
		WeightMean:   out.Weights.Mean,
		Coerced:      out.Weights.Coerced,
		Timings:      out.Timings,
		LabelCounts:  make([]int, out.Result.NumLabels+1),
	}
	if out.Seeds != nil {
		r.NumSeeds = out.Seeds.Len()
	}
	for _, w := range out.Result.Warnings {
		r.Warnings = append(r.Warnings, w.Error())
	}
	for _, l := range out.PointLabels() {
		r.LabelCounts[l]++
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	r.ConfigJSON = raw
	return r, nil
}

// RunStore persists runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore on an open database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB}
}

// Insert stores r and its label counts in one transaction. Empty RunID and
// CreatedAt are filled in.
func (s *RunStore) Insert(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixNano()
	}

	var warnings, cfg interface{}
	if len(r.Warnings) > 0 {
		warnings = strings.Join(r.Warnings, "\n")
	}
	if len(r.ConfigJSON) > 0 {
		cfg = string(r.ConfigJSON)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO segmentation_runs (
			run_id, input_path, graph_builder, num_points, num_vertices, num_edges,
			num_labels, num_seeds, components, unlabeled, cg_iterations, trivial,
			weight_min, weight_max, weight_mean, weights_coerced,
			graph_ns, features_ns, weights_ns, seeds_ns, solve_ns, total_ns,
			warnings, config_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.InputPath, r.GraphBuilder, r.NumPoints, r.NumVertices, r.NumEdges,
		r.NumLabels, r.NumSeeds, r.Components, r.Unlabeled, r.CGIterations, r.Trivial,
		r.WeightMin, r.WeightMax, r.WeightMean, r.Coerced,
		int64(r.Timings.Graph), int64(r.Timings.Features), int64(r.Timings.Weights),
		int64(r.Timings.Seeds), int64(r.Timings.Solve), int64(r.Timings.Total),
		warnings, cfg, r.CreatedAt,
	)
	if err != nil {
		opsf("insert run %s failed: %v", r.RunID, err)
		return fmt.Errorf("insert run: %w", err)
	}
	for l, n := range r.LabelCounts {
		if _, err := tx.Exec(`INSERT INTO segmentation_label_counts (run_id, label, points) VALUES (?, ?, ?)`,
			r.RunID, l, n); err != nil {
			return fmt.Errorf("insert label count: %w", err)
		}
		tracef("run %s label %d: %d points", r.RunID, l, n)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	diagf("stored run %s (%d points, %d labels)", r.RunID, r.NumPoints, r.NumLabels)
	return nil
}

const runColumns = `run_id, input_path, graph_builder, num_points, num_vertices, num_edges,
	num_labels, num_seeds, components, unlabeled, cg_iterations, trivial,
	weight_min, weight_max, weight_mean, weights_coerced,
	graph_ns, features_ns, weights_ns, seeds_ns, solve_ns, total_ns,
	warnings, config_json, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var graphNs, featuresNs, weightsNs, seedsNs, solveNs, totalNs int64
	var warnings, cfg sql.NullString
	err := row.Scan(
		&r.RunID, &r.InputPath, &r.GraphBuilder, &r.NumPoints, &r.NumVertices, &r.NumEdges,
		&r.NumLabels, &r.NumSeeds, &r.Components, &r.Unlabeled, &r.CGIterations, &r.Trivial,
		&r.WeightMin, &r.WeightMax, &r.WeightMean, &r.Coerced,
		&graphNs, &featuresNs, &weightsNs, &seedsNs, &solveNs, &totalNs,
		&warnings, &cfg, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Timings = pipeline.Timings{
		Graph:    time.Duration(graphNs),
		Features: time.Duration(featuresNs),
		Weights:  time.Duration(weightsNs),
		Seeds:    time.Duration(seedsNs),
		Solve:    time.Duration(solveNs),
		Total:    time.Duration(totalNs),
	}
	if warnings.Valid && warnings.String != "" {
		r.Warnings = strings.Split(warnings.String, "\n")
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	return &r, nil
}

// Get returns a run with its label counts.
func (s *RunStore) Get(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM segmentation_runs WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if r.LabelCounts, err = s.labelCounts(runID, r.NumLabels); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RunStore) labelCounts(runID string, numLabels int) ([]int, error) {
	rows, err := s.db.Query(`SELECT label, points FROM segmentation_label_counts WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, fmt.Errorf("query label counts: %w", err)
	}
	defer rows.Close()

	counts := make([]int, numLabels+1)
	for rows.Next() {
		var l, n int
		if err := rows.Scan(&l, &n); err != nil {
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		if l >= 0 && l < len(counts) {
			counts[l] = n
		}
	}
	return counts, rows.Err()
}

// List returns the most recent runs first, without label counts. limit <= 0
// returns every run.
func (s *RunStore) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM segmentation_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Delete removes a run and its label counts.
func (s *RunStore) Delete(runID string) error {
	result, err := s.db.Exec(`DELETE FROM segmentation_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
