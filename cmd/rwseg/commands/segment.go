package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/security"
	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l5walker"
	"github.com/banshee-data/pointseg/internal/segment/pipeline"
	"github.com/banshee-data/pointseg/internal/segment/report"
	"github.com/banshee-data/pointseg/internal/segment/segdb"
)

type segmentFlags struct {
	seeds        []string
	loadSeeds    string
	saveSeeds    string
	graphCache   string
	output       string
	saveClusters string
	potential    bool
	builder      string
	dbPath       string
	reportDir    string
	plane        string
	maxPoints    int
	asJSON       bool
}

func newSegmentCmd(g *globals) *cobra.Command {
	f := &segmentFlags{}
	cmd := &cobra.Command{
		Use:   "segment <cloud.pcd>",
		Short: "Segment a point cloud from labelled seeds",
		Long: `Segment a PCD point cloud.

Seeds come from --seed flags (x,y,z:label, repeatable) and/or a labelled PCD
given with --load-seeds; each seed snaps to its nearest graph vertex. Labels
are positive integers. The labelled cloud is written to --output.

With --graph, an existing cache file is loaded instead of building the graph;
a missing cache file is created after the graph is built.

Examples:
  rwseg segment scene.pcd --seed 0,0,0:1 --seed 2,0,0:2 -o labels.pcd
  rwseg segment scene.pcd --load-seeds seeds.pcd --potential --report-dir report/
  rwseg segment scene.pcd --load-seeds seeds.pcd --db runs.db --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd.Context(), g, f, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVarP(&f.seeds, "seed", "s", nil, "seed point x,y,z:label (repeatable)")
	cmd.Flags().StringVar(&f.loadSeeds, "load-seeds", "", "labelled PCD file of seed points")
	cmd.Flags().StringVar(&f.saveSeeds, "save-seeds", "", "write the snapped seeds to this PCD file")
	cmd.Flags().StringVar(&f.graphCache, "graph", "", "graph cache file (.rwg or .msgpack); loaded if present, written otherwise")
	cmd.Flags().StringVarP(&f.output, "output", "o", pipeline.SegmentationFile, "labelled output cloud")
	cmd.Flags().StringVar(&f.saveClusters, "save-clusters", "", "directory for one PCD file per cluster")
	cmd.Flags().BoolVar(&f.potential, "potential", false, "keep the potential matrix (implies solver_mode=potential)")
	cmd.Flags().StringVar(&f.builder, "builder", "", "override graph_builder (voxel, knn or radius)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "sqlite database to record the run in")
	cmd.Flags().StringVar(&f.reportDir, "report-dir", "", "directory for the weight histogram and HTML dashboard")
	cmd.Flags().StringVar(&f.plane, "plane", string(report.PlaneXY), "dashboard projection (xy, xz or yz)")
	cmd.Flags().IntVar(&f.maxPoints, "max-points", report.DefaultMaxPoints, "vertices drawn per dashboard chart (0 = all)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func runSegment(ctx context.Context, g *globals, f *segmentFlags, cloudPath string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if f.builder != "" {
		cfg.GraphBuilder = &f.builder
	}
	if f.potential {
		mode := config.SolverModePotential
		cfg.SolverMode = &mode
	}
	plane, err := report.ParsePlane(f.plane)
	if err != nil {
		return err
	}

	seeds, err := collectSeeds(g, f)
	if err != nil {
		return err
	}
	cloud, err := l1cloud.LoadPCD(g.fsys, cloudPath)
	if err != nil {
		return err
	}

	opts := pipeline.Options{Config: cfg}
	saveCache := false
	if f.graphCache != "" {
		if g.fsys.Exists(f.graphCache) {
			cached, err := l2graph.LoadGraph(g.fsys, f.graphCache)
			if err != nil {
				return err
			}
			if len(cached.PointToVertex) != cloud.Len() {
				return segment.Invalidf("graph cache %s was built for %d points, cloud has %d",
					f.graphCache, len(cached.PointToVertex), cloud.Len())
			}
			opts.Graph = cached
		} else {
			saveCache = true
		}
	}

	out, err := pipeline.Run(ctx, cloud, seeds, opts)
	if err != nil {
		return err
	}

	var written []string
	if saveCache {
		if err := l2graph.SaveGraph(g.fsys, f.graphCache, out.Graph); err != nil {
			return err
		}
		written = append(written, f.graphCache)
	}
	if f.saveSeeds != "" {
		if err := l1cloud.SavePCD(g.fsys, f.saveSeeds, out.Seeds.Cloud(out.Graph)); err != nil {
			return err
		}
		written = append(written, f.saveSeeds)
	}
	if f.output != "" {
		if err := out.WriteSegmentation(g.fsys, f.output); err != nil {
			return err
		}
		written = append(written, f.output)
	}
	if f.saveClusters != "" {
		paths, err := out.WriteClusters(g.fsys, f.saveClusters)
		if err != nil {
			return err
		}
		written = append(written, paths...)
	}
	if f.reportDir != "" {
		paths, err := writeReport(g, out, f.reportDir, cloudPath, report.ScatterOptions{
			Title:     filepath.Base(cloudPath),
			Plane:     plane,
			MaxPoints: f.maxPoints,
		})
		if err != nil {
			return err
		}
		written = append(written, paths...)
	}

	run, err := segdb.NewRun(out, cloudPath, cfg)
	if err != nil {
		return err
	}
	if f.dbPath != "" {
		if err := storeRun(f.dbPath, run); err != nil {
			return err
		}
	}

	if f.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	printSummary(w, run, written)
	return nil
}

// collectSeeds merges --seed flags and the --load-seeds file and checks the
// label set before the cloud is loaded.
func collectSeeds(g *globals, f *segmentFlags) (pipeline.PointSeeds, error) {
	var seeds pipeline.PointSeeds
	for _, s := range f.seeds {
		p, err := l5walker.ParseSeedPoint(s)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, p)
	}
	if f.loadSeeds != "" {
		c, err := l1cloud.LoadPCD(g.fsys, f.loadSeeds)
		if err != nil {
			return nil, err
		}
		if !c.HasLabels {
			return nil, segment.Invalidf("seed file %s has no label field", f.loadSeeds)
		}
		seeds = append(seeds, c.Points...)
	}
	if _, err := seeds.Labels(); err != nil {
		if errors.Is(err, segment.ErrDegenerateSeeding) {
			return nil, fmt.Errorf("%w: give at least one labelled --seed or --load-seeds point", segment.ErrDegenerateSeeding)
		}
		return nil, err
	}
	return seeds, nil
}

func writeReport(g *globals, out *pipeline.Output, dir, cloudPath string, o report.ScatterOptions) ([]string, error) {
	if err := g.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, segment.IOError("mkdir", dir, err)
	}
	stem := security.SanitizeFilename(strings.TrimSuffix(filepath.Base(cloudPath), filepath.Ext(cloudPath)))
	var written []string

	if out.Graph.NumEdges() > 0 {
		path := filepath.Join(dir, stem+"_weights.png")
		if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
			return nil, segment.Invalidf("report path: %v", err)
		}
		if err := report.SaveWeightHistogram(g.fsys, path, out.Graph, report.DefaultBins); err != nil {
			return nil, err
		}
		written = append(written, path)
	}

	path := filepath.Join(dir, stem+"_dashboard.html")
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return written, segment.Invalidf("report path: %v", err)
	}
	if err := report.SaveDashboard(g.fsys, path, out.Graph, out.Result, o); err != nil {
		return written, err
	}
	return append(written, path), nil
}

func storeRun(dbPath string, run *segdb.Run) error {
	db, err := segdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return segdb.NewRunStore(db).Insert(run)
}

func printSummary(w io.Writer, run *segdb.Run, written []string) {
	fmt.Fprintf(w, "Segmented %d points (%d vertices, %d edges) into %d labels in %v\n",
		run.NumPoints, run.NumVertices, run.NumEdges, run.NumLabels, run.Timings.Total)
	for l := 1; l < len(run.LabelCounts); l++ {
		fmt.Fprintf(w, "  label %d: %d points\n", l, run.LabelCounts[l])
	}
	if len(run.LabelCounts) > 0 && run.LabelCounts[0] > 0 {
		fmt.Fprintf(w, "  unlabelled: %d points\n", run.LabelCounts[0])
	}
	for _, warn := range run.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warn)
	}
	if run.RunID != "" {
		fmt.Fprintf(w, "Run ID: %s\n", run.RunID)
	}
	for _, p := range written {
		fmt.Fprintf(w, "Wrote %s\n", p)
	}
}
