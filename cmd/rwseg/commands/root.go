package commands

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pointseg/internal/config"
	"github.com/banshee-data/pointseg/internal/fsutil"
	"github.com/banshee-data/pointseg/internal/segment/pipeline"
	"github.com/banshee-data/pointseg/internal/segment/segdb"
)

const appName = "rwseg"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	cfgFile string
	verbose bool
	trace   bool
	fsys    fsutil.FileSystem
}

// NewRootCommand builds the full command tree. Each call returns an
// independent tree with its own flag state.
func NewRootCommand() *cobra.Command {
	g := &globals{fsys: fsutil.OSFileSystem{}}

	root := &cobra.Command{
		Use:   appName,
		Short: "Random walker point cloud segmentation",
		Long: `rwseg segments a point cloud into labelled regions.

Each labelled seed point starts a random walk on a nearest-neighbour graph
whose edge weights penalise distance, normal, curvature and colour changes.
Every other point takes the label whose walker is most likely to reach it.

Examples:
  # Two-label segmentation with seeds given on the command line
  rwseg segment scene.pcd --seed 0,0,0:1 --seed 1.2,0.4,0:2

  # Reuse a cached graph and write one PCD per cluster
  rwseg graph scene.pcd -o scene.rwg
  rwseg segment scene.pcd --graph scene.rwg --load-seeds seeds.pcd --save-clusters clusters/
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			g.setupLogging(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "segmentation config file (.json, .yaml or .yml)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log stage timings and sizes")
	root.PersistentFlags().BoolVar(&g.trace, "trace", false, "log per-component solver detail")

	root.AddCommand(
		newSegmentCmd(g),
		newGraphCmd(g),
		newSeedsCmd(g),
		newRunsCmd(g),
		newConfigCmd(g),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// setupLogging routes the ops stream to w always, and the diag and trace
// streams only when asked for.
func (g *globals) setupLogging(w io.Writer) {
	var diag, trace io.Writer
	if g.verbose || g.trace {
		diag = w
	}
	if g.trace {
		trace = w
	}
	pipeline.SetLogWriters(w, diag, trace)
	segdb.SetLogWriters(w, diag, trace)
}

// loadConfig returns the --config file, or the built-in defaults when no
// file was given.
func (g *globals) loadConfig() (*config.SegmentConfig, error) {
	if g.cfgFile == "" {
		return config.EmptySegmentConfig(), nil
	}
	return config.LoadSegmentConfig(g.cfgFile)
}
