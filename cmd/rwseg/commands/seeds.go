package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pointseg/internal/segment"
	"github.com/banshee-data/pointseg/internal/segment/l1cloud"
	"github.com/banshee-data/pointseg/internal/segment/l5walker"
)

func newSeedsCmd(g *globals) *cobra.Command {
	var (
		seeds  []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Write seed points to a labelled PCD file",
		Long: `Parse x,y,z:label seed points and save them as a labelled PCD file that
'segment --load-seeds' accepts.

Example:
  rwseg seeds -s 0,0,0:1 -s 1.5,0,0.2:2 -o seeds.pcd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeeds(g, seeds, output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringArrayVarP(&seeds, "seed", "s", nil, "seed point x,y,z:label (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "seeds.pcd", "output PCD file")
	return cmd
}

func runSeeds(g *globals, specs []string, output string, w io.Writer) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: give at least one --seed", segment.ErrDegenerateSeeding)
	}
	points := make([]l1cloud.Point, 0, len(specs))
	labels := map[uint32]int{}
	for _, s := range specs {
		p, err := l5walker.ParseSeedPoint(s)
		if err != nil {
			return err
		}
		points = append(points, p)
		labels[p.Label]++
	}
	c := l1cloud.NewCloud(points)
	c.HasLabels = true
	if err := l1cloud.SavePCD(g.fsys, output, c); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d seeds with %d labels to %s\n", len(points), len(labels), output)
	return nil
}
