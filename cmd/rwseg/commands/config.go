package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/pointseg/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	var format string
	defaultsCmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print every setting with its default value",
		Long: `Print a complete configuration with every default filled in. The output
is a valid --config file.

Examples:
  rwseg config defaults > segment.json
  rwseg config defaults --format yaml > segment.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultSegmentConfig()
			var data []byte
			var err error
			switch format {
			case "json":
				data, err = json.MarshalIndent(cfg, "", "  ")
				data = append(data, '\n')
			case "yaml", "yml":
				data, err = yaml.Marshal(cfg)
			default:
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	defaultsCmd.Flags().StringVar(&format, "format", "json", "output format (json or yaml)")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file",
		Long:  "Load and validate a config file, given as an argument or with --config.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				g.cfgFile = args[0]
			}
			if g.cfgFile == "" {
				return fmt.Errorf("no config file given")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %s graph, %d terms enabled, %s solver\n",
				g.cfgFile, cfg.GetGraphBuilder(), len(cfg.EnabledTerms()), cfg.GetSolverMode())
			return nil
		},
	}

	cmd.AddCommand(defaultsCmd, validateCmd)
	return cmd
}
