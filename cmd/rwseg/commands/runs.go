package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/pointseg/internal/segment/segdb"
)

func newRunsCmd(g *globals) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored segmentation runs",
		Long: `List, show and delete runs recorded with 'segment --db', and manage
the database schema.

Examples:
  rwseg runs list --db runs.db --limit 10
  rwseg runs show 0b9f... --db runs.db
  rwseg runs delete 0b9f... --db runs.db
  rwseg runs migrate version --db runs.db`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "sqlite database path")
	_ = cmd.MarkPersistentFlagRequired("db")

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(dbPath, func(s *segdb.RunStore) error {
				runs, err := s.List(limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 = all)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(dbPath, func(s *segdb.RunStore) error {
				run, err := s.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its label counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(dbPath, func(s *segdb.RunStore) error {
				if err := s.Delete(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run '%s' deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd, newMigrateCmd(&dbPath))
	return cmd
}

func newMigrateCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run database schema",
		Long: `Apply or roll back schema migrations on a run database. Other
commands migrate to the latest schema on open; these do not.`,
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(*dbPath, func(db *segdb.DB) error {
				if err := db.MigrateUp(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All migrations applied")
				return printVersion(cmd.OutOrStdout(), db)
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(*dbPath, func(db *segdb.DB) error {
				if err := db.MigrateDown(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rolled back one migration")
				return printVersion(cmd.OutOrStdout(), db)
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(*dbPath, func(db *segdb.DB) error {
				return printVersion(cmd.OutOrStdout(), db)
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func withMigrations(dbPath string, fn func(*segdb.DB) error) error {
	db, err := segdb.OpenUnmigrated(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func printVersion(w io.Writer, db *segdb.DB) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(w, "Warning: a migration failed part way; inspect the database before retrying")
	}
	return nil
}

func withRunStore(dbPath string, fn func(*segdb.RunStore) error) error {
	db, err := segdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(segdb.NewRunStore(db))
}

func printRuns(w io.Writer, runs []*segdb.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tINPUT\tPOINTS\tLABELS\tUNLABELLED\tTOTAL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%v\n",
			r.RunID,
			time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339),
			r.InputPath, r.NumPoints, r.NumLabels, r.Unlabeled, r.Timings.Total)
	}
	tw.Flush()
}
