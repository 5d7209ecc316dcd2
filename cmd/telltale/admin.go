package main

import (
	"context"
	"fmt"
	"io"

	"github.com/except-pass/telltale/internal/db"
	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/logger"
	pgxstore "github.com/except-pass/telltale/pkg/store/pgx"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of graph or expectation documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case "graph":
				return writeJSON(cmd.OutOrStdout(), loader.Schema())
			case "expectations":
				return writeJSON(cmd.OutOrStdout(), loader.ExpectationsSchema())
			}
			return fmt.Errorf("unknown schema kind %q (graph, expectations)", kind)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "graph", "document kind: graph or expectations")
	return cmd
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples [NAME]",
		Short: "List the bundled example graphs or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, name := range loader.Examples() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			file, ok := loader.ExampleFile(args[0])
			if !ok {
				_, err := loader.Example(args[0])
				return err
			}
			data, err := loader.EmbeddedLoader{}.GetFileText(cmd.Context(), file)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newImportCmd() *cobra.Command {
	var (
		graphPath  string
		expectPath string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store a graph document and its expectations in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if util.GetEnv("DATABASE_URL") == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			doc, g, err := loadGraph(ctx, graphPath)
			if err != nil {
				return err
			}
			list, err := loadExpectations(ctx, doc, g, expectPath)
			if err != nil {
				return err
			}
			if err := truthtable.NewExpectationSet().RegisterAll(list); err != nil {
				return err
			}

			backend, err := db.Open(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			return importGraph(ctx, cmd.OutOrStdout(), backend, doc, list[len(doc.Expectations):])
		},
	}
	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "graph document: a path, s3://bucket/key or example:NAME")
	cmd.Flags().StringVar(&expectPath, "expect", "", "additional expectation document")
	return cmd
}

// importGraph saves doc with its inline expectations, then appends extra.
func importGraph(ctx context.Context, out io.Writer, backend *db.Backend, doc *loader.GraphDocument, extra []truthtable.Expectation) error {
	g, err := backend.Store.SaveGraph(ctx, doc)
	if err != nil {
		return err
	}
	if len(extra) > 0 {
		if err := backend.Store.AddExpectations(ctx, g.ID, extra); err != nil {
			return err
		}
	}
	logger.Info("[CLI] Imported graph", "graph_id", g.ID, "expectations", len(doc.Expectations)+len(extra))
	fmt.Fprintln(out, g.ID)
	return nil
}

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL := util.GetEnv("DATABASE_URL")
			if databaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			if err := pgxstore.Migrate(databaseURL, dir); err != nil {
				return err
			}
			logger.Info("[CLI] Migrations applied", "dir", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", util.GetEnvString("MIGRATIONS_DIR", "migrations"), "directory holding the migration files")
	return cmd
}
