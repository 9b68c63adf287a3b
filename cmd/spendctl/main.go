package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ThiagoRGoveia/spend-analytics/internal/app"
	"github.com/ThiagoRGoveia/spend-analytics/internal/config"
	"github.com/ThiagoRGoveia/spend-analytics/internal/ingestion"
	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var pipeline *app.App

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// start loads the engine for a stored dataset before a read.
func start(ctx context.Context) error {
	_, err := pipeline.Orchestrator.Start(ctx)
	return err
}

func newRootCmd() *cobra.Command {
	var cleanupFunc func()

	root := &cobra.Command{
		Use:           "spendctl",
		Short:         "Load spend spreadsheets and query them locally",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				log.Printf("Warning: could not load .env file: %v", err)
			}
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			pipeline, cleanupFunc, err = app.New(cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cleanupFunc != nil {
				cleanupFunc()
			}
		},
	}

	root.AddCommand(
		newLoadCmd("analyze", "Ingest files as the first dataset", func(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error) {
			return pipeline.Orchestrator.Analyze(ctx, uploads)
		}),
		newLoadCmd("update", "Replace the stored dataset with new files", func(ctx context.Context, uploads []ingestion.Upload) (*models.Metadata, error) {
			return pipeline.Orchestrator.Update(ctx, uploads)
		}),
		&cobra.Command{
			Use:   "purge",
			Short: "Delete the stored dataset",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return pipeline.Orchestrator.Purge(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Rebuild the analytical engine from the stored rows",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := pipeline.Orchestrator.Refresh(cmd.Context()); err != nil {
					return err
				}
				status, err := pipeline.Orchestrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(status)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored dataset metadata",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, err := pipeline.Orchestrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(status)
			},
		},
		newKPIsCmd(),
		newRowsCmd(),
		&cobra.Command{
			Use:   "distinct",
			Short: "List the values available for each filter",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := start(cmd.Context()); err != nil {
					return err
				}
				sets, err := pipeline.Queries.DistinctValues(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(sets)
			},
		},
	)
	return root
}

func newLoadCmd(use, short string, load func(context.Context, []ingestion.Upload) (*models.Metadata, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FILE_OR_DIR...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := ingestion.ReadFiles(args)
			if err != nil {
				return err
			}
			meta, err := load(cmd.Context(), uploads)
			if err != nil {
				return err
			}
			return printJSON(meta)
		},
	}
}

func addFilterFlags(cmd *cobra.Command, f *models.FilterSelection) {
	cmd.Flags().StringVar(&f.Period, "period", "", "filter by period")
	cmd.Flags().StringVar(&f.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&f.Supplier, "supplier", "", "filter by supplier")
	cmd.Flags().StringVar(&f.Region, "region", "", "filter by region")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by document status")
	cmd.Flags().StringVar(&f.Subcategory, "subcategory", "", "filter by subcategory")
}

func newKPIsCmd() *cobra.Command {
	var filters models.FilterSelection
	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Aggregate spend totals for the active filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := start(cmd.Context()); err != nil {
				return err
			}
			kpis, err := pipeline.Queries.AggregateKPIs(cmd.Context(), filters)
			if err != nil {
				return err
			}
			return printJSON(kpis)
		},
	}
	addFilterFlags(cmd, &filters)
	return cmd
}

func newRowsCmd() *cobra.Command {
	var (
		filters       models.FilterSelection
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Print the rows matching the active filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := start(cmd.Context()); err != nil {
				return err
			}
			rows, err := pipeline.Queries.RowsPage(cmd.Context(), filters, offset, limit)
			if err != nil {
				return err
			}
			return printJSON(rows)
		},
	}
	addFilterFlags(cmd, &filters)
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to print, 0 for all")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func main() {
	startTime := time.Now()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Error: %v", err)
	}
	log.Printf("Execution time: %s\n", time.Since(startTime))
}
