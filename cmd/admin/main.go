// Command admin runs maintenance tasks against the content workflow database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"market-research/backend/internal/config"
	"market-research/backend/internal/logging"
	"market-research/backend/internal/repository"
	"market-research/backend/internal/services"
)

var defaultCategories = []string{
	"Technology",
	"Healthcare",
	"Energy",
	"Financial Services",
	"Consumer Goods",
}

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:          "content-admin",
		Short:        "Maintenance commands for the content workflow service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return err
			}
			if err := repository.Migrate(cfg.MigrationURL()); err != nil {
				return err
			}
			fmt.Println("Migrations applied successfully")
			return nil
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed-categories [name...]",
		Short: "Create report categories, skipping ones that already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = defaultCategories
			}
			return withStore(cmd.Context(), envFile, func(cfg *config.Config, logger *logging.Logger, store repository.Repository) error {
				return seedCategories(cmd.Context(), services.NewCategoryService(store), logger, names)
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Print a workflow with its jobs and translation children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), envFile, func(cfg *config.Config, logger *logging.Logger, store repository.Repository) error {
				catalog, err := services.LoadPhaseCatalog(cfg.Workflow.PhaseCatalogFile)
				if err != nil {
					return err
				}
				// Reading status never calls the completion gateway.
				svc := services.NewWorkflowService(store, nil, catalog, services.WorkflowConfig{
					DefaultLanguage: cfg.Workflow.DefaultLanguage,
					Locales:         cfg.Workflow.Locales,
				}, services.WithLogger(logger))
				view, err := svc.GetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			})
		},
	}

	phasesCmd := &cobra.Command{
		Use:   "phases",
		Short: "Validate and print the configured phase catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(envFile)
			if err != nil {
				return err
			}
			catalog, err := services.LoadPhaseCatalog(cfg.Workflow.PhaseCatalogFile)
			if err != nil {
				return err
			}
			for _, def := range catalog.Definitions() {
				fmt.Printf("%d\t%-40s section=%s max_tokens=%d temperature=%.2f\n",
					def.Phase, def.Name, def.Section, def.MaxTokens, def.Temperature)
			}
			return nil
		},
	}

	rootCmd.AddCommand(migrateCmd, seedCmd, statusCmd, phasesCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withStore(ctx context.Context, envFile string, fn func(*config.Config, *logging.Logger, repository.Repository) error) error {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return err
	}
	logger := logging.NewLoggerWithLevel(cfg.Log.Level, os.Stderr)

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(cfg, logger, repository.NewPostgresStore(pool))
}

func seedCategories(ctx context.Context, categories *services.CategoryService, logger *logging.Logger, names []string) error {
	existing, err := categories.List(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Slug] = true
	}

	for _, name := range names {
		if seen[services.Slugify(name)] {
			logger.Info("Skipping existing category", "name", name)
			continue
		}
		c, err := categories.Create(ctx, name)
		if err != nil {
			return fmt.Errorf("create category %q: %w", name, err)
		}
		seen[c.Slug] = true
		logger.Info("Seeded category", "name", c.Name, "id", c.ID)
	}
	logger.Info("Seeding complete")
	return nil
}
