// Package main provides boctl, a read-only operator tool for inspecting
// booking order workflows directly in the database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/config"
	"github.com/garyjia/booking-approval/internal/container"
	"github.com/garyjia/booking-approval/pkg/utils"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
		logLevel   string
	)

	// open connects to the configured database; the caller closes the bundle
	open := func(ctx context.Context) (*container.DatabaseBundle, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.ValidateDatabase(); err != nil {
			return nil, err
		}
		logger, err := utils.NewLogger(utils.LoggerConfig{Level: logLevel, OutputPath: "stderr", Format: "console"})
		if err != nil {
			return nil, err
		}
		cc := cfg.ToContainerConfig()
		return container.ProvideDatabase(ctx, &cc.Database, logger.With(zap.String("tool", "boctl")))
	}

	withRepos := func(fn func(ctx context.Context, r *container.RepositoryBundle, p printer, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := open(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return fn(ctx, db.Repositories, newPrinter(cmd.OutOrStdout(), asJSON), args)
		}
	}

	cmd := &cobra.Command{
		Use:          "boctl",
		Short:        "Inspect booking order workflows",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "active",
			Short: "List workflows that still need processing",
			Args:  cobra.NoArgs,
			RunE: withRepos(func(ctx context.Context, r *container.RepositoryBundle, p printer, _ []string) error {
				return listActive(ctx, r.Workflow, p)
			}),
		},
		&cobra.Command{
			Use:   "show <workflow-id>",
			Short: "Show one workflow",
			Args:  cobra.ExactArgs(1),
			RunE: withRepos(func(ctx context.Context, r *container.RepositoryBundle, p printer, args []string) error {
				return showWorkflow(ctx, r.Workflow, args[0], p)
			}),
		},
		&cobra.Command{
			Use:   "history <workflow-id>",
			Short: "Show the audit trail of a workflow",
			Args:  cobra.ExactArgs(1),
			RunE: withRepos(func(ctx context.Context, r *container.RepositoryBundle, p printer, args []string) error {
				return showHistory(ctx, r.History, args[0], p)
			}),
		},
		&cobra.Command{
			Use:   "record <bo-ref>",
			Short: "Show a finalized booking order record",
			Args:  cobra.ExactArgs(1),
			RunE: withRepos(func(ctx context.Context, r *container.RepositoryBundle, p printer, args []string) error {
				return showRecord(ctx, r.Record, args[0], p)
			}),
		},
	)

	return cmd
}
