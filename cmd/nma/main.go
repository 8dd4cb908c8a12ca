package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ritzau/nma-engine/pkg/analysis"
	"github.com/ritzau/nma-engine/pkg/config"
	"github.com/ritzau/nma-engine/pkg/input"
	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/output"
	"github.com/spf13/cobra"
)

const (
	exitError          = 1
	exitInvalidNetwork = 2
)

func main() {
	// A missing .env is the common case
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		logging.Error("command failed", "error", err)
		if model.IsInvalidNetwork(err) {
			os.Exit(exitInvalidNetwork)
		}
		os.Exit(exitError)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "nma",
		Short: "Network meta-analysis diagnostics",
		Long: `nma checks a network of pairwise treatment comparisons.

Subcommands:
  geometry     network structure, connectivity and evidence quality
  consistency  loop inconsistency, node-splitting and the global test
  pool         fixed-effect network estimates and league table
  rank         Monte Carlo ranking with SUCRA and P-scores
  analyze      all of the above in one report
  serve        HTTP tool endpoints, optionally re-running on file changes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		reportCmd(out, "geometry", "Analyze network geometry", func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (any, func(io.Writer), error) {
			rep, err := r.Geometry(ds)
			return rep, func(w io.Writer) { output.PrintGeometry(w, rep) }, err
		}),
		reportCmd(out, "consistency", "Check direct and indirect evidence for inconsistency", func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (any, func(io.Writer), error) {
			rep, err := r.Consistency(ds)
			return rep, func(w io.Writer) { output.PrintConsistency(w, rep) }, err
		}),
		reportCmd(out, "pool", "Estimate fixed-effect relative effects against a reference", func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (any, func(io.Writer), error) {
			rep, err := r.Pooling(ds)
			return rep, func(w io.Writer) { output.PrintPooling(w, rep) }, err
		}),
		reportCmd(out, "rank", "Rank treatments by simulation", func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (any, func(io.Writer), error) {
			rep, err := r.Ranking(ds)
			return rep, func(w io.Writer) { output.PrintRanking(w, rep) }, err
		}),
		reportCmd(out, "analyze", "Run geometry, consistency, pooling and ranking", func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (any, func(io.Writer), error) {
			rep, err := r.Run(ctx, ds)
			return rep, func(w io.Writer) { output.PrintAnalysis(w, rep) }, err
		}),
		serveCmd(),
	)
	return root
}

// loadConfig reads configuration for cmd and applies its log level
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logging.Debug("configuration loaded", "input", cfg.Input, "format", cfg.Format)
	return cfg, nil
}

// inputPath takes the dataset from the first argument or --input
func inputPath(cfg *config.Config, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Input == "" {
		return "", errors.New("no dataset given: pass a file argument or --input")
	}
	return cfg.Input, nil
}

type reportFunc func(ctx context.Context, r *analysis.Runner, ds *model.Dataset) (report any, render func(io.Writer), err error)

func reportCmd(out io.Writer, use, short string, fn reportFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [dataset]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path, err := inputPath(cfg, args)
			if err != nil {
				return err
			}
			ds, err := input.LoadFile(path)
			if err != nil {
				return err
			}
			logging.Info("dataset loaded", "path", path, "comparisons", len(ds.Comparisons))

			runner := analysis.NewRunner(analysis.SettingsFromConfig(cfg), nil)
			report, render, err := fn(cmd.Context(), runner, ds)
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			if cfg.Format == "json" {
				return output.WriteJSON(out, report)
			}
			render(out)
			return nil
		},
	}
}
