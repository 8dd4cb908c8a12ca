package main

import (
	"context"
	"errors"
	"time"

	"github.com/ritzau/nma-engine/pkg/analysis"
	"github.com/ritzau/nma-engine/pkg/config"
	"github.com/ritzau/nma-engine/pkg/input"
	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/ritzau/nma-engine/pkg/watcher"
	"github.com/ritzau/nma-engine/pkg/web"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	quietPeriod = 300 * time.Millisecond
	maxWait     = 2 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [dataset]",
		Short: "Serve the analysis tools over HTTP",
		Long: `Serve the analysis tools over HTTP.

With --watch and a dataset, the full analysis runs at startup and again
whenever the dataset or the config file changes. Progress and reports are
streamed to /api/subscribe/analysis and /api/subscribe/report.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var datasetPath string
			if cfg.Watch {
				if datasetPath, err = inputPath(cfg, args); err != nil {
					return err
				}
			}

			publisher := web.NewPublisher()
			runner := analysis.NewRunner(analysis.SettingsFromConfig(cfg), publisher)
			server := web.NewServer(runner, publisher)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.Start(ctx, cfg.Port)
			})

			if cfg.Watch {
				g.Go(func() error {
					return watch(ctx, runner, cmd.Flags(), datasetPath)
				})
			}

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// watch runs the analysis once and then after every debounced change to the
// dataset or config file. It returns when ctx is done.
func watch(ctx context.Context, runner *analysis.Runner, flags *pflag.FlagSet, datasetPath string) error {
	configPath := config.DefaultFile
	if fl := flags.Lookup("config"); fl != nil {
		configPath = fl.Value.String()
	}

	fw, err := watcher.NewFileWatcher(datasetPath, configPath)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	debouncer := watcher.NewDebouncer(fw.Events(), quietPeriod, maxWait)
	debouncer.Start(ctx)

	src := input.FileSource{Path: datasetPath}
	rerun := func(reason string) {
		if _, err := runner.RunSource(ctx, src, reason); err != nil && ctx.Err() == nil {
			logging.Error("analysis failed", "reason", reason, "error", err)
		}
	}

	rerun("startup")
	for event := range debouncer.Output() {
		// a flush emits config and dataset separately; take both in one pass
		batch := []watcher.ChangeEvent{event}
	drain:
		for {
			select {
			case next, ok := <-debouncer.Output():
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		changes := watcher.AnalyzeChanges(batch...)
		logging.Info("files changed", "files", changes.ChangedFiles, "reload_config", changes.NeedConfigReload)

		if changes.NeedConfigReload {
			cfg, err := config.Load(flags)
			if err != nil {
				logging.Warn("keeping previous configuration", "error", err)
			} else {
				runner.SetSettings(analysis.SettingsFromConfig(cfg))
				if level, err := cfg.LogLevel(); err == nil {
					logging.SetLevel(level)
				}
			}
		}
		if changes.NeedDatasetLoad {
			rerun("file change")
		}
	}
	return nil
}
