// Command olimp evaluates precompensation models for impaired vision over
// public datasets.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kirbu123/olimp/appconfig"
	"github.com/kirbu123/olimp/dataset"
	"github.com/kirbu123/olimp/downloads"
	"github.com/kirbu123/olimp/evaluation"
	"github.com/kirbu123/olimp/models"
	"github.com/kirbu123/olimp/trainconfig"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "olimp",
		Short:         "Precompensation model evaluation toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(evaluateCmd(), datasetCmd(), runtimeCmd(), configCmd())
	return root
}

// newLogger builds a zap logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	return cfg.Build()
}

// openStore builds the dataset store from the application config with console
// progress reporting.
func openStore(cfg appconfig.Config, log *zap.Logger, quiet bool) (*dataset.Store, error) {
	opts := dataset.StoreOptions{
		Dir:         cfg.DataDir,
		DBPath:      cfg.DBPath,
		APIBase:     cfg.ZenodoAPIBase,
		Parallelism: cfg.DownloadParallelism,
		Logger:      log,
	}
	if !quiet {
		opts.Progress = func(p downloads.Progress) {
			if p.Status != downloads.StatusDownloading || p.TotalBytes == 0 {
				return
			}
			fmt.Printf("\r%s: %.1f%% (%s / %s, %s)    ",
				p.ArchiveName, p.Percent,
				downloads.FormatBytes(p.BytesDownloaded),
				downloads.FormatBytes(p.TotalBytes),
				downloads.FormatSpeed(p.Speed))
		}
	}
	return dataset.NewStore(opts)
}

func resolveOptions(cfg appconfig.Config) models.ResolveOptions {
	return models.ResolveOptions{
		CacheDir:             cfg.CacheDir,
		ORTSharedLibraryPath: cfg.ORTSharedLibraryPath,
		S3Endpoint:           cfg.S3.Endpoint,
		S3Region:             cfg.S3.Region,
		S3AccessKey:          cfg.S3.AccessKey,
		S3SecretKey:          cfg.S3.SecretKey,
	}
}

func evaluateCmd() *cobra.Command {
	var limit int
	var resultsPath string

	cmd := &cobra.Command{
		Use:   "evaluate <config.json|config.yaml>",
		Short: "Run a model over a dataset and record per-sample scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, _, err := appconfig.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(appCfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			expCfg, err := trainconfig.LoadFile(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(appCfg, log, false)
			if err != nil {
				return err
			}
			defer store.Close()

			if resultsPath == "" {
				resultsPath = appCfg.ResultsPath
			}
			runner := evaluation.NewRunner(expCfg, store, evaluation.Options{
				Resolve:     resolveOptions(appCfg),
				ResultsPath: resultsPath,
				Limit:       limit,
				Logger:      log,
			})
			summary, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d samples, mean score %.6f (%d non-finite)\n",
				summary.RunID, summary.Samples, summary.Mean, summary.NonFinite)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "evaluate at most this many samples (0 = all)")
	cmd.Flags().StringVar(&resultsPath, "results", "", "results database path (defaults to the configured one)")
	return cmd
}

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage cached dataset records",
	}
	cmd.AddCommand(datasetDownloadCmd(), datasetListCmd())
	return cmd
}

// recordByName maps the CLI record argument to its Zenodo record.
func recordByName(name string) (dataset.Record, error) {
	switch strings.ToLower(name) {
	case "sca_2023", "sca-2023":
		return dataset.SCA2023, nil
	case "cvd":
		return dataset.CVD, nil
	}
	return dataset.Record{}, fmt.Errorf("unknown dataset %q (want sca_2023 or cvd)", name)
}

func datasetDownloadCmd() *cobra.Command {
	var categories []string

	cmd := &cobra.Command{
		Use:   "download <sca_2023|cvd>",
		Short: "Download and index a dataset record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := recordByName(args[0])
			if err != nil {
				return err
			}
			appCfg, _, err := appconfig.Load()
			if err != nil {
				return err
			}
			log, err := newLogger(appCfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := openStore(appCfg, log, false)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(categories) == 0 {
				categories = []string{"*"}
			}
			byCat, err := store.Fetch(cmd.Context(), rec, categories)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, cat := range categories {
				fmt.Printf("%s %s: %d images\n", rec.Name, cat, len(byCat[cat]))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "category subpath to fetch (repeatable; default: whole record)")
	return cmd
}

func datasetListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached dataset records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, _, err := appconfig.Load()
			if err != nil {
				return err
			}
			store, err := openStore(appCfg, zap.NewNop(), true)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.Indexed()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("no cached records")
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s\t%d images\n", r.Record, r.Images)
			}
			return nil
		},
	}
}

func runtimeCmd() *cobra.Command {
	var version string

	install := &cobra.Command{
		Use:   "install",
		Short: "Download the ONNX Runtime shared library and save its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, _, err := appconfig.Load()
			if err != nil {
				return err
			}
			libPath, err := models.EnsureORTRuntime(cmd.Context(), appCfg.CacheDir, version,
				func(done, total int64) {
					if total > 0 {
						fmt.Printf("\ronnxruntime: %s / %s    ",
							downloads.FormatBytes(done), downloads.FormatBytes(total))
					}
				})
			if err != nil {
				return err
			}
			fmt.Println()
			appCfg.ORTSharedLibraryPath = libPath
			if _, err := appconfig.Save(appCfg); err != nil {
				return err
			}
			fmt.Println("installed", libPath)
			return nil
		},
	}
	install.Flags().StringVar(&version, "version", models.DefaultORTVersion, "ONNX Runtime release version")

	cmd := &cobra.Command{
		Use:   "runtime",
		Short: "Manage the ONNX Runtime library",
	}
	cmd.AddCommand(install)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect application and experiment configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the application configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := appconfig.Load()
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(path)
				fmt.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate <config.json|config.yaml>",
			Short: "Validate an experiment configuration file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := trainconfig.LoadFile(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("ok: model=%s loss=%s distortions=%d\n",
					cfg.Model.Variant.VariantName(),
					cfg.Loss.Variant.VariantName(),
					len(cfg.Distortions))
				return nil
			},
		},
	)
	return cmd
}
