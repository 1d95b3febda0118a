package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conveyr/conveyr/internal/pipeline"
	"github.com/conveyr/conveyr/pkg/config"
	"github.com/conveyr/conveyr/pkg/connector/registry"
	"github.com/conveyr/conveyr/pkg/logger"
	"github.com/conveyr/conveyr/pkg/monitor"

	// Import all available connectors to register them
	_ "github.com/conveyr/conveyr/pkg/connector/destinations/api"
	_ "github.com/conveyr/conveyr/pkg/connector/destinations/csv"
	_ "github.com/conveyr/conveyr/pkg/connector/destinations/jsonl"
	_ "github.com/conveyr/conveyr/pkg/connector/destinations/postgres"
	_ "github.com/conveyr/conveyr/pkg/connector/destinations/redis"
	_ "github.com/conveyr/conveyr/pkg/connector/sources/api"
	_ "github.com/conveyr/conveyr/pkg/connector/sources/csv"
	_ "github.com/conveyr/conveyr/pkg/connector/sources/file"
	_ "github.com/conveyr/conveyr/pkg/connector/sources/websocket"
	_ "github.com/conveyr/conveyr/pkg/connector/transformers"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "conveyr",
		Short: "Conveyr - crash-recoverable data pipeline engine",
		Long: `Conveyr moves items from pluggable sources through a transformer chain
to one or more destinations, with bounded concurrency, retry, dedup, and
durable checkpoints so an interrupted run resumes where it left off.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Conveyr v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Sources:")
			for _, name := range registry.SourceTypes() {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Println("\nTransformers:")
			for _, name := range registry.TransformerTypes() {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Println("\nDestinations:")
			for _, name := range registry.DestinationTypes() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var configFile, metricsAddr string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline from a YAML configuration",
		Long: `Run a pipeline described by a YAML configuration file. The file names
the sources, transformers and destinations, and tunes concurrency,
retries, dedup and checkpointing. ${VAR} references in the file are
substituted from the environment.

Example:
  conveyr run --config pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(configFile, metricsAddr)
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline YAML configuration (required)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	_ = runCmd.MarkFlagRequired("config")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runPipeline assembles and executes one run, stopping gracefully on
// SIGINT/SIGTERM.
func runPipeline(configFile, metricsAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: "json"}); err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	log := logger.Get().With(zap.String("pipeline", cfg.Name))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server failed", zap.Error(err))
			}
		}()
		defer server.Close() //nolint:errcheck
		log.Info("metrics listening", zap.String("addr", metricsAddr))
	}

	mon := monitor.NewLogMonitor(log, cfg.Observability.EnableMetrics)
	orch, err := pipeline.FromConfig(cfg, mon, log)
	if err != nil {
		return err
	}

	result, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	fmt.Printf("delivered=%d dropped=%d skipped=%d failed=%d duration=%s\n",
		result.Delivered, result.Dropped, result.Skipped, result.Failed, result.Duration.Round(time.Millisecond))
	if result.Failed > 0 || len(result.SourceErrors) > 0 {
		return fmt.Errorf("run finished with %d failed items and %d source errors",
			result.Failed, len(result.SourceErrors))
	}
	return nil
}
