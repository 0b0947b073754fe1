package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // profiling endpoints
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/nodehive/hive/pkg/events"
	"github.com/nodehive/hive/pkg/hiveconfig"
	"github.com/nodehive/hive/pkg/jobsystem"
	"github.com/nodehive/hive/pkg/log"
	"github.com/nodehive/hive/pkg/messaging"
	"github.com/nodehive/hive/pkg/metrics"
	"github.com/nodehive/hive/pkg/services"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "hive - a peer-to-peer node runtime",
	Long: `hive runs a single node of a peer-to-peer mesh: cooperative job
scheduling, a weak-reference event broker, WebSocket messaging between
peers, and round-robin service RPC, wired up by a single serve command.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hive version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a hive node",
	Long:  `Start a hive node: job system, event broker, messaging endpoint, and service registry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg := hiveconfig.Default()
		if configPath != "" {
			f, err := os.Open(configPath)
			if err != nil {
				return fmt.Errorf("open config: %w", err)
			}
			defer f.Close()
			cfg, err = hiveconfig.Load(f)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}

		log.Info(fmt.Sprintf("starting hive node on port %d", cfg.Net.Port))

		manager := jobsystem.NewManager(cfg.Jobs.Concurrency)
		manager.StartExecution()
		defer manager.StopExecution()

		_ = events.NewBroker(manager)
		endpoint := messaging.NewEndpoint(uuid.New().String(), manager)
		registry := services.NewRegistry(manager, endpoint)

		metrics.RegisterComponent("jobsystem", true, "")
		metrics.RegisterComponent("messaging", true, "")
		metrics.RegisterComponent("services", true, "")

		if cfg.Net.AutoInit {
			addr := fmt.Sprintf(":%d", cfg.Net.Port)
			go func() {
				if err := endpoint.StartServer(addr); err != nil {
					log.Errorf("messaging server error: %v", err)
				}
			}()
			defer endpoint.StopServer(context.Background())
			log.Info(fmt.Sprintf("messaging endpoint listening on %s", addr))
		}

		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())

			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
					log.Errorf("metrics server error: %v", err)
				}
			}()
			log.Info(fmt.Sprintf("metrics endpoint listening on %s", metricsAddr))
		}

		fmt.Println("hive node is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		// The endpoint's consumer registry holds only weak references to the
		// registry's consumer handles, so keep the registry reachable until
		// shutdown.
		runtime.KeepAlive(registry)

		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file (defaults used when unset)")
	serveCmd.Flags().String("metrics-addr", "", "Address to serve /metrics, /health, /ready, /live on (disabled if unset)")
}
