package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/germanfgv/firecrest-v2/internal/config"
	"github.com/germanfgv/firecrest-v2/internal/gateway"
	"github.com/germanfgv/firecrest-v2/internal/obslog"
	"github.com/germanfgv/firecrest-v2/internal/servicecontext"
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
	Use:     "firecrest-gateway",
	Short:   "FirecREST gateway: broker HTTP access to HPC clusters over SSH and Slurm",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"firecrest-gateway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
	rootCmd.AddCommand(configCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	obslog.Init(obslog.Config{
		Level:      obslog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load configuration, wire every cluster, and serve HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		doc, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		ctx := context.Background()
		services, err := servicecontext.Build(ctx, doc)
		if err != nil {
			return fmt.Errorf("build service context: %w", err)
		}
		services.Start()

		gateway.AppVersion = doc.AppVersion
		server := gateway.NewServer(services)

		httpServer := &http.Server{
			Addr:         addr,
			Handler:      server,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			obslog.WithComponent("cmd").Info().Str("addr", addr).Msg("gateway listening")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			services.Stop()
			return fmt.Errorf("server error: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			services.Stop()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		services.Stop()

		fmt.Println("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8000", "HTTP listen address")
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Load configuration, run one round of health probes for every cluster, and print the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		ctx := context.Background()
		services, err := servicecontext.Build(ctx, doc)
		if err != nil {
			return fmt.Errorf("build service context: %w", err)
		}

		exitCode := 0
		for _, cluster := range services.Clusters.All() {
			cc, ok := services.Cluster(cluster.Name)
			if !ok {
				continue
			}
			samples := cc.Monitor.Samples()
			if samples == nil {
				// Healthcheck runs a probe directly rather than waiting on the
				// periodic monitor, since this command exits immediately.
				cc.Monitor.Start()
				time.Sleep(cc.Monitor.Timeout)
				cc.Monitor.Stop()
				samples = cc.Monitor.Samples()
			}
			fmt.Printf("cluster %s:\n", cluster.Name)
			for _, s := range samples {
				status := "healthy"
				if !s.Healthy {
					status = "unhealthy: " + s.Message
					exitCode = 1
				}
				if s.Path != "" {
					fmt.Printf("  %s %s: %s\n", s.Type, s.Path, status)
				} else {
					fmt.Printf("  %s: %s\n", s.Type, status)
				}
			}
		}
		if exitCode != 0 {
			os.Exit(exitCode)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration named by YAML_CONFIG_FILE",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := config.Load()
		if err != nil {
			return err
		}
		registry, err := doc.ClusterRegistry()
		if err != nil {
			return err
		}
		fmt.Printf("configuration valid: %d cluster(s) configured\n", len(registry.All()))
		for _, c := range registry.All() {
			fmt.Printf("  - %s\n", c.Name)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
