package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/monitoring"
	"github.com/guided-traffic/json-post-proxy/internal/proxy"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/health"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Build information injected at build time
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "json-post-proxy",
		Short: "JSON POST proxy turns JSON request bodies into request variables",
		Long: `JSON POST proxy accepts POST requests with JSON bodies on configured locations.
The body is read without blocking the request pipeline, decoded, and every field is
exposed as a variable ($json_user, $json_items_0, ...) to the location's content handler:

- return:     answer with a status and a body template
- proxy_pass: forward the request upstream with templated headers
- s3_put:     store the body in S3 under a templated key

Locations may require a JWT bearer token or HTTP basic credentials.

All configuration is done through YAML configuration files. Use --config to specify
a configuration file, or the proxy will look for configuration in standard locations.`,
		Run: runProxy,
	}

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, loc := range cfg.Locations {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s json_decode=%t\n", loc.Path, loc.ContentHandler(), loc.JSONDecode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "json-post-proxy %s (commit %s, built %s)\n", version, commit, buildTime)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to configuration file (YAML format)")
	rootCmd.AddCommand(checkCmd, versionCmd)
}

func initConfig() {
	config.InitConfig(cfgFile)
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func runProxy(cmd *cobra.Command, args []string) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	// Display build information at startup
	logrus.WithFields(logrus.Fields{
		"version":   version,
		"commit":    commit,
		"buildTime": buildTime,
	}).Info("JSON POST proxy build information")

	if !cfg.JSONDecodeUsed {
		logrus.Warn("No location enables json_decode, request bodies will not be decoded")
	}

	proxyServer, err := proxy.NewServer(cfg, proxy.WithBuildInfo(health.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create proxy server")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.Enabled {
		monitoring.SetServerInfo(version, commit, buildTime)
		monitoringServer := monitoring.NewServer(&monitoring.Config{
			BindAddress: cfg.Monitoring.BindAddress,
			MetricsPath: cfg.Monitoring.MetricsPath,
		})
		go func() {
			if err := monitoringServer.Start(ctx); err != nil {
				logrus.WithError(err).Error("Monitoring server failed")
			}
		}()
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- proxyServer.Start(ctx)
	}()

	select {
	case <-sigChan:
		logrus.Info("Received shutdown signal, gracefully shutting down...")
		cancel()
		if err := <-serverDone; err != nil {
			logrus.WithError(err).Error("Graceful shutdown failed")
		}
	case err := <-serverDone:
		if err != nil {
			logrus.WithError(err).Fatal("Proxy server failed")
		}
	}

	logrus.Info("Server stopped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
