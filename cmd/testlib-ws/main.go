package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"testlib-ws/pkg/testlibws"
)

var version = "dev"

var (
	configPath  string
	envFile     string
	metricsAddr string
	clientSDK   string

	listenAddr string
	scriptPath string
)

var rootCmd = &cobra.Command{
	Use:   "testlib-ws",
	Short: "SDK test library client with a websocket control channel",
	Long: `Runs SDK test sessions against an orchestration server: commands are
pulled over HTTP, control signals arrive over a websocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return testlibws.LoadEnvFile(envFile)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a test session and log every command",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := testlibws.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if metricsAddr != "" {
			cfg.Metrics.Listen = metricsAddr
		}
		if clientSDK != "" {
			cfg.ClientSDK = clientSDK
		}
		logger, err := testlibws.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer syncLogger(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		if cfg.Metrics.Listen != "" {
			testlibws.EnablePrometheusMetrics()
			g.Go(func() error { return testlibws.StartMetricsServer(gctx, cfg.Metrics.Listen) })
			logger.Infof("prometheus metrics listening on %s", cfg.Metrics.Listen)
		}

		executor := testlibws.ExecutorFunc(func(className, methodName string, params map[string][]string) {
			logger.Info("command", "class", className, "method", methodName, "params", params)
		})
		lib := testlibws.NewFromConfig(cfg, executor, logger)
		defer lib.Close()

		if err := lib.StartTestSession(cfg.ClientSDK); err != nil {
			return err
		}
		logger.Infof("test session requested from %s (tests %q)", cfg.BaseURL, lib.TestNames())

		g.Go(func() error {
			defer cancel()
			err := lib.Wait(gctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("interrupted before the session ended")
				return nil
			}
			return err
		})
		return g.Wait()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mock orchestration server from a YAML script",
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := testlibws.LoadScript(scriptPath)
		if err != nil {
			return err
		}
		logger, err := testlibws.NewLogger(testlibws.LogConfig{Env: "development"})
		if err != nil {
			return err
		}
		defer syncLogger(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		srv := testlibws.NewMockServer(script, logger)
		g.Go(func() error { return srv.ListenAndServe(gctx, listenAddr) })
		if metricsAddr != "" {
			testlibws.EnablePrometheusMetrics()
			g.Go(func() error { return testlibws.StartMetricsServer(gctx, metricsAddr) })
		}
		logger.Infof("serving %d scripted tests, control socket at ws://%s/control", len(script.Tests), listenAddr)
		return g.Wait()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func syncLogger(l testlibws.Logger) {
	if s, ok := l.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with TESTLIB_* variables")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9100")

	runCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "config path (.yaml or .toml)")
	runCmd.Flags().StringVar(&clientSDK, "client-sdk", "", "Client-SDK header, overrides config")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:1987", "listen address")
	serveCmd.Flags().StringVar(&scriptPath, "script", "script.yaml", "YAML test script")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
