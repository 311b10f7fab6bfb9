package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/mahoodle"
)

var (
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:          "mahoodle",
		Short:        "Relay Mahara notifications to Moodle",
		Long:         "Forwards Mahara notification events (created, read, deleted) to the Moodle local_mahoodle webservice for MNet users.",
		SilenceUsage: true,
		RunE:         runServe,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "run the forwarder host",
		Long:  "Start the plugin host, subscribe to notification events and serve the intake API",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", configPath(), "path to the YAML config file (env CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, logger, configFile)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		return err
	}
	defer a.Close()

	mgr := core.NewModuleManager(logger)
	mgr.SetConfig(a.cfgMap)
	mgr.SetHTTPClient(a.httpClient)

	pluginsDir := a.cfg.PluginsDir
	if pluginsDir == "" {
		pluginsDir = "plugins"
	}
	if err := mgr.LoadPlugins(pluginsDir); err != nil {
		logger.Error("Failed to load plugins", "error", err)
	}

	mgr.Register(mahoodle.NewModule(a.forwarder, a.settings))
	mgr.GetMuxServer().Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	if err := mgr.Init(ctx); err != nil {
		logger.Error("Failed to initialize modules", "error", err)
		return err
	}
	mgr.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down...", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Stop(shutdownCtx)
	logger.Info("Shutdown complete")
	return nil
}

func printOutcome(cmd *cobra.Command, outcome mahoodle.Outcome) {
	out := cmd.OutOrStdout()
	if !outcome.IsSent() {
		fmt.Fprintf(out, "%s\n", outcome.Kind)
		return
	}
	resp := outcome.Response
	switch {
	case resp.Error != "":
		fmt.Fprintf(out, "sent to %s: %s\n", resp.URL, resp.Error)
	case resp.Exception() != nil:
		fmt.Fprintf(out, "sent to %s: HTTP %d, %v\n", resp.URL, resp.StatusCode, resp.Exception())
	default:
		fmt.Fprintf(out, "sent to %s: HTTP %d %s\n", resp.URL, resp.StatusCode, resp.Body)
	}
}
