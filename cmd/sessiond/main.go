package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sessiond/pkg/api"
	"github.com/cuemby/sessiond/pkg/config"
	"github.com/cuemby/sessiond/pkg/dispatch"
	"github.com/cuemby/sessiond/pkg/engine"
	"github.com/cuemby/sessiond/pkg/files"
	"github.com/cuemby/sessiond/pkg/log"
	"github.com/cuemby/sessiond/pkg/reaper"
	"github.com/cuemby/sessiond/pkg/registry"
	"github.com/cuemby/sessiond/pkg/runtime"
	"github.com/cuemby/sessiond/pkg/session"
	"github.com/cuemby/sessiond/pkg/socket"
	"github.com/spf13/cobra"
)

// defaultSocketPath is where serve listens and the session subcommands
// dial by default; overridable with --socket on either side.
const defaultSocketPath = "/run/sessiond/sessiond.sock"

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
	Use:   "sessiond",
	Short: "sessiond - stateful code execution session manager",
	Long: `sessiond provisions and supervises containerized code execution
sessions: one-shot Python interpreters and persistent R evaluators,
each with a confined workspace and a serialized execution slot.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sessiond version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
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
	Short: "Run the session manager daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		socketPath, _ := cmd.Flags().GetString("socket")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger := log.WithComponent("sessiond")
		logger.Info().
			Str("image", cfg.ImageName).
			Int("max_sessions", cfg.MaxSessions).
			Dur("idle_timeout", cfg.IdleTimeout).
			Msg("starting sessiond")

		rt, err := runtime.NewContainerdRuntime(cfg.RuntimeSocket, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		defer rt.Close()

		reg, err := registry.New(cfg, rt, logger)
		if err != nil {
			return fmt.Errorf("failed to build registry: %w", err)
		}

		oneShot := engine.NewOneShot(rt, cfg, logger)
		persistent := engine.NewPersistent(rt, cfg, logger)
		router := engine.NewRouter(oneShot, persistent)

		f := files.New(rt, cfg, logger)
		mgr := session.New(reg, router, f, rt, cfg)

		rpr := reaper.New(reg, cfg.ReaperInterval)
		rpr.Start()

		table := dispatch.New(mgr)
		sockServer, err := socket.Listen(socketPath, table, logger)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
		}

		socketCtx, socketCancel := context.WithCancel(context.Background())
		sockErrCh := make(chan error, 1)
		go func() {
			if err := sockServer.Serve(socketCtx); err != nil {
				sockErrCh <- fmt.Errorf("socket server error: %w", err)
			}
		}()
		logger.Info().Str("socket", socketPath).Msg("session operation socket listening")

		hs := api.NewHealthServer(reg)
		httpServer := &http.Server{
			Addr:         addr,
			Handler:      hs.GetHandler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("health server error: %w", err)
			}
		}()
		logger.Info().Str("addr", addr).Msg("health/metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			logger.Error().Err(err).Msg("health server failed")
		case err := <-sockErrCh:
			logger.Error().Err(err).Msg("socket server failed")
		}

		rpr.Stop()
		socketCancel()
		_ = sockServer.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("health server shutdown did not complete cleanly")
		}

		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		reg.CloseAll(closeCtx)

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "0.0.0.0:9090", "Address for /health, /ready and /metrics")
	serveCmd.Flags().String("socket", defaultSocketPath, "Unix-domain socket serving the session operation table")
}
