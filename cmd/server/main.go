package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gravitas-games/flowfield/internal/config"
	"github.com/gravitas-games/flowfield/internal/logging"
	"github.com/gravitas-games/flowfield/internal/nav"
	"github.com/gravitas-games/flowfield/internal/server"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flowfield",
	Short: "Hierarchical flow-field navigation server",
	Long: `flowfield plans region routes over a portal graph and builds per-region
flow fields for crowds of agents. Clients connect over WebSocket, request
paths and receive routes and fields as the pipeline produces them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load(".env")

		if configPath == "" {
			configPath = os.Getenv("CONFIG_PATH")
		}
		if configPath == "" {
			configPath = "./configs/server.yaml"
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Info("Configuration loaded", zap.String("path", configPath))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the navigation pipeline and the WebSocket server",
	RunE:  serve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or ./configs/server.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, planCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	world, err := loadWorld(cfg.World)
	if err != nil {
		return err
	}

	bus := nav.NewSimpleEventBus()
	engine, err := nav.NewEngine(world, nav.OptionsFromConfig(cfg), logger, bus)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	srv, err := server.New(cfg, engine, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		if err := engine.Run(ctx); err != nil {
			errChan <- fmt.Errorf("pipeline: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.Start(addr); err != nil {
			errChan <- fmt.Errorf("server: %w", err)
		}
	}()

	var runErr error
	select {
	case runErr = <-errChan:
		logger.Error("Server error", zap.Error(runErr))
	case <-ctx.Done():
		logger.Info("Received signal, shutting down")
	}
	cancel()

	if err := srv.Shutdown(); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
	return runErr
}
