package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"aiweather/internal/archive"
	"aiweather/internal/config"
	"aiweather/internal/hub"
	"aiweather/internal/normalize"
	"aiweather/internal/provider"
	"aiweather/internal/scheduler"
	"aiweather/internal/server"
	"aiweather/internal/state"
	"aiweather/internal/weather"
)

var version = "dev"

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "aiweather",
	Short: "AI weather visualization server",
	Long: `aiweather fetches the current weather once an hour, asks a set of AI
models to each render it as a self-contained HTML page, and streams the
results to connected browsers as they land. Every cycle is archived to
disk and replayed on restart.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresh loop and web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config and probe provider availability",
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aiweather %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := state.NewStore(cfg.EnabledModelNames(), cfg.Prompt.Template, logger)

	arch, err := archive.New(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	restoreState(store, arch, cfg)

	h := hub.New(store, logger)

	providers, err := provider.Build(cfg, logger)
	if err != nil {
		return err
	}

	source := weather.NewClient(cfg.Weather, cfg.GetWeatherTimeout(), logger)
	sched := scheduler.New(cfg, store, h, arch, source, providers, logger)
	sched.Start(ctx)

	watcher, err := config.NewWatcher(configPath, logger, func(template string) {
		store.SetPromptTemplate(template)
		logger.Info("prompt template reloaded")
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	srv := server.New(cfg, h, providers, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	cancel()
	sched.Stop()
	h.Close()
	return nil
}

// restoreState reloads the newest archived cycle so observers see the
// previous round immediately after a restart. The scheduler decides
// afterward whether the restored cycle is still fresh.
func restoreState(store *state.Store, arch *archive.Archive, cfg *config.Config) {
	cycle, err := arch.LoadLatest(cfg.EnabledModelNames())
	if err != nil {
		logger.Warn("archive restore failed", zap.Error(err))
		return
	}
	if cycle == nil {
		logger.Info("no archived cycles to restore")
		return
	}

	snap := &weather.Snapshot{Payload: cycle.Weather, CapturedAt: cycle.CapturedAt}
	store.Restore(snap, snap.CycleID(), cycle.Visualizations, normalize.Normalize)
	logger.Info("state restored from archive",
		zap.String("cycle_id", snap.CycleID()),
		zap.Int("models", len(cycle.Visualizations)))
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Println("config: ok")

	providers, err := provider.Build(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, p := range providers {
		status := "unavailable"
		if p.IsAvailable(ctx) {
			status = "ok"
		}
		fmt.Printf("provider %-10s %s\n", name+":", status)
	}

	for _, m := range cfg.EnabledModels() {
		fmt.Printf("model %-20s %s/%s\n", m.Name+":", m.Provider, m.ModelID)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
