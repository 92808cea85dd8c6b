package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"drivesync/database"
	"drivesync/infrastructure/config"
	"drivesync/infrastructure/factories"
	"drivesync/logging"
)

var (
	envFile  string
	verbose  bool
	noWait   bool
	jsonOut  bool
	deadline time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drivesyncctl",
		Short: "Operate the drive sync engine from the command line",
		Long: `drivesyncctl runs the sync engine in-process against the configured database,
Graph tenant and NATS sink. Commands start jobs and wait for them unless --no-wait is set.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noWait, "no-wait", false, "return once jobs are started")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&deadline, "timeout", 0, "give up after this long (0 waits indefinitely)")

	rootCmd.AddCommand(
		registerCmd(),
		registerSiteCmd(),
		syncCmd(),
		statusCmd(),
		renewCmd(),
		uninstallCmd(),
		jobsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is one in-process engine bound to the command's lifetime.
type session struct {
	cfg    *config.AppConfig
	logger *logging.Logger
	db     *database.Database
	engine *factories.Engine
}

func openSession(ctx context.Context) (*session, error) {
	_ = godotenv.Load(envFile)

	cfg := config.LoadAppConfigFromEnv()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	logging.SetDefault(logger)

	db, err := database.New(*cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	remote, err := factories.BuildRemote(ctx, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	engine, err := factories.NewEngine(cfg, db, remote)
	if err != nil {
		remote.Close()
		db.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, db: db, engine: engine}, nil
}

// drain waits for running jobs and the follow-up work their events start.
func (s *session) drain(ctx context.Context) {
	if noWait {
		return
	}
	done := make(chan struct{})
	go func() {
		s.engine.Coordinator.Wait()
		s.engine.EventBus.Wait()
		s.engine.Coordinator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Stopped waiting for jobs", "error", ctx.Err())
	}
}

func (s *session) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Engine shutdown error", "error", err)
	}
	s.db.Close()
}

// withSession runs fn against a fresh engine. SIGINT cancels ctx; running passes stop at
// their next step and keep their checkpoints.
func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	return fn(ctx, s)
}
