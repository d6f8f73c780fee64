// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/focuslamp/internal/api/connect"
	"github.com/osa030/focuslamp/internal/api/ws"
	"github.com/osa030/focuslamp/internal/app/session"
	domainrating "github.com/osa030/focuslamp/internal/domain/rating"
	"github.com/osa030/focuslamp/internal/infra/config"
	"github.com/osa030/focuslamp/internal/infra/history"
	"github.com/osa030/focuslamp/internal/infra/lamp"
	"github.com/osa030/focuslamp/internal/infra/logger"
	"github.com/osa030/focuslamp/internal/infra/rating"
	"github.com/osa030/focuslamp/internal/infra/recording"
)

var (
	app        = kingpin.New("focuslamp-server", "focus lamp session server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-actions command
	listActionsCmd = app.Command("list-actions", "List available action recordings and exit")

	// history command
	historyCmd   = app.Command("history", "Print recent sessions and exit")
	historyLimit = historyCmd.Flag("limit", "Number of sessions to print").Default("20").Int()
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		File:   "",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	switch command {
	case listActionsCmd.FullCommand():
		err = printActions(cfg)
	case historyCmd.FullCommand():
		err = printHistory(cfg, *historyLimit)
	default:
		// Run server (defer ensures shutdown hook is called)
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	// Create lamp collaborators
	source, closeSource, err := newRatingSource(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create rating source")
	}
	defer closeSource()

	library := recording.NewLibrary(cfg.Lamp.RecordingsDir, cfg.Lamp.ID)
	if names, err := library.List(); err != nil {
		zlog.Warn().Msgf("Failed to list recordings: dir=%s err=%v", cfg.Lamp.RecordingsDir, err)
	} else {
		zlog.Info().Msgf("Recordings loaded: dir=%s count=%d", cfg.Lamp.RecordingsDir, len(names))
	}

	arm := lamp.NewArm()
	deps := session.Dependencies{
		Strip:   lamp.NewStrip(cfg.Lamp.LEDCount),
		Motion:  arm,
		Source:  source,
		Library: library,
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open history store")
		}
		defer func() {
			if err := store.Close(); err != nil {
				zlog.Warn().Msgf("Failed to close history store: %v", err)
			}
		}()
		deps.History = store
	}

	// Create session manager
	sessionMgr := session.NewManager(cfg, deps)
	if err := sessionMgr.Run(ctx); err != nil {
		return errors.Wrap(err, "failed to run session manager")
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register services
	controlService := apiconnect.NewControlService(sessionMgr)
	controlPath, controlHandler := apiconnect.NewControlServiceHandler(
		controlService,
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg)),
	)
	mux.Handle(controlPath, controlHandler)
	mux.Handle(cfg.Server.WSPath, ws.NewHandler(sessionMgr))

	// Determine server address
	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    serverAddr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s ws_path=%s", serverAddr, cfg.Server.WSPath)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		serveErr = errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Close session manager first to end streams and park the lamp
	sessionMgr.Close(shutdownCtx)
	if err := arm.Home(shutdownCtx); err != nil {
		zlog.Warn().Msgf("Failed to home arm: %v", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return serveErr
}

// newRatingSource builds the configured rating source and its cleanup.
func newRatingSource(cfg *config.Config) (domainrating.Source, func(), error) {
	switch cfg.Rating.Type {
	case config.RatingRedis:
		src := rating.NewRedisSource(rating.RedisConfig{
			Addr:     cfg.Rating.Redis.Addr,
			Password: cfg.Rating.Redis.Password,
			DB:       cfg.Rating.Redis.DB,
			Key:      cfg.Rating.Redis.Key,
		})
		zlog.Info().Msgf("Rating source: redis addr=%s key=%s", cfg.Rating.Redis.Addr, cfg.Rating.Redis.Key)
		return src, func() {
			if err := src.Close(); err != nil {
				zlog.Warn().Msgf("Failed to close redis client: %v", err)
			}
		}, nil
	default:
		src, err := rating.NewFileSource(cfg.Rating.File.Path, cfg.Rating.File.Pattern)
		if err != nil {
			return nil, nil, err
		}
		zlog.Info().Msgf("Rating source: file path=%s", cfg.Rating.File.Path)
		return src, func() {}, nil
	}
}

// printActions prints the action recordings available to this lamp, with
// the rating buckets that trigger them.
func printActions(cfg *config.Config) error {
	library := recording.NewLibrary(cfg.Lamp.RecordingsDir, cfg.Lamp.ID)
	entries, err := library.Catalog()
	if err != nil {
		return err
	}

	fmt.Printf("Available Actions (%s):\n", cfg.Lamp.RecordingsDir)
	for _, e := range entries {
		if e.Err != nil {
			fmt.Printf("  %-20s - invalid: %v\n", e.Name, e.Err)
			continue
		}
		line := fmt.Sprintf("  %-20s - %d frames, joints: %s", e.Name, e.Frames, strings.Join(e.Joints, ","))
		if len(e.Buckets) > 0 {
			line += fmt.Sprintf(", rating buckets: %v", e.Buckets)
		}
		fmt.Println(line)
	}
	return nil
}

// printHistory prints the most recent sessions.
func printHistory(cfg *config.Config, limit int) error {
	if cfg.History.Path == "" {
		return errors.New("history.path is not configured")
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), limit)
	if err != nil {
		return err
	}

	for _, e := range entries {
		ended := "running"
		if e.EndedAt != nil {
			ended = e.EndedAt.Local().Format(time.DateTime) + " (" + e.Reason + ")"
		}
		fmt.Printf("%s  %s -> %s  %d phases  %+v\n",
			e.ID, e.StartedAt.Local().Format(time.DateTime), ended, len(e.Phases), e.Params)
	}
	return nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
