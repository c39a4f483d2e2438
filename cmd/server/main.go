package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"join-code/contract"
	"join-code/domain"
	"join-code/importer"
	"join-code/infrastructure/bus"
	"join-code/infrastructure/storage"
	"join-code/infrastructure/ws"
	"join-code/internal"
	"join-code/moderation"
	"join-code/runtime"
	"join-code/runtime/workers"
	"join-code/services"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run builds every component, serves until a signal or a fatal error, then
// shuts down in reverse order. Deferred cleanups always run before exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Dependencies: both must answer before we accept a single connection.
	store, closeStore, err := openStore(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	messageBus, locker, closeBus, err := openBus(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeBus()

	// 3. Room engine
	mode := config.Mode()
	registry := runtime.NewRegistry(logger, mode, instanceID, config.DefaultPath, config.DefaultContent, config.HistorySize)
	router := runtime.NewRouter(logger, registry, messageBus, config.BusChannel, instanceID)
	arbiter := runtime.NewArbiter(logger, registry, router, locker, store)
	gitImporter := importer.NewGitImporter(logger, config.CloneDir, config.CloneTimeout, config.MaxUploadBytes)
	documents := runtime.NewDocuments(logger, registry, router, arbiter, store, gitImporter, config.MaxUploadBytes)
	chat := runtime.NewChat(logger, registry, router, store)
	if words := config.CensoredWordList(); len(words) > 0 {
		moderator, err := moderation.NewModerator(words, []rune(config.CensorChar)[0])
		if err != nil {
			return exitConfig, fmt.Errorf("censored words: %w", err)
		}
		chat.WithCensor(moderator)
		logger.Info("Chat moderation enabled", "words", len(words))
	}
	suggestions := runtime.NewSuggestionWorkflow(logger, registry, router, arbiter, store)
	sessionService := services.NewSessionService(logger, store, registry, router, arbiter, documents, chat, suggestions, config.HistorySize)

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(logger, sup, router, messageBus, config.BusChannel, config.BusBufferSize).
		WithHealthMonitor(config.MonitorInterval, config.LowCapacityThreshold)
	if mode == domain.ModeStrict {
		orchestrator.WithLockRefresher(arbiter, config.LockRefreshInterval())
	}

	errChan := make(chan error, 2)

	// 4. Start the bus workers
	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 5. HTTP & WebSocket server
	handler := ws.NewHandler(logger, sessionService, ws.Options{
		BufferSize:   config.ConnectionBufferSize,
		WriteTimeout: config.WriteTimeout,
		PongTimeout:  config.PongTimeout,
		ReadLimit:    config.ReadLimit,
		LeaveTimeout: config.ShutdownTimeout,
	})
	server := &http.Server{
		Addr:              config.Address(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr, "instance_id", instanceID, "mode", mode, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		orchestrator.Stop()
		return exitRuntime, err
	}

	// 7. Graceful shutdown: stop accepting, then stop the bus workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", "error", err)
	}
	orchestrator.Stop()
	logger.Info("Program stopped cleanly", "suppressed_echoes", router.Suppressed())

	return exitOK, nil
}

func openStore(ctx context.Context, config internal.Config, logger *slog.Logger) (contract.Store, func(), error) {
	if config.StoreDriver == internal.StoreMemory {
		logger.Warn("Using in-memory store, nothing will be persisted")
		return storage.NewMemoryStore(config.DefaultPath, config.DefaultContent), func() {}, nil
	}
	pool, err := storage.NewPostgresPool(ctx, config.DatabaseURL, config.DBMinConns, config.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	store := storage.NewPostgresStore(pool, logger, config.DefaultPath, config.DefaultContent)
	if err = store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Info("Connected to PostgreSQL")
	return store, func() {
		logger.Info("Closing PostgreSQL pool...")
		store.Close()
	}, nil
}

func openBus(ctx context.Context, config internal.Config, logger *slog.Logger) (contract.Bus, contract.LockStore, func(), error) {
	if config.BusDriver == internal.BusMemory {
		logger.Warn("Using in-memory bus, rooms are not shared across instances")
		return bus.NewMemoryBus(config.BusBufferSize), bus.NewMemoryLocker(), func() {}, nil
	}
	client, err := bus.NewRedisClient(ctx, config.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("Connected to Redis")
	return bus.NewRedisBus(client, logger), bus.NewRedisLocker(client, config.LockPrefix, config.LockTTL), func() {
		logger.Info("Closing Redis client...")
		_ = client.Close()
	}, nil
}
