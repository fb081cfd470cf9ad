package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sandboxrun/engine/internal/callback"
	"github.com/sandboxrun/engine/internal/config"
	"github.com/sandboxrun/engine/internal/dispatcher"
	"github.com/sandboxrun/engine/internal/executor"
	"github.com/sandboxrun/engine/internal/handler"
	"github.com/sandboxrun/engine/internal/middleware"
	"github.com/sandboxrun/engine/internal/registry"
	"github.com/sandboxrun/engine/internal/sandbox"
	"github.com/sandboxrun/engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger.Info("Starting sandboxrun engine")

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create workspace root")
	}

	reg := registry.New()
	registry.CompileProfile.CPUTimeLimit = cfg.CompileCPUTimeLimit
	registry.CompileProfile.WallTimeLimit = cfg.CompileWallTimeLimit
	registry.CompileProfile.MemoryLimit = cfg.CompileMemoryLimit

	backend, err := buildBackend(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build sandbox backend")
	}

	exec := executor.New(reg, backend, cfg.WorkspaceRoot, logger)

	st, err := buildStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize store")
	}

	queue, err := buildQueue(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize queue")
	}

	emitter := callback.New(cfg.CallbackTimeout, logger)

	disp := dispatcher.New(queue, st, exec, emitter, dispatcher.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueueSize:  cfg.MaxQueueSize,
		WorkspaceRoot: cfg.WorkspaceRoot,
	}, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	disp.Start(workerCtx)

	h := handler.NewHandler(disp, st, reg, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(60 * time.Second))
				r.Post("/submissions", h.CreateSubmission)
				r.Post("/submissions/batch", h.CreateBatch)
				r.Get("/submissions", h.GetSubmissions)
				r.Get("/submissions/{token}", h.GetSubmission)
				r.Delete("/submissions/{token}", h.CancelSubmission)
			})
		})

		r.HandleFunc("/stream/{token}", h.StreamSubmission)
		r.Get("/languages", h.GetLanguages)
	})

	r.Get("/", h.GetVersion)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              cfg.GetBindAddress(),
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("engine server starting on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	stopWorkers()
	disp.Wait()

	logger.Info("Server exited")
}

func buildBackend(cfg *config.Config) (sandbox.Backend, error) {
	switch cfg.SandboxBackend {
	case "container":
		return sandbox.NewContainerBackend(cfg.ContainerImage), nil
	case "remote":
		return sandbox.NewRemoteBackend(cfg.RemoteEndpoint), nil
	default:
		return sandbox.NewDirectBackend(cfg.EnableNetworkDefault), nil
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.StoreDSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store.NewGormStore(db)
	default:
		db, err := gorm.Open(sqlite.Open(cfg.StoreDSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return store.NewGormStore(db)
	}
}

func buildQueue(cfg *config.Config) (dispatcher.Queue, error) {
	if cfg.QueueDriver == "memory" {
		return dispatcher.NewMemoryQueue(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	return dispatcher.NewRedisQueue(client, cfg.QueueKey), nil
}
