package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/config"
	"github.com/kailas-cloud/cmskit/internal/db"
	dbRedis "github.com/kailas-cloud/cmskit/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/cmskit/internal/db/sqlite"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/widget"
	logpkg "github.com/kailas-cloud/cmskit/internal/logger"
	"github.com/kailas-cloud/cmskit/internal/metrics"
	entityrepo "github.com/kailas-cloud/cmskit/internal/repository/entity"
	"github.com/kailas-cloud/cmskit/internal/repository/schema"
	"github.com/kailas-cloud/cmskit/internal/repository/storage"
	chiTransport "github.com/kailas-cloud/cmskit/internal/transport/chi"
	collectionuc "github.com/kailas-cloud/cmskit/internal/usecase/collection"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	healthuc "github.com/kailas-cloud/cmskit/internal/usecase/health"
	"github.com/kailas-cloud/cmskit/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, logpkg.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting cmskit API server",
		zap.String("build", version.String("cmskit")),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("schema_dir", cfg.Schema.Dir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logpkg.ContextWithLogger(ctx, logger)

	// Create database store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
	case "sqlite":
		store, err = dbSQLite.NewStore(ctx, dbSQLite.Config{DSN: cfg.Database.DSN})
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	// Collection registry: YAML files, reloaded on change when enabled
	source, err := schema.NewSource(cfg.Schema.Dir, schema.NewExtensions())
	if err != nil {
		logger.Fatal("Failed to load collections", zap.Error(err))
	}
	source = source.WithLogger(logger)
	logger.Info("Collections loaded", zap.Int("count", len(source.Registry().All())))

	if cfg.Schema.HotReload {
		go func() {
			debounce := time.Duration(cfg.Schema.DebounceMs) * time.Millisecond
			if err := source.Watch(ctx, debounce); err != nil {
				logger.Error("Schema watcher stopped", zap.Error(err))
			}
		}()
	}

	// Create use case services
	entitySvc := entityuc.New(entityrepo.New(store, cfg.Database.KeyPrefix)).
		WithConcurrency(cfg.Editing.BulkConcurrency)

	var authorizer auth.Authorizer = auth.AllowAll{}
	if len(cfg.Roles) > 0 {
		authorizer = auth.NewRoleAuthorizer(cfg.Roles)
	}
	viewSvc := collectionuc.New(source, entitySvc).
		WithAuthorizer(authorizer).
		WithDispatcher(widget.NewDispatcher(
			widget.WithCustomFields(cfg.Schema.CustomViews...),
			widget.WithCustomPreviews(cfg.Schema.CustomViews...),
		))

	files, err := storage.NewLocal(cfg.Storage.Root, cfg.Storage.PublicBaseURL, cfg.Storage.MaxUploadBytes)
	if err != nil {
		logger.Fatal("Failed to open file storage", zap.Error(err))
	}

	// Health service
	healthSvc := healthuc.New(store, files).WithSchema(source)

	// Create chi server
	server := chiTransport.NewServer(source, viewSvc, entitySvc, healthSvc).
		WithFiles(files, cfg.Storage.MaxUploadBytes).
		WithSavedFlash(time.Duration(cfg.Editing.SavedFlashMs) * time.Millisecond)

	principals := make(map[string]auth.Principal, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		principals[k.Key] = auth.Principal{ID: k.Principal, Roles: k.Roles}
	}

	r := chi.NewRouter()
	r.Use(chiTransport.JSONRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(chiTransport.WideEvent(logger))
	r.Use(chiTransport.BearerAuthMiddleware(principals))
	r.Use(metrics.Middleware())
	server.Mount(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}
