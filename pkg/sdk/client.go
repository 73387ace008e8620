package cmskit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/db"
	dbRedis "github.com/kailas-cloud/cmskit/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/cmskit/internal/db/sqlite"
	"github.com/kailas-cloud/cmskit/internal/domain/widget"
	"github.com/kailas-cloud/cmskit/internal/logger"
	entityrepo "github.com/kailas-cloud/cmskit/internal/repository/entity"
	"github.com/kailas-cloud/cmskit/internal/repository/schema"
	"github.com/kailas-cloud/cmskit/internal/repository/storage"
	chiTransport "github.com/kailas-cloud/cmskit/internal/transport/chi"
	collectionuc "github.com/kailas-cloud/cmskit/internal/usecase/collection"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	healthuc "github.com/kailas-cloud/cmskit/internal/usecase/health"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultKeyPrefix        = "cmskit:"
)

// Client is the cmskit entry point.
type Client struct {
	store     db.Store
	source    *schema.Source
	entitySvc *entityuc.Service
	viewSvc   *collectionuc.Service
	healthSvc *healthuc.Service
	files     *storage.Local
	maxUpload int64
	logger    *zap.Logger
	obs       *observer
}

// New creates a Client, connects to the database and loads the
// collection definitions. Without a driver option entities live in a
// private in-memory SQLite database. The provided context is used for the
// initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		driver:           "sqlite",
		prefix:           defaultKeyPrefix,
		readinessTimeout: defaultReadinessTimeout,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	store, err := createStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, cfg.readinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("cmskit: database not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	c, err := wireClient(store, cfg, obs)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func createStore(ctx context.Context, cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "redis":
		if len(cfg.addrs) == 0 || cfg.addrs[0] == "" {
			return nil, fmt.Errorf("cmskit: redis address required")
		}
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Username: cfg.username,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("cmskit: create redis store: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := dbSQLite.NewStore(ctx, dbSQLite.Config{DSN: cfg.dsn})
		if err != nil {
			return nil, fmt.Errorf("cmskit: create sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("cmskit: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) (*Client, error) {
	log := cfg.logger
	if log == nil {
		log = zap.NewNop()
	}

	ext := schema.NewExtensions()
	for path, cb := range cfg.callbacks {
		ext.SetCallbacks(path, cb)
	}
	for _, b := range cfg.builders {
		ext.SetBuilder(b.path, b.name, b.builder)
	}
	src, err := schema.NewSource(cfg.schemaDir, ext, cfg.collections...)
	if err != nil {
		return nil, fmt.Errorf("cmskit: load collections: %w", err)
	}
	src = src.WithLogger(log)

	entitySvc := entityuc.New(entityrepo.New(store, cfg.prefix)).
		WithConcurrency(cfg.bulkConcurrency)
	viewSvc := collectionuc.New(src, entitySvc).
		WithAuthorizer(cfg.authz).
		WithDispatcher(widget.NewDispatcher(
			widget.WithCustomFields(cfg.customViews...),
			widget.WithCustomPreviews(cfg.customViews...),
		))

	c := &Client{
		store:     store,
		source:    src,
		entitySvc: entitySvc,
		viewSvc:   viewSvc,
		maxUpload: cfg.maxUpload,
		logger:    log,
		obs:       obs,
	}

	// Хранилище опционально: без него загрузка файлов недоступна
	if cfg.storageRoot != "" {
		baseURL := cfg.storageBaseURL
		if baseURL == "" {
			baseURL = "/files"
		}
		files, err := storage.NewLocal(cfg.storageRoot, baseURL, cfg.maxUpload)
		if err != nil {
			return nil, fmt.Errorf("cmskit: open storage: %w", err)
		}
		c.files = files
	}
	c.healthSvc = healthuc.New(store, c.storageChecker()).WithSchema(src)
	return c, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", "", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Reload re-reads the schema directory. On failure the previous
// collections stay in place.
func (c *Client) Reload() (err error) {
	start := time.Now()
	defer func() { c.obs.observe("reload", "", start, err) }()

	if err = c.source.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Watch reloads the schema directory whenever one of its files changes,
// until ctx is done.
func (c *Client) Watch(ctx context.Context) error {
	return c.source.Watch(ctx, schema.DefaultDebounce)
}

// Collections returns the collection view service.
func (c *Client) Collections() *CollectionService {
	return &CollectionService{client: c}
}

// Entities returns the entity service for the collection at path.
// Subcollections are addressed as "products/p1/locales".
func (c *Client) Entities(path string) *EntityService {
	return &EntityService{path: path, client: c}
}

// Handler returns the editor HTTP API. The middlewares wrap every route.
func (c *Client) Handler(middlewares ...func(http.Handler) http.Handler) http.Handler {
	srv := chiTransport.NewServer(c.source, c.viewSvc, c.entitySvc, c.healthSvc)
	if c.files != nil {
		srv = srv.WithFiles(c.files, c.maxUpload)
	}
	mws := append([]func(http.Handler) http.Handler{c.withLogger}, middlewares...)
	return srv.Handler(mws...)
}

func (c *Client) storageChecker() healthuc.StorageChecker {
	if c.files == nil {
		return nil
	}
	return c.files
}

// withLogger hands the client logger to the pipelines of a request.
func (c *Client) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(c.ctx(r.Context())))
	})
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return logger.ContextWithLogger(ctx, c.logger)
}
