package cmskit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type builderRef struct {
	path, name string
	builder    property.Builder
}

type clientConfig struct {
	driver   string // "redis" or "sqlite"
	addrs    []string
	username string
	password string
	dsn      string
	prefix   string

	readinessTimeout time.Duration

	schemaDir   string
	collections []domcol.Collection
	callbacks   map[string]domcol.Callbacks
	builders    []builderRef
	customViews []string

	storageRoot    string
	storageBaseURL string
	maxUpload      int64

	authz           Authorizer
	bulkConcurrency int

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithRedis stores entities in Redis with the RedisJSON module.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedisACL is WithRedis for servers with ACL users.
func WithRedisACL(addr, username, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.username = username
		c.password = password
	})
}

// WithSQLite stores entities in an embedded SQLite database.
// An empty dsn opens a private in-memory database (default).
func WithSQLite(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "sqlite"
		c.dsn = dsn
	})
}

// WithKeyPrefix namespaces every document key. Default: "cmskit:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.prefix = prefix
	})
}

// WithReadinessTimeout bounds the wait for the database on New.
// Default: 10s.
func WithReadinessTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.readinessTimeout = d
	})
}

// WithSchemaDir loads collection definitions from the YAML files of dir.
func WithSchemaDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.schemaDir = dir
	})
}

// WithCollections registers collections declared in code.
func WithCollections(cols ...Collection) Option {
	return optionFunc(func(c *clientConfig) {
		c.collections = append(c.collections, cols...)
	})
}

// WithCallbacks attaches lifecycle hooks to a collection loaded from the
// schema directory. path is the template path, e.g. "products/locales".
func WithCallbacks(path string, cb Callbacks) Option {
	return optionFunc(func(c *clientConfig) {
		if c.callbacks == nil {
			c.callbacks = make(map[string]domcol.Callbacks)
		}
		c.callbacks[path] = cb
	})
}

// WithBuilder makes a property of a file-loaded collection computed from
// the entity values.
func WithBuilder(path, name string, b Builder) Option {
	return optionFunc(func(c *clientConfig) {
		c.builders = append(c.builders, builderRef{path: path, name: name, builder: b})
	})
}

// WithCustomViews registers the ids of custom field and preview
// components known to the front end.
func WithCustomViews(ids ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.customViews = append(c.customViews, ids...)
	})
}

// WithStorage enables file uploads below root. Stored files are served
// under baseURL by Handler.
func WithStorage(root, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.storageRoot = root
		c.storageBaseURL = baseURL
	})
}

// WithMaxUploadBytes caps the size of one upload request. Default: 32 MiB.
func WithMaxUploadBytes(n int64) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxUpload = n
	})
}

// WithAuthorizer sets the source of per-collection permissions used by
// the views and the HTTP API. Everything is allowed by default.
func WithAuthorizer(a Authorizer) Option {
	return optionFunc(func(c *clientConfig) {
		c.authz = a
	})
}

// WithRoles grants permissions per role and collection path ("*" matches
// every collection).
func WithRoles(grants map[string]map[string]Permissions) Option {
	return optionFunc(func(c *clientConfig) {
		c.authz = NewRoleAuthorizer(grants)
	})
}

// WithBulkConcurrency bounds the parallel pipelines of a bulk delete.
// Default: 8.
func WithBulkConcurrency(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.bulkConcurrency = n
	})
}

// WithLogger enables structured logging for client operations and the
// pipelines. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
