package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/metrics"
)

// DefaultDebounce is how long Watch waits for file events to settle.
const DefaultDebounce = 250 * time.Millisecond

// Source serves the current collection registry. The registry is rebuilt
// from the schema directory plus the collections declared in code, and
// swapped atomically so readers never see a partial reload.
type Source struct {
	dir     string
	ext     *Extensions
	static  []collection.Collection
	current atomic.Pointer[collection.Registry]
	failure atomic.Pointer[reloadFailure]
	logger  *zap.Logger
}

type reloadFailure struct {
	err error
	at  time.Time
}

// NewSource loads the registry once. dir may be empty when every
// collection is declared in code.
func NewSource(dir string, ext *Extensions, static ...collection.Collection) (*Source, error) {
	s := &Source{dir: dir, ext: ext, static: static, logger: zap.NewNop()}
	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(reg)
	return s, nil
}

// WithLogger sets the logger used by Reload and Watch.
func (s *Source) WithLogger(l *zap.Logger) *Source {
	s.logger = l
	return s
}

// Registry returns the current snapshot.
func (s *Source) Registry() *collection.Registry {
	return s.current.Load()
}

// ByPath resolves a collection in the current snapshot.
func (s *Source) ByPath(path string) (collection.Collection, error) {
	return s.Registry().ByPath(path)
}

// Reload rebuilds the registry. On failure the previous snapshot stays
// in place.
func (s *Source) Reload() error {
	reg, err := s.load()
	if err != nil {
		s.failure.Store(&reloadFailure{err: err, at: time.Now()})
		metrics.SchemaReloadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Schema reload failed, keeping previous collections",
			zap.String("dir", s.dir), zap.Error(err))
		return err
	}
	s.current.Store(reg)
	s.failure.Store(nil)
	metrics.SchemaReloadsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Schema reloaded", zap.String("dir", s.dir), zap.Int("collections", len(reg.All())))
	return nil
}

// HealthCheck fails while the last reload was rejected, i.e. the
// collections on disk differ from the ones being served.
func (s *Source) HealthCheck(context.Context) error {
	if f := s.failure.Load(); f != nil {
		return fmt.Errorf("schema reload failed at %s: %w", f.at.Format(time.RFC3339), f.err)
	}
	return nil
}

func (s *Source) load() (*collection.Registry, error) {
	cols := make([]collection.Collection, 0, len(s.static))
	cols = append(cols, s.static...)
	if s.dir != "" {
		loaded, err := LoadDir(s.dir, s.ext)
		if err != nil {
			return nil, err
		}
		cols = append(cols, loaded...)
	}
	reg, err := collection.NewRegistry(cols...)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}

// Watch reloads the registry whenever a schema file changes, until ctx is
// cancelled. Bursts of events within debounce collapse into one reload.
func (s *Source) Watch(ctx context.Context, debounce time.Duration) error {
	if s.dir == "" {
		<-ctx.Done()
		return nil
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	s.logger.Info("Watching schema directory", zap.String("dir", s.dir))

	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSchemaFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("Schema file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			pending = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Schema watcher error", zap.Error(err))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < debounce {
				continue
			}
			pending = time.Time{}
			_ = s.Reload() //nolint:errcheck // logged and counted by Reload
		}
	}
}
