package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/logger"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means entities are served but an optional component fails.
	Degraded Status = "degraded"
	// Unhealthy means the document store is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const (
	componentDatabase = "database"
	componentStorage  = "storage"
	componentSchema   = "schema"

	defaultTimeout = 2 * time.Second
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type namedChecker struct {
	name    string
	checker Checker
}

// Service runs the database check and the optional component checks
// concurrently, each bounded by its own timeout.
type Service struct {
	db       DBPinger
	optional []namedChecker
	timeout  time.Duration
}

// New creates a Service. storage can be nil when uploads are disabled.
func New(db DBPinger, storage StorageChecker) *Service {
	s := &Service{db: db, timeout: defaultTimeout}
	if storage != nil {
		s.optional = append(s.optional, namedChecker{name: componentStorage, checker: storage})
	}
	return s
}

// WithSchema adds the collection schema source. It fails while the last
// reload was rejected and stale collections are being served.
func (s *Service) WithSchema(c Checker) *Service {
	if c != nil {
		s.optional = append(s.optional, namedChecker{name: componentSchema, checker: c})
	}
	return s
}

// WithTimeout bounds every single check.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs all checks. A database failure makes the service unhealthy,
// any other failure degrades it.
func (s *Service) Check(ctx context.Context) Report {
	all := append([]namedChecker{{name: componentDatabase, checker: pingChecker{s.db}}}, s.optional...)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult, len(all))
		failed = make(map[string]error)
	)
	for _, c := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			err := c.checker.HealthCheck(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.name] = CheckError
				failed[c.name] = err
				return
			}
			checks[c.name] = CheckOK
		}()
	}
	wg.Wait()

	status := Healthy
	if len(failed) > 0 {
		status = Degraded
	}
	if _, ok := failed[componentDatabase]; ok {
		status = Unhealthy
	}
	if status != Healthy {
		logFailures(ctx, status, failed)
	}
	return Report{Status: status, Checks: checks}
}

func logFailures(ctx context.Context, status Status, failed map[string]error) {
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	log := logger.FromContext(ctx)
	for _, name := range names {
		log.Warn("Health check failed",
			zap.String("component", name),
			zap.String("status", string(status)),
			zap.Error(failed[name]),
		)
	}
}

type pingChecker struct{ db DBPinger }

func (p pingChecker) HealthCheck(ctx context.Context) error { return p.db.Ping(ctx) }
