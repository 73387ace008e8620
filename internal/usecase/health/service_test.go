package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/cmskit/internal/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

// blockingChecker waits for its context, as a hung disk or socket would.
type blockingChecker struct{}

func (blockingChecker) HealthCheck(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCheck(t *testing.T) {
	down := errors.New("down")
	tests := []struct {
		name    string
		db      error
		storage StorageChecker
		schema  Checker
		status  Status
		checks  map[string]CheckResult
	}{
		{
			name:   "database only",
			status: Healthy,
			checks: map[string]CheckResult{"database": CheckOK},
		},
		{
			name:    "all healthy",
			storage: stubChecker{},
			schema:  stubChecker{},
			status:  Healthy,
			checks:  map[string]CheckResult{"database": CheckOK, "storage": CheckOK, "schema": CheckOK},
		},
		{
			name:    "storage fails",
			storage: stubChecker{err: down},
			status:  Degraded,
			checks:  map[string]CheckResult{"database": CheckOK, "storage": CheckError},
		},
		{
			name:   "stale schema",
			schema: stubChecker{err: down},
			status: Degraded,
			checks: map[string]CheckResult{"database": CheckOK, "schema": CheckError},
		},
		{
			name:    "database fails",
			db:      down,
			storage: stubChecker{},
			status:  Unhealthy,
			checks:  map[string]CheckResult{"database": CheckError, "storage": CheckOK},
		},
		{
			name:    "everything fails",
			db:      down,
			storage: stubChecker{err: down},
			schema:  stubChecker{err: down},
			status:  Unhealthy,
			checks:  map[string]CheckResult{"database": CheckError, "storage": CheckError, "schema": CheckError},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(stubPinger{err: tc.db}, tc.storage).WithSchema(tc.schema)
			r := svc.Check(context.Background())

			assert.Equal(t, tc.status, r.Status)
			assert.Equal(t, tc.checks, r.Checks)
		})
	}
}

func TestCheck_Timeout(t *testing.T) {
	svc := New(stubPinger{}, blockingChecker{}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Degraded, r.Status)
	assert.Equal(t, CheckError, r.Checks["storage"])
}

func TestCheck_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.ContextWithLogger(context.Background(), zap.New(core))

	New(stubPinger{err: errors.New("refused")}, stubChecker{}).Check(ctx)

	entries := logs.FilterMessage("Health check failed").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "database", entries[0].ContextMap()["component"])
	}
}
