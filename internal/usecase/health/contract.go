package health

import "context"

// DBPinger checks document store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker is an optional component: file storage, schema source.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// StorageChecker checks file storage availability.
type StorageChecker = Checker
