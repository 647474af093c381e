package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Store is the persistence surface shared by the API and the worker.
type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns the store selected by driver. The postgres driver creates its
// schema on first use.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryJobStore(), nil
	case DriverPostgres:
		return NewPostgresJobStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
