// Package store persists diagnostic reflection records. Nothing here is read
// back by the reflection controller.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

// Repository defines the audit store for reflection records.
type Repository interface {
	// Record appends a reflection record.
	Record(ctx context.Context, rec *domain.ReflectionRecord) error

	// ListRecords returns the newest records, optionally for one session.
	ListRecords(ctx context.Context, sessionID string, limit int) ([]*domain.ReflectionRecord, error)

	// CleanupOlderThan removes records older than age and returns how many were deleted.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Recorder accepts reflection records.
type Recorder interface {
	Record(ctx context.Context, rec *domain.ReflectionRecord) error
}

// MultiRecorder fans a record out to several recorders.
type MultiRecorder []Recorder

// Record writes rec to every recorder and joins their errors.
func (m MultiRecorder) Record(ctx context.Context, rec *domain.ReflectionRecord) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
