// Package feedbackstore defines the persistence port for feedback records.
package feedbackstore

import (
	"context"

	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

// Store is append-only. Records are never updated or deleted.
type Store interface {
	// Add persists r and returns the store-assigned id.
	Add(ctx context.Context, r *feedback.Record) (int64, error)
	// GetAll returns every record, newest first.
	GetAll(ctx context.Context) ([]feedback.Record, error)
	// GetByDomain returns the records for one domain, newest first.
	GetByDomain(ctx context.Context, domain string) ([]feedback.Record, error)
	// GetStats aggregates all records.
	GetStats(ctx context.Context) (feedback.Stats, error)
	Close() error
}
