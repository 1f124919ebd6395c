// Package jsonfile implements the feedback store as a single JSON document.
// Every write reads, modifies and atomically rewrites the file; a mutex
// serializes writers within one process only.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

type document struct {
	NextID  int64             `json:"nextId"`
	Records []feedback.Record `json:"records"`
}

// Store is a file-backed feedback store.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New returns a store writing to path. The file is created on first write.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: feedback file path is required", domain.ErrConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create feedback dir: %w", err)
	}
	return &Store{path: path, now: time.Now}, nil
}

// Add appends r and returns its id.
func (s *Store) Add(_ context.Context, r *feedback.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return 0, err
	}
	rec := *r
	doc.NextID++
	rec.ID = doc.NextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	doc.Records = append(doc.Records, rec)
	if err := s.write(doc); err != nil {
		return 0, err
	}
	r.ID, r.CreatedAt = rec.ID, rec.CreatedAt
	return rec.ID, nil
}

// GetAll returns every record, newest first.
func (s *Store) GetAll(_ context.Context) ([]feedback.Record, error) {
	return s.filter(func(*feedback.Record) bool { return true })
}

// GetByDomain returns the records for domain, newest first.
func (s *Store) GetByDomain(_ context.Context, d string) ([]feedback.Record, error) {
	return s.filter(func(r *feedback.Record) bool { return r.Domain == d })
}

// GetStats aggregates all records.
func (s *Store) GetStats(ctx context.Context) (feedback.Stats, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return feedback.Stats{}, err
	}
	return feedback.ComputeStats(all), nil
}

// Close is a no-op; the file is not held open.
func (s *Store) Close() error { return nil }

func (s *Store) filter(keep func(*feedback.Record) bool) ([]feedback.Record, error) {
	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]feedback.Record, 0, len(doc.Records))
	for i := len(doc.Records) - 1; i >= 0; i-- {
		if keep(&doc.Records[i]) {
			out = append(out, doc.Records[i])
		}
	}
	return out, nil
}

func (s *Store) read() (document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("read feedback file: %w", err)
	}
	if len(data) == 0 {
		return document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parse feedback file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode feedback file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".feedback-*.json")
	if err != nil {
		return fmt.Errorf("write feedback file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write feedback file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write feedback file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace feedback file: %w", err)
	}
	return nil
}
