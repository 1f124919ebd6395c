// Package sqlite implements the feedback store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	feedback_auth_id TEXT NOT NULL DEFAULT '',
	auth_id_source   TEXT NOT NULL DEFAULT '',
	agent_skill_id   TEXT NOT NULL DEFAULT '',
	task_id          TEXT NOT NULL DEFAULT '',
	context_id       TEXT NOT NULL DEFAULT '',
	rating           INTEGER NOT NULL CHECK (rating BETWEEN 0 AND 100),
	domain           TEXT NOT NULL,
	notes            TEXT NOT NULL DEFAULT '',
	proof_of_payment TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_domain ON feedback (domain);`

const selectColumns = `SELECT id, feedback_auth_id, auth_id_source, agent_skill_id, task_id, context_id,
	rating, domain, notes, proof_of_payment, created_at FROM feedback`

// Store is a SQLite-backed feedback store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps db and creates the feedback table if needed.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Add inserts r and returns its id.
func (s *Store) Add(ctx context.Context, r *feedback.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	created = created.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (feedback_auth_id, auth_id_source, agent_skill_id, task_id, context_id,
			rating, domain, notes, proof_of_payment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FeedbackAuthID, r.AuthIDSource, r.AgentSkillID, r.TaskID, r.ContextID,
		r.Rating, r.Domain, r.Notes, r.ProofOfPayment, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert feedback id: %w", err)
	}
	r.ID, r.CreatedAt = id, created
	return id, nil
}

// GetAll returns every record, newest first.
func (s *Store) GetAll(ctx context.Context) ([]feedback.Record, error) {
	return s.query(ctx, selectColumns+` ORDER BY id DESC`)
}

// GetByDomain returns the records for d, newest first.
func (s *Store) GetByDomain(ctx context.Context, d string) ([]feedback.Record, error) {
	return s.query(ctx, selectColumns+` WHERE domain = ? ORDER BY id DESC`, d)
}

// GetStats aggregates all records in SQL.
func (s *Store) GetStats(ctx context.Context) (feedback.Stats, error) {
	stats := feedback.Stats{ByDomain: map[string]int{}, ByRating: map[int]int{}}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(rating) FROM feedback`).Scan(&stats.Total, &avg); err != nil {
		return feedback.Stats{}, fmt.Errorf("feedback stats: %w", err)
	}
	stats.AverageRating = avg.Float64

	if err := s.countBy(ctx, `SELECT domain, COUNT(*) FROM feedback GROUP BY domain`, func(rows *sql.Rows) error {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return err
		}
		stats.ByDomain[d] = n
		return nil
	}); err != nil {
		return feedback.Stats{}, err
	}
	if err := s.countBy(ctx, `SELECT rating, COUNT(*) FROM feedback GROUP BY rating`, func(rows *sql.Rows) error {
		var rating, n int
		if err := rows.Scan(&rating, &n); err != nil {
			return err
		}
		stats.ByRating[rating] = n
		return nil
	}); err != nil {
		return feedback.Stats{}, err
	}
	return stats, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) countBy(ctx context.Context, q string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("feedback stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("feedback stats scan: %w", err)
		}
	}
	return rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]feedback.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []feedback.Record{}
	for rows.Next() {
		var (
			r       feedback.Record
			created string
		)
		if err := rows.Scan(&r.ID, &r.FeedbackAuthID, &r.AuthIDSource, &r.AgentSkillID, &r.TaskID, &r.ContextID,
			&r.Rating, &r.Domain, &r.Notes, &r.ProofOfPayment, &created); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse feedback created_at %q: %w", created, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback: %w", err)
	}
	return out, nil
}
