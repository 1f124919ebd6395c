package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/FeedbackForge/internal/domain"
	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
)

const selectFeedback = `
	SELECT id, feedback_auth_id, auth_id_source, agent_skill_id, task_id, context_id,
	       rating, domain, notes, COALESCE(proof_of_payment, ''), created_at
	FROM feedback`

// Store implements feedbackstore.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Add inserts r, filling in its id and creation time.
func (s *Store) Add(ctx context.Context, r *feedback.Record) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	const q = `
		INSERT INTO feedback (feedback_auth_id, auth_id_source, agent_skill_id, task_id, context_id,
		                      rating, domain, notes, proof_of_payment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, q,
		r.FeedbackAuthID, r.AuthIDSource, r.AgentSkillID, r.TaskID, r.ContextID,
		r.Rating, r.Domain, r.Notes, nullIfEmpty(r.ProofOfPayment), nullTime(r.CreatedAt),
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return r.ID, nil
}

// GetAll returns every record, newest first.
func (s *Store) GetAll(ctx context.Context) ([]feedback.Record, error) {
	rows, err := s.pool.Query(ctx, selectFeedback+` ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return collect(rows)
}

// GetByDomain returns the records for d, newest first.
func (s *Store) GetByDomain(ctx context.Context, d string) ([]feedback.Record, error) {
	rows, err := s.pool.Query(ctx, selectFeedback+` WHERE domain = $1 ORDER BY id DESC`, d)
	if err != nil {
		return nil, fmt.Errorf("list feedback by domain: %w", err)
	}
	return collect(rows)
}

// GetStats aggregates all records in SQL.
func (s *Store) GetStats(ctx context.Context) (feedback.Stats, error) {
	stats := feedback.Stats{ByDomain: map[string]int{}, ByRating: map[int]int{}}

	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(AVG(rating)::float8, 0) FROM feedback`).
		Scan(&stats.Total, &stats.AverageRating)
	if err != nil {
		return feedback.Stats{}, fmt.Errorf("feedback stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT domain, rating, COUNT(*) FROM feedback GROUP BY domain, rating`)
	if err != nil {
		return feedback.Stats{}, fmt.Errorf("feedback stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d      string
			rating int
			n      int
		)
		if err := rows.Scan(&d, &rating, &n); err != nil {
			return feedback.Stats{}, fmt.Errorf("scan feedback stats: %w", err)
		}
		stats.ByDomain[d] += n
		stats.ByRating[rating] += n
	}
	return stats, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

func collect(rows pgx.Rows) ([]feedback.Record, error) {
	defer rows.Close()
	out := []feedback.Record{}
	for rows.Next() {
		var r feedback.Record
		if err := rows.Scan(
			&r.ID, &r.FeedbackAuthID, &r.AuthIDSource, &r.AgentSkillID, &r.TaskID, &r.ContextID,
			&r.Rating, &r.Domain, &r.Notes, &r.ProofOfPayment, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
