package proposals

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, p *LearningProposal) error {
	if p.Status == "" {
		p.Status = StatusPending
	}
	var id string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO learning_proposals (type, title, summary, proposed_content, status, observation_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at
    `, string(p.Type), p.Title, p.Summary, p.ProposedContent, string(p.Status), p.ObservationID,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return err
	}
	p.ID = id
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*LearningProposal, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, type, title, summary, proposed_content, status, observation_id,
               coalesce(reviewer,''), coalesce(review_reason,''), coalesce(published_as,''),
               created_at, updated_at
        FROM learning_proposals WHERE id=$1
    `, id)
	return scanProposal(row)
}

func (s *PostgresStore) Update(ctx context.Context, p *LearningProposal) error {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        UPDATE learning_proposals
        SET title=$1, summary=$2, proposed_content=$3, status=$4, reviewer=$5, review_reason=$6, published_as=$7, updated_at=now()
        WHERE id=$8
        RETURNING updated_at
    `, p.Title, p.Summary, p.ProposedContent, string(p.Status), nullIfEmpty(p.Reviewer), nullIfEmpty(p.ReviewReason), nullIfEmpty(p.PublishedAs), p.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	p.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) List(ctx context.Context, status Status) ([]*LearningProposal, error) {
	query := `
        SELECT id, type, title, summary, proposed_content, status, observation_id,
               coalesce(reviewer,''), coalesce(review_reason,''), coalesce(published_as,''),
               created_at, updated_at
        FROM learning_proposals`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

func (s *PostgresStore) ListByObservation(ctx context.Context, observationID string) ([]*LearningProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, type, title, summary, proposed_content, status, observation_id,
               coalesce(reviewer,''), coalesce(review_reason,''), coalesce(published_as,''),
               created_at, updated_at
        FROM learning_proposals WHERE observation_id=$1 ORDER BY created_at
    `, observationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProposals(rows)
}

func collectProposals(rows *sql.Rows) ([]*LearningProposal, error) {
	var out []*LearningProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProposal(row interface{ Scan(dest ...any) error }) (*LearningProposal, error) {
	p := &LearningProposal{}
	var ptype, status string
	err := row.Scan(&p.ID, &ptype, &p.Title, &p.Summary, &p.ProposedContent, &status, &p.ObservationID,
		&p.Reviewer, &p.ReviewReason, &p.PublishedAs, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = ProposalType(ptype)
	p.Status = Status(status)
	return p, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
