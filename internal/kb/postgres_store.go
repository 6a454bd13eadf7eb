package kb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateArticle(ctx context.Context, a *Article) error {
	var id string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO kb_articles (title, body, tags, source, archived)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at
    `, a.Title, a.Body, pq.Array(a.Tags), nullIfEmpty(a.Source), a.Archived,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return err
	}
	a.ID = id
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, title, body, tags, coalesce(source,''), archived, created_at, updated_at
        FROM kb_articles WHERE id=$1
    `, id)
	return scanArticle(row)
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, a *Article) error {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        UPDATE kb_articles
        SET title=$1, body=$2, tags=$3, source=$4, archived=$5, updated_at=now()
        WHERE id=$6
        RETURNING updated_at
    `, a.Title, a.Body, pq.Array(a.Tags), nullIfEmpty(a.Source), a.Archived, a.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	a.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) ListArticles(ctx context.Context) ([]*Article, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, title, body, tags, coalesce(source,''), archived, created_at, updated_at
        FROM kb_articles ORDER BY created_at
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateInstruction(ctx context.Context, in *Instruction) error {
	var id string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO operator_instructions (text, category, source, active)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at, updated_at
    `, in.Text, nullIfEmpty(in.Category), nullIfEmpty(in.Source), in.Active,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return err
	}
	in.ID = id
	in.CreatedAt = createdAt
	in.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) UpdateInstruction(ctx context.Context, in *Instruction) error {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        UPDATE operator_instructions
        SET text=$1, category=$2, source=$3, active=$4, updated_at=now()
        WHERE id=$5
        RETURNING updated_at
    `, in.Text, nullIfEmpty(in.Category), nullIfEmpty(in.Source), in.Active, in.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	in.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) ListInstructions(ctx context.Context) ([]*Instruction, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, text, coalesce(category,''), coalesce(source,''), active, created_at, updated_at
        FROM operator_instructions ORDER BY created_at
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instruction
	for rows.Next() {
		in := &Instruction{}
		if err := rows.Scan(&in.ID, &in.Text, &in.Category, &in.Source, &in.Active, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanArticle(row interface{ Scan(dest ...any) error }) (*Article, error) {
	a := &Article{}
	err := row.Scan(&a.ID, &a.Title, &a.Body, pq.Array(&a.Tags), &a.Source, &a.Archived, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
