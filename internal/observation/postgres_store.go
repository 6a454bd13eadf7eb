package observation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore enforces the single-active invariant with a partial unique
// index on (thread_id) WHERE intervention_end IS NULL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, o *Observation) error {
	observed, err := json.Marshal(o.ObservedMessages)
	if err != nil {
		return err
	}
	if o.InterventionStart.IsZero() {
		o.InterventionStart = time.Now()
	}
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO intervention_observations
            (thread_id, intervention_start, handler, channel, observed_messages, last_activity_at)
        VALUES ($1,$2,$3,$4,$5,$2)
        RETURNING id
    `, o.ThreadID, o.InterventionStart, o.Handler, o.Channel, observed).Scan(&o.ID)
	if isUniqueViolation(err) {
		return ErrActiveExists
	}
	if err != nil {
		return err
	}
	o.LastActivityAt = o.InterventionStart
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Observation, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, thread_id, intervention_start, intervention_end, handler, channel,
               observed_messages, coalesce(resolution_type,''), coalesce(resolution_summary,''), last_activity_at
        FROM intervention_observations WHERE id=$1
    `, id)
	return scanObservation(row)
}

func (s *PostgresStore) ActiveForThread(ctx context.Context, threadID string) (*Observation, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, thread_id, intervention_start, intervention_end, handler, channel,
               observed_messages, coalesce(resolution_type,''), coalesce(resolution_summary,''), last_activity_at
        FROM intervention_observations
        WHERE thread_id=$1 AND intervention_end IS NULL
    `, threadID)
	return scanObservation(row)
}

func (s *PostgresStore) AppendObserved(ctx context.Context, observationID string, msg ObservedMessage) error {
	if msg.SeenAt.IsZero() {
		msg.SeenAt = time.Now()
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE intervention_observations
        SET observed_messages = observed_messages || $1::jsonb, last_activity_at = $2
        WHERE id=$3 AND intervention_end IS NULL
    `, encoded, msg.SeenAt, observationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context, observationID string, end time.Time, resolution ResolutionType, summary string) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE intervention_observations
        SET intervention_end=$1, resolution_type=$2, resolution_summary=$3
        WHERE id=$4 AND intervention_end IS NULL
    `, end, string(resolution), summary, observationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, intervention_start, intervention_end, handler, channel,
               observed_messages, coalesce(resolution_type,''), coalesce(resolution_summary,''), last_activity_at
        FROM intervention_observations
        WHERE intervention_end IS NULL AND last_activity_at < $1
        ORDER BY last_activity_at
    `, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanObservation(row interface{ Scan(dest ...any) error }) (*Observation, error) {
	o := &Observation{}
	var end sql.NullTime
	var observed []byte
	var resolution string
	err := row.Scan(&o.ID, &o.ThreadID, &o.InterventionStart, &end, &o.Handler, &o.Channel,
		&observed, &resolution, &o.ResolutionSummary, &o.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if end.Valid {
		t := end.Time
		o.InterventionEnd = &t
	}
	o.ResolutionType = ResolutionType(resolution)
	if len(observed) > 0 {
		if err := json.Unmarshal(observed, &o.ObservedMessages); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
