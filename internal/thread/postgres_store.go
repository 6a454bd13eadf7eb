package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) CreateThread(ctx context.Context, t *Thread) error {
	if t.State == "" {
		t.State = StateNew
	}
	var id string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO threads (external_id, channel, subject, state, last_intent, human_handling, human_handler, archived)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at
    `, nullIfEmpty(t.ExternalID), t.Channel, t.Subject, string(t.State), nullIfEmpty(string(t.LastIntent)), t.HumanHandling, nullIfEmpty(t.HumanHandler), t.Archived,
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	return nil
}

func (s *PostgresStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, coalesce(external_id,''), channel, subject, state, coalesce(last_intent,''), pending_action, human_handling, coalesce(human_handler,''), archived, created_at, updated_at
        FROM threads WHERE id=$1
    `, id)
	return scanThread(row)
}

func (s *PostgresStore) GetThreadByExternalID(ctx context.Context, externalID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, coalesce(external_id,''), channel, subject, state, coalesce(last_intent,''), pending_action, human_handling, coalesce(human_handler,''), archived, created_at, updated_at
        FROM threads WHERE external_id=$1
    `, externalID)
	return scanThread(row)
}

// UpdateThread is last-writer-wins at row granularity; the orchestrator and
// the observation service are mutually exclusive via human_handling, so no
// version column is carried.
func (s *PostgresStore) UpdateThread(ctx context.Context, t *Thread) error {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
        UPDATE threads
        SET subject=$1, state=$2, last_intent=$3, human_handling=$4, human_handler=$5, archived=$6, updated_at=now()
        WHERE id=$7
        RETURNING updated_at
    `, t.Subject, string(t.State), nullIfEmpty(string(t.LastIntent)), t.HumanHandling, nullIfEmpty(t.HumanHandler), t.Archived, t.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	t.UpdatedAt = updatedAt
	return nil
}

// AppendMessage inserts unless a row with the same external id already
// exists. ON CONFLICT DO NOTHING keeps duplicate webhook deliveries correct
// under residual races.
func (s *PostgresStore) AppendMessage(ctx context.Context, m *Message) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO messages (thread_id, external_id, direction, role, from_identifier, to_identifier, body)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (external_id) WHERE external_id IS NOT NULL DO NOTHING
        RETURNING id, created_at
    `, m.ThreadID, nullIfEmpty(m.ExternalID), string(m.Direction), string(m.Role), m.From, m.To, m.Body)
	var id string
	var createdAt time.Time
	if err := row.Scan(&id, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil // duplicate external id
		}
		return false, err
	}
	m.ID = id
	m.CreatedAt = createdAt
	return true, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, threadID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, coalesce(external_id,''), direction, role, from_identifier, to_identifier, body, created_at
        FROM messages WHERE thread_id=$1 AND role='message' AND deleted_at IS NULL
        ORDER BY created_at DESC LIMIT $2
    `, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveDraft(ctx context.Context, m *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
        UPDATE messages SET deleted_at=now() WHERE thread_id=$1 AND role='draft' AND deleted_at IS NULL
    `, m.ThreadID); err != nil {
		return err
	}

	m.Role = RoleDraft
	var id string
	var createdAt time.Time
	if err := tx.QueryRowContext(ctx, `
        INSERT INTO messages (thread_id, external_id, direction, role, from_identifier, to_identifier, body)
        VALUES ($1,$2,'outbound','draft',$3,$4,$5)
        RETURNING id, created_at
    `, m.ThreadID, nullIfEmpty(m.ExternalID), m.From, m.To, m.Body).Scan(&id, &createdAt); err != nil {
		return err
	}
	m.ID = id
	m.Direction = DirectionOutbound
	m.CreatedAt = createdAt
	return tx.Commit()
}

func (s *PostgresStore) ActiveDraft(ctx context.Context, threadID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, thread_id, coalesce(external_id,''), direction, role, from_identifier, to_identifier, body, created_at
        FROM messages WHERE thread_id=$1 AND role='draft' AND deleted_at IS NULL
        ORDER BY created_at DESC LIMIT 1
    `, threadID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) DeleteDraft(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE messages SET deleted_at=now() WHERE thread_id=$1 AND role='draft' AND deleted_at IS NULL
    `, threadID)
	return err
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *Event) error {
	var payload []byte
	var err error
	if ev.Payload != nil {
		payload, err = json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
	}
	var id string
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
        INSERT INTO events (thread_id, type, payload) VALUES ($1,$2,$3)
        RETURNING id, created_at
    `, ev.ThreadID, ev.Type, payload).Scan(&id, &createdAt)
	if err != nil {
		return err
	}
	ev.ID = id
	ev.CreatedAt = createdAt
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, threadID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, thread_id, type, payload, created_at
        FROM events WHERE thread_id=$1 ORDER BY created_at ASC LIMIT $2
    `, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*Event, 0)
	for rows.Next() {
		var ev Event
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ThreadID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &ev.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPendingAction(ctx context.Context, threadID string, pa *PendingAction) error {
	if err := pa.Validate(); err != nil {
		return err
	}
	if pa.CreatedAt.IsZero() {
		pa.CreatedAt = time.Now()
	}
	data, err := json.Marshal(pa)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET pending_action=$1, updated_at=now() WHERE id=$2`, data, threadID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetPendingAction(ctx context.Context, threadID string) (*PendingAction, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT pending_action FROM threads WHERE id=$1`, threadID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var pa PendingAction
	if err := json.Unmarshal([]byte(raw.String), &pa); err != nil {
		return nil, err
	}
	if err := pa.Validate(); err != nil {
		return nil, err
	}
	return &pa, nil
}

func (s *PostgresStore) ClearPendingAction(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET pending_action=NULL, updated_at=now() WHERE id=$1`, threadID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanThread(scanner interface{ Scan(dest ...any) error }) (*Thread, error) {
	var t Thread
	var state, lastIntent string
	var paJSON sql.NullString
	if err := scanner.Scan(&t.ID, &t.ExternalID, &t.Channel, &t.Subject, &state, &lastIntent, &paJSON, &t.HumanHandling, &t.HumanHandler, &t.Archived, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.State = State(state)
	t.LastIntent = Intent(lastIntent)
	if paJSON.Valid && paJSON.String != "" {
		var pa PendingAction
		if err := json.Unmarshal([]byte(paJSON.String), &pa); err == nil && pa.Validate() == nil {
			t.PendingAction = &pa
		}
	}
	return &t, nil
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var m Message
	var direction, role string
	if err := scanner.Scan(&m.ID, &m.ThreadID, &m.ExternalID, &direction, &role, &m.From, &m.To, &m.Body, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Direction = Direction(direction)
	m.Role = Role(role)
	return &m, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
