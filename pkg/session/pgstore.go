package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pairsync/pkg/db"
)

// PostgresStore persists sessions in the sessions table. The unique index on
// (pairing_id, kind) enforces the one-live-session-per-slot invariant and the
// version column carries the compare-and-set.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

type sessionRow struct {
	ID        uuid.UUID `db:"id"`
	PairingID uuid.UUID `db:"pairing_id"`
	Kind      string    `db:"kind"`
	StarterID uuid.UUID `db:"starter_id"`
	State     []byte    `db:"state"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r sessionRow) toSession() (*Session, error) {
	s := &Session{
		ID:        r.ID,
		PairingID: r.PairingID,
		Kind:      r.Kind,
		StarterID: r.StarterID,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.State) > 0 {
		if err := json.Unmarshal(r.State, &s.State); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
	} else {
		s.State = Document{}
	}
	return s, nil
}

const sessionColumns = "id, pairing_id, kind, starter_id, state, version, created_at, updated_at"

func (s *PostgresStore) Get(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE pairing_id = $1 AND kind = $2;`

	var row sessionRow
	if err := db.Get(ctx, s.pool, &row, query, pairingID, kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toSession()
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
        INSERT INTO sessions (id, pairing_id, kind, starter_id, state, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8);
    `
	_, err = db.Exec(ctx, s.pool, query,
		sess.ID, sess.PairingID, sess.Kind, sess.StarterID,
		string(payload), sess.Version, sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, sess *Session, expected int64) error {
	payload, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	query := `
        UPDATE sessions
        SET state = $4::jsonb, version = $5, updated_at = $6
        WHERE pairing_id = $1 AND kind = $2 AND version = $3;
    `
	tag, err := db.Exec(ctx, s.pool, query,
		sess.PairingID, sess.Kind, expected,
		string(payload), sess.Version, sess.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error) {
	query := `
        DELETE FROM sessions
        WHERE pairing_id = $1 AND kind = $2
        RETURNING ` + sessionColumns + `;
    `

	var row sessionRow
	if err := db.Get(ctx, s.pool, &row, query, pairingID, kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toSession()
}

func (s *PostgresStore) ListKinds(ctx context.Context, pairingID uuid.UUID) ([]string, error) {
	var kinds []string
	err := db.Select(ctx, s.pool, &kinds,
		`SELECT kind FROM sessions WHERE pairing_id = $1 ORDER BY kind;`, pairingID)
	if err != nil {
		return nil, err
	}
	return kinds, nil
}
