package pairing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pairsync/pkg/db"
)

// PostgresStore persists pairings in the pairings table. The partial unique
// index on (LEAST(inviter, invitee), GREATEST(inviter, invitee)) WHERE
// status='accepted' backs the one-accepted-pairing-per-pair invariant.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

type pairingRow struct {
	ID         uuid.UUID  `db:"id"`
	InviterID  uuid.UUID  `db:"inviter_id"`
	InviteeID  uuid.UUID  `db:"invitee_id"`
	Status     string     `db:"status"`
	CreatedAt  time.Time  `db:"created_at"`
	AcceptedAt *time.Time `db:"accepted_at"`
}

func (r pairingRow) toPairing() *Pairing {
	return &Pairing{
		ID:         r.ID,
		InviterID:  r.InviterID,
		InviteeID:  r.InviteeID,
		Status:     Status(r.Status),
		CreatedAt:  r.CreatedAt,
		AcceptedAt: r.AcceptedAt,
	}
}

const pairingColumns = "id, inviter_id, invitee_id, status, created_at, accepted_at"

func (s *PostgresStore) Create(ctx context.Context, p *Pairing) error {
	query := `
        INSERT INTO pairings (id, inviter_id, invitee_id, status, created_at, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	_, err := db.Exec(ctx, s.pool, query, p.ID, p.InviterID, p.InviteeID, string(p.Status), p.CreatedAt, p.AcceptedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Pairing, error) {
	query := `SELECT ` + pairingColumns + ` FROM pairings WHERE id = $1;`

	var row pairingRow
	if err := db.Get(ctx, s.pool, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toPairing(), nil
}

func (s *PostgresStore) AcceptedForUser(ctx context.Context, userID uuid.UUID) (*Pairing, error) {
	query := `
        SELECT ` + pairingColumns + `
        FROM pairings
        WHERE status = 'accepted' AND (inviter_id = $1 OR invitee_id = $1);
    `

	var row pairingRow
	if err := db.Get(ctx, s.pool, &row, query, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toPairing(), nil
}

func (s *PostgresStore) AcceptedBetween(ctx context.Context, a, b uuid.UUID) (*Pairing, error) {
	query := `
        SELECT ` + pairingColumns + `
        FROM pairings
        WHERE status = 'accepted'
          AND ((inviter_id = $1 AND invitee_id = $2) OR (inviter_id = $2 AND invitee_id = $1));
    `

	var row pairingRow
	if err := db.Get(ctx, s.pool, &row, query, a, b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toPairing(), nil
}

func (s *PostgresStore) Transition(ctx context.Context, id uuid.UUID, to Status, acceptedAt *time.Time) (*Pairing, error) {
	query := `
        UPDATE pairings
        SET status = $2, accepted_at = $3
        WHERE id = $1 AND status = 'pending'
        RETURNING ` + pairingColumns + `;
    `

	var row pairingRow
	err := db.Get(ctx, s.pool, &row, query, id, string(to), acceptedAt)
	if err == nil {
		return row.toPairing(), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// No pending row matched: either the pairing is gone or already resolved.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current == nil {
		return nil, ErrNotFound
	}
	return nil, ErrAlreadyResolved
}

func (s *PostgresStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
        UPDATE pairings
        SET status = 'expired'
        WHERE status = 'pending' AND created_at < $1;
    `
	tag, err := db.Exec(ctx, s.pool, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := db.Exec(ctx, s.pool, `DELETE FROM pairings WHERE id = $1;`, id)
	return err
}
