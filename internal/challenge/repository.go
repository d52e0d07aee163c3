package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by Consume when no challenge matches the id and type.
var ErrNotFound = errors.New("challenge not found")

// Repository persists pending challenges.
type Repository interface {
	Create(ctx context.Context, ch Challenge) error
	// Consume atomically reads and deletes the challenge. A second call with
	// the same id always fails, regardless of what the first caller did with
	// the result.
	Consume(ctx context.Context, id string, typ Type) (Challenge, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed challenge repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new pending challenge.
func (r *PostgresRepository) Create(ctx context.Context, ch Challenge) error {
	id, err := uuid.Parse(ch.ID)
	if err != nil {
		return err
	}
	var email, webauthnUserID *string
	if ch.Email != "" {
		email = &ch.Email
	}
	if ch.WebAuthnUserID != "" {
		webauthnUserID = &ch.WebAuthnUserID
	}
	_, err = r.db.Exec(ctx, `INSERT INTO passkey_challenges (id, challenge, type, email, webauthn_user_id, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, id, ch.Challenge, string(ch.Type), email, webauthnUserID, ch.ExpiresAt.UTC())
	return err
}

// Consume deletes the challenge row and returns it in the same statement, so
// a replayed finish call can never observe the same challenge twice. The
// delete is keyed by id alone: a consume with the wrong flow type still burns
// the challenge.
func (r *PostgresRepository) Consume(ctx context.Context, id string, typ Type) (Challenge, error) {
	challengeID, err := uuid.Parse(id)
	if err != nil {
		return Challenge{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `DELETE FROM passkey_challenges
        WHERE id = $1
        RETURNING id, challenge, type, email, webauthn_user_id, expires_at`, challengeID)

	var (
		rowID          uuid.UUID
		typeValue      string
		email          *string
		webauthnUserID *string
		expiresAt      time.Time
		ch             Challenge
	)
	if err := row.Scan(&rowID, &ch.Challenge, &typeValue, &email, &webauthnUserID, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challenge{}, ErrNotFound
		}
		return Challenge{}, err
	}
	ch.ID = rowID.String()
	ch.Type = Type(typeValue)
	if ch.Type != typ {
		return Challenge{}, ErrNotFound
	}
	if email != nil {
		ch.Email = *email
	}
	if webauthnUserID != nil {
		ch.WebAuthnUserID = *webauthnUserID
	}
	ch.ExpiresAt = expiresAt.UTC()
	return ch, nil
}
