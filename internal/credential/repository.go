package credential

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no credential matches the lookup.
var ErrNotFound = errors.New("credential not found")

// Repository persists enrolled passkey credentials.
type Repository interface {
	Create(ctx context.Context, cred Credential) error
	FindByID(ctx context.Context, id string) (Credential, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCounter stores the authenticator-reported counter and stamps
	// last_used_at. The stored counter never decreases.
	UpdateCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error
	// Rename updates the display name on a row matching both id and owner.
	Rename(ctx context.Context, userID, id, name string) (Credential, error)
	// Delete removes a row matching both id and owner. Deleting a missing or
	// non-owned row is not an error; the bool reports whether a row went away.
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed credential repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const credentialColumns = `id, user_id, webauthn_user_id, public_key, counter, device_type, backed_up, transports, authenticator_name, created_at, last_used_at`

// Create inserts a freshly registered credential.
func (r *PostgresRepository) Create(ctx context.Context, cred Credential) error {
	userID, err := uuid.Parse(cred.UserID)
	if err != nil {
		return err
	}
	var name *string
	if cred.AuthenticatorName != "" {
		name = &cred.AuthenticatorName
	}
	_, err = r.db.Exec(ctx, `INSERT INTO passkey_credentials
        (id, user_id, webauthn_user_id, public_key, counter, device_type, backed_up, transports, authenticator_name, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cred.ID, userID, cred.WebAuthnUserID, encodePublicKey(cred.PublicKey), int64(cred.Counter),
		cred.DeviceType, cred.BackedUp, cred.Transports, name, cred.CreatedAt.UTC())
	return err
}

// FindByID fetches a credential by its authenticator-supplied id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Credential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM passkey_credentials WHERE id = $1`, id)
	return scanCredential(row)
}

// ListByUser returns the user's credentials, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+credentialColumns+` FROM passkey_credentials
        WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// UpdateCounter writes the new signature counter monotonically.
func (r *PostgresRepository) UpdateCounter(ctx context.Context, id string, counter uint32, usedAt time.Time) error {
	cmd, err := r.db.Exec(ctx, `UPDATE passkey_credentials
        SET counter = GREATEST(counter, $2), last_used_at = $3 WHERE id = $1`,
		id, int64(counter), usedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Rename updates the authenticator name when both id and owner match.
func (r *PostgresRepository) Rename(ctx context.Context, userID, id, name string) (Credential, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return Credential{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE passkey_credentials SET authenticator_name = $3
        WHERE id = $1 AND user_id = $2
        RETURNING `+credentialColumns, id, ownerID, name)
	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	return cred, err
}

// Delete removes the credential when both id and owner match.
func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return false, nil
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM passkey_credentials WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		ownerID    uuid.UUID
		publicKey  string
		counter    int64
		name       *string
		createdAt  time.Time
		lastUsedAt *time.Time
		cred       Credential
	)
	if err := row.Scan(&cred.ID, &ownerID, &cred.WebAuthnUserID, &publicKey, &counter,
		&cred.DeviceType, &cred.BackedUp, &cred.Transports, &name, &createdAt, &lastUsedAt); err != nil {
		return Credential{}, err
	}
	key, err := decodePublicKey(publicKey)
	if err != nil {
		return Credential{}, err
	}
	cred.UserID = ownerID.String()
	cred.PublicKey = key
	cred.Counter = uint32(counter)
	if name != nil {
		cred.AuthenticatorName = *name
	}
	cred.CreatedAt = createdAt.UTC()
	if lastUsedAt != nil {
		t := lastUsedAt.UTC()
		cred.LastUsedAt = &t
	}
	return cred, nil
}

// Public keys are stored as hex strings with a \x prefix.
func encodePublicKey(key []byte) string {
	return `\x` + hex.EncodeToString(key)
}

func decodePublicKey(stored string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(stored, `\x`))
}
