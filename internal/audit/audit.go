// Package audit appends passkey lifecycle events to an audit log. Writes are
// best effort: a failed append is logged and dropped, never surfaced to the
// flow that triggered it.
package audit

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types recorded across the four flows and credential management.
const (
	EventRegistrationStarted     = "registration_started"
	EventRegistrationCompleted   = "registration_completed"
	EventRegistrationFailed      = "registration_failed"
	EventChallengeExpired        = "challenge_expired"
	EventAuthenticationStarted   = "authentication_started"
	EventAuthenticationCompleted = "authentication_completed"
	EventAuthenticationFailed    = "authentication_failed"
	EventPasskeyRemoved          = "passkey_removed"
	EventPasskeyUpdated          = "passkey_updated"
)

// Event is one audit record. Zero-value fields are omitted from storage.
type Event struct {
	Type         string
	UserID       string
	CredentialID string
	Email        string
	IP           string
	Origin       string
	Detail       string
}

// Recorder appends events to the audit sink.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// PostgresRecorder appends events to the passkey_audit_log table.
type PostgresRecorder struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder builds a Postgres-backed audit recorder.
func NewPostgresRecorder(db *pgxpool.Pool, logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// Record appends the event. Failures are logged at warn and swallowed.
func (r *PostgresRecorder) Record(ctx context.Context, e Event) {
	_, err := r.db.Exec(ctx, `INSERT INTO passkey_audit_log
        (event_type, user_id, credential_id, email, ip_address, origin, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		e.Type, nullable(e.UserID), nullable(e.CredentialID), nullable(e.Email),
		nullable(e.IP), nullable(e.Origin), nullable(e.Detail))
	if err != nil {
		r.logger.Warn("audit write failed", "event", e.Type, "error", err)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
