package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/meross-core/internal/cloud"
)

// ErrNoCredentials indicates no stored row exists for the account email.
var ErrNoCredentials = errors.New("credstore: no stored credentials")

// Store reads and writes credential rows in the local SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database. The credentials table is
// created by the embedded migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the credentials row for creds.UserEmail.
func (s *Store) Save(ctx context.Context, creds *cloud.Credentials) error {
	if creds == nil || creds.UserEmail == "" {
		return errors.New("credstore: credentials missing email")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	issued := creds.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (email, user_id, token, key, api_domain, mqtt_domain, issued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		     user_id = excluded.user_id,
		     token = excluded.token,
		     key = excluded.key,
		     api_domain = excluded.api_domain,
		     mqtt_domain = excluded.mqtt_domain,
		     issued_at = excluded.issued_at,
		     updated_at = excluded.updated_at`,
		creds.UserEmail, creds.UserID, creds.Token, creds.Key,
		creds.HTTPDomain, creds.MQTTDomain,
		issued.UTC().Format(time.RFC3339), now,
	)
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Load returns the stored credentials for an account email, or
// ErrNoCredentials when none exist.
func (s *Store) Load(ctx context.Context, email string) (*cloud.Credentials, error) {
	var creds cloud.Credentials
	var issuedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT email, user_id, token, key, api_domain, mqtt_domain, issued_at
		 FROM credentials WHERE email = ?`, email,
	).Scan(&creds.UserEmail, &creds.UserID, &creds.Token, &creds.Key,
		&creds.HTTPDomain, &creds.MQTTDomain, &issuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	creds.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt) //nolint:errcheck // format is controlled
	return &creds, nil
}

// Delete drops the stored row for an account email. Deleting a row that
// does not exist is not an error.
func (s *Store) Delete(ctx context.Context, email string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE email = ?", email); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}
