package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// OAuthCredentialRepository handles the single-row oauth_credentials
// table. Google OAuth is single-user per process (§3), so there is no
// lookup key beyond "the one row".
type OAuthCredentialRepository struct {
	db     *sql.DB
	driver string
}

func (r *OAuthCredentialRepository) Get(ctx context.Context) (*OAuthCredential, error) {
	query := q(r.driver, `
		SELECT id, access_token_encrypted, refresh_token_encrypted, token_type,
		       expires_at, scopes, created_at, updated_at
		FROM oauth_credentials LIMIT 1
	`)
	c := &OAuthCredential{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&c.ID, &c.AccessTokenEncrypted, &c.RefreshTokenEncrypted, &c.TokenType,
		&c.ExpiresAt, &c.Scopes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get oauth credential: %w", err)
	}
	return c, nil
}

// Upsert creates the single row on first exchange, or replaces it in
// place on every subsequent refresh.
func (r *OAuthCredentialRepository) Upsert(ctx context.Context, c *OAuthCredential) error {
	existing, err := r.Get(ctx)
	if err != nil {
		return err
	}

	if existing == nil {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		query := q(r.driver, `
			INSERT INTO oauth_credentials
				(id, access_token_encrypted, refresh_token_encrypted, token_type, expires_at, scopes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`)
		_, err := r.db.ExecContext(ctx, query,
			c.ID, c.AccessTokenEncrypted, c.RefreshTokenEncrypted, c.TokenType, c.ExpiresAt, c.Scopes,
			c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("store: insert oauth credential: %w", err)
		}
		return nil
	}

	c.ID = existing.ID
	query := q(r.driver, `
		UPDATE oauth_credentials
		SET access_token_encrypted = $1, refresh_token_encrypted = $2, token_type = $3,
		    expires_at = $4, scopes = $5, updated_at = $6
		WHERE id = $7
	`)
	_, err = r.db.ExecContext(ctx, query,
		c.AccessTokenEncrypted, c.RefreshTokenEncrypted, c.TokenType, c.ExpiresAt, c.Scopes, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("store: update oauth credential: %w", err)
	}
	return nil
}
