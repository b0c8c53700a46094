package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CalDAVAccountRepository handles caldav_accounts persistence.
type CalDAVAccountRepository struct {
	db     *sql.DB
	driver string
}

func (r *CalDAVAccountRepository) Create(ctx context.Context, a *CalDAVAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := q(r.driver, `
		INSERT INTO caldav_accounts
			(id, name, username, password_encrypted, base_url, verify_ssl, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Username, a.PasswordEncrypted, a.BaseURL, a.VerifySSL, a.Enabled, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create caldav account: %w", err)
	}
	return nil
}

func (r *CalDAVAccountRepository) GetByID(ctx context.Context, id string) (*CalDAVAccount, error) {
	query := q(r.driver, `
		SELECT id, name, username, password_encrypted, base_url, verify_ssl, enabled,
		       created_at, updated_at, last_tested_at, last_test_success
		FROM caldav_accounts WHERE id = $1
	`)
	a := &CalDAVAccount{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Name, &a.Username, &a.PasswordEncrypted, &a.BaseURL, &a.VerifySSL, &a.Enabled,
		&a.CreatedAt, &a.UpdatedAt, &a.LastTestedAt, &a.LastTestSuccess)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get caldav account: %w", err)
	}
	return a, nil
}

func (r *CalDAVAccountRepository) Update(ctx context.Context, a *CalDAVAccount) error {
	query := q(r.driver, `
		UPDATE caldav_accounts
		SET name = $1, username = $2, password_encrypted = $3, base_url = $4,
		    verify_ssl = $5, enabled = $6, updated_at = $7,
		    last_tested_at = $8, last_test_success = $9
		WHERE id = $10
	`)
	_, err := r.db.ExecContext(ctx, query,
		a.Name, a.Username, a.PasswordEncrypted, a.BaseURL, a.VerifySSL, a.Enabled, a.UpdatedAt,
		a.LastTestedAt, a.LastTestSuccess, a.ID)
	if err != nil {
		return fmt.Errorf("store: update caldav account: %w", err)
	}
	return nil
}

func (r *CalDAVAccountRepository) Delete(ctx context.Context, id string) error {
	query := q(r.driver, `DELETE FROM caldav_accounts WHERE id = $1`)
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: delete caldav account: %w", err)
	}
	return nil
}

func (r *CalDAVAccountRepository) ListEnabled(ctx context.Context) ([]*CalDAVAccount, error) {
	query := q(r.driver, `
		SELECT id, name, username, password_encrypted, base_url, verify_ssl, enabled,
		       created_at, updated_at, last_tested_at, last_test_success
		FROM caldav_accounts WHERE enabled = TRUE
	`)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list caldav accounts: %w", err)
	}
	defer rows.Close()

	var out []*CalDAVAccount
	for rows.Next() {
		a := &CalDAVAccount{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Username, &a.PasswordEncrypted, &a.BaseURL, &a.VerifySSL,
			&a.Enabled, &a.CreatedAt, &a.UpdatedAt, &a.LastTestedAt, &a.LastTestSuccess); err != nil {
			return nil, fmt.Errorf("store: scan caldav account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
