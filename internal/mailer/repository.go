package mailer

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AdminEmails(ctx context.Context) ([]string, error) {
	return r.emails(ctx, `SELECT email FROM users WHERE (role = 'admin' OR is_super_admin) AND email <> '' ORDER BY email`)
}

func (r *Repository) SubscriberEmails(ctx context.Context) ([]string, error) {
	return r.emails(ctx, `SELECT email FROM subscribers WHERE is_active ORDER BY id`)
}

func (r *Repository) CountSubscribers(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers WHERE is_active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return count, nil
}

// Subscribe reports whether the address was newly added or reactivated.
func (r *Repository) Subscribe(ctx context.Context, email string) (bool, error) {
	query := `
		INSERT INTO subscribers (email, is_active)
		VALUES ($1, true)
		ON CONFLICT (email) DO UPDATE SET is_active = true
		WHERE subscribers.is_active = false
	`

	result, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return false, fmt.Errorf("subscribe %s: %w", email, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("subscribe %s: %w", email, err)
	}
	return rows > 0, nil
}

func (r *Repository) emails(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query emails: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
