package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"delivery-backend/internal/auth"
)

// Repository serves read-only user projections for the listing endpoints.
// It never selects the password hash.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context, skip, limit int) ([]auth.PublicUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, email, role, is_active, created_at
		FROM users
		ORDER BY created_at ASC
		OFFSET $1 LIMIT $2
	`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]auth.PublicUser, 0)
	for rows.Next() {
		var u auth.PublicUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (auth.PublicUser, error) {
	var u auth.PublicUser
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, is_active, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.PublicUser{}, err
		}
		return auth.PublicUser{}, fmt.Errorf("query user by id: %w", err)
	}

	return u, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (auth.PublicUser, error) {
	var u auth.PublicUser
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, is_active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.PublicUser{}, err
		}
		return auth.PublicUser{}, fmt.Errorf("query user by username: %w", err)
	}

	return u, nil
}
