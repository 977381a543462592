package postgres

import (
	"context"
	"time"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

const queryTimeout = 3 * time.Second

const userColumns = `id, username, email, email_verified, password_hash, created_at, updated_at`

type UsersRepo struct{ db DBTX }

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *UsersRepo) Create(ctx context.Context, u *domain.User) error {
	const q = `
INSERT INTO users (id, username, email, email_verified, password_hash)
VALUES ($1,$2,$3,$4,$5)
RETURNING created_at, updated_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q, u.ID, u.Username, u.Email, u.EmailVerified, u.PasswordHash).
		Scan(&u.CreatedAt, &u.UpdatedAt))
}

func (r *UsersRepo) find(ctx context.Context, where string, arg any) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+`=$1`, arg))
}

func (r *UsersRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(ctx, "id", id)
}

func (r *UsersRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(ctx, "username", username)
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(ctx, "email", email)
}

func (r *UsersRepo) Update(ctx context.Context, u *domain.User) error {
	const q = `
UPDATE users
SET username=$2, email=$3, email_verified=$4, password_hash=$5, updated_at=now()
WHERE id=$1
RETURNING updated_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q, u.ID, u.Username, u.Email, u.EmailVerified, u.PasswordHash).Scan(&u.UpdatedAt))
}

func (r *UsersRepo) exec(ctx context.Context, q string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *UsersRepo) SetEmailVerified(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE users SET email_verified=TRUE, updated_at=now() WHERE id=$1`, id)
}

func (r *UsersRepo) SetPassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash=$2, updated_at=now() WHERE id=$1`, id, hash)
}
