package postgres

import (
	"context"
	"time"

	"github.com/diagnosis/slotgrid/internal/domain"
)

type RefreshTokensRepo struct{ db DBTX }

func (r *RefreshTokensRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (id, user_id, family_id, version, token_hash, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING created_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q, t.ID, t.UserID, t.FamilyID, t.Version, t.TokenHash, t.ExpiresAt).Scan(&t.CreatedAt))
}

func (r *RefreshTokensRepo) GetForUpdate(ctx context.Context, id string) (*domain.RefreshToken, error) {
	const q = `
SELECT id, user_id, family_id, version, token_hash, expires_at, created_at, revoked
FROM refresh_tokens WHERE id=$1 FOR UPDATE`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var t domain.RefreshToken
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.UserID, &t.FamilyID, &t.Version, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked,
	); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *RefreshTokensRepo) LatestVersion(ctx context.Context, familyID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var v int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM refresh_tokens WHERE family_id=$1`, familyID).Scan(&v)
	return v, mapErr(err)
}

func (r *RefreshTokensRepo) Revoke(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked=TRUE WHERE id=$1`, id)
	return mapErr(err)
}

func (r *RefreshTokensRepo) revokeWhere(ctx context.Context, where string, arg string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `UPDATE refresh_tokens SET revoked=TRUE WHERE revoked=FALSE AND `+where+`=$1`, arg)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokensRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	return r.revokeWhere(ctx, "family_id", familyID)
}

func (r *RefreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.revokeWhere(ctx, "user_id", userID)
}

func (r *RefreshTokensRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

type EmailTokensRepo struct{ db DBTX }

func (r *EmailTokensRepo) Create(ctx context.Context, t *domain.EmailToken) error {
	const q = `
INSERT INTO email_tokens (id, user_id, kind, token_hash, expires_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING created_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q, t.ID, t.UserID, string(t.Kind), t.TokenHash, t.ExpiresAt).Scan(&t.CreatedAt))
}

func (r *EmailTokensRepo) GetForUpdate(ctx context.Context, id string, kind domain.EmailTokenKind) (*domain.EmailToken, error) {
	const q = `
SELECT id, user_id, kind, token_hash, expires_at, used, created_at
FROM email_tokens WHERE id=$1 AND kind=$2 FOR UPDATE`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var (
		t    domain.EmailToken
		kstr string
	)
	if err := r.db.QueryRow(ctx, q, id, string(kind)).Scan(
		&t.ID, &t.UserID, &kstr, &t.TokenHash, &t.ExpiresAt, &t.Used, &t.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	t.Kind = domain.EmailTokenKind(kstr)
	return &t, nil
}

func (r *EmailTokensRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `UPDATE email_tokens SET used=TRUE WHERE id=$1 AND used=FALSE`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EmailTokensRepo) InvalidateForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `UPDATE email_tokens SET used=TRUE WHERE user_id=$1 AND used=FALSE`, userID)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *EmailTokensRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `DELETE FROM email_tokens WHERE expires_at < $1 OR used`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

type LoginAttemptsRepo struct{ db DBTX }

func (r *LoginAttemptsRepo) Record(ctx context.Context, a *domain.LoginAttempt) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx,
		`INSERT INTO login_attempts (id, user_id, ip) VALUES ($1,$2,$3) RETURNING created_at`,
		a.ID, a.UserID, a.IP,
	).Scan(&a.CreatedAt))
}

func (r *LoginAttemptsRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
