package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/pkg/auth"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

type TokenConfig struct {
	Secret             string
	AccessTTL          time.Duration
	RefreshTTLRemember time.Duration
	RefreshTTLSession  time.Duration
}

// TokenIssuer signs access tokens and manages refresh-token families.
type TokenIssuer struct {
	store repo.Store
	cfg   TokenConfig
	now   func() time.Time
}

func NewTokenIssuer(store repo.Store, cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{store: store, cfg: cfg, now: time.Now}
}

func (t *TokenIssuer) IssueAccessToken(userID string) (string, error) {
	return auth.NewAccessToken(userID, t.cfg.Secret, t.cfg.AccessTTL)
}

// VerifyAccessToken returns the user id carried by a valid access token.
func (t *TokenIssuer) VerifyAccessToken(token string) (string, error) {
	claims, err := auth.ParseAccess(token, t.cfg.Secret)
	if err != nil {
		return "", domain.ErrInvalidToken
	}
	return claims.UID, nil
}

// IssueRefreshToken starts a new family at version 1. store may be a
// transaction-bound Store.
func (t *TokenIssuer) IssueRefreshToken(ctx context.Context, store repo.Store, userID string, remember bool) (string, time.Time, error) {
	ttl := t.cfg.RefreshTTLSession
	if remember {
		ttl = t.cfg.RefreshTTLRemember
	}
	row := &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		FamilyID:  uuid.NewString(),
		Version:   1,
		ExpiresAt: t.now().Add(ttl).UTC(),
	}
	token, err := t.persist(ctx, store, row)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, row.ExpiresAt, nil
}

func (t *TokenIssuer) persist(ctx context.Context, store repo.Store, row *domain.RefreshToken) (string, error) {
	token, err := auth.NewRefreshToken(row.UserID, row.ID, auth.Family{ID: row.FamilyID, Version: row.Version}, row.ExpiresAt, t.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	if row.TokenHash, err = auth.HashSecret(token); err != nil {
		return "", fmt.Errorf("hash refresh token: %w", err)
	}
	if err := store.RefreshTokens().Create(ctx, row); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// IssuePair issues an access token and a fresh refresh family.
func (t *TokenIssuer) IssuePair(ctx context.Context, store repo.Store, userID string, remember bool) (domain.TokenPair, error) {
	access, err := t.IssueAccessToken(userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, until, err := t.IssueRefreshToken(ctx, store, userID, remember)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{Token: access, RefreshToken: refresh, RefreshUntil: until}, nil
}

// Rotate exchanges a refresh token for version+1 of its family. Every
// failure is domain.ErrInvalidToken. Presenting a token that was already
// rotated away revokes the whole family.
func (t *TokenIssuer) Rotate(ctx context.Context, presented string) (domain.TokenPair, error) {
	claims, err := auth.ParseRefresh(presented, t.cfg.Secret, false)
	if err != nil {
		return domain.TokenPair{}, domain.ErrInvalidToken
	}

	var (
		pair   domain.TokenPair
		reused bool
	)
	err = t.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		row, err := tx.RefreshTokens().GetForUpdate(ctx, claims.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("load refresh token: %w", err)
		}
		if row.UserID != claims.UID || row.FamilyID != claims.Family.ID || row.Version != claims.Family.Version {
			return domain.ErrInvalidToken
		}
		if !auth.CompareSecret(row.TokenHash, presented) {
			return domain.ErrInvalidToken
		}
		if row.Revoked {
			reused = true
			return domain.ErrInvalidToken
		}
		if !t.now().Before(row.ExpiresAt) {
			return domain.ErrInvalidToken
		}
		latest, err := tx.RefreshTokens().LatestVersion(ctx, row.FamilyID)
		if err != nil {
			return fmt.Errorf("load family version: %w", err)
		}
		if latest != row.Version {
			reused = true
			return domain.ErrInvalidToken
		}

		if err := tx.RefreshTokens().Revoke(ctx, row.ID); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		next := &domain.RefreshToken{
			ID:        uuid.NewString(),
			UserID:    row.UserID,
			FamilyID:  row.FamilyID,
			Version:   row.Version + 1,
			ExpiresAt: row.ExpiresAt,
		}
		refresh, err := t.persist(ctx, tx, next)
		if err != nil {
			return err
		}
		access, err := t.IssueAccessToken(row.UserID)
		if err != nil {
			return fmt.Errorf("sign access token: %w", err)
		}
		pair = domain.TokenPair{Token: access, RefreshToken: refresh, RefreshUntil: next.ExpiresAt}
		return nil
	})

	if reused {
		logger.WarnContext(ctx, "refresh token reuse detected, revoking family",
			"user_id", claims.UID, "family_id", claims.Family.ID, "version", claims.Family.Version)
		if _, rerr := t.store.RefreshTokens().RevokeFamily(ctx, claims.Family.ID); rerr != nil {
			logger.ErrorContext(ctx, "failed to revoke refresh family", "family_id", claims.Family.ID, "error", rerr)
		}
	}
	if err != nil {
		return domain.TokenPair{}, err
	}
	return pair, nil
}

// RevokeFamily revokes every refresh token the user holds.
func (t *TokenIssuer) RevokeFamily(ctx context.Context, store repo.Store, userID string) error {
	if _, err := store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// RevokePresented is logout: a parseable token, expired or not, has its
// family revoked. Anything else is ignored.
func (t *TokenIssuer) RevokePresented(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}
	claims, err := auth.ParseRefresh(presented, t.cfg.Secret, true)
	if err != nil {
		return nil
	}
	if _, err := t.store.RefreshTokens().RevokeFamily(ctx, claims.Family.ID); err != nil {
		return fmt.Errorf("revoke refresh family: %w", err)
	}
	return nil
}
