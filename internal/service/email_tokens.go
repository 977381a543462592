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
)

const emailSecretBytes = 32

// EmailTokenService issues and redeems single-use email tokens. Callers
// pass the Store so issue and consume can join a surrounding transaction.
type EmailTokenService struct {
	now func() time.Time
}

func NewEmailTokenService() *EmailTokenService {
	return &EmailTokenService{now: time.Now}
}

// Issue returns the token id and the raw secret; only a hash is stored.
func (s *EmailTokenService) Issue(ctx context.Context, store repo.Store, userID string, kind domain.EmailTokenKind, ttl time.Duration) (tokenID, raw string, err error) {
	if !kind.Valid() {
		return "", "", fmt.Errorf("unknown email token kind %q", kind)
	}
	raw, err = auth.RandomSecret(emailSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate email token: %w", err)
	}
	hash, err := auth.HashSecret(raw)
	if err != nil {
		return "", "", fmt.Errorf("hash email token: %w", err)
	}
	tok := &domain.EmailToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		TokenHash: hash,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	if err := store.EmailTokens().Create(ctx, tok); err != nil {
		return "", "", fmt.Errorf("store email token: %w", err)
	}
	return tok.ID, raw, nil
}

// Consume redeems a token exactly once and returns its user id.
func (s *EmailTokenService) Consume(ctx context.Context, store repo.Store, tokenID, raw string, kind domain.EmailTokenKind) (string, error) {
	if tokenID == "" || raw == "" {
		return "", domain.ErrInvalidOrExpiredToken
	}
	tok, err := store.EmailTokens().GetForUpdate(ctx, tokenID, kind)
	if errors.Is(err, repo.ErrNotFound) {
		return "", domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", fmt.Errorf("load email token: %w", err)
	}
	if tok.Used || !s.now().Before(tok.ExpiresAt) || !auth.CompareSecret(tok.TokenHash, raw) {
		return "", domain.ErrInvalidOrExpiredToken
	}
	ok, err := store.EmailTokens().MarkUsed(ctx, tok.ID)
	if err != nil {
		return "", fmt.Errorf("mark email token used: %w", err)
	}
	if !ok {
		return "", domain.ErrInvalidOrExpiredToken
	}
	return tok.UserID, nil
}
