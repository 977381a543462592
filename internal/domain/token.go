package domain

import "time"

type RefreshToken struct {
	ID        string
	UserID    string
	FamilyID  string
	Version   int
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

type EmailTokenKind string

const (
	EmailTokenVerify EmailTokenKind = "verify"
	EmailTokenReset  EmailTokenKind = "reset"
)

func (k EmailTokenKind) Valid() bool {
	return k == EmailTokenVerify || k == EmailTokenReset
}

type EmailToken struct {
	ID        string
	UserID    string
	Kind      EmailTokenKind
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

type LoginAttempt struct {
	ID        string
	UserID    string
	IP        string
	CreatedAt time.Time
}
