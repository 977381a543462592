// Package repo declares the storage contracts the services depend on.
// Implementations live in repo/postgres and repo/memory.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/slotgrid/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// DuplicateError reports which unique field collided. It matches ErrDuplicate.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string { return "duplicate " + e.Field }

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// DuplicateField returns the colliding field of a duplicate error, or "".
func DuplicateField(err error) string {
	var de *DuplicateError
	if errors.As(err, &de) {
		return de.Field
	}
	return ""
}

type UsersRepo interface {
	Create(ctx context.Context, u *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// Update writes username, email, verification flag and password hash.
	Update(ctx context.Context, u *domain.User) error
	SetEmailVerified(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, hash string) error
}

type RefreshTokensRepo interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetForUpdate loads a row and, inside a transaction, locks it.
	GetForUpdate(ctx context.Context, id string) (*domain.RefreshToken, error)
	LatestVersion(ctx context.Context, familyID string) (int, error)
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type EmailTokensRepo interface {
	Create(ctx context.Context, t *domain.EmailToken) error
	GetForUpdate(ctx context.Context, id string, kind domain.EmailTokenKind) (*domain.EmailToken, error)
	// MarkUsed flips used from false to true and reports whether it did.
	MarkUsed(ctx context.Context, id string) (bool, error)
	// InvalidateForUser marks every unused token of the user as used.
	InvalidateForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type EventsRepo interface {
	Create(ctx context.Context, ev *domain.Event) error
	Get(ctx context.Context, id string) (*domain.Event, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Event, error)
	Update(ctx context.Context, ev *domain.Event) error
	Delete(ctx context.Context, id string) error

	ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error)
	IsParticipant(ctx context.Context, eventID, userID string) (bool, error)
	// AddParticipant inserts a row unless one exists and reports whether it did.
	AddParticipant(ctx context.Context, eventID, userID string, avail domain.Availability) (bool, error)
	RemoveParticipant(ctx context.Context, eventID, userID string) (bool, error)
	RemoveAllParticipants(ctx context.Context, eventID string) error
	SetAvailability(ctx context.Context, eventID, userID string, avail domain.Availability) error

	ListForUser(ctx context.Context, userID string) ([]domain.EventSummary, error)
}

type LoginAttemptsRepo interface {
	Record(ctx context.Context, a *domain.LoginAttempt) error
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store groups the repositories. WithTx runs fn against a Store bound to
// one transaction; fn's error rolls everything back.
type Store interface {
	Users() UsersRepo
	RefreshTokens() RefreshTokensRepo
	EmailTokens() EmailTokensRepo
	Events() EventsRepo
	LoginAttempts() LoginAttemptsRepo
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
