package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/pkg/database"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db DBTX
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{db: pool} }

func (s *Store) Users() repo.UsersRepo                 { return &UsersRepo{db: s.db} }
func (s *Store) RefreshTokens() repo.RefreshTokensRepo { return &RefreshTokensRepo{db: s.db} }
func (s *Store) EmailTokens() repo.EmailTokensRepo     { return &EmailTokensRepo{db: s.db} }
func (s *Store) Events() repo.EventsRepo               { return &EventsRepo{db: s.db} }
func (s *Store) LoginAttempts() repo.LoginAttemptsRepo { return &LoginAttemptsRepo{db: s.db} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repo.Store) error) error {
	return database.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

// mapErr translates driver errors into repo sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &repo.DuplicateError{Field: constraintField(pgErr.ConstraintName)}
	}
	return err
}

func constraintField(name string) string {
	switch name {
	case "users_username_key":
		return "username"
	case "users_email_key":
		return "email"
	case "events_pkey":
		return "id"
	case "event_participants_event_id_user_id_key":
		return "participant"
	case "refresh_tokens_family_id_version_key":
		return "version"
	default:
		return name
	}
}
