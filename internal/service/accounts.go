package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/platform/mailer"
	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/pkg/auth"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

type AccountService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error)
	Login(ctx context.Context, req *domain.LoginRequest, ip string) (*domain.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	VerifyEmail(ctx context.Context, tokenID, token string) error
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error
	UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.User, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
	// Wait blocks until queued emails have been handed to the mailer.
	Wait()
}

type AccountConfig struct {
	VerifyTTL   time.Duration
	ResetTTL    time.Duration
	AppBaseURL  string
	PublicURL   string
	MailTimeout time.Duration
}

type accountService struct {
	store   repo.Store
	tokens  *TokenIssuer
	email   *EmailTokenService
	lockout *LockoutGuard
	mailer  mailer.Service
	cfg     AccountConfig
	mailWG  sync.WaitGroup
}

func NewAccountService(
	store repo.Store,
	tokens *TokenIssuer,
	email *EmailTokenService,
	lockout *LockoutGuard,
	mailer mailer.Service,
	cfg AccountConfig,
) AccountService {
	if cfg.MailTimeout <= 0 {
		cfg.MailTimeout = 15 * time.Second
	}
	return &accountService{
		store:   store,
		tokens:  tokens,
		email:   email,
		lockout: lockout,
		mailer:  mailer,
		cfg:     cfg,
	}
}

func duplicateToDomain(err error) error {
	switch repo.DuplicateField(err) {
	case "username":
		return domain.ErrUsernameTaken
	case "email":
		return domain.ErrEmailTaken
	}
	return err
}

func (s *accountService) verifyLink(tokenID, raw string) string {
	q := url.Values{"tid": {tokenID}, "t": {raw}}
	return s.cfg.PublicURL + "/verify-email?" + q.Encode()
}

func (s *accountService) resetLink(tokenID, raw string) string {
	q := url.Values{"tid": {tokenID}, "t": {raw}}
	return s.cfg.AppBaseURL + "/reset-password?" + q.Encode()
}

// sendAsync delivers mail off the request path. The request context's
// values survive for logging; its cancellation does not.
func (s *accountService) sendAsync(ctx context.Context, kind string, send func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.mailWG.Add(1)
	go func() {
		defer s.mailWG.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.MailTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to send email", "kind", kind, "error", err)
		}
	}()
}

func (s *accountService) Wait() { s.mailWG.Wait() }

func (s *accountService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.Users().FindByUsername(ctx, req.Username); err == nil {
		return nil, domain.ErrUsernameTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if _, err := s.store.Users().FindByEmail(ctx, req.Email); err == nil {
		return nil, domain.ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	var tokenID, raw string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return duplicateToDomain(err)
		}
		var err error
		tokenID, raw, err = s.email.Issue(ctx, tx, user.ID, domain.EmailTokenVerify, s.cfg.VerifyTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	link := s.verifyLink(tokenID, raw)
	s.sendAsync(ctx, "verification", func(ctx context.Context) error {
		return mailer.SendVerification(ctx, s.mailer, user.Email, user.Username, link)
	})

	return &domain.RegisterResponse{ID: user.ID, Username: user.Username}, nil
}

func (s *accountService) Login(ctx context.Context, req *domain.LoginRequest, ip string) (*domain.LoginResponse, error) {
	req.Normalize()
	if req.Username == "" || req.Password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByUsername(ctx, req.Username)
	if errors.Is(err, repo.ErrNotFound) {
		// Unknown names lock like real ones so the lock reveals nothing.
		key := unknownUserKey(req.Username)
		auth.BurnPasswordCheck(req.Password)
		if s.lockout.Locked(key) {
			return nil, domain.ErrAccountLocked
		}
		s.lockout.RecordFailure(key, ip)
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if s.lockout.Locked(user.ID) {
		auth.BurnPasswordCheck(req.Password)
		logger.WarnContext(ctx, "login rejected, account locked", "user_id", user.ID, "ip", ip)
		return nil, domain.ErrAccountLocked
	}

	ok, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.recordFailure(ctx, user.ID, ip)
		return nil, domain.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, domain.ErrEmailNotVerified
	}

	s.lockout.Reset(user.ID)
	pair, err := s.tokens.IssuePair(ctx, s.store, user.ID, req.RememberMe)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResponse{
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		Username:     user.Username,
		RefreshUntil: pair.RefreshUntil,
	}, nil
}

func unknownUserKey(username string) string {
	return "unknown:" + strings.ToLower(username)
}

func (s *accountService) recordFailure(ctx context.Context, userID, ip string) {
	s.lockout.RecordFailure(userID, ip)
	attempt := &domain.LoginAttempt{ID: uuid.NewString(), UserID: userID, IP: ip}
	if err := s.store.LoginAttempts().Record(ctx, attempt); err != nil {
		logger.WarnContext(ctx, "Failed to record login attempt", "user_id", userID, "error", err)
	}
}

func (s *accountService) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	return s.tokens.Rotate(ctx, refreshToken)
}

func (s *accountService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.RevokePresented(ctx, refreshToken)
}

func (s *accountService) VerifyEmail(ctx context.Context, tokenID, token string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		userID, err := s.email.Consume(ctx, tx, tokenID, token, domain.EmailTokenVerify)
		if err != nil {
			return err
		}
		if err := tx.Users().SetEmailVerified(ctx, userID); err != nil {
			return fmt.Errorf("failed to mark user verified: %w", err)
		}
		return nil
	})
}

// lookupForMail finds the account behind an email address. A nil user with
// a nil error means there is nothing to send.
func (s *accountService) lookupForMail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

func (s *accountService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.lookupForMail(ctx, email)
	if err != nil || user == nil || user.EmailVerified {
		return err
	}
	tokenID, raw, err := s.email.Issue(ctx, s.store, user.ID, domain.EmailTokenVerify, s.cfg.VerifyTTL)
	if err != nil {
		return err
	}
	link := s.verifyLink(tokenID, raw)
	s.sendAsync(ctx, "verification", func(ctx context.Context) error {
		return mailer.SendVerification(ctx, s.mailer, user.Email, user.Username, link)
	})
	return nil
}

func (s *accountService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.lookupForMail(ctx, email)
	if err != nil || user == nil {
		return err
	}
	tokenID, raw, err := s.email.Issue(ctx, s.store, user.ID, domain.EmailTokenReset, s.cfg.ResetTTL)
	if err != nil {
		return err
	}
	link := s.resetLink(tokenID, raw)
	s.sendAsync(ctx, "password_reset", func(ctx context.Context) error {
		return mailer.SendPasswordReset(ctx, s.mailer, user.Email, user.Username, link)
	})
	return nil
}

func (s *accountService) ResetPassword(ctx context.Context, req *domain.ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var userID string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		var err error
		userID, err = s.email.Consume(ctx, tx, req.TokenID, req.Token, domain.EmailTokenReset)
		if err != nil {
			return err
		}
		if err := tx.Users().SetPassword(ctx, userID, hash); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		return s.tokens.RevokeFamily(ctx, tx, userID)
	})
	if err != nil {
		return err
	}
	s.lockout.Reset(userID)
	logger.InfoContext(ctx, "password reset", "user_id", userID)
	return nil
}

func (s *accountService) UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		user            *domain.User
		tokenID, raw    string
		emailChanged    bool
		passwordChanged bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		u, err := tx.Users().FindByID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		if req.Username != nil && *req.Username != u.Username {
			if _, err := tx.Users().FindByUsername(ctx, *req.Username); err == nil {
				return domain.ErrUsernameTaken
			} else if !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("failed to check username: %w", err)
			}
			u.Username = *req.Username
		}
		if req.Email != nil && *req.Email != u.Email {
			if _, err := tx.Users().FindByEmail(ctx, *req.Email); err == nil {
				return domain.ErrEmailTaken
			} else if !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("failed to check email: %w", err)
			}
			u.Email = *req.Email
			u.EmailVerified = false
			emailChanged = true
		}
		if req.NewPassword != nil {
			ok, err := auth.ComparePassword(*req.OldPassword, u.PasswordHash)
			if err != nil {
				return fmt.Errorf("failed to verify password: %w", err)
			}
			if !ok {
				return domain.ErrInvalidCredentials
			}
			if u.PasswordHash, err = auth.HashPassword(*req.NewPassword); err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			passwordChanged = true
		}

		if err := tx.Users().Update(ctx, u); err != nil {
			return duplicateToDomain(err)
		}
		if passwordChanged {
			if err := s.tokens.RevokeFamily(ctx, tx, u.ID); err != nil {
				return err
			}
		}
		if emailChanged {
			// Links mailed to the previous address must not verify or reset the new one.
			if _, err := tx.EmailTokens().InvalidateForUser(ctx, u.ID); err != nil {
				return fmt.Errorf("failed to invalidate email tokens: %w", err)
			}
			if tokenID, raw, err = s.email.Issue(ctx, tx, u.ID, domain.EmailTokenVerify, s.cfg.VerifyTTL); err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if emailChanged {
		link := s.verifyLink(tokenID, raw)
		s.sendAsync(ctx, "verification", func(ctx context.Context) error {
			return mailer.SendVerification(ctx, s.mailer, user.Email, user.Username, link)
		})
	}
	return user, nil
}

func (s *accountService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.store.Users().FindByID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}
