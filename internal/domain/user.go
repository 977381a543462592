package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	Username     string    `json:"username"`
	RefreshUntil time.Time `json:"-"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenPair struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	RefreshUntil time.Time `json:"-"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	TokenID            string `json:"tokenId"`
	Token              string `json:"token"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

type UpdateProfileRequest struct {
	Username    *string `json:"username,omitempty"`
	Email       *string `json:"email,omitempty"`
	OldPassword *string `json:"oldPassword,omitempty"`
	NewPassword *string `json:"newPassword,omitempty"`
}

// PasswordSpecials is the set of characters that satisfy the special
// character requirement of a password.
const PasswordSpecials = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

var (
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return Validation(CodeInvalidUsername, "username must be 3-30 letters or digits")
	}
	return nil
}

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return Validation(CodeInvalidEmail, "invalid email format")
	}
	return nil
}

func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < 8 {
		return Validation(CodeWeakPassword, "password must be at least 8 characters")
	}
	var digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSpecials, r):
			special = true
		}
	}
	if !digit {
		return Validation(CodeWeakPassword, "password must contain at least one digit")
	}
	if !special {
		return Validation(CodeWeakPassword, "password must contain at least one special character")
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *RegisterRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = NormalizeEmail(r.Email)
}

func (r *RegisterRequest) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	return ValidatePassword(r.Password)
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

func (r *UpdateProfileRequest) Normalize() {
	if r.Username != nil {
		v := strings.TrimSpace(*r.Username)
		r.Username = &v
	}
	if r.Email != nil {
		v := NormalizeEmail(*r.Email)
		r.Email = &v
	}
}

// Validate checks field formats only; uniqueness and the old password are
// checked against the store.
func (r *UpdateProfileRequest) Validate() error {
	if r.Username != nil {
		if err := ValidateUsername(*r.Username); err != nil {
			return err
		}
	}
	if r.Email != nil {
		if err := ValidateEmail(*r.Email); err != nil {
			return err
		}
	}
	if r.NewPassword != nil {
		if r.OldPassword == nil || *r.OldPassword == "" {
			return Validation(CodeInvalidInput, "oldPassword is required to change password")
		}
		if err := ValidatePassword(*r.NewPassword); err != nil {
			return err
		}
	}
	return nil
}

func (r *ResetPasswordRequest) Validate() error {
	if r.TokenID == "" || r.Token == "" {
		return ErrInvalidOrExpiredToken
	}
	if r.NewPassword != r.ConfirmNewPassword {
		return Validation(CodePasswordMismatch, "passwords do not match")
	}
	return ValidatePassword(r.NewPassword)
}
