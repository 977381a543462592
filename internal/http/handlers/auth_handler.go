package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/http/response"
	"github.com/diagnosis/slotgrid/internal/service"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

// CookieSettings controls the refresh-token cookie.
type CookieSettings struct {
	Name   string
	Secure bool
	Domain string
}

type AuthHandler struct {
	Accounts   service.AccountService
	Cookie     CookieSettings
	AppBaseURL string
}

func NewAuthHandler(accounts service.AccountService, cookie CookieSettings, appBaseURL string) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	return &AuthHandler{Accounts: accounts, Cookie: cookie, AppBaseURL: appBaseURL}
}

// Register adds the account routes to r at the root.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)
	r.Get("/verify-email", h.verifyEmail) // GET ?tid=...&t=...
	r.Post("/resend-verification", h.resendVerification)
	r.Post("/forgot-password", h.forgotPassword)
	r.Post("/reset-password", h.resetPassword)
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, until time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   h.Cookie.Domain,
		Expires:  until,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    "",
		Path:     "/",
		Domain:   h.Cookie.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// presentedRefresh prefers the cookie and falls back to the JSON body.
func (h *AuthHandler) presentedRefresh(w http.ResponseWriter, r *http.Request) (string, error) {
	var in domain.RefreshRequest
	if err := decodeJSON(w, r, &in, true); err != nil {
		return "", err
	}
	if c, err := r.Cookie(h.Cookie.Name); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return in.RefreshToken, nil
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var in domain.RegisterRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	out, err := h.Accounts.Register(r.Context(), &in)
	if err != nil {
		// Registration reports taken usernames and emails as bad input.
		var de *domain.Error
		if errors.As(err, &de) && de.Kind == domain.KindConflict {
			response.WriteError(w, http.StatusBadRequest, de.Message, de.Code)
			return
		}
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, out)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var in domain.LoginRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	out, err := h.Accounts.Login(r.Context(), &in, middleware.ClientIP(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.setRefreshCookie(w, out.RefreshToken, out.RefreshUntil)
	response.WriteJSON(w, http.StatusOK, out)
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	tok, err := h.presentedRefresh(w, r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if tok == "" {
		response.FromError(w, r, domain.ErrInvalidToken)
		return
	}
	pair, err := h.Accounts.Refresh(r.Context(), tok)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnauthorized {
			h.clearRefreshCookie(w)
		}
		response.FromError(w, r, err)
		return
	}
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshUntil)
	response.WriteJSON(w, http.StatusOK, pair)
}

// logout always succeeds; a bad or missing token only means there is
// nothing to revoke.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	tok, _ := h.presentedRefresh(w, r)
	if tok != "" {
		if err := h.Accounts.Logout(r.Context(), tok); err != nil && domain.KindOf(err) == domain.KindInternal {
			logger.ErrorContext(r.Context(), "Failed to revoke refresh family", "error", err)
		}
	}
	h.clearRefreshCookie(w)
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *AuthHandler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.AppBaseURL + "/verify-email/success"
	if err := h.Accounts.VerifyEmail(r.Context(), q.Get("tid"), q.Get("t")); err != nil {
		if domain.KindOf(err) == domain.KindInternal {
			logger.ErrorContext(r.Context(), "Email verification failed", "error", err)
		}
		target = h.AppBaseURL + "/verify-email/failure"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandler) readEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var in domain.EmailRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return "", false
	}
	return in.Email, true
}

func (h *AuthHandler) resendVerification(w http.ResponseWriter, r *http.Request) {
	email, ok := h.readEmail(w, r)
	if !ok {
		return
	}
	if err := h.Accounts.ResendVerification(r.Context(), email); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{
		Message: "if that address belongs to an unverified account, a new link has been sent",
	})
}

func (h *AuthHandler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	email, ok := h.readEmail(w, r)
	if !ok {
		return
	}
	if err := h.Accounts.ForgotPassword(r.Context(), email); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{
		Message: "if that address is registered, a reset link has been sent",
	})
}

func (h *AuthHandler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in domain.ResetPasswordRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Accounts.ResetPassword(r.Context(), &in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, messageResponse{Message: "password updated"})
}
