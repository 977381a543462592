package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/http/response"
	"github.com/diagnosis/slotgrid/internal/service"
)

type UsersHandler struct {
	Accounts service.AccountService
}

func NewUsersHandler(accounts service.AccountService) *UsersHandler {
	return &UsersHandler{Accounts: accounts}
}

// Routes expects to be mounted behind Auth.Require.
func (h *UsersHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.me)
	r.Put("/me", h.updateMe)
	return r
}

func (h *UsersHandler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.Accounts.Me(r.Context(), middleware.UserID(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, user)
}

func (h *UsersHandler) updateMe(w http.ResponseWriter, r *http.Request) {
	var in domain.UpdateProfileRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	user, err := h.Accounts.UpdateProfile(r.Context(), middleware.UserID(r), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, struct {
		Username string `json:"username"`
	}{Username: user.Username})
}
