package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/http/response"
	"github.com/diagnosis/slotgrid/internal/service"
)

type EventsHandler struct {
	Events service.EventService
	Auth   *middleware.Auth
	Stream *StreamHandler
}

func NewEventsHandler(events service.EventService, auth *middleware.Auth, stream *StreamHandler) *EventsHandler {
	return &EventsHandler{Events: events, Auth: auth, Stream: stream}
}

func (h *EventsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(h.Auth.Require).Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.With(h.Auth.Optional).Get("/", h.get)
		r.With(h.Auth.RequireStream).Get("/stream", h.Stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Require)
			r.Put("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/invite", h.invite)
			r.Post("/join", h.join)
			r.Post("/leave", h.leave)
		})
	})
	return r
}

// MyEvents serves GET /my-events.
func (h *EventsHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Events.ListForUser(r.Context(), middleware.UserID(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.EventSummary{}
	}
	response.WriteJSON(w, http.StatusOK, list)
}

func (h *EventsHandler) create(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateEventRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	view, err := h.Events.Create(r.Context(), middleware.UserID(r), &in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, view)
}

func (h *EventsHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Events.Get(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, view)
}

func (h *EventsHandler) update(w http.ResponseWriter, r *http.Request) {
	var in domain.UpdateEventRequest
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Events.Update(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r), &in); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

func (h *EventsHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.Delete(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r)); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statusResponse{Status: "deleted"})
}

func (h *EventsHandler) invite(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &in, false); err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.Events.Invite(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r), in.Username); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statusResponse{Status: "invited"})
}

func (h *EventsHandler) join(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.Join(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r)); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statusResponse{Status: "joined"})
}

func (h *EventsHandler) leave(w http.ResponseWriter, r *http.Request) {
	if err := h.Events.Leave(r.Context(), chi.URLParam(r, "id"), middleware.UserID(r)); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, statusResponse{Status: "left"})
}
