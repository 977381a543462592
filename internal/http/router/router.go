package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/diagnosis/slotgrid/internal/http/handlers"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/service"
	"github.com/diagnosis/slotgrid/pkg/events"
	mw "github.com/diagnosis/slotgrid/pkg/middleware"
)

type RouterConfig struct {
	Accounts       service.AccountService
	Events         service.EventService
	Broadcaster    events.Broadcaster
	Verifier       middleware.TokenVerifier
	Limiter        *middleware.RateLimiter
	Cookie         handlers.CookieSettings
	AppBaseURL     string
	AllowedOrigins []string
	RequestTimeout time.Duration
	TrustProxy     bool
}

func isStream(r *http.Request) bool {
	return strings.HasSuffix(r.URL.Path, "/stream")
}

// NewRouter assembles the full API.
func NewRouter(cfg RouterConfig) http.Handler {
	auth := middleware.NewAuth(cfg.Verifier)
	authH := handlers.NewAuthHandler(cfg.Accounts, cfg.Cookie, cfg.AppBaseURL)
	usersH := handlers.NewUsersHandler(cfg.Accounts)
	streamH := handlers.NewStreamHandler(cfg.Events, cfg.Broadcaster)
	eventsH := handlers.NewEventsHandler(cfg.Events, auth, streamH)

	r := chi.NewRouter()

	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("slotgrid-api"))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.Health)
	r.Use(mw.Timeout(cfg.RequestTimeout, isStream))

	r.Group(func(r chi.Router) {
		r.Use(cfg.Limiter.Limit(middleware.ClassAuth))
		authH.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(cfg.Limiter.LimitByMethod())

		r.With(auth.Require).Mount("/users", usersH.Routes())
		r.With(auth.Require).Get("/my-events", eventsH.MyEvents)
		r.Mount("/events", eventsH.Routes())
	})

	return r
}
