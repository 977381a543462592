package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/http/handlers"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/repo/memory"
	"github.com/diagnosis/slotgrid/internal/service"
	"github.com/diagnosis/slotgrid/pkg/events"
)

const testPassword = "Passw0rd!"

type captureMailer struct {
	mu   sync.Mutex
	last string
}

func (m *captureMailer) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = body
	return nil
}

var hrefRegex = regexp.MustCompile(`href="([^"]+)"`)

func (m *captureMailer) link(t *testing.T) *url.URL {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	match := hrefRegex.FindStringSubmatch(m.last)
	require.Len(t, match, 2, "no link in email")
	u, err := url.Parse(html.UnescapeString(match[1]))
	require.NoError(t, err)
	return u
}

type apiEnv struct {
	handler  http.Handler
	accounts service.AccountService
	mailer   *captureMailer
	hub      *events.Hub
}

func newAPI(t *testing.T, budgets map[middleware.Class]middleware.Budget) *apiEnv {
	t.Helper()
	store := memory.NewStore()
	tokens := service.NewTokenIssuer(store, service.TokenConfig{
		Secret:             "router-test-secret-0123",
		AccessTTL:          15 * time.Minute,
		RefreshTTLRemember: 30 * 24 * time.Hour,
		RefreshTTLSession:  24 * time.Hour,
	})
	m := &captureMailer{}
	accounts := service.NewAccountService(store, tokens, service.NewEmailTokenService(),
		service.NewLockoutGuard(5, 15*time.Minute), m, service.AccountConfig{
			VerifyTTL:  time.Hour,
			ResetTTL:   time.Hour,
			AppBaseURL: "https://app.example",
			PublicURL:  "https://api.example",
		})
	hub := events.NewHub(16, 0)
	if budgets == nil {
		budgets = map[middleware.Class]middleware.Budget{}
	}
	h := NewRouter(RouterConfig{
		Accounts:       accounts,
		Events:         service.NewEventService(store, hub),
		Broadcaster:    hub,
		Verifier:       tokens,
		Limiter:        middleware.NewRateLimiter(budgets, time.Minute),
		Cookie:         handlers.CookieSettings{Name: "refresh_token"},
		AppBaseURL:     "https://app.example",
		AllowedOrigins: []string{"https://app.example"},
		RequestTimeout: 5 * time.Second,
	})
	return &apiEnv{handler: h, accounts: accounts, mailer: m, hub: hub}
}

type call struct {
	method, path string
	body         any
	bearer       string
	cookie       *http.Cookie
}

func (e *apiEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

// signup registers, verifies via the emailed link and logs in.
func (e *apiEnv) signup(t *testing.T, username string) (access string, cookie *http.Cookie) {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/register", body: domain.RegisterRequest{
		Username: username, Email: username + "@example.com", Password: testPassword,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e.accounts.Wait()

	link := e.mailer.link(t)
	rec = e.do(t, call{method: http.MethodGet, path: "/verify-email?" + link.RawQuery})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://app.example/verify-email/success", rec.Header().Get("Location"))

	rec = e.do(t, call{method: http.MethodPost, path: "/login", body: domain.LoginRequest{
		Username: username, Password: testPassword, RememberMe: true,
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[domain.LoginResponse](t, rec)
	return out.Token, refreshCookie(rec)
}

func TestRegisterConflictIsBadRequest(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "alice")

	rec := e.do(t, call{method: http.MethodPost, path: "/register", body: domain.RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: testPassword,
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "USERNAME_TAKEN", decodeBody[map[string]string](t, rec)["code"])
}

func TestLoginSetsRefreshCookie(t *testing.T) {
	e := newAPI(t, nil)
	_, cookie := e.signup(t, "alice")

	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), cookie.Expires, time.Minute)
}

func TestLoginErrorsAreUniform(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "alice")

	unknown := e.do(t, call{method: http.MethodPost, path: "/login", body: domain.LoginRequest{Username: "nobody", Password: testPassword}})
	wrong := e.do(t, call{method: http.MethodPost, path: "/login", body: domain.LoginRequest{Username: "alice", Password: "Wr0ng!pass"}})

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, unknown.Code, wrong.Code)
	assert.Equal(t, unknown.Body.String(), wrong.Body.String())
}

func TestRefreshRotationAndReuse(t *testing.T) {
	e := newAPI(t, nil)
	_, first := e.signup(t, "alice")

	rec := e.do(t, call{method: http.MethodPost, path: "/refresh", cookie: first})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := refreshCookie(rec)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)
	assert.NotEmpty(t, decodeBody[domain.TokenPair](t, rec).Token)

	// Presenting the superseded token is reuse and kills the family.
	rec = e.do(t, call{method: http.MethodPost, path: "/refresh", cookie: first})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/refresh", body: domain.RefreshRequest{RefreshToken: second.Value}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutClearsCookieAndRevokes(t *testing.T) {
	e := newAPI(t, nil)
	_, cookie := e.signup(t, "alice")

	rec := e.do(t, call{method: http.MethodPost, path: "/logout", cookie: cookie})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := refreshCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0)

	rec = e.do(t, call{method: http.MethodPost, path: "/refresh", cookie: cookie})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/logout"})
	assert.Equal(t, http.StatusOK, rec.Code, "logout without a token still succeeds")
}

func TestVerifyEmailFailureRedirect(t *testing.T) {
	e := newAPI(t, nil)
	rec := e.do(t, call{method: http.MethodGet, path: "/verify-email?tid=nope&t=nope"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://app.example/verify-email/failure", rec.Header().Get("Location"))
}

func TestForgotPasswordIsUniform(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "alice")

	known := e.do(t, call{method: http.MethodPost, path: "/forgot-password", body: domain.EmailRequest{Email: "alice@example.com"}})
	unknown := e.do(t, call{method: http.MethodPost, path: "/forgot-password", body: domain.EmailRequest{Email: "ghost@example.com"}})
	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())

	bad := e.do(t, call{method: http.MethodPost, path: "/forgot-password", body: domain.EmailRequest{Email: "not-an-email"}})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	e := newAPI(t, nil)
	e.signup(t, "alice")

	e.do(t, call{method: http.MethodPost, path: "/forgot-password", body: domain.EmailRequest{Email: "alice@example.com"}})
	e.accounts.Wait()
	q := e.mailer.link(t).Query()

	reset := domain.ResetPasswordRequest{
		TokenID: q.Get("tid"), Token: q.Get("t"),
		NewPassword: "N3w!password", ConfirmNewPassword: "N3w!password",
	}
	rec := e.do(t, call{method: http.MethodPost, path: "/reset-password", body: reset})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, call{method: http.MethodPost, path: "/reset-password", body: reset})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "reset tokens are single use")

	rec = e.do(t, call{method: http.MethodPost, path: "/login", body: domain.LoginRequest{Username: "alice", Password: "N3w!password"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUsersMe(t *testing.T) {
	e := newAPI(t, nil)
	access, _ := e.signup(t, "alice")

	rec := e.do(t, call{method: http.MethodGet, path: "/users/me"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/users/me", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "alice", me["username"])
	assert.NotContains(t, me, "passwordHash")
	assert.NotContains(t, me, "PasswordHash")

	rec = e.do(t, call{method: http.MethodPut, path: "/users/me", bearer: access, body: map[string]string{"username": "alice2"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice2", decodeBody[map[string]string](t, rec)["username"])
}

func newEventBody(id string) domain.CreateEventRequest {
	return domain.CreateEventRequest{
		ID:        id,
		Name:      "Standup",
		DateRange: domain.DateRangeInput{From: "2030-01-06T00:00:00Z", To: "2030-01-10T00:00:00Z"},
		Duration:  30,
		Timezone:  "Europe/Berlin",
	}
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	e := newAPI(t, nil)
	aliceTok, _ := e.signup(t, "alice")
	bobTok, _ := e.signup(t, "bob")

	rec := e.do(t, call{method: http.MethodPost, path: "/events", body: newEventBody("standup")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/events", bearer: aliceTok, body: newEventBody("standup")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.EventView](t, rec)
	assert.True(t, created.IsOwner)

	rec = e.do(t, call{method: http.MethodPost, path: "/events", bearer: aliceTok, body: newEventBody("standup")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, call{method: http.MethodGet, path: "/events/standup"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[domain.EventView](t, rec).IsOwner, "anonymous viewers are never owners")

	slot := "2030-01-07T09:00:00Z"
	rec = e.do(t, call{method: http.MethodPut, path: "/events/standup", bearer: bobTok,
		body: map[string]any{"availability": map[string]bool{slot: true}}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, call{method: http.MethodPost, path: "/events/standup/invite", bearer: aliceTok, body: map[string]string{"username": "bob"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, call{method: http.MethodPost, path: "/events/standup/invite", bearer: aliceTok, body: map[string]string{"username": "bob"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, call{method: http.MethodPut, path: "/events/standup", bearer: bobTok,
		body: map[string]any{"name": "Hijacked", "availability": map[string]bool{slot: true}}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "updated", decodeBody[map[string]string](t, rec)["status"])

	rec = e.do(t, call{method: http.MethodGet, path: "/events/standup", bearer: bobTok})
	view := decodeBody[domain.EventView](t, rec)
	assert.Equal(t, "Standup", view.Name)
	for _, p := range view.Participants {
		if p.Username == "bob" {
			assert.True(t, p.Availability[slot])
		}
	}

	rec = e.do(t, call{method: http.MethodGet, path: "/my-events", bearer: bobTok})
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]domain.EventSummary](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].ParticipantCount)

	rec = e.do(t, call{method: http.MethodPost, path: "/events/standup/leave", bearer: bobTok})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, call{method: http.MethodPost, path: "/events/standup/leave", bearer: bobTok})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, call{method: http.MethodDelete, path: "/events/standup", bearer: bobTok})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = e.do(t, call{method: http.MethodDelete, path: "/events/standup", bearer: aliceTok})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, call{method: http.MethodGet, path: "/events/standup"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EVENT_NOT_FOUND", decodeBody[map[string]string](t, rec)["code"])
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	e := newAPI(t, map[middleware.Class]middleware.Budget{
		middleware.ClassAuth: {RPS: 0.0001, Burst: 2},
	})
	body := domain.LoginRequest{Username: "nobody", Password: testPassword}

	assert.Equal(t, http.StatusUnauthorized, e.do(t, call{method: http.MethodPost, path: "/login", body: body}).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, call{method: http.MethodPost, path: "/login", body: body}).Code)
	rec := e.do(t, call{method: http.MethodPost, path: "/login", body: body})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeBody[map[string]string](t, rec)["code"])

	assert.Equal(t, http.StatusOK, e.do(t, call{method: http.MethodGet, path: "/healthz"}).Code)
}

func TestStreamDeliversUpdates(t *testing.T) {
	e := newAPI(t, nil)
	aliceTok, _ := e.signup(t, "alice")
	rec := e.do(t, call{method: http.MethodPost, path: "/events", bearer: aliceTok, body: newEventBody("standup")})
	require.Equal(t, http.StatusCreated, rec.Code)

	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/missing/stream?token=" + aliceTok)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/events/standup/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/standup/stream?token="+aliceTok, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return e.hub.Subscribers("standup") == 1 }, time.Second, 10*time.Millisecond)

	rec = e.do(t, call{method: http.MethodPut, path: "/events/standup", bearer: aliceTok, body: map[string]any{"name": "Retro"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var frame []string
	for len(frame) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line != "" {
			frame = append(frame, line)
		}
	}
	assert.Equal(t, "event: "+events.TypeEventUpdated, frame[0])
	assert.Contains(t, frame[1], `"eventId":"standup"`)
}
