package service

import (
	"context"
	"html"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo/memory"
	"github.com/diagnosis/slotgrid/pkg/events"
)

const testPassword = "Passw0rd!"

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no email sent")
	return m.sent[len(m.sent)-1]
}

var hrefRegex = regexp.MustCompile(`href="([^"]+)"`)

// linkToken extracts tid and t from the link in an email body.
func linkToken(t *testing.T, body string) (tokenID, raw string) {
	t.Helper()
	m := hrefRegex.FindStringSubmatch(body)
	require.Len(t, m, 2, "no link in email")
	u, err := url.Parse(html.UnescapeString(m[1]))
	require.NoError(t, err)
	return u.Query().Get("tid"), u.Query().Get("t")
}

type testEnv struct {
	store    *memory.Store
	tokens   *TokenIssuer
	email    *EmailTokenService
	lockout  *LockoutGuard
	mailer   *recordingMailer
	accounts AccountService
	hub      *events.Hub
	events   EventService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	env := &testEnv{
		store: store,
		tokens: NewTokenIssuer(store, TokenConfig{
			Secret:             "test-secret-0123456789",
			AccessTTL:          15 * time.Minute,
			RefreshTTLRemember: 30 * 24 * time.Hour,
			RefreshTTLSession:  24 * time.Hour,
		}),
		email:   NewEmailTokenService(),
		lockout: NewLockoutGuard(5, 15*time.Minute),
		mailer:  &recordingMailer{},
		hub:     events.NewHub(16, 0),
	}
	env.accounts = NewAccountService(store, env.tokens, env.email, env.lockout, env.mailer, AccountConfig{
		VerifyTTL:  48 * time.Hour,
		ResetTTL:   15 * time.Minute,
		AppBaseURL: "https://app.example",
		PublicURL:  "https://api.example",
	})
	env.events = NewEventService(store, env.hub)
	return env
}

// registerVerified registers a user and redeems the verification email.
func (e *testEnv) registerVerified(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	res, err := e.accounts.Register(ctx, &domain.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	e.accounts.Wait()

	tid, raw := linkToken(t, e.mailer.last(t).body)
	require.NoError(t, e.accounts.VerifyEmail(ctx, tid, raw))
	return res.ID
}
