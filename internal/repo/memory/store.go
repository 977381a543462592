// Package memory is an in-process implementation of repo.Store. It backs
// DATABASE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sync"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

type data struct {
	users        map[string]domain.User
	refresh      map[string]domain.RefreshToken
	emailTokens  map[string]domain.EmailToken
	events       map[string]domain.Event
	participants map[string][]domain.Participant // event id -> rows in join order
	attempts     []domain.LoginAttempt
}

func newData() *data {
	return &data{
		users:        make(map[string]domain.User),
		refresh:      make(map[string]domain.RefreshToken),
		emailTokens:  make(map[string]domain.EmailToken),
		events:       make(map[string]domain.Event),
		participants: make(map[string][]domain.Participant),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.refresh {
		c.refresh[k] = v
	}
	for k, v := range d.emailTokens {
		c.emailTokens[k] = v
	}
	for k, v := range d.events {
		v.DisabledSlots = append([]string(nil), v.DisabledSlots...)
		c.events[k] = v
	}
	for ev, rows := range d.participants {
		cs := make([]domain.Participant, len(rows))
		for i, p := range rows {
			p.Availability = copyAvailability(p.Availability)
			cs[i] = p
		}
		c.participants[ev] = cs
	}
	c.attempts = append([]domain.LoginAttempt(nil), d.attempts...)
	return c
}

func copyAvailability(a domain.Availability) domain.Availability {
	out := make(domain.Availability, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

type shared struct {
	txMu sync.Mutex // held for the whole of a transaction
	mu   sync.Mutex // guards d
	d    *data
}

// Store is safe for concurrent use. Transactions are serialised and roll
// back by restoring a snapshot.
type Store struct {
	sh   *shared
	inTx bool
}

func NewStore() *Store {
	return &Store{sh: &shared{d: newData()}}
}

// lock acquires the store for one operation. Outside a transaction it also
// waits for any running transaction to finish.
func (s *Store) lock() func() {
	if !s.inTx {
		s.sh.txMu.Lock()
	}
	s.sh.mu.Lock()
	return func() {
		s.sh.mu.Unlock()
		if !s.inTx {
			s.sh.txMu.Unlock()
		}
	}
}

func (s *Store) Users() repo.UsersRepo                 { return &usersRepo{s: s} }
func (s *Store) RefreshTokens() repo.RefreshTokensRepo { return &refreshRepo{s: s} }
func (s *Store) EmailTokens() repo.EmailTokensRepo     { return &emailRepo{s: s} }
func (s *Store) Events() repo.EventsRepo               { return &eventsRepo{s: s} }
func (s *Store) LoginAttempts() repo.LoginAttemptsRepo { return &attemptsRepo{s: s} }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repo.Store) error) error {
	if !s.inTx {
		s.sh.txMu.Lock()
		defer s.sh.txMu.Unlock()
	}

	s.sh.mu.Lock()
	snapshot := s.sh.d.clone()
	s.sh.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, &Store{sh: s.sh, inTx: true}); err != nil {
		s.sh.mu.Lock()
		s.sh.d = snapshot
		s.sh.mu.Unlock()
		return err
	}
	return nil
}
