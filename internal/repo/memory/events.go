package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

type eventsRepo struct{ s *Store }

func copyEvent(ev domain.Event) *domain.Event {
	ev.DisabledSlots = append([]string{}, ev.DisabledSlots...)
	return &ev
}

func (r *eventsRepo) Create(ctx context.Context, ev *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	if _, ok := d.events[ev.ID]; ok {
		return &repo.DuplicateError{Field: "id"}
	}
	if _, ok := d.users[ev.CreatorID]; !ok {
		return repo.ErrNotFound
	}
	now := time.Now().UTC()
	ev.CreatedAt, ev.UpdatedAt = now, now
	d.events[ev.ID] = *copyEvent(*ev)
	return nil
}

func (r *eventsRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	ev, ok := r.s.sh.d.events[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return copyEvent(ev), nil
}

func (r *eventsRepo) GetForUpdate(ctx context.Context, id string) (*domain.Event, error) {
	return r.Get(ctx, id)
}

func (r *eventsRepo) Update(ctx context.Context, ev *domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	cur, ok := r.s.sh.d.events[ev.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Name = ev.Name
	cur.DateRange = ev.DateRange
	cur.Duration = ev.Duration
	cur.Timezone = ev.Timezone
	cur.DisabledSlots = append([]string{}, ev.DisabledSlots...)
	cur.UpdatedAt = time.Now().UTC()
	r.s.sh.d.events[ev.ID] = cur
	ev.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r *eventsRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	if _, ok := r.s.sh.d.events[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.s.sh.d.events, id)
	delete(r.s.sh.d.participants, id)
	return nil
}

func (r *eventsRepo) ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	rows := d.participants[eventID]
	out := make([]domain.Participant, 0, len(rows))
	for _, p := range rows {
		p.Availability = copyAvailability(p.Availability)
		p.Username = d.users[p.UserID].Username
		out = append(out, p)
	}
	return out, nil
}

func indexOf(rows []domain.Participant, userID string) int {
	for i, p := range rows {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *eventsRepo) IsParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.s.lock()()
	return indexOf(r.s.sh.d.participants[eventID], userID) >= 0, nil
}

func (r *eventsRepo) AddParticipant(ctx context.Context, eventID, userID string, avail domain.Availability) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	if _, ok := d.events[eventID]; !ok {
		return false, repo.ErrNotFound
	}
	if _, ok := d.users[userID]; !ok {
		return false, repo.ErrNotFound
	}
	rows := d.participants[eventID]
	if indexOf(rows, userID) >= 0 {
		return false, nil
	}
	now := time.Now().UTC()
	d.participants[eventID] = append(rows, domain.Participant{
		ID:           uuid.NewString(),
		EventID:      eventID,
		UserID:       userID,
		Availability: copyAvailability(avail),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	return true, nil
}

func (r *eventsRepo) RemoveParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer r.s.lock()()
	rows := r.s.sh.d.participants[eventID]
	i := indexOf(rows, userID)
	if i < 0 {
		return false, nil
	}
	r.s.sh.d.participants[eventID] = append(rows[:i:i], rows[i+1:]...)
	return true, nil
}

func (r *eventsRepo) RemoveAllParticipants(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	delete(r.s.sh.d.participants, eventID)
	return nil
}

func (r *eventsRepo) SetAvailability(ctx context.Context, eventID, userID string, avail domain.Availability) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer r.s.lock()()
	rows := r.s.sh.d.participants[eventID]
	i := indexOf(rows, userID)
	if i < 0 {
		return repo.ErrNotFound
	}
	rows[i].Availability = copyAvailability(avail)
	rows[i].UpdatedAt = time.Now().UTC()
	return nil
}

func (r *eventsRepo) ListForUser(ctx context.Context, userID string) ([]domain.EventSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.s.lock()()
	d := r.s.sh.d
	out := []domain.EventSummary{}
	for id, ev := range d.events {
		rows := d.participants[id]
		if ev.CreatorID != userID && indexOf(rows, userID) < 0 {
			continue
		}
		out = append(out, domain.EventSummary{
			ID:               ev.ID,
			Name:             ev.Name,
			CreatorID:        ev.CreatorID,
			DateRange:        ev.DateRange,
			Duration:         ev.Duration,
			Timezone:         ev.Timezone,
			ParticipantCount: len(rows),
			IsOwner:          ev.CreatorID == userID,
			CreatedAt:        ev.CreatedAt,
			UpdatedAt:        ev.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
