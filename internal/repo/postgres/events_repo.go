package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
)

const eventColumns = `id, creator_id, name, date_from, date_to, duration, timezone, disabled_slots, created_at, updated_at`

type EventsRepo struct{ db DBTX }

func scanEvent(row interface{ Scan(...any) error }) (*domain.Event, error) {
	var ev domain.Event
	if err := row.Scan(
		&ev.ID, &ev.CreatorID, &ev.Name, &ev.DateRange.From, &ev.DateRange.To,
		&ev.Duration, &ev.Timezone, &ev.DisabledSlots, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	if ev.DisabledSlots == nil {
		ev.DisabledSlots = []string{}
	}
	return &ev, nil
}

func slots(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *EventsRepo) Create(ctx context.Context, ev *domain.Event) error {
	const q = `
INSERT INTO events (id, creator_id, name, date_from, date_to, duration, timezone, disabled_slots)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING created_at, updated_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q,
		ev.ID, ev.CreatorID, ev.Name, ev.DateRange.From, ev.DateRange.To, ev.Duration, ev.Timezone, slots(ev.DisabledSlots),
	).Scan(&ev.CreatedAt, &ev.UpdatedAt))
}

func (r *EventsRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id))
}

func (r *EventsRepo) GetForUpdate(ctx context.Context, id string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1 FOR UPDATE`, id))
}

func (r *EventsRepo) Update(ctx context.Context, ev *domain.Event) error {
	const q = `
UPDATE events
SET name=$2, date_from=$3, date_to=$4, duration=$5, timezone=$6, disabled_slots=$7, updated_at=now()
WHERE id=$1
RETURNING updated_at`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return mapErr(r.db.QueryRow(ctx, q,
		ev.ID, ev.Name, ev.DateRange.From, ev.DateRange.To, ev.Duration, ev.Timezone, slots(ev.DisabledSlots),
	).Scan(&ev.UpdatedAt))
}

func (r *EventsRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *EventsRepo) ListParticipants(ctx context.Context, eventID string) ([]domain.Participant, error) {
	const q = `
SELECT p.id, p.event_id, p.user_id, u.username, p.availability, p.created_at, p.updated_at
FROM event_participants p
JOIN users u ON u.id = p.user_id
WHERE p.event_id=$1
ORDER BY p.created_at, p.id`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, q, eventID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var (
			p   domain.Participant
			raw []byte
		)
		if err := rows.Scan(&p.ID, &p.EventID, &p.UserID, &p.Username, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapErr(err)
		}
		p.Availability = domain.Availability{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Availability); err != nil {
				return nil, fmt.Errorf("decode availability: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *EventsRepo) IsParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_participants WHERE event_id=$1 AND user_id=$2)`,
		eventID, userID,
	).Scan(&ok)
	return ok, mapErr(err)
}

func encodeAvailability(avail domain.Availability) ([]byte, error) {
	if avail == nil {
		avail = domain.Availability{}
	}
	return json.Marshal(avail)
}

func (r *EventsRepo) AddParticipant(ctx context.Context, eventID, userID string, avail domain.Availability) (bool, error) {
	raw, err := encodeAvailability(avail)
	if err != nil {
		return false, err
	}
	const q = `
INSERT INTO event_participants (id, event_id, user_id, availability)
VALUES ($1,$2,$3,$4)
ON CONFLICT (event_id, user_id) DO NOTHING`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, q, uuid.NewString(), eventID, userID, raw)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventsRepo) RemoveParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx, `DELETE FROM event_participants WHERE event_id=$1 AND user_id=$2`, eventID, userID)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EventsRepo) RemoveAllParticipants(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err := r.db.Exec(ctx, `DELETE FROM event_participants WHERE event_id=$1`, eventID)
	return mapErr(err)
}

func (r *EventsRepo) SetAvailability(ctx context.Context, eventID, userID string, avail domain.Availability) error {
	raw, err := encodeAvailability(avail)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := r.db.Exec(ctx,
		`UPDATE event_participants SET availability=$3, updated_at=now() WHERE event_id=$1 AND user_id=$2`,
		eventID, userID, raw,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *EventsRepo) ListForUser(ctx context.Context, userID string) ([]domain.EventSummary, error) {
	const q = `
SELECT e.id, e.name, e.creator_id, e.date_from, e.date_to, e.duration, e.timezone,
       (SELECT COUNT(*) FROM event_participants c WHERE c.event_id = e.id),
       e.created_at, e.updated_at
FROM events e
WHERE e.creator_id = $1
   OR EXISTS (SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = $1)
ORDER BY e.updated_at DESC, e.id`
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []domain.EventSummary{}
	for rows.Next() {
		var s domain.EventSummary
		if err := rows.Scan(
			&s.ID, &s.Name, &s.CreatorID, &s.DateRange.From, &s.DateRange.To, &s.Duration, &s.Timezone,
			&s.ParticipantCount, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, mapErr(err)
		}
		s.IsOwner = s.CreatorID == userID
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}
