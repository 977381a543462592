package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/diagnosis/slotgrid/internal/domain"
	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/pkg/events"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

type EventService interface {
	Create(ctx context.Context, creatorID string, req *domain.CreateEventRequest) (*domain.EventView, error)
	Get(ctx context.Context, eventID, viewerID string) (*domain.EventView, error)
	Update(ctx context.Context, eventID, callerID string, req *domain.UpdateEventRequest) error
	Invite(ctx context.Context, eventID, byUserID, username string) error
	Join(ctx context.Context, eventID, userID string) error
	Leave(ctx context.Context, eventID, userID string) error
	Delete(ctx context.Context, eventID, byUserID string) error
	ListForUser(ctx context.Context, userID string) ([]domain.EventSummary, error)
	// Exists reports whether an event is present; the stream endpoint uses it.
	Exists(ctx context.Context, eventID string) (bool, error)
}

type eventService struct {
	store       repo.Store
	broadcaster events.Broadcaster
}

func NewEventService(store repo.Store, broadcaster events.Broadcaster) EventService {
	return &eventService{store: store, broadcaster: broadcaster}
}

func (s *eventService) publish(ctx context.Context, msg events.Message) {
	if err := s.broadcaster.Publish(ctx, msg.EventID, msg); err != nil {
		logger.WarnContext(ctx, "Failed to publish event change", "event_id", msg.EventID, "type", msg.Type, "error", err)
	}
}

func loadEvent(ctx context.Context, store repo.Store, eventID string, forUpdate bool) (*domain.Event, error) {
	var (
		ev  *domain.Event
		err error
	)
	if forUpdate {
		ev, err = store.Events().GetForUpdate(ctx, eventID)
	} else {
		ev, err = store.Events().Get(ctx, eventID)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return ev, nil
}

func (s *eventService) view(ctx context.Context, store repo.Store, ev *domain.Event, viewerID string) (*domain.EventView, error) {
	ps, err := store.Events().ListParticipants(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	v := domain.NewEventView(ev, ps, viewerID)
	return &v, nil
}

func (s *eventService) Create(ctx context.Context, creatorID string, req *domain.CreateEventRequest) (*domain.EventView, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	} else if err := domain.ValidateEventID(id); err != nil {
		return nil, err
	}
	dr, err := domain.ValidateEventFields(req.Name, req.DateRange, req.Duration, req.Timezone)
	if err != nil {
		return nil, err
	}
	disabled, err := domain.NormalizeSlots(req.DisabledSlots)
	if err != nil {
		return nil, err
	}

	ev := &domain.Event{
		ID:            id,
		CreatorID:     creatorID,
		Name:          req.Name,
		DateRange:     dr,
		Duration:      req.Duration,
		Timezone:      req.Timezone,
		DisabledSlots: disabled,
	}
	var view *domain.EventView
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		if err := tx.Events().Create(ctx, ev); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return domain.ErrEventExists
			}
			return fmt.Errorf("failed to create event: %w", err)
		}
		if _, err := tx.Events().AddParticipant(ctx, ev.ID, creatorID, nil); err != nil {
			return fmt.Errorf("failed to add creator: %w", err)
		}
		for _, uid := range req.Participants {
			if err := addKnownParticipant(ctx, tx, ev.ID, uid, nil); err != nil {
				return err
			}
		}
		var err error
		view, err = s.view(ctx, tx, ev, creatorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "event created", "event_id", ev.ID, "user_id", creatorID)
	return view, nil
}

// addKnownParticipant adds a user by id, ignoring duplicates. An unknown id
// is a validation error.
func addKnownParticipant(ctx context.Context, tx repo.Store, eventID, userID string, avail domain.Availability) error {
	if _, err := tx.Users().FindByID(ctx, userID); errors.Is(err, repo.ErrNotFound) {
		return domain.Validation(domain.CodeUnknownUser, "unknown participant: "+userID)
	} else if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}
	if _, err := tx.Events().AddParticipant(ctx, eventID, userID, avail); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (s *eventService) Get(ctx context.Context, eventID, viewerID string) (*domain.EventView, error) {
	ev, err := loadEvent(ctx, s.store, eventID, false)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.store, ev, viewerID)
}

func (s *eventService) Exists(ctx context.Context, eventID string) (bool, error) {
	_, err := loadEvent(ctx, s.store, eventID, false)
	if errors.Is(err, domain.ErrEventNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update chooses the write the caller is entitled to: the creator replaces
// the event, a participant replaces only their own availability.
func (s *eventService) Update(ctx context.Context, eventID, callerID string, req *domain.UpdateEventRequest) error {
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		ev, err := loadEvent(ctx, tx, eventID, true)
		if err != nil {
			return err
		}

		var mutation domain.EventMutation
		if ev.CreatorID == callerID {
			m, err := req.AsReplace(ev)
			if err != nil {
				return err
			}
			mutation = m
		} else {
			member, err := tx.Events().IsParticipant(ctx, eventID, callerID)
			if err != nil {
				return fmt.Errorf("failed to check participant: %w", err)
			}
			if !member {
				return domain.ErrForbidden
			}
			m, ok := req.AsOwnAvailability(callerID)
			if !ok {
				return nil
			}
			mutation = m
		}

		switch m := mutation.(type) {
		case domain.ReplaceEvent:
			err = applyReplace(ctx, tx, ev, m)
		case domain.UpdateOwnAvailability:
			err = applyOwnAvailability(ctx, tx, ev, m)
		default:
			err = fmt.Errorf("unknown event mutation %T", mutation)
		}
		changed = err == nil
		return err
	})
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, events.Updated(eventID))
	}
	return nil
}

func applyReplace(ctx context.Context, tx repo.Store, ev *domain.Event, m domain.ReplaceEvent) error {
	ev.Name = m.Name
	ev.DateRange = m.DateRange
	ev.Duration = m.Duration
	ev.Timezone = m.Timezone
	ev.DisabledSlots = m.DisabledSlots
	if err := tx.Events().Update(ctx, ev); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	if m.Roster != nil {
		if err := tx.Events().RemoveAllParticipants(ctx, ev.ID); err != nil {
			return fmt.Errorf("failed to clear participants: %w", err)
		}
		creatorListed := false
		for _, p := range m.Roster {
			if p.UserID == ev.CreatorID {
				creatorListed = true
			}
			avail, err := p.Availability.Prune(ev.DisabledSlots)
			if err != nil {
				return err
			}
			if err := addKnownParticipant(ctx, tx, ev.ID, p.UserID, avail); err != nil {
				return err
			}
		}
		if !creatorListed {
			if _, err := tx.Events().AddParticipant(ctx, ev.ID, ev.CreatorID, nil); err != nil {
				return fmt.Errorf("failed to keep creator: %w", err)
			}
		}
	}

	if m.CreatorAvailability != nil {
		avail, err := m.CreatorAvailability.Prune(ev.DisabledSlots)
		if err != nil {
			return err
		}
		if _, err := tx.Events().AddParticipant(ctx, ev.ID, ev.CreatorID, nil); err != nil {
			return fmt.Errorf("failed to add creator: %w", err)
		}
		if err := tx.Events().SetAvailability(ctx, ev.ID, ev.CreatorID, avail); err != nil {
			return fmt.Errorf("failed to set availability: %w", err)
		}
	}

	return reprune(ctx, tx, ev)
}

// reprune removes newly disabled slots from every stored availability.
func reprune(ctx context.Context, tx repo.Store, ev *domain.Event) error {
	ps, err := tx.Events().ListParticipants(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	for _, p := range ps {
		pruned, err := p.Availability.Prune(ev.DisabledSlots)
		if err != nil {
			return err
		}
		if len(pruned) == len(p.Availability) {
			continue
		}
		if err := tx.Events().SetAvailability(ctx, ev.ID, p.UserID, pruned); err != nil {
			return fmt.Errorf("failed to prune availability: %w", err)
		}
	}
	return nil
}

func applyOwnAvailability(ctx context.Context, tx repo.Store, ev *domain.Event, m domain.UpdateOwnAvailability) error {
	avail, err := m.Availability.Prune(ev.DisabledSlots)
	if err != nil {
		return err
	}
	if err := tx.Events().SetAvailability(ctx, ev.ID, m.UserID, avail); err != nil {
		return fmt.Errorf("failed to set availability: %w", err)
	}
	return nil
}

func (s *eventService) Invite(ctx context.Context, eventID, byUserID, username string) error {
	added := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		ev, err := loadEvent(ctx, tx, eventID, false)
		if err != nil {
			return err
		}
		if ev.CreatorID != byUserID {
			return domain.ErrForbidden
		}
		u, err := tx.Users().FindByUsername(ctx, username)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find invitee: %w", err)
		}
		ok, err := tx.Events().AddParticipant(ctx, eventID, u.ID, nil)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		if !ok {
			return domain.ErrAlreadyParticipant
		}
		added = true
		return nil
	})
	if err != nil {
		return err
	}
	if added {
		s.publish(ctx, events.Updated(eventID))
	}
	return nil
}

func (s *eventService) Join(ctx context.Context, eventID, userID string) error {
	if _, err := loadEvent(ctx, s.store, eventID, false); err != nil {
		return err
	}
	added, err := s.store.Events().AddParticipant(ctx, eventID, userID, nil)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to join event: %w", err)
	}
	if added {
		s.publish(ctx, events.Updated(eventID))
	}
	return nil
}

func (s *eventService) Leave(ctx context.Context, eventID, userID string) error {
	if _, err := loadEvent(ctx, s.store, eventID, false); err != nil {
		return err
	}
	removed, err := s.store.Events().RemoveParticipant(ctx, eventID, userID)
	if err != nil {
		return fmt.Errorf("failed to leave event: %w", err)
	}
	if !removed {
		return domain.ErrNotParticipant
	}
	s.publish(ctx, events.Updated(eventID))
	return nil
}

func (s *eventService) Delete(ctx context.Context, eventID, byUserID string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repo.Store) error {
		ev, err := loadEvent(ctx, tx, eventID, true)
		if err != nil {
			return err
		}
		if ev.CreatorID != byUserID {
			return domain.ErrForbidden
		}
		if err := tx.Events().Delete(ctx, eventID); err != nil {
			return fmt.Errorf("failed to delete event: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "event deleted", "event_id", eventID, "user_id", byUserID)
	s.publish(ctx, events.Deleted(eventID))
	return nil
}

func (s *eventService) ListForUser(ctx context.Context, userID string) ([]domain.EventSummary, error) {
	list, err := s.store.Events().ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return list, nil
}
